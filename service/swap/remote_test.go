package swap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/quote"
)

type stubQuoteClient struct {
	resp *client.QuoteResponse
	last client.QuoteRequest
}

func (s *stubQuoteClient) GetSwapQuote(ctx context.Context, req client.QuoteRequest) (*client.QuoteResponse, error) {
	s.last = req
	return s.resp, nil
}

func TestRemoteQuoter(t *testing.T) {
	stub := &stubQuoteClient{resp: &client.QuoteResponse{
		EstimatedOutput: "0.009950",
		Fee:             "0.000000500",
		SlippageBps:     50,
		FeeBreakdown:    &client.FeeBreakdown{Total: "0.002144780", AccountsToCreate: 1},
	}}

	q, err := RemoteQuoter{Client: stub}.Quote(context.Background(), quote.Request{
		From:                "SOL",
		To:                  "USDC",
		AmountRaw:           100000,
		SlippageBps:         50,
		IncludeFeeBreakdown: true,
		Owner:               "wallet",
	})
	require.NoError(t, err)

	assert.Equal(t, "wallet", stub.last.WalletAddress)
	assert.True(t, stub.last.IncludeFeeBreakdown)
	assert.Equal(t, "SOL", q.FromAsset)
	assert.EqualValues(t, 100000, q.InputAmountRaw)
	assert.Equal(t, "0.009950", q.EstimatedOutput)
	require.NotNil(t, q.FeeBreakdown)
	assert.Equal(t, 1, q.FeeBreakdown.AccountsToCreate)
}

package swap

import (
	"context"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/quote"
)

// QuoteClient is the backend quote endpoint.
type QuoteClient interface {
	GetSwapQuote(ctx context.Context, req client.QuoteRequest) (*client.QuoteResponse, error)
}

// RemoteQuoter prices swaps through the backend instead of the local engine.
type RemoteQuoter struct {
	Client QuoteClient
}

func (r RemoteQuoter) Quote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	resp, err := r.Client.GetSwapQuote(ctx, client.QuoteRequest{
		FromAsset:           req.From,
		ToAsset:             req.To,
		Amount:              req.AmountRaw,
		SlippageBps:         req.SlippageBps,
		IncludeFeeBreakdown: req.IncludeFeeBreakdown,
		WalletAddress:       req.Owner,
	})
	if err != nil {
		return nil, err
	}

	q := &quote.Quote{
		FromAsset:          resp.FromAsset,
		ToAsset:            resp.ToAsset,
		InputAmountRaw:     resp.InputAmount,
		EstimatedOutput:    resp.EstimatedOutput,
		MinimumOutput:      resp.MinimumOutput,
		ExchangeRate:       resp.ExchangeRate,
		Fee:                resp.Fee,
		PriceImpactPercent: resp.PriceImpactPercent,
		SlippageBps:        resp.SlippageBps,
		RouteDescription:   resp.RouteDescription,
	}
	if q.FromAsset == "" {
		q.FromAsset = req.From
	}
	if q.ToAsset == "" {
		q.ToAsset = req.To
	}
	if q.InputAmountRaw == 0 {
		q.InputAmountRaw = req.AmountRaw
	}
	if fb := resp.FeeBreakdown; fb != nil {
		q.FeeBreakdown = &quote.FeeBreakdown{
			TradingFee:         fb.TradingFee,
			BaseTransactionFee: fb.BaseTransactionFee,
			AccountCreationFee: fb.AccountCreationFee,
			PriorityFee:        fb.PriorityFee,
			Total:              fb.Total,
			AccountsToCreate:   fb.AccountsToCreate,
		}
	}
	return q, nil
}

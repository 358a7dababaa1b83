package quote

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/swapper/service/swaperr"
)

type fakeAccounts struct {
	exists bool
	err    error
	calls  int
}

func (f *fakeAccounts) AccountExists(ctx context.Context, owner, mint solana.PublicKey) (bool, error) {
	f.calls++
	return f.exists, f.err
}

const testOwner = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

func TestQuote_Scenario(t *testing.T) {
	e := NewEngine(EngineConfig{})

	q, err := e.Quote(context.Background(), Request{
		From:                "SOL",
		To:                  "USDC",
		AmountRaw:           100000,
		SlippageBps:         50,
		IncludeFeeBreakdown: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "SOL", q.FromAsset)
	assert.Equal(t, "USDC", q.ToAsset)
	assert.Equal(t, uint64(100000), q.InputAmountRaw)
	assert.Equal(t, "0.009950", q.EstimatedOutput)
	assert.Equal(t, "0.009900", q.MinimumOutput)
	assert.Equal(t, "0.099500", q.ExchangeRate)
	assert.Equal(t, "0.000000500", q.Fee)
	assert.Equal(t, "0.000000", q.PriceImpactPercent)
	assert.Equal(t, 50, q.SlippageBps)
	assert.Equal(t, "SOL -> USDC (direct)", q.RouteDescription)

	require.NotNil(t, q.FeeBreakdown)
	fb := q.FeeBreakdown
	assert.Equal(t, "0.000000500", fb.TradingFee)
	assert.Equal(t, "0.000005000", fb.BaseTransactionFee)
	assert.Equal(t, "0.000100000", fb.PriorityFee)
	assert.Equal(t, "0.002039280", fb.AccountCreationFee)
	assert.Equal(t, "0.002144780", fb.Total)
	assert.Equal(t, 1, fb.AccountsToCreate)
}

func TestQuote_SlippageDoesNotChangeEstimate(t *testing.T) {
	e := NewEngine(EngineConfig{})
	ctx := context.Background()

	tight, err := e.Quote(ctx, Request{From: "SOL", To: "USDC", AmountRaw: 5_000_000_000, SlippageBps: 0})
	require.NoError(t, err)
	loose, err := e.Quote(ctx, Request{From: "SOL", To: "USDC", AmountRaw: 5_000_000_000, SlippageBps: 300})
	require.NoError(t, err)

	assert.Equal(t, tight.EstimatedOutput, loose.EstimatedOutput)
	assert.Equal(t, tight.EstimatedOutput, tight.MinimumOutput)
	assert.Equal(t, "497.500000", tight.EstimatedOutput)
	assert.Equal(t, "482.575000", loose.MinimumOutput)
	assert.Nil(t, tight.FeeBreakdown)
}

func TestQuote_PriceImpactBoundedAndMonotonic(t *testing.T) {
	e := NewEngine(EngineConfig{})
	ctx := context.Background()

	prev := decimal.Zero
	for _, raw := range []uint64{
		1, 100, 100000, 1_000_000_000, 500_000_000_000, 1_000_000_000_000,
		19_999_000_000_000, 20_000_000_000_000, 50_000_000_000_000, 1 << 62,
	} {
		q, err := e.Quote(ctx, Request{From: "SOL", To: "USDC", AmountRaw: raw})
		require.NoError(t, err)

		impact := decimal.RequireFromString(q.PriceImpactPercent)
		assert.True(t, impact.GreaterThanOrEqual(decimal.Zero), "raw %d", raw)
		assert.True(t, impact.LessThanOrEqual(decimal.NewFromInt(2)), "raw %d", raw)
		assert.True(t, impact.GreaterThanOrEqual(prev), "impact decreased at raw %d", raw)
		prev = impact
	}

	q, err := e.Quote(ctx, Request{From: "SOL", To: "USDC", AmountRaw: 1_000_000_000_000})
	require.NoError(t, err)
	assert.Equal(t, "0.100000", q.PriceImpactPercent)
	assert.Equal(t, "2.000000", prev.StringFixed(6))
}

func TestQuote_FeeIsHalfPercentOfAmount(t *testing.T) {
	e := NewEngine(EngineConfig{})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		raw := uint64(rng.Int63n(1<<50)) + 1
		for _, pair := range [][2]string{{"SOL", "USDC"}, {"USDC", "SOL"}} {
			q, err := e.Quote(ctx, Request{From: pair[0], To: pair[1], AmountRaw: raw})
			require.NoError(t, err)

			from, err := e.Catalog().Lookup(pair[0])
			require.NoError(t, err)
			amount := decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -from.Decimals)
			want := amount.Mul(decimal.RequireFromString("0.005")).StringFixed(FeeDigits(from))
			assert.Equal(t, want, q.Fee, "raw %d %s->%s", raw, pair[0], pair[1])
		}
	}
}

func TestQuote_FeeDigits(t *testing.T) {
	e := NewEngine(EngineConfig{})
	ctx := context.Background()

	tests := []struct {
		from, to string
		raw      uint64
		want     string
	}{
		{"USDC", "SOL", 1_000_000, "0.005000"},
		{"USDT", "USDC", 1_000, "0.000005"},
		{"SOL", "USDC", 100_000, "0.000000500"},
		{"SOL", "USDC", 1_000_000_000, "0.005000000"},
	}
	for _, tt := range tests {
		q, err := e.Quote(ctx, Request{From: tt.from, To: tt.to, AmountRaw: tt.raw})
		require.NoError(t, err)
		assert.Equal(t, tt.want, q.Fee, "%s %d", tt.from, tt.raw)
	}

	assert.Equal(t, int32(6), FeeDigits(Asset{Decimals: 2}))
	assert.Equal(t, int32(9), FeeDigits(Asset{Decimals: 9}))
}

func TestQuote_Errors(t *testing.T) {
	e := NewEngine(EngineConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"zero amount", Request{From: "SOL", To: "USDC", AmountRaw: 0}, swaperr.ErrInvalidAmount},
		{"negative slippage", Request{From: "SOL", To: "USDC", AmountRaw: 1, SlippageBps: -1}, swaperr.ErrInvalidAmount},
		{"slippage over 100%", Request{From: "SOL", To: "USDC", AmountRaw: 1, SlippageBps: 10001}, swaperr.ErrInvalidAmount},
		{"unknown from", Request{From: "DOGE", To: "USDC", AmountRaw: 1}, swaperr.ErrAssetNotFound},
		{"unknown to", Request{From: "SOL", To: "nope", AmountRaw: 1}, swaperr.ErrAssetNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := e.Quote(ctx, tt.req)
			require.Error(t, err)
			assert.Nil(t, q)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestQuote_ResolvesByMintAndCase(t *testing.T) {
	e := NewEngine(EngineConfig{})

	q, err := e.Quote(context.Background(), Request{From: NativeMint, To: "usdc", AmountRaw: 1_000_000_000})
	require.NoError(t, err)
	assert.Equal(t, "SOL", q.FromAsset)
	assert.Equal(t, "USDC", q.ToAsset)
	assert.Equal(t, "99.500000", q.EstimatedOutput)
}

func TestFeeBreakdown_AccountCreation(t *testing.T) {
	ctx := context.Background()

	t.Run("existing token account", func(t *testing.T) {
		accounts := &fakeAccounts{exists: true}
		e := NewEngine(EngineConfig{Accounts: accounts})
		q, err := e.Quote(ctx, Request{From: "SOL", To: "USDC", AmountRaw: 100000, IncludeFeeBreakdown: true, Owner: testOwner})
		require.NoError(t, err)
		assert.Equal(t, 0, q.FeeBreakdown.AccountsToCreate)
		assert.Equal(t, "0.000000000", q.FeeBreakdown.AccountCreationFee)
		assert.Equal(t, "0.000105500", q.FeeBreakdown.Total)
		assert.Equal(t, 1, accounts.calls)
	})

	t.Run("lookup failure assumes creation", func(t *testing.T) {
		e := NewEngine(EngineConfig{Accounts: &fakeAccounts{err: errors.New("rpc down")}})
		q, err := e.Quote(ctx, Request{From: "SOL", To: "USDC", AmountRaw: 100000, IncludeFeeBreakdown: true, Owner: testOwner})
		require.NoError(t, err)
		assert.Equal(t, 1, q.FeeBreakdown.AccountsToCreate)
	})

	t.Run("native destination never needs an account", func(t *testing.T) {
		accounts := &fakeAccounts{}
		e := NewEngine(EngineConfig{Accounts: accounts})
		q, err := e.Quote(ctx, Request{From: "USDC", To: "SOL", AmountRaw: 1_000_000, IncludeFeeBreakdown: true, Owner: testOwner})
		require.NoError(t, err)
		assert.Equal(t, 0, q.FeeBreakdown.AccountsToCreate)
		assert.Equal(t, 0, accounts.calls)
		// 1 USDC * 0.005 * $1 / $100 per SOL
		assert.Equal(t, "0.000050000", q.FeeBreakdown.TradingFee)
	})

	t.Run("custom native reference price", func(t *testing.T) {
		e := NewEngine(EngineConfig{NativeReferencePrice: decimal.NewFromInt(200)})
		q, err := e.Quote(ctx, Request{From: "USDC", To: "SOL", AmountRaw: 1_000_000, IncludeFeeBreakdown: true})
		require.NoError(t, err)
		assert.Equal(t, "0.000025000", q.FeeBreakdown.TradingFee)
	})
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[assets]]
symbol = "SOL"
mint = "So11111111111111111111111111111111111111112"
decimals = 9
price = "150.25"
native = true

[[assets]]
symbol = "BONK"
name = "Bonk"
mint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xaB7u5gd4Z3V6Qd"
decimals = 5
price = "0.00002"
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.Assets(), 2)

	bonk, err := c.Lookup("bonk")
	require.NoError(t, err)
	assert.Equal(t, int32(5), bonk.Decimals)
	assert.True(t, bonk.Price.Equal(decimal.RequireFromString("0.00002")))

	e := NewEngine(EngineConfig{Catalog: c})
	q, err := e.Quote(context.Background(), Request{From: "BONK", To: "SOL", AmountRaw: 100_000_000})
	require.NoError(t, err)
	// 1000 BONK: fee rendered with the 6 digit minimum.
	assert.Equal(t, "5.000000", q.Fee)
}

func TestLoadCatalog_InvalidPrice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[assets]]
symbol = "SOL"
mint = "So11111111111111111111111111111111111111112"
decimals = 9
price = "cheap"
`), 0o600))

	_, err := LoadCatalog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid price")
}

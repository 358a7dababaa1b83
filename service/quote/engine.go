// Package quote computes deterministic swap quotes from a static asset
// catalog. All arithmetic is fixed-point; results are rendered as decimal
// strings with a fixed number of digits.
package quote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/brojonat/swapper/service/metrics"
	"github.com/brojonat/swapper/service/swaperr"
)

const (
	MaxSlippageBps = 10_000

	rateDigits      = 6
	minFeeDigits    = 6
	nativeFeeDigits = 9
)

var (
	// FeeRate is the protocol fee haircut applied to every quote. It is not
	// the user's slippage tolerance.
	FeeRate = decimal.RequireFromString("0.005")

	BaseTransactionFee   = decimal.RequireFromString("0.000005")
	PriorityFee          = decimal.RequireFromString("0.0001")
	AccountCreationFee   = decimal.RequireFromString("0.00203928")
	DefaultNativePrice   = decimal.NewFromInt(100)
	priceImpactPerAmount = decimal.RequireFromString("0.0001") // 0.1 per 1000 units
	maxPriceImpact       = decimal.NewFromInt(2)
	bpsDenominator       = decimal.NewFromInt(MaxSlippageBps)
)

// AccountChecker reports whether owner already holds a token account for mint.
type AccountChecker interface {
	AccountExists(ctx context.Context, owner, mint solana.PublicKey) (bool, error)
}

type Request struct {
	From                string
	To                  string
	AmountRaw           uint64
	SlippageBps         int
	IncludeFeeBreakdown bool
	// Owner is the wallet address, used to decide whether the destination
	// token account must be created.
	Owner string
}

// FeeBreakdown itemizes network costs in native units.
type FeeBreakdown struct {
	TradingFee         string `json:"trading_fee"`
	BaseTransactionFee string `json:"base_transaction_fee"`
	AccountCreationFee string `json:"account_creation_fee"`
	PriorityFee        string `json:"priority_fee"`
	Total              string `json:"total"`
	AccountsToCreate   int    `json:"accounts_to_create"`
}

// Quote is an immutable price estimate for one swap.
type Quote struct {
	FromAsset          string        `json:"from_asset"`
	ToAsset            string        `json:"to_asset"`
	InputAmountRaw     uint64        `json:"input_amount_raw"`
	EstimatedOutput    string        `json:"estimated_output"`
	MinimumOutput      string        `json:"minimum_output"`
	ExchangeRate       string        `json:"exchange_rate"`
	// Fee is in units of FromAsset with FeeDigits(from) digits: 6, or the
	// source asset's decimals when it has more, so a fee on a few base
	// units of SOL still renders exactly (0.000000500, not 0.000001).
	Fee                string        `json:"fee"`
	PriceImpactPercent string        `json:"price_impact_percent"`
	SlippageBps        int           `json:"slippage_bps"`
	RouteDescription   string        `json:"route_description"`
	FeeBreakdown       *FeeBreakdown `json:"fee_breakdown,omitempty"`
}

type EngineConfig struct {
	Catalog *Catalog
	// Accounts is optional; without it a non-native destination is assumed
	// to need a new token account.
	Accounts AccountChecker
	// NativeReferencePrice converts the trading fee into native units.
	NativeReferencePrice decimal.Decimal
	Logger               *slog.Logger
	Metrics              *metrics.Metrics
}

type Engine struct {
	catalog     *Catalog
	accounts    AccountChecker
	nativePrice decimal.Decimal
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		catalog:     cfg.Catalog,
		accounts:    cfg.Accounts,
		nativePrice: cfg.NativeReferencePrice,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
	if e.catalog == nil {
		e.catalog = DefaultCatalog()
	}
	if !e.nativePrice.IsPositive() {
		e.nativePrice = DefaultNativePrice
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return e
}

// Catalog returns the engine's asset catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Quote prices req. It fails with ErrAssetNotFound or ErrInvalidAmount.
func (e *Engine) Quote(ctx context.Context, req Request) (*Quote, error) {
	q, err := e.quote(ctx, req)
	if err != nil {
		e.metrics.RecordQuote("error")
		return nil, err
	}
	e.metrics.RecordQuote("success")
	return q, nil
}

func (e *Engine) quote(ctx context.Context, req Request) (*Quote, error) {
	if req.AmountRaw == 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", swaperr.ErrInvalidAmount)
	}
	if req.SlippageBps < 0 || req.SlippageBps > MaxSlippageBps {
		return nil, fmt.Errorf("%w: slippage %d bps outside [0, %d]", swaperr.ErrInvalidAmount, req.SlippageBps, MaxSlippageBps)
	}
	from, err := e.catalog.Lookup(req.From)
	if err != nil {
		return nil, err
	}
	to, err := e.catalog.Lookup(req.To)
	if err != nil {
		return nil, err
	}

	raw := decimal.NewFromBigInt(new(big.Int).SetUint64(req.AmountRaw), 0)
	amount := raw.Shift(-from.Decimals)

	estimated := amount.Mul(from.Price).Div(to.Price)
	adjusted := estimated.Mul(decimal.NewFromInt(1).Sub(FeeRate))
	exchangeRate := adjusted.Shift(to.Decimals).Div(raw)
	fee := amount.Mul(FeeRate)
	impact := PriceImpact(amount)

	slippage := decimal.NewFromInt(int64(req.SlippageBps)).Div(bpsDenominator)
	minimum := adjusted.Mul(decimal.NewFromInt(1).Sub(slippage))

	q := &Quote{
		FromAsset:          from.Symbol,
		ToAsset:            to.Symbol,
		InputAmountRaw:     req.AmountRaw,
		EstimatedOutput:    adjusted.StringFixed(to.Decimals),
		MinimumOutput:      minimum.Truncate(to.Decimals).StringFixed(to.Decimals),
		ExchangeRate:       exchangeRate.StringFixed(rateDigits),
		Fee:                fee.StringFixed(FeeDigits(from)),
		PriceImpactPercent: impact.StringFixed(rateDigits),
		SlippageBps:        req.SlippageBps,
		RouteDescription:   fmt.Sprintf("%s -> %s (direct)", from.Symbol, to.Symbol),
	}

	if req.IncludeFeeBreakdown {
		q.FeeBreakdown = e.feeBreakdown(ctx, fee, from, to, req.Owner)
	}

	e.logger.DebugContext(ctx, "quote computed",
		"from", from.Symbol,
		"to", to.Symbol,
		"amount_raw", req.AmountRaw,
		"estimated_output", q.EstimatedOutput,
	)
	return q, nil
}

// PriceImpact is a linear placeholder curve: 0.1% per 1000 units of input,
// capped at 2%.
func PriceImpact(amount decimal.Decimal) decimal.Decimal {
	return decimal.Min(amount.Mul(priceImpactPerAmount), maxPriceImpact)
}

// FeeDigits is the number of digits the trading fee is rendered with: at
// least 6, widened to the source asset's decimals.
func FeeDigits(from Asset) int32 {
	if from.Decimals < minFeeDigits {
		return minFeeDigits
	}
	return from.Decimals
}

func (e *Engine) feeBreakdown(ctx context.Context, fee decimal.Decimal, from, to Asset, owner string) *FeeBreakdown {
	tradingFee := fee.Mul(from.Price).Div(e.nativePrice)
	accounts := e.accountsToCreate(ctx, to, owner)
	creation := AccountCreationFee.Mul(decimal.NewFromInt(int64(accounts)))
	total := tradingFee.Add(BaseTransactionFee).Add(PriorityFee).Add(creation)

	return &FeeBreakdown{
		TradingFee:         tradingFee.StringFixed(nativeFeeDigits),
		BaseTransactionFee: BaseTransactionFee.StringFixed(nativeFeeDigits),
		AccountCreationFee: creation.StringFixed(nativeFeeDigits),
		PriorityFee:        PriorityFee.StringFixed(nativeFeeDigits),
		Total:              total.StringFixed(nativeFeeDigits),
		AccountsToCreate:   accounts,
	}
}

// accountsToCreate is 0 or 1: the destination token account, if missing.
func (e *Engine) accountsToCreate(ctx context.Context, to Asset, owner string) int {
	if to.Native {
		return 0
	}
	if e.accounts == nil || owner == "" {
		return 1
	}

	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		e.logger.WarnContext(ctx, "invalid owner address, assuming account creation", "owner", owner, "error", err)
		return 1
	}
	mintKey, err := solana.PublicKeyFromBase58(to.Mint)
	if err != nil {
		e.logger.WarnContext(ctx, "invalid mint address, assuming account creation", "mint", to.Mint, "error", err)
		return 1
	}

	exists, err := e.accounts.AccountExists(ctx, ownerKey, mintKey)
	if err != nil {
		e.logger.WarnContext(ctx, "token account lookup failed, assuming account creation",
			"owner", owner,
			"mint", to.Mint,
			"error", err,
		)
		return 1
	}
	if exists {
		return 0
	}
	return 1
}

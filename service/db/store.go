package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/swapper/service/metrics"
)

// ErrTradeNotFound is returned when no trade matches a transaction hash.
var ErrTradeNotFound = errors.New("trade not found")

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    transaction_hash TEXT PRIMARY KEY,
    trade_id         TEXT NOT NULL DEFAULT '',
    wallet_address   TEXT NOT NULL,
    from_asset       TEXT NOT NULL,
    to_asset         TEXT NOT NULL,
    amount_raw       NUMERIC(20, 0) NOT NULL,
    tx_format        TEXT NOT NULL,
    status           TEXT NOT NULL,
    confirmations    BIGINT NOT NULL DEFAULT 0,
    finalized        BOOLEAN NOT NULL DEFAULT FALSE,
    error            TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS trades_wallet_created_idx ON trades (wallet_address, created_at DESC);
CREATE INDEX IF NOT EXISTS trades_status_idx ON trades (status);
`

const tradeColumns = `transaction_hash, trade_id, wallet_address, from_asset, to_asset,
    amount_raw::text, tx_format, status, confirmations, finalized, error, created_at, updated_at`

// Store is the trade ledger: one row per submitted swap transaction, keyed
// by transaction hash.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Trade is a ledger row.
type Trade struct {
	TransactionHash string    `json:"transaction_hash"`
	TradeID         string    `json:"trade_id"`
	WalletAddress   string    `json:"wallet_address"`
	FromAsset       string    `json:"from_asset"`
	ToAsset         string    `json:"to_asset"`
	AmountRaw       uint64    `json:"amount_raw,string"`
	Format          string    `json:"format"` // "legacy" or "versioned"
	Status          string    `json:"status"`
	Confirmations   int64     `json:"confirmations"`
	Finalized       bool      `json:"finalized"`
	Error           *string   `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Terminal reports whether the trade can no longer change state.
func (t *Trade) Terminal() bool {
	return t.Finalized || t.Status == "failed"
}

// CreateTradeParams contains the parameters for recording a submitted trade.
type CreateTradeParams struct {
	TransactionHash string
	TradeID         string
	WalletAddress   string
	FromAsset       string
	ToAsset         string
	AmountRaw       uint64
	Format          string
	Status          string
}

// UpdateTradeStatusParams carries one observed status.
type UpdateTradeStatusParams struct {
	TransactionHash string
	Status          string
	Confirmations   int64
	Finalized       bool
	Error           *string
}

// ListTradesByWalletParams contains pagination parameters. An empty Status
// lists every status.
type ListTradesByWalletParams struct {
	WalletAddress string
	Status        string
	Limit         int32
	Offset        int32
}

// EnsureSchema creates the trades table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schema)
	s.metrics.RecordDBQuery("ensure_schema", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("ensure trades schema: %w", err)
	}
	return nil
}

// CreateTrade inserts a trade. Recording the same transaction hash twice
// returns the existing row unchanged.
func (s *Store) CreateTrade(ctx context.Context, params CreateTradeParams) (*Trade, error) {
	status := params.Status
	if status == "" {
		status = "pending"
	}

	start := time.Now()
	row := s.pool.QueryRow(ctx, `
INSERT INTO trades (transaction_hash, trade_id, wallet_address, from_asset, to_asset, amount_raw, tx_format, status)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
ON CONFLICT (transaction_hash) DO UPDATE SET transaction_hash = trades.transaction_hash
RETURNING `+tradeColumns,
		params.TransactionHash,
		params.TradeID,
		params.WalletAddress,
		params.FromAsset,
		params.ToAsset,
		strconv.FormatUint(params.AmountRaw, 10),
		params.Format,
		status,
	)
	trade, err := scanTrade(row)
	s.metrics.RecordDBQuery("create", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("create trade %s: %w", params.TransactionHash, err)
	}
	return trade, nil
}

// UpdateTradeStatus overwrites the observed status of a trade.
func (s *Store) UpdateTradeStatus(ctx context.Context, params UpdateTradeStatusParams) (*Trade, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
UPDATE trades
SET status = $2, confirmations = $3, finalized = $4, error = $5, updated_at = NOW()
WHERE transaction_hash = $1
RETURNING `+tradeColumns,
		params.TransactionHash,
		params.Status,
		params.Confirmations,
		params.Finalized,
		pgtextFromStringPtr(params.Error),
	)
	trade, err := scanTrade(row)
	s.metrics.RecordDBQuery("update", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, params.TransactionHash)
		}
		return nil, fmt.Errorf("update trade %s: %w", params.TransactionHash, err)
	}
	return trade, nil
}

// GetTradeByHash retrieves a trade by its transaction hash.
func (s *Store) GetTradeByHash(ctx context.Context, transactionHash string) (*Trade, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE transaction_hash = $1`, transactionHash)
	trade, err := scanTrade(row)
	s.metrics.RecordDBQuery("get", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, transactionHash)
		}
		return nil, err
	}
	return trade, nil
}

// ListTradesByWallet retrieves a wallet's trades, most recent first.
func (s *Store) ListTradesByWallet(ctx context.Context, params ListTradesByWalletParams) ([]*Trade, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
SELECT `+tradeColumns+`
FROM trades
WHERE wallet_address = $1 AND ($2::text = '' OR status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`,
		params.WalletAddress,
		params.Status,
		limit,
		params.Offset,
	)
	if err != nil {
		s.metrics.RecordDBQuery("list", "trades", time.Since(start).Seconds(), err)
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			s.metrics.RecordDBQuery("list", "trades", time.Since(start).Seconds(), err)
			return nil, err
		}
		trades = append(trades, trade)
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("list", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// scanTrade reads one row selected with tradeColumns.
func scanTrade(row pgx.Row) (*Trade, error) {
	var (
		t         Trade
		amount    string
		errText   pgtype.Text
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&t.TransactionHash,
		&t.TradeID,
		&t.WalletAddress,
		&t.FromAsset,
		&t.ToAsset,
		&amount,
		&t.Format,
		&t.Status,
		&t.Confirmations,
		&t.Finalized,
		&errText,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	raw, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse amount_raw %q: %w", amount, err)
	}
	t.AmountRaw = raw
	t.Error = stringPtrFromPgtext(errText)
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	return &t, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/db"
	"github.com/brojonat/swapper/service/metrics"
	natspkg "github.com/brojonat/swapper/service/nats"
)

// TrackTradeInput starts a durable watch of one submitted trade.
type TrackTradeInput struct {
	TransactionHash string        `json:"transaction_hash"`
	WalletAddress   string        `json:"wallet_address"`
	PollInterval    time.Duration `json:"poll_interval"`
	MaxPolls        int           `json:"max_polls"`
}

// TrackTradeResult is the last state the watcher observed.
type TrackTradeResult struct {
	TransactionHash string `json:"transaction_hash"`
	Status          string `json:"status"`
	Confirmations   uint64 `json:"confirmations"`
	Finalized       bool   `json:"finalized"`
	Error           string `json:"error,omitempty"`
	Polls           int    `json:"polls"`
	// TimedOut means the watcher ran out of polls before a terminal state.
	TimedOut bool `json:"timed_out"`
}

// PollTradeStatusInput contains parameters for the PollTradeStatus activity.
type PollTradeStatusInput struct {
	TransactionHash string `json:"transaction_hash"`
}

// PollTradeStatusResult is one chain observation.
type PollTradeStatusResult struct {
	Status        string `json:"status"`
	Confirmations uint64 `json:"confirmations"`
	Finalized     bool   `json:"finalized"`
	Error         string `json:"error,omitempty"`
}

// Terminal reports whether the trade can no longer change state.
func (r *PollTradeStatusResult) Terminal() bool {
	return r.Finalized || r.Status == "failed"
}

// RecordTradeStatusInput contains parameters for the RecordTradeStatus activity.
type RecordTradeStatusInput struct {
	TransactionHash string            `json:"transaction_hash"`
	WalletAddress   string            `json:"wallet_address"`
	Kind            natspkg.EventKind `json:"kind"`
	Status          string            `json:"status"`
	Confirmations   uint64            `json:"confirmations"`
	Finalized       bool              `json:"finalized"`
	Error           string            `json:"error,omitempty"`
	WatchStartedAt  time.Time         `json:"watch_started_at"`
}

// RecordTradeStatusResult reports which sinks accepted the status.
type RecordTradeStatusResult struct {
	LedgerUpdated bool `json:"ledger_updated"`
	Published     bool `json:"published"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpdateTradeStatus(context.Context, db.UpdateTradeStatusParams) (*db.Trade, error)
}

// StatusSourceInterface reports a transaction's confirmation state. The
// chain adapter satisfies it.
type StatusSourceInterface interface {
	GetSwapStatus(ctx context.Context, transactionHash string) (*client.SwapStatus, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishTradeEvent(ctx context.Context, event *natspkg.TradeEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	status    StatusSourceInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// store and publisher may be nil; metrics may be nil.
func NewActivities(
	store StoreInterface,
	status StatusSourceInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		status:    status,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// PollTradeStatus asks the chain for the trade's confirmation state.
func (a *Activities) PollTradeStatus(ctx context.Context, input PollTradeStatusInput) (*PollTradeStatusResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("PollTradeStatus", time.Since(start).Seconds())
	}()

	st, err := a.status.GetSwapStatus(ctx, input.TransactionHash)
	if err != nil {
		a.metrics.RecordStatusPoll("error")
		a.logger.ErrorContext(ctx, "failed to poll trade status",
			"hash", input.TransactionHash,
			"error", err,
		)
		return nil, fmt.Errorf("failed to poll trade status: %w", err)
	}

	result := &PollTradeStatusResult{
		Status:        st.Status,
		Confirmations: st.Confirmations,
		Finalized:     st.Finalized,
	}
	if st.Error != nil && *st.Error != "" {
		result.Status = "failed"
		result.Error = *st.Error
		result.Finalized = false
	}
	if result.Finalized {
		result.Status = "finalized"
	}
	if result.Status == "" {
		result.Status = "pending"
	}
	a.metrics.RecordStatusPoll(result.Status)

	a.logger.DebugContext(ctx, "polled trade status",
		"hash", input.TransactionHash,
		"status", result.Status,
		"confirmations", result.Confirmations,
	)
	return result, nil
}

// RecordTradeStatus writes an observed status to the ledger and publishes
// the matching event. A trade missing from the ledger is still announced.
func (a *Activities) RecordTradeStatus(ctx context.Context, input RecordTradeStatusInput) (*RecordTradeStatusResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("RecordTradeStatus", time.Since(start).Seconds())
	}()

	result := &RecordTradeStatusResult{}
	event := &natspkg.TradeEvent{
		Kind:            input.Kind,
		TransactionHash: input.TransactionHash,
		WalletAddress:   input.WalletAddress,
		Status:          input.Status,
		Confirmations:   input.Confirmations,
		Finalized:       input.Finalized,
		Error:           input.Error,
		Timestamp:       time.Now().UTC(),
		PublishedAt:     time.Now().UTC(),
	}

	if a.store != nil {
		var errText *string
		if input.Error != "" {
			errText = &input.Error
		}
		trade, err := a.store.UpdateTradeStatus(ctx, db.UpdateTradeStatusParams{
			TransactionHash: input.TransactionHash,
			Status:          input.Status,
			Confirmations:   int64(input.Confirmations),
			Finalized:       input.Finalized,
			Error:           errText,
		})
		switch {
		case errors.Is(err, db.ErrTradeNotFound):
			a.logger.WarnContext(ctx, "trade not in ledger", "hash", input.TransactionHash)
		case err != nil:
			return nil, fmt.Errorf("failed to update trade status: %w", err)
		default:
			result.LedgerUpdated = true
			event = natspkg.FromTrade(trade, input.Kind)
			if event.WalletAddress == "" {
				event.WalletAddress = input.WalletAddress
			}
		}
	}

	if a.publisher != nil {
		if err := a.publisher.PublishTradeEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to publish trade event: %w", err)
		}
		result.Published = true
	}

	if input.Kind != natspkg.KindStatus && !input.WatchStartedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(string(input.Kind), time.Since(input.WatchStartedAt).Seconds())
	}

	a.logger.InfoContext(ctx, "recorded trade status",
		"hash", input.TransactionHash,
		"kind", input.Kind,
		"status", input.Status,
		"ledger_updated", result.LedgerUpdated,
		"published", result.Published,
	)
	return result, nil
}

// Package tracker submits signed swap transactions and watches their
// confirmation.
//
// A trade moves Submitted -> Pending (confirmations grow) -> Finalized, or
// Submitted -> Failed. Running out of poll attempts is not a trade outcome:
// Track reports it as swaperr.ErrPollTimeout and leaves the record pending.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/metrics"
	"github.com/brojonat/swapper/service/swaperr"
	"github.com/brojonat/swapper/service/txcodec"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFinalized Status = "finalized"
	StatusFailed    Status = "failed"
)

// TradeRecord is the observed state of one submitted transaction.
type TradeRecord struct {
	ID              string    `json:"id"`
	TransactionHash string    `json:"transaction_hash"`
	Status          Status    `json:"status"`
	Confirmations   uint64    `json:"confirmations"`
	Finalized       bool      `json:"finalized"`
	Error           string    `json:"error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Terminal reports whether no further polling can change the record.
func (r *TradeRecord) Terminal() bool {
	return r.Finalized || r.Status == StatusFailed
}

// Submitter broadcasts a signed transaction.
type Submitter interface {
	SubmitSwap(ctx context.Context, req client.SubmitSwapRequest) (*client.SubmitSwapResponse, error)
}

// StatusSource reports the confirmation state of a transaction. The backend
// client and the chain adapter both satisfy it.
type StatusSource interface {
	GetSwapStatus(ctx context.Context, transactionHash string) (*client.SwapStatus, error)
}

type SubmitRequest struct {
	From      string
	To        string
	AmountRaw uint64
	Signed    *txcodec.SignedTransaction
}

type Tracker struct {
	submitter Submitter
	status    StatusSource
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(submitter Submitter, status StatusSource, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Tracker{
		submitter: submitter,
		status:    status,
		now:       time.Now,
		logger:    logger.With("component", "tracker"),
		metrics:   m,
	}
}

// Submit broadcasts the signed transaction and returns the new trade in
// the pending state. Rejections are classified from the error text.
func (t *Tracker) Submit(ctx context.Context, req SubmitRequest) (*TradeRecord, error) {
	if req.Signed == nil {
		return nil, fmt.Errorf("%w: nothing to submit", swaperr.ErrMalformedTransaction)
	}

	resp, err := t.submitter.SubmitSwap(ctx, client.SubmitSwapRequest{
		FromAsset:         req.From,
		ToAsset:           req.To,
		Amount:            req.AmountRaw,
		SignedTransaction: req.Signed.Base64(),
	})
	if err != nil {
		t.metrics.RecordSubmission("error")
		return nil, classifySubmitError(err)
	}
	t.metrics.RecordSubmission("success")

	hash := resp.TransactionHash
	if hash == "" {
		hash = req.Signed.ID()
	}

	rec := &TradeRecord{
		ID:              resp.TradeID,
		TransactionHash: hash,
		Status:          StatusPending,
		UpdatedAt:       t.now(),
	}
	t.logger.InfoContext(ctx, "trade submitted", "trade_id", rec.ID, "hash", rec.TransactionHash)
	return rec, nil
}

// classifySubmitError maps backend rejections onto the taxonomy. Transport
// failures and context errors keep their own identity.
func classifySubmitError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, swaperr.ErrRefreshFailed) || errors.Is(err, swaperr.ErrAttestationUnavailable) {
		return fmt.Errorf("submit failed: %w", err)
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		classified := swaperr.ClassifyChainError(apiErr.Message)
		if classified == nil {
			classified = swaperr.ClassifyChainError(apiErr.Error())
		}
		return fmt.Errorf("submit rejected (status %d): %w", apiErr.StatusCode, classified)
	}

	if errors.Is(err, swaperr.ErrNetwork) {
		return fmt.Errorf("submit failed: %w", err)
	}
	return fmt.Errorf("submit failed: %w", swaperr.ClassifyChainError(err.Error()))
}

// Poll performs one status check.
func (t *Tracker) Poll(ctx context.Context, transactionHash string) (*TradeRecord, error) {
	st, err := t.status.GetSwapStatus(ctx, transactionHash)
	if err != nil {
		t.metrics.RecordStatusPoll("error")
		return nil, fmt.Errorf("status check for %s failed: %w", transactionHash, err)
	}

	rec := &TradeRecord{
		TransactionHash: transactionHash,
		Status:          Status(st.Status),
		Confirmations:   st.Confirmations,
		Finalized:       st.Finalized,
		UpdatedAt:       t.now(),
	}
	if st.Error != nil && *st.Error != "" {
		rec.Status = StatusFailed
		rec.Error = *st.Error
		rec.Finalized = false
	}
	if rec.Finalized {
		rec.Status = StatusFinalized
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}

	t.metrics.RecordStatusPoll(string(rec.Status))
	return rec, nil
}

// Track polls every interval until the trade is finalized or failed, or
// maxAttempts polls have been made. A failed poll uses up an attempt.
//
// Outcomes:
//   - finalized or failed: the record and a nil error.
//   - attempts exhausted: the last record seen (nil if no poll succeeded)
//     and swaperr.ErrPollTimeout.
//   - ctx done: the last record seen and ctx.Err(). Cancellation stops the
//     observer only; the record is not marked failed.
func (t *Tracker) Track(ctx context.Context, transactionHash string, maxAttempts int, interval time.Duration) (*TradeRecord, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	start := t.now()

	var last *TradeRecord
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rec, err := t.Poll(ctx, transactionHash)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				t.metrics.RecordTrack("cancelled", t.now().Sub(start).Seconds())
				return last, ctx.Err()
			}
			t.logger.WarnContext(ctx, "status poll failed",
				"hash", transactionHash,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"error", err,
			)
		case rec.Terminal():
			outcome := string(rec.Status)
			t.logger.InfoContext(ctx, "trade reached terminal state",
				"hash", transactionHash,
				"status", rec.Status,
				"confirmations", rec.Confirmations,
				"attempts", attempt,
			)
			t.metrics.RecordTrack(outcome, t.now().Sub(start).Seconds())
			return rec, nil
		default:
			last = rec
			t.logger.DebugContext(ctx, "trade still pending",
				"hash", transactionHash,
				"status", rec.Status,
				"confirmations", rec.Confirmations,
				"attempt", attempt,
			)
		}

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.metrics.RecordTrack("cancelled", t.now().Sub(start).Seconds())
			return last, ctx.Err()
		case <-timer.C:
		}
	}

	t.metrics.RecordTrack("timeout", t.now().Sub(start).Seconds())
	t.logger.InfoContext(ctx, "stopped watching trade, still pending",
		"hash", transactionHash,
		"attempts", maxAttempts,
	)
	return last, fmt.Errorf("%w: %s not finalized after %d polls", swaperr.ErrPollTimeout, transactionHash, maxAttempts)
}

package temporal

import (
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	natspkg "github.com/brojonat/swapper/service/nats"
)

const (
	DefaultWatchInterval = 10 * time.Second
	DefaultWatchMaxPolls = 360
)

var a *Activities // for type-safe activity invocation

// TrackTradeWorkflow keeps watching a trade after the interactive tracker
// gave up on it. It polls chain status until the trade is finalized or
// failed, writing status changes to the ledger and announcing them on NATS.
//
// A failed poll uses up one of MaxPolls. Running out of polls is not a trade
// outcome: the result reports TimedOut and a pending_timeout event is sent.
func TrackTradeWorkflow(ctx workflow.Context, input TrackTradeInput) (*TrackTradeResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("TrackTradeWorkflow started", "hash", input.TransactionHash)

	if input.TransactionHash == "" {
		return nil, temporalsdk.NewNonRetryableApplicationError("transaction hash is required", "InvalidInput", nil)
	}

	interval := input.PollInterval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	maxPolls := input.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultWatchMaxPolls
	}
	startedAt := workflow.Now(ctx)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	result := &TrackTradeResult{
		TransactionHash: input.TransactionHash,
		Status:          "pending",
	}

	record := func(kind natspkg.EventKind) error {
		return workflow.ExecuteActivity(ctx, a.RecordTradeStatus, RecordTradeStatusInput{
			TransactionHash: input.TransactionHash,
			WalletAddress:   input.WalletAddress,
			Kind:            kind,
			Status:          result.Status,
			Confirmations:   result.Confirmations,
			Finalized:       result.Finalized,
			Error:           result.Error,
			WatchStartedAt:  startedAt,
		}).Get(ctx, nil)
	}

	lastRecorded := ""
	for poll := 1; poll <= maxPolls; poll++ {
		result.Polls = poll

		var st *PollTradeStatusResult
		err := workflow.ExecuteActivity(ctx, a.PollTradeStatus, PollTradeStatusInput{
			TransactionHash: input.TransactionHash,
		}).Get(ctx, &st)
		if err != nil {
			logger.Warn("status poll failed", "hash", input.TransactionHash, "poll", poll, "error", err)
		} else {
			result.Status = st.Status
			result.Confirmations = st.Confirmations
			result.Finalized = st.Finalized
			result.Error = st.Error

			if st.Terminal() {
				kind := natspkg.KindForStatus(st.Status, st.Finalized)
				if err := record(kind); err != nil {
					logger.Error("failed to record terminal status", "hash", input.TransactionHash, "error", err)
					return result, err
				}
				logger.Info("TrackTradeWorkflow completed",
					"hash", input.TransactionHash,
					"status", result.Status,
					"polls", poll,
				)
				return result, nil
			}

			if st.Status != lastRecorded {
				if err := record(natspkg.KindStatus); err != nil {
					logger.Warn("failed to record status change", "hash", input.TransactionHash, "error", err)
				} else {
					lastRecorded = st.Status
				}
			}
		}

		if poll == maxPolls {
			break
		}
		if err := workflow.Sleep(ctx, interval); err != nil {
			return result, err
		}
	}

	result.TimedOut = true
	if err := record(natspkg.KindPendingTimeout); err != nil {
		logger.Warn("failed to record pending timeout", "hash", input.TransactionHash, "error", err)
	}
	logger.Info("TrackTradeWorkflow gave up, trade still pending",
		"hash", input.TransactionHash,
		"polls", maxPolls,
	)
	return result, nil
}

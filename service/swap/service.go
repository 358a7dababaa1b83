// Package swap runs one user-initiated trade end to end: quote, prepare,
// sign, submit and (optionally) track.
package swap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/db"
	"github.com/brojonat/swapper/service/keys"
	"github.com/brojonat/swapper/service/metrics"
	"github.com/brojonat/swapper/service/nats"
	"github.com/brojonat/swapper/service/quote"
	"github.com/brojonat/swapper/service/swaperr"
	"github.com/brojonat/swapper/service/tracker"
	"github.com/brojonat/swapper/service/txcodec"
)

const (
	DefaultPollMaxAttempts = 30
	DefaultPollInterval    = 2 * time.Second
)

type Quoter interface {
	Quote(ctx context.Context, req quote.Request) (*quote.Quote, error)
}

// Preparer asks the aggregator for an unsigned transaction.
type Preparer interface {
	PrepareSwap(ctx context.Context, req client.PrepareSwapRequest) (*client.PrepareSwapResponse, error)
}

type Signer interface {
	Sign(ctx context.Context, unsigned txcodec.UnsignedTransaction, key keys.WalletKey) (*txcodec.SignedTransaction, error)
}

type Tracker interface {
	Submit(ctx context.Context, req tracker.SubmitRequest) (*tracker.TradeRecord, error)
	Track(ctx context.Context, transactionHash string, maxAttempts int, interval time.Duration) (*tracker.TradeRecord, error)
}

// Ledger records trades. *db.Store satisfies it.
type Ledger interface {
	CreateTrade(ctx context.Context, params db.CreateTradeParams) (*db.Trade, error)
	UpdateTradeStatus(ctx context.Context, params db.UpdateTradeStatusParams) (*db.Trade, error)
}

type Publisher interface {
	PublishTradeEvent(ctx context.Context, event *nats.TradeEvent) error
}

// Watcher takes over observing a trade the interactive tracker gave up on.
type Watcher interface {
	WatchTrade(ctx context.Context, transactionHash, walletAddress string) error
}

// Config wires a Service. Ledger, Publisher and Watcher are optional.
type Config struct {
	Quoter   Quoter
	Preparer Preparer
	Signer   Signer
	Tracker  Tracker

	Ledger    Ledger
	Publisher Publisher
	Watcher   Watcher

	PollMaxAttempts int
	PollInterval    time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Service struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(cfg Config) (*Service, error) {
	var errs []error
	if cfg.Quoter == nil {
		errs = append(errs, errors.New("quoter is required"))
	}
	if cfg.Preparer == nil {
		errs = append(errs, errors.New("preparer is required"))
	}
	if cfg.Signer == nil {
		errs = append(errs, errors.New("signer is required"))
	}
	if cfg.Tracker == nil {
		errs = append(errs, errors.New("tracker is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid swap config: %w", err)
	}

	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = DefaultPollMaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	return &Service{
		cfg:     cfg,
		logger:  logger.With("component", "swap"),
		metrics: cfg.Metrics,
	}, nil
}

// Request is one user-initiated trade.
type Request struct {
	From                string
	To                  string
	AmountRaw           uint64
	SlippageBps         int
	IncludeFeeBreakdown bool

	// Track polls the trade after submission until it is terminal or the
	// poll budget runs out.
	Track bool
}

// Result collects what each stage produced. Fields are filled in order;
// on error the stages that completed are still reported.
type Result struct {
	Quote  *quote.Quote               `json:"quote,omitempty"`
	Signed *txcodec.SignedTransaction `json:"-"`
	Trade  *tracker.TradeRecord       `json:"trade,omitempty"`

	// StillPending is set when tracking ran out of attempts. The trade may
	// still finalize; it was handed to the Watcher when one is configured.
	StillPending bool `json:"still_pending"`
}

// Execute runs the stages strictly in sequence. Once the transaction is
// submitted the returned Result always carries the trade, even on error.
func (s *Service) Execute(ctx context.Context, req Request, key keys.WalletKey) (*Result, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: no wallet key", swaperr.ErrInvalidKeyFormat)
	}
	wallet := key.Address.String()
	logger := s.logger.With("wallet", wallet, "from", req.From, "to", req.To)
	res := &Result{}

	var err error
	res.Quote, err = stage(s, "quote", func() (*quote.Quote, error) {
		return s.cfg.Quoter.Quote(ctx, quote.Request{
			From:                req.From,
			To:                  req.To,
			AmountRaw:           req.AmountRaw,
			SlippageBps:         req.SlippageBps,
			IncludeFeeBreakdown: req.IncludeFeeBreakdown,
			Owner:               wallet,
		})
	})
	if err != nil {
		return res, fmt.Errorf("quote: %w", err)
	}
	logger.InfoContext(ctx, "quote received",
		"estimated_output", res.Quote.EstimatedOutput,
		"minimum_output", res.Quote.MinimumOutput,
		"fee", res.Quote.Fee,
	)

	prepared, err := stage(s, "prepare", func() (*client.PrepareSwapResponse, error) {
		return s.cfg.Preparer.PrepareSwap(ctx, client.PrepareSwapRequest{
			FromAsset:     res.Quote.FromAsset,
			ToAsset:       res.Quote.ToAsset,
			Amount:        req.AmountRaw,
			SlippageBps:   res.Quote.SlippageBps,
			WalletAddress: wallet,
		})
	})
	if err != nil {
		return res, fmt.Errorf("prepare swap: %w", err)
	}

	res.Signed, err = stage(s, "sign", func() (*txcodec.SignedTransaction, error) {
		unsigned, err := txcodec.DecodeBase64(prepared.UnsignedTransaction)
		if err != nil {
			return nil, err
		}
		return s.cfg.Signer.Sign(ctx, unsigned, key)
	})
	if err != nil {
		return res, fmt.Errorf("sign swap: %w", err)
	}
	logger.DebugContext(ctx, "swap signed", "format", res.Signed.Format.String(), "signature", res.Signed.ID())

	res.Trade, err = stage(s, "submit", func() (*tracker.TradeRecord, error) {
		return s.cfg.Tracker.Submit(ctx, tracker.SubmitRequest{
			From:      res.Quote.FromAsset,
			To:        res.Quote.ToAsset,
			AmountRaw: req.AmountRaw,
			Signed:    res.Signed,
		})
	})
	if err != nil {
		return res, err
	}
	logger = logger.With("hash", res.Trade.TransactionHash)

	s.recordSubmitted(ctx, logger, res, wallet)

	if !req.Track {
		return res, nil
	}
	return s.track(ctx, logger, res, wallet)
}

func (s *Service) track(ctx context.Context, logger *slog.Logger, res *Result, wallet string) (*Result, error) {
	submitted := res.Trade
	start := time.Now()
	last, err := s.cfg.Tracker.Track(ctx, submitted.TransactionHash, s.cfg.PollMaxAttempts, s.cfg.PollInterval)
	s.metrics.RecordSwapStage("track", time.Since(start).Seconds(), trackStageErr(err))

	if last != nil {
		merged := *last
		merged.ID = submitted.ID
		res.Trade = &merged
	}

	switch {
	case err == nil:
		s.recordStatus(ctx, logger, res.Trade, wallet, nats.KindForStatus(string(res.Trade.Status), res.Trade.Finalized))
		if res.Trade.Status == tracker.StatusFailed {
			return res, fmt.Errorf("trade failed: %w", failedTradeErr(res.Trade.Error))
		}
		return res, nil

	case errors.Is(err, swaperr.ErrPollTimeout):
		res.StillPending = true
		s.recordStatus(ctx, logger, res.Trade, wallet, nats.KindPendingTimeout)
		if s.cfg.Watcher != nil {
			// The caller's context may be about to end; the hand-off is independent of it.
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if werr := s.cfg.Watcher.WatchTrade(wctx, submitted.TransactionHash, wallet); werr != nil {
				logger.WarnContext(ctx, "failed to hand trade to watcher", "error", werr)
			} else {
				logger.InfoContext(ctx, "trade handed to watcher")
			}
		}
		return res, err

	default:
		return res, fmt.Errorf("track trade: %w", err)
	}
}

// trackStageErr keeps a poll timeout out of the stage error metric; the
// trade was not lost.
func trackStageErr(err error) error {
	if errors.Is(err, swaperr.ErrPollTimeout) {
		return nil
	}
	return err
}

// failedTradeErr maps the chain's failure text for a trade onto the error
// taxonomy. A failure reported without any text counts as a simulation failure.
func failedTradeErr(msg string) error {
	if err := swaperr.ClassifyChainError(msg); err != nil {
		return err
	}
	return fmt.Errorf("%w: no failure reason reported", swaperr.ErrSimulationFailed)
}

// recordSubmitted writes the new trade to the ledger and announces it.
// Failures are logged: the transaction is already on its way.
func (s *Service) recordSubmitted(ctx context.Context, logger *slog.Logger, res *Result, wallet string) {
	trade := &db.Trade{
		TransactionHash: res.Trade.TransactionHash,
		TradeID:         res.Trade.ID,
		WalletAddress:   wallet,
		FromAsset:       res.Quote.FromAsset,
		ToAsset:         res.Quote.ToAsset,
		AmountRaw:       res.Quote.InputAmountRaw,
		Format:          res.Signed.Format.String(),
		Status:          string(res.Trade.Status),
		UpdatedAt:       res.Trade.UpdatedAt,
	}

	if s.cfg.Ledger != nil {
		row, err := s.cfg.Ledger.CreateTrade(ctx, db.CreateTradeParams{
			TransactionHash: trade.TransactionHash,
			TradeID:         trade.TradeID,
			WalletAddress:   trade.WalletAddress,
			FromAsset:       trade.FromAsset,
			ToAsset:         trade.ToAsset,
			AmountRaw:       trade.AmountRaw,
			Format:          trade.Format,
			Status:          trade.Status,
		})
		if err != nil {
			logger.WarnContext(ctx, "failed to record trade in ledger", "error", err)
		} else {
			trade = row
		}
	}

	s.publish(ctx, logger, nats.FromTrade(trade, nats.KindSubmitted))
}

func (s *Service) recordStatus(ctx context.Context, logger *slog.Logger, rec *tracker.TradeRecord, wallet string, kind nats.EventKind) {
	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}

	event := &nats.TradeEvent{
		Kind:            kind,
		TradeID:         rec.ID,
		TransactionHash: rec.TransactionHash,
		WalletAddress:   wallet,
		Status:          string(rec.Status),
		Confirmations:   rec.Confirmations,
		Finalized:       rec.Finalized,
		Error:           rec.Error,
		Timestamp:       rec.UpdatedAt,
		PublishedAt:     time.Now().UTC(),
	}

	if s.cfg.Ledger != nil {
		row, err := s.cfg.Ledger.UpdateTradeStatus(ctx, db.UpdateTradeStatusParams{
			TransactionHash: rec.TransactionHash,
			Status:          string(rec.Status),
			Confirmations:   int64(rec.Confirmations),
			Finalized:       rec.Finalized,
			Error:           errText,
		})
		if err != nil {
			logger.WarnContext(ctx, "failed to update trade in ledger", "error", err)
		} else {
			event = nats.FromTrade(row, kind)
		}
	}

	s.publish(ctx, logger, event)
}

func (s *Service) publish(ctx context.Context, logger *slog.Logger, event *nats.TradeEvent) {
	if s.cfg.Publisher == nil {
		return
	}
	if err := s.cfg.Publisher.PublishTradeEvent(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to publish trade event", "kind", event.Kind, "error", err)
	}
}

// stage times fn under name.
func stage[T any](s *Service, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	s.metrics.RecordSwapStage(name, time.Since(start).Seconds(), err)
	return out, err
}

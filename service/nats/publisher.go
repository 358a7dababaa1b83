package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/swapper/service/metrics"
)

// Publisher defines the interface for publishing trade events to NATS.
type Publisher interface {
	// PublishTradeEvent publishes a single trade event to JetStream.
	// The event is published to the subject "trades.{wallet_address}".
	PublishTradeEvent(ctx context.Context, event *TradeEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes trade events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for trades.
	StreamName = "TRADES"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "trades.*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour

	// DuplicateWindow bounds message-ID deduplication, so a retried
	// workflow activity does not publish the same event twice.
	DuplicateWindow = 10 * time.Minute
)

// Subject returns the subject a wallet's trade events are published on.
func Subject(walletAddress string) string {
	if walletAddress == "" {
		walletAddress = "unknown"
	}
	return "trades." + walletAddress
}

// MessageID is the JetStream deduplication key for an event.
func MessageID(event *TradeEvent) string {
	return fmt.Sprintf("%s:%s:%s:%d", event.TransactionHash, event.Kind, event.Status, event.Confirmations)
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("swapper-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Swap trade lifecycle events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	if _, err := p.js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishTradeEvent publishes a single trade event.
func (p *JetStreamPublisher) PublishTradeEvent(ctx context.Context, event *TradeEvent) error {
	subject := Subject(event.WalletAddress)
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		p.metrics.RecordNATSPublish(string(event.Kind), "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to marshal trade event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(MessageID(event))); err != nil {
		p.metrics.RecordNATSPublish(string(event.Kind), "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish trade event: %w", err)
	}
	p.metrics.RecordNATSPublish(string(event.Kind), "success", time.Since(start).Seconds())

	p.logger.Debug("published trade event",
		"subject", subject,
		"kind", event.Kind,
		"hash", event.TransactionHash,
		"status", event.Status,
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

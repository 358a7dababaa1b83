package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client starts and inspects durable trade watchers.
type Client struct {
	client       client.Client
	taskQueue    string
	pollInterval time.Duration
	maxPolls     int
	logger       *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:       c,
		taskQueue:    taskQueue,
		pollInterval: DefaultWatchInterval,
		maxPolls:     DefaultWatchMaxPolls,
		logger:       logger,
	}
}

// SetWatchPolicy overrides how often and how long watchers poll.
func (c *Client) SetWatchPolicy(interval time.Duration, maxPolls int) {
	if interval > 0 {
		c.pollInterval = interval
	}
	if maxPolls > 0 {
		c.maxPolls = maxPolls
	}
}

// WatchTrade starts a TrackTradeWorkflow for the transaction. Starting a
// watcher for a hash that is already being watched attaches to the running
// workflow instead.
func (c *Client) WatchTrade(ctx context.Context, transactionHash, walletAddress string) error {
	id := workflowID(transactionHash)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"wallet_address": walletAddress,
			"created_by":     "swapper",
		},
	}, TrackTradeWorkflow, TrackTradeInput{
		TransactionHash: transactionHash,
		WalletAddress:   walletAddress,
		PollInterval:    c.pollInterval,
		MaxPolls:        c.maxPolls,
	})
	if err != nil {
		c.logger.Error("failed to start trade watcher",
			"hash", transactionHash,
			"workflow_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("trade watcher started",
		"hash", transactionHash,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return nil
}

// AwaitTrade blocks until the watcher for transactionHash finishes.
func (c *Client) AwaitTrade(ctx context.Context, transactionHash string) (*TrackTradeResult, error) {
	var result TrackTradeResult
	if err := c.client.GetWorkflow(ctx, workflowID(transactionHash), "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to await trade watcher: %w", err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue name.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.client.Close()
}

func workflowID(transactionHash string) string {
	return "track-trade-" + transactionHash
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}

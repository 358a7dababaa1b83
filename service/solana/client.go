// Package solana talks to a Solana RPC node on behalf of the swap pipeline:
// recent blockhashes for signing, signature status for tracking, and token
// account existence for fee estimates.
package solana

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/metrics"
	"github.com/brojonat/swapper/service/swaperr"
)

// RPCClient is the subset of Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetSignatureStatuses(ctx context.Context, searchHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

const maxAttempts = 3

// Client wraps the RPC client with the operations the swap pipeline needs.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
	// backoffUnit scales retry sleeps: 1s in production.
	backoffUnit time.Duration
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		rpc:         rpcClient,
		logger:      logger.With("component", "solana"),
		metrics:     m,
		endpoint:    endpoint,
		backoffUnit: time.Second,
	}
}

// call runs fn up to maxAttempts times. Rate limiting (429) backs off
// longer than other failures; rpc.ErrNotFound is returned immediately.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	var err error
	for attempt := range maxAttempts {
		start := time.Now()
		err = fn()
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordRPCCall(method, status, c.endpoint, duration)

		if err == nil || errors.Is(err, rpc.ErrNotFound) || ctx.Err() != nil {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * c.backoffUnit // 1s, 2s
		reason := "timeout_or_error"
		if strings.Contains(err.Error(), "429") {
			backoff = time.Duration(2<<uint(attempt)) * c.backoffUnit // 2s, 4s
			reason = "rate_limit"
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		c.metrics.RecordRPCRetry(method, reason)
		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"reason", reason,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// LatestBlockhash returns the most recent finalized-safe blockhash at
// confirmed commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var out *rpc.GetLatestBlockhashResult
	err := c.call(ctx, "GetLatestBlockhash", func() error {
		var err error
		out, err = c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		return err
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("%w: get latest blockhash: %w", swaperr.ErrNetwork, err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("%w: empty blockhash response", swaperr.ErrNetwork)
	}

	c.logger.DebugContext(ctx, "fetched latest blockhash",
		"blockhash", out.Value.Blockhash.String(),
		"last_valid_block_height", out.Value.LastValidBlockHeight,
	)
	return out.Value.Blockhash, nil
}

// GetSwapStatus reports a transaction's confirmation state straight from
// the chain, in the same shape the backend uses.
func (c *Client) GetSwapStatus(ctx context.Context, transactionHash string) (*client.SwapStatus, error) {
	sig, err := solana.SignatureFromBase58(transactionHash)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction signature %q: %w", transactionHash, err)
	}

	var out *rpc.GetSignatureStatusesResult
	err = c.call(ctx, "GetSignatureStatuses", func() error {
		var err error
		out, err = c.rpc.GetSignatureStatuses(ctx, true, sig)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get signature status: %w", swaperr.ErrNetwork, err)
	}

	return statusFromResult(out), nil
}

func statusFromResult(out *rpc.GetSignatureStatusesResult) *client.SwapStatus {
	// Unknown to the node yet: still propagating.
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return &client.SwapStatus{Status: "pending"}
	}
	st := out.Value[0]

	res := &client.SwapStatus{Status: "pending"}
	if st.Confirmations != nil {
		res.Confirmations = *st.Confirmations
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		res.Status = "finalized"
		res.Finalized = true
	case rpc.ConfirmationStatusConfirmed:
		res.Status = "confirmed"
	}
	if st.Err != nil {
		msg := fmt.Sprintf("%v", st.Err)
		res.Status = "failed"
		res.Finalized = false
		res.Error = &msg
	}
	return res
}

// AccountExists reports whether owner's associated token account for mint
// has been created.
func (c *Client) AccountExists(ctx context.Context, owner, mint solana.PublicKey) (bool, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return false, fmt.Errorf("derive associated token address: %w", err)
	}

	var out *rpc.GetAccountInfoResult
	err = c.call(ctx, "GetAccountInfo", func() error {
		var err error
		out, err = c.rpc.GetAccountInfo(ctx, ata)
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get account info: %w", swaperr.ErrNetwork, err)
	}
	return out != nil && out.Value != nil, nil
}

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// GenerateToken exchanges a device attestation for a bearer token. It always
// goes over the bare transport: the token it returns is what authenticated
// calls need.
func (c *Client) GenerateToken(ctx context.Context, attestationToken, platform, deviceID string) (*TokenResponse, error) {
	req := TokenRequest{
		AttestationToken: attestationToken,
		Platform:         platform,
		DeviceID:         deviceID,
	}

	var resp TokenResponse
	if err := c.doJSON(ctx, c.bare, http.MethodPost, "/api/v1/auth/token", "/api/v1/auth/token", req, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("token response missing token")
	}

	c.logger.DebugContext(ctx, "bearer token issued", "platform", platform, "expires_in", resp.ExpiresIn)
	return &resp, nil
}

// GetSwapQuote asks the backend (and through it the aggregator) for a quote.
func (c *Client) GetSwapQuote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	var resp QuoteResponse
	if err := c.doJSON(ctx, c.authed, http.MethodPost, "/api/v1/swap/quote", "/api/v1/swap/quote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PrepareSwap returns the aggregator's unsigned transaction for a swap.
func (c *Client) PrepareSwap(ctx context.Context, req PrepareSwapRequest) (*PrepareSwapResponse, error) {
	var resp PrepareSwapResponse
	if err := c.doJSON(ctx, c.authed, http.MethodPost, "/api/v1/swap/prepare", "/api/v1/swap/prepare", req, &resp); err != nil {
		return nil, err
	}
	if resp.UnsignedTransaction == "" {
		return nil, fmt.Errorf("prepare response missing unsigned transaction")
	}

	c.logger.DebugContext(ctx, "swap prepared",
		"from", req.FromAsset,
		"to", req.ToAsset,
		"amount", req.Amount,
		"wallet", req.WalletAddress,
	)
	return &resp, nil
}

// SubmitSwap sends a signed transaction for broadcast.
func (c *Client) SubmitSwap(ctx context.Context, req SubmitSwapRequest) (*SubmitSwapResponse, error) {
	var resp SubmitSwapResponse
	if err := c.doJSON(ctx, c.authed, http.MethodPost, "/api/v1/swap/submit", "/api/v1/swap/submit", req, &resp); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "swap submitted", "trade_id", resp.TradeID, "hash", resp.TransactionHash)
	return &resp, nil
}

// GetSwapStatus reports the confirmation state of a submitted transaction.
func (c *Client) GetSwapStatus(ctx context.Context, transactionHash string) (*SwapStatus, error) {
	path := "/api/v1/swap/status/" + url.PathEscape(transactionHash)

	var resp SwapStatus
	if err := c.doJSON(ctx, c.authed, http.MethodGet, path, "/api/v1/swap/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

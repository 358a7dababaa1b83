package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// TokenSource yields a valid bearer token, refreshing it when needed.
type TokenSource interface {
	EnsureToken(ctx context.Context) (string, error)
}

// tokenClearer is implemented by token sources that can drop a token the
// backend no longer accepts.
type tokenClearer interface {
	Clear(ctx context.Context) error
}

// authTransport attaches "Authorization: Bearer <token>" to every request.
// A 401 response clears the token so the next request fetches a new one.
type authTransport struct {
	base   http.RoundTripper
	tokens TokenSource
	logger *slog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens.EnsureToken(req.Context())
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("failed to obtain bearer token: %w", err)
	}

	// RoundTrippers must not modify the caller's request.
	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+token)

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(authed)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if c, ok := t.tokens.(tokenClearer); ok {
			if cerr := c.Clear(req.Context()); cerr != nil && t.logger != nil {
				t.logger.WarnContext(req.Context(), "failed to clear rejected bearer token", "error", cerr)
			}
		}
	}
	return resp, nil
}

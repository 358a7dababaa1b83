// Package auth obtains and caches the short-lived bearer token used for
// authenticated backend calls.
//
// A Manager moves through NoToken -> Refreshing -> Valid -> (expiring) ->
// NoToken. Concurrent EnsureToken calls that find no usable token share a
// single refresh: one attestation and one token exchange, whose result
// (token or error) every waiter observes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/metrics"
	"github.com/brojonat/swapper/service/store"
	"github.com/brojonat/swapper/service/swaperr"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshSkew    = 5 * time.Minute
	DefaultRefreshTimeout = 30 * time.Second

	refreshKey = "refresh"
)

// Exchanger trades an attestation for a bearer token. It must not itself
// depend on a bearer token.
type Exchanger interface {
	GenerateToken(ctx context.Context, attestationToken, platform, deviceID string) (*client.TokenResponse, error)
}

// Token is a bearer token and the instant it stops being accepted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// usableAt reports whether t may still be sent at now, given skew.
func (t Token) usableAt(now time.Time, skew time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-skew))
}

// Config wires a Manager. DeviceID is the per-install principal the backend
// binds tokens to; it is supplied by the caller, never generated here.
type Config struct {
	Store     store.KV
	Attestor  Attestor
	Exchanger Exchanger
	DeviceID  string
	Platform  string

	RefreshSkew    time.Duration
	RefreshTimeout time.Duration

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Manager struct {
	store          store.KV
	attestor       Attestor
	exchanger      Exchanger
	deviceID       string
	platform       string
	skew           time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
	metrics        *metrics.Metrics

	mu    sync.RWMutex
	token Token

	group singleflight.Group
}

// New builds a Manager and loads any persisted token. Persisted state that
// is expired, inside the skew window or unparseable is deleted.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	var errs []error
	if cfg.Store == nil {
		errs = append(errs, fmt.Errorf("store is required"))
	}
	if cfg.Attestor == nil {
		errs = append(errs, fmt.Errorf("attestor is required"))
	}
	if cfg.Exchanger == nil {
		errs = append(errs, fmt.Errorf("exchanger is required"))
	}
	if cfg.DeviceID == "" {
		errs = append(errs, fmt.Errorf("device id is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid auth config: %w", errors.Join(errs...))
	}

	m := &Manager{
		store:          cfg.Store,
		attestor:       cfg.Attestor,
		exchanger:      cfg.Exchanger,
		deviceID:       cfg.DeviceID,
		platform:       cfg.Platform,
		skew:           cfg.RefreshSkew,
		refreshTimeout: cfg.RefreshTimeout,
		now:            cfg.Now,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}
	if m.skew <= 0 {
		m.skew = DefaultRefreshSkew
	}
	if m.refreshTimeout <= 0 {
		m.refreshTimeout = DefaultRefreshTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	m.logger = m.logger.With("component", "auth")

	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load(ctx context.Context) error {
	value, err := m.store.Get(ctx, store.KeyAuthToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load persisted token: %w", err)
	}

	rawExpiry, err := m.store.Get(ctx, store.KeyAuthTokenExpiresAt)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load persisted token expiry: %w", err)
	}

	expiresAt, parseErr := time.Parse(time.RFC3339Nano, rawExpiry)
	tok := Token{Value: value, ExpiresAt: expiresAt}
	if parseErr != nil || !tok.usableAt(m.now(), m.skew) {
		m.logger.InfoContext(ctx, "discarding persisted token",
			"expires_at", rawExpiry,
			"unparseable", parseErr != nil,
		)
		if err := m.store.Delete(ctx, store.KeyAuthToken, store.KeyAuthTokenExpiresAt); err != nil {
			return fmt.Errorf("failed to delete stale token: %w", err)
		}
		return nil
	}

	m.token = tok
	m.logger.DebugContext(ctx, "loaded persisted token", "expires_at", expiresAt)
	return nil
}

// ValidToken returns the cached token if it is outside the skew window. It
// never starts a refresh.
func (m *Manager) ValidToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.token.usableAt(m.now(), m.skew) {
		return "", false
	}
	return m.token.Value, true
}

// Cached returns the in-memory token whether or not it is still usable.
func (m *Manager) Cached() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token.Value != ""
}

// EnsureToken returns a usable token, refreshing if needed. If a refresh is
// already in flight the caller waits for it instead of starting another. A
// caller whose ctx ends stops waiting; the refresh carries on for the rest.
func (m *Manager) EnsureToken(ctx context.Context) (string, error) {
	if tok, ok := m.ValidToken(); ok {
		m.metrics.RecordTokenWaiter("cached")
		return tok, nil
	}

	ch := m.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.metrics.RecordTokenWaiter("coalesced")
		} else {
			m.metrics.RecordTokenWaiter("leader")
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refresh runs at most once at a time. On any failure the previous state is
// left untouched.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	// A refresh that finished just before this one started may already have
	// produced a usable token.
	if tok, ok := m.ValidToken(); ok {
		return tok, nil
	}

	start := m.now()
	m.logger.InfoContext(ctx, "refreshing bearer token", "platform", m.platform)

	attestation, err := m.attestor.Attest(ctx)
	if err != nil {
		m.metrics.RecordTokenRefresh("attestation_error")
		m.logger.WarnContext(ctx, "attestation failed", "error", err)
		if errors.Is(err, swaperr.ErrAttestationUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", swaperr.ErrAttestationUnavailable, err)
	}

	resp, err := m.exchanger.GenerateToken(ctx, attestation, m.platform, m.deviceID)
	if err != nil {
		m.metrics.RecordTokenRefresh("exchange_error")
		m.logger.WarnContext(ctx, "token exchange failed", "error", err)
		return "", fmt.Errorf("%w: %w", swaperr.ErrRefreshFailed, err)
	}
	if resp.ExpiresIn <= 0 {
		m.metrics.RecordTokenRefresh("exchange_error")
		return "", fmt.Errorf("%w: token issued with non-positive lifetime %d", swaperr.ErrRefreshFailed, resp.ExpiresIn)
	}

	tok := Token{
		Value:     resp.Token,
		ExpiresAt: m.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	// A token that is already inside the skew window would trigger a new
	// attestation on every call.
	if !tok.usableAt(m.now(), m.skew) {
		m.metrics.RecordTokenRefresh("exchange_error")
		m.logger.WarnContext(ctx, "issued token lifetime is within the refresh skew",
			"expires_in", resp.ExpiresIn,
			"skew", m.skew,
		)
		return "", fmt.Errorf("%w: token lifetime %ds is within the refresh skew %s", swaperr.ErrRefreshFailed, resp.ExpiresIn, m.skew)
	}
	if err := m.store.SetMany(ctx, map[string]string{
		store.KeyAuthToken:          tok.Value,
		store.KeyAuthTokenExpiresAt: tok.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		m.metrics.RecordTokenRefresh("persist_error")
		return "", fmt.Errorf("%w: failed to persist token: %w", swaperr.ErrRefreshFailed, err)
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	m.metrics.RecordTokenRefresh("success")
	m.logger.InfoContext(ctx, "bearer token refreshed",
		"expires_at", tok.ExpiresAt,
		"duration", m.now().Sub(start),
	)
	return tok.Value, nil
}

// Clear drops the cached token and its persisted copy.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.token = Token{}
	m.mu.Unlock()

	if err := m.store.Delete(ctx, store.KeyAuthToken, store.KeyAuthTokenExpiresAt); err != nil {
		return fmt.Errorf("failed to clear persisted token: %w", err)
	}
	m.logger.InfoContext(ctx, "bearer token cleared")
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/auth"
	"github.com/brojonat/swapper/service/config"
	"github.com/brojonat/swapper/service/db"
	"github.com/brojonat/swapper/service/keys"
	natspkg "github.com/brojonat/swapper/service/nats"
	"github.com/brojonat/swapper/service/quote"
	"github.com/brojonat/swapper/service/solana"
	"github.com/brojonat/swapper/service/store"
	"github.com/brojonat/swapper/service/swap"
	"github.com/brojonat/swapper/service/temporal"
	"github.com/brojonat/swapper/service/tracker"
	"github.com/brojonat/swapper/service/txcodec"
)

// runtime lazily builds the collaborators a command needs and closes them
// when the command finishes.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	kv      store.KV
	manager *auth.Manager
	backend *client.Client
	chain   *solana.Client

	closers []func()
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return &runtime{
		cfg:    cfg,
		logger: setupLogger(cfg.LogLevel),
	}, nil
}

// withRuntime runs fn with a runtime and releases it afterwards.
func withRuntime(fn func(c *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(c, rt)
	}
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// setupLogger creates a structured logger with the given log level. Logs go
// to stderr so stdout stays machine-readable.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (rt *runtime) walletKey() (keys.WalletKey, error) {
	if rt.cfg.WalletSecretKey == "" {
		return keys.WalletKey{}, fmt.Errorf("WALLET_SECRET_KEY is required for this command")
	}
	return keys.Decode(rt.cfg.WalletSecretKey)
}

// state opens the persistent key-value store. Without a state directory the
// token and device id only live for this process.
func (rt *runtime) state() (store.KV, error) {
	if rt.kv != nil {
		return rt.kv, nil
	}
	if rt.cfg.StateDir == "" {
		rt.kv = store.NewMemoryStore()
		return rt.kv, nil
	}
	if err := os.MkdirAll(rt.cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	pebbleStore, err := store.OpenPebble(rt.cfg.StateDir)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() {
		if err := pebbleStore.Close(); err != nil {
			rt.logger.Warn("failed to close state store", "error", err)
		}
	})
	rt.kv = pebbleStore
	return rt.kv, nil
}

func (rt *runtime) httpClient() *http.Client {
	return &http.Client{Timeout: rt.cfg.HTTPTimeout}
}

func (rt *runtime) authManager(ctx context.Context) (*auth.Manager, error) {
	if rt.manager != nil {
		return rt.manager, nil
	}
	kv, err := rt.state()
	if err != nil {
		return nil, err
	}

	deviceID := rt.cfg.DeviceID
	if deviceID == "" {
		deviceID, err = auth.LoadOrCreateDeviceID(ctx, kv)
		if err != nil {
			return nil, err
		}
	}

	// Token exchange goes through a client without the bearer interceptor.
	bare := client.NewClient(rt.cfg.BackendURL, rt.httpClient(), rt.logger,
		client.WithMaxRetries(rt.cfg.HTTPMaxRetries),
	)
	rt.manager, err = auth.New(ctx, auth.Config{
		Store:       kv,
		Attestor:    auth.StaticAttestor(rt.cfg.AttestationToken),
		Exchanger:   bare,
		DeviceID:    deviceID,
		Platform:    rt.cfg.Platform,
		RefreshSkew: rt.cfg.TokenRefreshSkew,
		Logger:      rt.logger,
	})
	if err != nil {
		return nil, err
	}
	return rt.manager, nil
}

// backendClient returns the authenticated backend client.
func (rt *runtime) backendClient(ctx context.Context) (*client.Client, error) {
	if rt.backend != nil {
		return rt.backend, nil
	}
	mgr, err := rt.authManager(ctx)
	if err != nil {
		return nil, err
	}
	rt.backend = client.NewClient(rt.cfg.BackendURL, rt.httpClient(), rt.logger,
		client.WithTokenSource(mgr),
		client.WithMaxRetries(rt.cfg.HTTPMaxRetries),
	)
	return rt.backend, nil
}

func (rt *runtime) chainClient() (*solana.Client, error) {
	if rt.chain != nil {
		return rt.chain, nil
	}
	endpoint, err := solana.SelectRandomEndpoint(rt.cfg.SolanaRPCURLs)
	if err != nil {
		return nil, err
	}
	rt.chain = solana.NewClient(solana.NewRPCClient(endpoint), solana.EndpointLabel(endpoint), nil, rt.logger)
	return rt.chain, nil
}

func (rt *runtime) catalog() (*quote.Catalog, error) {
	if rt.cfg.AssetCatalogPath == "" {
		return quote.DefaultCatalog(), nil
	}
	return quote.LoadCatalog(rt.cfg.AssetCatalogPath)
}

// quoter returns the local engine, or the backend quote endpoint when remote
// is set.
func (rt *runtime) quoter(ctx context.Context, remote bool) (swap.Quoter, error) {
	if remote {
		backend, err := rt.backendClient(ctx)
		if err != nil {
			return nil, err
		}
		return swap.RemoteQuoter{Client: backend}, nil
	}

	catalog, err := rt.catalog()
	if err != nil {
		return nil, err
	}
	chain, err := rt.chainClient()
	if err != nil {
		return nil, err
	}
	return quote.NewEngine(quote.EngineConfig{
		Catalog:              catalog,
		Accounts:             chain,
		NativeReferencePrice: rt.cfg.NativeReferencePrice,
		Logger:               rt.logger,
	}), nil
}

// ledger connects to the trade ledger. It returns nil when DATABASE_URL is
// not configured.
func (rt *runtime) ledger(ctx context.Context) (*db.Store, error) {
	if rt.cfg.DatabaseURL == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, rt.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	rt.closers = append(rt.closers, pool.Close)

	s := db.NewStore(pool, nil)
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (rt *runtime) watcher() (*temporal.Client, error) {
	if rt.cfg.TemporalHost == "" {
		return nil, nil
	}
	tc, err := temporal.NewClient(rt.cfg.TemporalHost, rt.cfg.TemporalNamespace, rt.cfg.TemporalTaskQueue, rt.logger)
	if err != nil {
		return nil, err
	}
	tc.SetWatchPolicy(rt.cfg.WatchPollInterval, rt.cfg.WatchMaxPolls)
	rt.closers = append(rt.closers, tc.Close)
	return tc, nil
}

// tracker builds a tracker that submits through the backend and reads status
// from the backend or, with fromChain, directly from the RPC node.
func (rt *runtime) tracker(ctx context.Context, fromChain bool) (*tracker.Tracker, error) {
	backend, err := rt.backendClient(ctx)
	if err != nil {
		return nil, err
	}
	var status tracker.StatusSource = backend
	if fromChain {
		chain, err := rt.chainClient()
		if err != nil {
			return nil, err
		}
		status = chain
	}
	return tracker.New(backend, status, rt.logger, nil), nil
}

// swapService wires the full pipeline. Optional sinks are only set when
// configured so the interfaces stay nil otherwise.
func (rt *runtime) swapService(ctx context.Context, remoteQuote bool) (*swap.Service, error) {
	quoter, err := rt.quoter(ctx, remoteQuote)
	if err != nil {
		return nil, err
	}
	backend, err := rt.backendClient(ctx)
	if err != nil {
		return nil, err
	}
	trk, err := rt.tracker(ctx, false)
	if err != nil {
		return nil, err
	}

	var blockhashes txcodec.BlockhashSource
	if rt.cfg.RefreshBlockhash {
		chain, err := rt.chainClient()
		if err != nil {
			return nil, err
		}
		blockhashes = chain
	}

	cfg := swap.Config{
		Quoter:          quoter,
		Preparer:        backend,
		Signer:          txcodec.NewCodec(blockhashes, rt.logger, nil),
		Tracker:         trk,
		PollMaxAttempts: rt.cfg.PollMaxAttempts,
		PollInterval:    rt.cfg.PollInterval,
		Logger:          rt.logger,
	}

	ledger, err := rt.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if ledger != nil {
		cfg.Ledger = ledger
	}

	if rt.cfg.NATSURL != "" {
		pub, err := natspkg.NewPublisher(rt.cfg.NATSURL, rt.logger, nil)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { pub.Close() })
		cfg.Publisher = pub
	}

	watcher, err := rt.watcher()
	if err != nil {
		return nil, err
	}
	if watcher != nil {
		cfg.Watcher = watcher
	}

	return swap.New(cfg)
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel string

	// Backend configuration
	BackendURL     string
	HTTPTimeout    time.Duration
	HTTPMaxRetries int

	// Solana configuration. Several comma-separated endpoints may be given;
	// one is picked per process.
	SolanaRPCURLs    []string
	RefreshBlockhash bool

	// Wallet and device identity
	WalletSecretKey  string
	StateDir         string
	DeviceID         string
	Platform         string
	AttestationToken string
	TokenRefreshSkew time.Duration

	// Quoting
	AssetCatalogPath     string
	NativeReferencePrice decimal.Decimal
	DefaultSlippageBps   int

	// Tracking
	PollMaxAttempts int
	PollInterval    time.Duration

	// Optional infrastructure; empty disables the component.
	DatabaseURL  string
	NATSURL      string
	TemporalHost string

	// Temporal configuration
	TemporalNamespace string
	TemporalTaskQueue string
	WatchPollInterval time.Duration
	WatchMaxPolls     int

	MetricsAddr string
}

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Backend configuration
	cfg.BackendURL = strings.TrimRight(os.Getenv("BACKEND_URL"), "/")
	if cfg.BackendURL == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL is required"))
	} else if err := validateHTTPURL(cfg.BackendURL); err != nil {
		errs = append(errs, fmt.Errorf("BACKEND_URL: %w", err))
	}

	if d, err := parseDuration("HTTP_TIMEOUT", "30s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.HTTPTimeout = d
	}
	if n, err := parseInt("HTTP_MAX_RETRIES", 3); err != nil {
		errs = append(errs, err)
	} else {
		cfg.HTTPMaxRetries = n
	}

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"))
	for _, u := range cfg.SolanaRPCURLs {
		if err := validateHTTPURL(u); err != nil {
			errs = append(errs, fmt.Errorf("SOLANA_RPC_URL: %w", err))
		}
	}
	if b, err := parseBool("REFRESH_BLOCKHASH", false); err != nil {
		errs = append(errs, err)
	} else {
		cfg.RefreshBlockhash = b
	}

	// Wallet and device identity
	cfg.WalletSecretKey = os.Getenv("WALLET_SECRET_KEY")
	cfg.StateDir = getEnvOrDefault("STATE_DIR", defaultStateDir())
	cfg.DeviceID = os.Getenv("DEVICE_ID")
	cfg.Platform = getEnvOrDefault("PLATFORM", "cli")
	cfg.AttestationToken = os.Getenv("ATTESTATION_TOKEN")
	if d, err := parseDuration("TOKEN_REFRESH_SKEW", "5m"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.TokenRefreshSkew = d
	}

	// Quoting
	cfg.AssetCatalogPath = os.Getenv("ASSET_CATALOG_PATH")
	priceText := getEnvOrDefault("NATIVE_REFERENCE_PRICE", "100")
	if price, err := decimal.NewFromString(priceText); err != nil {
		errs = append(errs, fmt.Errorf("NATIVE_REFERENCE_PRICE: invalid decimal %q: %w", priceText, err))
	} else {
		cfg.NativeReferencePrice = price
	}
	if n, err := parseInt("DEFAULT_SLIPPAGE_BPS", 50); err != nil {
		errs = append(errs, err)
	} else {
		cfg.DefaultSlippageBps = n
	}

	// Tracking
	if n, err := parseInt("POLL_MAX_ATTEMPTS", 30); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollMaxAttempts = n
	}
	if d, err := parseDuration("POLL_INTERVAL", "2s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = d
	}

	// Optional infrastructure
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")

	// Temporal configuration
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "swapper-trade-watch")
	if d, err := parseDuration("WATCH_POLL_INTERVAL", "10s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.WatchPollInterval = d
	}
	if n, err := parseInt("WATCH_MAX_POLLS", 360); err != nil {
		errs = append(errs, err)
	} else {
		cfg.WatchMaxPolls = n
	}

	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for worker initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.BackendURL == "" {
		errs = append(errs, fmt.Errorf("BackendURL is required"))
	}

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("at least one Solana RPC URL is required"))
	}

	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTPTimeout must be positive"))
	}

	if c.HTTPMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("HTTPMaxRetries cannot be negative"))
	}

	if c.TokenRefreshSkew < 0 {
		errs = append(errs, fmt.Errorf("TokenRefreshSkew cannot be negative"))
	}

	if !c.NativeReferencePrice.IsPositive() {
		errs = append(errs, fmt.Errorf("NativeReferencePrice must be positive"))
	}

	if c.DefaultSlippageBps < 0 || c.DefaultSlippageBps > 10_000 {
		errs = append(errs, fmt.Errorf("DefaultSlippageBps must be between 0 and 10000"))
	}

	if c.PollMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("PollMaxAttempts must be at least 1"))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("PollInterval must be positive"))
	}

	if c.TemporalHost != "" {
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
		if c.WatchPollInterval < time.Second {
			errs = append(errs, fmt.Errorf("WatchPollInterval must be at least 1 second"))
		}
		if c.WatchMaxPolls < 1 {
			errs = append(errs, fmt.Errorf("WatchMaxPolls must be at least 1"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ValidateWorker checks the settings the durable watcher needs on top of
// Validate.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.TemporalHost == "" {
		return fmt.Errorf("configuration validation failed: TEMPORAL_HOST is required for the worker")
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".swapper")
}

// Package config defines the top-level configuration for karb and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by KARB_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Trading    TradingConfig    `toml:"trading"`
	Execution  ExecutionConfig  `toml:"execution"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials. Exactly one of PrivateKey
// or EncryptedKeyPath should be set.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds venue endpoints, chain parameters, and L2 API
// credentials.
type PolymarketConfig struct {
	ClobHost          string  `toml:"clob_host"`
	GammaHost         string  `toml:"gamma_host"`
	WsHost            string  `toml:"ws_host"`
	ChainID           int     `toml:"chain_id"`
	ExchangeContract  string  `toml:"exchange_contract"`
	ApiKey            string  `toml:"api_key"`
	ApiSecret         string  `toml:"api_secret"`
	ApiPassphrase     string  `toml:"api_passphrase"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxMarkets        int     `toml:"max_markets"`
}

// TradingConfig holds the capital and viability parameters. Dollar amounts
// are decimal dollars; they are converted to ticks at wiring time.
type TradingConfig struct {
	// Bankroll is the starting cash balance in dollars.
	Bankroll float64 `toml:"bankroll"`
	// MinProfit is the minimum net profit per share, in dollars, for a
	// spread to be executed.
	MinProfit float64 `toml:"min_profit"`
	// MaxSpendPerTrade caps the capital committed to one attempt, in
	// dollars. Zero disables the cap.
	MaxSpendPerTrade float64 `toml:"max_spend_per_trade"`
	// MaxCapitalFractionBps caps one attempt's reservation as a fraction
	// of total equity, in basis points. Zero disables the cap.
	MaxCapitalFractionBps int64 `toml:"max_capital_fraction_bps"`
	// MinSize is the smallest trade worth dispatching, in shares.
	MinSize float64 `toml:"min_size"`
	// BookStaleness bounds snapshot age before a spread is unverifiable.
	BookStaleness duration `toml:"book_staleness"`
	// RescanInterval is the periodic full sweep over tracked markets.
	RescanInterval duration `toml:"rescan_interval"`
	// DiscoveryInterval is how often the tradable market set is refreshed.
	DiscoveryInterval duration `toml:"discovery_interval"`
	// SettleInterval is how often open positions are checked for market
	// resolution.
	SettleInterval duration `toml:"settle_interval"`
}

// ExecutionConfig holds the order execution parameters.
type ExecutionConfig struct {
	LegFillTimeout duration `toml:"leg_fill_timeout"`
	PollInterval   duration `toml:"poll_interval"`
	// MaxSlippageBps bounds how far above its limit price a lagging leg may
	// be chased. The scheduler pads reservations by the same bound.
	MaxSlippageBps int64    `toml:"max_slippage_bps"`
	ChaseTimeout   duration `toml:"chase_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds the cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials. Events filters which
// event types routine notifications are sent for; high-priority alerts
// always go out.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:          "https://clob.polymarket.com",
			GammaHost:         "https://gamma-api.polymarket.com",
			WsHost:            "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:           137,
			ExchangeContract:  "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			RequestsPerSecond: 8,
			MaxMarkets:        200,
		},
		Trading: TradingConfig{
			Bankroll:              100.0,
			MinProfit:             0.01,
			MaxSpendPerTrade:      50.0,
			MaxCapitalFractionBps: 5000,
			MinSize:               1.0,
			BookStaleness:         duration{5 * time.Second},
			RescanInterval:        duration{2 * time.Second},
			DiscoveryInterval:     duration{5 * time.Minute},
			SettleInterval:        duration{time.Minute},
		},
		Execution: ExecutionConfig{
			LegFillTimeout: duration{10 * time.Second},
			PollInterval:   duration{250 * time.Millisecond},
			MaxSlippageBps: 100,
			ChaseTimeout:   duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "karb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "karb-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{6 * time.Hour},
			RetentionDays: 7,
		},
		Notify: NotifyConfig{
			Events: []string{"execution_resolved", "market_settled"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":     true,
	"monitor":   true,
	"scan":      true,
	"markets":   true,
	"orderbook": true,
	"config":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config for invalid or missing values and returns one
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, scan, markets, orderbook, config)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet credentials are only required when orders can be placed.
	if c.Mode == "trade" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Polymarket.ExchangeContract == "" {
			errs = append(errs, "polymarket: exchange_contract must not be empty for mode trade")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.RequestsPerSecond <= 0 {
		errs = append(errs, "polymarket: requests_per_second must be > 0")
	}

	// API credentials must be set together, or all empty. When all empty
	// they are derived from the wallet at startup.
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}

	if c.Trading.Bankroll <= 0 {
		errs = append(errs, "trading: bankroll must be > 0")
	}
	if c.Trading.MinProfit < 0 {
		errs = append(errs, "trading: min_profit must be >= 0")
	}
	if c.Trading.MaxCapitalFractionBps < 0 || c.Trading.MaxCapitalFractionBps > 10000 {
		errs = append(errs, fmt.Sprintf("trading: max_capital_fraction_bps must be 0-10000, got %d", c.Trading.MaxCapitalFractionBps))
	}
	if c.Trading.RescanInterval.Duration <= 0 {
		errs = append(errs, "trading: rescan_interval must be > 0")
	}
	if c.Trading.DiscoveryInterval.Duration <= 0 {
		errs = append(errs, "trading: discovery_interval must be > 0")
	}

	if c.Execution.LegFillTimeout.Duration <= 0 {
		errs = append(errs, "execution: leg_fill_timeout must be > 0")
	}
	if c.Execution.PollInterval.Duration <= 0 {
		errs = append(errs, "execution: poll_interval must be > 0")
	}
	if c.Execution.MaxSlippageBps < 0 {
		errs = append(errs, "execution: max_slippage_bps must be >= 0")
	}

	// Persistence is only wired for the long-running modes.
	if c.Mode == "trade" || c.Mode == "monitor" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

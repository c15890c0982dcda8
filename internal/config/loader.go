package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KARB_* environment variable overrides, and
// returns the final Config. The result has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env if present; missing is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KARB_* environment variables and
// overwrites the corresponding Config fields when set. This lets operators
// inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Wallet.PrivateKey, "KARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "KARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "KARB_WALLET_KEY_PASSWORD")

	setStr(&cfg.Polymarket.ClobHost, "KARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "KARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "KARB_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "KARB_POLYMARKET_CHAIN_ID")
	setStr(&cfg.Polymarket.ExchangeContract, "KARB_POLYMARKET_EXCHANGE_CONTRACT")
	setStr(&cfg.Polymarket.ApiKey, "KARB_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "KARB_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "KARB_POLYMARKET_API_PASSPHRASE")
	setFloat64(&cfg.Polymarket.RequestsPerSecond, "KARB_POLYMARKET_REQUESTS_PER_SECOND")
	setInt(&cfg.Polymarket.MaxMarkets, "KARB_POLYMARKET_MAX_MARKETS")

	setFloat64(&cfg.Trading.Bankroll, "KARB_TRADING_BANKROLL")
	setFloat64(&cfg.Trading.MinProfit, "KARB_TRADING_MIN_PROFIT")
	setFloat64(&cfg.Trading.MaxSpendPerTrade, "KARB_TRADING_MAX_SPEND_PER_TRADE")
	setInt64(&cfg.Trading.MaxCapitalFractionBps, "KARB_TRADING_MAX_CAPITAL_FRACTION_BPS")
	setFloat64(&cfg.Trading.MinSize, "KARB_TRADING_MIN_SIZE")
	setDuration(&cfg.Trading.BookStaleness, "KARB_TRADING_BOOK_STALENESS")
	setDuration(&cfg.Trading.RescanInterval, "KARB_TRADING_RESCAN_INTERVAL")
	setDuration(&cfg.Trading.DiscoveryInterval, "KARB_TRADING_DISCOVERY_INTERVAL")
	setDuration(&cfg.Trading.SettleInterval, "KARB_TRADING_SETTLE_INTERVAL")

	setDuration(&cfg.Execution.LegFillTimeout, "KARB_EXECUTION_LEG_FILL_TIMEOUT")
	setDuration(&cfg.Execution.PollInterval, "KARB_EXECUTION_POLL_INTERVAL")
	setInt64(&cfg.Execution.MaxSlippageBps, "KARB_EXECUTION_MAX_SLIPPAGE_BPS")
	setDuration(&cfg.Execution.ChaseTimeout, "KARB_EXECUTION_CHASE_TIMEOUT")

	setStr(&cfg.Postgres.DSN, "KARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "KARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "KARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "KARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "KARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "KARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "KARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "KARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "KARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "KARB_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "KARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "KARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "KARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "KARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "KARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "KARB_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "KARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "KARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "KARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "KARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "KARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "KARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "KARB_S3_FORCE_PATH_STYLE")

	setBool(&cfg.Archive.Enabled, "KARB_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "KARB_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "KARB_ARCHIVE_RETENTION_DAYS")

	setStr(&cfg.Notify.TelegramToken, "KARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "KARB_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "KARB_MODE")
	setStr(&cfg.LogLevel, "KARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

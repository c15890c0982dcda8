package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	// Monitor mode needs persistence but no wallet.
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "scan"
log_level = "debug"

[trading]
bankroll = 500.0
min_profit = 0.02
rescan_interval = "750ms"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, 500.0, cfg.Trading.Bankroll)
	assert.Equal(t, 0.02, cfg.Trading.MinProfit)
	assert.Equal(t, 750*time.Millisecond, cfg.Trading.RescanInterval.Duration)
	// Untouched sections keep their defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.Equal(t, 137, cfg.Polymarket.ChainID)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
[redis]
addr = "file-redis:6379"
`)

	t.Setenv("KARB_REDIS_ADDR", "env-redis:6379")
	t.Setenv("KARB_TRADING_BANKROLL", "250.5")
	t.Setenv("KARB_EXECUTION_LEG_FILL_TIMEOUT", "3s")
	t.Setenv("KARB_NOTIFY_EVENTS", "market_settled, execution_resolved")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 250.5, cfg.Trading.Bankroll)
	assert.Equal(t, 3*time.Second, cfg.Execution.LegFillTimeout.Duration)
	assert.Equal(t, []string{"market_settled", "execution_resolved"}, cfg.Notify.Events)
}

func TestValidateTradeModeRequiresWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: either private_key or encrypted_key_path")

	cfg.Wallet.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "juggle"
	cfg.LogLevel = "loud"
	cfg.Trading.Bankroll = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "juggle"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "trading: bankroll must be > 0")
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
}

func TestValidatePartialAPICreds(t *testing.T) {
	cfg := Defaults()
	cfg.Polymarket.ApiKey = "key-only"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must all be set together")
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// Original untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	// Non-secrets survive.
	assert.Equal(t, cfg.Redis.Addr, red.Redis.Addr)
}

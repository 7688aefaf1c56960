package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestDefaultsBakeCorrelationFamilies(t *testing.T) {
	cfg := Defaults()

	assert.ElementsMatch(t, []string{"bitcoin", "btc"}, cfg.Arena.Correlation["btc"])
	assert.ElementsMatch(t, []string{"ethereum", "eth"}, cfg.Arena.Correlation["eth"])
	assert.ElementsMatch(t, []string{"trump", "truth social"}, cfg.Arena.Correlation["trump"])
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Log.Level = "verbose"
	cfg.Redis.Addr = ""
	cfg.Engine.SimBankroll = -5

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "turbo"`)
	assert.Contains(t, msg, `unknown level "verbose"`)
	assert.Contains(t, msg, "redis: addr must not be empty")
	assert.Contains(t, msg, "engine: sim_bankroll must be > 0")
}

func TestValidateLiveModeNeedsWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: either private_key or encrypted_key_path")

	cfg.Wallet.PrivateKey = "0xabc"
	require.NoError(t, cfg.Validate())
}

func TestValidateCustomStrategy(t *testing.T) {
	cfg := Defaults()
	cfg.Arena.Strategies["wild"] = StrategyTOML{
		KellyFraction:      1.5,
		EstimateDiscount:   0.5,
		MaxPositionPct:     0.10,
		TimeoutHours:       24,
		MaxOpenPositions:   0,
		CorrelatedLimitPct: 0.25,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arena.strategies.wild: kelly_fraction must be in (0,1]")
	assert.Contains(t, err.Error(), "arena.strategies.wild: max_open_positions must be >= 1")
}

func TestLoadMergesTOMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[log]
level = "debug"

[scanner]
interval = "90s"
alert_limit = 3

[arena]
active = ["baseline", "sniper"]
live_strategy = "sniper"

[arena.correlation]
sol = ["solana", "sol"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Scanner.Interval.Duration)
	assert.Equal(t, 3, cfg.Scanner.AlertLimit)
	assert.Equal(t, []string{"baseline", "sniper"}, cfg.Arena.Active)
	assert.Equal(t, "sniper", cfg.Arena.LiveStrategy)
	assert.Equal(t, []string{"solana", "sol"}, cfg.Arena.Correlation["sol"])

	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Scanner.MarketLimit)
	assert.InDelta(t, 1000.0, cfg.Engine.SimBankroll, 1e-9)
}

func TestEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "scan"`), 0o600))

	t.Setenv("EDGEBOT_MODE", "monitor")
	t.Setenv("EDGEBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("EDGEBOT_SCANNER_INTERVAL", "2m")
	t.Setenv("EDGEBOT_ARENA_ACTIVE", "baseline, aggressive")
	t.Setenv("EDGEBOT_ENGINE_MIN_EDGE", "0.03")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Scanner.Interval.Duration)
	assert.Equal(t, []string{"baseline", "aggressive"}, cfg.Arena.Active)
	assert.InDelta(t, 0.03, cfg.Engine.MinEdge, 1e-9)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Polymarket.ApiSecret = "shh"
	cfg.Postgres.Password = "pg-pass"
	cfg.Redis.Password = "redis-pass"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "server-key"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Polymarket.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Non-secret fields pass through, and the original is untouched.
	assert.Equal(t, cfg.Redis.Addr, red.Redis.Addr)
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
}

func TestRedactedConfigCopiesCollections(t *testing.T) {
	cfg := Defaults()
	red := RedactedConfig(&cfg)

	red.Arena.Correlation["btc"][0] = "mutated"
	red.Arena.Active[0] = "mutated"

	assert.Equal(t, "bitcoin", cfg.Arena.Correlation["btc"][0])
	assert.Equal(t, "baseline", cfg.Arena.Active[0])
}

func TestLoadStrategyOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	body := `
baseline:
  min_edge: 0.05
  trailing_stop: false
sniper:
  max_open_positions: 2
  timeout_hours: 3
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	overrides, err := LoadStrategyOverrides(path)
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	base := overrides["baseline"]
	require.NotNil(t, base.MinEdge)
	assert.InDelta(t, 0.05, *base.MinEdge, 1e-9)
	require.NotNil(t, base.TrailingStop)
	assert.False(t, *base.TrailingStop)
	assert.Nil(t, base.KellyFraction)

	snp := overrides["sniper"]
	require.NotNil(t, snp.MaxOpenPositions)
	assert.Equal(t, 2, *snp.MaxOpenPositions)
	require.NotNil(t, snp.TimeoutHours)
	assert.InDelta(t, 3.0, *snp.TimeoutHours, 1e-9)
}

func TestLoadStrategyOverridesRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baseline:\n  min_edgee: 0.05\n"), 0o600))

	_, err := LoadStrategyOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_edgee")
}

func TestLoadStrategyOverridesRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("baseline:\n  kelly_fraction: 2.0\n"), 0o600))

	_, err := LoadStrategyOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kelly_fraction")
}

func TestLoadStrategyOverridesMissingFileIsEmpty(t *testing.T) {
	overrides, err := LoadStrategyOverrides(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, overrides)

	overrides, err = LoadStrategyOverrides("")
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

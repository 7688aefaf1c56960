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
// built-in defaults, applies EDGEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EDGEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Log ──
	setStr(&cfg.Log.Level, "EDGEBOT_LOG_LEVEL")
	setStr(&cfg.Log.File, "EDGEBOT_LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "EDGEBOT_LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "EDGEBOT_LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "EDGEBOT_LOG_MAX_AGE_DAYS")
	setBool(&cfg.Log.Compress, "EDGEBOT_LOG_COMPRESS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "EDGEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "EDGEBOT_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "EDGEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "EDGEBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "EDGEBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "EDGEBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "EDGEBOT_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "EDGEBOT_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "EDGEBOT_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "EDGEBOT_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "EDGEBOT_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "EDGEBOT_POLYMARKET_API_PASSPHRASE")

	// ── Estimator ──
	setBool(&cfg.Estimator.Enabled, "EDGEBOT_ESTIMATOR_ENABLED")
	setStr(&cfg.Estimator.BaseURL, "EDGEBOT_ESTIMATOR_BASE_URL")
	setStr(&cfg.Estimator.ApiKey, "EDGEBOT_ESTIMATOR_API_KEY")
	setDuration(&cfg.Estimator.Timeout, "EDGEBOT_ESTIMATOR_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "EDGEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "EDGEBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "EDGEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EDGEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EDGEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EDGEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EDGEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EDGEBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EDGEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EDGEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EDGEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "EDGEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EDGEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EDGEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EDGEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EDGEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EDGEBOT_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "EDGEBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "EDGEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EDGEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "EDGEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EDGEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EDGEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EDGEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EDGEBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "EDGEBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "EDGEBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "EDGEBOT_ARCHIVE_RETENTION_DAYS")

	// ── Engine ──
	setFloat64(&cfg.Engine.SimBankroll, "EDGEBOT_ENGINE_SIM_BANKROLL")
	setInt(&cfg.Engine.MinShares, "EDGEBOT_ENGINE_MIN_SHARES")
	setFloat64(&cfg.Engine.MinEdge, "EDGEBOT_ENGINE_MIN_EDGE")
	setFloat64(&cfg.Engine.MaxPositionPct, "EDGEBOT_ENGINE_MAX_POSITION_PCT")
	setFloat64(&cfg.Engine.MaxKellyFraction, "EDGEBOT_ENGINE_MAX_KELLY_FRACTION")
	setFloat64(&cfg.Engine.EstimateDiscount, "EDGEBOT_ENGINE_ESTIMATE_DISCOUNT")
	setInt(&cfg.Engine.MaxOpenPositions, "EDGEBOT_ENGINE_MAX_OPEN_POSITIONS")

	// ── Arena ──
	setBool(&cfg.Arena.Enabled, "EDGEBOT_ARENA_ENABLED")
	setStringSlice(&cfg.Arena.Active, "EDGEBOT_ARENA_ACTIVE")
	setStr(&cfg.Arena.LiveStrategy, "EDGEBOT_ARENA_LIVE_STRATEGY")
	setFloat64(&cfg.Arena.SimBankroll, "EDGEBOT_ARENA_SIM_BANKROLL")
	setStr(&cfg.Arena.StrategyFile, "EDGEBOT_ARENA_STRATEGY_FILE")

	// ── Live ──
	setFloat64(&cfg.Live.MaxOrderSize, "EDGEBOT_LIVE_MAX_ORDER_SIZE")
	setFloat64(&cfg.Live.MinOrderSize, "EDGEBOT_LIVE_MIN_ORDER_SIZE")
	setFloat64(&cfg.Live.BalanceReserve, "EDGEBOT_LIVE_BALANCE_RESERVE")
	setFloat64(&cfg.Live.StaleOrderHours, "EDGEBOT_LIVE_STALE_ORDER_HOURS")
	setDuration(&cfg.Live.FillPollEvery, "EDGEBOT_LIVE_FILL_POLL_EVERY")

	// ── Scanner ──
	setDuration(&cfg.Scanner.Interval, "EDGEBOT_SCANNER_INTERVAL")
	setInt(&cfg.Scanner.MarketLimit, "EDGEBOT_SCANNER_MARKET_LIMIT")
	setDuration(&cfg.Scanner.SignalMaxAge, "EDGEBOT_SCANNER_SIGNAL_MAX_AGE")
	setDuration(&cfg.Scanner.CooldownTTL, "EDGEBOT_SCANNER_COOLDOWN_TTL")
	setInt(&cfg.Scanner.AlertLimit, "EDGEBOT_SCANNER_ALERT_LIMIT")
	setDuration(&cfg.Scanner.AlertWindow, "EDGEBOT_SCANNER_ALERT_WINDOW")
	setInt(&cfg.Scanner.MaxConsecutiveFailures, "EDGEBOT_SCANNER_MAX_CONSECUTIVE_FAILURES")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "EDGEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "EDGEBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "EDGEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "EDGEBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "EDGEBOT_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EDGEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EDGEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EDGEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EDGEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "EDGEBOT_MODE")
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

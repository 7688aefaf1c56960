// Package config defines the top-level configuration for the edgebot
// decision engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by EDGEBOT_* environment variables.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Estimator  EstimatorConfig  `toml:"estimator"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Engine     EngineConfig     `toml:"engine"`
	Arena      ArenaConfig      `toml:"arena"`
	Live       LiveConfig       `toml:"live"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
}

// LogConfig controls log level and the optional rotating file sink.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"` // empty = stdout only
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// WalletConfig holds Ethereum wallet credentials used for live order signing.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters, and the
// CLOB L2 API credentials.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// EstimatorConfig holds the optional external probability estimator endpoint.
// When disabled, probability estimates come from the signal aggregator alone.
type EstimatorConfig struct {
	Enabled bool     `toml:"enabled"`
	BaseURL string   `toml:"base_url"`
	ApiKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
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
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
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

// ArchiveConfig controls the cold-storage archiver that pushes closed
// positions and audit batches to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// EngineConfig holds the primary namespace's sizing and filter parameters.
type EngineConfig struct {
	SimBankroll      float64 `toml:"sim_bankroll"`
	MinShares        int     `toml:"min_shares"`
	MinEdge          float64 `toml:"min_edge"`
	MaxPositionPct   float64 `toml:"max_position_pct"`
	MaxKellyFraction float64 `toml:"max_kelly_fraction"`
	EstimateDiscount float64 `toml:"estimate_discount"`
	MaxOpenPositions int     `toml:"max_open_positions"`
}

// StrategyTOML defines or overrides a named arena strategy. Field semantics
// match domain.StrategyParams; zero TPRatio/SLRatio defer to the
// confidence/cost tier tables at open time.
type StrategyTOML struct {
	Description        string  `toml:"description"`
	KellyFraction      float64 `toml:"kelly_fraction"`
	EstimateDiscount   float64 `toml:"estimate_discount"`
	MinEdge            float64 `toml:"min_edge"`
	MaxPositionPct     float64 `toml:"max_position_pct"`
	TPRatio            float64 `toml:"tp_ratio"`
	SLRatio            float64 `toml:"sl_ratio"`
	TrailingStop       bool    `toml:"trailing_stop"`
	TrailingActivation float64 `toml:"trailing_activation"`
	TrailingDistance   float64 `toml:"trailing_distance"`
	TightenAfterHours  float64 `toml:"tighten_after_hours"`
	TimeoutHours       float64 `toml:"timeout_hours"`
	MaxOpenPositions   int     `toml:"max_open_positions"`
	MinConfidence      float64 `toml:"min_confidence"`
	CorrelatedLimitPct float64 `toml:"correlated_limit_pct"`
}

// ArenaConfig holds the multi-strategy arena settings: which strategies run,
// which one mirrors to the live executor, custom strategy definitions, and
// the correlated-exposure keyword families.
type ArenaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Active       []string `toml:"active"`
	LiveStrategy string   `toml:"live_strategy"`
	SimBankroll  float64  `toml:"sim_bankroll"`
	// StrategyFile points to an optional YAML file with per-strategy field
	// overrides (whitelisted fields only, see overrides.go).
	StrategyFile string                  `toml:"strategy_file"`
	Strategies   map[string]StrategyTOML `toml:"strategies"`
	Correlation  map[string][]string     `toml:"correlation"`
}

// LiveConfig holds live mirroring parameters. Live mode is selected via
// Mode="live"; these fields shape how simulated entries scale onto the
// exchange.
type LiveConfig struct {
	MaxOrderSize    float64  `toml:"max_order_size"`
	MinOrderSize    float64  `toml:"min_order_size"`
	BalanceReserve  float64  `toml:"balance_reserve"`
	StaleOrderHours float64  `toml:"stale_order_hours"`
	FillPollEvery   duration `toml:"fill_poll_every"`
}

// ScannerConfig holds the cycle loop parameters.
type ScannerConfig struct {
	Interval               duration `toml:"interval"`
	MarketLimit            int      `toml:"market_limit"`
	SignalMaxAge           duration `toml:"signal_max_age"`
	CooldownTTL            duration `toml:"cooldown_ttl"`
	AlertLimit             int      `toml:"alert_limit"`
	AlertWindow            duration `toml:"alert_window"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Estimator: EstimatorConfig{
			Enabled: false,
			Timeout: duration{20 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "edgebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "edgebot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Engine: EngineConfig{
			SimBankroll:      1000.0,
			MinShares:        5,
			MinEdge:          0.02,
			MaxPositionPct:   0.10,
			MaxKellyFraction: 0.5,
			EstimateDiscount: 0.5,
			MaxOpenPositions: 8,
		},
		Arena: ArenaConfig{
			Enabled:      true,
			Active:       []string{"baseline", "aggressive", "conservative", "sniper", "trend_follower"},
			LiveStrategy: "baseline",
			SimBankroll:  1000.0,
			Strategies:   map[string]StrategyTOML{},
			Correlation: map[string][]string{
				"btc":   {"bitcoin", "btc"},
				"eth":   {"ethereum", "eth"},
				"trump": {"trump", "truth social"},
			},
		},
		Live: LiveConfig{
			MaxOrderSize:    15.0,
			MinOrderSize:    1.0,
			BalanceReserve:  0.95,
			StaleOrderHours: 12,
			FillPollEvery:   duration{30 * time.Second},
		},
		Scanner: ScannerConfig{
			Interval:               duration{5 * time.Minute},
			MarketLimit:            100,
			SignalMaxAge:           duration{24 * time.Hour},
			CooldownTTL:            duration{4 * time.Hour},
			AlertLimit:             5,
			AlertWindow:            duration{time.Hour},
			MaxConsecutiveFailures: 10,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "cycle_error", "leaderboard"},
		},
		Mode: "scan",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"live":    true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.Log.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, live, monitor)", c.Mode))
	}

	// Log
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		errs = append(errs, "log: max_size_mb must be > 0 when a log file is configured")
	}

	// Wallet — required only for live mirroring.
	if strings.ToLower(c.Mode) == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode live")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// Estimator
	if c.Estimator.Enabled {
		if c.Estimator.BaseURL == "" {
			errs = append(errs, "estimator: base_url must not be empty when enabled")
		}
		if c.Estimator.Timeout.Duration <= 0 {
			errs = append(errs, "estimator: timeout must be > 0")
		}
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.StreamMaxLen < 0 {
		errs = append(errs, "redis: stream_max_len must be >= 0")
	}

	// S3 — only required when the archiver runs.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Engine
	if c.Engine.SimBankroll <= 0 {
		errs = append(errs, "engine: sim_bankroll must be > 0")
	}
	if c.Engine.MinShares < 1 {
		errs = append(errs, "engine: min_shares must be >= 1")
	}
	if c.Engine.MinEdge < 0 {
		errs = append(errs, "engine: min_edge must be >= 0")
	}
	if c.Engine.MaxPositionPct <= 0 || c.Engine.MaxPositionPct > 1 {
		errs = append(errs, fmt.Sprintf("engine: max_position_pct must be in (0,1], got %v", c.Engine.MaxPositionPct))
	}
	if c.Engine.MaxKellyFraction <= 0 || c.Engine.MaxKellyFraction > 1 {
		errs = append(errs, fmt.Sprintf("engine: max_kelly_fraction must be in (0,1], got %v", c.Engine.MaxKellyFraction))
	}
	if c.Engine.EstimateDiscount < 0 || c.Engine.EstimateDiscount > 1 {
		errs = append(errs, fmt.Sprintf("engine: estimate_discount must be in [0,1], got %v", c.Engine.EstimateDiscount))
	}
	if c.Engine.MaxOpenPositions < 1 {
		errs = append(errs, "engine: max_open_positions must be >= 1")
	}

	// Arena
	if c.Arena.Enabled {
		if len(c.Arena.Active) == 0 {
			errs = append(errs, "arena: active must list at least one strategy when enabled")
		}
		if c.Arena.SimBankroll <= 0 {
			errs = append(errs, "arena: sim_bankroll must be > 0")
		}
		for name, s := range c.Arena.Strategies {
			errs = append(errs, validateStrategyTOML(name, s)...)
		}
	}

	// Live
	if strings.ToLower(c.Mode) == "live" {
		if c.Live.MaxOrderSize <= 0 {
			errs = append(errs, "live: max_order_size must be > 0")
		}
		if c.Live.MinOrderSize < 0 {
			errs = append(errs, "live: min_order_size must be >= 0")
		}
		if c.Live.MinOrderSize > c.Live.MaxOrderSize {
			errs = append(errs, "live: min_order_size must not exceed max_order_size")
		}
		if c.Live.BalanceReserve <= 0 || c.Live.BalanceReserve > 1 {
			errs = append(errs, fmt.Sprintf("live: balance_reserve must be in (0,1], got %v", c.Live.BalanceReserve))
		}
		if c.Live.FillPollEvery.Duration <= 0 {
			errs = append(errs, "live: fill_poll_every must be > 0")
		}
	}

	// Scanner
	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be > 0")
	}
	if c.Scanner.MarketLimit < 1 {
		errs = append(errs, "scanner: market_limit must be >= 1")
	}
	if c.Scanner.CooldownTTL.Duration < 0 {
		errs = append(errs, "scanner: cooldown_ttl must be >= 0")
	}
	if c.Scanner.AlertLimit < 0 {
		errs = append(errs, "scanner: alert_limit must be >= 0")
	}
	if c.Scanner.AlertLimit > 0 && c.Scanner.AlertWindow.Duration <= 0 {
		errs = append(errs, "scanner: alert_window must be > 0 when alert_limit is set")
	}
	if c.Scanner.MaxConsecutiveFailures < 1 {
		errs = append(errs, "scanner: max_consecutive_failures must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateStrategyTOML checks a custom strategy definition for out-of-range
// values. Zero TPRatio/SLRatio are valid (defer to the tier tables).
func validateStrategyTOML(name string, s StrategyTOML) []string {
	var errs []string
	prefix := fmt.Sprintf("arena.strategies.%s: ", name)

	if s.KellyFraction <= 0 || s.KellyFraction > 1 {
		errs = append(errs, prefix+fmt.Sprintf("kelly_fraction must be in (0,1], got %v", s.KellyFraction))
	}
	if s.EstimateDiscount < 0 || s.EstimateDiscount > 1 {
		errs = append(errs, prefix+fmt.Sprintf("estimate_discount must be in [0,1], got %v", s.EstimateDiscount))
	}
	if s.MinEdge < 0 {
		errs = append(errs, prefix+"min_edge must be >= 0")
	}
	if s.MaxPositionPct <= 0 || s.MaxPositionPct > 1 {
		errs = append(errs, prefix+fmt.Sprintf("max_position_pct must be in (0,1], got %v", s.MaxPositionPct))
	}
	if s.TPRatio < 0 || s.TPRatio > 1 {
		errs = append(errs, prefix+fmt.Sprintf("tp_ratio must be in [0,1], got %v", s.TPRatio))
	}
	if s.SLRatio < 0 || s.SLRatio > 1 {
		errs = append(errs, prefix+fmt.Sprintf("sl_ratio must be in [0,1], got %v", s.SLRatio))
	}
	if s.TrailingStop {
		if s.TrailingActivation <= 0 || s.TrailingActivation > 1 {
			errs = append(errs, prefix+fmt.Sprintf("trailing_activation must be in (0,1], got %v", s.TrailingActivation))
		}
		if s.TrailingDistance <= 0 || s.TrailingDistance >= 1 {
			errs = append(errs, prefix+fmt.Sprintf("trailing_distance must be in (0,1), got %v", s.TrailingDistance))
		}
	}
	if s.TightenAfterHours < 0 {
		errs = append(errs, prefix+"tighten_after_hours must be >= 0 (zero defers to the default)")
	}
	if s.TimeoutHours <= 0 {
		errs = append(errs, prefix+"timeout_hours must be > 0")
	}
	if s.TightenAfterHours > 0 && s.TightenAfterHours >= s.TimeoutHours {
		errs = append(errs, prefix+"tighten_after_hours must be below timeout_hours")
	}
	if s.MaxOpenPositions < 1 {
		errs = append(errs, prefix+"max_open_positions must be >= 1")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		errs = append(errs, prefix+fmt.Sprintf("min_confidence must be in [0,1], got %v", s.MinConfidence))
	}
	if s.CorrelatedLimitPct <= 0 || s.CorrelatedLimitPct > 1 {
		errs = append(errs, prefix+fmt.Sprintf("correlated_limit_pct must be in (0,1], got %v", s.CorrelatedLimitPct))
	}
	return errs
}

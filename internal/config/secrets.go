package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	out.Wallet = cfg.Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Polymarket CLOB credentials
	out.Polymarket = cfg.Polymarket
	redact(&out.Polymarket.ApiKey)
	redact(&out.Polymarket.ApiSecret)
	redact(&out.Polymarket.ApiPassphrase)

	// Estimator
	out.Estimator = cfg.Estimator
	redact(&out.Estimator.ApiKey)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	out.Server = cfg.Server
	redact(&out.Server.APIKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Arena.Active != nil {
		out.Arena.Active = make([]string, len(cfg.Arena.Active))
		copy(out.Arena.Active, cfg.Arena.Active)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Arena.Strategies != nil {
		out.Arena.Strategies = make(map[string]StrategyTOML, len(cfg.Arena.Strategies))
		for k, v := range cfg.Arena.Strategies {
			out.Arena.Strategies[k] = v
		}
	}
	if cfg.Arena.Correlation != nil {
		out.Arena.Correlation = make(map[string][]string, len(cfg.Arena.Correlation))
		for k, v := range cfg.Arena.Correlation {
			words := make([]string, len(v))
			copy(words, v)
			out.Arena.Correlation[k] = words
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/dkrueger/edgebot/internal/blob/s3"
	"github.com/dkrueger/edgebot/internal/cache/redis"
	"github.com/dkrueger/edgebot/internal/config"
	"github.com/dkrueger/edgebot/internal/domain"
	"github.com/dkrueger/edgebot/internal/notify"
	"github.com/dkrueger/edgebot/internal/store/postgres"
)

// AuditPruner deletes audit rows older than a cutoff once the archive cycle
// has copied them to object storage. Satisfied by *postgres.AuditStore.
type AuditPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore    domain.MarketStore
	SignalStore    domain.SignalStore
	PositionStore  domain.PositionStore
	OrderStore     domain.OrderStore
	RejectionStore domain.RejectionStore
	StateStore     domain.StrategyStateStore
	AuditStore     domain.AuditStore
	AuditPruner    AuditPruner

	// Caches
	PriceCache    domain.PriceCache
	BookCache     domain.BookCache
	MarketCache   domain.MarketCache
	CooldownCache domain.CooldownCache
	AlertLimiter  domain.AlertLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus

	// Blob storage (only when archiving is enabled)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Infra handles, kept for health probes.
	PG    *postgres.Client
	Cache *redis.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
//
// Postgres and Redis are required in every mode: the decision journal backs
// the read-only API even in monitor mode, and the signal stream lives in
// Redis. S3 is connected only when archiving is enabled.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.PG = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	auditStore := postgres.NewAuditStore(pool)
	positionStore := postgres.NewPositionStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.SignalStore = postgres.NewSignalStore(pool)
	deps.PositionStore = positionStore
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.RejectionStore = postgres.NewRejectionStore(pool)
	deps.StateStore = postgres.NewStrategyStateStore(pool)
	deps.AuditStore = auditStore
	deps.AuditPruner = auditStore

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Cache = redisClient

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.BookCache = redis.NewBookCache(redisClient)
	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.CooldownCache = redis.NewCooldownCache(redisClient)
	deps.AlertLimiter = redis.NewAlertLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)

	// --- S3 blob storage (only when the archive cycle runs) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, positionStore, auditStore, auditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

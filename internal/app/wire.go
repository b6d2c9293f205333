package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/clearinghouse/internal/blob/s3"
	"github.com/alanyoungcy/clearinghouse/internal/cache/redis"
	"github.com/alanyoungcy/clearinghouse/internal/config"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/notify"
	"github.com/alanyoungcy/clearinghouse/internal/service"
	"github.com/alanyoungcy/clearinghouse/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Agreements domain.AgreementStore
	Events     domain.EventStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
//
// Demo mode runs entirely in-memory: no Postgres, Redis, or S3 connections
// are made, and the stores are backed by the service package's memory
// implementations.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if strings.ToLower(cfg.Mode) == "demo" {
		deps.Agreements = service.NewMemAgreementStore()
		deps.Events = service.NewMemEventStore()
		deps.Notifier = notify.NewNotifier(nil, cfg.Notify.Events, logger)
		return deps, cleanup, nil
	}

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

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := migrateUnderLock(ctx, deps.LockManager, pgClient, logger); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Agreements = postgres.NewAgreementStore(pool)
	deps.Events = postgres.NewEventStore(pool)

	// --- S3 blob storage (agreement archives) ---
	if cfg.S3.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter)
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

// migrateUnderLock serializes schema migrations across replicas with a
// distributed lock. A replica that loses the race waits for the holder to
// finish and then runs the (idempotent) migrations itself.
func migrateUnderLock(ctx context.Context, locks domain.LockManager, pg *postgres.Client, logger *slog.Logger) error {
	for {
		unlock, err := locks.Acquire(ctx, "clearing:migrations", 2*time.Minute)
		if err == nil {
			defer unlock()
			return pg.RunMigrations(ctx)
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("acquire migration lock: %w", err)
		}

		logger.Info("migration lock held by another replica, waiting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// seedLedger builds a settlement ledger from the configured opening balances
// and returns it together with the token contracts to register.
func seedLedger(cfg config.LedgerConfig) (*ledger.Ledger, []ledger.Token, error) {
	led := ledger.New()
	for addr, balance := range cfg.Accounts {
		if balance == 0 {
			continue
		}
		if err := led.Mint(common.HexToAddress(addr), big.NewInt(balance)); err != nil {
			return nil, nil, fmt.Errorf("wire: seed account %s: %w", addr, err)
		}
	}

	tokens := make([]ledger.Token, 0, len(cfg.Tokens))
	for _, addr := range cfg.Tokens {
		tokens = append(tokens, ledger.NewMemToken(common.HexToAddress(addr)))
	}
	return led, tokens, nil
}

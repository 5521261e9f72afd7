package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/poolbot/internal/blob/s3"
	"github.com/alanyoungcy/poolbot/internal/cache/redis"
	"github.com/alanyoungcy/poolbot/internal/config"
	"github.com/alanyoungcy/poolbot/internal/crypto"
	"github.com/alanyoungcy/poolbot/internal/domain"
	"github.com/alanyoungcy/poolbot/internal/history"
	"github.com/alanyoungcy/poolbot/internal/metrics"
	"github.com/alanyoungcy/poolbot/internal/notify"
	"github.com/alanyoungcy/poolbot/internal/platform/chain"
	"github.com/alanyoungcy/poolbot/internal/service"
	"github.com/alanyoungcy/poolbot/internal/store/postgres"
	"github.com/alanyoungcy/poolbot/internal/store/sqlite"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional components are nil when their backend is disabled.
type Dependencies struct {
	Markets []domain.Market
	Ledger  *chain.Client
	History *history.Store

	// Postgres
	Trades *postgres.TradeStore
	Audit  *postgres.AuditStore

	// Redis
	SnapshotCache domain.SnapshotCache
	SignalBus     domain.SignalBus
	RateLimiter   domain.RateLimiter

	// LockManager is Redis backed when Redis is enabled and in-process
	// otherwise.
	LockManager domain.LockManager

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
}

// TradeStore returns the trade journal as an interface, nil when Postgres is
// disabled.
func (d *Dependencies) TradeStore() domain.TradeStore {
	if d.Trades == nil {
		return nil
	}
	return d.Trades
}

// AuditStore returns the audit log as an interface, nil when Postgres is
// disabled.
func (d *Dependencies) AuditStore() domain.AuditStore {
	if d.Audit == nil {
		return nil
	}
	return d.Audit
}

// needsS3 reports whether object storage must be connected.
func needsS3(cfg *config.Config) bool {
	return cfg.History.Backend == "s3" || (cfg.S3.Archive && cfg.Postgres.Enabled)
}

// hasWallet reports whether any wallet credential is configured.
func hasWallet(cfg *config.Config) bool {
	return cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != ""
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Market registry ---
	markets, err := config.LoadMarkets(cfg.Markets.Path)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Markets = markets

	// --- Ledger ---
	var signer *crypto.Signer
	if cfg.NeedsWallet() || hasWallet(cfg) {
		signer, err = crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		}, cfg.Chain.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: wallet: %w", err))
		}
	}
	ledger, err := chain.Dial(ctx, chain.Config{
		RPCURL:              cfg.Chain.RPCURL,
		TokenAddress:        cfg.Chain.TokenAddress,
		TokenDecimals:       int32(cfg.Chain.TokenDecimals),
		ReceiptPollInterval: cfg.Chain.ReceiptPollInterval.Duration,
		ConfirmTimeout:      cfg.Chain.ConfirmTimeout.Duration,
	}, signer, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, ledger.Close)
	deps.Ledger = ledger

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SnapshotCache = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	} else {
		deps.LockManager = service.NewLocalLocks()
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		if err := s3Client.CheckBucket(ctx); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- History ---
	var backend domain.HistoryBackend
	switch strings.ToLower(cfg.History.Backend) {
	case "s3":
		backend = history.NewBlobBackend(deps.BlobWriter, deps.BlobReader, cfg.History.S3Key)
	case "sqlite":
		db, err := sqlite.Open(cfg.History.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		backend = db
	default:
		backend = history.NewFileBackend(cfg.History.Path)
	}
	deps.History = history.NewStore(backend, cfg.History.Capacity, logger)
	if err := deps.History.Load(ctx); err != nil {
		logger.WarnContext(ctx, "history could not be loaded, starting empty",
			slog.String("backend", cfg.History.Backend),
			slog.String("error", err.Error()),
		)
	}

	// --- Archive ---
	if cfg.S3.Archive && deps.Trades != nil && deps.BlobWriter != nil {
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Trades, deps.Audit, logger)
	}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
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

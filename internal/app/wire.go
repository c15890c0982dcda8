package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/karb/internal/blob/s3"
	"github.com/alanyoungcy/karb/internal/book"
	"github.com/alanyoungcy/karb/internal/bus"
	"github.com/alanyoungcy/karb/internal/cache/redis"
	"github.com/alanyoungcy/karb/internal/config"
	"github.com/alanyoungcy/karb/internal/crypto"
	"github.com/alanyoungcy/karb/internal/domain"
	"github.com/alanyoungcy/karb/internal/notify"
	"github.com/alanyoungcy/karb/internal/platform/polymarket"
	"github.com/alanyoungcy/karb/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Constructed by Wire and
// torn down by the returned cleanup function. Optional members are nil for
// modes that do not use them.
type Dependencies struct {
	Gateway domain.ExchangeGateway
	Clob    *polymarket.ClobClient
	Books   *book.Store

	Bus    domain.EventBus
	Mirror domain.BookMirror
	Locks  domain.LockManager

	Attempts      domain.AttemptStore
	Opportunities domain.OpportunityStore
	Positions     domain.PositionStore
	Audit         domain.AuditStore

	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// needsPostgres reports whether the mode persists state.
func needsPostgres(mode string) bool {
	return mode == "trade" || mode == "monitor"
}

// needsRedis reports whether the mode uses the shared cache. One-shot modes
// run on the in-process bus instead.
func needsRedis(mode string) bool {
	return mode == "trade" || mode == "monitor"
}

// Wire constructs the concrete dependency implementations for the configured
// mode and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Books: book.NewStore(logger),
	}

	if needsPostgres(cfg.Mode) {
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

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Attempts = postgres.NewAttemptStore(pool)
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	if needsRedis(cfg.Mode) {
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

		deps.Bus = redis.NewEventBus(redisClient)
		deps.Mirror = redis.NewBookMirror(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	} else {
		deps.Bus = bus.NewInProc()
	}

	if cfg.Archive.Enabled && deps.Audit != nil {
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

		deps.Archiver = s3blob.NewArchiver(
			s3blob.ArchiverConfig{
				Interval:  cfg.Archive.Interval.Duration,
				Retention: time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
			},
			logger,
			s3blob.NewWriter(s3Client),
			deps.Opportunities,
			deps.Attempts,
			deps.Audit,
		)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// Venue gateway. The signer is only built when the wallet is configured;
	// read-only modes run unauthenticated.
	var signer *crypto.Signer
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadPrivateKey(crypto.KeySource{
			RawHex:        cfg.Wallet.PrivateKey,
			EncryptedPath: cfg.Wallet.EncryptedKeyPath,
			Password:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load wallet key: %w", err)
		}
		signer, err = crypto.NewSigner(keyHex, int64(cfg.Polymarket.ChainID))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
	}

	creds := crypto.APICreds{
		Key:        cfg.Polymarket.ApiKey,
		Secret:     cfg.Polymarket.ApiSecret,
		Passphrase: cfg.Polymarket.ApiPassphrase,
	}
	deps.Clob = polymarket.NewClobClient(
		cfg.Polymarket.ClobHost, signer, creds,
		cfg.Polymarket.ExchangeContract, cfg.Polymarket.RequestsPerSecond,
	)
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	ws := polymarket.NewWSClient(cfg.Polymarket.WsHost, logger)
	deps.Gateway = polymarket.NewGateway(deps.Clob, gamma, ws, cfg.Polymarket.MaxMarkets)

	return deps, cleanup, nil
}

// ticksFromDollars converts a decimal dollar amount from configuration to
// ticks.
func ticksFromDollars(dollars float64) int64 {
	return decimal.NewFromFloat(dollars).Shift(6).Round(0).IntPart()
}

// unitsFromShares converts a share count from configuration to size units.
func unitsFromShares(shares float64) int64 {
	return decimal.NewFromFloat(shares).Shift(6).Round(0).IntPart()
}

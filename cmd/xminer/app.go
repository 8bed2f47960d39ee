package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"xminer/internal/config"
	"xminer/internal/publisher"
	"xminer/internal/service"
	"xminer/internal/source/xapi"
	"xminer/internal/storage/postgres"
	"xminer/internal/throttle"
)

// app wires the dependencies shared by every command: config, logger,
// database handle, the selected API backend and the throttle governor.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sqlx.DB
	source    service.Source
	governor  *throttle.Governor
	txManager *postgres.TransactionManager
	tweets    *postgres.TweetStore
	profiles  *postgres.ProfileStore
	trends    *postgres.TrendStore
	syncState *postgres.SyncStateStore
	publisher *publisher.RabbitMQ
	lockHeld  bool
}

// newApp loads the configuration and connects everything. When withLock
// is set the session-level run lock is taken; a second concurrent run
// would race the watermark reads, so failing to get it is fatal.
func newApp(ctx context.Context, withLock bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		txManager: postgres.NewTransactionManager(db),
		tweets:    postgres.NewTweetStore(db),
		profiles:  postgres.NewProfileStore(db),
		trends:    postgres.NewTrendStore(db),
		syncState: postgres.NewSyncStateStore(db),
	}

	if withLock {
		ok, err := postgres.TryRunLock(ctx, db)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			a.close()
			return nil, fmt.Errorf("another run is already in progress")
		}
		a.lockHeld = true
	}

	a.source, err = newSource(cfg.API, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.governor = throttle.New(throttle.Config{
		Fallback: cfg.Sync.FallbackSleep,
		Margin:   cfg.Sync.ResetMargin,
	}, logger)

	return a, nil
}

func newSource(cfg config.APIConfig, logger *slog.Logger) (service.Source, error) {
	switch cfg.Mode {
	case "official":
		return xapi.NewOfficial(xapi.OfficialConfig{
			BaseURL:           cfg.BaseURL,
			BearerToken:       cfg.BearerToken,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			TweetFields:       cfg.TweetFields,
		}, logger), nil
	case "twitterapiio":
		return xapi.NewProxy(xapi.ProxyConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.ProxyAPIKey,
			Timeout: cfg.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown api.mode %q", cfg.Mode)
	}
}

// connectPublisher opens the RabbitMQ publisher when events are enabled.
// Disabled or failed connects leave the publisher nil; ingestion works
// fine without it.
func (a *app) connectPublisher() {
	if !a.cfg.RabbitMQ.Enabled {
		return
	}
	pub, err := publisher.NewRabbitMQ(publisher.Config{
		URL:        a.cfg.RabbitMQ.URL,
		Exchange:   a.cfg.RabbitMQ.Exchange,
		RoutingKey: a.cfg.RabbitMQ.RoutingKey,
		QueueName:  a.cfg.RabbitMQ.QueueName,
	}, a.logger)
	if err != nil {
		a.logger.Warn("rabbitmq unavailable, events disabled", "error", err)
		return
	}
	a.publisher = pub
}

func (a *app) ingestService() *service.IngestService {
	var pub service.Publisher
	if a.publisher != nil {
		pub = a.publisher
	}
	return service.NewIngestService(
		a.source,
		a.tweets,
		a.profiles,
		a.syncState,
		a.txManager,
		pub,
		a.governor,
		a.logger,
		a.cfg.Sync,
		a.cfg.API.PageSize,
	)
}

func (a *app) gapScanner() *service.GapScanner {
	return service.NewGapScanner(
		a.source,
		a.tweets,
		a.profiles,
		a.txManager,
		a.governor,
		a.logger,
		a.cfg.Backfill,
		a.cfg.API.PageSize,
	)
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("close publisher", "error", err)
		}
	}
	if a.lockHeld {
		if err := postgres.ReleaseRunLock(context.Background(), a.db); err != nil {
			a.logger.Error("release run lock", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("close database", "error", err)
	}
}

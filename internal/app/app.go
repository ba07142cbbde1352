package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/db"
	httpserver "github.com/yungbote/planforge-backend/internal/http"
	"github.com/yungbote/planforge-backend/internal/observability"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/temporalx"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Services Services
	Server   *httpserver.Server
	Metrics  *observability.Metrics

	dbService    *db.Service
	redis        redis.UniversalClient
	temporal     temporalsdkclient.Client
	otelShutdown func(context.Context) error
}

func New(ctx context.Context, cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode, logger.WithRedaction(true, cfg.LogSalt))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{Log: log, Cfg: cfg}

	a.otelShutdown = observability.InitOTel(ctx, log, cfg.Otel)
	a.Metrics = observability.New(cfg.Metrics)

	dbService, err := db.Open(log, cfg.DB)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.dbService = dbService
	a.DB = dbService.DB()

	if cfg.Redis.Enabled() {
		rdb, err := newRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rdb
	}

	tc, err := newTemporalClient(log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.temporal = tc

	a.Repos = wireRepos(a.DB, log)
	a.Services, err = wireServices(a.DB, log, cfg, a.Repos, a.redis, a.Metrics, tc)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Server = wireHTTP(a.DB, log, cfg, a.Services, a.Metrics)
	return a, nil
}

func newRedisClient(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       cfg.Addrs,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// newTemporalClient avoids handing a typed nil to callers that test the interface.
func newTemporalClient(log *logger.Logger, cfg Config) (temporalsdkclient.Client, error) {
	if !cfg.Temporal.Enabled() {
		return nil, nil
	}
	tc, err := temporalx.NewClient(log, cfg.Temporal)
	if err != nil {
		return nil, fmt.Errorf("init temporal: %w", err)
	}
	return tc, nil
}

func (a *App) Migrate() error {
	return a.dbService.AutoMigrateAll()
}

// RunServer serves the API and runs background generation until ctx is done.
func (a *App) RunServer(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startCollectors(ctx)
	g.Go(func() error { return a.runBackground(ctx) })
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
		return a.Server.Run(ctx, a.Cfg.HTTPAddr)
	})
	return ignoreCanceled(g.Wait())
}

// RunWorker runs background generation only.
func (a *App) RunWorker(ctx context.Context) error {
	a.startCollectors(ctx)
	if a.Metrics != nil && a.Cfg.Metrics.Addr != "" {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.Metrics.Addr)
	}
	return ignoreCanceled(a.runBackground(ctx))
}

func (a *App) runBackground(ctx context.Context) error {
	if a.Services.TemporalRunner != nil {
		if err := a.Services.TemporalRunner.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
		return a.Services.JobWorker.RunReconciler(ctx)
	}
	return a.Services.JobWorker.Run(ctx)
}

// Reconcile runs one stale-attempt sweep.
func (a *App) Reconcile(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = a.Cfg.Worker.StaleAttempt
	}
	return a.Services.Reservations.Reconcile(ctx, staleAfter)
}

func (a *App) startCollectors(ctx context.Context) {
	if a.Metrics == nil {
		return
	}
	a.Metrics.StartDBCollector(ctx, a.Log, a.DB)
	a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB)
	if a.redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.redis)
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil {
			a.Log.Warn("Database close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

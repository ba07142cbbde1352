package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/lock"
	"github.com/yungbote/planforge-backend/internal/generation/orchestrator"
	"github.com/yungbote/planforge-backend/internal/generation/provider/chain"
	"github.com/yungbote/planforge-backend/internal/generation/reservation"
	"github.com/yungbote/planforge-backend/internal/jobs/worker"
	"github.com/yungbote/planforge-backend/internal/observability"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/services"
	"github.com/yungbote/planforge-backend/internal/temporalx"
	"github.com/yungbote/planforge-backend/internal/temporalx/plangen"
	"github.com/yungbote/planforge-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Reservations *reservation.Manager
	Orchestrator *orchestrator.Orchestrator
	Plans        services.PlanService
	Generation   services.PlanGenerationService
	Schedules    services.ScheduleService

	// Exactly one of JobWorker's claim loops or TemporalRunner executes jobs.
	JobWorker      *worker.Worker
	TemporalRunner *temporalworker.Runner
}

func wireLocker(cfg Config, rdb redis.UniversalClient) (lock.Locker, error) {
	switch cfg.Lock.Backend {
	case LockMemory:
		return lock.NewMemoryLocker(), nil
	case LockRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis lock backend without a redis client")
		}
		opts := []lock.RedisOption{lock.WithPrefix("planforge:lock:")}
		if cfg.Lock.TTL > 0 {
			opts = append(opts, lock.WithTTL(cfg.Lock.TTL))
		}
		if cfg.Lock.MaxWait > 0 {
			opts = append(opts, lock.WithMaxWait(cfg.Lock.MaxWait))
		}
		return lock.NewRedisLocker(rdb, opts...), nil
	default:
		return lock.NewRowLocker(), nil
	}
}

func wireServices(
	db *gorm.DB,
	log *logger.Logger,
	cfg Config,
	reposet Repos,
	rdb redis.UniversalClient,
	metrics *observability.Metrics,
	tc temporalsdkclient.Client,
) (Services, error) {
	log.Info("Wiring services...")

	locker, err := wireLocker(cfg, rdb)
	if err != nil {
		return Services{}, err
	}
	opts := []reservation.Option{}
	if metrics != nil {
		opts = append(opts, reservation.WithMetrics(metrics))
	}
	reservations := reservation.NewManager(db, log, reservation.Repos{
		Plans:      reposet.Plan,
		Attempts:   reposet.Attempt,
		Curriculum: reposet.Curriculum,
	}, locker, cfg.Limits, opts...)

	router, err := chain.Build(log, cfg.Env, cfg.Providers)
	if err != nil {
		return Services{}, fmt.Errorf("build provider chain: %w", err)
	}
	log.Info("Provider chain ready", "providers", router.Names())
	orch := orchestrator.New(log, reservations, router, cfg.Timeout)

	var dispatcher services.JobDispatcher
	if tc != nil {
		dispatcher = plangen.NewDispatcher(tc, temporalx.WithDefaults(cfg.Temporal).TaskQueue, reposet.JobRun)
	}
	generation := services.NewPlanGenerationService(db, log, reposet.Plan, reposet.JobRun, orch, dispatcher)

	out := Services{
		Reservations: reservations,
		Orchestrator: orch,
		Plans:        services.NewPlanService(db, log, reposet.Plan, reposet.Attempt, reposet.Curriculum),
		Generation:   generation,
		Schedules:    services.NewScheduleService(db, log, reposet.Plan, reposet.Curriculum, reposet.Schedule),
		JobWorker:    worker.NewWorker(log, reposet.JobRun, generation, reservations, cfg.Worker),
	}
	if tc != nil {
		runner, err := temporalworker.NewRunner(log, tc, cfg.Temporal, &plangen.Activities{
			Log:        log,
			Generation: generation,
			Jobs:       reposet.JobRun,
		})
		if err != nil {
			return Services{}, err
		}
		out.TemporalRunner = runner
	}
	return out, nil
}

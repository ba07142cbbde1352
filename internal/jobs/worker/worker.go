package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/domain/jobs"
	"github.com/yungbote/planforge-backend/internal/generation/orchestrator"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/services"
)

type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// StaleRunning is how long a running job may go without a heartbeat
	// before another worker reclaims it.
	StaleRunning time.Duration
	// ReconcileInterval is how often stale in_progress attempts are swept.
	// Zero disables the sweep.
	ReconcileInterval time.Duration
	StaleAttempt      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		PollInterval:      time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleRunning:      2 * time.Minute,
		ReconcileInterval: time.Minute,
		StaleAttempt:      10 * time.Minute,
	}
}

// Reconciler fails attempts left in_progress by a dead process.
type Reconciler interface {
	Reconcile(ctx context.Context, staleAfter time.Duration) (int, error)
}

type Worker struct {
	log        *logger.Logger
	repo       repos.JobRunRepo
	generation services.PlanGenerationService
	reconciler Reconciler
	cfg        Config
}

func NewWorker(baseLog *logger.Logger, repo repos.JobRunRepo, generation services.PlanGenerationService, reconciler Reconciler, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.StaleRunning <= 0 {
		cfg.StaleRunning = def.StaleRunning
	}
	if cfg.StaleAttempt <= 0 {
		cfg.StaleAttempt = def.StaleAttempt
	}
	return &Worker{
		log:        baseLog.With("component", "JobWorker"),
		repo:       repo,
		generation: generation,
		reconciler: reconciler,
		cfg:        cfg,
	}
}

// Run blocks until ctx is done, polling for jobs on cfg.Concurrency loops and
// sweeping stale attempts on its own ticker.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.runLoop(ctx, workerID)
			return nil
		})
	}
	if w.reconciler != nil && w.cfg.ReconcileInterval > 0 {
		g.Go(func() error {
			w.reconcileLoop(ctx)
			return nil
		})
	}
	return g.Wait()
}

// RunReconciler only sweeps stale attempts. It is used when another backend
// owns job execution.
func (w *Worker) RunReconciler(ctx context.Context) error {
	if w.reconciler == nil || w.cfg.ReconcileInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	w.reconcileLoop(ctx)
	return nil
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain the queue before waiting on the next tick.
			for ctx.Err() == nil {
				ran, err := w.ProcessOne(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

func (w *Worker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.reconciler.Reconcile(ctx, w.cfg.StaleAttempt); err != nil && ctx.Err() == nil {
				w.log.Warn("Reconcile sweep failed", "error", err)
			}
		}
	}
}

// ProcessOne claims and runs a single job. It reports false when the queue
// was empty. Job failures are recorded on the job, not returned.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.New(ctx), w.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(hbCtx, job.ID)

	result, runErr := func() (res map[string]any, err error) {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
				err = errFromRecover(r)
			}
		}()
		return w.dispatch(ctx, job)
	}()
	stopHeartbeat()

	w.finish(context.WithoutCancel(ctx), job, result, runErr)
	return true, nil
}

func (w *Worker) dispatch(ctx context.Context, job *types.JobRun) (map[string]any, error) {
	if job.JobType != jobs.JobTypePlanGeneration {
		return nil, &missingHandlerError{JobType: job.JobType}
	}
	var payload services.GenerationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.PlanID == uuid.Nil {
		payload.PlanID = job.EntityID
	}
	out, err := w.generation.Generate(ctx, job.OwnerUserID, payload.PlanID, nil)
	if err != nil {
		return nil, err
	}
	return OutcomeResult(out)
}

// OutcomeResult summarizes an attempt for the job's result column. A failed
// attempt is returned as an error so the job is marked failed.
func OutcomeResult(out orchestrator.Outcome) (map[string]any, error) {
	switch o := out.(type) {
	case *orchestrator.Success:
		return map[string]any{
			"attempt_id":     o.AttemptID,
			"attempt_number": o.AttemptNumber,
			"modules":        len(o.Modules),
			"duration_ms":    o.DurationMs,
		}, nil
	case *orchestrator.Failure:
		res := map[string]any{
			"classification": string(o.Classification),
			"rejected":       o.Rejected,
			"terminal":       o.Terminal,
		}
		if o.AttemptID != uuid.Nil {
			res["attempt_id"] = o.AttemptID
		}
		return res, &attemptFailedError{Classification: string(o.Classification)}
	default:
		return nil, fmt.Errorf("unexpected outcome %T", out)
	}
}

func (w *Worker) finish(ctx context.Context, job *types.JobRun, result map[string]any, runErr error) {
	status := jobs.StatusSucceeded
	errText := ""
	if runErr != nil {
		status = jobs.StatusFailed
		errText = runErr.Error()
		var af *attemptFailedError
		if !errors.As(runErr, &af) {
			w.log.Warn("Job failed", "job_id", job.ID, "job_type", job.JobType, "error", runErr)
		}
	}
	if result == nil {
		result = map[string]any{}
	}
	raw, _ := json.Marshal(result)
	now := time.Now().UTC()
	err := w.repo.UpdateFields(dbctx.New(ctx), job.ID, map[string]interface{}{
		"status":       status,
		"error":        errText,
		"result":       datatypes.JSON(raw),
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if err != nil {
		w.log.Error("Failed to record job result", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) heartbeat(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(dbctx.New(ctx), jobID); err != nil && ctx.Err() == nil {
				w.log.Warn("Heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

type attemptFailedError struct{ Classification string }

func (e *attemptFailedError) Error() string { return "generation attempt failed: " + e.Classification }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }

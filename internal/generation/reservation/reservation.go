// Package reservation admits, finalizes, and reconciles plan generation
// attempts. Every decision runs in one transaction under a per-user lock.
package reservation

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/lock"
	"github.com/yungbote/planforge-backend/internal/data/repos"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

var (
	// ErrPlanNotFound covers both a missing plan and one owned by someone else.
	ErrPlanNotFound         = errors.New("plan not found")
	ErrAttemptMismatch      = errors.New("attempt does not match reservation")
	ErrAttemptNotInProgress = errors.New("attempt is no longer in progress")
	ErrEmptyCurriculum      = errors.New("cannot finalize an empty curriculum")
)

type Config struct {
	Window            time.Duration
	WindowLimit       int
	AttemptCap        int
	MaxModules        int
	MaxTasksPerModule int
}

func DefaultConfig() Config {
	return Config{
		Window:            24 * time.Hour,
		WindowLimit:       10,
		AttemptCap:        3,
		MaxModules:        12,
		MaxTasksPerModule: 20,
	}
}

// DefaultAllowedStatuses admits first runs and retries. generating is
// included so a duplicate trigger is answered with in_progress; a generating
// plan with nothing running is still rejected as invalid_status.
var DefaultAllowedStatuses = []types.GenerationStatus{
	types.GenerationPending,
	types.GenerationPendingRetry,
	types.GenerationGenerating,
}

// Result is either *Reserved or *Rejected.
type Result interface {
	isResult()
}

type Reserved struct {
	AttemptID     uuid.UUID
	PlanID        uuid.UUID
	UserID        uuid.UUID
	AttemptNumber int
	StartedAt     time.Time
	Input         generation.Sanitized
	PromptHash    string
}

type Rejected struct {
	Reason        failure.Classification
	RetryAfter    time.Duration
	CurrentStatus types.GenerationStatus
}

func (*Reserved) isResult() {}
func (*Rejected) isResult() {}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r *Rejected) RetryAfterSeconds() int {
	if r == nil || r.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

type Repos struct {
	Plans      repos.PlanRepo
	Attempts   repos.AttemptRepo
	Curriculum repos.CurriculumRepo
}

type Manager struct {
	db      *gorm.DB
	log     *logger.Logger
	repos   Repos
	locker  lock.Locker
	metrics MetricsSink
	cfg     Config
	now     func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithMetrics(sink MetricsSink) Option { return func(m *Manager) { m.metrics = sink } }

func NewManager(db *gorm.DB, log *logger.Logger, r Repos, locker lock.Locker, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = def.WindowLimit
	}
	if cfg.AttemptCap <= 0 {
		cfg.AttemptCap = def.AttemptCap
	}
	if cfg.MaxModules <= 0 {
		cfg.MaxModules = def.MaxModules
	}
	if cfg.MaxTasksPerModule <= 0 {
		cfg.MaxTasksPerModule = def.MaxTasksPerModule
	}
	if log == nil {
		log = logger.NewNop()
	}
	m := &Manager{
		db:      db,
		log:     log.With("service", "AttemptReservationManager"),
		repos:   r,
		locker:  locker,
		metrics: nopSink{},
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

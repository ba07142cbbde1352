package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/domain/jobs"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/generation/reservation"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type MetricsConfig struct {
	Enabled        bool
	Addr           string
	ScrapeInterval time.Duration
}

type writer interface {
	WritePrometheus(w io.Writer) error
}

// Metrics is the process-wide metrics registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	attempts         *CounterVec
	attemptDuration  *HistogramVec
	attemptTasks     *HistogramVec
	attemptTerminal  *Counter
	attemptReconcile *Counter
	rejections       *CounterVec

	queueDepth *GaugeVec
	pgStats    *GaugeVec
	redisUp    *Gauge
	redisPing  *Gauge

	scrapeInterval time.Duration
	all            []writer
}

// New returns nil when metrics are disabled.
func New(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	interval := cfg.ScrapeInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &Metrics{
		apiRequests: NewCounterVec("pf_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"pf_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("pf_api_inflight_requests", "In-flight API requests."),
		attempts:    NewCounterVec("pf_generation_attempts_total", "Finalized generation attempts by status/classification.", []string{"status", "classification"}),
		attemptDuration: NewHistogramVec(
			"pf_generation_attempt_duration_seconds",
			"Generation attempt duration in seconds by status.",
			[]string{"status"},
			[]float64{1, 2.5, 5, 10, 20, 30, 45, 60, 120},
		),
		attemptTasks: NewHistogramVec(
			"pf_generation_attempt_tasks",
			"Tasks persisted per successful attempt.",
			nil,
			[]float64{1, 5, 10, 20, 40, 80, 160, 240},
		),
		attemptTerminal:  NewCounter("pf_generation_terminal_failures_total", "Failures that moved a plan to failed."),
		attemptReconcile: NewCounter("pf_generation_reconciled_total", "Stale attempts failed by the reconciler."),
		rejections:       NewCounterVec("pf_generation_rejections_total", "Reservation rejections by reason.", []string{"reason"}),
		queueDepth:       NewGaugeVec("pf_job_queue_depth", "Job runs by status.", []string{"status"}),
		pgStats:          NewGaugeVec("pf_db_pool", "Database pool statistics.", []string{"stat"}),
		redisUp:          NewGauge("pf_redis_up", "Whether the last Redis ping succeeded."),
		redisPing:        NewGauge("pf_redis_ping_seconds", "Latency of the last Redis ping."),
		scrapeInterval:   interval,
	}
	m.all = []writer{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.attempts, m.attemptDuration, m.attemptTasks, m.attemptTerminal, m.attemptReconcile, m.rejections,
		m.queueDepth, m.pgStats, m.redisUp, m.redisPing,
	}
	return m
}

// RecordAttempt implements reservation.MetricsSink.
func (m *Metrics) RecordAttempt(_ context.Context, o reservation.Outcome) {
	if m == nil {
		return
	}
	class := string(o.Classification)
	if class == "" {
		class = "none"
	}
	status := string(o.Status)
	m.attempts.Inc(status, class)
	m.attemptDuration.Observe(float64(o.DurationMs)/1000, status)
	if o.Status == types.AttemptSuccess {
		m.attemptTasks.Observe(float64(o.TasksCount))
	}
	if o.Terminal {
		m.attemptTerminal.Inc()
	}
	if o.Reconciled {
		m.attemptReconcile.Inc()
	}
}

func (m *Metrics) IncRejection(reason failure.Classification) {
	if m == nil {
		return
	}
	m.rejections.Inc(string(reason))
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.all {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// StartServer serves /metrics on a dedicated address until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go m.every(ctx, func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: db stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
		m.pgStats.Set(float64(stats.InUse), "in_use")
		m.pgStats.Set(float64(stats.Idle), "idle")
		m.pgStats.Set(float64(stats.WaitCount), "wait_count")
		m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
		m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	go m.every(ctx, func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			if log != nil && ctx.Err() == nil {
				log.Warn("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	statuses := []string{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded, jobs.StatusFailed}
	go m.every(ctx, func() {
		for _, s := range statuses {
			m.queueDepth.Set(0, s)
		}
		var rows []struct {
			Status string
			Count  int64
		}
		if err := db.WithContext(ctx).
			Model(&types.JobRun{}).
			Select("status, count(*) as count").
			Group("status").
			Scan(&rows).Error; err != nil {
			if log != nil && ctx.Err() == nil {
				log.Warn("metrics: job queue depth query failed", "error", err)
			}
			return
		}
		for _, row := range rows {
			status := strings.TrimSpace(row.Status)
			if status == "" {
				status = "unknown"
			}
			m.queueDepth.Set(float64(row.Count), status)
		}
	})
}

func (m *Metrics) every(ctx context.Context, fn func()) {
	ticker := time.NewTicker(m.scrapeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

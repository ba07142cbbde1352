package observability

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/generation/reservation"
)

var (
	_ reservation.MetricsSink   = (*Metrics)(nil)
	_ reservation.RejectionSink = (*Metrics)(nil)
)

func TestRecordAttemptCountsByStatusAndClassification(t *testing.T) {
	m := New(MetricsConfig{Enabled: true})
	ctx := context.Background()
	m.RecordAttempt(ctx, reservation.Outcome{AttemptID: uuid.New(), Status: types.AttemptSuccess, DurationMs: 1500, TasksCount: 2})
	m.RecordAttempt(ctx, reservation.Outcome{AttemptID: uuid.New(), Status: types.AttemptFailure, Classification: failure.Timeout, Terminal: true})
	m.RecordAttempt(ctx, reservation.Outcome{AttemptID: uuid.New(), Status: types.AttemptFailure, Classification: failure.Timeout, Reconciled: true})
	m.IncRejection(failure.Capped)

	if got := m.attempts.Value("success", "none"); got != 1 {
		t.Fatalf("success count: want 1, got %v", got)
	}
	if got := m.attempts.Value("failure", "timeout"); got != 2 {
		t.Fatalf("timeout count: want 2, got %v", got)
	}
	if got := m.attemptTerminal.Value(); got != 1 {
		t.Fatalf("terminal: want 1, got %v", got)
	}
	if got := m.attemptReconcile.Value(); got != 1 {
		t.Fatalf("reconciled: want 1, got %v", got)
	}

	var b strings.Builder
	if err := m.WritePrometheus(&b); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := b.String()
	for _, want := range []string{
		"# HELP pf_generation_attempts_total ",
		"# TYPE pf_generation_attempts_total counter\n",
		"# TYPE pf_generation_attempt_duration_seconds histogram\n",
		`pf_generation_attempts_total{status="failure",classification="timeout"} 2.000000`,
		`pf_generation_rejections_total{reason="capped"} 1.000000`,
		`pf_generation_attempt_duration_seconds_bucket{status="success",le="2.5"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordAttempt(context.Background(), reservation.Outcome{})
	m.IncRejection(failure.RateLimited)
	m.ObserveAPI("GET", "/healthz", "200", 0)
	if err := m.WritePrometheus(&strings.Builder{}); err != nil {
		t.Fatalf("nil WritePrometheus: %v", err)
	}
	if New(MetricsConfig{}) != nil {
		t.Fatal("disabled metrics should be nil")
	}
}

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization=Bearer x , bad, =y, k=v ")
	if len(got) != 2 || got["authorization"] != "Bearer x" || got["k"] != "v" {
		t.Fatalf("unexpected headers: %#v", got)
	}
	if ParseHeaders("  ") != nil {
		t.Fatal("blank input should yield nil")
	}
}

// Package orchestrator runs one plan generation attempt end to end: reserve,
// generate under the adaptive timeout, parse, pace, and finalize.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/generation"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/generation/pacing"
	"github.com/yungbote/planforge-backend/internal/generation/parser"
	"github.com/yungbote/planforge-backend/internal/generation/prompt"
	"github.com/yungbote/planforge-backend/internal/generation/provider"
	"github.com/yungbote/planforge-backend/internal/generation/reservation"
	"github.com/yungbote/planforge-backend/internal/generation/timeout"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// ErrRejected wraps every reservation-level rejection.
var ErrRejected = errors.New("attempt rejected")

// Generator is satisfied by *provider.Router and by any single Provider.
type Generator interface {
	Generate(ctx context.Context, req provider.Request) (*provider.Result, error)
}

type Options struct {
	// AllowedStatuses overrides reservation.DefaultAllowedStatuses.
	AllowedStatuses []types.GenerationStatus
	// Timeout overrides the orchestrator's timeout config for this attempt.
	Timeout *timeout.Config
}

// Outcome is either *Success or *Failure.
type Outcome interface {
	isOutcome()
}

type Success struct {
	AttemptID       uuid.UUID
	PlanID          uuid.UUID
	AttemptNumber   int
	Modules         []generation.Module
	RawText         string
	Metadata        reservation.Metadata
	DurationMs      int64
	ExtendedTimeout bool
	TimedOut        bool
}

type Failure struct {
	Classification failure.Classification
	Err            error
	// AttemptID is uuid.Nil when the attempt was rejected before reservation.
	AttemptID       uuid.UUID
	AttemptNumber   int
	Rejected        bool
	// Reason is the reservation's rejection reason; empty unless Rejected.
	Reason          failure.Classification
	RetryAfter      time.Duration
	// CurrentStatus is the plan status that caused a rejection, or the one
	// the failed attempt left the plan in. Empty if finalization failed.
	CurrentStatus   types.GenerationStatus
	Retryable       bool
	Terminal        bool
	DurationMs      int64
	TimedOut        bool
	ExtendedTimeout bool
}

// Public is the classification shown to end users. Rejections report their
// reservation reason.
func (f *Failure) Public() failure.Classification {
	if f.Rejected && f.Reason != "" {
		return f.Reason
	}
	return f.Classification
}

func (*Success) isOutcome() {}
func (*Failure) isOutcome() {}

type Orchestrator struct {
	log          *logger.Logger
	reservations *reservation.Manager
	gen          Generator
	timeouts     timeout.Config
	now          func() time.Time
	tracer       trace.Tracer
}

func New(log *logger.Logger, reservations *reservation.Manager, gen Generator, timeouts timeout.Config) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		log:          log.With("service", "GenerationOrchestrator"),
		reservations: reservations,
		gen:          gen,
		timeouts:     timeouts,
		now:          func() time.Time { return time.Now().UTC() },
		tracer:       otel.Tracer("planforge/generation"),
	}
}

// Run executes one attempt. Every expected failure, rejections included, is
// returned as a *Failure with a nil error. The error is reserved for cases
// where no decision could be made at all, such as an unknown plan or a
// database outage during reservation.
func (o *Orchestrator) Run(ctx context.Context, ac generation.AttemptContext, opts Options) (Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "generation.attempt", trace.WithAttributes(
		attribute.String("plan.id", ac.PlanID.String()),
	))
	defer span.End()
	start := time.Now()

	res, err := o.reserve(ctx, ac, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return nil, err
	}
	if rej, ok := res.(*reservation.Rejected); ok {
		class := rejection(rej.Reason)
		span.SetAttributes(attribute.String("attempt.rejected", string(rej.Reason)))
		return &Failure{
			Classification: class,
			Err:            fmt.Errorf("%w: %s", ErrRejected, rej.Reason),
			Rejected:       true,
			Reason:         rej.Reason,
			RetryAfter:     rej.RetryAfter,
			CurrentStatus:  rej.CurrentStatus,
			Retryable:      class == failure.RateLimit,
			DurationMs:     time.Since(start).Milliseconds(),
		}, nil
	}
	reserved := res.(*reservation.Reserved)
	span.SetAttributes(
		attribute.String("attempt.id", reserved.AttemptID.String()),
		attribute.Int("attempt.number", reserved.AttemptNumber),
	)

	cfg := o.timeouts
	if opts.Timeout != nil {
		cfg = *opts.Timeout
	}
	ctrl := timeout.New(ctx, cfg)
	defer ctrl.Complete()

	var meta reservation.Metadata
	out, err := o.generate(ctrl, reserved, &meta)
	if err != nil {
		f := o.fail(ctx, ctrl, reserved, start, meta, err)
		span.SetAttributes(attribute.String("attempt.classification", string(f.Classification)))
		span.SetStatus(codes.Error, string(f.Classification))
		return f, nil
	}
	ctrl.Complete()

	paced := pacing.Pace(out.Modules, reserved.Input.Input, o.now())
	meta.Timeout = reservation.TimeoutInfo{Extended: ctrl.DidExtend()}
	meta.Pacing = &reservation.PacingInfo{
		Trimmed:         paced.Trimmed,
		CapacityMinutes: paced.CapacityMinutes,
		TasksBefore:     paced.TasksBefore,
		TasksAfter:      paced.TasksAfter,
	}

	// Finalization must land even if the caller has gone away.
	fctx := context.WithoutCancel(ctx)
	durationMs := time.Since(start).Milliseconds()
	done, err := o.reservations.FinalizeSuccess(fctx, reserved, reservation.SuccessInput{
		AttemptID:  reserved.AttemptID,
		PlanID:     reserved.PlanID,
		Modules:    paced.Modules,
		DurationMs: durationMs,
		Metadata:   meta,
	})
	if err != nil {
		o.log.Error("Finalize success failed", "plan_id", reserved.PlanID, "attempt_id", reserved.AttemptID, "error", err)
		f := o.fail(ctx, ctrl, reserved, start, meta, err)
		span.SetStatus(codes.Error, string(f.Classification))
		return f, nil
	}

	span.SetAttributes(attribute.Int("plan.modules", done.ModulesCount), attribute.Int("plan.tasks", done.TasksCount))
	return &Success{
		AttemptID:       reserved.AttemptID,
		PlanID:          reserved.PlanID,
		AttemptNumber:   reserved.AttemptNumber,
		Modules:         done.Modules,
		RawText:         out.RawText,
		Metadata:        done.Metadata,
		DurationMs:      durationMs,
		ExtendedTimeout: ctrl.DidExtend(),
	}, nil
}

func (o *Orchestrator) reserve(ctx context.Context, ac generation.AttemptContext, opts Options) (reservation.Result, error) {
	ctx, span := o.tracer.Start(ctx, "generation.reserve")
	defer span.End()
	return o.reservations.Reserve(ctx, reservation.ReserveRequest{
		PlanID:          ac.PlanID,
		UserID:          ac.UserID,
		Input:           ac.Input,
		AllowedStatuses: opts.AllowedStatuses,
	})
}

// generate calls the provider chain and parses its stream under the
// controller's context. Provider metadata is recorded into meta as soon as it
// is known so failures can report which provider was involved.
func (o *Orchestrator) generate(ctrl *timeout.Controller, reserved *reservation.Reserved, meta *reservation.Metadata) (*generation.ParsedGeneration, error) {
	ctx, span := o.tracer.Start(ctrl.Context(), "generation.provider")
	defer span.End()

	res, err := o.gen.Generate(ctx, prompt.Build(reserved.Input.Input))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	pm := res.Metadata
	meta.Provider = &pm
	span.SetAttributes(attribute.String("provider.name", pm.Provider), attribute.Int("provider.tries", pm.Tries))

	parsed, err := parser.ParseStream(ctx, res.Stream, parser.Options{OnFirstModule: ctrl.NotifyFirstModule})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return parsed, nil
}

func (o *Orchestrator) fail(ctx context.Context, ctrl *timeout.Controller, reserved *reservation.Reserved, start time.Time, meta reservation.Metadata, cause error) *Failure {
	timedOut := ctrl.TimedOut()
	class, retryable := Classify(cause, timedOut)
	meta.Timeout = reservation.TimeoutInfo{Extended: ctrl.DidExtend(), TimedOut: timedOut}
	info := &reservation.FailureInfo{Kind: string(class)}
	var pe *provider.Error
	if errors.As(cause, &pe) {
		info.Kind = string(pe.Kind)
		info.StatusCode = pe.StatusCode
		info.Provider = pe.Provider
	}
	meta.Failure = info
	durationMs := time.Since(start).Milliseconds()

	o.log.Warn("Generation attempt failed",
		"plan_id", reserved.PlanID,
		"attempt_id", reserved.AttemptID,
		"classification", class,
		"timed_out", timedOut,
		"error", cause,
	)

	f := &Failure{
		Classification:  class,
		Err:             cause,
		AttemptID:       reserved.AttemptID,
		AttemptNumber:   reserved.AttemptNumber,
		Retryable:       retryable,
		DurationMs:      durationMs,
		TimedOut:        timedOut,
		ExtendedTimeout: meta.Timeout.Extended,
	}
	out, err := o.reservations.FinalizeFailure(context.WithoutCancel(ctx), reserved, reservation.FailureInput{
		AttemptID:      reserved.AttemptID,
		PlanID:         reserved.PlanID,
		Classification: class,
		Retryable:      retryable,
		DurationMs:     durationMs,
		Metadata:       meta,
	})
	if err != nil {
		// The attempt stays in_progress until the reconciler picks it up.
		o.log.Error("Finalize failure failed", "plan_id", reserved.PlanID, "attempt_id", reserved.AttemptID, "error", err)
		return f
	}
	f.Terminal = out.Terminal
	f.CurrentStatus = out.PlanStatus
	return f
}

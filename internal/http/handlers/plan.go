package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/planforge-backend/internal/generation"
	"github.com/yungbote/planforge-backend/internal/generation/failure"
	"github.com/yungbote/planforge-backend/internal/generation/orchestrator"
	"github.com/yungbote/planforge-backend/internal/http/response"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/apierr"
	"github.com/yungbote/planforge-backend/internal/platform/ctxutil"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/services"
)

type PlanHandler struct {
	log        *logger.Logger
	plans      services.PlanService
	generation services.PlanGenerationService
	schedules  services.ScheduleService
}

func NewPlanHandler(log *logger.Logger, plans services.PlanService, generation services.PlanGenerationService, schedules services.ScheduleService) *PlanHandler {
	return &PlanHandler{
		log:        log.With("handler", "PlanHandler"),
		plans:      plans,
		generation: generation,
		schedules:  schedules,
	}
}

// POST /api/plans
func (h *PlanHandler) CreatePlan(c *gin.Context) {
	var in services.CreatePlanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	plan, err := h.plans.Create(dbctx.New(c.Request.Context()), ctxutil.UserID(c.Request.Context()), in)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"plan": plan})
}

// GET /api/plans
func (h *PlanHandler) ListPlans(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	plans, err := h.plans.ListForUser(dbctx.New(c.Request.Context()), ctxutil.UserID(c.Request.Context()), limit)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"plans": plans})
}

// GET /api/plans/:id
func (h *PlanHandler) GetPlan(c *gin.Context) {
	planID, ok := planIDParam(c)
	if !ok {
		return
	}
	dbc := dbctx.New(c.Request.Context())
	userID := ctxutil.UserID(c.Request.Context())
	plan, err := h.plans.Get(dbc, userID, planID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	modules, err := h.plans.Curriculum(dbc, userID, planID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"plan": plan, "modules": modules})
}

// GET /api/plans/:id/attempts
func (h *PlanHandler) ListAttempts(c *gin.Context) {
	planID, ok := planIDParam(c)
	if !ok {
		return
	}
	attempts, err := h.plans.Attempts(dbctx.New(c.Request.Context()), ctxutil.UserID(c.Request.Context()), planID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"attempts": attempts})
}

// GET /api/plans/:id/schedule
func (h *PlanHandler) GetSchedule(c *gin.Context) {
	planID, ok := planIDParam(c)
	if !ok {
		return
	}
	schedule, err := h.schedules.Get(dbctx.New(c.Request.Context()), ctxutil.UserID(c.Request.Context()), planID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"schedule": schedule})
}

// POST /api/plans/:id/generate
func (h *PlanHandler) Generate(c *gin.Context) {
	planID, ok := planIDParam(c)
	if !ok {
		return
	}
	userID := ctxutil.UserID(c.Request.Context())
	out, err := h.generation.Generate(c.Request.Context(), userID, planID, nil)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	switch o := out.(type) {
	case *orchestrator.Success:
		response.RespondOK(c, gin.H{
			"attemptId":       o.AttemptID,
			"attemptNumber":   o.AttemptNumber,
			"modulesCount":    len(o.Modules),
			"tasksCount":      generation.CountTasks(o.Modules),
			"durationMs":      o.DurationMs,
			"extendedTimeout": o.ExtendedTimeout,
		})
	case *orchestrator.Failure:
		if !o.Rejected {
			h.log.Warn("Generation attempt failed",
				"plan_id", planID,
				"attempt_id", o.AttemptID,
				"classification", o.Classification,
				"terminal", o.Terminal,
				"error", o.Err,
			)
		}
		ae := failure.APIError(o.Public())
		if o.RetryAfter > 0 {
			ae.RetryAfterSeconds = int(math.Ceil(o.RetryAfter.Seconds()))
		}
		response.RespondAPIError(c, ae)
	default:
		response.RespondAPIError(c, nil)
	}
}

// POST /api/plans/:id/generate/async
func (h *PlanHandler) GenerateAsync(c *gin.Context) {
	planID, ok := planIDParam(c)
	if !ok {
		return
	}
	job, created, err := h.generation.Enqueue(c.Request.Context(), ctxutil.UserID(c.Request.Context()), planID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if !created {
		response.RespondOK(c, gin.H{"job": job, "created": false})
		return
	}
	response.RespondAccepted(c, gin.H{"job": job, "created": true})
}

func (h *PlanHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrPlanNotFound):
		response.RespondError(c, http.StatusNotFound, "plan_not_found", services.ErrPlanNotFound)
	case errors.Is(err, services.ErrInvalidPlan):
		response.RespondError(c, http.StatusBadRequest, "invalid_plan", err)
	case errors.Is(err, services.ErrPlanNotReady):
		response.RespondError(c, http.StatusConflict, "plan_not_ready", services.ErrPlanNotReady)
	default:
		h.log.Error("Plan request failed", "path", c.FullPath(), "error", err)
		response.RespondAPIError(c, apierr.From(err))
	}
}

func planIDParam(c *gin.Context) (uuid.UUID, bool) {
	planID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_plan_id", err)
		return uuid.Nil, false
	}
	return planID, true
}

package planning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/planforge-backend/internal/data/db"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type PlanRepo interface {
	Create(dbc dbctx.Context, plan *types.LearningPlan) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LearningPlan, error)
	GetForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.LearningPlan, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.LearningPlan, error)
	ListIDsByStatus(dbc dbctx.Context, status types.GenerationStatus, limit int) ([]uuid.UUID, error)
	SetGenerationStatus(dbc dbctx.Context, id uuid.UUID, status types.GenerationStatus, quotaEligible *bool) error
	MarkReady(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type planRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
	return &planRepo{
		db:  db,
		log: baseLog.With("repo", "PlanRepo"),
	}
}

func (r *planRepo) Create(dbc dbctx.Context, plan *types.LearningPlan) error {
	return dbc.DB(r.db).Create(plan).Error
}

func (r *planRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LearningPlan, error) {
	return r.get(dbc.DB(r.db), id)
}

// GetForUpdate row-locks the plan on postgres. Only meaningful inside a transaction.
func (r *planRepo) GetForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.LearningPlan, error) {
	q := dbc.DB(r.db)
	if db.IsPostgres(q) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.get(q, id)
}

func (r *planRepo) get(q *gorm.DB, id uuid.UUID) (*types.LearningPlan, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var plan types.LearningPlan
	if err := q.Where("id = ?", id).Limit(1).Find(&plan).Error; err != nil {
		return nil, err
	}
	if plan.ID == uuid.Nil {
		return nil, nil
	}
	return &plan, nil
}

func (r *planRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.LearningPlan, error) {
	var out []*types.LearningPlan
	if userID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	err := dbc.DB(r.db).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *planRepo) ListIDsByStatus(dbc dbctx.Context, status types.GenerationStatus, limit int) ([]uuid.UUID, error) {
	var plans []*types.LearningPlan
	if limit <= 0 {
		limit = 100
	}
	if err := dbc.DB(r.db).
		Select("id").
		Where("generation_status = ?", status).
		Order("updated_at ASC").
		Limit(limit).
		Find(&plans).Error; err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(plans))
	for _, p := range plans {
		out = append(out, p.ID)
	}
	return out, nil
}

func (r *planRepo) SetGenerationStatus(dbc dbctx.Context, id uuid.UUID, status types.GenerationStatus, quotaEligible *bool) error {
	updates := map[string]interface{}{
		"generation_status": status,
		"updated_at":        time.Now().UTC(),
	}
	if quotaEligible != nil {
		updates["is_quota_eligible"] = *quotaEligible
	}
	return dbc.DB(r.db).Model(&types.LearningPlan{}).Where("id = ?", id).Updates(updates).Error
}

// MarkReady moves a plan from generating to ready. It reports false when the
// plan was not generating, e.g. because a later attempt already moved it on.
func (r *planRepo) MarkReady(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	res := dbc.DB(r.db).Model(&types.LearningPlan{}).
		Where("id = ? AND generation_status = ?", id, types.GenerationGenerating).
		Updates(map[string]interface{}{
			"generation_status": types.GenerationReady,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

package planning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type AttemptRepo interface {
	Create(dbc dbctx.Context, attempt *types.GenerationAttempt) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationAttempt, error)
	ListByPlan(dbc dbctx.Context, planID uuid.UUID) ([]*types.GenerationAttempt, error)
	CountByPlan(dbc dbctx.Context, planID uuid.UUID) (total int64, inProgress int64, err error)
	CountByUserSince(dbc dbctx.Context, userID uuid.UUID, since time.Time) (int64, error)
	OldestByUserSince(dbc dbctx.Context, userID uuid.UUID, since time.Time) (*types.GenerationAttempt, error)
	FinalizeInProgress(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	ListStaleInProgress(dbc dbctx.Context, before time.Time, limit int) ([]*types.GenerationAttempt, error)
}

type attemptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAttemptRepo(db *gorm.DB, baseLog *logger.Logger) AttemptRepo {
	return &attemptRepo{
		db:  db,
		log: baseLog.With("repo", "AttemptRepo"),
	}
}

func (r *attemptRepo) Create(dbc dbctx.Context, attempt *types.GenerationAttempt) error {
	return dbc.DB(r.db).Create(attempt).Error
}

func (r *attemptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationAttempt, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var a types.GenerationAttempt
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&a).Error; err != nil {
		return nil, err
	}
	if a.ID == uuid.Nil {
		return nil, nil
	}
	return &a, nil
}

func (r *attemptRepo) ListByPlan(dbc dbctx.Context, planID uuid.UUID) ([]*types.GenerationAttempt, error) {
	var out []*types.GenerationAttempt
	err := dbc.DB(r.db).
		Where("plan_id = ?", planID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *attemptRepo) CountByPlan(dbc dbctx.Context, planID uuid.UUID) (int64, int64, error) {
	q := dbc.DB(r.db)
	var total, inProgress int64
	if err := q.Model(&types.GenerationAttempt{}).
		Where("plan_id = ?", planID).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := q.Model(&types.GenerationAttempt{}).
		Where("plan_id = ? AND status = ?", planID, types.AttemptInProgress).
		Count(&inProgress).Error; err != nil {
		return 0, 0, err
	}
	return total, inProgress, nil
}

// userPlans scopes attempts to plans owned by userID.
func userPlans(q *gorm.DB, userID uuid.UUID) *gorm.DB {
	return q.Model(&types.LearningPlan{}).Select("id").Where("user_id = ?", userID)
}

func (r *attemptRepo) CountByUserSince(dbc dbctx.Context, userID uuid.UUID, since time.Time) (int64, error) {
	q := dbc.DB(r.db)
	var n int64
	err := q.Model(&types.GenerationAttempt{}).
		Where("plan_id IN (?)", userPlans(q, userID)).
		Where("created_at > ?", since.UTC()).
		Count(&n).Error
	return n, err
}

func (r *attemptRepo) OldestByUserSince(dbc dbctx.Context, userID uuid.UUID, since time.Time) (*types.GenerationAttempt, error) {
	q := dbc.DB(r.db)
	var a types.GenerationAttempt
	err := q.Where("plan_id IN (?)", userPlans(q, userID)).
		Where("created_at > ?", since.UTC()).
		Order("created_at ASC").
		Limit(1).
		Find(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == uuid.Nil {
		return nil, nil
	}
	return &a, nil
}

// FinalizeInProgress applies updates only while the attempt is still
// in_progress, so an attempt transitions out of in_progress exactly once.
func (r *attemptRepo) FinalizeInProgress(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	res := dbc.DB(r.db).Model(&types.GenerationAttempt{}).
		Where("id = ? AND status = ?", id, types.AttemptInProgress).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *attemptRepo) ListStaleInProgress(dbc dbctx.Context, before time.Time, limit int) ([]*types.GenerationAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.GenerationAttempt
	err := dbc.DB(r.db).
		Where("status = ? AND created_at < ?", types.AttemptInProgress, before.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

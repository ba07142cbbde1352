package planning

import (
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type CurriculumRepo interface {
	// ReplaceForPlan deletes the plan's modules and tasks and inserts the given
	// tree. Call it inside a transaction so readers never see a partial tree.
	ReplaceForPlan(dbc dbctx.Context, planID uuid.UUID, modules []*types.PlanModule) error
	ListByPlan(dbc dbctx.Context, planID uuid.UUID) ([]*types.PlanModule, error)
	CountByPlan(dbc dbctx.Context, planID uuid.UUID) (modules int64, tasks int64, err error)
}

type curriculumRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCurriculumRepo(db *gorm.DB, baseLog *logger.Logger) CurriculumRepo {
	return &curriculumRepo{
		db:  db,
		log: baseLog.With("repo", "CurriculumRepo"),
	}
}

func (r *curriculumRepo) ReplaceForPlan(dbc dbctx.Context, planID uuid.UUID, modules []*types.PlanModule) error {
	q := dbc.DB(r.db)
	if err := q.Where("plan_id = ?", planID).Delete(&types.PlanTask{}).Error; err != nil {
		return err
	}
	if err := q.Where("plan_id = ?", planID).Delete(&types.PlanModule{}).Error; err != nil {
		return err
	}
	if len(modules) == 0 {
		return nil
	}
	for _, m := range modules {
		m.PlanID = planID
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		for i := range m.Tasks {
			m.Tasks[i].PlanID = planID
			m.Tasks[i].ModuleID = m.ID
		}
	}
	// Modules first, then tasks, so the insert order matches the FK direction.
	if err := q.Omit("Tasks").Create(&modules).Error; err != nil {
		return err
	}
	tasks := make([]*types.PlanTask, 0)
	for _, m := range modules {
		for i := range m.Tasks {
			tasks = append(tasks, &m.Tasks[i])
		}
	}
	if len(tasks) == 0 {
		return nil
	}
	return q.Create(&tasks).Error
}

// ListByPlan returns modules in position order with their tasks in position order.
func (r *curriculumRepo) ListByPlan(dbc dbctx.Context, planID uuid.UUID) ([]*types.PlanModule, error) {
	var out []*types.PlanModule
	err := dbc.DB(r.db).
		Where("plan_id = ?", planID).
		Order("position ASC").
		Preload("Tasks", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *curriculumRepo) CountByPlan(dbc dbctx.Context, planID uuid.UUID) (int64, int64, error) {
	q := dbc.DB(r.db)
	var modules, tasks int64
	if err := q.Model(&types.PlanModule{}).Where("plan_id = ?", planID).Count(&modules).Error; err != nil {
		return 0, 0, err
	}
	if err := q.Model(&types.PlanTask{}).Where("plan_id = ?", planID).Count(&tasks).Error; err != nil {
		return 0, 0, err
	}
	return modules, tasks, nil
}

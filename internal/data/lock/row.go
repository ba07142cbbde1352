package lock

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/planforge-backend/internal/data/db"
	types "github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

// RowLocker locks a row in generation_locks for the lifetime of the caller's
// transaction. On postgres the row lock is held until commit or rollback; on
// sqlite the write lock taken by the upsert serializes writers instead.
type RowLocker struct{}

func NewRowLocker() *RowLocker { return &RowLocker{} }

func (RowLocker) Acquire(dbc dbctx.Context, key string) (func(), error) {
	if dbc.Tx == nil {
		return nil, ErrNoTransaction
	}
	tx := dbc.DB(nil)

	row := types.GenerationLock{Key: key, CreatedAt: time.Now().UTC()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, err
	}

	cond := &types.GenerationLock{Key: key}
	q := tx.Model(&types.GenerationLock{}).Where(cond)
	if db.IsPostgres(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	} else {
		// Touch the row so sqlite escalates to its write lock now, not at commit.
		if err := tx.Model(&types.GenerationLock{}).Where(cond).
			Update("created_at", gorm.Expr("created_at")).Error; err != nil {
			return nil, err
		}
	}
	var held types.GenerationLock
	if err := q.Take(&held).Error; err != nil {
		return nil, err
	}
	return noop, nil
}

// Package lock provides the per-user mutual exclusion used to serialize
// reservation decisions. Keys carry the full user id; they are never hashed
// down to a smaller space.
package lock

import (
	"errors"

	"github.com/google/uuid"

	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

var ErrNoTransaction = errors.New("lock: row locker requires a transaction")

// Locker acquires a named lock for the unit of work carried by dbc. The
// returned release must be called after the transaction has ended; lockers
// whose lock lives inside the transaction return a no-op release.
type Locker interface {
	Acquire(dbc dbctx.Context, key string) (release func(), err error)
}

// UserKey is the lock name for all reservation decisions of one user.
func UserKey(userID uuid.UUID) string {
	return "user:" + userID.String()
}

func noop() {}

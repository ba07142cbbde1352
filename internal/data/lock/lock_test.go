package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/data/repos/testutil"
	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

func TestUserKeyKeepsFullID(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "user:"+id.String(), UserKey(id))
	assert.NotEqual(t, UserKey(uuid.New()), UserKey(uuid.New()))
}

// exerciseMutualExclusion runs workers that each hold the same key briefly
// and fails if two are ever inside the critical section together.
func exerciseMutualExclusion(t *testing.T, l Locker, key string) {
	t.Helper()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(dbctx.New(context.Background()), key)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestMemoryLockerSerializesSameKey(t *testing.T) {
	l := NewMemoryLocker()
	exerciseMutualExclusion(t, l, UserKey(uuid.New()))
	assert.Empty(t, l.locks, "entries are dropped once unreferenced")
}

func TestMemoryLockerDifferentKeysDoNotContend(t *testing.T) {
	l := NewMemoryLocker()
	ctx := dbctx.New(context.Background())
	r1, err := l.Acquire(ctx, UserKey(uuid.New()))
	require.NoError(t, err)
	defer r1()

	done := make(chan struct{})
	go func() {
		r2, err := l.Acquire(ctx, UserKey(uuid.New()))
		if err == nil {
			r2()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second user blocked on first user's lock")
	}
}

func TestMemoryLockerReleaseIsIdempotent(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.Acquire(dbctx.New(context.Background()), "k")
	require.NoError(t, err)
	release()
	release()
	release, err = l.Acquire(dbctx.New(context.Background()), "k")
	require.NoError(t, err)
	release()
}

func TestRowLockerRequiresTransaction(t *testing.T) {
	_, err := NewRowLocker().Acquire(dbctx.New(context.Background()), "k")
	assert.ErrorIs(t, err, ErrNoTransaction)
}

func TestRowLockerCreatesLockRowOnce(t *testing.T) {
	gdb := testutil.DB(t)
	ctx := context.Background()
	key := UserKey(uuid.New())

	for range 2 {
		err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := NewRowLocker().Acquire(dbctx.Context{Ctx: ctx, Tx: tx}, key)
			return err
		})
		require.NoError(t, err)
	}
	var n int64
	require.NoError(t, gdb.Table("generation_locks").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func redisClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis lock tests")
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisLockerSerializesSameKey(t *testing.T) {
	c := redisClient(t)
	l := NewRedisLocker(c, WithPrefix("test:"+uuid.NewString()+":"), withPoll(time.Millisecond))
	exerciseMutualExclusion(t, l, UserKey(uuid.New()))
}

func TestRedisLockerTimesOut(t *testing.T) {
	c := redisClient(t)
	l := NewRedisLocker(c, WithPrefix("test:"+uuid.NewString()+":"), WithMaxWait(20*time.Millisecond), withPoll(5*time.Millisecond))
	ctx := dbctx.New(context.Background())

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

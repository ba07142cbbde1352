package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/planforge-backend/internal/pkg/dbctx"
)

var ErrLockTimeout = errors.New("lock: timed out waiting for lock")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a cross-process lock for deployments whose store lacks row
// locks. The TTL bounds how long a crashed holder can block the key.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

type RedisOption func(*RedisLocker)

func WithTTL(d time.Duration) RedisOption { return func(l *RedisLocker) { l.ttl = d } }
func WithMaxWait(d time.Duration) RedisOption { return func(l *RedisLocker) { l.wait = d } }
func WithPrefix(p string) RedisOption { return func(l *RedisLocker) { l.prefix = p } }
func withPoll(d time.Duration) RedisOption { return func(l *RedisLocker) { l.poll = d } }

func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: "planforge:lock:",
		ttl:    30 * time.Second,
		wait:   10 * time.Second,
		poll:   25 * time.Millisecond,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *RedisLocker) Acquire(dbc dbctx.Context, key string) (func(), error) {
	ctx := dbc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	name := l.prefix + key
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return func() {
		// Release even if the request ctx is already cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client, []string{name}, token).Err()
	}, nil
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT LOCK
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the key only while it still carries our token, so
// a holder whose TTL expired cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type heldLock struct {
	key string
}

// StudentLock implements shared.StudentLocker across processes with
// SET NX PX and a token-checked release. Nested calls with the context
// passed to fn run directly.
type StudentLock struct {
	client  redis.UniversalClient
	ttl     time.Duration
	retrier *retry.Retrier
	log     *logger.Logger
}

// StudentLockConfig tunes acquisition.
type StudentLockConfig struct {
	TTL      time.Duration
	Attempts int
}

// DefaultStudentLockConfig returns the defaults.
func DefaultStudentLockConfig() StudentLockConfig {
	return StudentLockConfig{TTL: TTLStudentLock, Attempts: 50}
}

// NewStudentLock creates the lock.
func NewStudentLock(client redis.UniversalClient, cfg StudentLockConfig, log *logger.Logger) *StudentLock {
	if cfg.TTL <= 0 {
		cfg.TTL = TTLStudentLock
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 50
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &StudentLock{
		client: client,
		ttl:    cfg.TTL,
		retrier: retry.LockRetrier(cfg.Attempts, func(err error) bool {
			return errors.Is(err, shared.ErrLockNotAcquired)
		}),
		log: log.With(logger.Component("student_lock")),
	}
}

// WithStudentLock runs fn while holding the student's lock.
func (l *StudentLock) WithStudentLock(ctx context.Context, studentID string, fn func(ctx context.Context) error) error {
	key := LockKey(studentID)
	if ctx.Value(heldLock{key: key}) != nil {
		return fn(ctx)
	}

	token := uuid.NewString()
	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return shared.WrapError("lock", "Acquire", shared.ErrStoreUnavailable, "redis unavailable", err)
		}
		if !ok {
			return shared.ErrLockNotAcquired
		}
		return nil
	})
	if err != nil {
		return err
	}

	defer func() {
		// Release with a fresh context so a cancelled caller still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("lock release failed", logger.StudentID(studentID), logger.Err(err))
		}
	}()

	return fn(context.WithValue(ctx, heldLock{key: key}, token))
}

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const runLockKey = "ltv-pipeline:run-lock"

// releaseScript deletes the lock key only when it still holds our
// token, so a run that outlived its TTL cannot release a newer holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a single-flight lock over pipeline runs, backed by Redis.
// A nil client disables locking entirely.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
	token  string
	logger *zap.Logger
}

// NewRunLock creates a RunLock. client may be nil when Redis is not
// configured.
func NewRunLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunLock {
	return &RunLock{
		client: client,
		ttl:    ttl,
		token:  uuid.New().String(),
		logger: logger,
	}
}

// Acquire takes the lock or reports that another run holds it. The
// lock expires after the configured TTL as a crash backstop.
func (l *RunLock) Acquire(ctx context.Context) error {
	if l.client == nil {
		return nil
	}

	ok, err := l.client.SetNX(ctx, runLockKey, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another pipeline run is already in progress")
	}

	l.logger.Info("run lock acquired",
		zap.String("token", l.token),
		zap.Duration("ttl", l.ttl),
	)
	return nil
}

// Release gives the lock back if this run still holds it.
func (l *RunLock) Release(ctx context.Context) {
	if l.client == nil {
		return
	}

	deleted, err := releaseScript.Run(ctx, l.client, []string{runLockKey}, l.token).Int()
	if err != nil {
		l.logger.Warn("failed to release run lock", zap.Error(err))
		return
	}
	if deleted == 0 {
		l.logger.Warn("run lock already expired or taken over")
		return
	}
	l.logger.Info("run lock released")
}

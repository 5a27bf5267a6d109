// Package redis provides a Redis-backed DistributedLock using SET NX PX for
// acquisition and a Lua compare-and-delete script for safe release, so a
// holder never releases a lock it no longer owns (e.g. after its TTL
// expired and another worker took over).
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cnabflow/ingestor/internal/lock"
)

// releaseScript deletes the key only if its value still matches the
// caller's token, preventing a stale holder from releasing a lock that has
// since been re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// renewScript extends the TTL only if the caller still owns the lock.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Lock is a Redis-backed implementation of lock.DistributedLock.
type Lock struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Lock {
	return &Lock{client: client}
}

func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (lock.Handle, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, lock.ErrAlreadyLocked
	}

	return &handle{client: l.client, name: name, token: token}, nil
}

type handle struct {
	client *redis.Client
	name   string
	token  string
}

func (h *handle) Renew(ctx context.Context, ttl time.Duration) error {
	res, err := renewScript.Run(ctx, h.client, []string{h.name}, h.token, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("redis renew: %w", err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return lock.ErrNotHeld
	}
	return nil
}

func (h *handle) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, h.client, []string{h.name}, h.token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("redis release: %w", err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return lock.ErrNotHeld
	}
	return nil
}

var _ lock.DistributedLock = (*Lock)(nil)

//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/cnabflow/ingestor/internal/lock"
	"github.com/cnabflow/ingestor/internal/lock/redis"
)

func setupLock(t *testing.T) lock.DistributedLock {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connString, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := goredis.ParseURL(connString)
	require.NoError(t, err)

	return redis.New(goredis.NewClient(opts))
}

func TestLock_SecondAcquireRejectedUntilReleased(t *testing.T) {
	l := setupLock(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, lock.NameForUpload("upload-1"), time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, lock.NameForUpload("upload-1"), time.Minute)
	require.ErrorIs(t, err, lock.ErrAlreadyLocked)

	require.NoError(t, h.Release(ctx))

	h2, err := l.Acquire(ctx, lock.NameForUpload("upload-1"), time.Minute)
	require.NoError(t, err)
	require.NotNil(t, h2)
}

func TestLock_ExpiresNaturally(t *testing.T) {
	l := setupLock(t)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "lock:upload:expiring", 50*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	h2, err := l.Acquire(ctx, "lock:upload:expiring", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, h2)
}

func TestLock_RenewExtendsOwnership(t *testing.T) {
	l := setupLock(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "lock:upload:renew", 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, h.Renew(ctx, time.Minute))

	time.Sleep(200 * time.Millisecond)

	_, err = l.Acquire(ctx, "lock:upload:renew", time.Minute)
	require.ErrorIs(t, err, lock.ErrAlreadyLocked)
}

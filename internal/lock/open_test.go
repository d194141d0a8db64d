package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/coinroll/internal/config"
)

func TestOpen_Local(t *testing.T) {
	l, closeFn, err := Open(context.Background(), config.LockConfig{Backend: config.LockLocal}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &Local{}, l)
	assert.NoError(t, closeFn())
}

func TestOpen_Redis(t *testing.T) {
	mini := miniredis.RunT(t)
	l, closeFn, err := Open(context.Background(), config.LockConfig{
		Backend:  config.LockRedis,
		RedisURL: "redis://" + mini.Addr() + "/0",
		Prefix:   "test:",
		TTL:      time.Minute,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer closeFn()

	release, err := l.Acquire(context.Background(), PlayerKey("p1"))
	require.NoError(t, err)
	assert.True(t, mini.Exists("test:player:p1"))
	release()
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mini := miniredis.RunT(t)
	addr := mini.Addr()
	mini.Close()
	_, _, err := Open(context.Background(), config.LockConfig{
		Backend:  config.LockRedis,
		RedisURL: "redis://" + addr + "/0",
		TTL:      time.Minute,
	}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, _, err := Open(context.Background(), config.LockConfig{Backend: "etcd"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

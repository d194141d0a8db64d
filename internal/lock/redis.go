package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockLost is reported when a held key expired before release.
var ErrLockLost = errors.New("lock expired before release")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis lock settings.
type RedisConfig struct {
	// URL is the Redis connection URL, e.g. redis://localhost:6379/0.
	URL string
	// Prefix namespaces every lock key.
	Prefix string
	// TTL bounds how long a crashed holder can block a key.
	TTL time.Duration
	// RetryInterval is the wait between acquisition attempts.
	RetryInterval time.Duration
}

// Redis is a Locker backed by SET NX PX keys on a Redis server.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedis connects to cfg.URL and verifies the connection.
//
// Precondition: cfg.URL must be a valid redis:// URL; cfg.TTL must be > 0.
// Postcondition: Returns a connected Redis locker or a non-nil error.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewRedisWithClient(client, cfg, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *Redis {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 10 * time.Millisecond
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	return &Redis{client: client, cfg: cfg, logger: logger}
}

var _ Locker = (*Redis)(nil)

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating lock token: %w", err)
	}
	token := id.String()

	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := r.acquireOne(ctx, r.cfg.Prefix+k, token); err != nil {
			r.releaseAll(held, token)
			return nil, err
		}
		held = append(held, r.cfg.Prefix+k)
	}
	var once sync.Once
	return func() { once.Do(func() { r.releaseAll(held, token) }) }, nil
}

func (r *Redis) acquireOne(ctx context.Context, key, token string) error {
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.TTL).Result()
		if err != nil {
			return fmt.Errorf("acquiring %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryInterval):
		}
	}
}

func (r *Redis) releaseAll(keys []string, token string) {
	// Release runs after the caller's work; its ctx may be gone.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		n, err := releaseScript.Run(ctx, r.client, []string{keys[i]}, token).Int()
		if err != nil {
			r.logger.Error("releasing lock", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		if n == 0 {
			r.logger.Warn("releasing lock", zap.String("key", keys[i]), zap.Error(ErrLockLost))
		}
	}
}

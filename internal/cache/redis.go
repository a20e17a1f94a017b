package cache

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/redis/go-redis/v9"
)

// incrementScript increments a counter and sets its expiry only when the
// increment created the key.
var incrementScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
local v = redis.call('INCR', KEYS[1])
if existed == 0 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

// unlockScript deletes a lock key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

const lockRetryInterval = 10 * time.Millisecond

// RedisStore is the production Store backed by Redis
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	timeout   time.Duration
}

// NewRedisClient initialises a Redis client using the provided configuration.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		// Redis 7.x rejects CLIENT MAINT_NOTIFICATIONS
		DisableIdentity: true,
		DialTimeout:     cfg.Timeout,
		ReadTimeout:     cfg.Timeout,
		WriteTimeout:    cfg.Timeout,
	}

	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps a client. Every call runs under timeout.
func NewRedisStore(client redis.UniversalClient, namespace string, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedisStore{client: client, namespace: namespace, timeout: timeout}
}

func (s *RedisStore) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

func (s *RedisStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func wrapErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", models.ErrStoreUnavailable, op, key, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return wrapErr("set", key, err)
	}
	return nil
}

func (s *RedisStore) Forever(ctx context.Context, key, value string) error {
	return s.Put(ctx, key, value, 0)
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	n, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, wrapErr("incr", key, err)
	}
	return n, nil
}

func (s *RedisStore) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return wrapErr("del", keys[0], err)
	}
	return nil
}

func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, wrapErr("exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, wrapErr("setnx", key, err)
	}
	return ok, nil
}

// Lock acquires a token lock (SET NX PX) and retries until ctx is done.
// ttl bounds how long a crashed holder can keep the lock.
func (s *RedisStore) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := lockToken()
	if err != nil {
		return nil, err
	}
	lockKey := s.key("lock:" + key)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ttl)
		defer cancel()
	}

	for {
		attemptCtx, cancel := s.bounded(ctx)
		ok, err := s.client.SetNX(attemptCtx, lockKey, token, ttl).Result()
		cancel()
		if err != nil {
			return nil, wrapErr("lock", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
				defer cancel()
				_ = unlockScript.Run(releaseCtx, s.client, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", models.ErrLockTimeout, key)
		case <-time.After(lockRetryInterval):
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapErr("ping", "", err)
	}
	return nil
}

func lockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

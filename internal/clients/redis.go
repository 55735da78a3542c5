package clients

import (
	"context"
	"errors"
	"time"

	"revenue-ledger/pkg/cache/redis"

	goredis "github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration

	Prefix string
}

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// RedisClient namespaces every key with a prefix so several deployments can
// share one redis.
type RedisClient struct {
	raw    goredis.Cmdable
	closer func()
	prefix string
}

func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	rdb, err := redis.NewRedisConnection(ctx, redis.ConnectionInfo{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	c := NewRedisClientFrom(rdb, cfg.Prefix)
	c.closer = func() { redis.Close(rdb) }
	return c, nil
}

// NewRedisClientFrom wraps an existing connection.
func NewRedisClientFrom(raw goredis.Cmdable, prefix string) *RedisClient {
	if prefix == "" {
		prefix = "revenue_ledger_"
	}
	return &RedisClient{raw: raw, prefix: prefix}
}

func (c *RedisClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *RedisClient) withPrefix(key string) string {
	return c.prefix + key
}

func (c *RedisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.raw.Set(ctx, c.withPrefix(key), value, ttl).Err()
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := c.raw.Get(ctx, c.withPrefix(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.withPrefix(k)
	}
	return c.raw.Del(ctx, prefixed...).Err()
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock takes key for ttl with SET NX PX. It reports false when another
// holder owns the lock.
func (c *RedisClient) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return c.raw.SetNX(ctx, c.withPrefix(key), token, ttl).Result()
}

func (c *RedisClient) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, c.raw, []string{c.withPrefix(key)}, token).Err()
}

func (c *RedisClient) SAdd(ctx context.Context, key string, members ...any) error {
	return c.raw.SAdd(ctx, c.withPrefix(key), members...).Err()
}

func (c *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.raw.SMembers(ctx, c.withPrefix(key)).Result()
}

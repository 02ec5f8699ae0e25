package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"memberpay/internal/config"
)

var (
	// ErrFailedToParseRedisURL wraps a REDIS_URL that redis.ParseURL rejects.
	ErrFailedToParseRedisURL = errors.New("failed to parse redis connection string")
	// ErrRedisNotReady means no PING succeeded before the connect timeout
	// or the retry attempts ran out.
	ErrRedisNotReady = errors.New("redis did not become ready within the given time period")
	// ErrEmptyConnectionURL is returned by Connect when no URL is configured.
	ErrEmptyConnectionURL = errors.New("empty redis connection URL")
)

// Connect establishes a connection to Redis, retrying up to
// cfg.RetryAttempts times with cfg.RetryInterval between attempts.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL.IsZero() {
		return nil, ErrEmptyConnectionURL
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.URL.Unmask())
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisURL, err)
	}

	attempts := max(cfg.RetryAttempts, 1)
	for range attempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrRedisNotReady
}

// redisClient is the subset of redis.UniversalClient the store needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStore is a Store shared across processes.
type RedisStore struct {
	db redisClient
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client redisClient) *RedisStore {
	return &RedisStore{db: client}
}

// Get implements Store. redis.Nil is a miss, not an error.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.db.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.db.Set(ctx, key, value, ttl).Err()
}

// Name implements core.HealthProbe.
func (s *RedisStore) Name() string { return "redis" }

// Check implements core.HealthProbe.
func (s *RedisStore) Check(ctx context.Context) error {
	return s.db.Ping(ctx).Err()
}

package redis

import (
	"context"
	"errors"
	"time"

	"github.com/mlqa/lingo/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Get for missing keys
var ErrNotFound = errors.New("redis: key not found")

var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Service struct {
	client *redis.Client
}

// NewService connects to REDIS_URL. It returns nil when Redis is not
// configured or not reachable, and callers fall back to in-memory storage.
func NewService() *Service {
	url := config.GetRedisURL()

	if url == "" {
		log.Warn().Msg("Redis URL not configured - service will be unavailable")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: config.GetRedisPassword(),
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().
			Err(err).
			Str("addr", url).
			Msg("Failed to establish Redis connection")
		_ = client.Close()
		return nil
	}

	log.Info().Str("addr", url).Msg("Connected to Redis")

	return &Service{
		client: client,
	}
}

// Set stores a value in Redis with an optional expiration
func (s *Service) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := s.client.Set(ctx, key, value, expiration).Err(); err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Dur("expiration", expiration).
			Msg("Critical Redis SET operation failed")
		return err
	}
	return nil
}

// SetNX stores a value only if the key does not exist yet and reports
// whether it was stored
func (s *Service) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Msg("Critical Redis SETNX operation failed")
		return false, err
	}
	return ok, nil
}

// Get retrieves a value from Redis, ErrNotFound when the key is missing
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Msg("Critical Redis GET operation failed")
		return "", err
	}
	return val, nil
}

// Delete removes a key from Redis
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// DeleteIfEquals removes key only while it still holds value and reports
// whether it did
func (s *Service) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	deleted, err := compareAndDelete.Run(ctx, s.client, []string{key}, value).Int()
	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Msg("Critical Redis compare-and-delete failed")
		return false, err
	}
	return deleted == 1, nil
}

// Ping checks if Redis is accessible
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Service) Close() error {
	return s.client.Close()
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mindbook/internal/config"
	"mindbook/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisAttemptRepository caches in-flight booking attempts keyed by
// transaction ref. TTL matches the hold timeout so abandoned entries age out
// on their own.
type RedisAttemptRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	return redis.NewClient(options)
}

func NewRedisAttemptRepository(client *redis.Client, ttl time.Duration) *RedisAttemptRepository {
	return &RedisAttemptRepository{
		client: client,
		ttl:    ttl,
	}
}

func attemptKey(transactionRef string) string {
	return fmt.Sprintf("booking_attempt:%s", transactionRef)
}

func (r *RedisAttemptRepository) GetAttempt(ctx context.Context, transactionRef string) (*models.BookingAttempt, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, attemptKey(transactionRef)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt from redis: %w", err)
	}

	var attempt models.BookingAttempt
	if err := json.Unmarshal([]byte(val), &attempt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attempt: %w", err)
	}
	return &attempt, nil
}

func (r *RedisAttemptRepository) SaveAttempt(ctx context.Context, attempt *models.BookingAttempt) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}
	if err := r.client.Set(ctx, attemptKey(attempt.TransactionRef), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set attempt in redis: %w", err)
	}
	return nil
}

func (r *RedisAttemptRepository) DeleteAttempt(ctx context.Context, transactionRef string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, attemptKey(transactionRef)).Err(); err != nil {
		return fmt.Errorf("failed to delete attempt from redis: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

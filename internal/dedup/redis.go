package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const redisKeyPrefix = "relay:processed:"

// RedisStore shares reservations between instances through SET NX.
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
	tracer    trace.Tracer
}

// NewRedisStore creates a store whose keys expire after retention.
func NewRedisStore(client *redis.Client, retention time.Duration, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("dedup: redis client cannot be nil")
	}
	if retention <= 0 {
		panic("dedup: retention must be positive")
	}
	if tracer == nil {
		tracer = otel.Tracer("thread-relay.internal.dedup.redis")
	}
	return &RedisStore{redis: client, retention: retention, tracer: tracer}
}

// Reserve sets the key only if it does not exist.
func (s *RedisStore) Reserve(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	ctx, span := s.tracer.Start(ctx, "dedup.reserve")
	defer span.End()

	ok, err := s.redis.SetNX(ctx, processedKey(id), OutcomePending, s.retention).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("dedup: reserve: %w", err)
	}
	return ok, nil
}

// MarkProcessed overwrites the outcome without touching the TTL.
func (s *RedisStore) MarkProcessed(ctx context.Context, id, outcome string) error {
	if id == "" {
		return ErrEmptyID
	}
	ctx, span := s.tracer.Start(ctx, "dedup.mark_processed")
	defer span.End()

	key := processedKey(id)
	err := s.redis.SetArgs(ctx, key, outcome, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		// reservation expired while the event was in flight
		err = s.redis.Set(ctx, key, outcome, s.retention).Err()
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("dedup: mark processed: %w", err)
	}
	return nil
}

func processedKey(id string) string {
	return redisKeyPrefix + id
}

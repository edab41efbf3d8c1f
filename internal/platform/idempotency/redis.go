package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// RedisStore keeps records in Redis and relies on key expiry for cleanup.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Acquire implements the Store interface.
func (s *RedisStore) Acquire(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now, ttl = now.UTC(), ttlOrDefault(ttl)
	record := pendingRecord(key, fingerprint, now, ttl)
	data, err := json.Marshal(record)
	if err != nil {
		return Claim{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	redisKey := redisKeyPrefix + storageKey(key)
	created, err := s.rdb.SetNX(ctx, redisKey, data, ttl).Result()
	if err != nil {
		return Claim{}, fmt.Errorf("idempotency: acquire: %w", err)
	}
	if created {
		return Claim{State: ClaimNew, Record: record}, nil
	}

	existing, err := s.load(ctx, redisKey)
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Acquire(ctx, key, fingerprint, now, ttl)
	}
	if err != nil {
		return Claim{}, err
	}
	return claimFor(existing, fingerprint)
}

// SaveResponse implements the Store interface.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), ttlOrDefault(ttl)
	redisKey := redisKeyPrefix + storageKey(key)

	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		record, err := s.loadWith(ctx, tx, redisKey)
		switch {
		case errors.Is(err, redis.Nil):
			record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		case err != nil:
			return err
		case record.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}

		data, err := json.Marshal(completedRecord(record, resp, now, ttl))
		if err != nil {
			return fmt.Errorf("idempotency: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, ttl)
			return nil
		})
		return err
	}, redisKey)
}

// Release drops the claim so a retry of the same submission runs the handler again.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+storageKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op; Redis expires records itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (Record, error) {
	return s.loadWith(ctx, s.rdb, redisKey)
}

func (s *RedisStore) loadWith(ctx context.Context, cmd redis.Cmdable, redisKey string) (Record, error) {
	data, err := cmd.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}

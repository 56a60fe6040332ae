package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/kyc-verif/internal/repository"
)

// processingMarker occupies a result key while the engine runs.
const processingMarker = "processing"

// Cache abstracts the Redis operations used by the use case so tests can
// replace it.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// RedisCache is the go-redis backed Cache.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache wraps a redis client, ring or cluster client.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get reads a value. A missing key yields redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// Delete removes key. Deleting a missing key is not an error.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func cacheKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

// cachedVerification is the JSON document stored under a finished request's
// key.
type cachedVerification struct {
	RequestID       string    `json:"request_id"`
	EngineRequestID string    `json:"engine_request_id"`
	UserID          string    `json:"user_id"`
	Status          string    `json:"status"`
	Code            int       `json:"code"`
	Score           float64   `json:"score"`
	Verified        bool      `json:"verified"`
	Fields          string    `json:"fields"`
	Details         string    `json:"details"`
	Hash            string    `json:"sha1_hash"`
	LatencyMs       int64     `json:"latency_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

func encodeCached(log *repository.VerificationLog) (string, error) {
	data, err := json.Marshal(cachedVerification{
		RequestID:       log.RequestID,
		EngineRequestID: log.EngineRequestID,
		UserID:          log.UserID,
		Status:          log.Status,
		Code:            log.Code,
		Score:           log.Score,
		Verified:        log.Verified,
		Fields:          log.Fields,
		Details:         log.Details,
		Hash:            log.SHA1Hash,
		LatencyMs:       log.LatencyMs,
		CreatedAt:       log.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeCached parses a cache value. The processing marker is not a result.
func decodeCached(value string) (*repository.VerificationLog, error) {
	if value == processingMarker {
		return nil, errors.New("request still processing")
	}
	var c cachedVerification
	if err := json.Unmarshal([]byte(value), &c); err != nil {
		return nil, err
	}
	return &repository.VerificationLog{
		RequestID:       c.RequestID,
		EngineRequestID: c.EngineRequestID,
		UserID:          c.UserID,
		Status:          c.Status,
		Code:            c.Code,
		Score:           c.Score,
		Verified:        c.Verified,
		Fields:          c.Fields,
		Details:         c.Details,
		SHA1Hash:        c.Hash,
		LatencyMs:       c.LatencyMs,
		CreatedAt:       c.CreatedAt,
	}, nil
}

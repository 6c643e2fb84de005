package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "flight_cache:"

// RedisBackend stores records as JSON strings with a native expiry
type RedisBackend struct {
	client *redis.Client
}

// NewRedisClient builds a client for url (redis://host:port/db). It does not
// dial; the first command connects.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisBackend wraps a connected client
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

type redisRecord struct {
	Airport  string          `json:"icao"`
	Category string          `json:"category"`
	StoredAt time.Time       `json:"timestamp"`
	Data     json.RawMessage `json:"data"`
}

// Get implements Backend
func (b *RedisBackend) Get(ctx context.Context, key string) (*Record, error) {
	data, err := b.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rr redisRecord
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, fmt.Errorf("corrupt cache record: %w", err)
	}
	return &Record{Key: key, Airport: rr.Airport, Category: rr.Category, StoredAt: rr.StoredAt, Data: rr.Data}, nil
}

// Put implements Backend. The redis expiry matches the payload's validity.
func (b *RedisBackend) Put(ctx context.Context, rec *Record, ttl time.Duration) error {
	data, err := json.Marshal(redisRecord{
		Airport:  rec.Airport,
		Category: rec.Category,
		StoredAt: rec.StoredAt,
		Data:     rec.Data,
	})
	if err != nil {
		return err
	}
	return b.client.Set(ctx, redisKeyPrefix+rec.Key, data, ttl).Err()
}

// Close closes the client
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

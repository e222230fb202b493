package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ble-sensors.klederson.com/internal/sensor"
)

// LatestKey is the Redis key holding the latest reading of mac.
func LatestKey(mac string) string {
	return fmt.Sprintf("sensor:latest:%s", mac)
}

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// RedisSink mirrors the latest reading of every sensor into Redis with a TTL,
// so a sensor that stops broadcasting eventually disappears.
type RedisSink struct {
	client redisClient
	ttl    time.Duration
	unit   sensor.TemperatureFormat
	source string
}

// NewRedisSink connects to addr. The connection is established lazily by the
// client on first use.
func NewRedisSink(addr, password string, db int, ttl time.Duration, unit sensor.TemperatureFormat, source string) *RedisSink {
	return &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl:    ttl,
		unit:   unit,
		source: source,
	}
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, r sensor.Reading) error {
	data, err := NewMessage(r, s.unit, s.source).Encode()
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, LatestKey(r.MAC), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set latest reading in Redis: %w", err)
	}
	return nil
}

// Latest reads back the mirrored reading of mac. It returns nil when the key
// is absent or expired.
func (s *RedisSink) Latest(ctx context.Context, mac string) (*ReadingMessage, error) {
	data, err := s.client.Get(ctx, LatestKey(mac)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading from Redis: %w", err)
	}

	var msg ReadingMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reading: %w", err)
	}
	return &msg, nil
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

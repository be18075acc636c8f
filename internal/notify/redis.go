// Package notify publishes persisted prediction batches to Redis.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/i474232898/bike-traffic-forecast/internal/forecast"
)

// DefaultChannel receives one message per persisted batch.
const DefaultChannel = "bikeflow:predictions"

// RedisPublisher implements forecast.Publisher on Redis pub/sub.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher parses url, connects and pings.
func NewRedisPublisher(ctx context.Context, url string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewPublisher(client, DefaultChannel), nil
}

// NewPublisher wraps an existing client.
func NewPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends batch as JSON: {run_id, model, table, rows}.
func (p *RedisPublisher) Publish(ctx context.Context, batch forecast.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal %s batch: %w", batch.Table, err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s batch on %s: %w", batch.Table, p.channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

package netsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ellanlabs/ecobridge/pkg/metrics"
)

// Reconnect backoff: linear in the attempt count, capped.
const (
	reconnectStep = 2 * time.Second
	reconnectCap  = 20 * time.Second
)

func reconnectDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * reconnectStep
	if d > reconnectCap {
		return reconnectCap
	}
	if d <= 0 {
		return reconnectStep
	}
	return d
}

// RedisBackend publishes and subscribes over redis pub/sub.
type RedisBackend struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedisBackend connects to redis and verifies the connection.
func NewRedisBackend(addr, password string, db int, logger *zap.Logger) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBackend{
		logger: logger.With(zap.String("component", "redis_sync")),
		client: client,
	}, nil
}

// Publish marshals msg and publishes it on the channel.
func (r *RedisBackend) Publish(ctx context.Context, channel string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal sync message: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe consumes the channel until ctx is cancelled, resubscribing
// with a capped linear backoff when the connection drops.
func (r *RedisBackend) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	go func() {
		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}

			pubsub := r.client.Subscribe(ctx, channel)
			if _, err := pubsub.Receive(ctx); err != nil {
				pubsub.Close()
				if ctx.Err() != nil {
					return
				}
				attempt++
				metrics.SyncReconnects.Inc()
				delay := reconnectDelay(attempt)
				r.logger.Warn("Redis subscribe failed, retrying",
					zap.String("channel", channel),
					zap.Int("attempt", attempt),
					zap.Duration("backoff", delay),
					zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}

			attempt = 0
			for msg := range pubsub.Channel() {
				handler([]byte(msg.Payload))
			}
			pubsub.Close()

			if ctx.Err() != nil {
				return
			}
			// Message channel closed underneath us: connection lost.
			attempt++
			metrics.SyncReconnects.Inc()
			r.logger.Warn("Redis subscription lost, reconnecting",
				zap.String("channel", channel),
				zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay(attempt)):
			}
		}
	}()
	return nil
}

// Close releases the redis client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

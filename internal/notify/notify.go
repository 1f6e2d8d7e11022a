// SPDX-License-Identifier: MIT

// Package notify fans out live detection metadata to connected viewers
// over a Redis pub/sub channel. Delivery is best-effort with no backlog
// or replay.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
	"github.com/abdliliaai/visiony-guard-sub000/internal/types"
)

// Notification is the compact message fanned out per qualifying tick.
type Notification struct {
	Type       string            `json:"type"`
	DeviceID   string            `json:"deviceId"`
	Detections []types.Detection `json:"detections"`
	Timestamp  time.Time         `json:"timestamp"`
}

// RedisNotifier publishes notifications on one Redis channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, opts Options) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("notify")
	logger.Info().
		Str("addr", opts.Addr).
		Str("channel", opts.Channel).
		Msg("connected to Redis")

	return &RedisNotifier{
		client:  client,
		channel: opts.Channel,
		logger:  logger,
	}, nil
}

// Broadcast publishes one notification. Failures are logged and
// swallowed; live fan-out must never fail a tick.
func (n *RedisNotifier) Broadcast(ctx context.Context, msg Notification) {
	msg.Type = "detections"

	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Warn().Err(err).Msg("marshal notification failed")
		return
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.logger.Warn().
			Err(err).
			Str(log.FieldDeviceID, msg.DeviceID).
			Msg("notification publish failed")
		return
	}

	n.logger.Debug().
		Str("event", "notify.broadcast").
		Str(log.FieldDeviceID, msg.DeviceID).
		Int("detections", len(msg.Detections)).
		Msg("notification broadcast")
}

// Ping probes the Redis connection. Used by the readiness checker.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	if err := n.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

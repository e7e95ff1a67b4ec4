// Package events publishes row-change notifications for the ledger tables.
// Consumers are optional: every publish failure is logged and dropped, and
// nothing in the core waits on a subscriber. The database rows remain the
// single source of truth.
package events

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel change events go out on.
const Channel = "supplyart.events"

// Op identifies the row operation behind an event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event describes one row change.
type Event struct {
	Table      string         `json:"table"`
	Op         Op             `json:"op"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher fans change events out to whoever listens.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher constructs a RedisPublisher on the default channel.
func NewRedisPublisher(client *redis.Client, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: Channel, logger: logger}
}

// Publish sends the event. Failures are logged, never returned.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	if p == nil || p.client == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	body, err := json.Marshal(event)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("marshal event", slog.String("table", event.Table), slog.Any("error", err))
		}
		return
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		if p.logger != nil {
			p.logger.Warn("publish event", slog.String("table", event.Table), slog.Any("error", err))
		}
	}
}

// NopPublisher discards events. Used by tests and single-process setups.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) {}

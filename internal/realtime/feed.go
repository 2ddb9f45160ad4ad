// Package realtime carries table-change events between service instances over
// Redis pub/sub. Mutations publish a small {table, op, id} record after
// commit; projection holders re-fetch the affected table on receipt. The feed
// transports hints, not data: a lost event costs freshness, never correctness.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "caseflow:changes:"

// Tables with live subscriptions.
const (
	TableComplaints    = "complaints"
	TableNotifications = "notifications"
	TableChatMessages  = "chat_messages"
)

// Event describes one committed row change.
type Event struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	ID    string `json:"id"`
}

// Feed is a Redis-backed change event bus.
type Feed struct {
	client *redis.Client
}

// NewFeed connects to Redis using a redis:// URL.
func NewFeed(redisURL string) (*Feed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Feed{client: client}, nil
}

// NewFeedWithClient wraps an existing Redis client.
func NewFeedWithClient(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func channelFor(table string) string {
	return channelPrefix + table
}

// Publish announces a committed change to every subscriber of the table.
func (f *Feed) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := f.client.Publish(ctx, channelFor(event.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Subscribe opens a live subscription on the given tables and delivers their
// events until the returned stop function is called or ctx ends. Malformed
// payloads are logged and skipped.
func (f *Feed) Subscribe(ctx context.Context, tables ...string) (<-chan Event, func()) {
	channels := make([]string, 0, len(tables))
	for _, table := range tables {
		channels = append(channels, channelFor(table))
	}

	pubsub := f.client.Subscribe(ctx, channels...)
	events := make(chan Event)

	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("WARNING: dropping malformed change event: %v", err)
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() {
		_ = pubsub.Close()
	}
	return events, stop
}

// Ping checks if Redis is reachable.
func (f *Feed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (f *Feed) Close() error {
	return f.client.Close()
}

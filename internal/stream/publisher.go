// Package stream adapts Redis Streams with consumer groups to the event
// pipeline: a publisher appending envelopes, a durable explicitly-acked
// consumer with dead-lettering, a dispatch loop with bounded concurrency,
// and a reclaimer that redelivers messages abandoned mid-processing.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/TomzxCode/github-monitor/internal/event"
)

// Publisher appends events to the stream. The orchestrator depends on this
// interface so dry-run and tests can substitute fakes.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// RedisPublisher publishes events onto one Redis stream. XADD creates the
// stream on first use, so no separate ensure step is needed.
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

// NewRedisPublisher returns a publisher for the given stream.
func NewRedisPublisher(client *redis.Client, stream string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, stream: stream, logger: logger}
}

// Publish appends one event. It must be called before the corresponding
// watermark advance is persisted: a crash between publish and advance yields
// a duplicate on the next sweep, which idempotent handlers absorb, whereas
// the reverse order would drop the event silently.
func (p *RedisPublisher) Publish(ctx context.Context, ev event.Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			fieldSubject: string(ev.Subject),
			fieldPayload: string(payload),
			fieldAttempt: 1,
		},
	}).Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", ev.Subject, err)
	}

	p.logger.Info("published event",
		"subject", ev.Subject,
		"repository", ev.Repository,
		"number", ev.Number)
	return nil
}

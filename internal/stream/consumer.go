package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldSubject   = "subject"
	fieldPayload   = "payload"
	fieldAttempt   = "attempt"
	fieldLastError = "last_error"
)

// Message is one event pulled from the stream.
type Message struct {
	ID      string
	Subject string
	Payload []byte
	Attempt int
}

// ConsumerConfig configures the durable consumer group.
type ConsumerConfig struct {
	Stream      string
	Group       string        // durable consumer group name
	Consumer    string        // this process's name within the group
	DLQStream   string        // defaults to "<stream>_dlq"
	BatchSize   int64         // messages per fetch
	Block       time.Duration // how long one fetch blocks waiting for messages
	MaxAttempts int           // redeliveries before a message is dead-lettered
}

// Consumer is a durable, explicitly-acknowledged pull consumer over a Redis
// Streams consumer group.
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer binds to the consumer group, creating it when absent. A new
// group starts at "0" — the beginning of the stream — so a freshly deployed
// handler sees every retained event, not just those published after it
// connected. With recreate set, an existing group is destroyed first, which
// forces full reprocessing of the stream.
func NewConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig, recreate bool, logger *slog.Logger) (*Consumer, error) {
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	// go-redis treats Block == 0 as "block forever"; always give the fetch
	// a bounded wait so shutdown stays responsive.
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Consumer{client: client, cfg: cfg, logger: logger}

	if recreate {
		if err := client.XGroupDestroy(ctx, cfg.Stream, cfg.Group).Err(); err != nil && !isNoGroupErr(err) {
			return nil, fmt.Errorf("destroying consumer group: %w", err)
		}
		logger.Info("recreating consumer group", "group", cfg.Group)
	}

	if err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err(); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("creating consumer group: %w", err)
		}
		logger.Info("consumer group already exists", "group", cfg.Group)
	}

	return c, nil
}

// Pending returns how many delivered-but-unacked messages the group holds,
// for the startup log line.
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.client.XPending(ctx, c.cfg.Stream, c.cfg.Group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}

// Fetch pulls up to BatchSize new messages, blocking up to Block. An empty
// fetch returns a nil slice and no error. Messages whose stream fields are
// unusable are dead-lettered here, since redelivery cannot repair them.
func (c *Consumer) Fetch(ctx context.Context) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, parseErr := parseMessage(raw)
			if parseErr != nil {
				c.logger.Error("unparseable stream entry, dead-lettering",
					"id", raw.ID, "error", parseErr)
				_ = c.Term(ctx, Message{ID: raw.ID}, parseErr.Error())
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// Ack marks a message as successfully handled.
func (c *Consumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("acking %s: %w", msg.ID, err)
	}
	return nil
}

// Nak requeues a message after a transient handler failure: the original
// entry is acked and a copy with an incremented attempt counter is appended.
// Once the attempt counter reaches MaxAttempts, the message is dead-lettered
// instead of looping forever.
func (c *Consumer) Nak(ctx context.Context, msg Message, reason string) error {
	if msg.Attempt >= c.cfg.MaxAttempts {
		c.logger.Warn("message exhausted retries",
			"id", msg.ID, "subject", msg.Subject, "attempts", msg.Attempt)
		return c.Term(ctx, msg, reason)
	}

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking before requeue: %w", err)
	}

	values := map[string]any{
		fieldSubject: msg.Subject,
		fieldPayload: string(msg.Payload),
		fieldAttempt: msg.Attempt + 1,
	}
	if reason != "" {
		values[fieldLastError] = reason
	}
	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.Stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("requeueing %s: %w", msg.ID, err)
	}

	c.logger.Info("message requeued",
		"subject", msg.Subject, "next_attempt", msg.Attempt+1, "reason", reason)
	return nil
}

// Term acknowledges a message and moves it to the dead-letter stream: the
// failure is not transient, so redelivery would only repeat it.
func (c *Consumer) Term(ctx context.Context, msg Message, reason string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking before dead-letter: %w", err)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: map[string]any{
			fieldSubject: msg.Subject,
			fieldPayload: string(msg.Payload),
			fieldAttempt: msg.Attempt,
			"error":      reason,
		},
	}).Err(); err != nil {
		return fmt.Errorf("dead-lettering %s: %w", msg.ID, err)
	}

	c.logger.Error("message dead-lettered",
		"subject", msg.Subject, "id", msg.ID, "reason", reason)
	return nil
}

func parseMessage(raw redis.XMessage) (Message, error) {
	subject, ok := raw.Values[fieldSubject].(string)
	if !ok || subject == "" {
		return Message{}, fmt.Errorf("missing subject field")
	}
	payload, ok := raw.Values[fieldPayload].(string)
	if !ok {
		return Message{}, fmt.Errorf("missing payload field")
	}

	attempt := 1
	if rawAttempt, ok := raw.Values[fieldAttempt]; ok {
		if n, err := strconv.Atoi(fmt.Sprint(rawAttempt)); err == nil && n > 0 {
			attempt = n
		}
	}

	return Message{
		ID:      raw.ID,
		Subject: subject,
		Payload: []byte(payload),
		Attempt: attempt,
	}, nil
}

func isNoGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

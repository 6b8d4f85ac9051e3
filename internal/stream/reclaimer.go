package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReclaimerConfig tunes pending-message recovery.
type ReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string        // claims under this name, distinct from the main consumer
	MinIdle   time.Duration // the ack-wait: idle time before a message counts as abandoned
	Interval  time.Duration // how often to sweep
	BatchSize int64
}

// Reclaimer sweeps the consumer group's pending entries and re-dispatches
// messages that have sat unacknowledged longer than MinIdle — the ack-wait
// analog for a crashed or wedged handler. Runs beside the main loop in its
// own goroutine.
type Reclaimer struct {
	client   *redis.Client
	cfg      ReclaimerConfig
	dispatch func(ctx context.Context, msg Message)
	logger   *slog.Logger
}

// NewReclaimer builds a reclaimer that feeds claimed messages to dispatch
// (normally Loop.Handle).
func NewReclaimer(client *redis.Client, cfg ReclaimerConfig, dispatch func(ctx context.Context, msg Message), logger *slog.Logger) *Reclaimer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{client: client, cfg: cfg, dispatch: dispatch, logger: logger}
}

// Run sweeps until ctx is canceled.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reclaimer) sweep(ctx context.Context) {
	start := "0-0"
	for {
		claimed, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.cfg.Stream,
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			MinIdle:  r.cfg.MinIdle,
			Start:    start,
			Count:    r.cfg.BatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("reclaim sweep failed", "error", err)
			}
			return
		}

		for _, raw := range claimed {
			msg, parseErr := parseMessage(raw)
			if parseErr != nil {
				r.logger.Error("unparseable pending entry, acking", "id", raw.ID, "error", parseErr)
				_ = r.client.XAck(ctx, r.cfg.Stream, r.cfg.Group, raw.ID).Err()
				continue
			}
			r.logger.Info("reclaimed abandoned message", "id", msg.ID, "subject", msg.Subject)
			r.dispatch(ctx, msg)
		}

		if next == "0-0" || len(claimed) == 0 {
			return
		}
		start = next
	}
}

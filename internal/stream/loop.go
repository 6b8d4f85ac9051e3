package stream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/TomzxCode/github-monitor/internal/event"
)

// ProcessFunc handles one message. A returned error wrapping
// event.ErrMalformed terminates the message (no redelivery); any other
// error naks it for redelivery; nil acks it.
type ProcessFunc func(ctx context.Context, msg Message) error

// Source is the consumer surface the loop drives. *Consumer implements it;
// tests inject fakes.
type Source interface {
	Fetch(ctx context.Context) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
	Nak(ctx context.Context, msg Message, reason string) error
	Term(ctx context.Context, msg Message, reason string) error
}

// LoopConfig tunes the dispatch loop.
type LoopConfig struct {
	// MaxConcurrent bounds how many handlers run at once. 1 degrades to
	// strict sequential processing in stream order.
	MaxConcurrent int64

	// DrainTimeout bounds how long shutdown waits for in-flight handlers
	// before abandoning them. Defaults to 30s.
	DrainTimeout time.Duration

	// FetchErrorBackoff is the pause after a non-timeout fetch error.
	// Defaults to 1s.
	FetchErrorBackoff time.Duration
}

// Loop fetches batches sequentially and dispatches each message to the
// process function under a counting semaphore. Fetches never overlap each
// other; handler execution does, up to MaxConcurrent.
type Loop struct {
	source  Source
	process ProcessFunc
	cfg     LoopConfig
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// NewLoop builds a dispatch loop.
func NewLoop(source Source, process ProcessFunc, cfg LoopConfig, logger *slog.Logger) *Loop {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.FetchErrorBackoff <= 0 {
		cfg.FetchErrorBackoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		source:  source,
		process: process,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:  logger,
	}
}

// Run fetches and dispatches until ctx is canceled. Fetch errors are never
// fatal: timeout-class errors retry immediately, anything else backs off
// briefly first. On cancellation the loop stops fetching and waits up to
// DrainTimeout for in-flight handlers.
func (l *Loop) Run(ctx context.Context) error {
	// Handlers and their acknowledgments outlive cancellation up to the
	// drain timeout, so they run on an uncancelable context.
	handlerCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for ctx.Err() == nil {
		messages, err := l.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if isTimeoutErr(err) {
				continue
			}
			l.logger.Warn("fetch failed, backing off", "error", err)
			select {
			case <-time.After(l.cfg.FetchErrorBackoff):
			case <-ctx.Done():
			}
			continue
		}

		for _, msg := range messages {
			if err := l.sem.Acquire(ctx, 1); err != nil {
				break
			}
			// Sequential mode handles inline, but still under the semaphore
			// so reclaimed dispatches cannot interleave with it.
			if l.cfg.MaxConcurrent == 1 {
				l.Handle(handlerCtx, msg)
				l.sem.Release(1)
				continue
			}
			wg.Add(1)
			go func(m Message) {
				defer wg.Done()
				defer l.sem.Release(1)
				l.Handle(handlerCtx, m)
			}(msg)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(l.cfg.DrainTimeout):
		l.logger.Warn("drain timeout exceeded, abandoning in-flight handlers")
	}
	return ctx.Err()
}

// Handle processes one message and settles it: ack on success, term on a
// malformed payload, nak otherwise. Also used by the reclaimer to
// re-dispatch abandoned messages.
func (l *Loop) Handle(ctx context.Context, msg Message) {
	err := l.process(ctx, msg)
	switch {
	case err == nil:
		if ackErr := l.source.Ack(ctx, msg); ackErr != nil {
			l.logger.Error("ack failed", "id", msg.ID, "error", ackErr)
		}
	case errors.Is(err, event.ErrMalformed):
		if termErr := l.source.Term(ctx, msg, err.Error()); termErr != nil {
			l.logger.Error("term failed", "id", msg.ID, "error", termErr)
		}
	default:
		l.logger.Warn("handler failed, requeueing", "id", msg.ID, "subject", msg.Subject, "error", err)
		if nakErr := l.source.Nak(ctx, msg, err.Error()); nakErr != nil {
			l.logger.Error("nak failed", "id", msg.ID, "error", nakErr)
		}
	}
}

// Dispatch runs Handle under the loop's concurrency bound. The reclaimer
// feeds redelivered messages through here so they count against
// MaxConcurrent like fetched messages do; with MaxConcurrent == 1 they
// serialize with the main loop instead of racing it.
func (l *Loop) Dispatch(ctx context.Context, msg Message) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer l.sem.Release(1)
	l.Handle(context.WithoutCancel(ctx), msg)
}

// isTimeoutErr reports whether a fetch error only means "nothing arrived in
// time", which deserves an immediate retry rather than a backoff.
func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

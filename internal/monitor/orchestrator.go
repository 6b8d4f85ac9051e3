package monitor

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/TomzxCode/github-monitor/internal/checkpoint"
	"github.com/TomzxCode/github-monitor/internal/event"
	"github.com/TomzxCode/github-monitor/internal/stream"
)

// Config controls one orchestrator.
type Config struct {
	// Repositories overrides discovery from the checkpoint tree when
	// non-empty.
	Repositories []string

	// UpdatedSince bounds a repository's very first scan. Nil means full
	// backfill.
	UpdatedSince *time.Time

	MonitorIssues        bool
	MonitorIssueComments bool
	MonitorPRComments    bool

	// ActiveOnly restricts comment monitoring to entities carrying the
	// active marker.
	ActiveOnly bool

	// DryRun logs intended events and checkpoint writes without publishing
	// or mutating anything.
	DryRun bool

	// Interval enables looping at a fixed wall-clock rate. Zero runs a
	// single cycle.
	Interval time.Duration
}

// Orchestrator runs monitoring cycles: discover and scan repositories,
// publish one event per classified change, then advance the checkpoints the
// published events covered.
type Orchestrator struct {
	store     *checkpoint.Store
	detector  *Detector
	publisher stream.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator builds an orchestrator.
func NewOrchestrator(store *checkpoint.Store, detector *Detector, publisher stream.Publisher, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		detector:  detector,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes cycles until ctx is canceled. Without an interval it runs a
// single cycle and returns. Scheduling is fixed-rate: the sleep between cycle
// starts is the interval minus the cycle's runtime, floored at zero, so an
// overrunning cycle starts the next one immediately (with a warning) rather
// than drifting or double-running.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.Interval <= 0 {
		return o.RunCycle(ctx)
	}

	for {
		start := o.now()
		if err := o.RunCycle(ctx); err != nil {
			return err
		}

		elapsed := o.now().Sub(start)
		sleep := o.cfg.Interval - elapsed
		if sleep < 0 {
			o.logger.Warn("cycle overran interval",
				"elapsed", elapsed, "interval", o.cfg.Interval)
			sleep = 0
		}
		o.logger.Info("cycle complete", "elapsed", elapsed, "next_in", sleep)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// RunCycle runs one monitoring sweep. Per-repository and per-entity failures
// are logged and skipped — they leave that repository's watermarks untouched
// so the next cycle retries the same window. Only context cancellation is
// returned as an error.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	repositories := o.cfg.Repositories
	if len(repositories) == 0 {
		repositories = checkpoint.ListTrackedRepositories(o.store.BasePath())
	}
	o.logger.Info("starting cycle", "repositories", len(repositories), "dry_run", o.cfg.DryRun)

	if o.cfg.MonitorIssues {
		for _, repository := range repositories {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.scanRepository(ctx, repository)
		}
	}

	if o.cfg.MonitorIssueComments || o.cfg.MonitorPRComments {
		entities := checkpoint.FindEntities(o.store.BasePath(), o.cfg.ActiveOnly, o.cfg.Repositories)
		for _, entity := range entities {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.scanEntityComments(ctx, entity)
		}
	}

	return ctx.Err()
}

// scanRepository detects issue/PR changes in one repository and publishes
// them. Watermarks advance only after every event for the repository
// published successfully; a mid-repository publish failure leaves them all
// untouched, trading duplicates on the next cycle for never dropping an
// event.
func (o *Orchestrator) scanRepository(ctx context.Context, repository string) {
	since := o.repositorySince(repository)

	changes, watermark, err := o.detector.ScanRepository(ctx, repository, since)
	if err != nil {
		o.logger.Error("repository scan failed", "repository", repository, "error", err)
		return
	}
	o.logger.Info("scanned repository",
		"repository", repository, "changes", len(changes), "watermark", watermark)
	if len(changes) == 0 {
		return
	}

	if o.cfg.DryRun {
		for _, change := range changes {
			o.logger.Info("dry-run: would publish",
				"subject", change.Subject, "repository", repository, "number", change.Item.Number)
		}
		return
	}

	for _, change := range changes {
		ev := event.Event{
			Subject:    change.Subject,
			Repository: repository,
			Number:     strconv.Itoa(change.Item.Number),
			Author:     change.Item.Author,
			Title:      change.Item.Title,
			URL:        change.Item.URL,
		}
		if err := o.publisher.Publish(ctx, ev); err != nil {
			o.logger.Error("publish failed, watermarks not advanced",
				"repository", repository, "subject", change.Subject, "error", err)
			return
		}
	}

	for _, change := range changes {
		number := strconv.Itoa(change.Item.Number)
		kind := checkpoint.KindIssue
		if change.Item.IsPR {
			kind = checkpoint.KindPR
		}
		if err := o.store.SetEntityKind(repository, number, kind); err != nil {
			o.logger.Error("recording entity kind failed",
				"repository", repository, "number", number, "error", err)
			continue
		}
		if err := o.store.SetLastChecked(repository, number, change.Item.UpdatedAt); err != nil {
			o.logger.Error("advancing watermark failed",
				"repository", repository, "number", number, "error", err)
		}
	}
}

// scanEntityComments checks one tracked entity for new comments and
// publishes a comment event per find, then advances the comment watermark.
func (o *Orchestrator) scanEntityComments(ctx context.Context, entity checkpoint.Entity) {
	number, err := strconv.Atoi(entity.Number)
	if err != nil {
		o.logger.Warn("skipping entity with non-numeric directory",
			"repository", entity.Repository, "number", entity.Number)
		return
	}

	kind := o.store.EntityKind(entity.Repository, entity.Number)
	switch kind {
	case checkpoint.KindIssue:
		if !o.cfg.MonitorIssueComments {
			return
		}
	case checkpoint.KindPR:
		if !o.cfg.MonitorPRComments {
			return
		}
	default:
		// Without a kind marker there is no way to pick the right comment
		// endpoint. The next issue/PR scan that touches the entity records
		// one.
		o.logger.Warn("skipping entity with unknown kind",
			"repository", entity.Repository, "number", entity.Number)
		return
	}

	since := o.store.LastCommentCheck(entity.Repository, entity.Number)
	comments, watermark, err := o.detector.ScanComments(ctx, entity.Repository, number, kind, since)
	if err != nil {
		o.logger.Error("comment scan failed",
			"repository", entity.Repository, "number", entity.Number, "error", err)
		return
	}

	if o.cfg.DryRun {
		if since == nil {
			o.logger.Info("dry-run: would establish comment watermark",
				"repository", entity.Repository, "number", entity.Number, "watermark", watermark)
		}
		for _, comment := range comments {
			o.logger.Info("dry-run: would publish comment",
				"repository", entity.Repository, "number", entity.Number, "author", comment.Author)
		}
		return
	}

	subject := event.SubjectIssueCommentNew
	if kind == checkpoint.KindPR {
		subject = event.SubjectPRCommentNew
	}
	for _, comment := range comments {
		ev := event.Event{
			Subject:    subject,
			Repository: entity.Repository,
			Number:     entity.Number,
			Author:     comment.Author,
			URL:        comment.URL,
			Comment: &event.Comment{
				Author:    comment.Author,
				CreatedAt: comment.CreatedAt.UTC().Format(time.RFC3339),
				URL:       comment.URL,
			},
		}
		if err := o.publisher.Publish(ctx, ev); err != nil {
			o.logger.Error("comment publish failed, watermark not advanced",
				"repository", entity.Repository, "number", entity.Number, "error", err)
			return
		}
	}

	if err := o.store.SetLastCommentCheck(entity.Repository, entity.Number, watermark); err != nil {
		o.logger.Error("advancing comment watermark failed",
			"repository", entity.Repository, "number", entity.Number, "error", err)
	}
}

// repositorySince derives the scan window for a repository from its tracked
// entities: the oldest per-entity watermark, so no entity's pending window is
// skipped. A repository with no watermarked entities falls back to the
// configured UpdatedSince (nil = full backfill).
func (o *Orchestrator) repositorySince(repository string) *time.Time {
	var oldest *time.Time
	for _, entity := range checkpoint.FindEntities(o.store.BasePath(), false, []string{repository}) {
		checked := o.store.LastChecked(entity.Repository, entity.Number)
		if checked == nil {
			continue
		}
		if oldest == nil || checked.Before(*oldest) {
			oldest = checked
		}
	}
	if oldest == nil {
		return o.cfg.UpdatedSince
	}
	return oldest
}

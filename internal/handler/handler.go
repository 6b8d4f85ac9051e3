// Package handler applies published GitHub events to the checkpoint tree and
// optionally triggers the claude pipeline per event. Every handler is
// idempotent: the stream delivers at least once, so replaying any event must
// converge on the same checkpoint state.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/TomzxCode/github-monitor/internal/agent"
	"github.com/TomzxCode/github-monitor/internal/checkpoint"
	"github.com/TomzxCode/github-monitor/internal/event"
	"github.com/TomzxCode/github-monitor/internal/stream"
)

// InvokeFunc runs the claude pipeline for one invocation. Tests substitute a
// recorder; production wires agent.Run.
type InvokeFunc func(ctx context.Context, inv agent.Invocation) (invoked bool, err error)

// ConfirmFunc asks whether the claude pipeline should run for an event. A
// false return skips the invocation without failing the event.
type ConfirmFunc func(ev event.Event, templatePath string) bool

// Config controls skip predicates and the template pipeline.
type Config struct {
	TemplatesDir string

	// SkipUsers suppresses events whose author matches; used to ignore the
	// bot's own activity and avoid feedback loops.
	SkipUsers *regexp.Regexp

	// Repositories, when set, restricts handling to repositories matching
	// the pattern. Mismatches are logged and acked.
	Repositories *regexp.Regexp

	ClaudeVerbose bool
}

// Handler dispatches events by subject to the entity state machine.
type Handler struct {
	store   *checkpoint.Store
	cfg     Config
	invoke  InvokeFunc
	confirm ConfirmFunc
	logger  *slog.Logger
}

// New builds a handler. invoke defaults to agent.Run; a nil confirm always
// proceeds.
func New(store *checkpoint.Store, cfg Config, invoke InvokeFunc, confirm ConfirmFunc, logger *slog.Logger) *Handler {
	if invoke == nil {
		invoke = agent.Run
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, cfg: cfg, invoke: invoke, confirm: confirm, logger: logger}
}

// Process handles one stream message. The returned error drives settlement:
// nil acks, an error wrapping event.ErrMalformed terminates, anything else
// naks for redelivery. Skipped events return nil — a deliberate skip is a
// successful outcome.
func (h *Handler) Process(ctx context.Context, msg stream.Message) error {
	ev, err := event.Decode(msg.Subject, msg.Payload)
	if err != nil {
		return err
	}

	if !ev.Subject.Known() {
		h.logger.Warn("unknown subject, ignoring", "subject", ev.Subject)
		return nil
	}
	if h.cfg.SkipUsers != nil && h.cfg.SkipUsers.MatchString(ev.Author) {
		h.logger.Info("skipping event from ignored user",
			"subject", ev.Subject, "author", ev.Author)
		return nil
	}
	if h.cfg.Repositories != nil && !h.cfg.Repositories.MatchString(ev.Repository) {
		h.logger.Info("skipping event outside repository filter",
			"subject", ev.Subject, "repository", ev.Repository)
		return nil
	}

	subject := ev.Subject
	if subject == event.SubjectIssueProcess {
		subject = event.SubjectIssueUpdated
	}

	switch subject {
	case event.SubjectIssueNew, event.SubjectPRNew:
		if err := h.handleNew(ev); err != nil {
			return err
		}
	case event.SubjectIssueClosed, event.SubjectPRClosed:
		if err := h.handleClosed(ev); err != nil {
			return err
		}
	case event.SubjectIssueUpdated, event.SubjectPRUpdated:
		h.logger.Info("entity updated",
			"repository", ev.Repository, "number", ev.Number, "title", ev.Title)
	case event.SubjectIssueCommentNew, event.SubjectPRCommentNew:
		h.logger.Info("new comment",
			"repository", ev.Repository, "number", ev.Number,
			"author", ev.Comment.Author, "url", ev.Comment.URL)
	}

	h.runPipeline(ctx, ev)
	return nil
}

// handleNew creates the entity directory. It deliberately does not set the
// active marker: activation is an explicit external decision, not a side
// effect of discovery.
func (h *Handler) handleNew(ev event.Event) error {
	dir, created, err := h.store.CreateEntityDir(ev.Repository, ev.Number)
	if err != nil {
		return fmt.Errorf("creating entity directory: %w", err)
	}
	if created {
		h.logger.Info("created entity directory", "dir", dir, "title", ev.Title)
	} else {
		h.logger.Info("entity directory already exists", "dir", dir)
	}
	return nil
}

func (h *Handler) handleClosed(ev event.Event) error {
	changed, err := h.store.SetActive(ev.Repository, ev.Number, false)
	if err != nil {
		return fmt.Errorf("removing active marker: %w", err)
	}
	if changed {
		h.logger.Info("removed active marker",
			"repository", ev.Repository, "number", ev.Number)
	} else {
		h.logger.Warn("active marker already absent",
			"repository", ev.Repository, "number", ev.Number)
	}
	return nil
}

// runPipeline resolves the event's template and invokes claude. Failures are
// best-effort: the checkpoint mutation already succeeded, so a broken
// invocation is logged and the event is still acked.
func (h *Handler) runPipeline(ctx context.Context, ev event.Event) {
	templatePath := resolveTemplate(h.cfg.TemplatesDir, ev.Repository, ev.Subject)
	if templatePath == "" {
		h.logger.Info("no template for event, skipping pipeline",
			"subject", ev.Subject, "repository", ev.Repository)
		return
	}

	if h.confirm != nil && !h.confirm(ev, templatePath) {
		h.logger.Info("pipeline declined",
			"subject", ev.Subject, "repository", ev.Repository, "number", ev.Number)
		return
	}

	invoked, err := h.invoke(ctx, agent.Invocation{
		BasePath:     h.store.BasePath(),
		Repository:   ev.Repository,
		Number:       ev.Number,
		TemplatePath: templatePath,
		Verbose:      h.cfg.ClaudeVerbose,
	})
	switch {
	case err != nil:
		h.logger.Error("claude invocation failed",
			"subject", ev.Subject, "repository", ev.Repository,
			"number", ev.Number, "error", err)
	case !invoked:
		h.logger.Info("template empty, pipeline explicitly disabled",
			"template", templatePath)
	default:
		h.logger.Info("claude invocation complete",
			"repository", ev.Repository, "number", ev.Number)
	}
}

// Package monitor implements change detection over the GitHub API and the
// monitoring cycle that turns detected changes into published events. The
// detector classifies scan results against checkpoint state; the orchestrator
// owns ordering: publish first, advance watermarks second.
package monitor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/TomzxCode/github-monitor/internal/checkpoint"
	"github.com/TomzxCode/github-monitor/internal/event"
	"github.com/TomzxCode/github-monitor/internal/ghclient"
)

// Lister is the API surface the detector scans with. *ghclient.Client
// implements it; tests inject fakes.
type Lister interface {
	ListIssuesAndPRs(ctx context.Context, repository string, since *time.Time) ([]ghclient.Item, error)
	ListIssueComments(ctx context.Context, repository string, number int, since *time.Time) ([]ghclient.Comment, error)
	ListPRComments(ctx context.Context, repository string, number int, since *time.Time) ([]ghclient.Comment, error)
}

// Change is one classified delta from a repository scan.
type Change struct {
	Item    ghclient.Item
	Subject event.Subject
}

// Detector classifies API scan results against checkpoint state. It never
// writes checkpoints itself; persistence ordering belongs to the
// orchestrator.
type Detector struct {
	store *checkpoint.Store
	api   Lister
	now   func() time.Time
}

// NewDetector builds a detector over the given checkpoint store and API.
func NewDetector(store *checkpoint.Store, api Lister) *Detector {
	return &Detector{store: store, api: api, now: time.Now}
}

// ScanRepository fetches issues and PRs updated since the watermark and
// classifies each against checkpoint state:
//
//   - no checkpoint directory yet: new
//   - closed upstream while still marked active: closed
//   - anything else: updated
//
// A nil since scans the full repository history. The returned watermark is
// the newest update time seen, or since (or now, on a first unbounded scan)
// when the scan found nothing.
func (d *Detector) ScanRepository(ctx context.Context, repository string, since *time.Time) ([]Change, time.Time, error) {
	items, err := d.api.ListIssuesAndPRs(ctx, repository, since)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("scanning %s: %w", repository, err)
	}

	watermark := d.now().UTC()
	if since != nil {
		watermark = *since
	}

	var changes []Change
	for _, item := range items {
		number := strconv.Itoa(item.Number)
		if item.UpdatedAt.After(watermark) {
			watermark = item.UpdatedAt
		}

		var subject event.Subject
		switch {
		case !d.store.Tracked(repository, number):
			subject = pick(item.IsPR, event.SubjectPRNew, event.SubjectIssueNew)
		case item.ClosedAt != nil && d.store.Active(repository, number):
			subject = pick(item.IsPR, event.SubjectPRClosed, event.SubjectIssueClosed)
		default:
			// The search window is inclusive and sized for the repository's
			// stalest entity, so every cycle re-returns items other entities
			// already covered. An item this entity's own watermark covers is
			// not a change.
			if checked := d.store.LastChecked(repository, number); checked != nil && !item.UpdatedAt.After(*checked) {
				continue
			}
			subject = pick(item.IsPR, event.SubjectPRUpdated, event.SubjectIssueUpdated)
		}
		changes = append(changes, Change{Item: item, Subject: subject})
	}
	return changes, watermark, nil
}

// ScanComments fetches comments on one entity created strictly after the
// watermark. A nil since is the first check ever: nothing is fetched and
// nothing emitted — the returned watermark just establishes the baseline, so
// activating comment monitoring on an old entity does not flood the stream
// with its backlog.
func (d *Detector) ScanComments(ctx context.Context, repository string, number int, kind checkpoint.Kind, since *time.Time) ([]ghclient.Comment, time.Time, error) {
	if since == nil {
		return nil, d.now().UTC(), nil
	}

	var comments []ghclient.Comment
	var err error
	switch kind {
	case checkpoint.KindPR:
		comments, err = d.api.ListPRComments(ctx, repository, number, since)
	default:
		comments, err = d.api.ListIssueComments(ctx, repository, number, since)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("scanning comments on %s#%d: %w", repository, number, err)
	}

	watermark := *since
	for _, c := range comments {
		if c.CreatedAt.After(watermark) {
			watermark = c.CreatedAt
		}
	}
	return comments, watermark, nil
}

func pick(isPR bool, pr, issue event.Subject) event.Subject {
	if isPR {
		return pr
	}
	return issue
}

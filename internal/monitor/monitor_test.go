package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomzxCode/github-monitor/internal/checkpoint"
	"github.com/TomzxCode/github-monitor/internal/event"
	"github.com/TomzxCode/github-monitor/internal/ghclient"
)

// fakeAPI scripts scan results per repository and per entity.
type fakeAPI struct {
	items         map[string][]ghclient.Item
	comments      map[string][]ghclient.Comment
	lastSince     *time.Time
	commentsSince *time.Time
}

func (f *fakeAPI) ListIssuesAndPRs(_ context.Context, repository string, since *time.Time) ([]ghclient.Item, error) {
	f.lastSince = since
	return f.items[repository], nil
}

func (f *fakeAPI) ListIssueComments(_ context.Context, repository string, _ int, since *time.Time) ([]ghclient.Comment, error) {
	f.commentsSince = since
	return f.comments[repository], nil
}

func (f *fakeAPI) ListPRComments(_ context.Context, repository string, _ int, since *time.Time) ([]ghclient.Comment, error) {
	f.commentsSince = since
	return f.comments[repository], nil
}

// fakePublisher records events; failAfter >= 0 fails every publish past that
// index.
type fakePublisher struct {
	published []event.Event
	failAfter int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failAfter: -1}
}

func (f *fakePublisher) Publish(_ context.Context, ev event.Event) error {
	if f.failAfter >= 0 && len(f.published) >= f.failAfter {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, ev)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, api Lister, pub *fakePublisher, cfg Config) (*Orchestrator, *checkpoint.Store) {
	t.Helper()
	store := checkpoint.NewStore(t.TempDir())
	detector := NewDetector(store, api)
	return NewOrchestrator(store, detector, pub, cfg, quietLogger()), store
}

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestScanClassifiesUntrackedAsNew(t *testing.T) {
	t1 := ts(t, "2026-08-01T10:00:00Z")
	api := &fakeAPI{items: map[string][]ghclient.Item{
		"owner1/repo1": {{Number: 123, Title: "Bug", Author: "alice", UpdatedAt: t1}},
	}}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		Repositories:  []string{"owner1/repo1"},
		MonitorIssues: true,
	})

	require.NoError(t, o.RunCycle(context.Background()))

	require.Len(t, pub.published, 1)
	assert.Equal(t, event.SubjectIssueNew, pub.published[0].Subject)
	assert.Equal(t, "owner1/repo1", pub.published[0].Repository)
	assert.Equal(t, "123", pub.published[0].Number)
	assert.Equal(t, "alice", pub.published[0].Author)

	assert.True(t, store.Tracked("owner1/repo1", "123"))
	assert.Equal(t, checkpoint.KindIssue, store.EntityKind("owner1/repo1", "123"))
	checked := store.LastChecked("owner1/repo1", "123")
	require.NotNil(t, checked)
	assert.True(t, checked.Equal(t1))
}

func TestSecondCycleClassifiesTrackedAsUpdated(t *testing.T) {
	t1 := ts(t, "2026-08-01T10:00:00Z")
	t2 := ts(t, "2026-08-02T10:00:00Z")
	api := &fakeAPI{items: map[string][]ghclient.Item{
		"owner1/repo1": {{Number: 123, Author: "alice", UpdatedAt: t1}},
	}}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		Repositories:  []string{"owner1/repo1"},
		MonitorIssues: true,
	})

	require.NoError(t, o.RunCycle(context.Background()))
	api.items["owner1/repo1"][0].UpdatedAt = t2
	require.NoError(t, o.RunCycle(context.Background()))

	require.Len(t, pub.published, 2)
	assert.Equal(t, event.SubjectIssueNew, pub.published[0].Subject)
	assert.Equal(t, event.SubjectIssueUpdated, pub.published[1].Subject)

	// The second scan is bounded by the first cycle's watermark.
	require.NotNil(t, api.lastSince)
	assert.True(t, api.lastSince.Equal(t1))

	checked := store.LastChecked("owner1/repo1", "123")
	require.NotNil(t, checked)
	assert.True(t, checked.Equal(t2))
}

func TestActiveEntityClosedUpstream(t *testing.T) {
	closedAt := ts(t, "2026-08-03T09:00:00Z")
	api := &fakeAPI{items: map[string][]ghclient.Item{
		"owner1/repo1": {{Number: 7, Author: "bob", UpdatedAt: closedAt, ClosedAt: &closedAt, IsPR: true}},
	}}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		Repositories:  []string{"owner1/repo1"},
		MonitorIssues: true,
	})

	_, _, err := store.CreateEntityDir("owner1/repo1", "7")
	require.NoError(t, err)
	_, err = store.SetActive("owner1/repo1", "7", true)
	require.NoError(t, err)

	require.NoError(t, o.RunCycle(context.Background()))

	require.Len(t, pub.published, 1)
	assert.Equal(t, event.SubjectPRClosed, pub.published[0].Subject)
}

func TestClosedButInactiveIsUpdated(t *testing.T) {
	closedAt := ts(t, "2026-08-03T09:00:00Z")
	api := &fakeAPI{items: map[string][]ghclient.Item{
		"owner1/repo1": {{Number: 7, UpdatedAt: closedAt, ClosedAt: &closedAt}},
	}}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		Repositories:  []string{"owner1/repo1"},
		MonitorIssues: true,
	})

	_, _, err := store.CreateEntityDir("owner1/repo1", "7")
	require.NoError(t, err)

	require.NoError(t, o.RunCycle(context.Background()))

	require.Len(t, pub.published, 1)
	assert.Equal(t, event.SubjectIssueUpdated, pub.published[0].Subject)
}

func TestPublishFailureLeavesWatermarksUntouched(t *testing.T) {
	t1 := ts(t, "2026-08-01T10:00:00Z")
	api := &fakeAPI{items: map[string][]ghclient.Item{
		"owner1/repo1": {
			{Number: 1, UpdatedAt: t1},
			{Number: 2, UpdatedAt: t1},
		},
	}}
	pub := newFakePublisher()
	pub.failAfter = 1
	o, store := newTestOrchestrator(t, api, pub, Config{
		Repositories:  []string{"owner1/repo1"},
		MonitorIssues: true,
	})

	require.NoError(t, o.RunCycle(context.Background()))

	// One event made it out, but neither entity's watermark advanced: the
	// next cycle rescans the same window and the duplicate is absorbed by
	// the idempotent handler.
	assert.Len(t, pub.published, 1)
	assert.Nil(t, store.LastChecked("owner1/repo1", "1"))
	assert.Nil(t, store.LastChecked("owner1/repo1", "2"))
}

func TestDryRunPublishesAndWritesNothing(t *testing.T) {
	t1 := ts(t, "2026-08-01T10:00:00Z")
	api := &fakeAPI{items: map[string][]ghclient.Item{
		"owner1/repo1": {{Number: 123, UpdatedAt: t1}},
	}}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		Repositories:  []string{"owner1/repo1"},
		MonitorIssues: true,
		DryRun:        true,
	})

	require.NoError(t, o.RunCycle(context.Background()))

	assert.Empty(t, pub.published)
	assert.False(t, store.Tracked("owner1/repo1", "123"))
}

func TestFirstCommentCheckEstablishesWatermarkOnly(t *testing.T) {
	commentAt := ts(t, "2026-08-01T10:00:00Z")
	api := &fakeAPI{comments: map[string][]ghclient.Comment{
		"owner1/repo1": {{Author: "carol", CreatedAt: commentAt}},
	}}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		MonitorIssueComments: true,
	})

	_, _, err := store.CreateEntityDir("owner1/repo1", "5")
	require.NoError(t, err)
	require.NoError(t, store.SetEntityKind("owner1/repo1", "5", checkpoint.KindIssue))

	before := time.Now().Add(-time.Second)
	require.NoError(t, o.RunCycle(context.Background()))

	// No backlog emitted; the watermark is simply set to the scan time.
	assert.Empty(t, pub.published)
	assert.Nil(t, api.commentsSince, "first check must not hit the API")
	mark := store.LastCommentCheck("owner1/repo1", "5")
	require.NotNil(t, mark)
	assert.True(t, mark.After(before))
}

func TestSubsequentCommentCheckPublishes(t *testing.T) {
	sinceMark := ts(t, "2026-08-01T00:00:00Z")
	commentAt := ts(t, "2026-08-02T10:00:00Z")
	api := &fakeAPI{comments: map[string][]ghclient.Comment{
		"owner1/repo1": {{Author: "carol", CreatedAt: commentAt, URL: "https://example.com/c/1"}},
	}}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		MonitorPRComments: true,
	})

	_, _, err := store.CreateEntityDir("owner1/repo1", "5")
	require.NoError(t, err)
	require.NoError(t, store.SetEntityKind("owner1/repo1", "5", checkpoint.KindPR))
	require.NoError(t, store.SetLastCommentCheck("owner1/repo1", "5", sinceMark))

	require.NoError(t, o.RunCycle(context.Background()))

	require.Len(t, pub.published, 1)
	ev := pub.published[0]
	assert.Equal(t, event.SubjectPRCommentNew, ev.Subject)
	assert.Equal(t, "5", ev.Number)
	require.NotNil(t, ev.Comment)
	assert.Equal(t, "carol", ev.Comment.Author)
	assert.Equal(t, "2026-08-02T10:00:00Z", ev.Comment.CreatedAt)

	mark := store.LastCommentCheck("owner1/repo1", "5")
	require.NotNil(t, mark)
	assert.True(t, mark.Equal(commentAt))
}

func TestCommentScanSkipsUnknownKind(t *testing.T) {
	api := &fakeAPI{}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		MonitorIssueComments: true,
		MonitorPRComments:    true,
	})

	_, _, err := store.CreateEntityDir("owner1/repo1", "5")
	require.NoError(t, err)

	require.NoError(t, o.RunCycle(context.Background()))

	assert.Empty(t, pub.published)
	assert.Nil(t, store.LastCommentCheck("owner1/repo1", "5"))
}

func TestActiveOnlySkipsInactiveEntities(t *testing.T) {
	api := &fakeAPI{}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		MonitorIssueComments: true,
		ActiveOnly:           true,
	})

	_, _, err := store.CreateEntityDir("owner1/repo1", "5")
	require.NoError(t, err)
	require.NoError(t, store.SetEntityKind("owner1/repo1", "5", checkpoint.KindIssue))

	require.NoError(t, o.RunCycle(context.Background()))

	// Inactive entity never reaches the first-check watermark write.
	assert.Nil(t, store.LastCommentCheck("owner1/repo1", "5"))
}

func TestRunSingleCycleWithoutInterval(t *testing.T) {
	api := &fakeAPI{}
	pub := newFakePublisher()
	o, _ := newTestOrchestrator(t, api, pub, Config{MonitorIssues: true})

	require.NoError(t, o.Run(context.Background()))
}

func TestRunLoopsUntilCanceled(t *testing.T) {
	api := &fakeAPI{}
	pub := newFakePublisher()
	o, _ := newTestOrchestrator(t, api, pub, Config{
		MonitorIssues: true,
		Interval:      5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := o.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// windowedAPI models the real search contract: the window is inclusive, so
// an item updated exactly at the since bound comes back again.
type windowedAPI struct {
	items []ghclient.Item
}

func (w *windowedAPI) ListIssuesAndPRs(_ context.Context, _ string, since *time.Time) ([]ghclient.Item, error) {
	var out []ghclient.Item
	for _, item := range w.items {
		if since == nil || !item.UpdatedAt.Before(*since) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (w *windowedAPI) ListIssueComments(context.Context, string, int, *time.Time) ([]ghclient.Comment, error) {
	return nil, nil
}

func (w *windowedAPI) ListPRComments(context.Context, string, int, *time.Time) ([]ghclient.Comment, error) {
	return nil, nil
}

func TestUnchangedItemsAreNotRepublished(t *testing.T) {
	t1 := ts(t, "2026-08-01T10:00:00Z")
	t2 := ts(t, "2026-08-02T10:00:00Z")
	api := &windowedAPI{items: []ghclient.Item{{Number: 123, Author: "alice", UpdatedAt: t1}}}
	pub := newFakePublisher()
	o, _ := newTestOrchestrator(t, api, pub, Config{
		Repositories:  []string{"owner1/repo1"},
		MonitorIssues: true,
	})

	// The inclusive window re-returns the item every cycle; only the first
	// one may publish.
	for i := 0; i < 3; i++ {
		require.NoError(t, o.RunCycle(context.Background()))
	}
	require.Len(t, pub.published, 1)
	assert.Equal(t, event.SubjectIssueNew, pub.published[0].Subject)

	// A real change publishes again, exactly once.
	api.items[0].UpdatedAt = t2
	for i := 0; i < 2; i++ {
		require.NoError(t, o.RunCycle(context.Background()))
	}
	require.Len(t, pub.published, 2)
	assert.Equal(t, event.SubjectIssueUpdated, pub.published[1].Subject)
}

func TestStaleSiblingDoesNotRepublishFreshEntity(t *testing.T) {
	t1 := ts(t, "2026-08-01T10:00:00Z")
	t3 := ts(t, "2026-08-03T10:00:00Z")
	api := &windowedAPI{items: []ghclient.Item{
		{Number: 1, UpdatedAt: t1},
		{Number: 2, UpdatedAt: t3},
	}}
	pub := newFakePublisher()
	o, _ := newTestOrchestrator(t, api, pub, Config{
		Repositories:  []string{"owner1/repo1"},
		MonitorIssues: true,
	})

	require.NoError(t, o.RunCycle(context.Background()))
	require.Len(t, pub.published, 2)

	// The scan window spans back to entity 1's older watermark, so entity 2
	// is re-returned — but its own watermark already covers it.
	require.NoError(t, o.RunCycle(context.Background()))
	assert.Len(t, pub.published, 2)
}

func TestClosedWhileActiveFiresEvenWhenWatermarkCoversIt(t *testing.T) {
	closedAt := ts(t, "2026-08-03T09:00:00Z")
	api := &fakeAPI{items: map[string][]ghclient.Item{
		"owner1/repo1": {{Number: 7, UpdatedAt: closedAt, ClosedAt: &closedAt}},
	}}
	pub := newFakePublisher()
	o, store := newTestOrchestrator(t, api, pub, Config{
		Repositories:  []string{"owner1/repo1"},
		MonitorIssues: true,
	})

	_, _, err := store.CreateEntityDir("owner1/repo1", "7")
	require.NoError(t, err)
	_, err = store.SetActive("owner1/repo1", "7", true)
	require.NoError(t, err)
	require.NoError(t, store.SetLastChecked("owner1/repo1", "7", closedAt))

	// Still-active overrides the watermark skip: the close must keep firing
	// until the handler clears the marker.
	require.NoError(t, o.RunCycle(context.Background()))
	require.Len(t, pub.published, 1)
	assert.Equal(t, event.SubjectIssueClosed, pub.published[0].Subject)
}

func TestDetectorWatermarkWithoutItems(t *testing.T) {
	since := ts(t, "2026-08-01T00:00:00Z")
	store := checkpoint.NewStore(t.TempDir())
	d := NewDetector(store, &fakeAPI{})

	_, watermark, err := d.ScanRepository(context.Background(), "owner1/repo1", &since)
	require.NoError(t, err)
	assert.True(t, watermark.Equal(since))
}

// Package checkpoint persists per-entity monitoring state as a tree of small
// marker files under {base}/{owner}/{repo}/{number}/. Presence or absence of
// a marker and its raw content are the entire contract: there is no schema
// version and no index, so the tree can be inspected and repaired with
// ordinary shell tools.
//
// The store assumes a single monitor and a single event handler per base
// path. Concurrent external mutation of the marker tree is undefined
// behavior.
package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind distinguishes issues from pull requests.
type Kind string

const (
	KindIssue   Kind = "issue"
	KindPR      Kind = "pr"
	KindUnknown Kind = ""
)

const (
	activeMarker           = ".active"
	kindMarker             = ".type"
	lastCheckedMarker      = ".last_checked"
	lastCommentCheckMarker = ".last_comment_check"
)

// Store reads and writes the marker-file tree rooted at a base path.
type Store struct {
	base string
}

// NewStore returns a store rooted at base. The directory does not have to
// exist yet; writes create it on demand.
func NewStore(base string) *Store {
	return &Store{base: base}
}

// BasePath returns the root of the marker tree.
func (s *Store) BasePath() string {
	return s.base
}

// EntityDir returns the directory for one tracked entity. Repository is
// "owner/repo", so the result is {base}/{owner}/{repo}/{number}.
func (s *Store) EntityDir(repository, number string) string {
	return filepath.Join(s.base, filepath.FromSlash(repository), number)
}

// CreateEntityDir creates the entity directory, parents included. Creating a
// directory that already exists is a no-op; created reports whether the
// directory was new.
func (s *Store) CreateEntityDir(repository, number string) (dir string, created bool, err error) {
	dir = s.EntityDir(repository, number)
	if _, statErr := os.Stat(dir); statErr == nil {
		return dir, false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dir, false, err
	}
	return dir, true, nil
}

// Tracked reports whether the entity has a checkpoint directory at all.
func (s *Store) Tracked(repository, number string) bool {
	info, err := os.Stat(s.EntityDir(repository, number))
	return err == nil && info.IsDir()
}

// Active reports whether the entity carries the active marker.
func (s *Store) Active(repository, number string) bool {
	_, err := os.Stat(filepath.Join(s.EntityDir(repository, number), activeMarker))
	return err == nil
}

// SetActive creates or removes the active marker. Removing a marker that is
// already absent is not an error; changed reports whether the filesystem was
// actually touched so callers can log the no-op.
func (s *Store) SetActive(repository, number string, active bool) (changed bool, err error) {
	path := filepath.Join(s.EntityDir(repository, number), activeMarker)
	if active {
		if _, statErr := os.Stat(path); statErr == nil {
			return false, nil
		}
		if err := s.writeMarker(path, ""); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EntityKind returns the recorded kind. A missing marker, or one whose
// content is not exactly "issue" or "pr", is KindUnknown — never an error.
func (s *Store) EntityKind(repository, number string) Kind {
	raw, err := os.ReadFile(filepath.Join(s.EntityDir(repository, number), kindMarker))
	if err != nil {
		return KindUnknown
	}
	switch Kind(strings.TrimSpace(string(raw))) {
	case KindIssue:
		return KindIssue
	case KindPR:
		return KindPR
	}
	return KindUnknown
}

// SetEntityKind records the entity kind marker.
func (s *Store) SetEntityKind(repository, number string, kind Kind) error {
	return s.writeMarker(filepath.Join(s.EntityDir(repository, number), kindMarker), string(kind))
}

// LastChecked returns the issue/PR polling watermark, or nil when it has
// never been set or cannot be parsed.
func (s *Store) LastChecked(repository, number string) *time.Time {
	return s.readTime(filepath.Join(s.EntityDir(repository, number), lastCheckedMarker))
}

// SetLastChecked advances the issue/PR polling watermark.
func (s *Store) SetLastChecked(repository, number string, t time.Time) error {
	return s.writeMarker(filepath.Join(s.EntityDir(repository, number), lastCheckedMarker),
		t.UTC().Format(time.RFC3339))
}

// LastCommentCheck returns the comment polling watermark, or nil when it has
// never been set. One watermark serves both issue and PR comment checks for
// an entity.
func (s *Store) LastCommentCheck(repository, number string) *time.Time {
	return s.readTime(filepath.Join(s.EntityDir(repository, number), lastCommentCheckMarker))
}

// SetLastCommentCheck advances the comment polling watermark.
func (s *Store) SetLastCommentCheck(repository, number string, t time.Time) error {
	return s.writeMarker(filepath.Join(s.EntityDir(repository, number), lastCommentCheckMarker),
		t.UTC().Format(time.RFC3339))
}

func (s *Store) readTime(path string) *time.Time {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
	if err != nil {
		return nil
	}
	return &t
}

func (s *Store) writeMarker(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

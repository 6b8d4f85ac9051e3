// Package event defines the envelope published for every detected GitHub
// change. Subjects are stable wire identifiers: the monitor publishes them,
// the event handler dispatches on them, and both sides must agree byte for
// byte.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Subject identifies the kind of change an event describes.
type Subject string

const (
	SubjectIssueNew        Subject = "github.issue.new"
	SubjectIssueUpdated    Subject = "github.issue.updated"
	SubjectIssueClosed     Subject = "github.issue.closed"
	SubjectIssueCommentNew Subject = "github.issue.comment.new"
	SubjectPRNew           Subject = "github.pr.new"
	SubjectPRUpdated       Subject = "github.pr.updated"
	SubjectPRClosed        Subject = "github.pr.closed"
	SubjectPRCommentNew    Subject = "github.pr.comment.new"

	// SubjectIssueProcess is a deprecated alias kept for streams that still
	// contain events published before the updated/closed split. Handled
	// exactly like SubjectIssueUpdated.
	SubjectIssueProcess Subject = "github.issue.process"
)

// ErrMalformed marks a payload that can never become valid through
// redelivery: undecodable JSON or a missing required field. Consumers
// terminate such messages instead of redelivering them.
var ErrMalformed = errors.New("malformed event")

// Comment carries the metadata of a single new comment.
type Comment struct {
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
	URL       string `json:"url"`
}

// Event is the immutable envelope for one detected change. Repository and
// Number are always present so a redelivered event can be re-applied
// idempotently; the remaining fields are informational.
type Event struct {
	Subject    Subject  `json:"-"`
	Repository string   `json:"repository"`
	Number     string   `json:"number"`
	Author     string   `json:"author"`
	Title      string   `json:"title,omitempty"`
	URL        string   `json:"url,omitempty"`
	Comment    *Comment `json:"comment,omitempty"`
}

// Encode serializes the envelope body. The subject travels outside the
// payload, as the message's routing key.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a payload received under the given subject and validates the
// fields every handler depends on. All failures wrap ErrMalformed.
func Decode(subject string, payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("%w: decoding payload: %v", ErrMalformed, err)
	}
	e.Subject = Subject(subject)
	if strings.TrimSpace(e.Repository) == "" {
		return Event{}, fmt.Errorf("%w: missing repository", ErrMalformed)
	}
	if strings.TrimSpace(e.Number) == "" {
		return Event{}, fmt.Errorf("%w: missing number", ErrMalformed)
	}
	if e.Subject.IsComment() && e.Comment == nil {
		return Event{}, fmt.Errorf("%w: missing comment on %s", ErrMalformed, subject)
	}
	return e, nil
}

// IsComment reports whether the subject describes a new comment.
func (s Subject) IsComment() bool {
	return s == SubjectIssueCommentNew || s == SubjectPRCommentNew
}

// IsPR reports whether the subject describes a pull request.
func (s Subject) IsPR() bool {
	return strings.HasPrefix(string(s), "github.pr.")
}

// Known reports whether the subject is one the handler dispatches on,
// including the deprecated process alias.
func (s Subject) Known() bool {
	switch s {
	case SubjectIssueNew, SubjectIssueUpdated, SubjectIssueClosed, SubjectIssueCommentNew,
		SubjectPRNew, SubjectPRUpdated, SubjectPRClosed, SubjectPRCommentNew,
		SubjectIssueProcess:
		return true
	}
	return false
}

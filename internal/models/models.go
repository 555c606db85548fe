package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDraft is returned when a draft payload fails validation.
// Invalid drafts are rejected before they reach the queue.
var ErrInvalidDraft = errors.New("invalid draft")

// ErrNotFound is returned by stores when a draft does not exist.
var ErrNotFound = errors.New("not found")

// Kind discriminates the payload carried by a draft
type Kind string

const (
	KindDiscussion Kind = "discussion"
	KindComment    Kind = "comment"
)

// Status represents a draft's position in the sync state machine
type Status string

const (
	StatusDraft   Status = "draft"   // never attempted, or explicitly reset
	StatusPending Status = "pending" // attempt in flight
	StatusSynced  Status = "synced"  // acknowledged by the remote, awaiting removal
	StatusFailed  Status = "failed"  // last attempt rejected or errored
)

// Role is the author's role within a course
type Role string

const (
	RoleStudent Role = "student"
	RoleTA      Role = "ta"
	RoleTeacher Role = "teacher"
)

// CollectionKind names a cached remote collection within a course
type CollectionKind string

const (
	CollectionAnnouncements CollectionKind = "announcements"
	CollectionDiscussions   CollectionKind = "discussions"
)

// Payload is the tagged variant carried by a DraftEntry.
// Discussion and Comment are the only implementations.
type Payload interface {
	Kind() Kind
	Course() string
	Validate() error
	isPayload()
}

// Discussion is a new top-level discussion post
type Discussion struct {
	CourseID   string `json:"course_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Anonymous  bool   `json:"anonymous"`
	AuthorID   string `json:"author_id"`
	AuthorRole Role   `json:"author_role"`
}

// Comment is a reply to an existing discussion
type Comment struct {
	CourseID     string `json:"course_id"`
	DiscussionID string `json:"discussion_id"`
	Body         string `json:"body"`
	Anonymous    bool   `json:"anonymous"`
	AuthorID     string `json:"author_id"`
	AuthorRole   Role   `json:"author_role"`
}

func (Discussion) Kind() Kind       { return KindDiscussion }
func (d Discussion) Course() string { return d.CourseID }
func (Discussion) isPayload()       {}

func (Comment) Kind() Kind       { return KindComment }
func (c Comment) Course() string { return c.CourseID }
func (Comment) isPayload()       {}

// Validate checks the fields a discussion needs to be postable
func (d Discussion) Validate() error {
	if strings.TrimSpace(d.CourseID) == "" {
		return fmt.Errorf("%w: course id is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: discussion title is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("%w: discussion body is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(d.AuthorID) == "" {
		return fmt.Errorf("%w: author id is required", ErrInvalidDraft)
	}
	return validateRole(d.AuthorRole)
}

// Validate checks the fields a comment needs to be postable
func (c Comment) Validate() error {
	if strings.TrimSpace(c.CourseID) == "" {
		return fmt.Errorf("%w: course id is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(c.DiscussionID) == "" {
		return fmt.Errorf("%w: comment needs a discussion id", ErrInvalidDraft)
	}
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("%w: comment body is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(c.AuthorID) == "" {
		return fmt.Errorf("%w: author id is required", ErrInvalidDraft)
	}
	return validateRole(c.AuthorRole)
}

func validateRole(r Role) error {
	if !IsValidRole(r) {
		return fmt.Errorf("%w: unknown author role %q", ErrInvalidDraft, r)
	}
	return nil
}

// IsValidRole checks if a role is valid
func IsValidRole(r Role) bool {
	switch r {
	case RoleStudent, RoleTA, RoleTeacher:
		return true
	}
	return false
}

// IsValidStatus checks if a status is valid
func IsValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusPending, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// CollectionKinds lists every collection kind that can be cached
var CollectionKinds = []CollectionKind{CollectionAnnouncements, CollectionDiscussions}

// IsValidCollection checks if a collection kind can be cached
func IsValidCollection(k CollectionKind) bool {
	return k == CollectionAnnouncements || k == CollectionDiscussions
}

// EncodePayload serializes a payload for storage next to its kind.
func EncodePayload(p Payload) (Kind, []byte, error) {
	if p == nil {
		return "", nil, fmt.Errorf("%w: missing payload", ErrInvalidDraft)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("marshal payload: %w", err)
	}
	return p.Kind(), data, nil
}

// DecodePayload restores a payload from its stored kind and JSON body.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindDiscussion:
		var d Discussion
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode discussion payload: %w", err)
		}
		return d, nil
	case KindComment:
		var c Comment
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode comment payload: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown draft kind %q", kind)
	}
}

// DraftEntry is one pending write in the queue
type DraftEntry struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Payload    Payload    `json:"payload"`
	Status     Status     `json:"status"`
	RetryCount int        `json:"retry_count"`
	// Rejected marks a failure the server will repeat on every attempt,
	// such as a comment on a deleted discussion. It stops automatic retries.
	Rejected   bool       `json:"rejected,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// draftWire is the JSON shape of a DraftEntry with the payload left raw
type draftWire struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	RetryCount int             `json:"retry_count"`
	Rejected   bool            `json:"rejected,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// MarshalJSON encodes the entry with its payload inline
func (e DraftEntry) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage = []byte("null")
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(draftWire{
		ID:         e.ID,
		Kind:       e.Kind,
		Payload:    raw,
		Status:     e.Status,
		RetryCount: e.RetryCount,
		Rejected:   e.Rejected,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		SyncedAt:   e.SyncedAt,
		LastError:  e.LastError,
	})
}

// UnmarshalJSON decodes the payload according to the entry's kind
func (e *DraftEntry) UnmarshalJSON(data []byte) error {
	var w draftWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Kind, w.Payload)
	if err != nil {
		return err
	}
	*e = DraftEntry{
		ID:         w.ID,
		Kind:       w.Kind,
		Payload:    p,
		Status:     w.Status,
		RetryCount: w.RetryCount,
		Rejected:   w.Rejected,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
		SyncedAt:   w.SyncedAt,
		LastError:  w.LastError,
	}
	return nil
}

// CourseID returns the course the entry's payload targets
func (e DraftEntry) CourseID() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Course()
}

// DiscussionID returns the parent discussion for comments, "" otherwise
func (e DraftEntry) DiscussionID() string {
	if c, ok := e.Payload.(Comment); ok {
		return c.DiscussionID
	}
	return ""
}

// titleRunes is how much of a comment body Title shows
const titleRunes = 40

// Title returns a short display label for the entry
func (e DraftEntry) Title() string {
	switch p := e.Payload.(type) {
	case Discussion:
		return p.Title
	case Comment:
		body := []rune(strings.TrimSpace(p.Body))
		if len(body) > titleRunes {
			return string(body[:titleRunes]) + "..."
		}
		return string(body)
	}
	return ""
}

// DraftFilter narrows ListDrafts results. Empty fields match everything.
type DraftFilter struct {
	CourseID     string
	DiscussionID string
	Status       Status
}

// Match reports whether the entry passes the filter
func (f DraftFilter) Match(e DraftEntry) bool {
	if f.CourseID != "" && e.CourseID() != f.CourseID {
		return false
	}
	if f.DiscussionID != "" && e.DiscussionID() != f.DiscussionID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// Document is a remote document as last observed
type Document struct {
	ID        string         `json:"id"`
	Path      string         `json:"path"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
}

// String returns a field as a string, or "" when absent
func (d Document) String(field string) string {
	if v, ok := d.Fields[field].(string); ok {
		return v
	}
	return ""
}

// Int returns a numeric field as an int64, or 0 when absent
func (d Document) Int(field string) int64 {
	switch v := d.Fields[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// CachedCollection is a strict snapshot of one remote collection in one course
type CachedCollection struct {
	CourseID     string         `json:"course_id"`
	CourseName   string         `json:"course_name"`
	Kind         CollectionKind `json:"kind"`
	Items        []Document     `json:"items"`
	LastSyncedAt time.Time      `json:"last_synced_at"`
}

// SyncRun records one coordinator pass for status output
type SyncRun struct {
	ID        int64         `json:"id"`
	Trigger   string        `json:"trigger"` // reconnect, manual, save
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Refreshed int           `json:"refreshed"`
	Errors    int           `json:"errors"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Package notify sends reply and milestone notifications for synced
// comments via a signed webhook or a Discord channel webhook.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"
)

// EventType distinguishes notification kinds
type EventType string

const (
	EventReply     EventType = "reply"
	EventMilestone EventType = "milestone"
)

// Milestones are the reply counts that trigger a milestone event.
var Milestones = []int64{10, 25, 50, 100}

// IsMilestone reports whether n is one of Milestones
func IsMilestone(n int64) bool {
	return slices.Contains(Milestones, n)
}

// Event is one notification.
type Event struct {
	Type         EventType `json:"type"`
	CourseID     string    `json:"course_id"`
	DiscussionID string    `json:"discussion_id"`
	Title        string    `json:"title,omitempty"`
	RecipientID  string    `json:"recipient_id"`
	CommentID    string    `json:"comment_id,omitempty"`
	ReplyCount   int64     `json:"reply_count"`
}

// ForComment builds the events for a newly synced comment: a reply event for
// the discussion author, plus a milestone event when the count hits one.
func ForComment(courseID, discussionID, commentID, title, recipientID string, replyCount int64) []Event {
	events := []Event{{
		Type:         EventReply,
		CourseID:     courseID,
		DiscussionID: discussionID,
		Title:        title,
		RecipientID:  recipientID,
		CommentID:    commentID,
		ReplyCount:   replyCount,
	}}
	if IsMilestone(replyCount) {
		events = append(events, Event{
			Type:         EventMilestone,
			CourseID:     courseID,
			DiscussionID: discussionID,
			Title:        title,
			RecipientID:  recipientID,
			ReplyCount:   replyCount,
		})
	}
	return events
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, events ...Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, ...Event) error { return nil }

// Payload is the webhook POST body.
type Payload struct {
	Timestamp string  `json:"timestamp"`
	Events    []Event `json:"events"`
}

// Webhook POSTs events as JSON. When Secret is set the body is signed with
// HMAC-SHA256 over "<unix timestamp>.<body>".
type Webhook struct {
	URL    string
	Secret string
	HTTP   *http.Client
	now    func() time.Time
}

// NewWebhook returns a Webhook notifier, or Nop when url is empty.
func NewWebhook(url, secret string) Notifier {
	if url == "" {
		return Nop{}
	}
	return &Webhook{
		URL:    url,
		Secret: secret,
		HTTP:   &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Notify performs a synchronous POST. Returns nil on a 2xx status.
func (w *Webhook) Notify(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	now := w.now().UTC()
	body, err := json.Marshal(Payload{
		Timestamp: now.Format(time.RFC3339),
		Events:    events,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "coursesync-webhook/1")

	unixTS := strconv.FormatInt(now.Unix(), 10)
	req.Header.Set("X-Coursesync-Timestamp", unixTS)
	if w.Secret != "" {
		req.Header.Set("X-Coursesync-Signature", "sha256="+Sign(w.Secret, unixTS, body))
	}

	resp, err := w.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", w.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", w.URL, resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Recorder keeps every event it is given. Tests and dry runs use it.
type Recorder struct {
	Events []Event
	Err    error
}

func (r *Recorder) Notify(_ context.Context, events ...Event) error {
	r.Events = append(r.Events, events...)
	return r.Err
}

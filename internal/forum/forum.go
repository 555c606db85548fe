// Package forum performs the remote writes behind a synced draft: markup
// sanitizing, author name resolution, anonymity substitution and reply
// counting.
package forum

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/remote"
)

// Display names written in place of a real author.
const (
	AnonymousName = "Anonymous"
	UnknownName   = "Unknown"
)

// ReplyCountField is the counter maintained on discussion documents.
const ReplyCountField = "replyCount"

// ErrParentMissing is returned when a comment's discussion no longer exists.
// It wraps remote.ErrNotFound, so remote.IsPermanent reports true.
var ErrParentMissing = fmt.Errorf("parent discussion missing: %w", remote.ErrNotFound)

// Result describes a completed remote write.
type Result struct {
	ID   string // remote document id
	Path string // full document path

	// Set for comments only
	DiscussionAuthorID string
	DiscussionTitle    string
	ReplyCount         int64
}

// Poster writes discussions and comments to a DataSource.
type Poster struct {
	src   remote.DataSource
	now   func() time.Time
	body  *bluemonday.Policy
	title *bluemonday.Policy
}

// New creates a Poster.
func New(src remote.DataSource) *Poster {
	return &Poster{src: src, now: time.Now, body: bodyPolicy(), title: bluemonday.StrictPolicy()}
}

// bodyPolicy keeps the basic formatting the course client renders and
// strips everything else.
func bodyPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AllowElements("p", "br", "strong", "em", "code", "pre", "blockquote")
	p.AllowElements("ul", "ol", "li")
	p.AllowAttrs("href").OnElements("a")
	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireNoFollowOnLinks(true)
	return p
}

// SanitizeBody strips disallowed markup from a post body.
func (p *Poster) SanitizeBody(s string) string {
	return strings.TrimSpace(p.body.Sanitize(s))
}

// SanitizeTitle reduces a title to plain text.
func (p *Poster) SanitizeTitle(s string) string {
	return strings.TrimSpace(html.UnescapeString(p.title.Sanitize(s)))
}

func (p *Poster) sanitize(title, body string) (string, string, error) {
	body = p.SanitizeBody(body)
	if body == "" {
		return "", "", fmt.Errorf("%w: body is empty after sanitizing", models.ErrInvalidDraft)
	}
	if title != "" {
		title = p.SanitizeTitle(title)
		if title == "" {
			return "", "", fmt.Errorf("%w: title is empty after sanitizing", models.ErrInvalidDraft)
		}
	}
	return title, body, nil
}

// SetClock replaces the clock used for createdAt stamps.
func (p *Poster) SetClock(now func() time.Time) { p.now = now }

// Post dispatches on the payload variant.
func (p *Poster) Post(ctx context.Context, payload models.Payload) (*Result, error) {
	switch v := payload.(type) {
	case models.Discussion:
		return p.PostDiscussion(ctx, v)
	case models.Comment:
		return p.PostComment(ctx, v)
	case nil:
		return nil, fmt.Errorf("%w: missing payload", models.ErrInvalidDraft)
	default:
		return nil, fmt.Errorf("unsupported payload %T", payload)
	}
}

// PostDiscussion creates a discussion document with a zero reply count.
func (p *Poster) PostDiscussion(ctx context.Context, d models.Discussion) (*Result, error) {
	title, body, err := p.sanitize(d.Title, d.Body)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"title":         title,
		"body":          body,
		"authorId":      d.AuthorID,
		"authorName":    p.displayName(ctx, d.AuthorID, d.Anonymous),
		"authorRole":    string(d.AuthorRole),
		"anonymous":     d.Anonymous,
		ReplyCountField: int64(0),
		"createdAt":     p.stamp(),
	}
	collection := remote.CollectionPath(d.CourseID, models.CollectionDiscussions)
	id, err := p.src.CreateDocument(ctx, collection, fields)
	if err != nil {
		return nil, fmt.Errorf("create discussion: %w", err)
	}
	return &Result{ID: id, Path: collection + "/" + id}, nil
}

// PostComment creates a comment under its discussion and increments the
// discussion's reply count.
func (p *Poster) PostComment(ctx context.Context, c models.Comment) (*Result, error) {
	_, body, err := p.sanitize("", c.Body)
	if err != nil {
		return nil, err
	}
	discussionPath := remote.DiscussionPath(c.CourseID, c.DiscussionID)
	parent, err := p.src.GetDocument(ctx, discussionPath)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", discussionPath, ErrParentMissing)
		}
		return nil, fmt.Errorf("get discussion: %w", err)
	}

	fields := map[string]any{
		"body":       body,
		"authorId":   c.AuthorID,
		"authorName": p.displayName(ctx, c.AuthorID, c.Anonymous),
		"authorRole": string(c.AuthorRole),
		"anonymous":  c.Anonymous,
		"createdAt":  p.stamp(),
	}
	collection := remote.CommentsPath(c.CourseID, c.DiscussionID)
	id, err := p.src.CreateDocument(ctx, collection, fields)
	if err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}

	res := &Result{
		ID:                 id,
		Path:               collection + "/" + id,
		DiscussionAuthorID: parent.String("authorId"),
		DiscussionTitle:    parent.String("title"),
	}

	// The comment has landed; a failed counter bump must not fail the draft
	// or the retry would post the comment twice.
	count, err := p.src.IncrementField(ctx, discussionPath, ReplyCountField, 1)
	if err != nil {
		slog.Warn("forum: reply count increment failed", "discussion", discussionPath, "err", err)
		res.ReplyCount = parent.Int(ReplyCountField) + 1
	} else {
		res.ReplyCount = count
	}
	return res, nil
}

// displayName resolves the name shown on a post. Lookup failures fall back
// to UnknownName rather than blocking the write.
func (p *Poster) displayName(ctx context.Context, userID string, anonymous bool) string {
	if anonymous {
		return AnonymousName
	}
	if userID == "" {
		return UnknownName
	}
	user, err := p.src.GetDocument(ctx, remote.UserPath(userID))
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			slog.Debug("forum: author lookup", "user", userID, "err", err)
		}
		return UnknownName
	}
	for _, key := range []string{"displayName", "name"} {
		if name := user.String(key); name != "" {
			return name
		}
	}
	return UnknownName
}

func (p *Poster) stamp() string {
	return p.now().UTC().Format(time.RFC3339Nano)
}

// Package remote defines the narrow document-store contract the sync engine
// depends on, plus an HTTP client for coursesync-server and an in-process
// implementation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/marcus/coursesync/internal/models"
)

// Sentinel errors for common remote error classes.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadPath      = errors.New("bad document path")
)

// DataSource is the remote document store. Collection paths have an odd
// number of segments ("courses/c1/discussions"), document paths an even
// number ("courses/c1/discussions/d1").
type DataSource interface {
	// CreateDocument adds a document to the collection and returns its id
	CreateDocument(ctx context.Context, collectionPath string, fields map[string]any) (string, error)
	// GetDocument returns the document at path, or ErrNotFound
	GetDocument(ctx context.Context, path string) (*models.Document, error)
	// IncrementField adds delta to a numeric field and returns the new value
	IncrementField(ctx context.Context, path, field string, delta int64) (int64, error)
	// ListCollection returns every document in the collection. orderBy names
	// a field; a leading "-" sorts descending.
	ListCollection(ctx context.Context, collectionPath, orderBy string) ([]models.Document, error)
	// Subscribe streams full collection snapshots until ctx is done. The
	// channel is closed when the stream ends.
	Subscribe(ctx context.Context, collectionPath string) (<-chan []models.Document, error)
}

// StatusError is an HTTP-level failure reported by the server
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, e.Code)
}

// IsPermanent reports whether retrying err can never succeed. Missing
// documents, invalid content and 4xx rejections are permanent; network errors, timeouts, 408,
// 429 and 5xx are transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadPath) || errors.Is(err, ErrForbidden) ||
		errors.Is(err, models.ErrInvalidDraft) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return false
		}
		return se.StatusCode >= 400 && se.StatusCode < 500
	}
	return false
}

// Segments splits a slash-separated path, rejecting empty segments.
func Segments(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrBadPath)
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
		}
	}
	return parts, nil
}

// IsCollectionPath reports whether path names a collection
func IsCollectionPath(path string) bool {
	parts, err := Segments(path)
	return err == nil && len(parts)%2 == 1
}

// IsDocumentPath reports whether path names a document
func IsDocumentPath(path string) bool {
	parts, err := Segments(path)
	return err == nil && len(parts)%2 == 0
}

// SplitDocumentPath returns the parent collection and id of a document path
func SplitDocumentPath(path string) (collection, id string, err error) {
	if !IsDocumentPath(path) {
		return "", "", fmt.Errorf("%w: %q is not a document path", ErrBadPath, path)
	}
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	return path[:i], path[i+1:], nil
}

// Path helpers for the course layout.

func CoursePath(courseID string) string { return "courses/" + courseID }

func CollectionPath(courseID string, kind models.CollectionKind) string {
	return CoursePath(courseID) + "/" + string(kind)
}

func DiscussionPath(courseID, discussionID string) string {
	return CollectionPath(courseID, models.CollectionDiscussions) + "/" + discussionID
}

func CommentsPath(courseID, discussionID string) string {
	return DiscussionPath(courseID, discussionID) + "/comments"
}

func UserPath(userID string) string { return "users/" + userID }

// Package cache keeps per-course snapshots of remote collections so they can
// be served while offline.
//
// A snapshot is only ever replaced whole. Refreshes pull the full collection
// first and swap it in with a single store write, so a failed refresh leaves
// the previous snapshot exactly as it was.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/remote"
)

// NewestFirst is the ordering requested from the remote for every snapshot.
const NewestFirst = "-createdAt"

// Store persists snapshots. db.DB and boltstore.Store implement it.
type Store interface {
	PutSnapshot(c models.CachedCollection) error
	GetSnapshot(courseID string, kind models.CollectionKind) (*models.CachedCollection, error)
	DeleteSnapshots(courseID string) (int, error)
	ListSnapshots() ([]models.CachedCollection, error)
}

// Cache is the content cache.
type Cache struct {
	store Store
	src   remote.DataSource
	memo  *Memo
	now   func() time.Time
}

// Options tunes a Cache. Zero values pick the defaults.
type Options struct {
	// Memo fronts store reads. Nil disables in-memory memoization.
	Memo *Memo
	Now  func() time.Time
}

// New creates a Cache over store. src may be nil for a read-only cache.
func New(store Store, src remote.DataSource, opts Options) *Cache {
	c := &Cache{store: store, src: src, memo: opts.Memo, now: opts.Now}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func validKind(kind models.CollectionKind) error {
	if !models.IsValidCollection(kind) {
		return fmt.Errorf("unknown collection %q", kind)
	}
	return nil
}

// Write replaces the stored snapshot for (courseID, kind) and stamps
// LastSyncedAt. On a storage error the previous snapshot is kept.
func (c *Cache) Write(courseID string, kind models.CollectionKind, items []models.Document, courseName string) error {
	if err := validKind(kind); err != nil {
		return err
	}
	snap := models.CachedCollection{
		CourseID:     courseID,
		CourseName:   courseName,
		Kind:         kind,
		Items:        items,
		LastSyncedAt: c.now().UTC(),
	}
	if snap.Items == nil {
		snap.Items = []models.Document{}
	}
	if err := c.store.PutSnapshot(snap); err != nil {
		c.memo.Forget(courseID, kind)
		return fmt.Errorf("write cache %s/%s: %w", courseID, kind, err)
	}
	c.memo.Put(snap)
	slog.Debug("cache: wrote snapshot", "course", courseID, "kind", kind, "items", len(snap.Items))
	return nil
}

// Read returns the last snapshot's items, or an empty slice when nothing has
// been cached. It never touches the network.
func (c *Cache) Read(courseID string, kind models.CollectionKind) ([]models.Document, error) {
	snap, err := c.Snapshot(courseID, kind)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return []models.Document{}, nil
	}
	return snap.Items, nil
}

// Snapshot returns the full cached collection with its metadata, or nil.
func (c *Cache) Snapshot(courseID string, kind models.CollectionKind) (*models.CachedCollection, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}
	if snap, ok := c.memo.Get(courseID, kind); ok {
		return snap, nil
	}
	snap, err := c.store.GetSnapshot(courseID, kind)
	if err != nil {
		return nil, fmt.Errorf("read cache %s/%s: %w", courseID, kind, err)
	}
	if snap != nil {
		c.memo.Put(*snap)
	}
	return snap, nil
}

// List returns metadata for every cached collection. Items are left empty.
func (c *Cache) List() ([]models.CachedCollection, error) {
	return c.store.ListSnapshots()
}

// Clear drops every snapshot for a course.
func (c *Cache) Clear(courseID string) (int, error) {
	n, err := c.store.DeleteSnapshots(courseID)
	c.memo.ForgetCourse(courseID)
	if err != nil {
		return 0, fmt.Errorf("clear cache %s: %w", courseID, err)
	}
	return n, nil
}

// RefreshFromRemote pulls the collection from the remote and replaces the
// snapshot. It is not retried here; the coordinator decides when to try again.
func (c *Cache) RefreshFromRemote(ctx context.Context, courseID string, kind models.CollectionKind) error {
	if err := validKind(kind); err != nil {
		return err
	}
	if c.src == nil {
		return errors.New("cache has no remote source")
	}
	items, err := c.src.ListCollection(ctx, remote.CollectionPath(courseID, kind), NewestFirst)
	if err != nil {
		return fmt.Errorf("refresh %s/%s: %w", courseID, kind, err)
	}
	name := c.courseName(ctx, courseID)
	return c.Write(courseID, kind, items, name)
}

// courseName resolves the display name stored next to a snapshot. A failed
// lookup keeps whatever name is already cached.
func (c *Cache) courseName(ctx context.Context, courseID string) string {
	doc, err := c.src.GetDocument(ctx, remote.CoursePath(courseID))
	if err == nil {
		if name := doc.String("name"); name != "" {
			return name
		}
	} else if !errors.Is(err, remote.ErrNotFound) {
		slog.Debug("cache: course name lookup", "course", courseID, "err", err)
	}
	for _, kind := range []models.CollectionKind{models.CollectionDiscussions, models.CollectionAnnouncements} {
		if snap, err := c.store.GetSnapshot(courseID, kind); err == nil && snap != nil && snap.CourseName != "" {
			return snap.CourseName
		}
	}
	return courseID
}

// Observe writes every snapshot that arrives on stream until it closes or
// ctx is done. This is how live updates reach the cache while online.
// Write failures are logged and the stream keeps being consumed.
func (c *Cache) Observe(ctx context.Context, courseID string, kind models.CollectionKind, courseName string, stream <-chan []models.Document) error {
	if err := validKind(kind); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case items, ok := <-stream:
			if !ok {
				return ctx.Err()
			}
			items = slices.Clone(items)
			remote.SortDocuments(items, NewestFirst)
			if err := c.Write(courseID, kind, items, courseName); err != nil {
				slog.Warn("cache: live write", "course", courseID, "kind", kind, "err", err)
			}
		}
	}
}

// Live subscribes to the collection and feeds it through Observe. It returns
// when the subscription ends.
func (c *Cache) Live(ctx context.Context, courseID string, kind models.CollectionKind) error {
	if c.src == nil {
		return errors.New("cache has no remote source")
	}
	stream, err := c.src.Subscribe(ctx, remote.CollectionPath(courseID, kind))
	if err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", courseID, kind, err)
	}
	return c.Observe(ctx, courseID, kind, c.courseName(ctx, courseID), stream)
}

package docstore

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGet(t *testing.T) {
	s := openTestStore(t)

	doc, err := s.Create("courses/c1/discussions", map[string]any{
		"title":      "Quiz Q",
		"replyCount": 0,
		"createdAt":  "2026-03-01T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if doc.ID == "" || doc.Path != "courses/c1/discussions/"+doc.ID {
		t.Fatalf("doc = %+v", doc)
	}

	got, err := s.Get(doc.Path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.String("title") != "Quiz Q" {
		t.Errorf("title = %q", got.String("title"))
	}
	if _, ok := got.Fields["replyCount"].(int64); !ok {
		t.Errorf("replyCount decoded as %T, want int64", got.Fields["replyCount"])
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !got.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want)
	}
}

func TestPathShapes(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Create("courses/c1", nil); !errors.Is(err, ErrBadPath) {
		t.Errorf("create on document path = %v, want ErrBadPath", err)
	}
	if _, err := s.Get("courses"); !errors.Is(err, ErrBadPath) {
		t.Errorf("get on collection = %v, want ErrBadPath", err)
	}
	if _, err := s.Get("courses/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing = %v, want ErrNotFound", err)
	}
}

func TestSetKeepsCreatedAt(t *testing.T) {
	s := openTestStore(t)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	if _, err := s.Set("users/u1", map[string]any{"displayName": "Ada"}); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(time.Hour)
	doc, err := s.Set("users/u1", map[string]any{"displayName": "Ada L."})
	if err != nil {
		t.Fatal(err)
	}
	if doc.String("displayName") != "Ada L." {
		t.Errorf("displayName = %q", doc.String("displayName"))
	}
	if !doc.CreatedAt.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v, want original", doc.CreatedAt)
	}
}

func TestIncrement(t *testing.T) {
	s := openTestStore(t)
	doc, _ := s.Create("courses/c1/discussions", map[string]any{"title": "t"})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Increment(doc.Path, "replyCount", 1); err != nil {
				t.Errorf("Increment: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(doc.Path)
	if n := got.Int("replyCount"); n != 10 {
		t.Errorf("replyCount = %d, want 10", n)
	}

	if _, err := s.Increment(doc.Path, "title", 1); !errors.Is(err, ErrNotNumeric) {
		t.Errorf("increment string field = %v, want ErrNotNumeric", err)
	}
	if _, err := s.Increment("courses/c1/discussions/none", "replyCount", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("increment missing = %v, want ErrNotFound", err)
	}
}

func TestListDirectChildrenOrdered(t *testing.T) {
	s := openTestStore(t)
	for _, stamp := range []string{"2026-03-01T09:00:00Z", "2026-03-03T09:00:00Z", "2026-03-02T09:00:00Z"} {
		if _, err := s.Create("courses/c1/announcements", map[string]any{"title": stamp, "createdAt": stamp}); err != nil {
			t.Fatal(err)
		}
	}
	parent, _ := s.Create("courses/c1/discussions", map[string]any{"title": "d"})
	s.Create(parent.Path+"/comments", map[string]any{"body": "nested"})

	docs, err := s.List("courses/c1/announcements", "-createdAt")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs, want 3", len(docs))
	}
	if docs[0].String("title") != "2026-03-03T09:00:00Z" || docs[2].String("title") != "2026-03-01T09:00:00Z" {
		t.Errorf("order = %s, %s, %s", docs[0].String("title"), docs[1].String("title"), docs[2].String("title"))
	}

	discussions, _ := s.List("courses/c1/discussions", "")
	if len(discussions) != 1 {
		t.Errorf("discussions = %d, want 1 (comments are a nested collection)", len(discussions))
	}

	empty, err := s.List("courses/c9/announcements", "")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty list = %v, %v; want non-nil empty slice", empty, err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	doc, _ := s.Create("courses/c1/announcements", nil)
	if err := s.Delete(doc.Path); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(doc.Path); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

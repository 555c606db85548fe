package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/coursesync/internal/db"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/remote"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time           { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*Cache, *db.DB, *remote.Memory, *fixedClock) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	mem := remote.NewMemory()
	mem.SetClock(clock.now)
	if err := mem.Put("courses/c1", map[string]any{"name": "Biology 101"}); err != nil {
		t.Fatal(err)
	}
	return New(database, mem, Options{Now: clock.now}), database, mem, clock
}

func ids(docs []models.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestReadEmpty(t *testing.T) {
	c, _, _, _ := setup(t)

	items, err := c.Read("c1", models.CollectionAnnouncements)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("Read = %v, want empty non-nil slice", items)
	}
}

func TestReadRejectsUnknownKind(t *testing.T) {
	c, _, _, _ := setup(t)
	if _, err := c.Read("c1", "grades"); err == nil {
		t.Fatal("expected error for unknown collection")
	}
}

func TestWriteReplacesSnapshot(t *testing.T) {
	c, _, _, clock := setup(t)

	first := []models.Document{{ID: "a"}, {ID: "b"}}
	if err := c.Write("c1", models.CollectionDiscussions, first, "Biology 101"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	clock.advance(time.Minute)
	second := []models.Document{{ID: "c"}}
	if err := c.Write("c1", models.CollectionDiscussions, second, "Biology 101"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	snap, err := c.Snapshot("c1", models.CollectionDiscussions)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := ids(snap.Items); len(got) != 1 || got[0] != "c" {
		t.Errorf("items = %v, want [c]", got)
	}
	if !snap.LastSyncedAt.Equal(clock.t) {
		t.Errorf("LastSyncedAt = %v, want %v", snap.LastSyncedAt, clock.t)
	}
	if snap.CourseName != "Biology 101" {
		t.Errorf("CourseName = %q", snap.CourseName)
	}
}

func TestRefreshFromRemoteNewestFirst(t *testing.T) {
	c, _, mem, clock := setup(t)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		if err := mem.Put("courses/c1/discussions/"+id, map[string]any{"title": id}); err != nil {
			t.Fatal(err)
		}
		clock.advance(time.Second)
	}

	if err := c.RefreshFromRemote(ctx, "c1", models.CollectionDiscussions); err != nil {
		t.Fatalf("RefreshFromRemote: %v", err)
	}
	items, err := c.Read("c1", models.CollectionDiscussions)
	if err != nil {
		t.Fatal(err)
	}
	got := ids(items)
	want := []string{"d3", "d2", "d1"}
	if len(got) != len(want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items = %v, want %v", got, want)
		}
	}

	snap, _ := c.Snapshot("c1", models.CollectionDiscussions)
	if snap.CourseName != "Biology 101" {
		t.Errorf("CourseName = %q, want Biology 101", snap.CourseName)
	}
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	c, _, mem, _ := setup(t)
	ctx := context.Background()

	mem.Put("courses/c1/announcements/a1", map[string]any{"title": "Welcome"})
	if err := c.RefreshFromRemote(ctx, "c1", models.CollectionAnnouncements); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	mem.Put("courses/c1/announcements/a2", map[string]any{"title": "Exam moved"})
	mem.SetFailFunc(func(op remote.Op, path string, _ map[string]any) error {
		if op == remote.OpList {
			return &remote.StatusError{StatusCode: 503, Code: "unavailable"}
		}
		return nil
	})

	if err := c.RefreshFromRemote(ctx, "c1", models.CollectionAnnouncements); err == nil {
		t.Fatal("expected refresh error")
	}

	items, err := c.Read("c1", models.CollectionAnnouncements)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(items); len(got) != 1 || got[0] != "a1" {
		t.Errorf("items after failed refresh = %v, want [a1]", got)
	}
}

// failingStore rejects every snapshot write.
type failingStore struct {
	Store
	fail bool
}

func (s *failingStore) PutSnapshot(c models.CachedCollection) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.PutSnapshot(c)
}

func TestWriteFailureKeepsPreviousSnapshot(t *testing.T) {
	_, database, mem, clock := setup(t)
	store := &failingStore{Store: database}
	memo := NewMemo(time.Minute, clock.now)
	c := New(store, mem, Options{Now: clock.now, Memo: memo})

	if err := c.Write("c1", models.CollectionAnnouncements, []models.Document{{ID: "a1"}}, "Bio"); err != nil {
		t.Fatal(err)
	}

	store.fail = true
	if err := c.Write("c1", models.CollectionAnnouncements, []models.Document{{ID: "a2"}}, "Bio"); err == nil {
		t.Fatal("expected write error")
	}

	items, err := c.Read("c1", models.CollectionAnnouncements)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(items); len(got) != 1 || got[0] != "a1" {
		t.Errorf("items = %v, want [a1]", got)
	}
}

func TestClear(t *testing.T) {
	c, _, _, _ := setup(t)

	c.Write("c1", models.CollectionAnnouncements, []models.Document{{ID: "a"}}, "Bio")
	c.Write("c1", models.CollectionDiscussions, []models.Document{{ID: "d"}}, "Bio")
	c.Write("c2", models.CollectionDiscussions, []models.Document{{ID: "x"}}, "Chem")

	n, err := c.Clear("c1")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("cleared %d, want 2", n)
	}
	items, _ := c.Read("c1", models.CollectionDiscussions)
	if len(items) != 0 {
		t.Errorf("c1 discussions = %v, want empty", ids(items))
	}
	items, _ = c.Read("c2", models.CollectionDiscussions)
	if len(items) != 1 {
		t.Errorf("c2 discussions = %v, want 1 item", ids(items))
	}
}

func TestObservePersistsLiveSnapshots(t *testing.T) {
	c, _, mem, clock := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := mem.Subscribe(ctx, "courses/c1/discussions")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	clock.advance(time.Second)
	done := make(chan error, 1)
	go func() { done <- c.Observe(ctx, "c1", models.CollectionDiscussions, "Biology 101", stream) }()

	mem.Put("courses/c1/discussions/d1", map[string]any{"title": "one"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		items, err := c.Read("c1", models.CollectionDiscussions)
		if err != nil {
			t.Fatal(err)
		}
		if len(items) == 1 && items[0].ID == "d1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("live snapshot never written, items = %v", ids(items))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Observe returned %v, want context.Canceled", err)
	}
}

package cache

import (
	"testing"
	"time"

	"github.com/marcus/coursesync/internal/models"
)

func TestMemoExpires(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewMemo(30*time.Second, clock.now)

	m.Put(models.CachedCollection{CourseID: "c1", Kind: models.CollectionDiscussions, Items: []models.Document{{ID: "d1"}}})

	if _, ok := m.Get("c1", models.CollectionDiscussions); !ok {
		t.Fatal("expected hit before ttl")
	}
	clock.advance(30 * time.Second)
	if _, ok := m.Get("c1", models.CollectionDiscussions); ok {
		t.Fatal("expected miss at ttl")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0 after expiry", m.Len())
	}
}

func TestMemoReturnsCopies(t *testing.T) {
	m := NewMemo(time.Minute, nil)
	m.Put(models.CachedCollection{CourseID: "c1", Kind: models.CollectionDiscussions, Items: []models.Document{{ID: "d1"}}})

	snap, _ := m.Get("c1", models.CollectionDiscussions)
	snap.Items[0].ID = "mutated"

	again, _ := m.Get("c1", models.CollectionDiscussions)
	if again.Items[0].ID != "d1" {
		t.Errorf("memo entry mutated through returned snapshot: %q", again.Items[0].ID)
	}
}

func TestMemoCopiesDocumentFields(t *testing.T) {
	m := NewMemo(time.Minute, nil)
	put := []models.Document{{ID: "d1", Fields: map[string]any{
		"title": "Quiz Q",
		"tags":  []any{"exam"},
		"meta":  map[string]any{"pinned": false},
	}}}
	m.Put(models.CachedCollection{CourseID: "c1", Kind: models.CollectionDiscussions, Items: put})

	// the caller's slice is not retained
	put[0].Fields["title"] = "changed after Put"

	snap, _ := m.Get("c1", models.CollectionDiscussions)
	snap.Items[0].Fields["title"] = "mutated"
	snap.Items[0].Fields["tags"].([]any)[0] = "mutated"
	snap.Items[0].Fields["meta"].(map[string]any)["pinned"] = true

	again, _ := m.Get("c1", models.CollectionDiscussions)
	f := again.Items[0].Fields
	if f["title"] != "Quiz Q" {
		t.Errorf("title = %v, want Quiz Q", f["title"])
	}
	if got := f["tags"].([]any)[0]; got != "exam" {
		t.Errorf("tags[0] = %v, want exam", got)
	}
	if got := f["meta"].(map[string]any)["pinned"]; got != false {
		t.Errorf("meta.pinned = %v, want false", got)
	}
}

func TestMemoForgetCourse(t *testing.T) {
	m := NewMemo(time.Minute, nil)
	m.Put(models.CachedCollection{CourseID: "c1", Kind: models.CollectionDiscussions})
	m.Put(models.CachedCollection{CourseID: "c1", Kind: models.CollectionAnnouncements})
	m.Put(models.CachedCollection{CourseID: "c2", Kind: models.CollectionDiscussions})

	m.ForgetCourse("c1")
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
	if _, ok := m.Get("c2", models.CollectionDiscussions); !ok {
		t.Error("c2 entry should survive")
	}
}

func TestNilMemo(t *testing.T) {
	var m *Memo
	m.Put(models.CachedCollection{CourseID: "c1"})
	if _, ok := m.Get("c1", models.CollectionDiscussions); ok {
		t.Error("nil memo should never hit")
	}
	m.Forget("c1", models.CollectionDiscussions)
	m.ForgetCourse("c1")
}

func TestCacheServesFromMemo(t *testing.T) {
	c, database, _, clock := setup(t)
	memo := NewMemo(time.Minute, clock.now)
	c.memo = memo

	if err := c.Write("c1", models.CollectionDiscussions, []models.Document{{ID: "d1"}}, "Bio"); err != nil {
		t.Fatal(err)
	}
	// The store changes underneath; the memo keeps serving until it expires.
	database.PutSnapshot(models.CachedCollection{CourseID: "c1", Kind: models.CollectionDiscussions, Items: []models.Document{{ID: "d2"}}, LastSyncedAt: clock.t})

	items, _ := c.Read("c1", models.CollectionDiscussions)
	if len(items) != 1 || items[0].ID != "d1" {
		t.Fatalf("items = %v, want memoized [d1]", ids(items))
	}

	clock.advance(time.Minute)
	items, _ = c.Read("c1", models.CollectionDiscussions)
	if len(items) != 1 || items[0].ID != "d2" {
		t.Fatalf("items = %v, want store [d2] after ttl", ids(items))
	}
}

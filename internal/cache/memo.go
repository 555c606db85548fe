package cache

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/marcus/coursesync/internal/models"
)

// DefaultMemoTTL is how long a memoized snapshot is served without going
// back to the store.
const DefaultMemoTTL = 5 * time.Minute

// Memo is an in-memory front for snapshot reads with a fixed time-to-live.
// It is owned by whoever composes the coordinator and passed in explicitly;
// there is no package-level instance. A nil *Memo is valid and caches nothing.
type Memo struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[memoKey]memoEntry
}

type memoKey struct {
	course string
	kind   models.CollectionKind
}

type memoEntry struct {
	snap    models.CachedCollection
	expires time.Time
}

// NewMemo creates a Memo. A zero ttl uses DefaultMemoTTL; a nil now uses
// time.Now.
func NewMemo(ttl time.Duration, now func() time.Time) *Memo {
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Memo{ttl: ttl, now: now, entries: make(map[memoKey]memoEntry)}
}

// Get returns a copy of the memoized snapshot if it has not expired.
func (m *Memo) Get(courseID string, kind models.CollectionKind) (*models.CachedCollection, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoKey{courseID, kind}
	e, ok := m.entries[k]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, k)
		return nil, false
	}
	snap := e.snap
	snap.Items = cloneDocs(e.snap.Items)
	return &snap, true
}

// Put memoizes snap, replacing any previous entry for its course and kind.
func (m *Memo) Put(snap models.CachedCollection) {
	if m == nil {
		return
	}
	snap.Items = cloneDocs(snap.Items)
	m.mu.Lock()
	m.entries[memoKey{snap.CourseID, snap.Kind}] = memoEntry{snap: snap, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

// Forget drops one entry.
func (m *Memo) Forget(courseID string, kind models.CollectionKind) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.entries, memoKey{courseID, kind})
	m.mu.Unlock()
}

// ForgetCourse drops every entry for a course.
func (m *Memo) ForgetCourse(courseID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	for k := range m.entries {
		if k.course == courseID {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

// Len returns the number of entries, expired or not.
func (m *Memo) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// cloneDocs copies docs down to their field values so neither the memo nor
// its callers can see the other's edits.
func cloneDocs(docs []models.Document) []models.Document {
	if docs == nil {
		return nil
	}
	out := make([]models.Document, len(docs))
	for i, d := range docs {
		d.Fields = cloneFields(d.Fields)
		out[i] = d
	}
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := maps.Clone(fields)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneFields(v)
	case []any:
		out := slices.Clone(v)
		for i := range out {
			out[i] = cloneValue(out[i])
		}
		return out
	}
	return v
}

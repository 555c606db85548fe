package remote

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/coursesync/internal/models"
)

// ErrUnavailable is returned by a Memory source that has been taken offline.
var ErrUnavailable = errors.New("remote unavailable")

// Op names a DataSource method for failure injection
type Op string

const (
	OpCreate    Op = "create"
	OpGet       Op = "get"
	OpIncrement Op = "increment"
	OpList      Op = "list"
	OpSubscribe Op = "subscribe"
)

// FailFunc decides whether a call should fail. Returning nil lets it through.
type FailFunc func(op Op, path string, fields map[string]any) error

// Memory is an in-process DataSource. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]*models.Document // keyed by full document path
	subs    map[string][]chan []models.Document
	fail    FailFunc
	offline bool
	calls   map[Op]int
	now     func() time.Time
}

var _ DataSource = (*Memory)(nil)

// NewMemory returns an empty in-process source.
func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string]*models.Document),
		subs:  make(map[string][]chan []models.Document),
		calls: make(map[Op]int),
		now:   time.Now,
	}
}

// SetClock replaces the clock used for createdAt stamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetFailFunc installs a failure hook consulted before every call.
func (m *Memory) SetFailFunc(fn FailFunc) {
	m.mu.Lock()
	m.fail = fn
	m.mu.Unlock()
}

// SetOffline makes every call fail with ErrUnavailable until cleared.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// Calls returns how many times op has been attempted.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put writes a document at an explicit path, replacing any previous fields.
// It is used to seed users and courses.
func (m *Memory) Put(path string, fields map[string]any) error {
	collection, id, err := SplitDocumentPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[strings.Trim(path, "/")] = &models.Document{
		ID:        id,
		Path:      strings.Trim(path, "/"),
		Fields:    maps.Clone(fields),
		CreatedAt: m.createdAt(fields),
	}
	m.broadcastLocked(collection)
	return nil
}

// Delete removes a document, if present.
func (m *Memory) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = strings.Trim(path, "/")
	if _, ok := m.docs[path]; !ok {
		return
	}
	delete(m.docs, path)
	if collection, _, err := SplitDocumentPath(path); err == nil {
		m.broadcastLocked(collection)
	}
}

func (m *Memory) CreateDocument(ctx context.Context, collectionPath string, fields map[string]any) (string, error) {
	if !IsCollectionPath(collectionPath) {
		return "", fmt.Errorf("%w: %q is not a collection", ErrBadPath, collectionPath)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx, OpCreate, collectionPath, fields); err != nil {
		return "", err
	}

	collectionPath = strings.Trim(collectionPath, "/")
	id := uuid.NewString()
	path := collectionPath + "/" + id
	m.docs[path] = &models.Document{
		ID:        id,
		Path:      path,
		Fields:    maps.Clone(fields),
		CreatedAt: m.createdAt(fields),
	}
	m.broadcastLocked(collectionPath)
	return id, nil
}

func (m *Memory) GetDocument(ctx context.Context, path string) (*models.Document, error) {
	if !IsDocumentPath(path) {
		return nil, fmt.Errorf("%w: %q is not a document", ErrBadPath, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx, OpGet, path, nil); err != nil {
		return nil, err
	}
	doc, ok := m.docs[strings.Trim(path, "/")]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	cp := cloneDoc(*doc)
	return &cp, nil
}

func (m *Memory) IncrementField(ctx context.Context, path, field string, delta int64) (int64, error) {
	if !IsDocumentPath(path) {
		return 0, fmt.Errorf("%w: %q is not a document", ErrBadPath, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx, OpIncrement, path, map[string]any{field: delta}); err != nil {
		return 0, err
	}
	doc, ok := m.docs[strings.Trim(path, "/")]
	if !ok {
		return 0, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]any)
	}
	next := doc.Int(field) + delta
	doc.Fields[field] = next
	if collection, _, err := SplitDocumentPath(path); err == nil {
		m.broadcastLocked(collection)
	}
	return next, nil
}

func (m *Memory) ListCollection(ctx context.Context, collectionPath, orderBy string) ([]models.Document, error) {
	if !IsCollectionPath(collectionPath) {
		return nil, fmt.Errorf("%w: %q is not a collection", ErrBadPath, collectionPath)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(ctx, OpList, collectionPath, nil); err != nil {
		return nil, err
	}
	docs := m.listLocked(strings.Trim(collectionPath, "/"))
	SortDocuments(docs, orderBy)
	return docs, nil
}

// Subscribe delivers the current snapshot immediately and a fresh snapshot
// after every write to the collection. A slow reader only ever sees the
// latest snapshot.
func (m *Memory) Subscribe(ctx context.Context, collectionPath string) (<-chan []models.Document, error) {
	if !IsCollectionPath(collectionPath) {
		return nil, fmt.Errorf("%w: %q is not a collection", ErrBadPath, collectionPath)
	}
	collectionPath = strings.Trim(collectionPath, "/")

	m.mu.Lock()
	if err := m.checkLocked(ctx, OpSubscribe, collectionPath, nil); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	ch := make(chan []models.Document, 1)
	m.subs[collectionPath] = append(m.subs[collectionPath], ch)
	docs := m.listLocked(collectionPath)
	SortDocuments(docs, "-createdAt")
	ch <- docs
	m.mu.Unlock()

	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[collectionPath]
		for i, s := range subs {
			if s == ch {
				m.subs[collectionPath] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	})
	return ch, nil
}

// Subscribers returns the number of open subscriptions on a collection.
func (m *Memory) Subscribers(collectionPath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[strings.Trim(collectionPath, "/")])
}

func (m *Memory) checkLocked(ctx context.Context, op Op, path string, fields map[string]any) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.offline {
		return ErrUnavailable
	}
	if m.fail != nil {
		return m.fail(op, path, fields)
	}
	return nil
}

func (m *Memory) listLocked(collectionPath string) []models.Document {
	prefix := collectionPath + "/"
	var docs []models.Document
	for path, doc := range m.docs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		docs = append(docs, cloneDoc(*doc))
	}
	return docs
}

func (m *Memory) broadcastLocked(collectionPath string) {
	subs := m.subs[collectionPath]
	if len(subs) == 0 {
		return
	}
	docs := m.listLocked(collectionPath)
	SortDocuments(docs, "-createdAt")
	for _, ch := range subs {
		// drop a stale undelivered snapshot in favor of this one
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- docs:
		default:
		}
	}
}

func (m *Memory) createdAt(fields map[string]any) time.Time {
	if s, ok := fields["createdAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return m.now().UTC()
}

func cloneDoc(d models.Document) models.Document {
	d.Fields = maps.Clone(d.Fields)
	return d
}

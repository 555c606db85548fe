// Package drafts is the durable write queue for content authored offline.
//
// Every entry moves through draft -> pending -> synced -> removed. A failed
// remote write leaves the entry failed with its retry count bumped; it stays
// eligible for automatic retry until the count reaches MaxRetry, or until the
// server rejects it outright, and after that waits for an explicit Retry or
// DeleteDraft. Nothing but a sync followed by
// the grace period, or an explicit delete, ever removes an entry.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus/coursesync/internal/forum"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/notify"
	"github.com/marcus/coursesync/internal/remote"
)

// Defaults for Options fields left zero.
const (
	DefaultMaxRetry    = 3
	DefaultGracePeriod = 3 * time.Second
	defaultPageSize    = 100
)

var (
	// ErrSyncInProgress is returned when a pass or entry is already being synced.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrNotEligible is returned when an entry's status does not permit the operation.
	ErrNotEligible = errors.New("draft not eligible")
	// ErrExhausted is returned by SyncOne for a failed entry out of retries.
	ErrExhausted = errors.New("draft retries exhausted")
)

// interruptedError is recorded on pending entries found at startup
const interruptedError = "sync interrupted; delivery status unknown"

// Store is the durable draft storage. db.DB and boltstore.Store implement it.
type Store interface {
	InsertDraft(e *models.DraftEntry) error
	GetDraft(id string) (*models.DraftEntry, error)
	ListDrafts(filter models.DraftFilter, afterID string, limit int) ([]models.DraftEntry, error)
	UpdateDraft(id string, fn func(e *models.DraftEntry) error) (*models.DraftEntry, error)
	DeleteDraft(id string) error
	CountDrafts() (map[models.Status]int, error)
}

// Lease is a hold on the queue shared by every process using the same store.
// TryAcquire must not block; ok is false while another holder has it.
type Lease interface {
	TryAcquire() (release func(), ok bool, err error)
}

// Poster performs the remote write for a payload.
type Poster interface {
	Post(ctx context.Context, payload models.Payload) (*forum.Result, error)
}

// Options tunes a Manager. Zero values pick the defaults.
type Options struct {
	MaxRetry    int
	GracePeriod time.Duration
	Notifier    notify.Notifier
	Now         func() time.Time

	// Schedule runs fn after d. It defaults to time.AfterFunc; tests replace
	// it to drive grace-period removal by hand.
	Schedule func(d time.Duration, fn func()) (stop func() bool)

	PageSize int

	// Lease, when set, is held for every pass, single send and recovery so
	// that two processes sharing a store never handle the same entry.
	Lease Lease
}

// Manager owns the write queue.
type Manager struct {
	store    Store
	poster   Poster
	notifier notify.Notifier
	maxRetry int
	grace    time.Duration
	now      func() time.Time
	schedule func(time.Duration, func()) func() bool
	pageSize int
	ids      *idSource
	lease    Lease

	syncing atomic.Bool // a SyncAll pass is running

	mu       sync.Mutex
	inflight map[string]struct{}
	sweep    func() bool // stops the pending sweep timer
	closed   bool
}

// NewManager creates a Manager over store, delivering through poster.
func NewManager(store Store, poster Poster, opts Options) *Manager {
	m := &Manager{
		store:    store,
		poster:   poster,
		notifier: opts.Notifier,
		maxRetry: opts.MaxRetry,
		grace:    opts.GracePeriod,
		now:      opts.Now,
		schedule: opts.Schedule,
		pageSize: opts.PageSize,
		ids:      newIDSource(),
		lease:    opts.Lease,
		inflight: make(map[string]struct{}),
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.maxRetry <= 0 {
		m.maxRetry = DefaultMaxRetry
	}
	if m.grace <= 0 {
		m.grace = DefaultGracePeriod
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.schedule == nil {
		m.schedule = func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		}
	}
	if m.pageSize <= 0 {
		m.pageSize = defaultPageSize
	}
	return m
}

// MaxRetry returns the automatic retry limit
func (m *Manager) MaxRetry() int { return m.maxRetry }

// GracePeriod returns how long synced entries linger before removal
func (m *Manager) GracePeriod() time.Duration { return m.grace }

// Close stops the pending grace-period timer. Synced entries it would have
// removed are swept on the next run.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.sweep != nil {
		m.sweep()
		m.sweep = nil
	}
}

// SaveDraft validates payload and persists it as a new draft entry. It never
// touches the network.
func (m *Manager) SaveDraft(payload models.Payload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("%w: missing payload", models.ErrInvalidDraft)
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}

	now := m.now().UTC()
	id, err := m.ids.next(now)
	if err != nil {
		return "", err
	}
	e := &models.DraftEntry{
		ID:        id,
		Kind:      payload.Kind(),
		Payload:   payload,
		Status:    models.StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.InsertDraft(e); err != nil {
		return "", fmt.Errorf("save draft: %w", err)
	}
	slog.Debug("drafts: saved", "id", id, "kind", e.Kind, "course", e.CourseID())
	return id, nil
}

// Get returns a single entry.
func (m *Manager) Get(id string) (*models.DraftEntry, error) {
	return m.store.GetDraft(id)
}

// ListDrafts returns a lazy sequence of entries matching filter in creation
// order. Each range over the sequence re-reads the store from the start; the
// store is paged so a long queue is never held in memory at once.
func (m *Manager) ListDrafts(filter models.DraftFilter) iter.Seq2[models.DraftEntry, error] {
	return func(yield func(models.DraftEntry, error) bool) {
		after := ""
		for {
			page, err := m.store.ListDrafts(filter, after, m.pageSize)
			if err != nil {
				yield(models.DraftEntry{}, fmt.Errorf("list drafts: %w", err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < m.pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

// Exhausted reports whether e is failed and will not be retried
// automatically: it ran out of retries or the server rejected it outright.
func (m *Manager) Exhausted(e models.DraftEntry) bool {
	return e.Status == models.StatusFailed && (e.Rejected || e.RetryCount >= m.maxRetry)
}

// Eligible reports whether a SyncAll pass would attempt e
func (m *Manager) Eligible(e models.DraftEntry) bool {
	switch e.Status {
	case models.StatusDraft:
		return true
	case models.StatusFailed:
		return !m.Exhausted(e)
	}
	return false
}

// Counts is the number of entries per state, for badges.
type Counts struct {
	Draft     int `json:"draft"`
	Pending   int `json:"pending"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"` // subset of Failed
}

// Total returns the number of entries in the queue
func (c Counts) Total() int { return c.Draft + c.Pending + c.Synced + c.Failed }

// Counts tallies the queue.
func (m *Manager) Counts() (Counts, error) {
	byStatus, err := m.store.CountDrafts()
	if err != nil {
		return Counts{}, fmt.Errorf("count drafts: %w", err)
	}
	c := Counts{
		Draft:   byStatus[models.StatusDraft],
		Pending: byStatus[models.StatusPending],
		Synced:  byStatus[models.StatusSynced],
		Failed:  byStatus[models.StatusFailed],
	}
	if c.Failed > 0 {
		for e, err := range m.ListDrafts(models.DraftFilter{Status: models.StatusFailed}) {
			if err != nil {
				return Counts{}, err
			}
			if m.Exhausted(e) {
				c.Exhausted++
			}
		}
	}
	return c, nil
}

// DeleteDraft discards an entry in any state.
func (m *Manager) DeleteDraft(id string) error {
	if err := m.store.DeleteDraft(id); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	slog.Debug("drafts: deleted", "id", id)
	return nil
}

// Retry resets a failed entry to draft with a fresh retry budget. This is the
// explicit user action for entries that will no longer retry on their own.
func (m *Manager) Retry(id string) (*models.DraftEntry, error) {
	e, err := m.store.UpdateDraft(id, func(e *models.DraftEntry) error {
		if e.Status != models.StatusFailed {
			return fmt.Errorf("%w: draft %s is %s", ErrNotEligible, e.ID, e.Status)
		}
		e.Status = models.StatusDraft
		e.RetryCount = 0
		e.Rejected = false
		e.LastError = ""
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retry draft: %w", err)
	}
	return e, nil
}

// hold takes the lease, if any. It returns ErrSyncInProgress while another
// holder has it.
func (m *Manager) hold() (func(), error) {
	if m.lease == nil {
		return func() {}, nil
	}
	release, ok, err := m.lease.TryAcquire()
	if err != nil {
		return nil, fmt.Errorf("sync lease: %w", err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	return release, nil
}

// Recover reclassifies every pending entry as failed. It runs at startup:
// a pending entry means a previous process died mid-attempt and the remote
// outcome is unknown, so the entry is retried rather than trusted. The retry
// count is not incremented.
//
// Recover holds the lease while it works. If another process has it, its
// pending entries are live, and Recover returns ErrSyncInProgress untouched.
func (m *Manager) Recover() (int, error) {
	release, err := m.hold()
	if err != nil {
		return 0, err
	}
	defer release()

	var ids []string
	for e, err := range m.ListDrafts(models.DraftFilter{Status: models.StatusPending}) {
		if err != nil {
			return 0, err
		}
		ids = append(ids, e.ID)
	}

	n := 0
	for _, id := range ids {
		if !m.claim(id) {
			continue
		}
		_, err := m.store.UpdateDraft(id, func(e *models.DraftEntry) error {
			if e.Status != models.StatusPending {
				return errSkip
			}
			e.Status = models.StatusFailed
			e.LastError = interruptedError
			return nil
		})
		m.release(id)
		switch {
		case err == nil:
			n++
		case errors.Is(err, errSkip), errors.Is(err, models.ErrNotFound):
		default:
			return n, fmt.Errorf("recover draft %s: %w", id, err)
		}
	}
	if n > 0 {
		slog.Info("drafts: recovered interrupted entries", "count", n)
	}
	return n, nil
}

var errSkip = errors.New("skip")

// Sweep removes synced entries whose grace period has elapsed and returns how
// many were removed.
func (m *Manager) Sweep() (int, error) {
	cutoff := m.now().Add(-m.grace)
	var due []string
	for e, err := range m.ListDrafts(models.DraftFilter{Status: models.StatusSynced}) {
		if err != nil {
			return 0, err
		}
		if e.SyncedAt == nil || !e.SyncedAt.After(cutoff) {
			due = append(due, e.ID)
		}
	}

	n := 0
	for _, id := range due {
		err := m.store.DeleteDraft(id)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return n, fmt.Errorf("sweep draft %s: %w", id, err)
		}
		if err == nil {
			n++
		}
	}
	if n > 0 {
		slog.Debug("drafts: swept synced entries", "count", n)
	}
	return n, nil
}

// scheduleSweep arms the grace timer unless one is already pending.
func (m *Manager) scheduleSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.sweep != nil {
		return
	}
	m.sweep = m.schedule(m.grace, func() {
		m.mu.Lock()
		m.sweep = nil
		m.mu.Unlock()
		if _, err := m.Sweep(); err != nil {
			slog.Warn("drafts: sweep", "err", err)
		}
		// entries synced while this timer was pending may not be due yet
		if m.hasSynced() {
			m.scheduleSweep()
		}
	})
}

func (m *Manager) hasSynced() bool {
	counts, err := m.store.CountDrafts()
	return err == nil && counts[models.StatusSynced] > 0
}

func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// SyncOne delivers a single draft or failed entry. The entry is marked
// pending before the remote write, then synced or failed after it. The
// remote write is not cancelled when ctx is; only ctx's values are used.
func (m *Manager) SyncOne(ctx context.Context, id string) error {
	if !m.claim(id) {
		return fmt.Errorf("draft %s: %w", id, ErrSyncInProgress)
	}
	defer m.release(id)
	release, err := m.hold()
	if err != nil {
		return fmt.Errorf("draft %s: %w", id, err)
	}
	defer release()
	return m.syncOne(context.WithoutCancel(ctx), id)
}

func (m *Manager) syncOne(ctx context.Context, id string) error {
	e, err := m.store.UpdateDraft(id, func(e *models.DraftEntry) error {
		switch {
		case m.Exhausted(*e):
			return fmt.Errorf("draft %s: %w", e.ID, ErrExhausted)
		case e.Status != models.StatusDraft && e.Status != models.StatusFailed:
			return fmt.Errorf("%w: draft %s is %s", ErrNotEligible, e.ID, e.Status)
		}
		e.Status = models.StatusPending
		return nil
	})
	if err != nil {
		return err
	}

	res, postErr := m.poster.Post(ctx, e.Payload)
	if postErr != nil {
		permanent := remote.IsPermanent(postErr)
		_, err := m.store.UpdateDraft(id, func(e *models.DraftEntry) error {
			e.Status = models.StatusFailed
			e.RetryCount++
			e.Rejected = permanent
			e.LastError = postErr.Error()
			return nil
		})
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			// left pending; Recover picks it up on the next start
			return errors.Join(postErr, fmt.Errorf("record failure: %w", err))
		}
		slog.Debug("drafts: sync failed", "id", id, "permanent", permanent, "err", postErr)
		return fmt.Errorf("sync draft %s: %w", id, postErr)
	}

	_, err = m.store.UpdateDraft(id, func(e *models.DraftEntry) error {
		now := m.now().UTC()
		e.Status = models.StatusSynced
		e.SyncedAt = &now
		e.Rejected = false
		e.LastError = ""
		return nil
	})
	switch {
	case errors.Is(err, models.ErrNotFound):
		// deleted while in flight; the remote write stands
	case err != nil:
		return fmt.Errorf("record sync of draft %s: %w", id, err)
	}
	slog.Debug("drafts: synced", "id", id, "remote", res.Path)

	m.notifyAfterSync(ctx, e, res)
	m.scheduleSweep()
	return nil
}

// notifyAfterSync sends reply and milestone events for a synced comment.
// Failures are logged and never fail the sync.
func (m *Manager) notifyAfterSync(ctx context.Context, e *models.DraftEntry, res *forum.Result) {
	c, ok := e.Payload.(models.Comment)
	if !ok || res == nil || res.DiscussionAuthorID == "" {
		return
	}
	events := notify.ForComment(c.CourseID, c.DiscussionID, res.ID, res.DiscussionTitle, res.DiscussionAuthorID, res.ReplyCount)
	if err := m.notifier.Notify(ctx, events...); err != nil {
		slog.Warn("drafts: notification failed", "id", e.ID, "err", err)
	}
}

// EntryError is one failed entry in a Report
type EntryError struct {
	ID  string
	Err error
}

func (e EntryError) Error() string { return e.ID + ": " + e.Err.Error() }

func (e EntryError) Unwrap() error { return e.Err }

// Report summarizes a sync pass.
type Report struct {
	Synced    int
	Failed    int
	Skipped   int // eligible entries not attempted because the pass was abandoned
	Errors    []EntryError
	StartedAt time.Time
	Duration  time.Duration
}

// Err joins the per-entry errors, or returns nil.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// SyncAll attempts every eligible entry once, in creation order. Entries saved
// after the pass starts wait for the next pass. One entry's failure never
// stops the others. Cancelling ctx abandons the pass between entries; the entry
// in flight runs to completion.
//
// Only one pass runs at a time, across every process holding the same lease;
// an overlapping call returns ErrSyncInProgress. Otherwise the returned error
// is non-nil only when the store could not be read.
func (m *Manager) SyncAll(ctx context.Context) (rep Report, err error) {
	if !m.syncing.CompareAndSwap(false, true) {
		return Report{}, ErrSyncInProgress
	}
	defer m.syncing.Store(false)

	release, err := m.hold()
	if err != nil {
		return Report{}, err
	}
	defer release()

	rep.StartedAt = m.now()
	defer func() { rep.Duration = m.now().Sub(rep.StartedAt) }()

	var ids []string
	for e, err := range m.ListDrafts(models.DraftFilter{}) {
		if err != nil {
			return rep, err
		}
		if m.Eligible(e) {
			ids = append(ids, e.ID)
		}
	}

	writeCtx := context.WithoutCancel(ctx)
	for i, id := range ids {
		if ctx.Err() != nil {
			rep.Skipped = len(ids) - i
			slog.Info("drafts: sync pass abandoned", "remaining", rep.Skipped)
			break
		}
		if !m.claim(id) {
			rep.Skipped++
			continue
		}
		err := m.syncOne(writeCtx, id)
		m.release(id)

		switch {
		case err == nil:
			rep.Synced++
		case errors.Is(err, models.ErrNotFound), errors.Is(err, ErrNotEligible), errors.Is(err, ErrExhausted):
			// deleted or changed since the pass began
			rep.Skipped++
		default:
			rep.Failed++
			rep.Errors = append(rep.Errors, EntryError{ID: id, Err: err})
		}
	}

	slog.Debug("drafts: sync pass", "synced", rep.Synced, "failed", rep.Failed, "skipped", rep.Skipped)
	return rep, nil
}

// Syncing reports whether a SyncAll pass is running
func (m *Manager) Syncing() bool { return m.syncing.Load() }

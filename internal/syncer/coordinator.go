// Package syncer orchestrates the write queue and the content cache around
// connectivity changes. It holds no data of its own beyond the set of
// collections currently on screen.
package syncer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/marcus/coursesync/internal/connectivity"
	"github.com/marcus/coursesync/internal/drafts"
	"github.com/marcus/coursesync/internal/models"
)

// Triggers recorded in sync history.
const (
	TriggerReconnect = "reconnect"
	TriggerManual    = "manual"
	TriggerSave      = "save"
	TriggerRefresh   = "refresh"
)

// Queue is the write queue as seen by the coordinator.
type Queue interface {
	SyncAll(ctx context.Context) (drafts.Report, error)
	Recover() (int, error)
}

// Refresher re-pulls one cached collection.
type Refresher interface {
	RefreshFromRemote(ctx context.Context, courseID string, kind models.CollectionKind) error
}

// History records finished passes. It may be nil.
type History interface {
	RecordSyncRun(run models.SyncRun) error
}

// Target is one (course, collection) pair shown in the UI.
type Target struct {
	CourseID string
	Kind     models.CollectionKind
}

func (t Target) String() string { return t.CourseID + "/" + string(t.Kind) }

// RefreshError is one failed cache refresh.
type RefreshError struct {
	Target Target
	Err    error
}

func (e RefreshError) Error() string { return e.Target.String() + ": " + e.Err.Error() }

func (e RefreshError) Unwrap() error { return e.Err }

// Result aggregates one coordinator pass.
type Result struct {
	Trigger string
	Drafts  drafts.Report
	// QueueBusy is set when another pass already held the queue, so this
	// pass did not flush it.
	QueueBusy     bool
	Refreshed     int
	RefreshErrors []RefreshError
	StartedAt     time.Time
	Duration      time.Duration
}

// Failed returns the number of per-item failures in the pass.
func (r Result) Failed() int { return r.Drafts.Failed + len(r.RefreshErrors) }

// Coordinator runs sync passes.
type Coordinator struct {
	queue   Queue
	cache   Refresher
	history History
	now     func() time.Time

	mu      sync.Mutex
	watched map[Target]struct{}
}

// New creates a Coordinator. history may be nil.
func New(queue Queue, cache Refresher, history History) *Coordinator {
	return &Coordinator{
		queue:   queue,
		cache:   cache,
		history: history,
		now:     time.Now,
		watched: make(map[Target]struct{}),
	}
}

// SetClock overrides the time source (tests).
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// Watch marks a collection as visible so reconnects refresh it.
func (c *Coordinator) Watch(courseID string, kind models.CollectionKind) error {
	if !models.IsValidCollection(kind) {
		return fmt.Errorf("unknown collection %q", kind)
	}
	c.mu.Lock()
	c.watched[Target{courseID, kind}] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Unwatch removes a collection from the visible set.
func (c *Coordinator) Unwatch(courseID string, kind models.CollectionKind) {
	c.mu.Lock()
	delete(c.watched, Target{courseID, kind})
	c.mu.Unlock()
}

// Watched returns the visible set in a stable order.
func (c *Coordinator) Watched() []Target {
	c.mu.Lock()
	out := make([]Target, 0, len(c.watched))
	for t := range c.watched {
		out = append(out, t)
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b Target) int {
		return cmp.Or(cmp.Compare(a.CourseID, b.CourseID), cmp.Compare(a.Kind, b.Kind))
	})
	return out
}

// Start reconciles entries a previous process left pending. Call it once
// before the first pass. When another process is syncing the same queue its
// pending entries are in flight, so they are left alone.
func (c *Coordinator) Start() error {
	_, err := c.queue.Recover()
	switch {
	case errors.Is(err, drafts.ErrSyncInProgress):
		slog.Info("syncer: queue busy elsewhere, skipping recovery")
	case err != nil:
		return fmt.Errorf("recover drafts: %w", err)
	}
	return nil
}

// OnReconnect flushes the write queue and then refreshes every watched
// collection. The flush always finishes first so freshly synced drafts have a
// chance to show up in the refreshed snapshots.
//
// Per-draft and per-collection failures are reported in the Result; the
// error is non-nil only when the queue itself could not be read.
func (c *Coordinator) OnReconnect(ctx context.Context) (Result, error) {
	res := Result{Trigger: TriggerReconnect, StartedAt: c.now()}
	if err := c.flush(ctx, &res); err != nil {
		return c.finish(res), err
	}
	c.refresh(ctx, &res)
	return c.finish(res), nil
}

// SyncDrafts is the manual "sync drafts" action: queue flush only.
func (c *Coordinator) SyncDrafts(ctx context.Context) (Result, error) {
	return c.syncDrafts(ctx, TriggerManual)
}

// AfterSave attempts immediate delivery of newly saved drafts when online.
// While offline it does nothing and the draft waits for the next reconnect.
func (c *Coordinator) AfterSave(ctx context.Context, online bool) (Result, error) {
	if !online {
		return Result{Trigger: TriggerSave}, nil
	}
	return c.syncDrafts(ctx, TriggerSave)
}

// RefreshAll refreshes every watched collection without touching the queue.
func (c *Coordinator) RefreshAll(ctx context.Context) Result {
	res := Result{Trigger: TriggerRefresh, StartedAt: c.now()}
	c.refresh(ctx, &res)
	return c.finish(res)
}

func (c *Coordinator) syncDrafts(ctx context.Context, trigger string) (Result, error) {
	res := Result{Trigger: trigger, StartedAt: c.now()}
	err := c.flush(ctx, &res)
	return c.finish(res), err
}

func (c *Coordinator) flush(ctx context.Context, res *Result) error {
	rep, err := c.queue.SyncAll(ctx)
	switch {
	case errors.Is(err, drafts.ErrSyncInProgress):
		res.QueueBusy = true
		slog.Debug("syncer: queue already syncing", "trigger", res.Trigger)
		return nil
	case err != nil:
		return fmt.Errorf("sync drafts: %w", err)
	}
	res.Drafts = rep
	return nil
}

func (c *Coordinator) refresh(ctx context.Context, res *Result) {
	for _, t := range c.Watched() {
		if ctx.Err() != nil {
			res.RefreshErrors = append(res.RefreshErrors, RefreshError{Target: t, Err: ctx.Err()})
			continue
		}
		if err := c.cache.RefreshFromRemote(ctx, t.CourseID, t.Kind); err != nil {
			slog.Warn("syncer: refresh failed", "target", t.String(), "err", err)
			res.RefreshErrors = append(res.RefreshErrors, RefreshError{Target: t, Err: err})
			continue
		}
		res.Refreshed++
	}
}

func (c *Coordinator) finish(res Result) Result {
	res.Duration = c.now().Sub(res.StartedAt)
	slog.Info("syncer: pass",
		"trigger", res.Trigger,
		"synced", res.Drafts.Synced,
		"failed", res.Drafts.Failed,
		"refreshed", res.Refreshed,
		"refresh_errors", len(res.RefreshErrors),
	)
	if c.history != nil && !res.StartedAt.IsZero() {
		err := c.history.RecordSyncRun(models.SyncRun{
			Trigger:   res.Trigger,
			Synced:    res.Drafts.Synced,
			Failed:    res.Drafts.Failed,
			Refreshed: res.Refreshed,
			Errors:    res.Failed(),
			StartedAt: res.StartedAt,
			Duration:  res.Duration,
		})
		if err != nil {
			slog.Warn("syncer: record history", "err", err)
		}
	}
	return res
}

// Run subscribes to monitor and runs OnReconnect on every reconnect edge
// until ctx is done. onPass, if set, receives each pass's outcome.
func (c *Coordinator) Run(ctx context.Context, monitor *connectivity.Monitor, onPass func(Result, error)) {
	c.run(ctx, monitor, monitor.Subscribe(ctx), onPass)
}

// run consumes transitions subscribed from monitor. The monitor's reconnect
// flag is the single token per edge: a transition only starts a pass if it
// can still take the flag.
func (c *Coordinator) run(ctx context.Context, monitor *connectivity.Monitor, transitions <-chan connectivity.Transition, onPass func(Result, error)) {
	// a reconnect that happened before we subscribed still needs a pass
	if monitor.Online() && monitor.Reconnected() {
		c.runPass(ctx, onPass)
	}

	for t := range transitions {
		// the flag is already gone when the pass above covered this edge
		if !t.Reconnected || !monitor.Reconnected() {
			continue
		}
		c.runPass(ctx, onPass)
	}
}

func (c *Coordinator) runPass(ctx context.Context, onPass func(Result, error)) {
	res, err := c.OnReconnect(ctx)
	if err != nil {
		slog.Error("syncer: reconnect pass", "err", err)
	}
	if onPass != nil {
		onPass(res, err)
	}
}

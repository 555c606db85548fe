package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marcus/coursesync/internal/cache"
	"github.com/marcus/coursesync/internal/connectivity"
	"github.com/marcus/coursesync/internal/db"
	"github.com/marcus/coursesync/internal/drafts"
	"github.com/marcus/coursesync/internal/forum"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/remote"
)

type env struct {
	coord *Coordinator
	queue *drafts.Manager
	cache *cache.Cache
	db    *db.DB
	mem   *remote.Memory
}

func setup(t *testing.T) *env {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	mem := remote.NewMemory()
	mem.Put("courses/c1", map[string]any{"name": "Biology 101"})
	mem.Put("users/u1", map[string]any{"displayName": "Ada"})
	mem.Put("courses/c1/discussions/d1", map[string]any{"title": "Quiz Q", "authorId": "u1", forum.ReplyCountField: int64(0)})

	queue := drafts.NewManager(database, forum.New(mem), drafts.Options{
		Schedule: func(time.Duration, func()) func() bool { return func() bool { return true } },
	})
	t.Cleanup(queue.Close)
	c := cache.New(database, mem, cache.Options{})

	return &env{
		coord: New(queue, c, database),
		queue: queue,
		cache: c,
		db:    database,
		mem:   mem,
	}
}

func TestWatchRejectsUnknownKind(t *testing.T) {
	e := setup(t)
	if err := e.coord.Watch("c1", "grades"); err == nil {
		t.Fatal("expected error for unknown collection")
	}
	if n := len(e.coord.Watched()); n != 0 {
		t.Errorf("watched = %d, want 0", n)
	}
}

func TestWatchedIsSorted(t *testing.T) {
	e := setup(t)
	e.coord.Watch("c2", models.CollectionAnnouncements)
	e.coord.Watch("c1", models.CollectionDiscussions)
	e.coord.Watch("c1", models.CollectionAnnouncements)
	e.coord.Watch("c1", models.CollectionAnnouncements)

	got := e.coord.Watched()
	want := []Target{
		{"c1", models.CollectionAnnouncements},
		{"c1", models.CollectionDiscussions},
		{"c2", models.CollectionAnnouncements},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("watched[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	e.coord.Unwatch("c2", models.CollectionAnnouncements)
	if n := len(e.coord.Watched()); n != 2 {
		t.Errorf("after unwatch = %d, want 2", n)
	}
}

func TestOnReconnectFlushesBeforeRefresh(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.coord.Watch("c1", models.CollectionDiscussions)

	e.mem.SetOffline(true)
	if _, err := e.queue.SaveDraft(models.Discussion{
		CourseID: "c1", Title: "Quiz Q", Body: "when is it due?",
		AuthorID: "u1", AuthorRole: models.RoleStudent,
	}); err != nil {
		t.Fatal(err)
	}

	e.mem.SetOffline(false)
	res, err := e.coord.OnReconnect(ctx)
	if err != nil {
		t.Fatalf("OnReconnect: %v", err)
	}
	if res.Drafts.Synced != 1 || res.Drafts.Failed != 0 {
		t.Errorf("drafts = %d/%d, want 1/0", res.Drafts.Synced, res.Drafts.Failed)
	}
	if res.Refreshed != 1 || len(res.RefreshErrors) != 0 {
		t.Errorf("refreshed = %d errors = %v, want 1/none", res.Refreshed, res.RefreshErrors)
	}

	// the refreshed snapshot already contains the just-synced discussion
	items, err := e.cache.Read("c1", models.CollectionDiscussions)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("cached %d discussions, want 2", len(items))
	}
	found := false
	for _, d := range items {
		if d.String("body") == "when is it due?" {
			found = true
		}
	}
	if !found {
		t.Error("refresh ran before the flush")
	}
}

func TestOnReconnectPartialFailure(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.coord.Watch("c1", models.CollectionDiscussions)
	e.coord.Watch("c1", models.CollectionAnnouncements)

	for _, body := range []string{"first", "second", "third"} {
		if _, err := e.queue.SaveDraft(models.Comment{
			CourseID: "c1", DiscussionID: "d1", Body: body,
			AuthorID: "u1", AuthorRole: models.RoleStudent,
		}); err != nil {
			t.Fatal(err)
		}
	}
	e.mem.SetFailFunc(func(op remote.Op, path string, fields map[string]any) error {
		if op == remote.OpCreate && fields["body"] == "second" {
			return &remote.StatusError{StatusCode: 500, Code: "internal", Message: "boom"}
		}
		if op == remote.OpList && path == "courses/c1/announcements" {
			return errors.New("timeout")
		}
		return nil
	})

	res, err := e.coord.OnReconnect(ctx)
	if err != nil {
		t.Fatalf("OnReconnect: %v", err)
	}
	if res.Drafts.Synced != 2 || res.Drafts.Failed != 1 {
		t.Errorf("drafts = %d/%d, want 2/1", res.Drafts.Synced, res.Drafts.Failed)
	}
	if res.Refreshed != 1 || len(res.RefreshErrors) != 1 {
		t.Fatalf("refreshed = %d errors = %d, want 1/1", res.Refreshed, len(res.RefreshErrors))
	}
	if got := res.RefreshErrors[0].Target; got.Kind != models.CollectionAnnouncements {
		t.Errorf("refresh error target = %v", got)
	}
	if res.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", res.Failed())
	}

	var failed []models.DraftEntry
	for d, err := range e.queue.ListDrafts(models.DraftFilter{Status: models.StatusFailed}) {
		if err != nil {
			t.Fatal(err)
		}
		failed = append(failed, d)
	}
	if len(failed) != 1 || failed[0].RetryCount != 1 {
		t.Errorf("failed entries = %+v, want one with retryCount 1", failed)
	}
}

func TestPassesAreRecorded(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.coord.Watch("c1", models.CollectionDiscussions)

	if _, err := e.coord.SyncDrafts(ctx); err != nil {
		t.Fatal(err)
	}
	e.coord.RefreshAll(ctx)
	if _, err := e.coord.OnReconnect(ctx); err != nil {
		t.Fatal(err)
	}

	runs, err := e.db.RecentSyncRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("recorded %d runs, want 3", len(runs))
	}
	seen := map[string]bool{}
	for _, r := range runs {
		seen[r.Trigger] = true
	}
	for _, trig := range []string{TriggerManual, TriggerRefresh, TriggerReconnect} {
		if !seen[trig] {
			t.Errorf("no run recorded for trigger %q", trig)
		}
	}
}

func TestAfterSaveOffline(t *testing.T) {
	e := setup(t)
	e.queue.SaveDraft(models.Discussion{
		CourseID: "c1", Title: "later", Body: "b",
		AuthorID: "u1", AuthorRole: models.RoleStudent,
	})

	res, err := e.coord.AfterSave(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Drafts.Synced != 0 {
		t.Errorf("synced = %d while offline, want 0", res.Drafts.Synced)
	}
	if n := e.mem.Calls(remote.OpCreate); n != 0 {
		t.Errorf("remote creates = %d, want 0", n)
	}

	res, err = e.coord.AfterSave(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Drafts.Synced != 1 {
		t.Errorf("synced = %d online, want 1", res.Drafts.Synced)
	}
}

// busyQueue always reports a pass in progress.
type busyQueue struct{}

func (busyQueue) SyncAll(context.Context) (drafts.Report, error) {
	return drafts.Report{}, drafts.ErrSyncInProgress
}

func (busyQueue) Recover() (int, error) { return 0, drafts.ErrSyncInProgress }

func TestBusyQueueStillRefreshes(t *testing.T) {
	e := setup(t)
	c := New(busyQueue{}, e.cache, nil)
	c.Watch("c1", models.CollectionDiscussions)

	// another process owns the queue; its pending entries are not ours to recover
	if err := c.Start(); err != nil {
		t.Errorf("Start with busy queue = %v, want nil", err)
	}

	res, err := c.OnReconnect(context.Background())
	if err != nil {
		t.Fatalf("OnReconnect: %v", err)
	}
	if !res.QueueBusy {
		t.Error("QueueBusy = false, want true")
	}
	if res.Refreshed != 1 {
		t.Errorf("refreshed = %d, want 1", res.Refreshed)
	}
}

// brokenQueue cannot read its store.
type brokenQueue struct{}

func (brokenQueue) SyncAll(context.Context) (drafts.Report, error) {
	return drafts.Report{}, errors.New("disk I/O error")
}

func (brokenQueue) Recover() (int, error) { return 0, errors.New("disk I/O error") }

func TestQueueErrorIsReturned(t *testing.T) {
	e := setup(t)
	c := New(brokenQueue{}, e.cache, nil)
	c.Watch("c1", models.CollectionDiscussions)

	res, err := c.OnReconnect(context.Background())
	if err == nil {
		t.Fatal("expected error from unreadable queue")
	}
	if res.Refreshed != 0 {
		t.Errorf("refreshed = %d after queue error, want 0", res.Refreshed)
	}
	if err := c.Start(); err == nil {
		t.Error("Start should surface recover errors")
	}
}

func TestStartRecoversPending(t *testing.T) {
	e := setup(t)
	id, _ := e.queue.SaveDraft(models.Discussion{
		CourseID: "c1", Title: "t", Body: "b",
		AuthorID: "u1", AuthorRole: models.RoleStudent,
	})
	e.db.UpdateDraft(id, func(d *models.DraftEntry) error {
		d.Status = models.StatusPending
		return nil
	})

	if err := e.coord.Start(); err != nil {
		t.Fatal(err)
	}
	d, _ := e.queue.Get(id)
	if d.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", d.Status)
	}
}

func TestRunReactsToReconnect(t *testing.T) {
	e := setup(t)
	e.coord.Watch("c1", models.CollectionDiscussions)
	e.queue.SaveDraft(models.Discussion{
		CourseID: "c1", Title: "t", Body: "b",
		AuthorID: "u1", AuthorRole: models.RoleStudent,
	})

	monitor := connectivity.New(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var passes []Result
	got := make(chan struct{}, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.coord.Run(ctx, monitor, func(r Result, err error) {
			if err != nil {
				t.Errorf("pass error: %v", err)
			}
			mu.Lock()
			passes = append(passes, r)
			mu.Unlock()
			got <- struct{}{}
		})
	}()

	// wait until Run has subscribed
	deadline := time.Now().Add(time.Second)
	for monitor.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Run never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	monitor.Set(true)
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no pass after reconnect")
	}

	// dropping the connection alone does not trigger a pass
	monitor.Set(false)
	select {
	case <-got:
		t.Fatal("pass ran on disconnect")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(passes) != 1 {
		t.Fatalf("passes = %d, want 1", len(passes))
	}
	if passes[0].Drafts.Synced != 1 || passes[0].Refreshed != 1 {
		t.Errorf("pass = %+v", passes[0])
	}
}

func TestRunOnePassPerReconnectEdge(t *testing.T) {
	e := setup(t)
	monitor := connectivity.New(false)
	ctx, cancel := context.WithCancel(context.Background())

	// the edge lands after subscribing but before the startup check, so it is
	// both buffered on the channel and visible through Reconnected
	transitions := monitor.Subscribe(ctx)
	monitor.Set(true)

	var mu sync.Mutex
	passes := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.coord.run(ctx, monitor, transitions, func(Result, error) {
			mu.Lock()
			passes++
			mu.Unlock()
		})
	}()

	// closing the channel still delivers the buffered transition first
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if passes != 1 {
		t.Errorf("passes = %d, want 1 for a single reconnect", passes)
	}
}

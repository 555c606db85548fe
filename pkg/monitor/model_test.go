package monitor

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/coursesync/internal/drafts"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/syncer"
)

type fakeQueue struct {
	entries []models.DraftEntry
	err     error
}

func (q *fakeQueue) Counts() (drafts.Counts, error) {
	var c drafts.Counts
	for _, e := range q.entries {
		switch e.Status {
		case models.StatusDraft:
			c.Draft++
		case models.StatusFailed:
			c.Failed++
			if q.Exhausted(e) {
				c.Exhausted++
			}
		}
	}
	return c, q.err
}

func (q *fakeQueue) ListDrafts(models.DraftFilter) iter.Seq2[models.DraftEntry, error] {
	return func(yield func(models.DraftEntry, error) bool) {
		for _, e := range q.entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (q *fakeQueue) Exhausted(e models.DraftEntry) bool {
	return e.Status == models.StatusFailed && e.RetryCount >= 3
}

func (q *fakeQueue) Syncing() bool { return false }

type fakeCache []models.CachedCollection

func (c fakeCache) List() ([]models.CachedCollection, error) { return c, nil }

type fakeHistory struct{ err error }

func (h fakeHistory) RecentSyncRuns(limit int) ([]models.SyncRun, error) {
	if h.err != nil {
		return nil, h.err
	}
	return []models.SyncRun{{Trigger: "reconnect", Synced: 2, StartedAt: time.Now()}}, nil
}

func testOptions() Options {
	return Options{
		Queue: &fakeQueue{entries: []models.DraftEntry{
			{ID: "a", Kind: models.KindDiscussion, Status: models.StatusDraft,
				Payload: models.Discussion{CourseID: "c1", Title: "Quiz Q"}},
			{ID: "b", Kind: models.KindComment, Status: models.StatusFailed, RetryCount: 3, LastError: "HTTP 503",
				Payload: models.Comment{CourseID: "c1", DiscussionID: "d1", Body: "second"}},
		}},
		Cache:   fakeCache{{CourseID: "c1", CourseName: "Biology 101", Kind: models.CollectionDiscussions}},
		History: fakeHistory{},
		Online:  func() bool { return true },
	}
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return mm, cmd
}

func TestFetchData(t *testing.T) {
	msg := FetchData(testOptions())
	if msg.Err != nil {
		t.Fatalf("Err = %v", msg.Err)
	}
	if len(msg.Drafts) != 2 || !msg.Drafts[1].Exhausted {
		t.Errorf("drafts = %+v", msg.Drafts)
	}
	if msg.Counts.Exhausted != 1 || !msg.Online {
		t.Errorf("counts = %+v online = %v", msg.Counts, msg.Online)
	}
	if len(msg.Collections) != 1 || len(msg.Runs) != 1 {
		t.Errorf("collections = %d runs = %d", len(msg.Collections), len(msg.Runs))
	}
}

func TestFetchDataKeepsPartialResults(t *testing.T) {
	opts := testOptions()
	opts.History = fakeHistory{err: errors.New("disk I/O error")}
	msg := FetchData(opts)
	if msg.Err == nil || !strings.Contains(msg.Err.Error(), "disk I/O") {
		t.Errorf("Err = %v", msg.Err)
	}
	if len(msg.Drafts) != 2 {
		t.Errorf("drafts = %d, want 2 despite history error", len(msg.Drafts))
	}
}

func TestViewShowsPanels(t *testing.T) {
	m := NewModel(testOptions())
	if !strings.Contains(m.View(), "loading") {
		t.Error("expected loading view before first fetch")
	}
	m, _ = update(t, m, FetchData(testOptions()))

	view := m.View()
	for _, want := range []string{"online", "Quiz Q", "Biology 101", "reconnect", "exhausted 1"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestNarrowViewTruncatesRows(t *testing.T) {
	opts := testOptions()
	opts.Queue = &fakeQueue{entries: []models.DraftEntry{
		{ID: "a", Kind: models.KindDiscussion, Status: models.StatusDraft,
			Payload: models.Discussion{CourseID: "c1", Title: strings.Repeat("long title ", 20)}},
	}}
	m := NewModel(opts)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 60, Height: 40})
	m, _ = update(t, m, FetchData(opts))

	view := m.View()
	if !strings.Contains(view, "…") {
		t.Error("long row was not truncated")
	}
	for _, line := range strings.Split(view, "\n") {
		if w := lipgloss.Width(line); w > 60 {
			t.Errorf("line width = %d, want <= 60: %q", w, line)
		}
	}
}

func TestCursorAndPanels(t *testing.T) {
	m := NewModel(testOptions())
	m, _ = update(t, m, FetchData(testOptions()))

	m, _ = update(t, m, keyPress("down"))
	m, _ = update(t, m, keyPress("down"))
	if m.cursor[PanelDrafts] != 1 {
		t.Errorf("cursor = %d, want clamped at 1", m.cursor[PanelDrafts])
	}
	if !strings.Contains(m.View(), "b: HTTP 503") {
		t.Error("selected failed draft should show its last error")
	}

	m, _ = update(t, m, keyPress("tab"))
	if m.panel != PanelCache {
		t.Errorf("panel = %v, want cache", m.panel)
	}
	m, _ = update(t, m, keyPress("tab"))
	m, _ = update(t, m, keyPress("tab"))
	if m.panel != PanelDrafts {
		t.Errorf("panel = %v, want wrap to drafts", m.panel)
	}
}

func TestSyncKey(t *testing.T) {
	calls := 0
	opts := testOptions()
	opts.Sync = func(ctx context.Context) (syncer.Result, error) {
		calls++
		return syncer.Result{Drafts: drafts.Report{Synced: 1}, Refreshed: 2}, nil
	}
	m := NewModel(opts)
	m, _ = update(t, m, FetchData(opts))

	m, cmd := update(t, m, keyPress("s"))
	if !m.syncing || cmd == nil {
		t.Fatal("expected sync to start")
	}
	// a second press while running is ignored
	if _, again := update(t, m, keyPress("s")); again != nil {
		t.Error("second sync should be ignored while one is running")
	}

	done, ok := cmd().(SyncDoneMsg)
	if !ok {
		t.Fatalf("cmd produced %T, want SyncDoneMsg", cmd())
	}
	m, _ = update(t, m, done)
	if m.syncing || calls != 1 {
		t.Errorf("syncing = %v calls = %d", m.syncing, calls)
	}
	if m.status != "synced 1, failed 0, refreshed 2" {
		t.Errorf("status = %q", m.status)
	}
}

func TestSyncDisabledWithoutFunc(t *testing.T) {
	m := NewModel(testOptions())
	if _, cmd := update(t, m, keyPress("s")); cmd != nil {
		t.Error("sync should be a no-op without a Sync func")
	}
}

func TestQuit(t *testing.T) {
	m := NewModel(testOptions())
	_, cmd := update(t, m, keyPress("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestDescribeSync(t *testing.T) {
	if got := describeSync(SyncDoneMsg{Err: errors.New("store locked")}); got != "sync failed: store locked" {
		t.Errorf("got %q", got)
	}
	if got := describeSync(SyncDoneMsg{Result: syncer.Result{QueueBusy: true}}); !strings.Contains(got, "already running") {
		t.Errorf("got %q", got)
	}
}

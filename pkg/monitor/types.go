package monitor

import (
	"time"

	"github.com/marcus/coursesync/internal/drafts"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/syncer"
)

// Panel represents which panel is active
type Panel int

const (
	PanelDrafts Panel = iota
	PanelCache
	PanelHistory
	panelCount
)

// String returns the panel heading
func (p Panel) String() string {
	switch p {
	case PanelDrafts:
		return "Drafts"
	case PanelCache:
		return "Cached courses"
	case PanelHistory:
		return "Sync history"
	}
	return "?"
}

// DraftRow is one queue entry as displayed
type DraftRow struct {
	Entry     models.DraftEntry
	Exhausted bool
}

// RefreshDataMsg carries one fetch of everything the dashboard shows
type RefreshDataMsg struct {
	Counts      drafts.Counts
	Drafts      []DraftRow
	Collections []models.CachedCollection
	Runs        []models.SyncRun
	Online      bool
	Syncing     bool
	Err         error
	Timestamp   time.Time
}

// TickMsg triggers a periodic refresh
type TickMsg time.Time

// SyncDoneMsg reports a sync pass started from the dashboard
type SyncDoneMsg struct {
	Result syncer.Result
	Err    error
}

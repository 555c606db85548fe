package monitor

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/marcus/coursesync/internal/drafts"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/syncer"
)

const (
	maxDraftRows = 200
	maxRunRows   = 20
)

// Queue is the write queue as read by the dashboard. drafts.Manager
// implements it.
type Queue interface {
	Counts() (drafts.Counts, error)
	ListDrafts(filter models.DraftFilter) iter.Seq2[models.DraftEntry, error]
	Exhausted(e models.DraftEntry) bool
	Syncing() bool
}

// Snapshots lists cached collections. cache.Cache implements it.
type Snapshots interface {
	List() ([]models.CachedCollection, error)
}

// History lists recent sync passes.
type History interface {
	RecentSyncRuns(limit int) ([]models.SyncRun, error)
}

// Options wires the dashboard to the running client.
type Options struct {
	Queue   Queue
	Cache   Snapshots
	History History
	// Online reports current reachability. Nil means unknown (shown offline).
	Online func() bool
	// Sync runs one full pass when the user presses s. Nil disables it.
	Sync     func(ctx context.Context) (syncer.Result, error)
	Interval time.Duration
	Version  string
}

// FetchData retrieves all data needed for the monitor display. Errors from
// individual sources are joined into Err; whatever could be read is returned.
func FetchData(opts Options) RefreshDataMsg {
	msg := RefreshDataMsg{Timestamp: time.Now()}
	var errs []error

	if opts.Queue != nil {
		counts, err := opts.Queue.Counts()
		if err != nil {
			errs = append(errs, err)
		}
		msg.Counts = counts
		msg.Syncing = opts.Queue.Syncing()

		for e, err := range opts.Queue.ListDrafts(models.DraftFilter{}) {
			if err != nil {
				errs = append(errs, err)
				break
			}
			msg.Drafts = append(msg.Drafts, DraftRow{Entry: e, Exhausted: opts.Queue.Exhausted(e)})
			if len(msg.Drafts) >= maxDraftRows {
				break
			}
		}
	}

	if opts.Cache != nil {
		cols, err := opts.Cache.List()
		if err != nil {
			errs = append(errs, err)
		}
		msg.Collections = cols
	}

	if opts.History != nil {
		runs, err := opts.History.RecentSyncRuns(maxRunRows)
		if err != nil {
			errs = append(errs, err)
		}
		msg.Runs = runs
	}

	if opts.Online != nil {
		msg.Online = opts.Online()
	}
	msg.Err = errors.Join(errs...)
	return msg
}

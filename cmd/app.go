package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/coursesync/internal/boltstore"
	"github.com/marcus/coursesync/internal/cache"
	"github.com/marcus/coursesync/internal/config"
	"github.com/marcus/coursesync/internal/db"
	"github.com/marcus/coursesync/internal/drafts"
	"github.com/marcus/coursesync/internal/forum"
	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/notify"
	"github.com/marcus/coursesync/internal/remote"
	"github.com/marcus/coursesync/internal/syncer"
)

// localStore is what the CLI needs from a durable backend. db.DB and
// boltstore.Store both satisfy it.
type localStore interface {
	drafts.Store
	cache.Store
	RecordSyncRun(run models.SyncRun) error
	RecentSyncRuns(limit int) ([]models.SyncRun, error)
	Close() error
}

// app is one CLI invocation's wiring of store, remote and engine.
type app struct {
	configDir string
	settings  config.Settings

	store  localStore
	client *remote.Client
	drafts *drafts.Manager
	cache  *cache.Cache
	coord  *syncer.Coordinator
}

// openStore opens the configured backend under the data dir.
func openStore(s config.Settings) (localStore, error) {
	switch s.Store {
	case config.StoreBolt:
		return boltstore.Open(s.DataDir)
	default:
		return db.Open(s.DataDir)
	}
}

// openApp loads config and wires every component. Callers must Close it.
func openApp() (*app, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(dir, config.Resolve(cfg, dir))
}

func newApp(configDir string, s config.Settings) (*app, error) {
	store, err := openStore(s)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", s.Store, err)
	}

	notifier, err := newNotifier(s)
	if err != nil {
		store.Close()
		return nil, err
	}

	client := remote.NewClient(s.ServerURL, s.UserID)
	manager := drafts.NewManager(store, forum.New(client), drafts.Options{
		MaxRetry:    s.MaxRetry,
		GracePeriod: s.GracePeriod,
		Notifier:    notifier,
		Lease:       db.NewSyncLease(s.DataDir),
	})
	c := cache.New(store, client, cache.Options{Memo: cache.NewMemo(s.CacheTTL, nil)})
	coord := syncer.New(manager, c, store)
	for _, w := range s.Watch {
		if err := coord.Watch(w.CourseID, w.Kind); err != nil {
			manager.Close()
			store.Close()
			return nil, err
		}
	}

	return &app{
		configDir: configDir,
		settings:  s,
		store:     store,
		client:    client,
		drafts:    manager,
		cache:     c,
		coord:     coord,
	}, nil
}

func newNotifier(s config.Settings) (notify.Notifier, error) {
	n := notify.NewWebhook(s.WebhookURL, s.WebhookSecret)
	if s.DiscordURL == "" {
		return n, nil
	}
	d, err := notify.NewDiscord(s.DiscordURL)
	if err != nil {
		return nil, err
	}
	if _, ok := n.(notify.Nop); ok {
		return d, nil
	}
	return notify.Multi{n, d}, nil
}

// Close sweeps synced entries past their grace period, then stops the
// manager's timer and closes the store.
func (a *app) Close() error {
	_, err := a.drafts.Sweep()
	a.drafts.Close()
	if err != nil {
		return errors.Join(err, a.store.Close())
	}
	return a.store.Close()
}

// online probes the server once.
func (a *app) online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := a.client.HealthCheck(ctx)
	return err == nil
}

// requireUser fails when no user id is configured; posts need an author.
func (a *app) requireUser() error {
	if a.settings.UserID == "" {
		return errors.New("no user id configured (coursesync config set user_id <id>)")
	}
	return nil
}

package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/coursesync/internal/db"
	"github.com/marcus/coursesync/internal/docserver"
	"github.com/marcus/coursesync/internal/docstore"
	"github.com/marcus/coursesync/internal/models"
)

func TestStatusValue(t *testing.T) {
	var s statusValue
	for _, v := range []string{"draft", "pending", "synced", "failed", ""} {
		if err := s.Set(v); err != nil {
			t.Errorf("Set(%q) = %v, want nil", v, err)
		}
		if s.String() != v {
			t.Errorf("String() = %q, want %q", s.String(), v)
		}
	}
	if err := s.Set("done"); err == nil {
		t.Error("Set(done) = nil, want error")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := parseKind("announcements"); err != nil || k != models.CollectionAnnouncements {
		t.Errorf("parseKind(announcements) = %q, %v", k, err)
	}
	if _, err := parseKind("grades"); err == nil {
		t.Error("parseKind(grades) = nil error, want error")
	}
}

// docServer runs a document server on an httptest listener.
func docServer(t *testing.T) (*httptest.Server, *docstore.Store) {
	t.Helper()
	store, err := docstore.Open(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("open docstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	srv, err := docserver.NewServer(docserver.Config{
		RateLimitWrite: 100000,
		RateLimitRead:  100000,
		PingInterval:   time.Second,
	}, store)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

// cliEnv points the CLI at a fresh config dir and server.
func cliEnv(t *testing.T, serverURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("COURSESYNC_CONFIG_DIR", dir)
	t.Setenv("COURSESYNC_SERVER_URL", serverURL)
	t.Setenv("COURSESYNC_USER_ID", "u1")
	for _, k := range []string{
		"COURSESYNC_ROLE", "COURSESYNC_STORE", "COURSESYNC_DATA_DIR", "COURSESYNC_MAX_RETRY",
		"COURSESYNC_GRACE_PERIOD", "COURSESYNC_CACHE_TTL", "COURSESYNC_PROBE_INTERVAL",
		"COURSESYNC_WEBHOOK_URL", "COURSESYNC_WEBHOOK_SECRET", "COURSESYNC_DISCORD_WEBHOOK",
	} {
		t.Setenv(k, "")
	}
	return dir
}

// runCLI executes the root command and returns what it wrote to its output.
// Flag values are reset afterwards since the command tree is global.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer resetFlags(rootCmd)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func openLocal(t *testing.T, configDir string) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(configDir, "data"))
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSaveOnlinePushesImmediately(t *testing.T) {
	ts, store := docServer(t)
	dir := cliEnv(t, ts.URL)

	if _, err := runCLI(t, "draft", "save", "--course", "c1", "--title", "Quiz 3", "--body", "When is it due?"); err != nil {
		t.Fatalf("draft save: %v", err)
	}

	docs, err := store.List("courses/c1/discussions", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].String("title") != "Quiz 3" {
		t.Fatalf("remote discussions = %+v, want one titled Quiz 3", docs)
	}

	local := openLocal(t, dir)
	counts, err := local.CountDrafts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.StatusSynced] != 1 {
		t.Errorf("counts = %v, want 1 synced", counts)
	}
	runs, _ := local.RecentSyncRuns(5)
	if len(runs) != 1 || runs[0].Trigger != "save" {
		t.Errorf("runs = %+v, want one save pass", runs)
	}
}

func TestOfflineQueueThenSync(t *testing.T) {
	down := httptest.NewServer(nil)
	down.Close()
	dir := cliEnv(t, down.URL)

	if _, err := runCLI(t, "draft", "save", "--course", "c1", "--title", "First", "--body", "a"); err != nil {
		t.Fatalf("draft save: %v", err)
	}
	if _, err := runCLI(t, "draft", "save", "--course", "c1", "--title", "Second", "--body", "b", "--offline"); err != nil {
		t.Fatalf("draft save --offline: %v", err)
	}

	out, err := runCLI(t, "draft", "list", "--status", "draft")
	if err != nil {
		t.Fatalf("draft list: %v", err)
	}
	if !strings.Contains(out, "First") || !strings.Contains(out, "Second") {
		t.Errorf("draft list output missing titles:\n%s", out)
	}
	if strings.Index(out, "First") > strings.Index(out, "Second") {
		t.Errorf("drafts not in creation order:\n%s", out)
	}

	if _, err := runCLI(t, "sync"); err == nil {
		t.Error("sync while offline = nil, want error")
	}

	ts, store := docServer(t)
	t.Setenv("COURSESYNC_SERVER_URL", ts.URL)
	if _, err := runCLI(t, "sync"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	docs, _ := store.List("courses/c1/discussions", "createdAt")
	if len(docs) != 2 {
		t.Fatalf("remote discussions = %d, want 2", len(docs))
	}
	counts, _ := openLocal(t, dir).CountDrafts()
	if counts[models.StatusSynced] != 2 || counts[models.StatusDraft] != 0 {
		t.Errorf("counts = %v, want 2 synced", counts)
	}
}

func TestCacheRefreshAndWatch(t *testing.T) {
	ts, store := docServer(t)
	dir := cliEnv(t, ts.URL)

	store.Set("courses/c1", map[string]any{"name": "Biology 101"})
	store.Create("courses/c1/announcements", map[string]any{"title": "Welcome", "body": "Hello", "createdAt": "2026-03-01T09:00:00Z"})

	if _, err := runCLI(t, "cache", "watch", "c1", "announcements"); err != nil {
		t.Fatalf("cache watch: %v", err)
	}
	if _, err := runCLI(t, "cache", "refresh"); err != nil {
		t.Fatalf("cache refresh: %v", err)
	}

	snap, err := openLocal(t, dir).GetSnapshot("c1", models.CollectionAnnouncements)
	if err != nil || snap == nil {
		t.Fatalf("GetSnapshot = %v, %v", snap, err)
	}
	if snap.CourseName != "Biology 101" || len(snap.Items) != 1 {
		t.Errorf("snapshot = %+v, want 1 item of Biology 101", snap)
	}

	if _, err := runCLI(t, "cache", "show", "c1", "discussions"); err == nil {
		t.Error("show of uncached collection = nil, want error")
	}
	if _, err := runCLI(t, "cache", "show", "c1", "grades"); err == nil {
		t.Error("show of unknown kind = nil, want error")
	}
}

func TestConfigSetGet(t *testing.T) {
	cliEnv(t, "http://unused")

	if _, err := runCLI(t, "config", "set", "role", "ta"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := runCLI(t, "config", "get", "role")
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	if strings.TrimSpace(out) != "ta" {
		t.Errorf("role = %q, want ta", out)
	}
	if _, err := runCLI(t, "config", "set", "role", "dean"); err == nil {
		t.Error("config set role dean = nil, want error")
	}
}

package docserver

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"DOCSTORE_LISTEN_ADDR", "DOCSTORE_PING_INTERVAL", "DOCSTORE_RATE_LIMIT_WRITE"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()
	if cfg.ListenAddr != ":8080" || cfg.PingInterval != 30*time.Second || cfg.RateLimitWrite != 120 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("DOCSTORE_LISTEN_ADDR", ":9090")
	t.Setenv("DOCSTORE_PING_INTERVAL", "5s")
	t.Setenv("DOCSTORE_RATE_LIMIT_WRITE", "nope")
	cfg := LoadConfig()
	if cfg.ListenAddr != ":9090" || cfg.PingInterval != 5*time.Second {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.RateLimitWrite != 120 {
		t.Errorf("RateLimitWrite = %d, want default for invalid value", cfg.RateLimitWrite)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	data := "DOCSTORE_DB_PATH=/srv/docs.db\nDOCSTORE_LOG_LEVEL=debug\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCSTORE_DB_PATH", "")
	os.Unsetenv("DOCSTORE_DB_PATH")
	// already set, so the file must not override it
	t.Setenv("DOCSTORE_LOG_LEVEL", "warn")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	cfg := LoadConfig()
	if cfg.DBPath != "/srv/docs.db" {
		t.Errorf("DBPath = %q, want /srv/docs.db", cfg.DBPath)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (env wins)", cfg.LogLevel)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing file = %v, want nil", err)
	}
}

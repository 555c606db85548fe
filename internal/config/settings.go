package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/coursesync/internal/models"
)

// WatchTarget is one course collection the watch command keeps fresh.
type WatchTarget struct {
	CourseID string
	Kind     models.CollectionKind
}

// Settings are the effective values after env and defaults are applied.
type Settings struct {
	ServerURL     string
	UserID        string
	Role          models.Role
	Store         string
	DataDir       string
	MaxRetry      int
	GracePeriod   time.Duration
	CacheTTL      time.Duration
	ProbeInterval time.Duration
	WebhookURL    string
	WebhookSecret string
	DiscordURL    string
	Watch         []WatchTarget
}

// Resolve computes the effective settings for cfg.
// Priority: COURSESYNC_* env > config.json > default.
// configDir anchors the default data dir.
func Resolve(cfg *Config, configDir string) Settings {
	if cfg == nil {
		cfg = &Config{}
	}
	s := Settings{
		ServerURL:     pick("COURSESYNC_SERVER_URL", cfg.ServerURL, DefaultServerURL),
		UserID:        pick("COURSESYNC_USER_ID", cfg.UserID, ""),
		Role:          models.Role(pick("COURSESYNC_ROLE", cfg.Role, string(DefaultRole))),
		Store:         pick("COURSESYNC_STORE", cfg.Store, DefaultStore),
		DataDir:       pick("COURSESYNC_DATA_DIR", cfg.DataDir, filepath.Join(configDir, "data")),
		MaxRetry:      DefaultMaxRetry,
		GracePeriod:   pickDuration("COURSESYNC_GRACE_PERIOD", cfg.GracePeriod, DefaultGracePeriod),
		CacheTTL:      pickDuration("COURSESYNC_CACHE_TTL", cfg.CacheTTL, DefaultCacheTTL),
		ProbeInterval: pickDuration("COURSESYNC_PROBE_INTERVAL", cfg.ProbeInterval, DefaultProbeInterval),
		WebhookURL:    pick("COURSESYNC_WEBHOOK_URL", cfg.Webhook.URL, ""),
		WebhookSecret: pick("COURSESYNC_WEBHOOK_SECRET", cfg.Webhook.Secret, ""),
		DiscordURL:    pick("COURSESYNC_DISCORD_WEBHOOK", cfg.Webhook.Discord, ""),
	}

	if cfg.MaxRetry != nil && *cfg.MaxRetry > 0 {
		s.MaxRetry = *cfg.MaxRetry
	}
	if v := os.Getenv("COURSESYNC_MAX_RETRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxRetry = n
		} else {
			slog.Warn("config: ignoring COURSESYNC_MAX_RETRY", "value", v)
		}
	}

	if !models.IsValidRole(s.Role) {
		slog.Warn("config: unknown role, using default", "role", s.Role)
		s.Role = DefaultRole
	}
	if s.Store != StoreSQLite && s.Store != StoreBolt {
		slog.Warn("config: unknown store, using default", "store", s.Store)
		s.Store = DefaultStore
	}

	for _, w := range cfg.Watch {
		t, err := ParseWatchTarget(w)
		if err != nil {
			slog.Warn("config: skipping watch target", "target", w, "err", err)
			continue
		}
		s.Watch = append(s.Watch, t)
	}
	return s
}

// ParseWatchTarget parses "course/kind".
func ParseWatchTarget(s string) (WatchTarget, error) {
	course, kind, ok := strings.Cut(s, "/")
	if !ok || course == "" {
		return WatchTarget{}, fmt.Errorf("want course/kind, got %q", s)
	}
	k := models.CollectionKind(kind)
	if !models.IsValidCollection(k) {
		return WatchTarget{}, fmt.Errorf("unknown collection %q", kind)
	}
	return WatchTarget{CourseID: course, Kind: k}, nil
}

func pick(envKey, fileValue, def string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fileValue != "" {
		return fileValue
	}
	return def
}

func pickDuration(envKey, fileValue string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		slog.Warn("config: ignoring invalid duration", "env", envKey, "value", v)
	}
	if fileValue != "" {
		if d, err := time.ParseDuration(fileValue); err == nil && d > 0 {
			return d
		}
	}
	return def
}

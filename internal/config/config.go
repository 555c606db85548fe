// Package config holds the client configuration stored at
// ~/.config/coursesync/config.json. Every value can be overridden by a
// COURSESYNC_* environment variable; Resolve applies the priority
// env > file > default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/coursesync/internal/models"
)

const (
	configFile = "config.json"
	lockFile   = "config.json.lock"
)

// Store backends
const (
	StoreSQLite = "sqlite"
	StoreBolt   = "bolt"
)

// Defaults applied by Resolve.
const (
	DefaultServerURL     = "http://localhost:8080"
	DefaultRole          = models.RoleStudent
	DefaultStore         = StoreSQLite
	DefaultMaxRetry      = 3
	DefaultGracePeriod   = 3 * time.Second
	DefaultCacheTTL      = 5 * time.Minute
	DefaultProbeInterval = 10 * time.Second
)

// WebhookConfig configures reply notifications.
type WebhookConfig struct {
	URL    string `json:"url,omitempty"`
	Secret string `json:"secret,omitempty"`
	// Discord is a Discord channel webhook URL; events are posted as messages.
	Discord string `json:"discord,omitempty"`
}

// Config is the on-disk configuration. Empty fields fall through to defaults.
type Config struct {
	ServerURL     string        `json:"server_url,omitempty"`
	UserID        string        `json:"user_id,omitempty"`
	Role          string        `json:"role,omitempty"`
	Store         string        `json:"store,omitempty"` // sqlite or bolt
	DataDir       string        `json:"data_dir,omitempty"`
	MaxRetry      *int          `json:"max_retry,omitempty"`
	GracePeriod   string        `json:"grace_period,omitempty"`   // duration string
	CacheTTL      string        `json:"cache_ttl,omitempty"`      // duration string
	ProbeInterval string        `json:"probe_interval,omitempty"` // duration string
	Webhook       WebhookConfig `json:"webhook"`

	// Watch lists course/kind pairs the watch command keeps fresh.
	Watch []string `json:"watch,omitempty"`
}

// Dir returns the config directory, creating it if necessary.
// COURSESYNC_CONFIG_DIR overrides ~/.config/coursesync.
func Dir() (string, error) {
	dir := os.Getenv("COURSESYNC_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "coursesync")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the config from dir. A missing file is an empty config.
func Load(dir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	return &cfg, nil
}

// Save writes the config to dir using an atomic temp file + rename.
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	// the file may hold the webhook secret
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, configFile))
}

// Update loads, modifies and saves the config while holding the config lock,
// so concurrent CLI invocations do not lose each other's changes.
func Update(dir string, fn func(cfg *Config) error) error {
	return withLock(dir, func() error {
		cfg, err := Load(dir)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return Save(dir, cfg)
	})
}

// Keys lists the names accepted by Set, in display order.
var Keys = []string{
	"server_url", "user_id", "role", "store", "data_dir",
	"max_retry", "grace_period", "cache_ttl", "probe_interval",
	"webhook.url", "webhook.secret", "webhook.discord",
}

// Set assigns one key from its string form. An empty value clears it.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "server_url":
		c.ServerURL = value
	case "user_id":
		c.UserID = value
	case "role":
		if value != "" && !models.IsValidRole(models.Role(value)) {
			return fmt.Errorf("invalid role %q (student, ta, teacher)", value)
		}
		c.Role = value
	case "store":
		if value != "" && value != StoreSQLite && value != StoreBolt {
			return fmt.Errorf("invalid store %q (sqlite, bolt)", value)
		}
		c.Store = value
	case "data_dir":
		c.DataDir = value
	case "max_retry":
		if value == "" {
			c.MaxRetry = nil
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid max_retry %q: must be a positive integer", value)
		}
		c.MaxRetry = &n
	case "grace_period", "cache_ttl", "probe_interval":
		if value != "" {
			if d, err := time.ParseDuration(value); err != nil || d <= 0 {
				return fmt.Errorf("invalid %s %q: must be a positive duration", key, value)
			}
		}
		switch key {
		case "grace_period":
			c.GracePeriod = value
		case "cache_ttl":
			c.CacheTTL = value
		default:
			c.ProbeInterval = value
		}
	case "webhook.url":
		c.Webhook.URL = value
	case "webhook.secret":
		c.Webhook.Secret = value
	case "webhook.discord":
		c.Webhook.Discord = value
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

// Get returns the raw file value of key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "server_url":
		return c.ServerURL, nil
	case "user_id":
		return c.UserID, nil
	case "role":
		return c.Role, nil
	case "store":
		return c.Store, nil
	case "data_dir":
		return c.DataDir, nil
	case "max_retry":
		if c.MaxRetry == nil {
			return "", nil
		}
		return strconv.Itoa(*c.MaxRetry), nil
	case "grace_period":
		return c.GracePeriod, nil
	case "cache_ttl":
		return c.CacheTTL, nil
	case "probe_interval":
		return c.ProbeInterval, nil
	case "webhook.url":
		return c.Webhook.URL, nil
	case "webhook.secret":
		return c.Webhook.Secret, nil
	case "webhook.discord":
		return c.Webhook.Discord, nil
	}
	return "", fmt.Errorf("unknown key %q", key)
}

// AddWatch records a watch target, ignoring duplicates.
func (c *Config) AddWatch(courseID string, kind models.CollectionKind) error {
	if courseID == "" || !models.IsValidCollection(kind) {
		return fmt.Errorf("invalid watch target %s/%s", courseID, kind)
	}
	t := courseID + "/" + string(kind)
	if !slices.Contains(c.Watch, t) {
		c.Watch = append(c.Watch, t)
	}
	return nil
}

// RemoveWatch drops a watch target.
func (c *Config) RemoveWatch(courseID string, kind models.CollectionKind) {
	t := courseID + "/" + string(kind)
	c.Watch = slices.DeleteFunc(c.Watch, func(s string) bool { return s == t })
}

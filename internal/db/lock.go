package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockFileName   = "coursesync.lock"
	defaultTimeout = 2 * time.Second
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// writeLocker guards the data dir against a second sync process using an OS
// file lock. The lock is released by the kernel if the holder crashes.
type writeLocker struct {
	lockPath string
	lockFile *os.File
}

func newWriteLocker(baseDir string) *writeLocker {
	return &writeLocker{lockPath: filepath.Join(baseDir, lockFileName)}
}

// acquire polls for the lock with capped exponential backoff until timeout.
func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff
	for {
		if err := l.tryLock(); err == nil {
			l.lockFile.Truncate(0)
			l.lockFile.WriteAt([]byte(fmt.Sprintf("pid:%d\n", os.Getpid())), 0)
			return nil
		}
		if time.Now().After(deadline) {
			holder := l.holder()
			l.lockFile.Close()
			l.lockFile = nil
			return fmt.Errorf("store lock timeout after %v (held by %s)", timeout, holder)
		}
		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}

// tryAcquire makes a single attempt. It reports false, with no error, when
// the lock is held elsewhere.
func (l *writeLocker) tryAcquire() (bool, error) {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f
	if err := l.tryLock(); err != nil {
		l.lockFile.Close()
		l.lockFile = nil
		return false, nil
	}
	l.lockFile.Truncate(0)
	l.lockFile.WriteAt([]byte(fmt.Sprintf("pid:%d\n", os.Getpid())), 0)
	return true, nil
}

func (l *writeLocker) release() error {
	if l.lockFile == nil {
		return nil
	}
	l.lockFile.Truncate(0)
	l.unlock()
	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

// holder describes the current lock holder for timeout errors.
func (l *writeLocker) holder() string {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return "unknown"
	}
	pid := strings.TrimPrefix(strings.TrimSpace(string(data)), "pid:")
	if pid == "" {
		return "unknown"
	}
	var n int
	if _, err := fmt.Sscanf(pid, "%d", &n); err == nil && !isProcessAlive(n) {
		return "pid " + pid + " (stale)"
	}
	return "pid " + pid
}

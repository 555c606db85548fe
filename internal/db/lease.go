package db

import (
	"fmt"
	"os"
	"path/filepath"
)

const syncLockFileName = "sync.lock"

// SyncLease is the cross-process hold on the draft queue in one data dir.
// Whoever sends drafts or reclassifies pending ones holds it, so a pending
// entry seen by a lease holder was abandoned by a dead process.
type SyncLease struct {
	dir string
}

// NewSyncLease returns the lease for the data dir at dir. It does not touch
// the filesystem until TryAcquire.
func NewSyncLease(dir string) *SyncLease {
	return &SyncLease{dir: dir}
}

// TryAcquire takes the lease without waiting. ok is false when another
// holder, in this process or another, has it.
func (l *SyncLease) TryAcquire() (release func(), ok bool, err error) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, false, fmt.Errorf("create data dir: %w", err)
	}
	locker := &writeLocker{lockPath: filepath.Join(l.dir, syncLockFileName)}
	ok, err = locker.tryAcquire()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() { locker.release() }, true, nil
}

// Holder describes the current lease holder, for messages.
func (l *SyncLease) Holder() string {
	locker := &writeLocker{lockPath: filepath.Join(l.dir, syncLockFileName)}
	return locker.holder()
}

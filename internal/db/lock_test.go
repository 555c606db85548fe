//go:build unix

package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriteLocker_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	locker := newWriteLocker(dir)

	if err := locker.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if want := fmt.Sprintf("pid:%d", os.Getpid()); !strings.Contains(string(data), want) {
		t.Errorf("lock file = %q, want %q", data, want)
	}

	if err := locker.release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	// a second release is a no-op
	if err := locker.release(); err != nil {
		t.Errorf("second release = %v, want nil", err)
	}
}

func TestWriteLocker_ConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	const workers, iterations = 5, 10

	var counter int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				locker := newWriteLocker(dir)
				if err := locker.acquire(5 * time.Second); err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				val := atomic.LoadInt64(&counter)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, val+1)
				if err := locker.release(); err != nil {
					t.Errorf("release failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if want := int64(workers * iterations); counter != want {
		t.Errorf("counter = %d, want %d (lost update)", counter, want)
	}
}

func TestWriteLocker_Timeout(t *testing.T) {
	dir := t.TempDir()

	held := newWriteLocker(dir)
	if err := held.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer held.release()

	waiter := newWriteLocker(dir)
	start := time.Now()
	err := waiter.acquire(100 * time.Millisecond)
	elapsed := time.Since(start)
	if err == nil {
		waiter.release()
		t.Fatal("expected timeout error, got nil")
	}
	if elapsed < 80*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("waited %v, want ~100ms", elapsed)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error should mention timeout: %v", err)
	}
	if want := fmt.Sprintf("pid %d", os.Getpid()); !strings.Contains(err.Error(), want) {
		t.Errorf("error = %v, want holder %q", err, want)
	}
}

func TestWriteLocker_ReleaseUnlocksForOthers(t *testing.T) {
	dir := t.TempDir()

	first := newWriteLocker(dir)
	if err := first.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	first.release()

	second := newWriteLocker(dir)
	start := time.Now()
	if err := second.acquire(500 * time.Millisecond); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	defer second.release()
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("acquire after release took %v, want near-instant", elapsed)
	}
}

func TestWriteLocker_StaleHolder(t *testing.T) {
	dir := t.TempDir()
	// far above any pid_max
	os.WriteFile(filepath.Join(dir, lockFileName), []byte("pid:999999999\n"), 0600)

	l := newWriteLocker(dir)
	if got := l.holder(); !strings.Contains(got, "stale") {
		t.Errorf("holder() = %q, want stale marker", got)
	}
	// no OS lock is held, so acquire succeeds despite the leftover file
	if err := l.acquire(100 * time.Millisecond); err != nil {
		t.Fatalf("acquire = %v, want nil", err)
	}
	l.release()
}

func TestSyncLease_ExclusiveAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	a, b := NewSyncLease(dir), NewSyncLease(dir)

	release, ok, err := a.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("first TryAcquire = %v, %v; want ok", ok, err)
	}
	if _, ok, err := b.TryAcquire(); err != nil || ok {
		t.Fatalf("second TryAcquire = %v, %v; want held", ok, err)
	}
	if want := fmt.Sprintf("pid %d", os.Getpid()); b.Holder() != want {
		t.Errorf("Holder = %q, want %q", b.Holder(), want)
	}

	release()
	release2, ok, err := b.TryAcquire()
	if err != nil || !ok {
		t.Fatalf("TryAcquire after release = %v, %v; want ok", ok, err)
	}
	release2()
}

func TestSyncLease_IndependentOfWriteLock(t *testing.T) {
	dir := t.TempDir()
	release, ok, err := NewSyncLease(dir).TryAcquire()
	if err != nil || !ok {
		t.Fatalf("TryAcquire = %v, %v", ok, err)
	}
	defer release()

	// store writes still go through while a pass holds the lease
	locker := newWriteLocker(dir)
	if err := locker.acquire(200 * time.Millisecond); err != nil {
		t.Fatalf("write lock while lease held: %v", err)
	}
	locker.release()
}

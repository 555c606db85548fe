// Package boltstore is a bbolt-backed local durable store. It implements the
// same draft and snapshot contracts as the SQLite store for devices where an
// embedded key-value file is preferred.
package boltstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/marcus/coursesync/internal/models"
	"go.etcd.io/bbolt"
)

const dbFile = "coursesync.bolt"

var (
	bucketDrafts   = []byte("drafts")
	bucketCache    = []byte("cache")
	bucketSyncRuns = []byte("sync_runs")
)

// Store wraps a bbolt database
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens (creating if needed) the bolt file in baseDir
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// bbolt holds an flock on the file, so a second process fails fast
	// instead of sharing the store.
	db, err := bbolt.Open(filepath.Join(baseDir, dbFile), 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketDrafts, bucketCache, bucketSyncRuns} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the time source used for timestamps (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// InsertDraft stores a new entry. The ID must already be assigned.
func (s *Store) InsertDraft(e *models.DraftEntry) error {
	if e.Payload == nil {
		return fmt.Errorf("%w: missing payload", models.ErrInvalidDraft)
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		if b.Get([]byte(e.ID)) != nil {
			return fmt.Errorf("insert draft %s: duplicate id", e.ID)
		}
		return b.Put([]byte(e.ID), data)
	})
}

func getDraft(b *bbolt.Bucket, id string) (*models.DraftEntry, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return nil, fmt.Errorf("draft %s: %w", id, models.ErrNotFound)
	}
	var e models.DraftEntry
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return &e, nil
}

// GetDraft returns a single entry or models.ErrNotFound
func (s *Store) GetDraft(id string) (*models.DraftEntry, error) {
	var e *models.DraftEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		e, err = getDraft(tx.Bucket(bucketDrafts), id)
		return err
	})
	return e, err
}

// ListDrafts returns up to limit entries with id > afterID in key order.
// Draft ids sort by creation time, so key order is creation order.
func (s *Store) ListDrafts(filter models.DraftFilter, afterID string, limit int) ([]models.DraftEntry, error) {
	var out []models.DraftEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDrafts).Cursor()
		k, v := c.First()
		if afterID != "" {
			k, v = c.Seek([]byte(afterID))
			if k != nil && bytes.Equal(k, []byte(afterID)) {
				k, v = c.Next()
			}
		}
		for ; k != nil && len(out) < limit; k, v = c.Next() {
			var e models.DraftEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode draft %s: %w", k, err)
			}
			if filter.Match(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// UpdateDraft applies fn to the stored entry inside one write transaction
func (s *Store) UpdateDraft(id string, fn func(e *models.DraftEntry) error) (*models.DraftEntry, error) {
	var updated *models.DraftEntry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		e, err := getDraft(b, id)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		e.UpdatedAt = s.now()
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal draft: %w", err)
		}
		if err := b.Put([]byte(id), data); err != nil {
			return err
		}
		updated = e
		return nil
	})
	return updated, err
}

// DeleteDraft removes an entry regardless of status
func (s *Store) DeleteDraft(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDrafts)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("draft %s: %w", id, models.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// CountDrafts returns the number of entries in each status
func (s *Store) CountDrafts() (map[models.Status]int, error) {
	counts := make(map[models.Status]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDrafts).ForEach(func(k, v []byte) error {
			var e struct {
				Status models.Status `json:"status"`
			}
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			counts[e.Status]++
			return nil
		})
	})
	return counts, err
}

func cacheKey(courseID string, kind models.CollectionKind) []byte {
	return []byte("cache:" + courseID + ":" + string(kind))
}

// PutSnapshot replaces the snapshot for the collection's course and kind.
// bbolt commits the new value atomically or not at all.
func (s *Store) PutSnapshot(c models.CachedCollection) error {
	if c.Items == nil {
		c.Items = []models.Document{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCache).Put(cacheKey(c.CourseID, c.Kind), data)
	})
}

// GetSnapshot returns the stored snapshot, or nil if none has been written
func (s *Store) GetSnapshot(courseID string, kind models.CollectionKind) (*models.CachedCollection, error) {
	var out *models.CachedCollection
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketCache).Get(cacheKey(courseID, kind))
		if v == nil {
			return nil
		}
		var c models.CachedCollection
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		out = &c
		return nil
	})
	return out, err
}

// DeleteSnapshots removes every snapshot for a course. Keys are matched
// exactly per kind, since a course id may itself contain ':'.
func (s *Store) DeleteSnapshots(courseID string) (int, error) {
	var n int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCache)
		for _, kind := range models.CollectionKinds {
			k := cacheKey(courseID, kind)
			if b.Get(k) == nil {
				continue
			}
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// ListSnapshots returns snapshot metadata (without items) for every cached collection
func (s *Store) ListSnapshots() ([]models.CachedCollection, error) {
	var out []models.CachedCollection
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCache).ForEach(func(k, v []byte) error {
			var c models.CachedCollection
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode snapshot %s: %w", k, err)
			}
			c.Items = make([]models.Document, 0, len(c.Items))
			out = append(out, c)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CourseID != out[j].CourseID {
			return out[i].CourseID < out[j].CourseID
		}
		return out[i].Kind < out[j].Kind
	})
	return out, err
}

// RecordSyncRun appends one coordinator pass to the history
func (s *Store) RecordSyncRun(run models.SyncRun) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSyncRuns)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		run.ID = int64(seq)
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// RecentSyncRuns returns the last limit runs, newest first
func (s *Store) RecentSyncRuns(limit int) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSyncRuns).Cursor()
		for k, v := c.Last(); k != nil && len(runs) < limit; k, v = c.Prev() {
			var r models.SyncRun
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			runs = append(runs, r)
		}
		return nil
	})
	return runs, err
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

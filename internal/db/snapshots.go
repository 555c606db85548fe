package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marcus/coursesync/internal/models"
)

// CacheKey is the store key for one course/kind snapshot
func CacheKey(courseID string, kind models.CollectionKind) string {
	return "cache:" + courseID + ":" + string(kind)
}

// PutSnapshot replaces the stored snapshot for the collection's course and
// kind. The row is swapped in one statement inside a transaction, so a failed
// write leaves the previous snapshot untouched.
func (db *DB) PutSnapshot(c models.CachedCollection) error {
	items := c.Items
	if items == nil {
		items = []models.Document{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal snapshot items: %w", err)
	}

	return db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO cache (key, course_id, kind, course_name, items, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				course_name = excluded.course_name,
				items = excluded.items,
				last_synced_at = excluded.last_synced_at`,
			CacheKey(c.CourseID, c.Kind), c.CourseID, string(c.Kind), c.CourseName, string(data), formatTime(c.LastSyncedAt),
		)
		if err != nil {
			return fmt.Errorf("write snapshot %s: %w", CacheKey(c.CourseID, c.Kind), err)
		}
		return nil
	})
}

// GetSnapshot returns the stored snapshot, or nil if none has been written
func (db *DB) GetSnapshot(courseID string, kind models.CollectionKind) (*models.CachedCollection, error) {
	var (
		c          models.CachedCollection
		items      string
		lastSynced string
	)
	err := db.conn.QueryRow(`
		SELECT course_id, kind, course_name, items, last_synced_at FROM cache WHERE key = ?`,
		CacheKey(courseID, kind),
	).Scan(&c.CourseID, &c.Kind, &c.CourseName, &items, &lastSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &c.Items); err != nil {
		return nil, fmt.Errorf("decode snapshot items: %w", err)
	}
	if c.LastSyncedAt, err = parseTime(lastSynced); err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteSnapshots removes every snapshot for a course
func (db *DB) DeleteSnapshots(courseID string) (int, error) {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`DELETE FROM cache WHERE course_id = ?`, courseID)
		if err != nil {
			return fmt.Errorf("clear cache for %s: %w", courseID, err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}

// ListSnapshots returns snapshot metadata (without items) for every cached collection
func (db *DB) ListSnapshots() ([]models.CachedCollection, error) {
	rows, err := db.conn.Query(`
		SELECT course_id, kind, course_name, json_array_length(items), last_synced_at
		FROM cache ORDER BY course_id, kind`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.CachedCollection
	for rows.Next() {
		var (
			c          models.CachedCollection
			count      int
			lastSynced string
		)
		if err := rows.Scan(&c.CourseID, &c.Kind, &c.CourseName, &count, &lastSynced); err != nil {
			return nil, err
		}
		if c.LastSyncedAt, err = parseTime(lastSynced); err != nil {
			return nil, err
		}
		c.Items = make([]models.Document, 0, count)
		out = append(out, c)
	}
	return out, rows.Err()
}

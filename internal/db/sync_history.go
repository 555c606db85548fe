package db

import (
	"fmt"
	"time"

	"github.com/marcus/coursesync/internal/models"
)

// RecordSyncRun appends one coordinator pass to the history
func (db *DB) RecordSyncRun(run models.SyncRun) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO sync_runs (trigger, synced, failed, refreshed, errors, started_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.Trigger, run.Synced, run.Failed, run.Refreshed, run.Errors,
			formatTime(run.StartedAt), run.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("record sync run: %w", err)
		}
		return nil
	})
}

// RecentSyncRuns returns the last limit runs, newest first
func (db *DB) RecentSyncRuns(limit int) ([]models.SyncRun, error) {
	rows, err := db.conn.Query(`
		SELECT id, trigger, synced, failed, refreshed, errors, started_at, duration_ms
		FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var (
			r       models.SyncRun
			started string
			ms      int64
		)
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Synced, &r.Failed, &r.Refreshed, &r.Errors, &started, &ms); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

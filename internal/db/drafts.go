package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/coursesync/internal/models"
)

const draftColumns = `id, kind, payload, status, retry_count, rejected, last_error, created_at, updated_at, synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*models.DraftEntry, error) {
	var (
		e                    models.DraftEntry
		kind, payload        string
		status               string
		createdAt, updatedAt string
		syncedAt             sql.NullString
	)
	if err := row.Scan(&e.ID, &kind, &payload, &status, &e.RetryCount, &e.Rejected, &e.LastError, &createdAt, &updatedAt, &syncedAt); err != nil {
		return nil, err
	}

	p, err := models.DecodePayload(models.Kind(kind), []byte(payload))
	if err != nil {
		return nil, fmt.Errorf("draft %s: %w", e.ID, err)
	}
	e.Kind = models.Kind(kind)
	e.Payload = p
	e.Status = models.Status(status)

	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if syncedAt.Valid && syncedAt.String != "" {
		t, err := parseTime(syncedAt.String)
		if err != nil {
			return nil, err
		}
		e.SyncedAt = &t
	}
	return &e, nil
}

// InsertDraft stores a new entry. The ID must already be assigned.
func (db *DB) InsertDraft(e *models.DraftEntry) error {
	kind, payload, err := models.EncodePayload(e.Payload)
	if err != nil {
		return err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}

	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO drafts (id, kind, course_id, discussion_id, payload, status, retry_count, rejected, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, string(kind), e.CourseID(), e.DiscussionID(), string(payload),
			string(e.Status), e.RetryCount, e.Rejected, e.LastError,
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert draft %s: %w", e.ID, err)
		}
		return nil
	})
}

// GetDraft returns a single entry or models.ErrNotFound
func (db *DB) GetDraft(id string) (*models.DraftEntry, error) {
	row := db.conn.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id)
	e, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListDrafts returns up to limit entries with id > afterID in creation order.
// Passing the last returned id as afterID fetches the next page.
func (db *DB) ListDrafts(filter models.DraftFilter, afterID string, limit int) ([]models.DraftEntry, error) {
	var (
		conds = []string{"id > ?"}
		args  = []any{afterID}
	)
	if filter.CourseID != "" {
		conds = append(conds, "course_id = ?")
		args = append(args, filter.CourseID)
	}
	if filter.DiscussionID != "" {
		conds = append(conds, "discussion_id = ?")
		args = append(args, filter.DiscussionID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	args = append(args, limit)

	rows, err := db.conn.Query(`SELECT `+draftColumns+` FROM drafts WHERE `+strings.Join(conds, " AND ")+` ORDER BY id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var out []models.DraftEntry
	for rows.Next() {
		e, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UpdateDraft applies fn to the stored entry and writes the result back in a
// single transaction. If fn returns an error nothing is written.
func (db *DB) UpdateDraft(id string, fn func(e *models.DraftEntry) error) (*models.DraftEntry, error) {
	var updated *models.DraftEntry
	err := db.withTx(func(tx *sql.Tx) error {
		e, err := scanDraft(tx.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("draft %s: %w", id, models.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if err := fn(e); err != nil {
			return err
		}
		e.UpdatedAt = db.now()

		var syncedAt any
		if e.SyncedAt != nil {
			syncedAt = formatTime(*e.SyncedAt)
		}
		_, err = tx.Exec(`
			UPDATE drafts SET status = ?, retry_count = ?, rejected = ?, last_error = ?, updated_at = ?, synced_at = ?
			WHERE id = ?`,
			string(e.Status), e.RetryCount, e.Rejected, e.LastError, formatTime(e.UpdatedAt), syncedAt, id,
		)
		if err != nil {
			return fmt.Errorf("update draft %s: %w", id, err)
		}
		updated = e
		return nil
	})
	return updated, err
}

// DeleteDraft removes an entry regardless of status
func (db *DB) DeleteDraft(id string) error {
	return db.withWriteLock(func() error {
		res, err := db.conn.Exec(`DELETE FROM drafts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete draft %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("draft %s: %w", id, models.ErrNotFound)
		}
		return nil
	})
}

// CountDrafts returns the number of entries in each status
func (db *DB) CountDrafts() (map[models.Status]int, error) {
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM drafts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

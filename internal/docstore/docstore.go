// Package docstore is the server-side document store behind coursesync-server:
// a single SQLite table of JSON documents keyed by slash-separated path.
package docstore

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/remote"
)

// Errors returned by Store methods.
var (
	ErrNotFound   = errors.New("document not found")
	ErrBadPath    = errors.New("bad document path")
	ErrNotNumeric = errors.New("field is not numeric")
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    path TEXT PRIMARY KEY,
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    fields TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
`

// Store wraps the server database connection.
type Store struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the document database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{conn: conn, path: dbPath, now: time.Now}, nil
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Ping checks the database connection is alive.
func (s *Store) Ping() error {
	return s.conn.Ping()
}

// Close checkpoints the WAL and closes the database connection.
func (s *Store) Close() error {
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// Create adds a document with a fresh id to collection. A "createdAt" field
// holding an RFC 3339 timestamp sets the creation time; otherwise it is now.
func (s *Store) Create(collection string, fields map[string]any) (*models.Document, error) {
	collection, err := cleanCollection(collection)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	doc := &models.Document{
		ID:        id,
		Path:      collection + "/" + id,
		Fields:    fields,
		CreatedAt: s.createdAt(fields),
	}
	data, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	now := formatTime(s.now())
	_, err = s.conn.Exec(`INSERT INTO documents (path, collection, id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.Path, collection, id, data, formatTime(doc.CreatedAt), now)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", doc.Path, err)
	}
	return doc, nil
}

// Set writes a document at an explicit path, replacing its fields. The
// original creation time is kept when the document already exists.
func (s *Store) Set(path string, fields map[string]any) (*models.Document, error) {
	collection, id, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	path = collection + "/" + id
	data, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	created := s.createdAt(fields)
	_, err = s.conn.Exec(`
		INSERT INTO documents (path, collection, id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`,
		path, collection, id, data, formatTime(created), formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", path, err)
	}
	return s.Get(path)
}

// Get returns the document at path.
func (s *Store) Get(path string) (*models.Document, error) {
	collection, id, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	path = collection + "/" + id
	doc, err := scanDoc(s.conn.QueryRow(`SELECT path, id, fields, created_at FROM documents WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return doc, err
}

// Increment adds delta to a numeric field inside a transaction and returns the
// new value. A missing field counts as zero.
func (s *Store) Increment(path, field string, delta int64) (int64, error) {
	if field == "" {
		return 0, fmt.Errorf("%w: empty field name", ErrBadPath)
	}
	collection, id, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	path = collection + "/" + id

	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	doc, err := scanDoc(tx.QueryRow(`SELECT path, id, fields, created_at FROM documents WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]any)
	}
	switch doc.Fields[field].(type) {
	case nil, int64, float64:
	default:
		return 0, fmt.Errorf("%s.%s: %w", path, field, ErrNotNumeric)
	}
	next := doc.Int(field) + delta
	doc.Fields[field] = next

	data, err := encodeFields(doc.Fields)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`UPDATE documents SET fields = ?, updated_at = ? WHERE path = ?`, data, formatTime(s.now()), path); err != nil {
		return 0, fmt.Errorf("update %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// List returns the direct children of collection ordered by orderBy
// ("field" or "-field"; empty means creation order).
func (s *Store) List(collection, orderBy string) ([]models.Document, error) {
	collection, err := cleanCollection(collection)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(`SELECT path, id, fields, created_at FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	remote.SortDocuments(docs, orderBy)
	return docs, nil
}

// Delete removes a document.
func (s *Store) Delete(path string) error {
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}
	res, err := s.conn.Exec(`DELETE FROM documents WHERE path = ?`, collection+"/"+id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var fields, created string
	if err := row.Scan(&doc.Path, &doc.ID, &fields, &created); err != nil {
		return nil, err
	}
	f, err := decodeFields([]byte(fields))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", doc.Path, err)
	}
	doc.Fields = f
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	doc.CreatedAt = t
	return &doc, nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(data), nil
}

// decodeFields keeps integers as int64 so counters survive a round trip
// without turning into floats.
func decodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			fields[k] = i
		} else if f, err := n.Float64(); err == nil {
			fields[k] = f
		}
	}
	return fields, nil
}

func (s *Store) createdAt(fields map[string]any) time.Time {
	if v, ok := fields["createdAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return s.now().UTC()
}

func cleanCollection(path string) (string, error) {
	if !remote.IsCollectionPath(path) {
		return "", fmt.Errorf("%w: %q is not a collection", ErrBadPath, path)
	}
	return strings.Trim(path, "/"), nil
}

func splitPath(path string) (string, string, error) {
	collection, id, err := remote.SplitDocumentPath(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q is not a document", ErrBadPath, path)
	}
	return collection, id, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

package db

// SchemaVersion is the current database schema version
const SchemaVersion = 3

const schema = `
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Write queue. course_id and discussion_id are denormalized from the payload
-- so ListDrafts can filter without decoding JSON.
CREATE TABLE IF NOT EXISTS drafts (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    course_id TEXT NOT NULL,
    discussion_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    synced_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_drafts_course ON drafts(course_id, id);
CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts(status);

-- Content cache, one row per cache:<course>:<kind> key.
CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    course_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    course_name TEXT NOT NULL DEFAULT '',
    items TEXT NOT NULL DEFAULT '[]',
    last_synced_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_course ON cache(course_id);
`

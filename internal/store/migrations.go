package store

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    source     TEXT NOT NULL,
    source_id  TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    body       TEXT NOT NULL DEFAULT '',
    created_at INTEGER,
    updated_at INTEGER,
    author     TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL DEFAULT '',
    UNIQUE(source, source_id)
);

CREATE INDEX IF NOT EXISTS idx_items_source ON items(source);
CREATE INDEX IF NOT EXISTS idx_items_updated_at ON items(updated_at);

CREATE TABLE IF NOT EXISTS links (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    item_a    INTEGER NOT NULL,
    item_b    INTEGER NOT NULL,
    link_type TEXT NOT NULL,
    score     REAL,
    note      TEXT
);

CREATE INDEX IF NOT EXISTS idx_links_pair ON links(item_a, item_b);

CREATE TABLE IF NOT EXISTS clusters (
    cluster_id INTEGER,
    item_id    INTEGER,
    score      REAL,
    PRIMARY KEY(cluster_id, item_id)
);

CREATE TABLE IF NOT EXISTS status (
    item_id   INTEGER PRIMARY KEY,
    priority  INTEGER,
    status    TEXT,
    last_seen INTEGER,
    labels    TEXT
);

CREATE TABLE IF NOT EXISTS job_state (
    key   TEXT PRIMARY KEY,
    value TEXT
);

CREATE TABLE IF NOT EXISTS chat_channels (
    id    TEXT PRIMARY KEY,
    name  TEXT NOT NULL DEFAULT '',
    is_dm INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chat_messages (
    channel_id TEXT NOT NULL,
    ts         TEXT NOT NULL,
    author     TEXT NOT NULL DEFAULT '',
    text       TEXT NOT NULL DEFAULT '',
    is_dm      INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY(channel_id, ts)
);
`

// ftsSchema is applied separately: FTS5 may be compiled out of the driver
// and full-text search is best-effort.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS content_index USING fts5(
    item_id UNINDEXED,
    title,
    body
);
`

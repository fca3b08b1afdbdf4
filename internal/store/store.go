package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// LinkKind classifies a pairwise relationship between two items.
type LinkKind string

const (
	LinkDuplicate LinkKind = "duplicate"
	LinkRelated   LinkKind = "related"
)

// MutedLabel suppresses an item from stalled/unread signals.
const MutedLabel = "muted"

// Item is a unit of ingested content (message, task, comment) from any
// collaboration platform. (Source, SourceID) is unique; ID is the internal
// identity assigned on first ingestion.
type Item struct {
	ID        int64  `db:"id" json:"id"`
	Source    string `db:"source" json:"source"`
	SourceID  string `db:"source_id" json:"source_id"`
	Title     string `db:"title" json:"title"`
	Body      string `db:"body" json:"body"`
	CreatedAt *int64 `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt *int64 `db:"updated_at" json:"updated_at,omitempty"`
	Author    string `db:"author" json:"author"`
	URL       string `db:"url" json:"url"`
}

// Link is a recorded pairwise relationship between two items. ItemA < ItemB
// always; rows accumulate across analysis runs.
type Link struct {
	ID    int64    `db:"id" json:"id"`
	ItemA int64    `db:"item_a" json:"item_a"`
	ItemB int64    `db:"item_b" json:"item_b"`
	Kind  LinkKind `db:"link_type" json:"link_type"`
	Score *float64 `db:"score" json:"score,omitempty"`
	Note  *string  `db:"note" json:"note,omitempty"`
}

// ClusterMember assigns an item to a run-local cluster label.
type ClusterMember struct {
	ClusterID int64    `db:"cluster_id" json:"cluster_id"`
	ItemID    int64    `db:"item_id" json:"item_id"`
	Score     *float64 `db:"score" json:"score,omitempty"`
}

// StatusUpdate is a partial update of an item's derived status. A nil field
// leaves the stored value untouched; Labels replaces the whole list when
// non-nil.
type StatusUpdate struct {
	Priority *int
	Status   *string
	LastSeen *int64
	Labels   []string
}

// SnapshotRow is one row of the status snapshot consumed by reporting.
type SnapshotRow struct {
	ID       int64   `db:"id" json:"id"`
	Source   string  `db:"source" json:"source"`
	SourceID string  `db:"source_id" json:"source_id"`
	Title    string  `db:"title" json:"title"`
	URL      string  `db:"url" json:"url"`
	Priority *int    `db:"priority" json:"priority,omitempty"`
	Status   *string `db:"status" json:"status,omitempty"`
	LastSeen *int64  `db:"last_seen" json:"last_seen,omitempty"`
	Labels   *string `db:"labels" json:"labels,omitempty"`
}

// AnalysisRow is the projection of an item the similarity engine reads.
type AnalysisRow struct {
	ID       int64  `db:"id"`
	Source   string `db:"source"`
	SourceID string `db:"source_id"`
	Title    string `db:"title"`
	Body     string `db:"body"`
}

// ChatChannel mirrors a chat platform channel; IsDM marks person-to-person
// conversations for the unread-DM signal.
type ChatChannel struct {
	ID   string `db:"id"`
	Name string `db:"name"`
	IsDM bool   `db:"is_dm"`
}

// ChatMessage mirrors a single chat message keyed by (channel, timestamp).
type ChatMessage struct {
	ChannelID string `db:"channel_id"`
	TS        string `db:"ts"`
	Author    string `db:"author"`
	Text      string `db:"text"`
	IsDM      bool   `db:"is_dm"`
}

// Store is the persistence interface shared by pollers, the analysis engine
// and the signal evaluator.
type Store interface {
	UpsertItem(ctx context.Context, item *Item) (int64, error)
	IndexContent(ctx context.Context, itemID int64, title, body string) error
	SetStatus(ctx context.Context, itemID int64, upd StatusUpdate) error
	RecordLink(ctx context.Context, itemA, itemB int64, kind LinkKind, score float64, note *string) error
	ReplaceClusters(ctx context.Context, labelByItem map[int64]int64, scoreByItem map[int64]float64) error

	FetchItemsForAnalysis(ctx context.Context, limit int) ([]AnalysisRow, error)
	ListStatusSnapshot(ctx context.Context, limit int) ([]SnapshotRow, error)
	ListItems(ctx context.Context, limit int) ([]Item, error)
	ListLinks(ctx context.Context, limit int) ([]Link, error)
	ListClusters(ctx context.Context) ([]ClusterMember, error)

	StalledItems(ctx context.Context, cutoff int64, limit int) ([]int64, error)
	UnreadDirectMessages(ctx context.Context, limit int) ([]int64, error)

	KVGet(ctx context.Context, key string) (string, bool, error)
	KVSet(ctx context.Context, key, value string) error

	UpsertChatChannel(ctx context.Context, ch *ChatChannel) error
	UpsertChatMessage(ctx context.Context, m *ChatMessage) error

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	fts bool
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// Single writer connection; SQLite serializes writes anyway and this
	// keeps upsert-then-read-back atomic from the pool's point of view.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{db: db}
	if _, err := db.Exec(ftsSchema); err == nil {
		s.fts = true
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertItem inserts or updates the item keyed by (source, source_id) and
// returns its internal id. Re-ingestion of the same external entity updates
// the existing row in place.
func (s *SQLiteStore) UpsertItem(ctx context.Context, item *Item) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO items (source, source_id, title, body, created_at, updated_at, author, url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, source_id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			author = excluded.author,
			url = excluded.url
		RETURNING id
	`, item.Source, item.SourceID, item.Title, item.Body,
		item.CreatedAt, item.UpdatedAt, item.Author, item.URL).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert item %s/%s: %w", item.Source, item.SourceID, err)
	}
	item.ID = id
	return id, nil
}

// IndexContent refreshes the full-text index entry for an item. Callers
// treat failures as non-fatal; ingestion never depends on the index.
func (s *SQLiteStore) IndexContent(ctx context.Context, itemID int64, title, body string) error {
	if !s.fts {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM content_index WHERE item_id = ?", itemID); err != nil {
		return fmt.Errorf("clear content index %d: %w", itemID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO content_index (item_id, title, body) VALUES (?, ?, ?)",
		itemID, title, body); err != nil {
		return fmt.Errorf("index content %d: %w", itemID, err)
	}
	return nil
}

// SetStatus applies a partial status update: every nil field is COALESCEd
// against the stored value, so independent writers cannot clobber each
// other's fields.
func (s *SQLiteStore) SetStatus(ctx context.Context, itemID int64, upd StatusUpdate) error {
	var labelsJSON *string
	if upd.Labels != nil {
		b, err := json.Marshal(upd.Labels)
		if err != nil {
			return fmt.Errorf("marshal labels for %d: %w", itemID, err)
		}
		v := string(b)
		labelsJSON = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status (item_id, priority, status, last_seen, labels)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			priority = COALESCE(excluded.priority, status.priority),
			status = COALESCE(excluded.status, status.status),
			last_seen = COALESCE(excluded.last_seen, status.last_seen),
			labels = COALESCE(excluded.labels, status.labels)
	`, itemID, upd.Priority, upd.Status, upd.LastSeen, labelsJSON)
	if err != nil {
		return fmt.Errorf("set status %d: %w", itemID, err)
	}
	return nil
}

// RecordLink stores a pairwise relationship with the smaller id first.
// Self-links are dropped. Links are append-only: re-running an analysis
// adds rows rather than merging them.
func (s *SQLiteStore) RecordLink(ctx context.Context, itemA, itemB int64, kind LinkKind, score float64, note *string) error {
	if itemA == itemB {
		return nil
	}
	if itemA > itemB {
		itemA, itemB = itemB, itemA
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO links (item_a, item_b, link_type, score, note)
		VALUES (?, ?, ?, ?, ?)
	`, itemA, itemB, kind, score, note)
	if err != nil {
		return fmt.Errorf("record link %d-%d: %w", itemA, itemB, err)
	}
	return nil
}

// ReplaceClusters discards all cluster assignments and writes the new set in
// one transaction. Cluster labels are run-local and carry no meaning across
// runs.
func (s *SQLiteStore) ReplaceClusters(ctx context.Context, labelByItem map[int64]int64, scoreByItem map[int64]float64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cluster replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM clusters"); err != nil {
		return fmt.Errorf("clear clusters: %w", err)
	}
	for itemID, label := range labelByItem {
		var score *float64
		if v, ok := scoreByItem[itemID]; ok {
			score = &v
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO clusters (cluster_id, item_id, score) VALUES (?, ?, ?)",
			label, itemID, score); err != nil {
			return fmt.Errorf("insert cluster %d item %d: %w", label, itemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cluster replace: %w", err)
	}
	return nil
}

// FetchItemsForAnalysis returns the most recently ingested items,
// newest id first.
func (s *SQLiteStore) FetchItemsForAnalysis(ctx context.Context, limit int) ([]AnalysisRow, error) {
	if limit <= 0 {
		limit = 5000
	}
	var rows []AnalysisRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, source, source_id, title, body FROM items ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("fetch items for analysis: %w", err)
	}
	return rows, nil
}

// ListStatusSnapshot joins items against their status, most urgent first.
// Items without a priority sort as 999 (lowest urgency).
func (s *SQLiteStore) ListStatusSnapshot(ctx context.Context, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	query, args, err := sq.Select("i.id", "i.source", "i.source_id", "i.title", "i.url",
		"s.priority", "s.status", "s.last_seen", "s.labels").
		From("items i").
		LeftJoin("status s ON s.item_id = i.id").
		OrderBy("COALESCE(s.priority, 999)", "i.id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build snapshot query: %w", err)
	}

	var rows []SnapshotRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list status snapshot: %w", err)
	}
	return rows, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []Item
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM items ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) ListLinks(ctx context.Context, limit int) ([]Link, error) {
	if limit <= 0 {
		limit = 1000
	}
	var links []Link
	err := s.db.SelectContext(ctx, &links,
		"SELECT * FROM links ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

func (s *SQLiteStore) ListClusters(ctx context.Context) ([]ClusterMember, error) {
	var members []ClusterMember
	err := s.db.SelectContext(ctx, &members,
		"SELECT * FROM clusters ORDER BY cluster_id, item_id")
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	return members, nil
}

// notMuted excludes items whose status labels contain the muted marker.
const notMuted = `NOT EXISTS (
	SELECT 1 FROM json_each(COALESCE(s.labels, '[]')) je WHERE je.value = 'muted'
)`

// StalledItems returns ids whose effective last activity
// (status.last_seen, else item.updated_at) is older than cutoff,
// skipping muted items. Most urgent first, then newest.
func (s *SQLiteStore) StalledItems(ctx context.Context, cutoff int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	query, args, err := sq.Select("i.id").
		From("items i").
		LeftJoin("status s ON s.item_id = i.id").
		Where("COALESCE(s.last_seen, i.updated_at) < ?", cutoff).
		Where(notMuted).
		OrderBy("COALESCE(s.priority, 999)", "i.id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stalled query: %w", err)
	}

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("stalled items: %w", err)
	}
	return ids, nil
}

// UnreadDirectMessages returns chat items that live in direct-message
// channels and are not muted, newest first.
func (s *SQLiteStore) UnreadDirectMessages(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	query, args, err := sq.Select("i.id").
		From("items i").
		Join("chat_messages cm ON cm.channel_id || ':' || cm.ts = i.source_id").
		Join("chat_channels cc ON cc.id = cm.channel_id").
		LeftJoin("status s ON s.item_id = i.id").
		Where(sq.Eq{"i.source": "chat"}).
		Where("cc.is_dm = 1").
		Where(notMuted).
		OrderBy("i.id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unread dm query: %w", err)
	}

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("unread direct messages: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) KVGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM job_state WHERE key = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) KVSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertChatChannel(ctx context.Context, ch *ChatChannel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_channels (id, name, is_dm) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_dm = excluded.is_dm
	`, ch.ID, ch.Name, ch.IsDM)
	if err != nil {
		return fmt.Errorf("upsert chat channel %s: %w", ch.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertChatMessage(ctx context.Context, m *ChatMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (channel_id, ts, author, text, is_dm)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, ts) DO UPDATE SET
			author = excluded.author,
			text = excluded.text,
			is_dm = excluded.is_dm
	`, m.ChannelID, m.TS, m.Author, m.Text, m.IsDM)
	if err != nil {
		return fmt.Errorf("upsert chat message %s:%s: %w", m.ChannelID, m.TS, err)
	}
	return nil
}

// Package store persists index snapshots and the catalog in SQLite.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/index"
	"github.com/haorendashu/catindex/src/logging"
	"github.com/haorendashu/catindex/src/types"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Options configures a Store.
type Options struct {
	// Logger defaults to a stderr logger.
	Logger *log.Logger
}

// Store is the SQLite-backed snapshot and catalog store. Every snapshot save
// replaces the previous one for that index in a single transaction, so a
// crash leaves either the old or the new snapshot.
//
// All methods are safe for concurrent use.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	logger *log.Logger
	isOpen bool
}

// SnapshotInfo describes one saved index snapshot.
type SnapshotInfo struct {
	Name    string
	SavedAt time.Time
	Entries int
}

var _ index.Snapshotter = (*Store)(nil)

// NewStore creates a store instance. It must be opened with Open before use.
func NewStore(opts Options) *Store {
	s := &Store{logger: opts.Logger}
	if s.logger == nil {
		s.logger = logging.Default("store")
	}
	return s
}

// Open is shorthand for NewStore followed by Store.Open.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	s := NewStore(opts)
	if err := s.Open(ctx, path); err != nil {
		return nil, err
	}
	return s, nil
}

// Open connects to the database at path, creating the schema if missing.
// File databases use WAL journaling; MemoryPath gets a fresh shared-cache
// database private to this store.
func (s *Store) Open(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isOpen {
		return errors.NewStoreError("store already open", nil)
	}

	dsn := path
	if path == MemoryPath {
		// A unique name keeps concurrently open memory stores apart while
		// every pooled connection of this one sees the same database.
		dsn = fmt.Sprintf("file:catindex-%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return errors.NewStoreError("open database", err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.NewStoreError("ping database", err)
	}
	if path != MemoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return errors.NewStoreError("enable WAL mode", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return errors.NewStoreError("create tables", err)
	}

	s.db = db
	s.path = path
	s.isOpen = true
	s.logger.Debug("opened store", "path", path)
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	index_name TEXT PRIMARY KEY,
	saved_at   INTEGER NOT NULL,
	entries    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS index_entries (
	index_name TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	category   TEXT NOT NULL,
	side       TEXT NOT NULL,
	key        INTEGER NOT NULL,
	event_id   TEXT NOT NULL,
	PRIMARY KEY (index_name, seq)
);

CREATE TABLE IF NOT EXISTS categories (
	id         TEXT PRIMARY KEY,
	parent_id  TEXT NOT NULL,
	title      TEXT NOT NULL,
	visibility INTEGER NOT NULL,
	position   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	category_id TEXT NOT NULL,
	title       TEXT NOT NULL,
	start_at    TEXT NOT NULL,
	end_at      TEXT NOT NULL,
	visibility  INTEGER NOT NULL,
	position    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_category ON events(category_id, position);
`

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return errors.NewStoreError("store not open", nil)
	}
	s.isOpen = false
	if err := s.db.Close(); err != nil {
		return errors.NewStoreError("close database", err)
	}
	return nil
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// SaveSnapshot atomically replaces the snapshot of the named index.
func (s *Store) SaveSnapshot(ctx context.Context, name string, entries []index.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return errors.ErrStorageNotInitialized
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM index_entries WHERE index_name = ?", name); err != nil {
			return fmt.Errorf("clear entries: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO index_entries (index_name, seq, category, side, key, event_id)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, e := range entries {
			if _, err := stmt.ExecContext(ctx, name, i, e.Category, string(e.Side), e.Key, e.EventID); err != nil {
				return fmt.Errorf("insert entry %d: %w", i, err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (index_name, saved_at, entries) VALUES (?, ?, ?)
			ON CONFLICT(index_name) DO UPDATE SET saved_at = excluded.saved_at, entries = excluded.entries`,
			name, time.Now().UnixMilli(), len(entries))
		return err
	})
	if err != nil {
		return errors.NewStoreError("save snapshot "+name, err)
	}
	s.logger.Debug("saved snapshot", "index", name, "entries", len(entries))
	return nil
}

// LoadSnapshot returns the entries saved for name in their original order.
// found is false when the index was never saved.
func (s *Store) LoadSnapshot(ctx context.Context, name string) ([]index.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isOpen {
		return nil, false, errors.ErrStorageNotInitialized
	}

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT entries FROM snapshots WHERE index_name = ?", name).Scan(&count)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewStoreError("load snapshot "+name, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, side, key, event_id FROM index_entries
		WHERE index_name = ? ORDER BY seq`, name)
	if err != nil {
		return nil, false, errors.NewStoreError("load snapshot "+name, err)
	}
	defer rows.Close()

	entries := make([]index.Entry, 0, count)
	for rows.Next() {
		var (
			e    index.Entry
			side string
		)
		if err := rows.Scan(&e.Category, &side, &e.Key, &e.EventID); err != nil {
			return nil, false, errors.NewStoreError("scan snapshot "+name, err)
		}
		e.Side = index.Side(side)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.NewStoreError("load snapshot "+name, err)
	}
	if len(entries) != count {
		return nil, false, errors.NewErrorWithCause(errors.ErrSnapshotCorrupted.Code(), "load snapshot "+name,
			fmt.Errorf("expected %d entries, found %d", count, len(entries)))
	}
	return entries, true, nil
}

// Snapshots lists the saved snapshots by index name.
func (s *Store) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isOpen {
		return nil, errors.ErrStorageNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, "SELECT index_name, saved_at, entries FROM snapshots ORDER BY index_name")
	if err != nil {
		return nil, errors.NewStoreError("list snapshots", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info  SnapshotInfo
			saved int64
		)
		if err := rows.Scan(&info.Name, &saved, &info.Entries); err != nil {
			return nil, errors.NewStoreError("scan snapshots", err)
		}
		info.SavedAt = time.UnixMilli(saved)
		out = append(out, info)
	}
	return out, rows.Err()
}

// SaveCatalog replaces the stored catalog.
func (s *Store) SaveCatalog(ctx context.Context, cats []types.CategoryRecord, evs []types.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isOpen {
		return errors.ErrStorageNotInitialized
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{"DELETE FROM categories", "DELETE FROM events"} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}

		catStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO categories (id, parent_id, title, visibility, position) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer catStmt.Close()
		for _, c := range cats {
			if _, err := catStmt.ExecContext(ctx, c.ID, c.ParentID, c.Title, c.Visibility, c.Position); err != nil {
				return fmt.Errorf("insert category %s: %w", c.ID, err)
			}
		}

		evStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO events (id, category_id, title, start_at, end_at, visibility, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer evStmt.Close()
		for _, e := range evs {
			if _, err := evStmt.ExecContext(ctx, e.ID, e.CategoryID, e.Title,
				e.Start.Format(time.RFC3339Nano), e.End.Format(time.RFC3339Nano), e.Visibility, e.Position); err != nil {
				return fmt.Errorf("insert event %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewStoreError("save catalog", err)
	}
	s.logger.Debug("saved catalog", "categories", len(cats), "events", len(evs))
	return nil
}

// LoadCatalog returns the stored catalog records. found is false when no
// catalog was ever saved.
func (s *Store) LoadCatalog(ctx context.Context) ([]types.CategoryRecord, []types.EventRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isOpen {
		return nil, nil, false, errors.ErrStorageNotInitialized
	}

	cats, err := s.loadCategories(ctx)
	if err != nil {
		return nil, nil, false, errors.NewStoreError("load categories", err)
	}
	if len(cats) == 0 {
		return nil, nil, false, nil
	}
	evs, err := s.loadEvents(ctx)
	if err != nil {
		return nil, nil, false, errors.NewStoreError("load events", err)
	}
	return cats, evs, true, nil
}

func (s *Store) loadCategories(ctx context.Context) ([]types.CategoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, title, visibility, position FROM categories ORDER BY parent_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CategoryRecord
	for rows.Next() {
		var c types.CategoryRecord
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Title, &c.Visibility, &c.Position); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadEvents(ctx context.Context) ([]types.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, title, start_at, end_at, visibility, position FROM events
		ORDER BY category_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.EventRecord
	for rows.Next() {
		var (
			e          types.EventRecord
			start, end string
		)
		if err := rows.Scan(&e.ID, &e.CategoryID, &e.Title, &start, &end, &e.Visibility, &e.Position); err != nil {
			return nil, err
		}
		if e.Start, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("event %s start: %w", e.ID, err)
		}
		if e.End, err = time.Parse(time.RFC3339Nano, end); err != nil {
			return nil, fmt.Errorf("event %s end: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

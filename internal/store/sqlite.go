package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/prefsd/internal/value"
)

// SQLiteBackend stores one row per key.
type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteBackend opens (and migrates) the database at dbPath. Use ":memory:" for tests.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) Load(ctx context.Context) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rows, err := b.db.QueryContext(ctx, "SELECT key, value, updated_at FROM preferences ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := &Snapshot{Values: make(map[string]value.Value)}
	var latest int64
	for rows.Next() {
		var key, raw string
		var updated int64
		if err := rows.Scan(&key, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		v, err := value.ParseString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode preference %s: %w", key, err)
		}
		snap.Values[key] = v
		latest = max(latest, updated)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	if len(snap.Values) == 0 {
		return nil, nil
	}
	snap.SavedAt = time.Unix(latest, 0).UTC()
	return snap, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM preferences"); err != nil {
		return fmt.Errorf("clear preferences: %w", err)
	}
	ts := snap.SavedAt.Unix()
	for key, v := range snap.Values {
		raw, err := v.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode preference %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)",
			key, string(raw), ts,
		); err != nil {
			return fmt.Errorf("insert preference %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based event store.
// Use ":memory:" for in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, wrap(ErrDatabaseOpenFailed, err)
	}
	// One connection so ":memory:" databases are shared.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, wrap(ErrInitializeSchemaFailed, err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_journal_subject ON journal(subject);
	CREATE INDEX IF NOT EXISTS idx_journal_timestamp ON journal(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a new record to the store.
func (s *SQLiteStore) Append(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON []byte
	if r.Metadata != nil {
		var err error
		if metadataJSON, err = json.Marshal(r.Metadata); err != nil {
			return wrap(ErrEventAppendFailed, err)
		}
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO journal (subject, event_type, timestamp, payload, metadata) VALUES (?, ?, ?, ?, ?)",
		r.Subject, r.Type, at.UnixNano(), []byte(r.Payload), metadataJSON,
	)
	if err != nil {
		return wrap(ErrEventAppendFailed, err)
	}
	return nil
}

// BySubject retrieves the newest records for subject.
func (s *SQLiteStore) BySubject(ctx context.Context, subject string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, event_type, timestamp, payload, metadata FROM (
			SELECT * FROM journal WHERE subject = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`,
		subject, limit,
	)
	if err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Range retrieves records within a time range.
func (s *SQLiteStore) Range(ctx context.Context, start, end time.Time) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, subject, event_type, timestamp, payload, metadata FROM journal WHERE timestamp >= ? AND timestamp <= ? ORDER BY id",
		start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Prune deletes all but the newest keep records.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM journal WHERE id NOT IN (SELECT id FROM journal ORDER BY id DESC LIMIT ?)", keep)
	if err != nil {
		return 0, wrap(ErrEventQueryFailed, err)
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var ts int64
		var payload, metadataJSON []byte
		if err := rows.Scan(&r.ID, &r.Subject, &r.Type, &ts, &payload, &metadataJSON); err != nil {
			return nil, wrap(ErrEventQueryFailed, err)
		}
		r.At = time.Unix(0, ts)
		r.Payload = payload
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
				return nil, wrap(ErrEventQueryFailed, err)
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	return records, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed SessionStore.
//
// It keeps session state in a single-file database so token-bucket levels
// and pending queues survive process restarts. Designed for:
//   - Single-instance deployments that want sessions to outlive a restart
//   - Development against a durable store with zero setup
//
// The store enables WAL mode and a busy timeout, and auto-migrates its
// schema on first use. Queue entries are stored as JSON; timestamps as
// Unix milliseconds.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path.
// Use ":memory:" for an in-memory database in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_sessions (
			conversation_key  TEXT PRIMARY KEY,
			tokens            INTEGER NOT NULL,
			bucket_updated_at INTEGER NOT NULL,
			queue_json        TEXT NOT NULL,
			last_activity     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_last_activity
			ON conversation_sessions(last_activity);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Get returns the session for key, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tokens, bucket_updated_at, queue_json, last_activity
		FROM conversation_sessions WHERE conversation_key = ?`, key)

	var (
		tokens       int
		bucketMillis int64
		queueJSON    string
		lastMillis   int64
	)
	if err := row.Scan(&tokens, &bucketMillis, &queueJSON, &lastMillis); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("failed to load session %s: %w", key, err)
	}

	var queue []Entry
	if err := json.Unmarshal([]byte(queueJSON), &queue); err != nil {
		return Session{}, fmt.Errorf("failed to decode queue for session %s: %w", key, err)
	}

	return Session{
		Key:             key,
		Tokens:          tokens,
		BucketUpdatedAt: time.UnixMilli(bucketMillis),
		Queue:           queue,
		LastActivity:    time.UnixMilli(lastMillis),
	}, nil
}

// Put creates or replaces the session for sess.Key.
func (s *SQLiteStore) Put(ctx context.Context, sess Session) error {
	queue := sess.Queue
	if queue == nil {
		queue = []Entry{}
	}
	queueJSON, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("failed to encode queue for session %s: %w", sess.Key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_sessions
			(conversation_key, tokens, bucket_updated_at, queue_json, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			tokens = excluded.tokens,
			bucket_updated_at = excluded.bucket_updated_at,
			queue_json = excluded.queue_json,
			last_activity = excluded.last_activity`,
		sess.Key, sess.Tokens, sess.BucketUpdatedAt.UnixMilli(),
		string(queueJSON), sess.LastActivity.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.Key, err)
	}
	return nil
}

// Delete removes the session for key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE conversation_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// Sweep removes sessions idle since before cutoff.
func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE last_activity < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

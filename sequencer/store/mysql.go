package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed SessionStore.
//
// Intended for deployments where session state must be shared or must
// survive instance replacement. Note that the sequencer serializes
// read-modify-write sequences per key only within its own process; running
// multiple sequencer instances against one MySQL database additionally
// requires routing each conversation key to a single instance.
//
// Timestamps are stored as Unix milliseconds, queues as JSON.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against the given DSN, e.g.
// "user:pass@tcp(localhost:3306)/convoflow?parseTime=true", and
// auto-migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_sessions (
			conversation_key  VARCHAR(255) PRIMARY KEY,
			tokens            INT NOT NULL,
			bucket_updated_at BIGINT NOT NULL,
			queue_json        MEDIUMTEXT NOT NULL,
			last_activity     BIGINT NOT NULL,
			INDEX idx_sessions_last_activity (last_activity)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	_, err := m.db.ExecContext(ctx, schema)
	return err
}

// Get returns the session for key, or ErrNotFound.
func (m *MySQLStore) Get(ctx context.Context, key string) (Session, error) {
	row := m.db.QueryRowContext(ctx, `
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
func (m *MySQLStore) Put(ctx context.Context, sess Session) error {
	queue := sess.Queue
	if queue == nil {
		queue = []Entry{}
	}
	queueJSON, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("failed to encode queue for session %s: %w", sess.Key, err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO conversation_sessions
			(conversation_key, tokens, bucket_updated_at, queue_json, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			tokens = VALUES(tokens),
			bucket_updated_at = VALUES(bucket_updated_at),
			queue_json = VALUES(queue_json),
			last_activity = VALUES(last_activity)`,
		sess.Key, sess.Tokens, sess.BucketUpdatedAt.UnixMilli(),
		string(queueJSON), sess.LastActivity.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.Key, err)
	}
	return nil
}

// Delete removes the session for key.
func (m *MySQLStore) Delete(ctx context.Context, key string) error {
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE conversation_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// Sweep removes sessions idle since before cutoff.
func (m *MySQLStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := m.db.ExecContext(ctx,
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

// Close closes the connection pool.
func (m *MySQLStore) Close() error {
	return m.db.Close()
}

// Ping verifies the database connection.
func (m *MySQLStore) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Stats exposes connection pool statistics for monitoring.
func (m *MySQLStore) Stats() sql.DBStats {
	return m.db.Stats()
}

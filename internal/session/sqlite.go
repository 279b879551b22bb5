package session

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at DATETIME,
	updated_at DATETIME NOT NULL
);`

// SQLiteStore keeps values in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore opens path and creates the table if needed.
func NewSQLiteStore(ctx context.Context, path string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, eris.Wrap(err, "session: open sqlite")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "session: migrate sqlite")
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM session_kv WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "session: sqlite get %s", key)
	}
	if expires.Valid && !s.now().UTC().Before(expires.Time) {
		_ = s.Delete(ctx, key)
		return nil, nil
	}
	return value, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, value []byte) error {
	now := s.now().UTC()
	var expires any
	if s.ttl > 0 {
		expires = now.Add(s.ttl)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_kv (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		key, value, expires, now,
	)
	return eris.Wrapf(err, "session: sqlite set %s", key)
}

func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_kv WHERE key IN (`+placeholders+`)`, args...)
	return eris.Wrap(err, "session: sqlite delete")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

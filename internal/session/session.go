// Package session persists per-user dashboard state so that it survives a
// restart. It is a restore cache, not the system of record.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/config"
)

// Names of the two values kept per user.
const (
	NameJob   = "job"
	NameLeads = "leads"
)

// Store is a byte-valued key/value store. Load returns nil, nil for a
// missing or expired key.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Key builds the storage key for one of a user's values.
func Key(prefix, userID, name string) string {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "prospect"
	}
	return prefix + ":" + userID + ":" + name
}

// Open creates the Store selected by cfg.Session.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	ttl := time.Duration(cfg.Session.TTLHours) * time.Hour
	switch strings.ToLower(cfg.Session.Backend) {
	case "", "memory":
		return NewMemoryStore(ttl), nil
	case "redis":
		s, err := NewRedisStore(ctx, cfg.Redis, ttl)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStore(ctx, cfg.Session.SQLitePath, ttl)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("session: unknown backend %q", cfg.Session.Backend)
	}
}

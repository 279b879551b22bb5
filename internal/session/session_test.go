package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/config"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "prospect:u1:job", Key("prospect", "u1", NameJob))
	assert.Equal(t, "app:u1:leads", Key("app:", "u1", NameLeads))
	assert.Equal(t, "prospect:u1:job", Key("  ", "u1", NameJob))
}

// storeContract checks behavior shared by every backend.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Save(ctx, "k1", []byte(`{"id":"job-1"}`)))
	require.NoError(t, s.Save(ctx, "k2", []byte(`[]`)))
	got, err = s.Load(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"job-1"}`, string(got))

	require.NoError(t, s.Save(ctx, "k1", []byte(`{"id":"job-2"}`)))
	got, err = s.Load(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"job-2"}`, string(got), "last write wins")

	require.NoError(t, s.Delete(ctx, "k1", "k2", "never-set"))
	got, err = s.Load(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.Load(ctx, "k2")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Delete(ctx))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(0)
	storeContract(t, s)
	assert.NoError(t, s.Close())
}

func TestMemoryStore_TTL(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "k", []byte("v")))
	now = now.Add(59 * time.Minute)
	got, _ := s.Load(ctx, "k")
	assert.Equal(t, "v", string(got))

	now = now.Add(2 * time.Minute)
	got, _ = s.Load(ctx, "k")
	assert.Nil(t, got)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	v := []byte("abc")
	require.NoError(t, s.Save(ctx, "k", v))
	v[0] = 'z'
	got, _ := s.Load(ctx, "k")
	assert.Equal(t, "abc", string(got))
}

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := NewRedisStore(context.Background(), config.RedisConfig{Addr: mr.Addr()}, ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s, mr
}

func TestRedisStore(t *testing.T) {
	s, _ := newTestRedisStore(t, 0)
	storeContract(t, s)
}

func TestRedisStore_TTL(t *testing.T) {
	s, mr := newTestRedisStore(t, 2*time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "prospect:u:job", []byte("v")))
	assert.Equal(t, 2*time.Hour, mr.TTL("prospect:u:job"))

	mr.FastForward(3 * time.Hour)
	got, err := s.Load(ctx, "prospect:u:job")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(context.Background(), config.RedisConfig{Addr: addr}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

func newTestSQLiteStore(t *testing.T, ttl time.Duration) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "sessions.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, newTestSQLiteStore(t, 0))
}

func TestSQLiteStore_TTL(t *testing.T) {
	s := newTestSQLiteStore(t, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "k", []byte("v")))
	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	now = now.Add(90 * time.Minute)
	got, err = s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, &config.Config{Session: config.SessionConfig{Backend: "memory"}})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, &config.Config{Session: config.SessionConfig{
		Backend:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "s.db"),
	}})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	s, err = Open(ctx, &config.Config{
		Session: config.SessionConfig{Backend: "Redis"},
		Redis:   config.RedisConfig{Addr: mr.Addr()},
	})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, &config.Config{Session: config.SessionConfig{Backend: "etcd"}})
	assert.Error(t, err)
}

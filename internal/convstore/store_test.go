package convstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Set(ctx, "c1"))
	got, err = s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", got)

	require.NoError(t, s.Set(ctx, "c2"))
	got, _ = s.Get(ctx)
	assert.Equal(t, "c2", got)

	require.NoError(t, s.Clear(ctx))
	got, err = s.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Clear(ctx), "clearing twice is fine")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "https://support.example.com")
	exerciseStore(t, s)

	assert.Equal(t, dir, filepath.Dir(s.Path()))
}

func TestFileStore_ScopedByServer(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	a := NewFileStore(dir, "https://a.example.com")
	b := NewFileStore(dir, "https://b.example.com/")

	require.NoError(t, a.Set(ctx, "c1"))
	got, err := b.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	same := NewFileStore(dir, "https://a.example.com/")
	got, _ = same.Get(ctx)
	assert.Equal(t, "c1", got)
}

func TestFileStore_CorruptFileReadsEmpty(t *testing.T) {
	s := NewFileStore(t.TempDir(), "https://support.example.com")
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "")
	require.NoError(t, s.Set(context.Background(), "c1"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "support_active-conversation.json", entries[0].Name())
}

func TestFileStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewFileStore(t.TempDir(), "")
	assert.Error(t, s.Set(ctx, "c1"))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, "https://support.example.com", 0)
	exerciseStore(t, s)
}

func TestRedisStore_TTLAndSharedKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	s := NewRedisStore(client, "https://support.example.com", time.Hour)
	require.NoError(t, s.Set(ctx, "c9"))

	key := scopedKey("https://support.example.com")
	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "c9", val)
	assert.Equal(t, time.Hour, mr.TTL(key))

	other := NewRedisStore(client, "https://support.example.com/", 0)
	got, err := other.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c9", got, "a second terminal sees the same value")

	mr.FastForward(2 * time.Hour)
	got, _ = s.Get(ctx)
	assert.Empty(t, got)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	_ = client.Close()

	mr.Close()
	_, err = DialRedis(context.Background(), mr.Addr(), "", 0)
	assert.Error(t, err)
}

func TestScopedKey(t *testing.T) {
	assert.Equal(t, Key, scopedKey(""))
	assert.Equal(t, scopedKey("https://x.example.com"), scopedKey("https://x.example.com/"))
	assert.NotEqual(t, scopedKey("https://x.example.com"), scopedKey("https://y.example.com"))
}

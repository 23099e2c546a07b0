package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(maxEntries int, ttl time.Duration) *Manager {
	return New(Config{MaxEntries: maxEntries, TTL: ttl}, zap.NewNop())
}

func TestZeroConfigGetsDefaults(t *testing.T) {
	m := New(Config{}, zap.NewNop())
	defer m.Stop()

	m.Set("SELECT * FROM users", nil, "result")
	got, ok := m.Get("SELECT * FROM users", nil)
	require.True(t, ok, "entries outlive insertion under the default TTL")
	assert.Equal(t, "result", got)
}

func TestGetSetRoundTrip(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Stop()

	sql := "SELECT * FROM users WHERE id = ?"
	params := []any{42}

	_, ok := m.Get(sql, params)
	assert.False(t, ok)

	m.Set(sql, params, "result")

	got, ok := m.Get(sql, params)
	require.True(t, ok)
	assert.Equal(t, "result", got)

	// different params are a different entry
	_, ok = m.Get(sql, []any{43})
	assert.False(t, ok)
}

func TestEquivalentStatementsShareEntry(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Stop()

	m.Set("SELECT * FROM users WHERE id = ?", []any{1}, "row")

	got, ok := m.Get("select  *  from users\nWHERE id = ?", []any{1})
	require.True(t, ok)
	assert.Equal(t, "row", got)
}

func TestTTLExpiry(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Stop()

	base := time.Now()
	m.now = func() time.Time { return base }

	m.Set("SELECT 1", nil, "one")

	m.now = func() time.Time { return base.Add(59 * time.Second) }
	_, ok := m.Get("SELECT 1", nil)
	assert.True(t, ok)

	m.now = func() time.Time { return base.Add(61 * time.Second) }
	_, ok = m.Get("SELECT 1", nil)
	assert.False(t, ok, "entry past its TTL must be a miss")

	// the lazy purge removed it
	assert.Equal(t, 0, m.Stats(0).Entries)
}

func TestLRUEvictionExactness(t *testing.T) {
	m := newTestManager(3, time.Minute)
	defer m.Stop()

	for i := 0; i < 3; i++ {
		m.Set(fmt.Sprintf("SELECT %d", i), nil, i)
	}

	// touch 0 so 1 becomes least recently used
	_, ok := m.Get("SELECT 0", nil)
	require.True(t, ok)

	m.Set("SELECT 3", nil, 3)

	_, ok = m.Get("SELECT 1", nil)
	assert.False(t, ok, "least recently used entry must be evicted")
	for _, sql := range []string{"SELECT 0", "SELECT 2", "SELECT 3"} {
		_, ok = m.Get(sql, nil)
		assert.True(t, ok, "%s should survive eviction", sql)
	}
	assert.Equal(t, 3, m.Stats(0).Entries)
}

func TestInvalidatePattern(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Stop()

	m.Set("SELECT * FROM users WHERE id = 1", nil, "a")
	m.Set("SELECT * FROM users WHERE id = 2", nil, "b")
	m.Set("SELECT * FROM orders", nil, "c")

	removed := m.Invalidate("*users*")
	assert.Equal(t, 2, removed)

	_, ok := m.Get("SELECT * FROM orders", nil)
	assert.True(t, ok)
}

func TestInvalidateSubstring(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Stop()

	m.Set("SELECT * FROM users", nil, "a")
	m.Set("SELECT * FROM orders", nil, "b")

	// a pattern without glob metacharacters matches as substring
	assert.Equal(t, 1, m.Invalidate("orders"))
	assert.Equal(t, 1, m.Stats(0).Entries)
}

func TestInvalidateTable(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Stop()

	m.Set("SELECT * FROM users WHERE active = 1", nil, "a")
	m.Set("SELECT u.id FROM users u JOIN orders o ON u.id = o.user_id", nil, "b")
	m.Set("SELECT * FROM products", nil, "c")

	removed := m.InvalidateTable("users")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, m.Stats(0).Entries)
}

func TestClear(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Stop()

	m.Set("SELECT 1", nil, 1)
	m.Set("SELECT 2", nil, 2)
	m.Clear()
	assert.Equal(t, 0, m.Stats(0).Entries)
}

func TestStats(t *testing.T) {
	m := newTestManager(10, time.Minute)
	defer m.Stop()

	m.Set("SELECT 1", nil, 1)
	m.Get("SELECT 1", nil) // hit
	m.Get("SELECT 1", nil) // hit
	m.Get("SELECT 2", nil) // miss

	s := m.Stats(5)
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
	assert.Greater(t, s.MemoryBytes, int64(0))
	require.Len(t, s.TopQueries, 1)
	assert.Equal(t, uint64(2), s.TopQueries[0].Hits)
}

func TestKeyStability(t *testing.T) {
	k1 := Key("SELECT * FROM t WHERE a = ?", []any{1, "x"})
	k2 := Key("select * from t where a = ?", []any{1, "x"})
	k3 := Key("select * from t where a = ?", []any{2, "x"})
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

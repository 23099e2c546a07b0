// Package cache memoizes query results keyed by normalized SQL plus
// serialized parameters, with TTL expiry, LRU eviction under capacity
// pressure, and pattern-based invalidation.
package cache

import (
	"container/list"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/voca9204/db3-sub000/pkg/sqlparse"
)

// Config tunes the cache.
type Config struct {
	MaxEntries    int
	TTL           time.Duration
	SweepInterval time.Duration // 0 disables the background sweep
}

// Manager is the query-result cache.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used

	maxEntries int
	ttl        time.Duration

	hits   uint64
	misses uint64

	stopOnce sync.Once
	stopCh   chan struct{}

	logger *zap.Logger
	now    func() time.Time // override in tests
}

type entry struct {
	key        string
	sql        string // normalized statement, matched by Invalidate
	data       any
	createdAt  time.Time
	expiresAt  time.Time
	lastAccess time.Time
	hitCount   uint64
	sizeBytes  int64
}

// New creates a cache and starts its background sweep when configured.
func New(cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	m := &Manager{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		stopCh:     make(chan struct{}),
		logger:     logger,
		now:        time.Now,
	}
	if cfg.SweepInterval > 0 {
		go m.sweepLoop(cfg.SweepInterval)
	}
	return m
}

// Key builds the cache key for a statement and its parameters.
func Key(sql string, params []any) string {
	normalized := sqlparse.Normalize(sql)
	if len(params) == 0 {
		return normalized
	}
	serialized, err := json.Marshal(params)
	if err != nil {
		// unmarshalable params still need a stable key
		serialized = []byte(strings.Join(stringify(params), ","))
	}
	return normalized + "|" + string(serialized)
}

func stringify(params []any) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = strings.TrimSpace(strings.ToLower(strings.ReplaceAll(
			strings.ReplaceAll(jsonish(p), "\n", " "), "\r", " ")))
	}
	return out
}

func jsonish(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(b)
}

// Get returns the cached result for a statement, or a miss when absent or
// expired. Expired entries are purged on access. A hit refreshes the entry's
// LRU position and hit counter.
func (m *Manager) Get(sql string, params []any) (any, bool) {
	key := Key(sql, params)

	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false
	}

	e := el.Value.(*entry)
	if m.now().After(e.expiresAt) {
		m.removeLocked(el)
		m.misses++
		return nil, false
	}

	e.lastAccess = m.now()
	e.hitCount++
	m.lru.MoveToFront(el)
	m.hits++
	return e.data, true
}

// Set stores a result. At capacity the least-recently-used entry is evicted
// first.
func (m *Manager) Set(sql string, params []any, data any) {
	key := Key(sql, params)
	now := m.now()
	e := &entry{
		key:        key,
		sql:        sqlparse.Normalize(sql),
		data:       data,
		createdAt:  now,
		expiresAt:  now.Add(m.ttl),
		lastAccess: now,
		sizeBytes:  estimateSize(key, data),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		el.Value = e
		m.lru.MoveToFront(el)
		return
	}

	if m.lru.Len() >= m.maxEntries {
		if oldest := m.lru.Back(); oldest != nil {
			m.removeLocked(oldest)
		}
	}
	m.entries[key] = m.lru.PushFront(e)
}

// Invalidate removes entries whose normalized SQL matches the pattern.
// Patterns containing * or ? are treated as globs; anything else matches as
// a substring. Returns the number of entries removed.
func (m *Manager) Invalidate(pattern string) int {
	match := matcherFor(pattern)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for el := m.lru.Front(); el != nil; {
		next := el.Next()
		if match(el.Value.(*entry).sql) {
			m.removeLocked(el)
			removed++
		}
		el = next
	}
	if removed > 0 && m.logger != nil {
		m.logger.Debug("cache invalidated",
			zap.String("pattern", pattern),
			zap.Int("removed", removed))
	}
	return removed
}

// InvalidateTable removes every entry that mentions the table.
func (m *Manager) InvalidateTable(table string) int {
	return m.Invalidate("*" + strings.ToLower(table) + "*")
}

func matcherFor(pattern string) func(string) bool {
	lowered := strings.ToLower(pattern)
	if strings.ContainsAny(lowered, "*?") {
		g, err := glob.Compile(lowered)
		if err == nil {
			return func(sql string) bool { return g.Match(sql) }
		}
		// fall through to substring on a malformed glob
	}
	return func(sql string) bool { return strings.Contains(sql, lowered) }
}

// Clear drops every entry.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.lru.Init()
}

// QueryHits is one row of the top-queries report.
type QueryHits struct {
	SQL  string `json:"sql"`
	Hits uint64 `json:"hits"`
}

// Stats is a point-in-time cache summary.
type Stats struct {
	Entries     int         `json:"entries"`
	Hits        uint64      `json:"hits"`
	Misses      uint64      `json:"misses"`
	HitRate     float64     `json:"hit_rate"`
	MemoryBytes int64       `json:"memory_bytes"`
	TopQueries  []QueryHits `json:"top_queries"`
}

// Stats reports hit rate, estimated footprint, and the top-N most-hit
// queries.
func (m *Manager) Stats(topN int) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Entries: m.lru.Len(), Hits: m.hits, Misses: m.misses}
	if total := m.hits + m.misses; total > 0 {
		s.HitRate = float64(m.hits) / float64(total)
	}

	all := make([]QueryHits, 0, m.lru.Len())
	for el := m.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		s.MemoryBytes += e.sizeBytes
		all = append(all, QueryHits{SQL: e.sql, Hits: e.hitCount})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Hits > all[j].Hits })
	if topN > 0 && len(all) > topN {
		all = all[:topN]
	}
	s.TopQueries = all
	return s
}

// Stop halts the background sweep.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep removes entries that are already logically expired; it never touches
// live entries, so it cannot race observably with Get.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for el := m.lru.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*entry).expiresAt) {
			m.removeLocked(el)
		}
		el = next
	}
}

func (m *Manager) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(m.entries, e.key)
	m.lru.Remove(el)
}

// estimateSize approximates an entry's memory footprint. JSON length is a
// rough proxy; unmarshalable payloads fall back to a flat constant.
func estimateSize(key string, data any) int64 {
	size := int64(len(key))
	if b, err := json.Marshal(data); err == nil {
		size += int64(len(b))
	} else {
		size += 512
	}
	return size
}

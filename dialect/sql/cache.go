package sql

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"
)

// StatementCache memoises rendered statement text by statement shape: the
// dialect, table, columns, row count and clauses. Arguments are never cached.
// It is safe for concurrent use.
type StatementCache struct {
	cache  *lru.Cache[uint64, string]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewStatementCache returns a cache holding at most size statements.
func NewStatementCache(size int) (*StatementCache, error) {
	cache, err := lru.New[uint64, string](size)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: statement cache: %w", err)
	}
	return &StatementCache{cache: cache}, nil
}

// Key hashes the shape parts into a cache key.
func (c *StatementCache) Key(parts ...any) uint64 {
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprint(&b, p)
		b.WriteByte(0)
	}
	return xxhash.Sum64([]byte(b.String()))
}

// Get returns the cached text for key.
func (c *StatementCache) Get(key uint64) (string, bool) {
	q, ok := c.cache.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return q, ok
}

// Add stores the text for key, evicting the least recently used entry when full.
func (c *StatementCache) Add(key uint64, query string) {
	c.cache.Add(key, query)
}

// Len returns the number of cached statements.
func (c *StatementCache) Len() int { return c.cache.Len() }

// Stats returns the hit and miss counters.
func (c *StatementCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge empties the cache.
func (c *StatementCache) Purge() { c.cache.Purge() }

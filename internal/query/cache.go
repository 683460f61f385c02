// Package query compiles, caches and evaluates tree-sitter queries.
package query

import (
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/prune/internal/lang"
)

// CompileError reports a query string that is not a valid pattern for the
// language it was compiled against.
type CompileError struct {
	Language string
	Query    string
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compiling %s query %q: %v", e.Language, e.Query, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

type cacheKey struct {
	lang string
	text string
}

// Cache memoizes compiled queries by language and query text. Entries are
// never evicted. A Cache is safe for concurrent use; compiled queries are
// safe to share across goroutines as long as each uses its own cursor.
type Cache struct {
	mu       sync.RWMutex
	compiled map[cacheKey]*sitter.Query
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{compiled: make(map[cacheKey]*sitter.Query)}
}

// Get returns the compiled form of text for l, compiling it on first use.
// Failed compilations are not cached.
func (c *Cache) Get(l *lang.Language, text string) (*sitter.Query, error) {
	key := cacheKey{lang: l.Name, text: text}

	c.mu.RLock()
	q, ok := c.compiled[key]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another worker may have compiled it while we waited.
	if q, ok := c.compiled[key]; ok {
		return q, nil
	}

	q, err := sitter.NewQuery([]byte(text), l.GetLanguage())
	if err != nil {
		return nil, &CompileError{Language: l.Name, Query: text, Err: err}
	}
	c.compiled[key] = q
	return q, nil
}

// Contains reports whether text has already been compiled for l.
func (c *Cache) Contains(l *lang.Language, text string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.compiled[cacheKey{lang: l.Name, text: text}]
	return ok
}

// Len returns the number of compiled queries held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}

// Close releases every compiled query. The cache must not be used afterwards.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, q := range c.compiled {
		q.Close()
		delete(c.compiled, k)
	}
}

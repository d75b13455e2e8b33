package memory

import (
	"context"
	"sync"
	"time"
)

const (
	defaultProjectCacheCapacity = 10
	defaultProjectCacheTTL      = 60 * time.Second
)

type projectCacheEntry struct {
	vectors   map[string]EmbeddingEntry
	expiresAt time.Time
}

// EmbeddingCache is a one-global-plus-LRU-per-project cache of vector
// maps in front of the store, per §4.E. Misses reload from the store;
// writers must call Invalidate after every write.
type EmbeddingCache struct {
	store *Store

	mu       sync.Mutex
	global   map[string]EmbeddingEntry
	projects map[string]*projectCacheEntry
	order    []string // most-recently-used project paths, back = most recent

	capacity int
	ttl      time.Duration
}

// NewEmbeddingCache builds a cache in front of store with the default
// capacity (10 projects) and TTL (60s) from §4.E.
func NewEmbeddingCache(store *Store) *EmbeddingCache {
	return &EmbeddingCache{
		store:    store,
		projects: make(map[string]*projectCacheEntry),
		capacity: defaultProjectCacheCapacity,
		ttl:      defaultProjectCacheTTL,
	}
}

func (c *EmbeddingCache) globalMap(ctx context.Context) (map[string]EmbeddingEntry, error) {
	c.mu.Lock()
	if c.global != nil {
		g := c.global
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	entries, err := c.store.ListEmbeddings(ctx, ScopeGlobal, "")
	if err != nil {
		return nil, err
	}
	m := toMap(entries)

	c.mu.Lock()
	c.global = m
	c.mu.Unlock()
	return m, nil
}

func (c *EmbeddingCache) project(ctx context.Context, projectPath string) (map[string]EmbeddingEntry, error) {
	c.mu.Lock()
	if e, ok := c.projects[projectPath]; ok && time.Now().Before(e.expiresAt) {
		c.touch(projectPath)
		vecs := e.vectors
		c.mu.Unlock()
		return vecs, nil
	}
	c.mu.Unlock()

	entries, err := c.store.ListEmbeddings(ctx, ScopeProject, projectPath)
	if err != nil {
		return nil, err
	}
	m := toMap(entries)

	c.mu.Lock()
	c.setProject(projectPath, m)
	c.mu.Unlock()
	return m, nil
}

func toMap(entries []EmbeddingEntry) map[string]EmbeddingEntry {
	m := make(map[string]EmbeddingEntry, len(entries))
	for _, e := range entries {
		m[e.ID] = e
	}
	return m
}

// setProject must be called with c.mu held.
func (c *EmbeddingCache) setProject(path string, vecs map[string]EmbeddingEntry) {
	c.projects[path] = &projectCacheEntry{vectors: vecs, expiresAt: time.Now().Add(c.ttl)}
	c.touch(path)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.projects, oldest)
	}
}

// touch must be called with c.mu held.
func (c *EmbeddingCache) touch(path string) {
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, path)
}

// Invalidate drops the cached namespace id lives in, to be called after
// any write to the store that touches it (insert, update, or delete).
// It drops the whole namespace rather than just id's entry: a delete of
// a key that was never cached (the common case for a brand-new record)
// would otherwise be a no-op, leaving the new record invisible to
// Recall/RecallLexical until an unrelated cache reset happened to occur.
// Dropping the namespace forces the next access to reload from the
// store, which always reflects the write.
func (c *EmbeddingCache) Invalidate(id string, scope Scope, projectPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scope == ScopeGlobal {
		c.global = nil
		return
	}
	delete(c.projects, projectPath)
	for i, p := range c.order {
		if p == projectPath {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Reset drops every cached entry, for test isolation.
func (c *EmbeddingCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = nil
	c.projects = make(map[string]*projectCacheEntry)
	c.order = nil
}

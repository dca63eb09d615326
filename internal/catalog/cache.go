// Package catalog serves the listing category taxonomy and keeps a derived
// tree of it in memory.
package catalog

import (
	"context"
	"sync"

	"github.com/saltyorg/quicksell/internal/database"
)

// Tree maps a category name to its subcategories. Leaves map to an empty tree.
type Tree map[string]Tree

// BuildFunc computes the tree from the store.
type BuildFunc func(ctx context.Context, s *database.Session) (Tree, error)

// TreeCache holds the last computed tree until it is invalidated.
type TreeCache struct {
	mu         sync.RWMutex
	tree       Tree
	valid      bool
	generation uint64
	build      BuildFunc
}

// NewTreeCache creates an empty cache that computes trees with build.
func NewTreeCache(build BuildFunc) *TreeCache {
	return &TreeCache{build: build}
}

// Get returns the cached tree, computing it with s when the cache is empty.
// The returned tree is shared and must not be modified.
func (c *TreeCache) Get(ctx context.Context, s *database.Session) (Tree, error) {
	c.mu.RLock()
	if c.valid {
		tree := c.tree
		c.mu.RUnlock()
		return tree, nil
	}
	gen := c.generation
	c.mu.RUnlock()

	tree, err := c.build(ctx, s)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// An invalidation during the build makes this result stale.
	if c.generation == gen {
		c.tree = tree
		c.valid = true
	}
	c.mu.Unlock()
	return tree, nil
}

// Invalidate drops the cached tree.
func (c *TreeCache) Invalidate() {
	c.mu.Lock()
	c.tree = nil
	c.valid = false
	c.generation++
	c.mu.Unlock()
}

// Cached reports whether a tree is currently held.
func (c *TreeCache) Cached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valid
}

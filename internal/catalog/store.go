package catalog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
	"github.com/saltyorg/quicksell/internal/models"
)

// touchKey marks sessions holding uncommitted category changes.
const touchKey = "catalog.categories"

// Store wraps category persistence so that every committed mutation clears
// the tree cache.
type Store struct {
	categories *entity.Model[models.Category]
	cache      *TreeCache
}

// NewStore creates a store over the category model.
func NewStore(categories *entity.Model[models.Category]) *Store {
	st := &Store{categories: categories}
	st.cache = NewTreeCache(st.build)
	return st
}

// Cache returns the tree cache.
func (st *Store) Cache() *TreeCache {
	return st.cache
}

// Tree returns the category tree. A session that changed categories gets a
// tree of its own view and leaves the shared cache alone.
func (st *Store) Tree(ctx context.Context, s *database.Session) (Tree, error) {
	if s.Touched(touchKey) {
		return st.build(ctx, s)
	}
	return st.cache.Get(ctx, s)
}

// Insert stores a category.
func (st *Store) Insert(ctx context.Context, s *database.Session, c *models.Category) error {
	s.Touch(touchKey)
	if err := st.categories.Insert(ctx, s, c); err != nil {
		return err
	}
	s.AfterCommit(st.cache.Invalidate)
	return nil
}

// Update writes fields of a category.
func (st *Store) Update(ctx context.Context, s *database.Session, c *models.Category, fields entity.Fields) error {
	s.Touch(touchKey)
	if err := st.categories.Update(ctx, s, c, fields); err != nil {
		return err
	}
	s.AfterCommit(st.cache.Invalidate)
	return nil
}

// Delete queues the removal of a category.
func (st *Store) Delete(ctx context.Context, s *database.Session, c *models.Category) error {
	s.Touch(touchKey)
	if err := st.categories.Delete(ctx, s, c); err != nil {
		return err
	}
	s.AfterCommit(st.cache.Invalidate)
	return nil
}

// ByName returns the category with the given name, or nil.
func (st *Store) ByName(ctx context.Context, s *database.Session, name string) (*models.Category, error) {
	return st.categories.FetchOne(ctx, s, entity.Eq("name", name))
}

// Seed inserts the taxonomy when no category exists yet. It reports whether
// anything was inserted.
func (st *Store) Seed(ctx context.Context, s *database.Session, taxonomy []Node) (bool, error) {
	n, err := st.categories.Count(ctx, s)
	if err != nil {
		return false, err
	}
	if n > 0 {
		log.Debug().Int64("count", n).Msg("Categories present, skipping seed")
		return false, nil
	}

	inserted := 0
	var insert func(nodes []Node, parent *int64) error
	insert = func(nodes []Node, parent *int64) error {
		for _, node := range nodes {
			c := &models.Category{Name: node.Name, ParentID: parent, Assignable: len(node.Children) == 0}
			if err := st.Insert(ctx, s, c); err != nil {
				return fmt.Errorf("failed to seed category %q: %w", node.Name, err)
			}
			inserted++
			id := c.ID
			if err := insert(node.Children, &id); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert(taxonomy, nil); err != nil {
		return false, err
	}

	log.Info().Int("count", inserted).Msg("Seeded categories")
	return inserted > 0, nil
}

func (st *Store) build(ctx context.Context, s *database.Session) (Tree, error) {
	all, err := st.categories.FetchList(ctx, s)
	if err != nil {
		return nil, err
	}

	children := make(map[int64][]*models.Category)
	known := make(map[int64]bool, len(all))
	for _, c := range all {
		known[c.ID] = true
	}
	var roots []*models.Category
	for _, c := range all {
		if c.ParentID == nil || !known[*c.ParentID] {
			roots = append(roots, c)
			continue
		}
		children[*c.ParentID] = append(children[*c.ParentID], c)
	}

	var nest func(cs []*models.Category) Tree
	nest = func(cs []*models.Category) Tree {
		t := make(Tree, len(cs))
		for _, c := range cs {
			t[c.Name] = nest(children[c.ID])
		}
		return t
	}
	return nest(roots), nil
}

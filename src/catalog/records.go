package catalog

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/types"
)

// Export flattens the catalog, root included, parents before children.
func (c *Catalog) Export() ([]types.CategoryRecord, []types.EventRecord) {
	var (
		cats []types.CategoryRecord
		evs  []types.EventRecord
	)
	stack := []*types.Category{c.root}
	for len(stack) > 0 {
		cat := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rec := types.CategoryRecord{ID: cat.ID, Title: cat.Title, Visibility: cat.Visibility}
		if cat.Parent != nil {
			rec.ParentID = cat.Parent.ID
			rec.Position = slices.Index(cat.Parent.SubCategories, cat)
		}
		cats = append(cats, rec)

		for i, ev := range cat.Events {
			evs = append(evs, types.EventRecord{
				ID:         ev.ID,
				CategoryID: cat.ID,
				Title:      ev.Title,
				Start:      ev.Start,
				End:        ev.End,
				Visibility: c.events[ev.ID].visibility,
				Position:   i,
			})
		}
		for i := len(cat.SubCategories) - 1; i >= 0; i-- {
			stack = append(stack, cat.SubCategories[i])
		}
	}
	return cats, evs
}

// FromRecords rebuilds a catalog from Export output without calling the
// indexer, since the indexes are expected to be restored from their own
// snapshots. Records may come in any order.
func FromRecords(cats []types.CategoryRecord, evs []types.EventRecord, indexer Indexer, logger *log.Logger) (*Catalog, error) {
	c := New(nil, logger)

	byID := make(map[string]types.CategoryRecord, len(cats))
	for _, rec := range cats {
		if rec.ID == types.RootCategoryID {
			c.root.Title = rec.Title
			c.root.Visibility = rec.Visibility
			continue
		}
		if _, dup := byID[rec.ID]; dup || rec.ID == "" {
			return nil, corrupt("duplicate or empty category id %q", rec.ID)
		}
		byID[rec.ID] = rec
		c.categories[rec.ID] = &types.Category{ID: rec.ID, Title: rec.Title, Visibility: rec.Visibility}
	}

	ordered := make([]types.CategoryRecord, 0, len(byID))
	for _, rec := range byID {
		ordered = append(ordered, rec)
	}
	slices.SortFunc(ordered, func(a, b types.CategoryRecord) int {
		return cmp.Or(cmp.Compare(a.ParentID, b.ParentID), cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	for _, rec := range ordered {
		parent, ok := c.categories[cmp.Or(rec.ParentID, types.RootCategoryID)]
		if !ok {
			return nil, corrupt("category %s has unknown parent %s", rec.ID, rec.ParentID)
		}
		cat := c.categories[rec.ID]
		cat.Parent = parent
		parent.SubCategories = append(parent.SubCategories, cat)
	}

	// Records linked into a cycle are never reached from the root.
	reached := 0
	types.WalkPostOrder(c.root, func(*types.Category) bool {
		reached++
		return true
	})
	if reached != len(c.categories) {
		return nil, errors.NewErrorWithCause(errors.ErrCategoryCycle.Code(), "restore catalog",
			fmt.Errorf("%d categories are not reachable from the root", len(c.categories)-reached))
	}

	sortedEvents := slices.Clone(evs)
	slices.SortFunc(sortedEvents, func(a, b types.EventRecord) int {
		return cmp.Or(cmp.Compare(a.CategoryID, b.CategoryID), cmp.Compare(a.Position, b.Position), cmp.Compare(a.ID, b.ID))
	})
	for _, rec := range sortedEvents {
		if _, err := c.AddEvent(rec); err != nil {
			return nil, fmt.Errorf("restore event %s: %w", rec.ID, err)
		}
	}

	c.SetIndexer(indexer)
	return c, nil
}

func corrupt(format string, args ...any) error {
	return errors.NewErrorWithCause("ErrCatalogCorrupted", "restore catalog", fmt.Errorf(format, args...))
}

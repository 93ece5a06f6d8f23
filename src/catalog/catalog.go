// Package catalog owns the category tree and its events, and keeps the
// indexes in step with every change through an Indexer.
package catalog

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/logging"
	"github.com/haorendashu/catindex/src/types"
)

// Indexer receives the lifecycle hooks of catalog mutations. Unindex calls
// always run before the change and index calls after it, so an Indexer sees
// the old dates, path and visibility on removal. *index.Registry implements it.
type Indexer interface {
	IndexConf(ev *types.Event)
	UnindexConf(ev *types.Event)
	IndexCateg(root *types.Category)
	UnindexCateg(root *types.Category)
}

type nopIndexer struct{}

func (nopIndexer) IndexConf(*types.Event)       {}
func (nopIndexer) UnindexConf(*types.Event)     {}
func (nopIndexer) IndexCateg(*types.Category)   {}
func (nopIndexer) UnindexCateg(*types.Category) {}

type eventState struct {
	ev         *types.Event
	category   *types.Category
	visibility int
}

// Catalog is the authoritative store of categories and events. It is not
// safe for concurrent mutation.
type Catalog struct {
	root       *types.Category
	categories map[string]*types.Category
	events     map[string]*eventState
	indexer    Indexer
	logger     *log.Logger
}

// New creates a catalog holding only the root category. A nil indexer
// disables the hooks.
func New(indexer Indexer, logger *log.Logger) *Catalog {
	root := types.NewCategory(types.RootCategoryID, "Home")
	c := &Catalog{
		root:       root,
		categories: map[string]*types.Category{root.ID: root},
		events:     make(map[string]*eventState),
		logger:     logger,
	}
	if c.logger == nil {
		c.logger = logging.Default("catalog")
	}
	c.SetIndexer(indexer)
	return c
}

// SetIndexer replaces the hook receiver. Used after a bulk load, when the
// indexes are built in one pass instead of event by event.
func (c *Catalog) SetIndexer(indexer Indexer) {
	if indexer == nil {
		indexer = nopIndexer{}
	}
	c.indexer = indexer
}

// Root returns the root category.
func (c *Catalog) Root() *types.Category {
	return c.root
}

// Len returns the number of categories (root included) and events.
func (c *Catalog) Len() (categories, events int) {
	return len(c.categories), len(c.events)
}

// Category returns the category with the given ID.
func (c *Catalog) Category(id string) (*types.Category, error) {
	cat, ok := c.categories[id]
	if !ok {
		return nil, errors.NewCategoryNotFound(id)
	}
	return cat, nil
}

// Event returns the event with the given ID.
func (c *Catalog) Event(id string) (*types.Event, error) {
	st, ok := c.events[id]
	if !ok {
		return nil, errors.NewEventNotFound(id)
	}
	return st.ev, nil
}

// LookupEvent implements index.EventLookup.
func (c *Catalog) LookupEvent(id string) (*types.Event, bool) {
	st, ok := c.events[id]
	if !ok {
		return nil, false
	}
	return st.ev, true
}

// EventVisibility returns the event's own visibility setting.
func (c *Catalog) EventVisibility(id string) (int, error) {
	st, ok := c.events[id]
	if !ok {
		return 0, errors.NewEventNotFound(id)
	}
	return st.visibility, nil
}

// EffectiveVisibility returns the visibility of cat once restricted by its
// parents: a category is visible at most one level deeper than its parent.
func EffectiveVisibility(cat *types.Category) int {
	if cat.Parent == nil {
		return cat.Visibility
	}
	return max(0, min(cat.Visibility, EffectiveVisibility(cat.Parent)+1))
}

// AddCategory creates a category under rec.ParentID (the root when empty),
// appended after its existing siblings.
func (c *Catalog) AddCategory(rec types.CategoryRecord) (*types.Category, error) {
	if rec.ID == "" || rec.ID == types.RootCategoryID {
		return nil, errors.NewErrorWithCause("ErrInvalidCategory", "add category",
			fmt.Errorf("invalid category id %q", rec.ID))
	}
	if _, dup := c.categories[rec.ID]; dup {
		return nil, errors.NewErrorWithCause(errors.ErrCategoryAlreadyExists.Code(),
			fmt.Sprintf("category %s already exists", rec.ID), nil)
	}
	parent, err := c.Category(cmp.Or(rec.ParentID, types.RootCategoryID))
	if err != nil {
		return nil, err
	}

	cat := types.NewCategory(rec.ID, rec.Title)
	cat.Visibility = rec.Visibility
	cat.Parent = parent
	parent.SubCategories = append(parent.SubCategories, cat)
	c.categories[cat.ID] = cat
	return cat, nil
}

// AddEvent creates an event in rec.CategoryID and indexes it.
func (c *Catalog) AddEvent(rec types.EventRecord) (*types.Event, error) {
	if rec.ID == "" {
		return nil, invalidEvent(rec.ID, "empty id")
	}
	if _, dup := c.events[rec.ID]; dup {
		return nil, errors.NewErrorWithCause(errors.ErrEventAlreadyExists.Code(),
			fmt.Sprintf("event %s already exists", rec.ID), nil)
	}
	if err := validateDates(rec.ID, rec.Start, rec.End); err != nil {
		return nil, err
	}
	cat, err := c.Category(cmp.Or(rec.CategoryID, types.RootCategoryID))
	if err != nil {
		return nil, err
	}

	ev := &types.Event{
		ID:    rec.ID,
		Title: rec.Title,
		Start: rec.Start,
		End:   rec.End,
	}
	st := &eventState{ev: ev, category: cat, visibility: rec.Visibility}
	c.place(st)
	cat.Events = append(cat.Events, ev)
	c.events[ev.ID] = st
	c.indexer.IndexConf(ev)
	return ev, nil
}

// RemoveEvent unindexes and deletes an event.
func (c *Catalog) RemoveEvent(id string) error {
	st, ok := c.events[id]
	if !ok {
		return errors.NewEventNotFound(id)
	}
	c.indexer.UnindexConf(st.ev)
	st.category.Events = slices.DeleteFunc(st.category.Events, func(e *types.Event) bool { return e == st.ev })
	delete(c.events, id)
	return nil
}

// MoveEvent moves an event to another category.
func (c *Catalog) MoveEvent(id, toCategoryID string) error {
	st, ok := c.events[id]
	if !ok {
		return errors.NewEventNotFound(id)
	}
	to, err := c.Category(toCategoryID)
	if err != nil {
		return err
	}
	if to == st.category {
		return nil
	}

	c.indexer.UnindexConf(st.ev)
	st.category.Events = slices.DeleteFunc(st.category.Events, func(e *types.Event) bool { return e == st.ev })
	to.Events = append(to.Events, st.ev)
	st.category = to
	c.place(st)
	c.indexer.IndexConf(st.ev)
	return nil
}

// SetEventDates changes an event's start and end.
func (c *Catalog) SetEventDates(id string, start, end time.Time) error {
	st, ok := c.events[id]
	if !ok {
		return errors.NewEventNotFound(id)
	}
	if err := validateDates(id, start, end); err != nil {
		return err
	}
	c.indexer.UnindexConf(st.ev)
	st.ev.Start, st.ev.End = start, end
	c.indexer.IndexConf(st.ev)
	return nil
}

// SetEventVisibility changes an event's own visibility.
func (c *Catalog) SetEventVisibility(id string, visibility int) error {
	st, ok := c.events[id]
	if !ok {
		return errors.NewEventNotFound(id)
	}
	c.indexer.UnindexConf(st.ev)
	st.visibility = visibility
	c.place(st)
	c.indexer.IndexConf(st.ev)
	return nil
}

// SetCategoryVisibility changes a category's own visibility, which restricts
// every event of its sub-tree.
func (c *Catalog) SetCategoryVisibility(id string, visibility int) error {
	cat, err := c.Category(id)
	if err != nil {
		return err
	}
	c.indexer.UnindexCateg(cat)
	cat.Visibility = visibility
	c.refresh(cat)
	c.indexer.IndexCateg(cat)
	return nil
}

// MoveCategory re-parents a category, appending it after the new parent's
// sub-categories. Moving a category under itself or one of its descendants
// fails with ErrCategoryCycle.
func (c *Catalog) MoveCategory(id, newParentID string) error {
	cat, err := c.Category(id)
	if err != nil {
		return err
	}
	if cat == c.root {
		return errors.NewErrorWithCause(errors.ErrCategoryCycle.Code(), "cannot move the root category", nil)
	}
	parent, err := c.Category(newParentID)
	if err != nil {
		return err
	}
	if cat.IsAncestorOf(parent) {
		return errors.NewErrorWithCause(errors.ErrCategoryCycle.Code(),
			fmt.Sprintf("moving %s under %s would create a cycle", id, newParentID), nil)
	}
	if cat.Parent == parent {
		return nil
	}

	c.indexer.UnindexCateg(cat)
	old := cat.Parent
	old.SubCategories = slices.DeleteFunc(old.SubCategories, func(s *types.Category) bool { return s == cat })
	parent.SubCategories = append(parent.SubCategories, cat)
	cat.Parent = parent
	c.refresh(cat)
	c.indexer.IndexCateg(cat)
	c.logger.Debug("moved category", "id", id, "from", old.ID, "to", parent.ID)
	return nil
}

// place recomputes the owner path and full visibility of one event.
func (c *Catalog) place(st *eventState) {
	st.ev.OwnerPath = st.category.OwnerPath()
	st.ev.Visibility = types.FullVisibility(st.visibility, EffectiveVisibility(st.category))
}

// refresh re-places every event of the sub-tree rooted at root.
func (c *Catalog) refresh(root *types.Category) {
	types.WalkPostOrder(root, func(cat *types.Category) bool {
		for _, ev := range cat.Events {
			c.place(c.events[ev.ID])
		}
		return true
	})
}

func validateDates(id string, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return invalidEvent(id, "missing start or end")
	}
	if end.Before(start) {
		return invalidEvent(id, fmt.Sprintf("ends %s before it starts %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339)))
	}
	return nil
}

func invalidEvent(id, reason string) error {
	return errors.NewErrorWithCause(errors.ErrInvalidEvent.Code(),
		fmt.Sprintf("event %q", id), fmt.Errorf("%s", reason))
}

package index

import (
	"iter"
	"time"

	"github.com/haorendashu/catindex/src/types"
)

// CategoryDayIndex keeps one CalendarDayIndex per category. It serves the
// category listings and the "more events" checks.
type CategoryDayIndex struct {
	*fanIndex[*CalendarDayIndex]
}

// NewCategoryDayIndex creates an empty index with the given fan-out policy.
func NewCategoryDayIndex(p Policy) *CategoryDayIndex {
	return &CategoryDayIndex{newFanIndex(kindName("categoryDay", p), p, NewCalendarDayIndex)}
}

// GetObjectsIn returns the events of category overlapping [s, e].
func (c *CategoryDayIndex) GetObjectsIn(category string, s, e time.Time) EventSet {
	if l, ok := c.leaf(category); ok {
		return l.GetObjectsIn(s, e)
	}
	return newEventSet()
}

// GetObjectsStartingIn returns the events of category with s <= start < e.
func (c *CategoryDayIndex) GetObjectsStartingIn(category string, s, e time.Time) EventSet {
	if l, ok := c.leaf(category); ok {
		return l.GetObjectsStartingIn(s, e)
	}
	return newEventSet()
}

// GetObjectsInDay returns the events of category touching the UTC day of d.
func (c *CategoryDayIndex) GetObjectsInDay(category string, d time.Time) EventSet {
	if l, ok := c.leaf(category); ok {
		return l.GetObjectsInDay(d)
	}
	return newEventSet()
}

// IterateObjectsIn lazily yields the events of category overlapping [s, e]
// in day order. An unknown category yields nothing.
func (c *CategoryDayIndex) IterateObjectsIn(category string, s, e time.Time) iter.Seq[*types.Event] {
	if l, ok := c.leaf(category); ok {
		return l.IterateObjectsIn(s, e)
	}
	return func(func(*types.Event) bool) {}
}

// IterateObjectsInAll chains IterateObjectsIn over several categories,
// yielding each event once.
func (c *CategoryDayIndex) IterateObjectsInAll(categories []string, s, e time.Time) iter.Seq[*types.Event] {
	return func(yield func(*types.Event) bool) {
		seen := make(map[string]struct{})
		for _, cat := range categories {
			for ev := range c.IterateObjectsIn(cat, s, e) {
				if _, dup := seen[ev.ID]; dup {
					continue
				}
				seen[ev.ID] = struct{}{}
				if !yield(ev) {
					return
				}
			}
		}
	}
}

// HasObjectsAfter reports whether category has an event on a day after d.
func (c *CategoryDayIndex) HasObjectsAfter(category string, d time.Time) bool {
	if l, ok := c.leaf(category); ok {
		return l.HasObjectsAfter(d)
	}
	return false
}

// HasObjectsAfterAny is HasObjectsAfter over several categories.
func (c *CategoryDayIndex) HasObjectsAfterAny(categories []string, d time.Time) bool {
	for _, cat := range categories {
		if c.HasObjectsAfter(cat, d) {
			return true
		}
	}
	return false
}

// Leaf returns the CalendarDayIndex of category, if it has one.
func (c *CategoryDayIndex) Leaf(category string) (*CalendarDayIndex, bool) {
	return c.leaf(category)
}

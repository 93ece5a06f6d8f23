package index

import (
	"time"
)

// CategoryDateIndex keeps one CalendarIndex per category.
type CategoryDateIndex struct {
	*fanIndex[*CalendarIndex]
}

// NewCategoryDateIndex creates an empty index with the given fan-out policy.
func NewCategoryDateIndex(p Policy) *CategoryDateIndex {
	return &CategoryDateIndex{newFanIndex(kindName("categoryDate", p), p, NewCalendarIndex)}
}

// GetObjectsIn returns the events of category overlapping [s, e].
func (c *CategoryDateIndex) GetObjectsIn(category string, s, e time.Time) IDSet {
	if l, ok := c.leaf(category); ok {
		return l.GetObjectsIn(s, e)
	}
	return newIDSet()
}

// GetObjectsStartingIn returns the events of category with s <= start < e.
func (c *CategoryDateIndex) GetObjectsStartingIn(category string, s, e time.Time) IDSet {
	if l, ok := c.leaf(category); ok {
		return l.GetObjectsStartingIn(s, e)
	}
	return newIDSet()
}

// GetObjectsEndingIn returns the events of category with s <= end < e.
func (c *CategoryDateIndex) GetObjectsEndingIn(category string, s, e time.Time) IDSet {
	if l, ok := c.leaf(category); ok {
		return l.GetObjectsEndingIn(s, e)
	}
	return newIDSet()
}

// GetObjectsInDay returns the events of category overlapping the UTC day of d.
func (c *CategoryDateIndex) GetObjectsInDay(category string, d time.Time) IDSet {
	if l, ok := c.leaf(category); ok {
		return l.GetObjectsInDay(d)
	}
	return newIDSet()
}

// HasObjectsAfter reports whether category holds an event ending after the day of d.
func (c *CategoryDateIndex) HasObjectsAfter(category string, d time.Time) bool {
	if l, ok := c.leaf(category); ok {
		return l.HasObjectsAfter(d)
	}
	return false
}

// Leaf returns the CalendarIndex of category, if it has one.
func (c *CategoryDateIndex) Leaf(category string) (*CalendarIndex, bool) {
	return c.leaf(category)
}

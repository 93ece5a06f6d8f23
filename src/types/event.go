// Package types defines core data structures for the category/calendar index.
package types

import (
	"time"
)

// RootCategoryID is the synthetic top-level category every tree hangs from.
// It never appears in an owner path.
const RootCategoryID = "0"

// DefaultVisibility is the visibility assigned when none is configured.
// Large enough to reach the root from any realistic tree depth.
const DefaultVisibility = 999

// Event is the unit the indexes store. The indexes only look at the ID, the two
// dates, the owner path and the visibility; everything else is payload.
type Event struct {
	// ID is the stable identifier; bucket membership is keyed on it.
	ID string

	// Title is a human label, used by the CLI only.
	Title string

	// Start and End bound the event. End is expected to be >= Start.
	Start time.Time
	End   time.Time

	// OwnerPath lists ancestor category IDs starting with the event's own
	// category and walking up. The root "0" is never included.
	OwnerPath []string

	// Visibility is the number of ancestor levels (own category = level 0)
	// the event is discoverable from. Values above len(OwnerPath) also expose
	// the event at the root.
	Visibility int
}

// CategoryID returns the event's own category, or the root if the path is empty.
func (e *Event) CategoryID() string {
	if e == nil || len(e.OwnerPath) == 0 {
		return RootCategoryID
	}
	return e.OwnerPath[0]
}

// OnPath reports whether categoryID is the root or one of the event's ancestors.
func (e *Event) OnPath(categoryID string) bool {
	if categoryID == RootCategoryID {
		return true
	}
	for _, id := range e.OwnerPath {
		if id == categoryID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate dates without touching
// references held by an index.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.OwnerPath = append([]string(nil), e.OwnerPath...)
	return &c
}

// FullVisibility combines the event's own visibility with the one of the
// category holding it: max(0, min(event, category)).
func FullVisibility(eventVisibility, categoryVisibility int) int {
	v := eventVisibility
	if categoryVisibility < v {
		v = categoryVisibility
	}
	if v < 0 {
		return 0
	}
	return v
}

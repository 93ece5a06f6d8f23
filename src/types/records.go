package types

import "time"

// CategoryRecord is the flat, persistable form of a category. Position orders
// siblings under the same parent.
type CategoryRecord struct {
	ID         string
	ParentID   string
	Title      string
	Visibility int
	Position   int
}

// EventRecord is the flat, persistable form of an event. Visibility is the
// event's own setting, not the full visibility the indexes use.
type EventRecord struct {
	ID         string
	CategoryID string
	Title      string
	Start      time.Time
	End        time.Time
	Visibility int
	Position   int
}

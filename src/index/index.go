// Package index provides the temporal and hierarchical event indexes.
//
// Two leaf structures answer interval-overlap queries over a flat set of
// events: CalendarIndex keeps one bucket per exact start and end timestamp,
// CalendarDayIndex keeps one bucket per UTC day the event touches. The
// category layer (CategoryIndex, CategoryDateIndex, CategoryDayIndex) fans
// every event out to the ancestor categories it is visible from and keeps one
// leaf per category.
//
// None of the structures lock. Callers own the transactional boundary and
// persist changes through Registry.Flush.
package index

import (
	"iter"

	"github.com/haorendashu/catindex/src/types"
)

// EventIndex is implemented by every index kept in a Registry.
type EventIndex interface {
	// IndexConf adds the event. Events with out-of-range dates are skipped.
	IndexConf(ev *types.Event)

	// UnindexConf removes the event, recovering from date drift by scanning.
	UnindexConf(ev *types.Event)

	// ReindexConf is UnindexConf followed by IndexConf.
	ReindexConf(ev *types.Event)

	// Dump returns the raw bucket contents in key order.
	Dump() []Entry

	// Check lazily reports anomalies against the authoritative event store.
	Check(lookup EventLookup) iter.Seq[string]

	// Stats returns bucket and entry counts.
	Stats() Stats

	restore(entries []Entry, lookup EventLookup) error
	reset()
}

// EventLookup resolves event IDs against the authoritative event store.
type EventLookup interface {
	LookupEvent(id string) (*types.Event, bool)
}

// EventLookupFunc adapts a function to EventLookup.
type EventLookupFunc func(id string) (*types.Event, bool)

// LookupEvent calls f(id).
func (f EventLookupFunc) LookupEvent(id string) (*types.Event, bool) {
	return f(id)
}

// Side tells which bucket map an Entry belongs to.
type Side string

const (
	// SideStart marks a CalendarIndex start bucket.
	SideStart Side = "start"
	// SideEnd marks a CalendarIndex end bucket.
	SideEnd Side = "end"
	// SideDay marks a CalendarDayIndex day bucket.
	SideDay Side = "day"
	// SideMember marks a CategoryIndex list; Key is the position in the list.
	SideMember Side = "member"
)

// Entry is one (category, bucket key, event) membership. Category is empty for
// the flat leaf indexes.
type Entry struct {
	Category string
	Side     Side
	Key      int64
	EventID  string
}

// Stats captures index size.
type Stats struct {
	// Categories is the number of per-category leaves (0 for flat indexes).
	Categories int

	// Buckets is the total number of non-empty buckets.
	Buckets int

	// Entries is the total number of bucket memberships.
	Entries int

	// MinKey and MaxKey bound the populated key space. Both are 0 when empty.
	MinKey int64
	MaxKey int64
}

func (s *Stats) add(o Stats) {
	if o.Buckets > 0 {
		if s.Buckets == 0 || o.MinKey < s.MinKey {
			s.MinKey = o.MinKey
		}
		if s.Buckets == 0 || o.MaxKey > s.MaxKey {
			s.MaxKey = o.MaxKey
		}
	}
	s.Buckets += o.Buckets
	s.Entries += o.Entries
}

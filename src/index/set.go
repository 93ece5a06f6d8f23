package index

import (
	"slices"
	"sort"

	"github.com/haorendashu/catindex/src/types"
)

// IDSet is the result type of CalendarIndex queries.
type IDSet map[string]struct{}

func newIDSet() IDSet {
	return make(IDSet)
}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of IDs.
func (s IDSet) Len() int {
	return len(s)
}

// Sorted returns the IDs in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s IDSet) addAll(ids []string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// intersect keeps only the IDs also present in o.
func (s IDSet) intersect(o IDSet) IDSet {
	for id := range s {
		if !o.Has(id) {
			delete(s, id)
		}
	}
	return s
}

// EventSet is the result type of CalendarDayIndex queries.
type EventSet map[string]*types.Event

func newEventSet() EventSet {
	return make(EventSet)
}

// Has reports membership by event ID.
func (s EventSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of events.
func (s EventSet) Len() int {
	return len(s)
}

// IDs returns the event IDs in lexical order.
func (s EventSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Sorted returns the events ordered by start, then ID.
func (s EventSet) Sorted() []*types.Event {
	out := make([]*types.Event, 0, len(s))
	for _, ev := range s {
		out = append(out, ev)
	}
	sortEvents(out)
	return out
}

func sortEvents(evs []*types.Event) {
	slices.SortFunc(evs, func(a, b *types.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

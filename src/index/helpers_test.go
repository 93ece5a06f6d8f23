package index

import (
	"cmp"
	"slices"
	"testing"
	"time"

	"github.com/haorendashu/catindex/src/types"
)

func mustTime(t testing.TB, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func newEvent(t testing.TB, id, start, end string) *types.Event {
	t.Helper()
	return &types.Event{
		ID:         id,
		Start:      mustTime(t, start),
		End:        mustTime(t, end),
		Visibility: types.DefaultVisibility,
	}
}

// placed returns ev with its owner path and visibility set.
func placed(ev *types.Event, visibility int, path ...string) *types.Event {
	ev.OwnerPath = path
	ev.Visibility = visibility
	return ev
}

// eventMap is an in-memory EventLookup.
type eventMap map[string]*types.Event

func lookupOf(evs ...*types.Event) eventMap {
	m := make(eventMap)
	for _, ev := range evs {
		m[ev.ID] = ev
	}
	return m
}

func (m eventMap) LookupEvent(id string) (*types.Event, bool) {
	ev, ok := m[id]
	return ev, ok
}

func collectIDs(seq func(func(*types.Event) bool)) []string {
	var out []string
	for ev := range seq {
		out = append(out, ev.ID)
	}
	return out
}

func collectStrings(seq func(func(string) bool)) []string {
	var out []string
	for s := range seq {
		out = append(out, s)
	}
	return out
}

// normalized sorts entries and drops list positions, so dumps built in a
// different insertion order compare equal.
func normalized(entries []Entry) []Entry {
	out := slices.Clone(entries)
	for i := range out {
		if out[i].Side == SideMember {
			out[i].Key = 0
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Or(
			cmp.Compare(a.Category, b.Category),
			cmp.Compare(a.Side, b.Side),
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(a.EventID, b.EventID),
		)
	})
	return out
}

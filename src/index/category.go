package index

import (
	"fmt"
	"slices"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/types"
)

// memberList is a CategoryIndex leaf: event IDs in insertion order.
type memberList struct {
	ids []string
}

func newMemberList() *memberList {
	return &memberList{}
}

func (m *memberList) IndexConf(ev *types.Event) {
	if !slices.Contains(m.ids, ev.ID) {
		m.ids = append(m.ids, ev.ID)
	}
}

func (m *memberList) UnindexConf(ev *types.Event) {
	m.remove(ev.ID)
}

func (m *memberList) remove(id string) bool {
	n := len(m.ids)
	m.ids = withoutID(m.ids, id)
	return len(m.ids) != n
}

func (m *memberList) Stats() Stats {
	if len(m.ids) == 0 {
		return Stats{}
	}
	return Stats{Buckets: 1, Entries: len(m.ids), MaxKey: int64(len(m.ids) - 1)}
}

func (m *memberList) empty() bool {
	return len(m.ids) == 0
}

func (m *memberList) dump(category string) []Entry {
	out := make([]Entry, 0, len(m.ids))
	for i, id := range m.ids {
		out = append(out, Entry{Category: category, Side: SideMember, Key: int64(i), EventID: id})
	}
	return out
}

func (m *memberList) restoreEntry(e Entry, _ EventLookup) error {
	if e.Side != SideMember {
		return errors.NewErrorWithCause("ErrSnapshotCorrupted",
			"category index snapshot", fmt.Errorf("unexpected side %q for event %s", e.Side, e.EventID))
	}
	if !slices.Contains(m.ids, e.EventID) {
		m.ids = append(m.ids, e.EventID)
	}
	return nil
}

func (m *memberList) check(category string, lookup EventLookup, yield func(string) bool) bool {
	where := scope("category", category)
	for _, id := range m.ids {
		ev, found := lookup.LookupEvent(id)
		var msg string
		switch {
		case !found:
			msg = fmt.Sprintf("%s: event %s no longer exists", where, id)
		case !ev.OnPath(category):
			msg = fmt.Sprintf("%s: event %s is not owned by category %s (path %v)",
				where, id, category, ev.OwnerPath)
		default:
			continue
		}
		if !yield(msg) {
			return false
		}
	}
	return true
}

// CategoryIndex maps every category to the IDs of the events visible from
// it, in insertion order.
type CategoryIndex struct {
	*fanIndex[*memberList]
}

// NewCategoryIndex creates an empty index with the given fan-out policy.
func NewCategoryIndex(p Policy) *CategoryIndex {
	return &CategoryIndex{newFanIndex(kindName("category", p), p, newMemberList)}
}

// GetItems returns the event IDs listed under category. Unknown categories
// yield an empty list.
func (c *CategoryIndex) GetItems(category string) []string {
	if l, ok := c.leaf(category); ok {
		return slices.Clone(l.ids)
	}
	return []string{}
}

// UnindexConfByID removes the event ID from every category list. It does not
// need the event itself, so it also clears IDs whose event is gone.
func (c *CategoryIndex) UnindexConfByID(id string) {
	delete(c.placements, id)
	for cat, l := range c.leaves {
		if l.remove(id) && l.empty() {
			delete(c.leaves, cat)
		}
	}
}

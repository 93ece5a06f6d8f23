package index

import (
	"fmt"
	"iter"
	"slices"
	"sort"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/types"
)

// leaf is the per-category structure a fan-out index keeps.
type leaf interface {
	IndexConf(ev *types.Event)
	UnindexConf(ev *types.Event)
	Stats() Stats

	empty() bool
	dump(category string) []Entry
	check(category string, lookup EventLookup, yield func(string) bool) bool
	restoreEntry(e Entry, lookup EventLookup) error
}

// fanIndex keeps one leaf per category and files every event under the
// categories selected by its policy. The placement of each event is
// remembered so unindexing stays exact after the event moved.
type fanIndex[L leaf] struct {
	kind    string
	policy  Policy
	newLeaf func() L

	leaves     map[string]L
	placements map[string][]string
}

func newFanIndex[L leaf](kind string, p Policy, mk func() L) *fanIndex[L] {
	return &fanIndex[L]{
		kind:       kind,
		policy:     p,
		newLeaf:    mk,
		leaves:     make(map[string]L),
		placements: make(map[string][]string),
	}
}

// Policy returns the fan-out policy.
func (f *fanIndex[L]) Policy() Policy {
	return f.policy
}

// IndexConf files the event under its own category and the ancestors it is
// visible from. Leaves are created on first use.
func (f *fanIndex[L]) IndexConf(ev *types.Event) {
	cats := fanOut(ev, f.policy)
	for _, cat := range cats {
		l, ok := f.leaves[cat]
		if !ok {
			l = f.newLeaf()
			f.leaves[cat] = l
		}
		l.IndexConf(ev)
	}
	placed := f.placements[ev.ID]
	for _, cat := range cats {
		if !slices.Contains(placed, cat) {
			placed = append(placed, cat)
		}
	}
	f.placements[ev.ID] = placed
}

// UnindexConf removes the event from every category it was filed under.
// Leaves left empty are dropped.
func (f *fanIndex[L]) UnindexConf(ev *types.Event) {
	cats, ok := f.placements[ev.ID]
	if !ok {
		cats = fanOut(ev, f.policy)
	}
	delete(f.placements, ev.ID)
	for _, cat := range cats {
		l, ok := f.leaves[cat]
		if !ok {
			continue
		}
		l.UnindexConf(ev)
		if l.empty() {
			delete(f.leaves, cat)
		}
	}
}

// ReindexConf unindexes then indexes the event.
func (f *fanIndex[L]) ReindexConf(ev *types.Event) {
	f.UnindexConf(ev)
	f.IndexConf(ev)
}

// IndexCateg indexes every event of the sub-tree rooted at root,
// sub-categories before the category's own events.
func (f *fanIndex[L]) IndexCateg(root *types.Category) {
	types.WalkPostOrder(root, func(c *types.Category) bool {
		for _, ev := range c.Events {
			f.IndexConf(ev)
		}
		return true
	})
}

// UnindexCateg removes every event of the sub-tree rooted at root.
func (f *fanIndex[L]) UnindexCateg(root *types.Category) {
	types.WalkPostOrder(root, func(c *types.Category) bool {
		for _, ev := range c.Events {
			f.UnindexConf(ev)
		}
		return true
	})
}

// ReindexCateg unindexes then indexes the sub-tree rooted at root.
func (f *fanIndex[L]) ReindexCateg(root *types.Category) {
	f.UnindexCateg(root)
	f.IndexCateg(root)
}

// Categories returns the IDs of the categories holding a leaf, sorted.
func (f *fanIndex[L]) Categories() []string {
	out := make([]string, 0, len(f.leaves))
	for id := range f.leaves {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Placement returns the categories the event is currently filed under.
func (f *fanIndex[L]) Placement(eventID string) []string {
	return slices.Clone(f.placements[eventID])
}

func (f *fanIndex[L]) leaf(category string) (L, bool) {
	l, ok := f.leaves[category]
	return l, ok
}

// Dump lists the leaves in category order.
func (f *fanIndex[L]) Dump() []Entry {
	var out []Entry
	for _, cat := range f.Categories() {
		out = append(out, f.leaves[cat].dump(cat)...)
	}
	return out
}

// Stats sums the leaves.
func (f *fanIndex[L]) Stats() Stats {
	st := Stats{Categories: len(f.leaves)}
	for _, l := range f.leaves {
		st.add(l.Stats())
	}
	return st
}

// Check verifies every leaf in category order. Besides the leaf checks it
// reports entries filed under a category the event's fan-out no longer
// reaches.
func (f *fanIndex[L]) Check(lookup EventLookup) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, cat := range f.Categories() {
			if !f.leaves[cat].check(cat, lookup, yield) {
				return
			}
		}
		ids := make([]string, 0, len(f.placements))
		for id := range f.placements {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			ev, ok := lookup.LookupEvent(id)
			if !ok {
				continue
			}
			want := fanOut(ev, f.policy)
			for _, cat := range f.placements[id] {
				if slices.Contains(want, cat) || !ev.OnPath(cat) {
					// Off-path entries were already reported by the leaf.
					continue
				}
				if !yield(fmt.Sprintf("%s: event %s filed under category %s beyond its visibility %d",
					f.kind, id, cat, ev.Visibility)) {
					return
				}
			}
		}
	}
}

func (f *fanIndex[L]) reset() {
	f.leaves = make(map[string]L)
	f.placements = make(map[string][]string)
}

func (f *fanIndex[L]) restore(entries []Entry, lookup EventLookup) error {
	f.reset()
	for _, e := range entries {
		if e.Category == "" {
			return errors.NewErrorWithCause("ErrSnapshotCorrupted",
				f.kind+" snapshot", fmt.Errorf("entry for event %s has no category", e.EventID))
		}
		l, ok := f.leaves[e.Category]
		if !ok {
			l = f.newLeaf()
			f.leaves[e.Category] = l
		}
		if err := l.restoreEntry(e, lookup); err != nil {
			return err
		}
		if placed := f.placements[e.EventID]; !slices.Contains(placed, e.Category) {
			f.placements[e.EventID] = append(placed, e.Category)
		}
	}
	return nil
}

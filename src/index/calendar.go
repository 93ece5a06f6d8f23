package index

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/types"
)

// idList is a CalendarIndex bucket: event IDs in insertion order, no duplicates.
type idList struct {
	ids []string
}

func newIDList() *idList {
	return &idList{}
}

// CalendarIndex answers interval-overlap queries over a flat collection of
// events with two ordered maps, one keyed by start timestamp and one keyed by
// end timestamp. Dates are read at (un)index time only; callers must unindex
// before changing an event's dates, or rely on the scan fallback.
type CalendarIndex struct {
	byStart *keyTree[*idList]
	byEnd   *keyTree[*idList]
}

// NewCalendarIndex creates an empty index.
func NewCalendarIndex() *CalendarIndex {
	return &CalendarIndex{
		byStart: newKeyTree[*idList](),
		byEnd:   newKeyTree[*idList](),
	}
}

// IndexConf files the event ID under its start and end timestamps. Events
// with either date outside the 32-bit key space are silently skipped.
func (c *CalendarIndex) IndexConf(ev *types.Event) {
	sts, okStart := types.Key(ev.Start)
	ets, okEnd := types.Key(ev.End)
	if !okStart || !okEnd {
		return
	}
	addID(c.byStart, sts, ev.ID)
	addID(c.byEnd, ets, ev.ID)
}

// UnindexConf removes the event ID. If the bucket at the recomputed key does
// not hold the ID (the dates changed since indexing) every bucket of that map
// is scanned instead.
func (c *CalendarIndex) UnindexConf(ev *types.Event) {
	sts, okStart := types.Key(ev.Start)
	ets, okEnd := types.Key(ev.End)
	if !okStart || !okEnd {
		return
	}
	removeID(c.byStart, sts, ev.ID)
	removeID(c.byEnd, ets, ev.ID)
}

// ReindexConf unindexes then indexes the event.
func (c *CalendarIndex) ReindexConf(ev *types.Event) {
	c.UnindexConf(ev)
	c.IndexConf(ev)
}

func addID(t *keyTree[*idList], key int64, id string) {
	l := t.getOrCreate(key, newIDList)
	if !slices.Contains(l.ids, id) {
		l.ids = append(l.ids, id)
	}
}

func removeID(t *keyTree[*idList], key int64, id string) {
	if l, ok := t.get(key); ok && slices.Contains(l.ids, id) {
		l.ids = withoutID(l.ids, id)
		if len(l.ids) == 0 {
			t.remove(key)
		}
		return
	}

	// Stale key: sweep every bucket. The tree cannot change shape while it is
	// being walked, so emptied buckets are dropped afterwards.
	var emptied []int64
	t.ascend(func(k int64, l *idList) bool {
		if slices.Contains(l.ids, id) {
			l.ids = withoutID(l.ids, id)
			if len(l.ids) == 0 {
				emptied = append(emptied, k)
			}
		}
		return true
	})
	for _, k := range emptied {
		t.remove(k)
	}
}

func withoutID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id })
}

func unionBelow(t *keyTree[*idList], ts int64) IDSet {
	res := newIDSet()
	t.ascendBelow(ts, func(_ int64, l *idList) bool {
		res.addAll(l.ids)
		return true
	})
	return res
}

func unionFrom(t *keyTree[*idList], ts int64) IDSet {
	res := newIDSet()
	t.ascendFrom(ts, func(_ int64, l *idList) bool {
		res.addAll(l.ids)
		return true
	})
	return res
}

// startingBefore returns IDs whose start key is < d.
func (c *CalendarIndex) startingBefore(d time.Time) IDSet {
	return unionBelow(c.byStart, types.Unix(d))
}

// startingAfter returns IDs whose start key is >= d.
func (c *CalendarIndex) startingAfter(d time.Time) IDSet {
	return unionFrom(c.byStart, types.Unix(d))
}

// endingBefore returns IDs whose end key is < d.
func (c *CalendarIndex) endingBefore(d time.Time) IDSet {
	return unionBelow(c.byEnd, types.Unix(d))
}

// endingAfter returns IDs whose end key is >= d.
func (c *CalendarIndex) endingAfter(d time.Time) IDSet {
	return unionFrom(c.byEnd, types.Unix(d))
}

// GetObjectsStartingAfter returns events starting at or after d.
func (c *CalendarIndex) GetObjectsStartingAfter(d time.Time) IDSet {
	return c.startingAfter(d)
}

// GetObjectsEndingAfter returns events ending at or after d.
func (c *CalendarIndex) GetObjectsEndingAfter(d time.Time) IDSet {
	return c.endingAfter(d)
}

// GetObjectsStartingIn returns events with s <= start < e.
func (c *CalendarIndex) GetObjectsStartingIn(s, e time.Time) IDSet {
	res := c.startingAfter(s)
	if res.Len() == 0 {
		return res
	}
	return res.intersect(c.startingBefore(e))
}

// GetObjectsEndingIn returns events with s <= end < e.
func (c *CalendarIndex) GetObjectsEndingIn(s, e time.Time) IDSet {
	res := c.endingAfter(s)
	if res.Len() == 0 {
		return res
	}
	return res.intersect(c.endingBefore(e))
}

// GetObjectsIn returns events overlapping [s, e]: end >= s and start < e.
func (c *CalendarIndex) GetObjectsIn(s, e time.Time) IDSet {
	res := c.endingAfter(s)
	if res.Len() == 0 {
		return res
	}
	return res.intersect(c.startingBefore(e))
}

// GetObjectsStartingInDay returns events starting on the UTC day of d.
func (c *CalendarIndex) GetObjectsStartingInDay(d time.Time) IDSet {
	s, e := dayBounds(d)
	return c.GetObjectsStartingIn(s, e)
}

// GetObjectsEndingInDay returns events ending on the UTC day of d.
func (c *CalendarIndex) GetObjectsEndingInDay(d time.Time) IDSet {
	s, e := dayBounds(d)
	return c.GetObjectsEndingIn(s, e)
}

// GetObjectsInDay returns events overlapping the UTC day of d.
func (c *CalendarIndex) GetObjectsInDay(d time.Time) IDSet {
	s, e := dayBounds(d)
	return c.GetObjectsIn(s, e)
}

// HasObjectsAfter reports whether any event ends on a day after the day of d.
func (c *CalendarIndex) HasObjectsAfter(d time.Time) bool {
	last, ok := c.byEnd.maxKey()
	return ok && types.DayKey(last) > types.DayOf(d)
}

// dayBounds returns UTC midnight of d and of the following day.
func dayBounds(d time.Time) (time.Time, time.Time) {
	s := types.StartOfDay(d)
	return s, s.Add(24 * time.Hour)
}

// Dump lists start buckets then end buckets, each in key order.
func (c *CalendarIndex) Dump() []Entry {
	return c.dump("")
}

func (c *CalendarIndex) dump(category string) []Entry {
	var out []Entry
	emit := func(side Side) func(int64, *idList) bool {
		return func(k int64, l *idList) bool {
			for _, id := range l.ids {
				out = append(out, Entry{Category: category, Side: side, Key: k, EventID: id})
			}
			return true
		}
	}
	c.byStart.ascend(emit(SideStart))
	c.byEnd.ascend(emit(SideEnd))
	return out
}

// Stats returns bucket and entry counts over both maps.
func (c *CalendarIndex) Stats() Stats {
	var st Stats
	for _, t := range []*keyTree[*idList]{c.byStart, c.byEnd} {
		var part Stats
		t.ascend(func(_ int64, l *idList) bool {
			part.Buckets++
			part.Entries += len(l.ids)
			return true
		})
		part.MinKey, _ = t.minKey()
		part.MaxKey, _ = t.maxKey()
		st.add(part)
	}
	return st
}

func (c *CalendarIndex) empty() bool {
	return c.byStart.len() == 0 && c.byEnd.len() == 0
}

func (c *CalendarIndex) reset() {
	c.byStart.clear()
	c.byEnd.clear()
}

func (c *CalendarIndex) restore(entries []Entry, lookup EventLookup) error {
	c.reset()
	for _, e := range entries {
		if err := c.restoreEntry(e, lookup); err != nil {
			return err
		}
	}
	return nil
}

func (c *CalendarIndex) restoreEntry(e Entry, _ EventLookup) error {
	switch e.Side {
	case SideStart:
		addID(c.byStart, e.Key, e.EventID)
	case SideEnd:
		addID(c.byEnd, e.Key, e.EventID)
	default:
		return errors.NewErrorWithCause("ErrSnapshotCorrupted",
			"calendar index snapshot", fmt.Errorf("unexpected side %q for event %s", e.Side, e.EventID))
	}
	return nil
}

// Check verifies every start and end bucket against lookup.
func (c *CalendarIndex) Check(lookup EventLookup) iter.Seq[string] {
	return func(yield func(string) bool) {
		c.check("", lookup, yield)
	}
}

// check reports anomalies for one leaf. When category is set the event must
// also be owned by it. It returns false once yield asks to stop.
func (c *CalendarIndex) check(category string, lookup EventLookup, yield func(string) bool) bool {
	where := scope("calendar", category)
	ok := true
	visit := func(side Side, actual func(*types.Event) time.Time) func(int64, *idList) bool {
		return func(k int64, l *idList) bool {
			for _, id := range l.ids {
				ev, found := lookup.LookupEvent(id)
				if !found {
					ok = yield(fmt.Sprintf("%s: %s bucket %s holds event %s which no longer exists",
						where, side, fmtKey(k), id))
				} else if ts := types.Unix(actual(ev)); ts != k {
					ok = yield(fmt.Sprintf("%s: event %s filed under %s %s but its %s is %s",
						where, id, side, fmtKey(k), side, fmtKey(ts)))
				} else if side == SideStart && category != "" && !ev.OnPath(category) {
					ok = yield(fmt.Sprintf("%s: event %s is not owned by category %s (path %v)",
						where, id, category, ev.OwnerPath))
				}
				if !ok {
					return false
				}
			}
			return true
		}
	}
	c.byStart.ascend(visit(SideStart, func(ev *types.Event) time.Time { return ev.Start }))
	if !ok {
		return false
	}
	c.byEnd.ascend(visit(SideEnd, func(ev *types.Event) time.Time { return ev.End }))
	return ok
}

func scope(kind, category string) string {
	if category == "" {
		return kind
	}
	return fmt.Sprintf("%s[%s]", kind, category)
}

func fmtKey(ts int64) string {
	return types.TimeOf(ts).Format(time.RFC3339)
}

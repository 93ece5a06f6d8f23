package index

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/types"
)

// dayBucket holds the events touching one UTC day, keyed by event ID.
type dayBucket map[string]*types.Event

func newDayBucket() dayBucket {
	return make(dayBucket)
}

// daySpan is the first and last day key an event was filed under.
type daySpan struct {
	first, last int64
}

// CalendarDayIndex answers the same queries as CalendarIndex at day
// granularity. Every event is filed in each day bucket from its start day to
// its end day inclusive, so "what happens on day D" is a single lookup.
type CalendarDayIndex struct {
	days *keyTree[dayBucket]

	// spans remembers where each event was filed so unindexing stays exact
	// even when the event's dates were edited in place.
	spans map[string]daySpan
}

// NewCalendarDayIndex creates an empty index.
func NewCalendarDayIndex() *CalendarDayIndex {
	return &CalendarDayIndex{
		days:  newKeyTree[dayBucket](),
		spans: make(map[string]daySpan),
	}
}

// eventSpan returns the in-range day keys covered by ev. ok is false when no
// covered day fits the key space.
func eventSpan(ev *types.Event) (daySpan, bool) {
	sp := daySpan{first: types.DayOf(ev.Start), last: types.DayOf(ev.End)}
	if sp.first < types.FirstDayKey {
		sp.first = types.FirstDayKey
	}
	if sp.last > types.LastDayKey {
		sp.last = types.LastDayKey
	}
	return sp, sp.first <= sp.last
}

func (sp daySpan) each(fn func(day int64)) {
	for d := sp.first; d <= sp.last; d += types.SecondsPerDay {
		fn(d)
	}
}

// IndexConf files the event in every day bucket it spans. Days outside the
// 32-bit key space are skipped.
func (c *CalendarDayIndex) IndexConf(ev *types.Event) {
	sp, ok := eventSpan(ev)
	if !ok {
		return
	}
	sp.each(func(day int64) {
		c.days.getOrCreate(day, newDayBucket)[ev.ID] = ev
	})
	if prev, found := c.spans[ev.ID]; found {
		sp.first = min(sp.first, prev.first)
		sp.last = max(sp.last, prev.last)
	}
	c.spans[ev.ID] = sp
}

// UnindexConf removes the event from every bucket it was filed under.
func (c *CalendarDayIndex) UnindexConf(ev *types.Event) {
	sp, found := c.spans[ev.ID]
	if !found {
		// Never indexed here; still clear the recomputed days in case the
		// bucket contents came from elsewhere.
		var ok bool
		if sp, ok = eventSpan(ev); !ok {
			return
		}
	}
	delete(c.spans, ev.ID)
	sp.each(func(day int64) {
		b, ok := c.days.get(day)
		if !ok {
			return
		}
		delete(b, ev.ID)
		if len(b) == 0 {
			c.days.remove(day)
		}
	})
}

// ReindexConf unindexes then indexes the event.
func (c *CalendarDayIndex) ReindexConf(ev *types.Event) {
	c.UnindexConf(ev)
	c.IndexConf(ev)
}

// GetObjectsInDay returns every event touching the UTC day of d.
func (c *CalendarDayIndex) GetObjectsInDay(d time.Time) EventSet {
	res := newEventSet()
	if b, ok := c.days.get(types.DayOf(d)); ok {
		for id, ev := range b {
			res[id] = ev
		}
	}
	return res
}

// GetObjectsStartingInDay returns the events whose start lies on the UTC day of d.
func (c *CalendarDayIndex) GetObjectsStartingInDay(d time.Time) EventSet {
	day := types.DayOf(d)
	return c.filterDay(day, func(ev *types.Event) bool {
		return onDay(ev.Start, day)
	})
}

// GetObjectsEndingInDay returns the events whose end lies on the UTC day of d.
func (c *CalendarDayIndex) GetObjectsEndingInDay(d time.Time) EventSet {
	day := types.DayOf(d)
	return c.filterDay(day, func(ev *types.Event) bool {
		return onDay(ev.End, day)
	})
}

func (c *CalendarDayIndex) filterDay(day int64, keep func(*types.Event) bool) EventSet {
	res := newEventSet()
	if b, ok := c.days.get(day); ok {
		for id, ev := range b {
			if keep(ev) {
				res[id] = ev
			}
		}
	}
	return res
}

// onDay compares the exact time against the day boundaries.
func onDay(t time.Time, day int64) bool {
	ts := types.Unix(t)
	return ts >= day && ts < day+types.SecondsPerDay
}

// rangeFilter decides membership for the three regions of a range walk:
// edge applies to the first and last day, interior to the days between.
type rangeFilter struct {
	edge     func(ev *types.Event) bool
	interior func(ev *types.Event, day int64) bool
}

func overlapFilter(s, e time.Time) rangeFilter {
	sts, ets := types.Unix(s), types.Unix(e)
	return rangeFilter{
		edge: func(ev *types.Event) bool {
			return types.Unix(ev.End) >= sts && types.Unix(ev.Start) < ets
		},
	}
}

func pointFilter(s, e time.Time, at func(*types.Event) time.Time) rangeFilter {
	sts, ets := types.Unix(s), types.Unix(e)
	return rangeFilter{
		edge: func(ev *types.Event) bool {
			ts := types.Unix(at(ev))
			return ts >= sts && ts < ets
		},
		interior: func(ev *types.Event, day int64) bool {
			return onDay(at(ev), day)
		},
	}
}

// walk visits the buckets from the day of s to the day of e. The first and
// last day are filtered by exact time; interior days are taken whole unless
// the filter says otherwise. Each event is yielded at most once.
func (c *CalendarDayIndex) walk(s, e time.Time, f rangeFilter, ordered bool, yield func(*types.Event) bool) {
	sd, ed := types.DayOf(s), types.DayOf(e)
	if sd > ed {
		return
	}
	seen := make(map[string]struct{})
	c.days.ascendRange(sd, ed+types.SecondsPerDay, func(day int64, b dayBucket) bool {
		for _, ev := range bucketEvents(b, ordered) {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			var keep bool
			switch {
			case day == sd || day == ed:
				keep = f.edge(ev)
			case f.interior != nil:
				keep = f.interior(ev, day)
			default:
				keep = true
			}
			if !keep {
				continue
			}
			seen[ev.ID] = struct{}{}
			if !yield(ev) {
				return false
			}
		}
		return true
	})
}

func bucketEvents(b dayBucket, ordered bool) []*types.Event {
	out := make([]*types.Event, 0, len(b))
	for _, ev := range b {
		out = append(out, ev)
	}
	if ordered {
		sortEvents(out)
	}
	return out
}

func (c *CalendarDayIndex) collect(s, e time.Time, f rangeFilter) EventSet {
	res := newEventSet()
	c.walk(s, e, f, false, func(ev *types.Event) bool {
		res[ev.ID] = ev
		return true
	})
	return res
}

// GetObjectsIn returns events overlapping [s, e]: end >= s and start < e.
func (c *CalendarDayIndex) GetObjectsIn(s, e time.Time) EventSet {
	return c.collect(s, e, overlapFilter(s, e))
}

// GetObjectsStartingIn returns events with s <= start < e.
func (c *CalendarDayIndex) GetObjectsStartingIn(s, e time.Time) EventSet {
	return c.collect(s, e, pointFilter(s, e, func(ev *types.Event) time.Time { return ev.Start }))
}

// GetObjectsEndingIn returns events with s <= end < e.
func (c *CalendarDayIndex) GetObjectsEndingIn(s, e time.Time) EventSet {
	return c.collect(s, e, pointFilter(s, e, func(ev *types.Event) time.Time { return ev.End }))
}

// IterateObjectsIn lazily yields the events overlapping [s, e], day by day in
// ascending order and by start time within a day. The sequence can be ranged
// over repeatedly; the index must not be mutated while it runs.
func (c *CalendarDayIndex) IterateObjectsIn(s, e time.Time) iter.Seq[*types.Event] {
	f := overlapFilter(s, e)
	return func(yield func(*types.Event) bool) {
		c.walk(s, e, f, true, yield)
	}
}

// IterateObjectsInDays yields every event filed between the day of s and the
// day of e inclusive, ignoring the time of day.
func (c *CalendarDayIndex) IterateObjectsInDays(s, e time.Time) iter.Seq[*types.Event] {
	all := rangeFilter{edge: func(*types.Event) bool { return true }}
	return func(yield func(*types.Event) bool) {
		c.walk(s, e, all, true, yield)
	}
}

// HasObjectsAfter reports whether any bucket lies after the day of d.
func (c *CalendarDayIndex) HasObjectsAfter(d time.Time) bool {
	last, ok := c.days.maxKey()
	return ok && last > types.DayOf(d)
}

// Dump lists day buckets in key order, IDs sorted within a bucket.
func (c *CalendarDayIndex) Dump() []Entry {
	return c.dump("")
}

func (c *CalendarDayIndex) dump(category string) []Entry {
	var out []Entry
	c.days.ascend(func(day int64, b dayBucket) bool {
		ids := make([]string, 0, len(b))
		for id := range b {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			out = append(out, Entry{Category: category, Side: SideDay, Key: day, EventID: id})
		}
		return true
	})
	return out
}

// Stats returns bucket and entry counts.
func (c *CalendarDayIndex) Stats() Stats {
	var st Stats
	c.days.ascend(func(_ int64, b dayBucket) bool {
		st.Buckets++
		st.Entries += len(b)
		return true
	})
	st.MinKey, _ = c.days.minKey()
	st.MaxKey, _ = c.days.maxKey()
	return st
}

func (c *CalendarDayIndex) empty() bool {
	return c.days.len() == 0
}

func (c *CalendarDayIndex) reset() {
	c.days.clear()
	c.spans = make(map[string]daySpan)
}

func (c *CalendarDayIndex) restore(entries []Entry, lookup EventLookup) error {
	c.reset()
	for _, e := range entries {
		if err := c.restoreEntry(e, lookup); err != nil {
			return err
		}
	}
	return nil
}

// restoreEntry refiles one persisted membership. Events missing from the
// store come back as placeholders so Check can report them.
func (c *CalendarDayIndex) restoreEntry(e Entry, lookup EventLookup) error {
	if e.Side != SideDay {
		return errors.NewErrorWithCause("ErrSnapshotCorrupted",
			"day index snapshot", fmt.Errorf("unexpected side %q for event %s", e.Side, e.EventID))
	}
	if e.Key != types.DayKey(e.Key) {
		return errors.NewErrorWithCause("ErrSnapshotCorrupted",
			"day index snapshot", fmt.Errorf("key %d of event %s is not a day boundary", e.Key, e.EventID))
	}
	ev, ok := lookup.LookupEvent(e.EventID)
	if !ok {
		ev = &types.Event{ID: e.EventID, Start: types.TimeOf(e.Key), End: types.TimeOf(e.Key)}
	}
	c.days.getOrCreate(e.Key, newDayBucket)[e.EventID] = ev
	sp, found := c.spans[e.EventID]
	if !found {
		sp = daySpan{first: e.Key, last: e.Key}
	}
	c.spans[e.EventID] = daySpan{first: min(sp.first, e.Key), last: max(sp.last, e.Key)}
	return nil
}

// Check verifies every day bucket against lookup.
func (c *CalendarDayIndex) Check(lookup EventLookup) iter.Seq[string] {
	return func(yield func(string) bool) {
		c.check("", lookup, yield)
	}
}

func (c *CalendarDayIndex) check(category string, lookup EventLookup, yield func(string) bool) bool {
	where := scope("calendarDay", category)
	owned := make(map[string]struct{})
	ok := true
	c.days.ascend(func(day int64, b dayBucket) bool {
		for _, stored := range bucketEvents(b, true) {
			id := stored.ID
			ev, found := lookup.LookupEvent(id)
			switch {
			case !found:
				ok = yield(fmt.Sprintf("%s: day %s holds event %s which no longer exists",
					where, fmtKey(day), id))
			case day < types.DayOf(ev.Start) || day > types.DayOf(ev.End):
				ok = yield(fmt.Sprintf("%s: event %s filed under day %s but runs %s to %s",
					where, id, fmtKey(day), ev.Start.UTC().Format(time.RFC3339), ev.End.UTC().Format(time.RFC3339)))
			case category != "":
				if _, done := owned[id]; done {
					break
				}
				owned[id] = struct{}{}
				if !ev.OnPath(category) {
					ok = yield(fmt.Sprintf("%s: event %s is not owned by category %s (path %v)",
						where, id, category, ev.OwnerPath))
				}
			}
			if !ok {
				return false
			}
		}
		return true
	})
	return ok
}

package index

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haorendashu/catindex/src/types"
)

func calendarFixture(t *testing.T) (*CalendarIndex, []*eventFixture) {
	t.Helper()
	evs := []*eventFixture{
		{id: "A", start: "2020-01-10T09:00:00Z", end: "2020-01-12T17:00:00Z"},
		{id: "B", start: "2020-01-12T17:00:00Z", end: "2020-01-13T00:00:00Z"},
		{id: "C", start: "2020-01-05T00:00:00Z", end: "2020-01-06T00:00:00Z"},
	}
	idx := NewCalendarIndex()
	for _, f := range evs {
		f.ev = newEvent(t, f.id, f.start, f.end)
		idx.IndexConf(f.ev)
	}
	return idx, evs
}

type eventFixture struct {
	id, start, end string
	ev             *types.Event
}

func TestCalendarIndexQueries(t *testing.T) {
	idx, _ := calendarFixture(t)
	at := func(s string) time.Time { return mustTime(t, s) }

	tests := []struct {
		name string
		got  IDSet
		want []string
	}{
		{"overlap end boundary inclusive",
			idx.GetObjectsIn(at("2020-01-12T17:00:00Z"), at("2020-01-13T00:00:00Z")), []string{"A", "B"}},
		{"overlap start boundary exclusive",
			idx.GetObjectsIn(at("2020-01-06T00:00:00Z"), at("2020-01-10T09:00:00Z")), []string{"C"}},
		{"overlap nothing",
			idx.GetObjectsIn(at("2020-01-07T00:00:00Z"), at("2020-01-08T00:00:00Z")), []string{}},
		{"starting in",
			idx.GetObjectsStartingIn(at("2020-01-10T00:00:00Z"), at("2020-01-13T00:00:00Z")), []string{"A", "B"}},
		{"ending in",
			idx.GetObjectsEndingIn(at("2020-01-13T00:00:00Z"), at("2020-01-14T00:00:00Z")), []string{"B"}},
		{"starting after",
			idx.GetObjectsStartingAfter(at("2020-01-12T17:00:00Z")), []string{"B"}},
		{"ending after",
			idx.GetObjectsEndingAfter(at("2020-01-12T17:00:00Z")), []string{"A", "B"}},
		{"in day",
			idx.GetObjectsInDay(at("2020-01-12T08:00:00Z")), []string{"A", "B"}},
		{"starting in day",
			idx.GetObjectsStartingInDay(at("2020-01-12T08:00:00Z")), []string{"B"}},
		{"ending in day",
			idx.GetObjectsEndingInDay(at("2020-01-12T08:00:00Z")), []string{"A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got.Sorted())
		})
	}
}

func TestCalendarIndexSkipsOutOfRangeDates(t *testing.T) {
	idx := NewCalendarIndex()
	future := newEvent(t, "F", "2040-01-01T00:00:00Z", "2040-01-02T00:00:00Z")
	straddling := newEvent(t, "S", "2037-12-31T00:00:00Z", "2040-01-02T00:00:00Z")

	idx.IndexConf(future)
	idx.IndexConf(straddling)

	if got := idx.Dump(); len(got) != 0 {
		t.Fatalf("expected no buckets, got %v", got)
	}
	res := idx.GetObjectsIn(mustTime(t, "2030-01-01T00:00:00Z"), mustTime(t, "2041-01-01T00:00:00Z"))
	assert.Zero(t, res.Len())
	assert.False(t, idx.HasObjectsAfter(mustTime(t, "2000-01-01T00:00:00Z")))

	// Nothing was indexed, so nothing to remove.
	idx.UnindexConf(future)
	assert.Empty(t, idx.Dump())
}

func TestCalendarIndexDeduplicates(t *testing.T) {
	idx := NewCalendarIndex()
	ev := newEvent(t, "A", "2020-01-10T09:00:00Z", "2020-01-10T10:00:00Z")

	idx.IndexConf(ev)
	idx.IndexConf(ev)

	st := idx.Stats()
	assert.Equal(t, 2, st.Buckets)
	assert.Equal(t, 2, st.Entries)
}

func TestCalendarIndexRoundTrip(t *testing.T) {
	idx, _ := calendarFixture(t)
	before := idx.Dump()

	extra := []*types.Event{
		newEvent(t, "X", "2020-01-10T09:00:00Z", "2020-01-12T17:00:00Z"), // shares A's buckets
		newEvent(t, "Y", "2021-03-01T00:00:00Z", "2021-03-02T00:00:00Z"),
	}
	for _, ev := range extra {
		idx.IndexConf(ev)
		require.NotEqual(t, before, idx.Dump())
		idx.UnindexConf(ev)
		require.Equal(t, before, idx.Dump(), "after removing %s", ev.ID)
	}
}

func TestCalendarIndexUnindexAfterDateDrift(t *testing.T) {
	idx, evs := calendarFixture(t)
	a := evs[0].ev

	// Dates edited in place without unindexing first.
	a.Start = a.Start.Add(36 * time.Hour)
	a.End = a.End.Add(36 * time.Hour)
	idx.UnindexConf(a)

	for _, e := range idx.Dump() {
		if e.EventID == "A" {
			t.Fatalf("stale entry left behind: %+v", e)
		}
	}
	assert.Equal(t, 4, idx.Stats().Entries)

	idx.IndexConf(a)
	got := idx.GetObjectsInDay(mustTime(t, "2020-01-13T12:00:00Z"))
	assert.True(t, got.Has("A"))
}

func TestCalendarIndexHasObjectsAfter(t *testing.T) {
	idx, _ := calendarFixture(t)

	assert.True(t, idx.HasObjectsAfter(mustTime(t, "2020-01-12T23:59:59Z")))
	assert.False(t, idx.HasObjectsAfter(mustTime(t, "2020-01-13T00:00:00Z")))
	assert.False(t, NewCalendarIndex().HasObjectsAfter(time.Time{}))
}

func TestCalendarIndexCheck(t *testing.T) {
	idx, evs := calendarFixture(t)
	a, c := evs[0].ev.Clone(), evs[2].ev

	// A moved one hour later in the store, B was deleted.
	a.Start = a.Start.Add(time.Hour)
	anomalies := collectStrings(idx.Check(lookupOf(a, c)))

	require.Len(t, anomalies, 3)
	joined := strings.Join(anomalies, "\n")
	assert.Contains(t, joined, "event A filed under start 2020-01-10T09:00:00Z but its start is 2020-01-10T10:00:00Z")
	assert.Contains(t, joined, "start bucket 2020-01-12T17:00:00Z holds event B which no longer exists")
	assert.Contains(t, joined, "end bucket 2020-01-13T00:00:00Z holds event B which no longer exists")

	// Stopping early is honoured.
	n := 0
	for range idx.Check(lookupOf()) {
		n++
		break
	}
	assert.Equal(t, 1, n)

	clean := collectStrings(idx.Check(lookupOf(evs[0].ev, evs[1].ev, evs[2].ev)))
	assert.Empty(t, clean)
}

func TestCalendarIndexRestore(t *testing.T) {
	idx, evs := calendarFixture(t)
	entries := idx.Dump()

	other := NewCalendarIndex()
	require.NoError(t, other.restore(entries, lookupOf()))
	assert.Equal(t, entries, other.Dump())
	assert.Equal(t, idx.Stats(), other.Stats())

	other.UnindexConf(evs[1].ev)
	assert.False(t, other.GetObjectsInDay(mustTime(t, "2020-01-12T00:00:00Z")).Has("B"))

	err := other.restore([]Entry{{Side: SideDay, Key: 0, EventID: "A"}}, lookupOf())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected side")
}

// randomEvents returns n in-range events spread over roughly two months of
// 2020, with durations from zero to several days.
func randomEvents(rng *rand.Rand, n int) []*types.Event {
	base := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*types.Event, 0, n)
	for i := 0; i < n; i++ {
		start := base.Add(time.Duration(rng.Intn(60*24)) * 30 * time.Minute)
		dur := time.Duration(rng.Intn(5*24*4)) * 15 * time.Minute
		if rng.Intn(5) == 0 {
			dur = 0
		}
		out = append(out, &types.Event{
			ID:         "ev" + strconv.Itoa(i),
			Start:      start,
			End:        start.Add(dur),
			Visibility: types.DefaultVisibility,
		})
	}
	return out
}

func bruteForce(evs []*types.Event, keep func(*types.Event) bool) []string {
	set := newIDSet()
	for _, ev := range evs {
		if keep(ev) {
			set[ev.ID] = struct{}{}
		}
	}
	return set.Sorted()
}

func TestCalendarIndexesMatchBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	evs := randomEvents(rng, 300)

	cal := NewCalendarIndex()
	day := NewCalendarDayIndex()
	for _, ev := range evs {
		cal.IndexConf(ev)
		day.IndexConf(ev)
	}

	base := time.Date(2020, 2, 25, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		s := base.Add(time.Duration(rng.Intn(75*24*4)) * 15 * time.Minute)
		e := s.Add(time.Duration(rng.Intn(10*24*4)) * 15 * time.Minute)

		overlap := bruteForce(evs, func(ev *types.Event) bool {
			return !ev.End.Before(s) && ev.Start.Before(e)
		})
		starting := bruteForce(evs, func(ev *types.Event) bool {
			return !ev.Start.Before(s) && ev.Start.Before(e)
		})
		ending := bruteForce(evs, func(ev *types.Event) bool {
			return !ev.End.Before(s) && ev.End.Before(e)
		})

		require.Equal(t, overlap, cal.GetObjectsIn(s, e).Sorted(), "calendar overlap %s..%s", s, e)
		require.Equal(t, overlap, day.GetObjectsIn(s, e).IDs(), "day overlap %s..%s", s, e)
		require.Equal(t, starting, cal.GetObjectsStartingIn(s, e).Sorted(), "calendar starting %s..%s", s, e)
		require.Equal(t, starting, day.GetObjectsStartingIn(s, e).IDs(), "day starting %s..%s", s, e)
		require.Equal(t, ending, cal.GetObjectsEndingIn(s, e).Sorted(), "calendar ending %s..%s", s, e)
		require.Equal(t, ending, day.GetObjectsEndingIn(s, e).IDs(), "day ending %s..%s", s, e)

		iterated := collectIDs(day.IterateObjectsIn(s, e))
		require.ElementsMatch(t, overlap, iterated)
	}
}

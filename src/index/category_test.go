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

// testTree builds
//
//	0
//	└── 1
//	    ├── 2
//	    │   └── 3
//	    └── 4
func testTree() (root *types.Category, cats map[string]*types.Category) {
	cats = make(map[string]*types.Category)
	root = types.NewCategory(types.RootCategoryID, "root")
	cats[root.ID] = root
	for _, link := range [][2]string{{"1", "0"}, {"2", "1"}, {"3", "2"}, {"4", "1"}} {
		c := types.NewCategory(link[0], "cat "+link[0])
		parent := cats[link[1]]
		c.Parent = parent
		parent.SubCategories = append(parent.SubCategories, c)
		cats[c.ID] = c
	}
	return root, cats
}

func addTo(c *types.Category, ev *types.Event, visibility int) *types.Event {
	ev.OwnerPath = c.OwnerPath()
	ev.Visibility = visibility
	c.Events = append(c.Events, ev)
	return ev
}

func TestFanOut(t *testing.T) {
	path := []string{"3", "2", "1"}
	tests := []struct {
		name       string
		policy     Policy
		visibility int
		want       []string
	}{
		{"hidden", DepthLimited, 0, []string{}},
		{"own category only", DepthLimited, 1, []string{"3"}},
		{"one ancestor", DepthLimited, 2, []string{"3", "2"}},
		{"whole path but not root", DepthLimited, 3, []string{"3", "2", "1"}},
		{"root once past the path", DepthLimited, 4, []string{"3", "2", "1", "0"}},
		{"default visibility", DepthLimited, types.DefaultVisibility, []string{"3", "2", "1", "0"}},
		{"negative visibility", DepthLimited, -2, []string{}},
		{"unrestricted ignores visibility", Unrestricted, 0, []string{"3", "2", "1", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &types.Event{ID: "e", OwnerPath: path, Visibility: tt.visibility}
			assert.Equal(t, tt.want, fanOut(ev, tt.policy))
		})
	}

	t.Run("stray root in path", func(t *testing.T) {
		ev := &types.Event{ID: "e", OwnerPath: []string{"3", "0"}, Visibility: 2}
		assert.Equal(t, []string{"3", "0"}, fanOut(ev, DepthLimited))
	})
	t.Run("event at the root", func(t *testing.T) {
		ev := &types.Event{ID: "e", Visibility: 1}
		assert.Equal(t, []string{"0"}, fanOut(ev, DepthLimited))
	})
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{DepthLimited, Unrestricted} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePolicy("everything")
	assert.Error(t, err)
	assert.Equal(t, "Policy(7)", Policy(7).String())
}

func TestCategoryDayIndexVisibilityBoundary(t *testing.T) {
	_, cats := testTree()
	s, e := mustTime(t, "2020-01-01T00:00:00Z"), mustTime(t, "2020-02-01T00:00:00Z")

	// Path 3 -> 2 -> 1 has length 3.
	for visibility := 0; visibility <= 4; visibility++ {
		idx := NewCategoryDayIndex(DepthLimited)
		ev := addTo(cats["3"], newEvent(t, "E", "2020-01-10T09:00:00Z", "2020-01-10T10:00:00Z"), visibility)
		idx.IndexConf(ev)

		for level, cat := range []string{"3", "2", "1"} {
			got := collectIDs(idx.IterateObjectsIn(cat, s, e))
			if level < visibility {
				assert.Equal(t, []string{"E"}, got, "visibility %d category %s", visibility, cat)
			} else {
				assert.Empty(t, got, "visibility %d category %s", visibility, cat)
			}
		}
		atRoot := idx.GetObjectsIn(types.RootCategoryID, s, e).Has("E")
		assert.Equal(t, visibility > 3, atRoot, "visibility %d at root", visibility)
		assert.Empty(t, collectIDs(idx.IterateObjectsIn("4", s, e)))
	}
}

func TestCategoryLayerUnknownCategory(t *testing.T) {
	d := mustTime(t, "2020-01-10T00:00:00Z")

	day := NewCategoryDayIndex(DepthLimited)
	assert.Zero(t, day.GetObjectsIn("nope", d, d.Add(time.Hour)).Len())
	assert.Zero(t, day.GetObjectsInDay("nope", d).Len())
	assert.Zero(t, day.GetObjectsStartingIn("nope", d, d.Add(time.Hour)).Len())
	assert.False(t, day.HasObjectsAfter("nope", d))
	assert.Empty(t, collectIDs(day.IterateObjectsIn("nope", d, d.Add(time.Hour))))

	date := NewCategoryDateIndex(DepthLimited)
	assert.Zero(t, date.GetObjectsIn("nope", d, d.Add(time.Hour)).Len())
	assert.Zero(t, date.GetObjectsInDay("nope", d).Len())
	assert.False(t, date.HasObjectsAfter("nope", d))
	_, ok := date.Leaf("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{}, NewCategoryIndex(DepthLimited).GetItems("nope"))
}

func TestCategoryLayerFollowsMovedEvent(t *testing.T) {
	_, cats := testTree()
	idx := NewCategoryDateIndex(DepthLimited)
	ev := addTo(cats["3"], newEvent(t, "E", "2020-01-10T09:00:00Z", "2020-01-10T10:00:00Z"), types.DefaultVisibility)
	idx.IndexConf(ev)
	assert.Equal(t, []string{"3", "2", "1", "0"}, idx.Placement("E"))

	// Moved to 4 without unindexing first.
	ev.OwnerPath = cats["4"].OwnerPath()
	idx.ReindexConf(ev)

	assert.Equal(t, []string{"0", "1", "4"}, idx.Categories())
	assert.Equal(t, []string{"4", "1", "0"}, idx.Placement("E"))
	d := mustTime(t, "2020-01-10T00:00:00Z")
	assert.False(t, idx.GetObjectsInDay("3", d).Has("E"))
	assert.True(t, idx.GetObjectsInDay("4", d).Has("E"))
	assert.Empty(t, collectStrings(idx.Check(lookupOf(ev))))
}

func TestCategoryLayerRoundTrip(t *testing.T) {
	root, cats := testTree()
	addTo(cats["3"], newEvent(t, "p1", "2020-01-10T09:00:00Z", "2020-01-11T10:00:00Z"), types.DefaultVisibility)
	addTo(cats["4"], newEvent(t, "b1", "2020-01-10T09:00:00Z", "2020-01-10T10:00:00Z"), 1)

	extra := addTo(cats["2"], newEvent(t, "x", "2020-01-10T09:00:00Z", "2020-01-12T10:00:00Z"), 2)
	cats["2"].Events = nil

	for _, idx := range []EventIndex{
		NewCategoryIndex(DepthLimited),
		NewCategoryDateIndex(DepthLimited),
		NewCategoryDayIndex(Unrestricted),
	} {
		indexCateg(idx, root)
		before := idx.Dump()
		beforeStats := idx.Stats()

		idx.IndexConf(extra)
		require.NotEqual(t, before, idx.Dump())
		idx.UnindexConf(extra)

		assert.Equal(t, before, idx.Dump())
		assert.Equal(t, beforeStats, idx.Stats())
	}
}

// randomTree builds a tree of n categories under the root with events of
// random visibility spread over it.
func randomTree(t *testing.T, rng *rand.Rand, n, events int) (*types.Category, []*types.Event) {
	t.Helper()
	root := types.NewCategory(types.RootCategoryID, "root")
	all := []*types.Category{root}
	for i := 1; i <= n; i++ {
		parent := all[rng.Intn(len(all))]
		c := types.NewCategory(strconv.Itoa(i), "cat")
		c.Parent = parent
		parent.SubCategories = append(parent.SubCategories, c)
		all = append(all, c)
	}

	evs := randomEvents(rng, events)
	for _, ev := range evs {
		addTo(all[1+rng.Intn(n)], ev, rng.Intn(6))
	}
	return root, evs
}

func TestCategoryLayerRebuildEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	root, evs := randomTree(t, rng, 25, 250)

	build := func() []EventIndex {
		return []EventIndex{
			NewCategoryIndex(DepthLimited),
			NewCategoryDateIndex(DepthLimited),
			NewCategoryDateIndex(Unrestricted),
			NewCategoryDayIndex(DepthLimited),
			NewCategoryDayIndex(Unrestricted),
		}
	}
	incremental, rebuilt := build(), build()

	shuffled := append([]*types.Event(nil), evs...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	for i := range incremental {
		for _, ev := range shuffled {
			incremental[i].IndexConf(ev)
		}
		indexCateg(rebuilt[i], root)
		require.Equal(t, normalized(incremental[i].Dump()), normalized(rebuilt[i].Dump()))
	}

	// Same answers from both for a sample of categories and ranges.
	a, b := incremental[3].(*CategoryDayIndex), rebuilt[3].(*CategoryDayIndex)
	for i := 0; i < 100; i++ {
		cat := strconv.Itoa(rng.Intn(26))
		s := time.Date(2020, 3, 1+rng.Intn(60), rng.Intn(24), 0, 0, 0, time.UTC)
		e := s.Add(time.Duration(rng.Intn(96)) * time.Hour)
		require.Equal(t, a.GetObjectsIn(cat, s, e).IDs(), b.GetObjectsIn(cat, s, e).IDs())
		require.Equal(t, collectIDs(a.IterateObjectsIn(cat, s, e)), collectIDs(b.IterateObjectsIn(cat, s, e)))
	}

	// ReindexCateg on the whole tree is a no-op on content.
	rebuiltDay := rebuilt[3].(*CategoryDayIndex)
	before := normalized(rebuiltDay.Dump())
	rebuiltDay.ReindexCateg(root)
	assert.Equal(t, before, normalized(rebuiltDay.Dump()))

	rebuiltDay.UnindexCateg(root)
	assert.Empty(t, rebuiltDay.Dump())
	assert.Zero(t, rebuiltDay.Stats().Categories)
}

func TestUnrestrictedRootIsSuperset(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	root, _ := randomTree(t, rng, 15, 120)

	idx := NewCategoryDateIndex(Unrestricted)
	idx.IndexCateg(root)

	s, e := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	atRoot := idx.GetObjectsIn(types.RootCategoryID, s, e)
	for _, cat := range idx.Categories() {
		for id := range idx.GetObjectsIn(cat, s, e) {
			require.True(t, atRoot.Has(id), "event %s of category %s missing at the root", id, cat)
		}
	}
}

func TestCategoryIndexItems(t *testing.T) {
	root, cats := testTree()
	p1 := addTo(cats["3"], newEvent(t, "p1", "2020-01-10T09:00:00Z", "2020-01-10T10:00:00Z"), types.DefaultVisibility)
	addTo(cats["3"], newEvent(t, "p2", "2020-01-11T09:00:00Z", "2020-01-11T10:00:00Z"), 1)
	addTo(cats["4"], newEvent(t, "b1", "2020-01-12T09:00:00Z", "2020-01-12T10:00:00Z"), 2)

	idx := NewCategoryIndex(DepthLimited)
	idx.IndexCateg(root)

	assert.Equal(t, []string{"p1", "p2"}, idx.GetItems("3"))
	assert.Equal(t, []string{"p1"}, idx.GetItems("2"))
	assert.Equal(t, []string{"p1", "b1"}, idx.GetItems("1"))
	assert.Equal(t, []string{"p1"}, idx.GetItems("0"))

	// The returned slice is a copy.
	items := idx.GetItems("3")
	items[0] = "mutated"
	assert.Equal(t, "p1", idx.GetItems("3")[0])

	idx.UnindexConfByID(p1.ID)
	assert.Equal(t, []string{"p2"}, idx.GetItems("3"))
	assert.Equal(t, []string{"b1"}, idx.GetItems("1"))
	assert.Equal(t, []string{"1", "3", "4"}, idx.Categories())
	assert.Empty(t, idx.Placement("p1"))

	st := idx.Stats()
	assert.Equal(t, 3, st.Categories)
	assert.Equal(t, 3, st.Entries)
}

func TestCategoryLayerCheck(t *testing.T) {
	_, cats := testTree()
	p1 := addTo(cats["3"], newEvent(t, "p1", "2020-01-10T09:00:00Z", "2020-01-10T10:00:00Z"), types.DefaultVisibility)

	t.Run("visibility lowered in the store", func(t *testing.T) {
		idx := NewCategoryIndex(DepthLimited)
		idx.IndexConf(p1)

		lowered := p1.Clone()
		lowered.Visibility = 1
		anomalies := collectStrings(idx.Check(lookupOf(lowered)))
		require.Len(t, anomalies, 3)
		for i, cat := range []string{"2", "1", "0"} {
			assert.Equal(t, "category: event p1 filed under category "+cat+" beyond its visibility 1", anomalies[i])
		}
	})

	t.Run("entry outside the owner path", func(t *testing.T) {
		idx := NewCategoryIndex(DepthLimited)
		require.NoError(t, idx.restore([]Entry{{Category: "4", Side: SideMember, EventID: "p1"}}, lookupOf(p1)))

		anomalies := collectStrings(idx.Check(lookupOf(p1)))
		require.Len(t, anomalies, 1)
		assert.Equal(t, "category[4]: event p1 is not owned by category 4 (path [3 2 1])", anomalies[0])
	})

	t.Run("deleted event and drifted dates", func(t *testing.T) {
		idx := NewCategoryDateIndex(DepthLimited)
		idx.IndexConf(p1)
		moved := p1.Clone()
		moved.End = moved.End.Add(time.Hour)

		anomalies := collectStrings(idx.Check(lookupOf(moved)))
		require.Len(t, anomalies, 4)
		assert.True(t, strings.HasPrefix(anomalies[0], "calendar[0]: event p1 filed under end"))

		anomalies = collectStrings(idx.Check(lookupOf()))
		assert.Len(t, anomalies, 8) // start and end in four categories
	})

	t.Run("snapshot without category", func(t *testing.T) {
		idx := NewCategoryDayIndex(DepthLimited)
		err := idx.restore([]Entry{{Side: SideDay, EventID: "p1"}}, lookupOf(p1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no category")
	})
}

func TestCategoryDayIndexMultiCategoryHelpers(t *testing.T) {
	root, cats := testTree()
	addTo(cats["3"], newEvent(t, "p1", "2020-01-10T09:00:00Z", "2020-01-10T10:00:00Z"), 1)
	addTo(cats["4"], newEvent(t, "b1", "2020-01-12T09:00:00Z", "2020-01-13T10:00:00Z"), 2)

	idx := NewCategoryDayIndex(DepthLimited)
	idx.IndexCateg(root)

	s, e := mustTime(t, "2020-01-01T00:00:00Z"), mustTime(t, "2020-02-01T00:00:00Z")
	assert.Equal(t, []string{"p1", "b1"}, collectIDs(idx.IterateObjectsInAll([]string{"3", "1", "4"}, s, e)))

	d := mustTime(t, "2020-01-12T12:00:00Z")
	assert.False(t, idx.HasObjectsAfter("3", d))
	assert.True(t, idx.HasObjectsAfter("1", d))
	assert.True(t, idx.HasObjectsAfterAny([]string{"3", "4"}, d))
	assert.False(t, idx.HasObjectsAfterAny([]string{"3", "2"}, d))

	assert.True(t, idx.GetObjectsStartingIn("1", s, e).Has("b1"))
	assert.True(t, idx.GetObjectsInDay("4", mustTime(t, "2020-01-13T00:00:00Z")).Has("b1"))
	leaf, ok := idx.Leaf("4")
	require.True(t, ok)
	assert.Equal(t, 2, leaf.Stats().Buckets)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haorendashu/catindex/src/catalog"
	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/index"
	"github.com/haorendashu/catindex/src/logging"
	"github.com/haorendashu/catindex/src/types"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), MemoryPath, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openMemory(t)
	for _, table := range []string{"snapshots", "index_entries", "categories", "events"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
	assert.Equal(t, MemoryPath, s.Path())

	assert.Error(t, s.Open(context.Background(), MemoryPath), "already open")
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := openMemory(t)
	b := openMemory(t)

	require.NoError(t, a.SaveSnapshot(ctx, "calendar", []index.Entry{{Side: index.SideStart, Key: 1, EventID: "x"}}))
	_, found, err := b.LoadSnapshot(ctx, "calendar")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	_, found, err := s.LoadSnapshot(ctx, "categoryDate")
	require.NoError(t, err)
	assert.False(t, found)

	entries := []index.Entry{
		{Category: "1", Side: index.SideStart, Key: 1700000000, EventID: "b"},
		{Category: "1", Side: index.SideStart, Key: 1700000000, EventID: "a"},
		{Category: "1", Side: index.SideEnd, Key: 1700003600, EventID: "a"},
		{Category: "0", Side: index.SideEnd, Key: -5, EventID: "old"},
	}
	require.NoError(t, s.SaveSnapshot(ctx, "categoryDate", entries))

	got, found, err := s.LoadSnapshot(ctx, "categoryDate")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entries, got, "order is preserved")

	// Saving again replaces the snapshot, and an empty save is still found.
	require.NoError(t, s.SaveSnapshot(ctx, "categoryDate", nil))
	got, found, err = s.LoadSnapshot(ctx, "categoryDate")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, got)

	infos, err := s.Snapshots(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "categoryDate", infos[0].Name)
	assert.Equal(t, 0, infos[0].Entries)
	assert.WithinDuration(t, time.Now(), infos[0].SavedAt, time.Minute)
}

func TestSnapshotCountMismatch(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	require.NoError(t, s.SaveSnapshot(ctx, "calendar", []index.Entry{{Side: index.SideStart, Key: 1, EventID: "x"}}))

	_, err := s.db.Exec("UPDATE snapshots SET entries = 2 WHERE index_name = 'calendar'")
	require.NoError(t, err)

	_, _, err = s.LoadSnapshot(ctx, "calendar")
	assert.True(t, errors.IsSnapshotCorrupted(err))
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, MemoryPath, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.SaveSnapshot(ctx, "calendar", nil), errors.ErrStorageNotInitialized)
	_, _, err = s.LoadSnapshot(ctx, "calendar")
	assert.ErrorIs(t, err, errors.ErrStorageNotInitialized)
	_, _, _, err = s.LoadCatalog(ctx)
	assert.ErrorIs(t, err, errors.ErrStorageNotInitialized)
	assert.Error(t, s.Close())
}

func TestCatalogRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	_, _, found, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	start := time.Date(2024, 3, 1, 9, 30, 0, 123, time.UTC)
	cats := []types.CategoryRecord{
		{ID: types.RootCategoryID, Title: "Home", Visibility: 999},
		{ID: "1", ParentID: "0", Title: "Physics", Visibility: 2},
		{ID: "2", ParentID: "1", Title: "HEP", Visibility: 999, Position: 0},
		{ID: "3", ParentID: "0", Title: "Chemistry", Visibility: 999, Position: 1},
	}
	evs := []types.EventRecord{
		{ID: "a", CategoryID: "2", Title: "Talk", Start: start, End: start.Add(time.Hour), Visibility: 1},
		{ID: "b", CategoryID: "2", Title: "Lunch", Start: start, End: start, Visibility: 999, Position: 1},
	}
	require.NoError(t, s.SaveCatalog(ctx, cats, evs))

	gotCats, gotEvs, found, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.ElementsMatch(t, cats, gotCats)
	require.Len(t, gotEvs, 2)
	assert.Equal(t, "a", gotEvs[0].ID)
	assert.True(t, start.Equal(gotEvs[0].Start))
	assert.True(t, start.Add(time.Hour).Equal(gotEvs[0].End))
	assert.Equal(t, 1, gotEvs[0].Visibility)
	assert.Equal(t, "b", gotEvs[1].ID)

	// A second save replaces the first.
	require.NoError(t, s.SaveCatalog(ctx, cats[:1], nil))
	gotCats, gotEvs, _, err = s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, gotCats, 1)
	assert.Empty(t, gotEvs)
}

// TestRegistryPersistence flushes a populated registry to a file database,
// reopens it and restores both the catalog and the indexes.
func TestRegistryPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catindex.db")

	s, err := Open(ctx, path, Options{Logger: logging.Discard()})
	require.NoError(t, err)

	reg, err := index.NewRegistry(index.Options{Snapshotter: s, Logger: logging.Discard()})
	require.NoError(t, err)
	cat := catalog.New(reg, logging.Discard())
	_, err = cat.AddCategory(types.CategoryRecord{ID: "1", Title: "Physics", Visibility: 999})
	require.NoError(t, err)
	_, err = cat.AddCategory(types.CategoryRecord{ID: "2", ParentID: "1", Title: "HEP", Visibility: 1})
	require.NoError(t, err)
	day := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		start := day.AddDate(0, 0, i)
		_, err := cat.AddEvent(types.EventRecord{ID: id, CategoryID: []string{"1", "2", "2"}[i], Start: start, End: start.Add(30 * time.Hour), Visibility: 999})
		require.NoError(t, err)
	}

	require.NoError(t, reg.Flush(ctx))
	assert.Empty(t, reg.Dirty())
	cats, evs := cat.Export()
	require.NoError(t, s.SaveCatalog(ctx, cats, evs))
	require.NoError(t, s.Close())

	// Reopen.
	s, err = Open(ctx, path, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer s.Close()

	cats, evs, found, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	require.True(t, found)
	restored, err := catalog.FromRecords(cats, evs, nil, logging.Discard())
	require.NoError(t, err)

	reg2, err := index.NewRegistry(index.Options{Snapshotter: s, Logger: logging.Discard()})
	require.NoError(t, err)
	missing, err := reg2.Load(ctx, restored)
	require.NoError(t, err)
	assert.Empty(t, missing)
	restored.SetIndexer(reg2)

	for _, name := range index.Names() {
		want, err := reg.Dump(name)
		require.NoError(t, err)
		got, err := reg2.Dump(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	for msg := range reg2.Check(restored) {
		t.Errorf("unexpected anomaly: %s", msg)
	}

	window := [2]time.Time{day, day.AddDate(0, 0, 10)}
	dated := reg2.CategoryDate(index.NameCategoryDate)
	assert.Equal(t, []string{"b", "c"}, dated.GetObjectsIn("2", window[0], window[1]).Sorted())
	assert.Equal(t, []string{"a"}, dated.GetObjectsIn("1", window[0], window[1]).Sorted(), "HEP events stay in HEP")
	assert.Equal(t, []string{"a"}, dated.GetObjectsIn("0", window[0], window[1]).Sorted())
	assert.Equal(t, []string{"a", "b", "c"}, reg2.CategoryDate(index.NameCategoryDateAll).GetObjectsIn("0", window[0], window[1]).Sorted())

	// The restored registry keeps following catalog mutations.
	require.NoError(t, restored.RemoveEvent("b"))
	assert.Equal(t, []string{"c"}, reg2.CategoryDay(index.NameCategoryDay).GetObjectsIn("2", window[0], window[1]).IDs())
}

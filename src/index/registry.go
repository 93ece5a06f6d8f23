package index

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/logging"
	"github.com/haorendashu/catindex/src/metrics"
	"github.com/haorendashu/catindex/src/types"
)

// Registered index names.
const (
	NameCalendar        = "calendar"
	NameCalendarDay     = "calendarDay"
	NameCategory        = "category"
	NameCategoryDate    = "categoryDate"
	NameCategoryDateAll = "categoryDateAll"
	NameCategoryDay     = "categoryDay"
	NameCategoryDayAll  = "categoryDayAll"
)

// Names lists every index a Registry knows how to build, in flush order.
func Names() []string {
	return []string{
		NameCalendar,
		NameCalendarDay,
		NameCategory,
		NameCategoryDate,
		NameCategoryDateAll,
		NameCategoryDay,
		NameCategoryDayAll,
	}
}

func newIndex(name string) (EventIndex, bool) {
	switch name {
	case NameCalendar:
		return NewCalendarIndex(), true
	case NameCalendarDay:
		return NewCalendarDayIndex(), true
	case NameCategory:
		return NewCategoryIndex(DepthLimited), true
	case NameCategoryDate:
		return NewCategoryDateIndex(DepthLimited), true
	case NameCategoryDateAll:
		return NewCategoryDateIndex(Unrestricted), true
	case NameCategoryDay:
		return NewCategoryDayIndex(DepthLimited), true
	case NameCategoryDayAll:
		return NewCategoryDayIndex(Unrestricted), true
	}
	return nil, false
}

// Snapshotter persists index contents. LoadSnapshot reports found=false when
// nothing was ever saved under name.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, name string, entries []Entry) error
	LoadSnapshot(ctx context.Context, name string) (entries []Entry, found bool, err error)
}

// CheckpointFunc is called by BuildIndex after every Options.CheckpointEvery
// categories with the number of categories processed so far. Returning an
// error aborts the rebuild.
type CheckpointFunc func(ctx context.Context, categories int) error

// categIndexer is implemented by the category layer.
type categIndexer interface {
	IndexCateg(root *types.Category)
	UnindexCateg(root *types.Category)
}

// Options configures a Registry.
type Options struct {
	// Enabled lists the indexes to maintain. Empty means all of Names().
	Enabled []string

	// Snapshotter persists indexes on Flush and restores them on Load.
	// Optional; Flush and Load fail without one.
	Snapshotter Snapshotter

	// CheckpointEvery is the number of categories between BuildIndex
	// checkpoints. Zero disables checkpoints.
	CheckpointEvery int

	// Logger receives lifecycle messages. Defaults to a stderr logger.
	Logger *log.Logger

	// Metrics receives mutation and flush counters. Optional.
	Metrics *metrics.Collector
}

// Registry owns the named indexes of one process. Every mutation is applied
// to every enabled index and marks it dirty; Flush persists the dirty ones.
// A Registry is not safe for concurrent mutation.
type Registry struct {
	opts    Options
	logger  *log.Logger
	names   []string
	indexes map[string]EventIndex
	dirty   map[string]bool
	closed  bool
}

// NewRegistry builds the enabled indexes, all empty.
func NewRegistry(opts Options) (*Registry, error) {
	r := &Registry{
		opts:    opts,
		logger:  opts.Logger,
		indexes: make(map[string]EventIndex),
		dirty:   make(map[string]bool),
	}
	if r.logger == nil {
		r.logger = logging.Default("registry")
	}

	enabled := opts.Enabled
	if len(enabled) == 0 {
		enabled = Names()
	}
	for _, name := range enabled {
		if _, dup := r.indexes[name]; dup {
			continue
		}
		idx, ok := newIndex(name)
		if !ok {
			return nil, errors.NewUnknownIndex(name)
		}
		r.indexes[name] = idx
		r.names = append(r.names, name)
	}
	return r, nil
}

// Names returns the enabled index names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Get returns the named index.
func (r *Registry) Get(name string) (EventIndex, error) {
	idx, ok := r.indexes[name]
	if !ok {
		return nil, errors.NewUnknownIndex(name)
	}
	return idx, nil
}

// Calendar returns the flat calendar index, or nil when disabled.
func (r *Registry) Calendar() *CalendarIndex {
	idx, _ := r.indexes[NameCalendar].(*CalendarIndex)
	return idx
}

// CalendarDay returns the flat day index, or nil when disabled.
func (r *Registry) CalendarDay() *CalendarDayIndex {
	idx, _ := r.indexes[NameCalendarDay].(*CalendarDayIndex)
	return idx
}

// Category returns the category membership index, or nil when disabled.
func (r *Registry) Category() *CategoryIndex {
	idx, _ := r.indexes[NameCategory].(*CategoryIndex)
	return idx
}

// CategoryDate returns the named CategoryDateIndex (categoryDate or
// categoryDateAll), or nil when disabled.
func (r *Registry) CategoryDate(name string) *CategoryDateIndex {
	idx, _ := r.indexes[name].(*CategoryDateIndex)
	return idx
}

// CategoryDay returns the named CategoryDayIndex (categoryDay or
// categoryDayAll), or nil when disabled.
func (r *Registry) CategoryDay(name string) *CategoryDayIndex {
	idx, _ := r.indexes[name].(*CategoryDayIndex)
	return idx
}

func (r *Registry) touchAll() {
	for _, name := range r.names {
		r.dirty[name] = true
	}
}

func (r *Registry) observe(op string, start time.Time) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordMutation(op, time.Since(start))
	}
}

// IndexConf adds the event to every enabled index.
func (r *Registry) IndexConf(ev *types.Event) {
	start := time.Now()
	for _, name := range r.names {
		r.indexes[name].IndexConf(ev)
	}
	r.touchAll()
	r.observe(metrics.OpIndex, start)
}

// UnindexConf removes the event from every enabled index.
func (r *Registry) UnindexConf(ev *types.Event) {
	start := time.Now()
	for _, name := range r.names {
		r.indexes[name].UnindexConf(ev)
	}
	r.touchAll()
	r.observe(metrics.OpUnindex, start)
}

// ReindexConf unindexes then indexes the event everywhere.
func (r *Registry) ReindexConf(ev *types.Event) {
	start := time.Now()
	for _, name := range r.names {
		r.indexes[name].ReindexConf(ev)
	}
	r.touchAll()
	r.observe(metrics.OpReindex, start)
}

// IndexCateg indexes every event of the sub-tree rooted at root.
func (r *Registry) IndexCateg(root *types.Category) {
	start := time.Now()
	for _, name := range r.names {
		indexCateg(r.indexes[name], root)
	}
	r.touchAll()
	r.observe(metrics.OpIndexCateg, start)
}

// UnindexCateg removes every event of the sub-tree rooted at root.
func (r *Registry) UnindexCateg(root *types.Category) {
	start := time.Now()
	for _, name := range r.names {
		unindexCateg(r.indexes[name], root)
	}
	r.touchAll()
	r.observe(metrics.OpUnindexCateg, start)
}

// ReindexCateg unindexes then indexes the sub-tree rooted at root. Used
// after a sub-tree moved or its visibility changed.
func (r *Registry) ReindexCateg(root *types.Category) {
	start := time.Now()
	for _, name := range r.names {
		unindexCateg(r.indexes[name], root)
		indexCateg(r.indexes[name], root)
	}
	r.touchAll()
	r.observe(metrics.OpReindexCateg, start)
}

func indexCateg(idx EventIndex, root *types.Category) {
	if ci, ok := idx.(categIndexer); ok {
		ci.IndexCateg(root)
		return
	}
	types.WalkPostOrder(root, func(c *types.Category) bool {
		for _, ev := range c.Events {
			idx.IndexConf(ev)
		}
		return true
	})
}

func unindexCateg(idx EventIndex, root *types.Category) {
	if ci, ok := idx.(categIndexer); ok {
		ci.UnindexCateg(root)
		return
	}
	types.WalkPostOrder(root, func(c *types.Category) bool {
		for _, ev := range c.Events {
			idx.UnindexConf(ev)
		}
		return true
	})
}

// BuildIndex clears every enabled index and rebuilds it from the tree rooted
// at root, sub-categories before their parent. The context is checked
// between categories; checkpoint, when set, runs every
// Options.CheckpointEvery categories.
func (r *Registry) BuildIndex(ctx context.Context, root *types.Category, checkpoint CheckpointFunc) error {
	start := time.Now()
	for _, name := range r.names {
		r.indexes[name].reset()
	}
	r.touchAll()

	var (
		done   int
		events int
		err    error
	)
	types.WalkPostOrder(root, func(c *types.Category) bool {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return false
		default:
		}

		for _, ev := range c.Events {
			for _, name := range r.names {
				r.indexes[name].IndexConf(ev)
			}
		}
		events += len(c.Events)
		done++

		if checkpoint != nil && r.opts.CheckpointEvery > 0 && done%r.opts.CheckpointEvery == 0 {
			if cerr := checkpoint(ctx, done); cerr != nil {
				err = fmt.Errorf("checkpoint after %d categories: %w", done, cerr)
				return false
			}
			r.logger.Debug("checkpoint", "categories", done, "events", events)
		}
		return true
	})
	if err != nil {
		r.logger.Warn("rebuild aborted", "categories", done, "err", err)
		return err
	}

	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordRebuild()
	}
	r.updateGauges()
	r.logger.Info("rebuilt indexes",
		"categories", done, "events", events, "indexes", len(r.names), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// Dump returns the raw contents of the named index.
func (r *Registry) Dump(name string) ([]Entry, error) {
	idx, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return idx.Dump(), nil
}

// Check runs every index check in turn, prefixing anomalies with the index
// name. Anomalies are counted in Options.Metrics.
func (r *Registry) Check(lookup EventLookup) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, name := range r.names {
			for msg := range r.indexes[name].Check(lookup) {
				if r.opts.Metrics != nil {
					r.opts.Metrics.RecordAnomalies(1)
				}
				if !yield(name + ": " + msg) {
					return
				}
			}
		}
	}
}

// Stats returns per-index statistics and refreshes the metric gauges.
func (r *Registry) Stats() map[string]Stats {
	stats := make(map[string]Stats, len(r.names))
	for _, name := range r.names {
		stats[name] = r.indexes[name].Stats()
	}
	if r.opts.Metrics != nil {
		for name, st := range stats {
			r.opts.Metrics.UpdateIndexStats(name, int64(st.Entries), int64(st.Buckets), int64(st.Categories))
		}
	}
	return stats
}

func (r *Registry) updateGauges() {
	if r.opts.Metrics != nil {
		_ = r.Stats()
	}
}

// Dirty returns the names of the indexes changed since the last Flush or
// Load, in registration order.
func (r *Registry) Dirty() []string {
	var out []string
	for _, name := range r.names {
		if r.dirty[name] {
			out = append(out, name)
		}
	}
	return out
}

// Flush saves every dirty index through the Snapshotter.
func (r *Registry) Flush(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if r.closed {
		return errors.NewIndexError("flush", fmt.Errorf("registry is closed"))
	}
	if r.opts.Snapshotter == nil {
		return errors.ErrStorageNotInitialized
	}

	for _, name := range r.Dirty() {
		entries := r.indexes[name].Dump()
		if err := r.opts.Snapshotter.SaveSnapshot(ctx, name, entries); err != nil {
			if r.opts.Metrics != nil {
				r.opts.Metrics.RecordFlush(err)
			}
			return fmt.Errorf("flush %s: %w", name, err)
		}
		delete(r.dirty, name)
		r.logger.Debug("flushed", "index", name, "entries", len(entries))
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordFlush(nil)
	}
	r.updateGauges()
	return nil
}

// Load restores every enabled index from the Snapshotter. Events are
// resolved through lookup; IDs it cannot resolve are kept so Check reports
// them. It returns the names that had no snapshot; those stay empty and
// dirty, and the caller is expected to rebuild them.
func (r *Registry) Load(ctx context.Context, lookup EventLookup) ([]string, error) {
	if r.opts.Snapshotter == nil {
		return nil, errors.ErrStorageNotInitialized
	}

	var missing []string
	for _, name := range r.names {
		select {
		case <-ctx.Done():
			return missing, ctx.Err()
		default:
		}

		entries, found, err := r.opts.Snapshotter.LoadSnapshot(ctx, name)
		if err != nil {
			return missing, fmt.Errorf("load %s: %w", name, err)
		}
		idx := r.indexes[name]
		if !found {
			idx.reset()
			r.dirty[name] = true
			missing = append(missing, name)
			continue
		}
		if err := idx.restore(entries, lookup); err != nil {
			idx.reset()
			return missing, fmt.Errorf("load %s: %w", name, err)
		}
		delete(r.dirty, name)
	}
	r.updateGauges()
	r.logger.Info("loaded indexes", "indexes", len(r.names)-len(missing), "missing", missing)
	return missing, nil
}

// RecordQuery reports a query served from the registry's indexes.
func (r *Registry) RecordQuery(start time.Time, results int) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordQuery(time.Since(start), results)
	}
}

// Close flushes dirty indexes when a Snapshotter is configured and releases
// the registry. Further flushes fail.
func (r *Registry) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	var err error
	if r.opts.Snapshotter != nil && len(r.Dirty()) > 0 {
		err = r.Flush(ctx)
	}
	r.closed = true
	return err
}

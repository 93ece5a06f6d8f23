package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/index"
	"github.com/haorendashu/catindex/src/metrics"
	"github.com/haorendashu/catindex/src/types"
)

func buildCmd(opts *rootOptions) *cobra.Command {
	var treeFile string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Load the category tree, rebuild every index and persist it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, false, func(a *app) error {
				tree := treeFile
				if tree == "" {
					tree = a.cfg.ImportConfig.TreeFile
				}
				if err := a.rebuild(cmd.Context(), tree, time.Now()); err != nil {
					return err
				}
				nc, ne := a.cat.Len()
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d events in %d categories\n", ne, nc)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&treeFile, "tree", "", "category tree file (overrides import.tree_file)")
	return cmd
}

func queryCmd(opts *rootOptions) *cobra.Command {
	var (
		categories []string
		from       string
		to         string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List the events of a category overlapping a time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseWhen(from)
			if err != nil {
				return err
			}
			e, err := parseWhen(to)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, true, func(a *app) error {
				start := time.Now()
				evs, err := queryRange(a, name, categories, s, e)
				if err != nil {
					return err
				}
				a.reg.RecordQuery(start, len(evs))
				printEvents(cmd.OutOrStdout(), evs)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&categories, "category", []string{types.RootCategoryID}, "category IDs")
	cmd.Flags().StringVar(&from, "from", "", "range start (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "range end (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&name, "index", index.NameCategoryDay, "index to query")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func dayCmd(opts *rootOptions) *cobra.Command {
	var (
		category string
		date     string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "day",
		Short: "List the events of a category on one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseWhen(date)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, true, func(a *app) error {
				start := time.Now()
				var evs []*types.Event
				switch name {
				case index.NameCalendarDay:
					idx := a.reg.CalendarDay()
					if idx == nil {
						return notEnabled(name)
					}
					evs = idx.GetObjectsInDay(d).Sorted()
				case index.NameCategoryDay, index.NameCategoryDayAll:
					idx := a.reg.CategoryDay(name)
					if idx == nil {
						return notEnabled(name)
					}
					evs = idx.GetObjectsInDay(category, d).Sorted()
				case index.NameCategoryDate, index.NameCategoryDateAll:
					idx := a.reg.CategoryDate(name)
					if idx == nil {
						return notEnabled(name)
					}
					evs = resolve(a, idx.GetObjectsInDay(category, d).Sorted())
				default:
					return errors.NewUnknownIndex(name)
				}
				a.reg.RecordQuery(start, len(evs))
				printEvents(cmd.OutOrStdout(), evs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", types.RootCategoryID, "category ID")
	cmd.Flags().StringVar(&date, "date", "", "day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&name, "index", index.NameCategoryDay, "index to query")
	cmd.MarkFlagRequired("date")
	return cmd
}

func moreCmd(opts *rootOptions) *cobra.Command {
	var (
		categories []string
		after      string
	)

	cmd := &cobra.Command{
		Use:   "more",
		Short: "Tell whether any of the categories has events after a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Now()
			if after != "" {
				var err error
				if d, err = parseWhen(after); err != nil {
					return err
				}
			}
			return withApp(cmd, opts, true, func(a *app) error {
				more, err := hasMore(a, categories, d)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), more)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&categories, "category", []string{types.RootCategoryID}, "category IDs")
	cmd.Flags().StringVar(&after, "after", "", "date to look past (default now)")
	return cmd
}

func checkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare every index against the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, true, func(a *app) error {
				out := cmd.OutOrStdout()
				n := 0
				for msg := range a.reg.Check(a.cat) {
					fmt.Fprintln(out, msg)
					n++
				}
				if n > 0 {
					return fmt.Errorf("%d anomalies found", n)
				}
				fmt.Fprintln(out, "No anomalies found")
				return nil
			})
		},
	}
}

func dumpCmd(opts *rootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the raw bucket contents of an index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, true, func(a *app) error {
				entries, err := a.reg.Dump(name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					fmt.Fprintf(out, "%s\t%s\t%d\t%s\n", orDash(e.Category), e.Side, e.Key, e.EventID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "index", "", "index name")
	cmd.MarkFlagRequired("index")
	return cmd
}

func statsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index sizes and saved snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, true, func(a *app) error {
				out := cmd.OutOrStdout()
				nc, ne := a.cat.Len()
				fmt.Fprintf(out, "Catalog: %d categories, %d events\n\n", nc, ne)

				stats := a.reg.Stats()
				fmt.Fprintf(out, "%-16s %10s %10s %10s\n", "INDEX", "ENTRIES", "BUCKETS", "LEAVES")
				for _, name := range a.reg.Names() {
					st := stats[name]
					fmt.Fprintf(out, "%-16s %10d %10d %10d\n", name, st.Entries, st.Buckets, st.Categories)
				}

				infos, err := a.store.Snapshots(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\nSnapshots:\n")
				for _, info := range infos {
					fmt.Fprintf(out, "  %-16s %8d entries  saved %s\n", info.Name, info.Entries, info.SavedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func watchCmd(opts *rootOptions) *cobra.Command {
	var (
		spec     string
		treeFile string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the indexes from the tree file on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, false, func(a *app) error {
				ctx := cmd.Context()
				if spec == "" {
					spec = a.cfg.ImportConfig.RefreshCron
				}
				if treeFile == "" {
					treeFile = a.cfg.ImportConfig.TreeFile
				}
				return watch(ctx, a, spec, treeFile)
			})
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "refresh schedule (overrides import.refresh_cron)")
	cmd.Flags().StringVar(&treeFile, "tree", "", "category tree file (overrides import.tree_file)")
	return cmd
}

// watch rebuilds once, then on every tick of spec until ctx is done.
// Overlapping ticks are skipped.
func watch(ctx context.Context, a *app, spec, treeFile string) error {
	if err := a.rebuild(ctx, treeFile, time.Now()); err != nil {
		return err
	}

	if port := a.cfg.MetricsConfig.Port; port > 0 {
		exporter := metrics.NewPrometheusExporter(a.metrics, port)
		if err := exporter.Start(); err != nil {
			return err
		}
		defer exporter.Stop()
		a.logger.Info("serving metrics", "port", port)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() {
		if err := a.rebuild(ctx, treeFile, time.Now()); err != nil {
			a.logger.Error("scheduled rebuild failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	c.Start()
	a.logger.Info("watching", "tree", treeFile, "cron", spec)
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("stopped watching")
	return nil
}

// queryRange runs a range query against the named index. Results over
// several categories are merged, each event once.
func queryRange(a *app, name string, categories []string, s, e time.Time) ([]*types.Event, error) {
	switch name {
	case index.NameCalendar:
		idx := a.reg.Calendar()
		if idx == nil {
			return nil, notEnabled(name)
		}
		return resolve(a, idx.GetObjectsIn(s, e).Sorted()), nil
	case index.NameCalendarDay:
		idx := a.reg.CalendarDay()
		if idx == nil {
			return nil, notEnabled(name)
		}
		return slices.Collect(idx.IterateObjectsIn(s, e)), nil
	case index.NameCategory:
		idx := a.reg.Category()
		if idx == nil {
			return nil, notEnabled(name)
		}
		var ids []string
		for _, cat := range categories {
			for _, id := range idx.GetItems(cat) {
				if !slices.Contains(ids, id) {
					ids = append(ids, id)
				}
			}
		}
		return resolve(a, ids), nil
	case index.NameCategoryDate, index.NameCategoryDateAll:
		idx := a.reg.CategoryDate(name)
		if idx == nil {
			return nil, notEnabled(name)
		}
		merged := make(map[string]struct{})
		for _, cat := range categories {
			for id := range idx.GetObjectsIn(cat, s, e) {
				merged[id] = struct{}{}
			}
		}
		return resolve(a, slices.Sorted(maps.Keys(merged))), nil
	case index.NameCategoryDay, index.NameCategoryDayAll:
		idx := a.reg.CategoryDay(name)
		if idx == nil {
			return nil, notEnabled(name)
		}
		return slices.Collect(idx.IterateObjectsInAll(categories, s, e)), nil
	}
	return nil, errors.NewUnknownIndex(name)
}

// hasMore answers "are there future events" from the unrestricted day index,
// falling back to the unrestricted date index.
func hasMore(a *app, categories []string, d time.Time) (bool, error) {
	if idx := a.reg.CategoryDay(index.NameCategoryDayAll); idx != nil {
		return idx.HasObjectsAfterAny(categories, d), nil
	}
	if idx := a.reg.CategoryDate(index.NameCategoryDateAll); idx != nil {
		for _, cat := range categories {
			if idx.HasObjectsAfter(cat, d) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, notEnabled(index.NameCategoryDayAll)
}

func notEnabled(name string) error {
	return errors.NewIndexError("query", fmt.Errorf("index %s is not enabled", name))
}

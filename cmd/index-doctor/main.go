// Command index-doctor checks the persisted index snapshots against the
// persisted catalog and optionally rebuilds them.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/haorendashu/catindex/src/catalog"
	"github.com/haorendashu/catindex/src/config"
	"github.com/haorendashu/catindex/src/index"
	"github.com/haorendashu/catindex/src/logging"
	"github.com/haorendashu/catindex/src/store"
)

type doctorOptions struct {
	configPath string
	dbPath     string
	fix        bool
	verbose    bool
}

// report is the outcome of one diagnosis.
type report struct {
	missing   []string
	anomalies map[string][]string
	fixed     bool
}

func (r *report) issues() int {
	n := len(r.missing)
	for _, msgs := range r.anomalies {
		n += len(msgs)
	}
	return n
}

func main() {
	var opts doctorOptions
	flag.StringVar(&opts.configPath, "config", "", "config file (.json, .yaml)")
	flag.StringVar(&opts.dbPath, "db", "", "database path (overrides store.path)")
	flag.BoolVar(&opts.fix, "fix", false, "rebuild the indexes from the catalog when problems are found")
	flag.BoolVar(&opts.verbose, "v", false, "verbose output")
	flag.Parse()

	rep, err := diagnose(context.Background(), os.Stdout, opts)
	if err != nil {
		fmt.Printf("\nError: %v\n", err)
		os.Exit(1)
	}
	if rep.issues() > 0 && !rep.fixed {
		os.Exit(1)
	}
}

func diagnose(ctx context.Context, w io.Writer, opts doctorOptions) (*report, error) {
	mgr := config.NewManager()
	if opts.configPath != "" {
		if err := mgr.Load(ctx, opts.configPath); err != nil {
			return nil, err
		}
	}
	if err := mgr.LoadFromEnv(ctx); err != nil {
		return nil, err
	}
	cfg := mgr.Get()
	if opts.dbPath != "" {
		cfg.StoreConfig.Path = opts.dbPath
	}

	logger := logging.Discard()
	if opts.verbose {
		logger = logging.New(os.Stderr, log.DebugLevel, "doctor")
	}

	fmt.Fprintf(w, "Index doctor\n")
	fmt.Fprintf(w, "============================================\n")
	fmt.Fprintf(w, "Database: %s\n\n", cfg.StoreConfig.Path)

	if _, err := os.Stat(cfg.StoreConfig.Path); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	st, err := store.Open(ctx, cfg.StoreConfig.Path, store.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	defer st.Close()

	cats, evs, found, err := st.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no catalog in %s, run `catindex build` first", cfg.StoreConfig.Path)
	}
	cat, err := catalog.FromRecords(cats, evs, nil, logger)
	if err != nil {
		return nil, err
	}
	nc, ne := cat.Len()
	fmt.Fprintf(w, "Catalog: %d categories, %d events\n", nc, ne)

	regOpts := cfg.ToRegistryOptions()
	regOpts.Snapshotter = st
	regOpts.Logger = logger
	reg, err := index.NewRegistry(regOpts)
	if err != nil {
		return nil, err
	}

	rep := &report{anomalies: make(map[string][]string)}
	rep.missing, err = reg.Load(ctx, cat)
	if err != nil {
		return nil, err
	}
	for msg := range reg.Check(cat) {
		name, detail, _ := strings.Cut(msg, ": ")
		rep.anomalies[name] = append(rep.anomalies[name], detail)
	}

	stats := reg.Stats()
	for _, name := range reg.Names() {
		fmt.Fprintf(w, "\nIndex: %s\n", name)
		fmt.Fprintf(w, "--------------------------------------------\n")
		if opts.verbose {
			s := stats[name]
			fmt.Fprintf(w, "Entries: %d, buckets: %d, leaves: %d\n", s.Entries, s.Buckets, s.Categories)
		}
		switch {
		case slices.Contains(rep.missing, name):
			fmt.Fprintf(w, "Status: MISSING (no snapshot saved)\n")
		case len(rep.anomalies[name]) > 0:
			fmt.Fprintf(w, "Status: %d problems\n", len(rep.anomalies[name]))
			for _, detail := range rep.anomalies[name] {
				fmt.Fprintf(w, "  - %s\n", detail)
			}
		default:
			fmt.Fprintf(w, "Status: OK\n")
		}
	}

	fmt.Fprintf(w, "\n============================================\n")
	if rep.issues() == 0 {
		fmt.Fprintf(w, "All indexes are consistent with the catalog\n")
		return rep, reg.Close(ctx)
	}
	fmt.Fprintf(w, "Found %d problems\n", rep.issues())
	if !opts.fix {
		fmt.Fprintf(w, "Run `index-doctor -db %s -fix` to rebuild the indexes\n", cfg.StoreConfig.Path)
		return rep, nil
	}

	if err := reg.BuildIndex(ctx, cat.Root(), nil); err != nil {
		return rep, err
	}
	if err := reg.Flush(ctx); err != nil {
		return rep, err
	}
	left := 0
	for range reg.Check(cat) {
		left++
	}
	if left > 0 {
		return rep, fmt.Errorf("%d problems remain after rebuild", left)
	}
	rep.fixed = true
	fmt.Fprintf(w, "Rebuilt and saved %d indexes\n", len(reg.Names()))
	return rep, reg.Close(ctx)
}

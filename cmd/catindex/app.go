package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/haorendashu/catindex/src/catalog"
	"github.com/haorendashu/catindex/src/config"
	"github.com/haorendashu/catindex/src/ics"
	"github.com/haorendashu/catindex/src/index"
	"github.com/haorendashu/catindex/src/logging"
	"github.com/haorendashu/catindex/src/metrics"
	"github.com/haorendashu/catindex/src/store"
)

// app bundles the components every command works with.
type app struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.Collector
	store   *store.Store
	reg     *index.Registry
	cat     *catalog.Catalog

	// fetcher is shared by rebuilds so unchanged feeds are not downloaded again.
	fetcher *ics.Fetcher
}

// openApp loads the configuration, opens the store and builds an empty
// registry. Call load to restore the catalog and the indexes.
func openApp(ctx context.Context, opts *rootOptions, logOut io.Writer) (*app, error) {
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

	level, err := logging.ParseLevel(cfg.EffectiveLogLevel())
	if err != nil {
		return nil, err
	}
	if logOut == nil {
		logOut = os.Stderr
	}
	logger := logging.New(logOut, level, "catindex")

	if cfg.StoreConfig.Path != store.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.StoreConfig.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	st, err := store.Open(ctx, cfg.StoreConfig.Path, store.Options{Logger: logging.Component(logger, "store")})
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector()
	regOpts := cfg.ToRegistryOptions()
	regOpts.Snapshotter = st
	regOpts.Logger = logging.Component(logger, "registry")
	regOpts.Metrics = collector
	reg, err := index.NewRegistry(regOpts)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		store:   st,
		reg:     reg,
		cat:     catalog.New(nil, logging.Component(logger, "catalog")),
		fetcher: ics.NewFetcher(nil, logging.Component(logger, "fetch")),
	}, nil
}

// load restores the catalog and the index snapshots. Indexes without a
// snapshot are rebuilt from the catalog.
func (a *app) load(ctx context.Context) error {
	cats, evs, found, err := a.store.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	if !found {
		a.logger.Warn("store holds no catalog, run build first", "db", a.store.Path())
		a.cat.SetIndexer(a.reg)
		return nil
	}
	cat, err := catalog.FromRecords(cats, evs, nil, logging.Component(a.logger, "catalog"))
	if err != nil {
		return err
	}
	a.cat = cat

	missing, err := a.reg.Load(ctx, cat)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		a.logger.Info("rebuilding indexes without a snapshot", "indexes", missing)
		if err := a.reg.BuildIndex(ctx, cat.Root(), nil); err != nil {
			return err
		}
	}
	cat.SetIndexer(a.reg)

	if a.cfg.IndexConfig.CheckOnLoad {
		n := 0
		for msg := range a.reg.Check(cat) {
			a.logger.Warn("index anomaly", "detail", msg)
			n++
		}
		a.logger.Info("checked indexes", "anomalies", n)
	}
	return nil
}

// rebuild reloads the category tree file, rebuilds every index from it and
// persists both. Checkpoints flush the indexes built so far.
func (a *app) rebuild(ctx context.Context, treeFile string, now time.Time) error {
	window := time.Duration(a.cfg.ImportConfig.RecurrenceWindowDays) * 24 * time.Hour
	cat, err := catalog.LoadTree(ctx, treeFile, catalog.TreeOptions{
		ICS: ics.Options{
			WindowStart:    now.Add(-window),
			WindowEnd:      now.Add(window),
			MaxOccurrences: a.cfg.ImportConfig.MaxOccurrences,
			Logger:         logging.Component(a.logger, "import"),
		},
		Fetcher: a.fetcher,
		Logger:  logging.Component(a.logger, "catalog"),
	})
	if err != nil {
		return err
	}

	checkpoint := func(ctx context.Context, categories int) error {
		return a.reg.Flush(ctx)
	}
	if err := a.reg.BuildIndex(ctx, cat.Root(), checkpoint); err != nil {
		// Put the indexes back in line with the catalog still in the store.
		if rerr := a.reg.BuildIndex(context.WithoutCancel(ctx), a.cat.Root(), nil); rerr != nil {
			a.logger.Error("restoring indexes after a failed rebuild", "err", rerr)
		}
		return err
	}
	cat.SetIndexer(a.reg)
	a.cat = cat

	cats, evs := cat.Export()
	if err := a.store.SaveCatalog(ctx, cats, evs); err != nil {
		return err
	}
	if err := a.reg.Flush(ctx); err != nil {
		return err
	}
	nc, ne := cat.Len()
	a.logger.Info("build complete", "categories", nc, "events", ne, "db", a.store.Path())
	return nil
}

func (a *app) close(ctx context.Context) error {
	regErr := a.reg.Close(ctx)
	if err := a.store.Close(); err != nil {
		return err
	}
	if regErr != nil {
		return fmt.Errorf("close registry: %w", regErr)
	}
	return nil
}

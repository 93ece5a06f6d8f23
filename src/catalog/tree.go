package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/haorendashu/catindex/src/errors"
	"github.com/haorendashu/catindex/src/ics"
	"github.com/haorendashu/catindex/src/types"
)

// treeFile is the YAML layout of a category tree:
//
//	title: Home
//	categories:
//	  - id: "1"
//	    title: Physics
//	    visibility: 2
//	    ics: [physics.ics, https://example.org/physics.ics]
//	    events:
//	      - id: p1
//	        title: Seminar
//	        start: 2024-01-05T10:00:00Z
//	        end: 2024-01-05T11:00:00Z
//	    categories: [...]
type treeFile struct {
	Title      string         `yaml:"title"`
	Visibility *int           `yaml:"visibility"`
	Events     []treeEvent    `yaml:"events"`
	ICS        []string       `yaml:"ics"`
	Categories []treeCategory `yaml:"categories"`
}

type treeCategory struct {
	ID         string         `yaml:"id"`
	Title      string         `yaml:"title"`
	Visibility *int           `yaml:"visibility"`
	Events     []treeEvent    `yaml:"events"`
	ICS        []string       `yaml:"ics"`
	Categories []treeCategory `yaml:"categories"`
}

type treeEvent struct {
	ID         string    `yaml:"id"`
	Title      string    `yaml:"title"`
	Start      time.Time `yaml:"start"`
	End        time.Time `yaml:"end"`
	Visibility *int      `yaml:"visibility"`
}

// TreeOptions controls LoadTree.
type TreeOptions struct {
	// ICS is passed to ics.Parse for every referenced calendar file.
	ICS ics.Options

	// Fetcher downloads http(s) calendar references. Optional; one is
	// created on demand.
	Fetcher *ics.Fetcher

	// Logger defaults to a stderr logger.
	Logger *log.Logger
}

// LoadTree reads a YAML category tree from path, importing the ICS files it
// references relative to its directory. The returned catalog has no indexer;
// callers build the indexes in one pass and then attach one.
func LoadTree(ctx context.Context, path string, opts TreeOptions) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewImportError("read tree file", err)
	}
	var tf treeFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, errors.NewImportError("parse tree file "+path, err)
	}

	c := New(nil, opts.Logger)
	if opts.ICS.Logger == nil {
		opts.ICS.Logger = c.logger
	}
	if tf.Title != "" {
		c.root.Title = tf.Title
	}
	if tf.Visibility != nil {
		c.root.Visibility = *tf.Visibility
	}

	l := &treeLoader{cat: c, dir: filepath.Dir(path), opts: opts}
	if err := l.events(ctx, c.root, tf.Events, tf.ICS); err != nil {
		return nil, err
	}
	if err := l.categories(ctx, c.root, tf.Categories); err != nil {
		return nil, err
	}

	nc, ne := c.Len()
	c.logger.Info("loaded category tree", "path", path, "categories", nc, "events", ne)
	return c, nil
}

type treeLoader struct {
	cat  *Catalog
	dir  string
	opts TreeOptions
}

func (l *treeLoader) categories(ctx context.Context, parent *types.Category, subs []treeCategory) error {
	for _, tc := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		cat, err := l.cat.AddCategory(types.CategoryRecord{
			ID:         tc.ID,
			ParentID:   parent.ID,
			Title:      tc.Title,
			Visibility: visibilityOr(tc.Visibility),
		})
		if err != nil {
			return errors.NewImportError("tree category "+tc.ID, err)
		}
		if err := l.events(ctx, cat, tc.Events, tc.ICS); err != nil {
			return err
		}
		if err := l.categories(ctx, cat, tc.Categories); err != nil {
			return err
		}
	}
	return nil
}

func (l *treeLoader) events(ctx context.Context, cat *types.Category, evs []treeEvent, files []string) error {
	for _, te := range evs {
		end := te.End
		if end.IsZero() {
			end = te.Start
		}
		_, err := l.cat.AddEvent(types.EventRecord{
			ID:         te.ID,
			CategoryID: cat.ID,
			Title:      te.Title,
			Start:      te.Start,
			End:        end,
			Visibility: visibilityOr(te.Visibility),
		})
		if err != nil {
			return errors.NewImportError(fmt.Sprintf("tree event %s in category %s", te.ID, cat.ID), err)
		}
	}

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.importICS(ctx, cat, name); err != nil {
			return err
		}
	}
	return nil
}

// importICS adds the occurrences of one calendar file or feed to cat.
// Occurrences whose ID is already taken are skipped with a warning, since
// feeds often repeat the same event.
func (l *treeLoader) importICS(ctx context.Context, cat *types.Category, name string) error {
	r, path, err := l.openICS(ctx, name)
	if err != nil {
		return err
	}
	defer r.Close()

	occ, err := ics.Parse(r, l.opts.ICS)
	if err != nil {
		return fmt.Errorf("calendar %s: %w", path, err)
	}

	added := 0
	for _, o := range occ {
		_, err := l.cat.AddEvent(types.EventRecord{
			ID:         o.ID,
			CategoryID: cat.ID,
			Title:      o.Title,
			Start:      o.Start,
			End:        o.End,
			Visibility: types.DefaultVisibility,
		})
		if err != nil {
			l.cat.logger.Warn("skipping occurrence", "calendar", path, "id", o.ID, "err", err)
			continue
		}
		added++
	}
	l.cat.logger.Debug("imported calendar", "calendar", path, "category", cat.ID, "events", added)
	return nil
}

func (l *treeLoader) openICS(ctx context.Context, name string) (io.ReadCloser, string, error) {
	if ics.IsURL(name) {
		if l.opts.Fetcher == nil {
			l.opts.Fetcher = ics.NewFetcher(nil, l.cat.logger)
		}
		body, _, err := l.opts.Fetcher.Fetch(ctx, name)
		if err != nil {
			return nil, "", err
		}
		return io.NopCloser(bytes.NewReader(body)), ics.Redact(name), nil
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", errors.NewImportError("open calendar "+path, err)
	}
	return f, path, nil
}

func visibilityOr(v *int) int {
	if v == nil {
		return types.DefaultVisibility
	}
	return *v
}

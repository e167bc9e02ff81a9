// Package catalog loads the feature and plan catalog from a YAML file and
// keeps the in-memory catalogs in sync with it.
//
// A catalog file looks like:
//
//	features:
//	  - slug: export_data
//	    name: Export data
//	  - slug: api_calls
//	    name: API calls
//	plans:
//	  - id: free
//	    slug: free
//	    features:
//	      api_calls: {enabled: true, limit: 1000}
//	  - id: pro
//	    slug: pro
//	    features:
//	      api_calls: {enabled: true, limit: null}
//	      export_data: {enabled: true}
//
// Each reload validates the whole file first and then swaps features and
// plans, so an invalid edit leaves the previous catalog in place.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/entitlements/pkg/async"
	"github.com/platinummonkey/entitlements/pkg/features"
	"github.com/platinummonkey/entitlements/pkg/observability"
	"github.com/platinummonkey/entitlements/pkg/plans"
)

// File is the on-disk catalog document
type File struct {
	Features []features.Feature `yaml:"features"`
	Plans    []plans.Plan       `yaml:"plans"`
}

// Parse decodes and validates a catalog document
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks slugs and plan ids are unique and that plans only
// reference known features with non-negative limits.
func (f *File) Validate() error {
	slugs := make(map[string]struct{}, len(f.Features))
	for i, feat := range f.Features {
		if feat.Slug == "" {
			return fmt.Errorf("feature #%d: slug is required", i)
		}
		if _, dup := slugs[feat.Slug]; dup {
			return fmt.Errorf("feature %q defined more than once", feat.Slug)
		}
		slugs[feat.Slug] = struct{}{}
	}

	ids := make(map[string]struct{}, len(f.Plans))
	for i, p := range f.Plans {
		if p.ID == "" {
			return fmt.Errorf("plan #%d: id is required", i)
		}
		if _, dup := ids[p.ID]; dup {
			return fmt.Errorf("plan %q defined more than once", p.ID)
		}
		ids[p.ID] = struct{}{}
		for slug, def := range p.Features {
			if _, ok := slugs[slug]; !ok {
				return fmt.Errorf("plan %q references unknown feature %q", p.ID, slug)
			}
			if def.Limit != nil && *def.Limit < 0 {
				return fmt.Errorf("plan %q: negative limit for %q", p.ID, slug)
			}
		}
	}
	return nil
}

// Option configures a Loader
type Option func(*Loader)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithMetrics records reload outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// OnReload registers a callback invoked after every successful load
func OnReload(fn func()) Option {
	return func(l *Loader) { l.onReload = append(l.onReload, fn) }
}

// Loader reads a catalog file into the feature and plan catalogs
type Loader struct {
	path     string
	features *features.MemoryCatalog
	plans    *plans.MemoryCatalog
	logger   *observability.Logger
	metrics  *observability.Metrics
	onReload []func()

	mu       sync.Mutex
	loadedAt time.Time
}

// NewLoader creates a loader for path
func NewLoader(path string, fc *features.MemoryCatalog, pc *plans.MemoryCatalog, opts ...Option) *Loader {
	l := &Loader{
		path:     path,
		features: fc,
		plans:    pc,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithComponent("catalog").WithField("path", path)
	return l
}

// Load reads, validates and installs the catalog file
func (l *Loader) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		l.record("error")
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		l.record("error")
		return err
	}

	l.mu.Lock()
	l.features.Replace(f.Features)
	l.plans.Replace(f.Plans)
	l.loadedAt = time.Now()
	l.mu.Unlock()

	l.record("ok")
	if l.metrics != nil {
		l.metrics.CatalogFeatures.Set(float64(len(f.Features)))
	}
	l.logger.WithFields(map[string]interface{}{
		"features": len(f.Features),
		"plans":    len(f.Plans),
	}).Info("catalog loaded")

	for _, fn := range l.onReload {
		fn()
	}
	return nil
}

// LoadedAt reports when the catalog was last installed; zero if never.
func (l *Loader) LoadedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadedAt
}

// Ready is a health check that fails until a catalog has been loaded.
func (l *Loader) Ready(context.Context) error {
	if l.LoadedAt().IsZero() {
		return fmt.Errorf("catalog %s not loaded", l.path)
	}
	return nil
}

// Watch reloads the catalog whenever its file changes until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up. Failed reloads are logged and the previous catalog
// stays active.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := async.Run(ctx, 10*time.Second, l.Load); err != nil {
				l.logger.WithError(err).Warn("catalog reload failed, keeping previous catalog")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.WithError(err).Warn("catalog watcher error")
		}
	}
}

func (l *Loader) record(status string) {
	if l.metrics != nil {
		l.metrics.CatalogReloadsTotal.WithLabelValues(status).Inc()
	}
}

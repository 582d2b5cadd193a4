package lifecycle

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/validate"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
)

// Registry caches one Manager per slug for the process lifetime.
// Concurrent Loads of the same slug may both construct; the last
// stored wins, which is harmless because Managers are stateless
// handles over the discovered directory.
type Registry struct {
	discoverer *Discoverer
	inspector  *validate.Inspector
	hooks      *HookRunner
	logger     *logging.Logger

	managers sync.Map // slug -> *Manager
}

// NewRegistry creates an empty registry.
func NewRegistry(discoverer *Discoverer, inspector *validate.Inspector, hooks *HookRunner, logger *logging.Logger) *Registry {
	return &Registry{
		discoverer: discoverer,
		inspector:  inspector,
		hooks:      hooks,
		logger:     logger,
	}
}

// Get returns the cached manager for slug without loading.
func (r *Registry) Get(slug string) (*Manager, bool) {
	v, ok := r.managers.Load(slug)
	if !ok {
		return nil, false
	}
	return v.(*Manager), true
}

// Load returns the manager for slug, discovering and inspecting the
// plugin directory on first use after a cache miss or Invalidate.
func (r *Registry) Load(ctx context.Context, slug string) (*Manager, error) {
	if m, ok := r.Get(slug); ok {
		return m, nil
	}

	dir, err := r.discoverer.Discover(slug)
	if err != nil {
		return nil, err
	}

	v, err := r.inspector.Inspect(dir)
	if err != nil {
		return nil, err
	}
	if v.Slug != slug {
		// Keyed by the requested slug either way; the mismatch is
		// worth surfacing because it usually means a renamed plugin.
		r.logger.Warn("Discovered plugin reports a different slug",
			zap.String("requested", slug),
			zap.String("reported", v.Slug))
	}

	m := &Manager{
		Slug:     slug,
		Dir:      dir,
		Version:  v.Version,
		Mode:     v.Mode,
		Manifest: v.Manifest,
		hooks:    r.hooks,
		logger:   r.logger.With(zap.String("slug", slug)),
	}
	r.managers.Store(slug, m)

	r.logger.Debug("Lifecycle manager loaded",
		zap.String("slug", slug),
		zap.String("dir", dir),
		zap.String("version", v.Version))
	return m, nil
}

// Invalidate drops the cached manager so the next Load re-runs
// discovery. Safe to call for slugs that were never loaded.
func (r *Registry) Invalidate(slug string) {
	r.managers.Delete(slug)
}

// Size reports how many managers are cached.
func (r *Registry) Size() int {
	n := 0
	r.managers.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Shutdown clears the cache.
func (r *Registry) Shutdown() {
	r.managers.Range(func(key, _ interface{}) bool {
		r.managers.Delete(key)
		return true
	})
}

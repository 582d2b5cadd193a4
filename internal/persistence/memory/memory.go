// Package memory provides an in-memory Store for standalone runs and
// tests. All maps are guarded by one RWMutex; rows are copied on the
// way in and out so callers never share pointers with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// Store implements persistence.Store in memory.
type Store struct {
	mu       sync.RWMutex
	plugins  map[string]*types.Plugin                   // plugin ID -> row
	bySlug   map[string]string                          // userID+"/"+slug -> plugin ID
	modules  map[string][]*types.Module                 // plugin ID -> rows
	services map[string]map[string]*types.ServiceRuntime // plugin ID -> name -> row
	settings map[string]map[string]map[string]string    // userID -> definition ID -> values
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		plugins:  make(map[string]*types.Plugin),
		bySlug:   make(map[string]string),
		modules:  make(map[string][]*types.Module),
		services: make(map[string]map[string]*types.ServiceRuntime),
		settings: make(map[string]map[string]map[string]string),
	}
}

func slugKey(userID, slug string) string {
	return userID + "/" + slug
}

func clonePlugin(p *types.Plugin) *types.Plugin {
	cp := *p
	return &cp
}

func cloneModule(m *types.Module) *types.Module {
	cm := *m
	return &cm
}

func cloneService(s *types.ServiceRuntime) *types.ServiceRuntime {
	cs := *s
	return &cs
}

// GetPluginBySlug returns the row owned by userID for slug.
func (s *Store) GetPluginBySlug(ctx context.Context, userID, slug string) (*types.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySlug[slugKey(userID, slug)]
	if !ok {
		return nil, fmt.Errorf("plugin %q for user %q: %w", slug, userID, types.ErrNotFound)
	}
	return clonePlugin(s.plugins[id]), nil
}

// ListPlugins returns all rows owned by userID, newest first.
func (s *Store) ListPlugins(ctx context.Context, userID string) ([]*types.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Plugin
	for _, p := range s.plugins {
		if p.UserID == userID {
			out = append(out, clonePlugin(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListPluginsBySlug returns every user's row for slug.
func (s *Store) ListPluginsBySlug(ctx context.Context, slug string) ([]*types.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Plugin
	for _, p := range s.plugins {
		if p.Slug == slug {
			out = append(out, clonePlugin(p))
		}
	}
	return out, nil
}

// ListAllPlugins returns every row across all users, newest first.
func (s *Store) ListAllPlugins(ctx context.Context) ([]*types.Plugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Plugin, 0, len(s.plugins))
	for _, p := range s.plugins {
		out = append(out, clonePlugin(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// InsertPlugin inserts a new row, enforcing (UserID, Slug) uniqueness.
func (s *Store) InsertPlugin(ctx context.Context, p *types.Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slugKey(p.UserID, p.Slug)
	if _, exists := s.bySlug[key]; exists {
		return fmt.Errorf("plugin %q for user %q: %w", p.Slug, p.UserID, types.ErrAlreadyInstalled)
	}

	row := clonePlugin(p)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	row.UpdatedAt = row.CreatedAt
	s.plugins[row.ID] = row
	s.bySlug[key] = row.ID
	return nil
}

// UpdatePlugin replaces an existing row by ID.
func (s *Store) UpdatePlugin(ctx context.Context, p *types.Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.plugins[p.ID]
	if !ok {
		return fmt.Errorf("plugin row %q: %w", p.ID, types.ErrNotFound)
	}

	row := clonePlugin(p)
	row.CreatedAt = old.CreatedAt
	row.UpdatedAt = time.Now()
	if old.Slug != row.Slug || old.UserID != row.UserID {
		delete(s.bySlug, slugKey(old.UserID, old.Slug))
		s.bySlug[slugKey(row.UserID, row.Slug)] = row.ID
	}
	s.plugins[row.ID] = row
	return nil
}

// DeletePlugin removes a row with its modules and services.
func (s *Store) DeletePlugin(ctx context.Context, pluginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plugins[pluginID]
	if !ok {
		return fmt.Errorf("plugin row %q: %w", pluginID, types.ErrNotFound)
	}

	delete(s.bySlug, slugKey(p.UserID, p.Slug))
	delete(s.plugins, pluginID)
	delete(s.modules, pluginID)
	delete(s.services, pluginID)
	return nil
}

// ReplaceModules swaps the module set for a plugin wholesale.
func (s *Store) ReplaceModules(ctx context.Context, pluginID string, modules []*types.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plugins[pluginID]; !ok {
		return fmt.Errorf("plugin row %q: %w", pluginID, types.ErrNotFound)
	}

	rows := make([]*types.Module, 0, len(modules))
	for _, m := range modules {
		rows = append(rows, cloneModule(m))
	}
	s.modules[pluginID] = rows
	return nil
}

// ListModules returns module rows for a plugin.
func (s *Store) ListModules(ctx context.Context, pluginID string) ([]*types.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.modules[pluginID]
	out := make([]*types.Module, 0, len(rows))
	for _, m := range rows {
		out = append(out, cloneModule(m))
	}
	return out, nil
}

// GetServiceRuntimesByPluginID returns declared services for a plugin.
func (s *Store) GetServiceRuntimesByPluginID(ctx context.Context, pluginID string) ([]*types.ServiceRuntime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.ServiceRuntime
	for _, svc := range s.services[pluginID] {
		out = append(out, cloneService(svc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertServiceRuntime inserts or replaces a row keyed by (PluginID, Name).
func (s *Store) UpsertServiceRuntime(ctx context.Context, svc *types.ServiceRuntime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plugins[svc.PluginID]; !ok {
		return fmt.Errorf("plugin row %q: %w", svc.PluginID, types.ErrNotFound)
	}

	byName, ok := s.services[svc.PluginID]
	if !ok {
		byName = make(map[string]*types.ServiceRuntime)
		s.services[svc.PluginID] = byName
	}

	row := cloneService(svc)
	if prev, exists := byName[row.Name]; exists {
		row.ID = prev.ID
		row.CreatedAt = prev.CreatedAt
		row.Status = prev.Status
	} else if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	row.UpdatedAt = time.Now()
	byName[row.Name] = row
	return nil
}

// DeleteServiceRuntime removes a single service row by (PluginID, Name).
func (s *Store) DeleteServiceRuntime(ctx context.Context, pluginID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.services[pluginID], name)
	return nil
}

// UpdateServiceRuntimeStatus transitions a service row's status.
func (s *Store) UpdateServiceRuntimeStatus(ctx context.Context, pluginID, name string, status types.ServiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[pluginID][name]
	if !ok {
		return fmt.Errorf("service %q for plugin %q: %w", name, pluginID, types.ErrNotFound)
	}
	svc.Status = status
	svc.UpdatedAt = time.Now()
	return nil
}

// DeleteServiceRuntimesByPluginID removes all service rows for a plugin.
func (s *Store) DeleteServiceRuntimesByPluginID(ctx context.Context, pluginID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.services, pluginID)
	return nil
}

// GetSettingsEnvVars returns raw settings values for a definition and user.
func (s *Store) GetSettingsEnvVars(ctx context.Context, userID, definitionID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := s.settings[userID][definitionID]
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

// SeedSettings loads settings values for a user and definition, for
// standalone wiring and tests.
func (s *Store) SeedSettings(userID, definitionID string, values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDef, ok := s.settings[userID]
	if !ok {
		byDef = make(map[string]map[string]string)
		s.settings[userID] = byDef
	}
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	byDef[definitionID] = copied
}

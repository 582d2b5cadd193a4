package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/acquire"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/storage"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/validate"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/persistence"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/id"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// Publisher broadcasts lifecycle events to stream subscribers.
type Publisher interface {
	Publish(event types.Event)
}

// ServiceController is the slice of the runtime orchestrator the
// dispatcher needs: stopping a plugin's services ahead of uninstall
// and probing their state for status reports.
type ServiceController interface {
	StopAll(ctx context.Context, userID string, plugin *types.Plugin) map[string]string
	States(ctx context.Context, userID string, plugin *types.Plugin) ([]types.ServiceState, error)
}

// Deps carries the dispatcher's collaborators. Services and Events
// are optional; everything else is required.
type Deps struct {
	DB        persistence.Store
	Files     *storage.Store
	Acquirer  *acquire.Acquirer
	Inspector *validate.Inspector
	Registry  *Registry
	Hooks     *HookRunner
	Services  ServiceController
	Events    Publisher
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
}

// Dispatcher is the operation front door for plugin lifecycle
// requests. Operations serialize on a per-(user, slug) mutex; shared
// version tree mutations additionally serialize on a per-slug mutex
// so concurrent installs of one plugin by different users cannot
// interleave file work.
type Dispatcher struct {
	db        persistence.Store
	files     *storage.Store
	acquirer  *acquire.Acquirer
	inspector *validate.Inspector
	registry  *Registry
	hooks     *HookRunner
	services  ServiceController
	events    Publisher
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	userOps *keyedMutex // "{userID}/{slug}"
	treeOps *keyedMutex // slug
}

// NewDispatcher creates a dispatcher from its collaborators.
func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{
		db:        deps.DB,
		files:     deps.Files,
		acquirer:  deps.Acquirer,
		inspector: deps.Inspector,
		registry:  deps.Registry,
		hooks:     deps.Hooks,
		services:  deps.Services,
		events:    deps.Events,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		userOps:   newKeyedMutex(),
		treeOps:   newKeyedMutex(),
	}
}

// InstallFromGitHub installs a plugin for userID from a repository
// release. version may be empty or "latest" for the newest release.
func (d *Dispatcher) InstallFromGitHub(ctx context.Context, userID, repoURL, version string) *types.Result {
	start := time.Now()
	acq, err := d.acquirer.AcquireGitHub(ctx, repoURL, version)
	if err != nil {
		d.recordInstall(string(types.SourceGitHub), "failure", start)
		return types.Failed(err)
	}
	defer acq.Cleanup()
	return d.install(ctx, userID, acq, start)
}

// InstallFromUpload installs a plugin for userID from an uploaded
// archive already on local disk.
func (d *Dispatcher) InstallFromUpload(ctx context.Context, userID, archivePath string) *types.Result {
	start := time.Now()
	acq, err := d.acquirer.AcquireLocal(ctx, archivePath)
	if err != nil {
		d.recordInstall(string(types.SourceLocalFile), "failure", start)
		return types.Failed(err)
	}
	defer acq.Cleanup()
	return d.install(ctx, userID, acq, start)
}

func (d *Dispatcher) install(ctx context.Context, userID string, acq *acquire.Acquisition, start time.Time) *types.Result {
	source := string(acq.Source.Type)

	v, err := d.inspector.Inspect(acq.Root)
	if err != nil {
		d.recordInstall(source, "failure", start)
		return types.Failed(err)
	}

	// The manifest version names the storage directory; the release
	// tag is provenance only.
	if acq.Version != "" && acq.Version != v.Version {
		d.logger.Warn("Release tag and manifest version disagree, using manifest",
			zap.String("slug", v.Slug),
			zap.String("tag_version", acq.Version),
			zap.String("manifest_version", v.Version))
	}

	unlock := d.userOps.Lock(userKey(userID, v.Slug))
	defer unlock()

	if _, err := d.db.GetPluginBySlug(ctx, userID, v.Slug); err == nil {
		d.recordInstall(source, "failure", start)
		return types.Failed(types.Fail(types.StepLifecycleInstall,
			fmt.Sprintf("plugin %s is already installed", v.Slug), types.ErrAlreadyInstalled).
			WithSuggestions("uninstall the existing plugin first, or use the update endpoint"))
	}

	staged, versionDir, failRes := d.stageVersion(ctx, v.Slug, v.Version, acq.Root)
	if failRes != nil {
		d.recordInstall(source, "failure", start)
		return failRes
	}

	// The install hook runs in the staged directory so path-relative
	// scripts see their final layout.
	if v.Manifest.Hooks != nil && v.Manifest.Hooks.Install != "" {
		hookRes := d.hooks.Run(ctx, versionDir, v.Manifest.Hooks.Install, userID, v.Slug, types.StepLifecycleInstall)
		if !hookRes.Success {
			d.rollbackStaged(ctx, v.Slug, v.Version, staged)
			d.recordInstall(source, "failure", start)
			return hookRes
		}
	}

	now := time.Now()
	plugin := buildPlugin(userID, v, acq, now)
	if err := d.db.InsertPlugin(ctx, plugin); err != nil {
		d.rollbackStaged(ctx, v.Slug, v.Version, staged)
		d.recordInstall(source, "failure", start)
		if errors.Is(err, types.ErrAlreadyInstalled) {
			return types.Failed(types.Fail(types.StepLifecycleInstall,
				fmt.Sprintf("plugin %s is already installed", v.Slug), err))
		}
		return types.Failed(types.Fail(types.StepLifecycleExec, "failed to record plugin", err))
	}

	if err := d.db.ReplaceModules(ctx, plugin.ID, buildModules(plugin.ID, v.Manifest)); err != nil {
		d.removeRows(ctx, plugin.ID)
		d.rollbackStaged(ctx, v.Slug, v.Version, staged)
		d.recordInstall(source, "failure", start)
		return types.Failed(types.Fail(types.StepLifecycleExec, "failed to record plugin modules", err))
	}

	for _, svc := range buildServices(plugin.ID, v.Manifest) {
		if err := d.db.UpsertServiceRuntime(ctx, svc); err != nil {
			d.removeRows(ctx, plugin.ID)
			d.rollbackStaged(ctx, v.Slug, v.Version, staged)
			d.recordInstall(source, "failure", start)
			return types.Failed(types.Fail(types.StepLifecycleExec, "failed to record plugin services", err))
		}
	}

	if err := d.files.WriteMetadata(metadataFor(plugin, acq, versionDir, now)); err != nil {
		// Advisory only; the database row is authoritative
		d.logger.Warn("Failed to write installation metadata",
			zap.String("slug", v.Slug),
			zap.Error(err))
	}

	d.registry.Invalidate(v.Slug)
	d.publish(types.Event{
		Type:   types.EventPluginInstalled,
		UserID: userID,
		Slug:   v.Slug,
		Data: map[string]interface{}{
			"plugin_id": plugin.ID,
			"version":   plugin.Version,
			"source":    source,
		},
	})
	d.recordInstall(source, "success", start)
	d.refreshInstalledGauge(ctx)

	d.logger.Info("Plugin installed",
		zap.String("slug", v.Slug),
		zap.String("version", plugin.Version),
		zap.String("user_id", userID),
		zap.String("source", source),
		zap.String("validation_mode", string(v.Mode)))

	return types.Ok("plugin installed", map[string]interface{}{
		"plugin_id":       plugin.ID,
		"slug":            plugin.Slug,
		"name":            plugin.Name,
		"version":         plugin.Version,
		"validation_mode": string(plugin.ValidationMode),
	})
}

// Uninstall removes a user's plugin: services stopped best-effort,
// optional uninstall hook, row + metadata removal, and shared files
// only when no other user's row still references the slug.
func (d *Dispatcher) Uninstall(ctx context.Context, userID, slug string) *types.Result {
	unlock := d.userOps.Lock(userKey(userID, slug))
	defer unlock()

	plugin, err := d.db.GetPluginBySlug(ctx, userID, slug)
	if err != nil {
		d.recordUninstall("failure")
		return types.Failed(types.Fail(types.StepLifecycleExec,
			fmt.Sprintf("plugin %s is not installed", slug), types.ErrNotFound))
	}

	// A stuck service never blocks uninstall
	if d.services != nil {
		for name, outcome := range d.services.StopAll(ctx, userID, plugin) {
			d.logger.Info("Service stopped for uninstall",
				zap.String("slug", slug),
				zap.String("service", name),
				zap.String("outcome", outcome))
		}
	}

	// Same for a broken uninstall hook
	if mgr, err := d.registry.Load(ctx, slug); err == nil {
		if res := mgr.Delete(ctx, userID); !res.Success {
			d.logger.Warn("Uninstall hook failed, continuing",
				zap.String("slug", slug),
				zap.Stringp("error", res.Error))
		}
	} else {
		d.logger.Warn("No lifecycle manager for uninstall hook",
			zap.String("slug", slug),
			zap.Error(err))
	}

	if err := d.db.DeleteServiceRuntimesByPluginID(ctx, plugin.ID); err != nil {
		d.recordUninstall("failure")
		return types.Failed(types.Fail(types.StepLifecycleExec, "failed to delete service rows", err))
	}
	if err := d.db.DeletePlugin(ctx, plugin.ID); err != nil {
		d.recordUninstall("failure")
		return types.Failed(types.Fail(types.StepLifecycleExec, "failed to delete plugin row", err))
	}

	if err := d.files.RemoveMetadata(userID, plugin.ID); err != nil {
		d.logger.Warn("Failed to remove installation metadata",
			zap.String("plugin_id", plugin.ID),
			zap.Error(err))
	}

	unlockTree := d.treeOps.Lock(slug)
	rows, refErr := d.db.ListPluginsBySlug(ctx, slug)
	if refErr == nil && len(rows) == 0 {
		if err := d.files.RemovePlugin(slug); err != nil {
			d.logger.Warn("Failed to remove shared plugin directory",
				zap.String("slug", slug),
				zap.Error(err))
		}
		d.registry.Invalidate(slug)
	}
	unlockTree()

	d.publish(types.Event{
		Type:   types.EventPluginUninstalled,
		UserID: userID,
		Slug:   slug,
		Data: map[string]interface{}{
			"plugin_id": plugin.ID,
			"version":   plugin.Version,
		},
	})
	d.recordUninstall("success")
	d.refreshInstalledGauge(ctx)

	d.logger.Info("Plugin uninstalled",
		zap.String("slug", slug),
		zap.String("user_id", userID))

	return types.Ok("plugin uninstalled", map[string]interface{}{
		"plugin_id": plugin.ID,
		"slug":      slug,
	})
}

// Status reports row presence, filesystem presence, and per-service
// runtime state. It never mutates the database or the tree.
func (d *Dispatcher) Status(ctx context.Context, userID, slug string) *types.Result {
	unlock := d.userOps.Lock(userKey(userID, slug))
	defer unlock()

	plugin, err := d.db.GetPluginBySlug(ctx, userID, slug)
	if err != nil {
		return types.Ok("plugin not installed", map[string]interface{}{
			"installed": false,
			"slug":      slug,
		})
	}

	data := map[string]interface{}{
		"installed": true,
		"slug":      slug,
		"version":   plugin.Version,
		"plugin":    plugin,
	}

	filesPresent := validate.HasEntryPoint(d.files.Layout().VersionDir(slug, plugin.Version))
	var mgr *Manager
	if m, loadErr := d.registry.Load(ctx, slug); loadErr == nil {
		mgr = m
		if !filesPresent {
			// Flat and legacy layouts live outside the shared tree
			filesPresent = validate.HasEntryPoint(m.Dir)
		}
	}
	data["files_present"] = filesPresent

	if mgr != nil {
		if hookRes := mgr.Status(ctx, userID); hookRes.Success && hookRes.Data != nil {
			data["hook"] = hookRes.Data
		}
	}

	if d.services != nil {
		if states, stateErr := d.services.States(ctx, userID, plugin); stateErr == nil {
			data["services"] = states
		} else {
			d.logger.Warn("Service state probe failed",
				zap.String("slug", slug),
				zap.Error(stateErr))
		}
	} else if rows, rowErr := d.db.GetServiceRuntimesByPluginID(ctx, plugin.ID); rowErr == nil && len(rows) > 0 {
		states := make([]types.ServiceState, 0, len(rows))
		for _, r := range rows {
			states = append(states, types.ServiceState{Name: r.Name, Type: r.Type, Status: r.Status})
		}
		data["services"] = states
	}

	return types.Ok("status", data)
}

// Update moves a user's plugin to the latest release when one is
// newer. Old version directories are retained as rollback material.
func (d *Dispatcher) Update(ctx context.Context, userID, slug string) *types.Result {
	unlock := d.userOps.Lock(userKey(userID, slug))
	defer unlock()

	plugin, err := d.db.GetPluginBySlug(ctx, userID, slug)
	if err != nil {
		d.recordUpdate("failure")
		return types.Failed(types.Fail(types.StepLifecycleExec,
			fmt.Sprintf("plugin %s is not installed", slug), types.ErrNotFound))
	}

	repoURL := updateSourceURL(plugin)
	if plugin.SourceType != types.SourceGitHub || repoURL == "" {
		d.recordUpdate("failure")
		return types.Failed(types.Fail(types.StepReleaseLookup,
			"plugin was not installed from a repository release", nil).
			WithSuggestions("re-install from a newer uploaded archive instead"))
	}

	// Metadata is advisory; it refines provenance but its absence
	// never blocks the update.
	if meta, metaErr := d.files.ReadMetadata(userID, plugin.ID, plugin.SourceType); metaErr == nil && meta.SourceURL != "" {
		repoURL = meta.SourceURL
	}

	latest, err := d.acquirer.LatestVersion(ctx, repoURL)
	if err != nil {
		d.recordUpdate("failure")
		return types.Failed(err)
	}

	newer, err := newerVersion(plugin.Version, latest)
	if err != nil {
		d.recordUpdate("failure")
		return types.Failed(types.Fail(types.StepReleaseLookup, "failed to compare versions", err))
	}
	if !newer {
		d.recordUpdate("skipped")
		return types.Ok("plugin is up to date", map[string]interface{}{
			"slug":             slug,
			"current_version":  plugin.Version,
			"latest_version":   latest,
			"update_available": false,
		})
	}

	acq, err := d.acquirer.AcquireGitHub(ctx, repoURL, latest)
	if err != nil {
		d.recordUpdate("failure")
		return types.Failed(err)
	}
	defer acq.Cleanup()

	v, err := d.inspector.Inspect(acq.Root)
	if err != nil {
		d.recordUpdate("failure")
		return types.Failed(err)
	}
	if v.Slug != slug {
		d.recordUpdate("failure")
		return types.Failed(types.Fail(types.StepValidation,
			fmt.Sprintf("release identifies as %q, installed plugin is %q", v.Slug, slug), nil).
			WithSuggestions("the repository may have been renamed or repurposed; re-install instead"))
	}

	staged, versionDir, failRes := d.stageVersion(ctx, slug, v.Version, acq.Root)
	if failRes != nil {
		d.recordUpdate("failure")
		return failRes
	}

	previous := plugin.Version
	updated := *plugin
	applyManifest(&updated, v)
	if err := d.db.UpdatePlugin(ctx, &updated); err != nil {
		d.rollbackStaged(ctx, slug, v.Version, staged)
		d.recordUpdate("failure")
		return types.Failed(types.Fail(types.StepLifecycleExec, "failed to update plugin row", err))
	}

	if err := d.db.ReplaceModules(ctx, updated.ID, buildModules(updated.ID, v.Manifest)); err != nil {
		// Row back first, then files; the pair stays consistent
		if restoreErr := d.db.UpdatePlugin(ctx, plugin); restoreErr != nil {
			d.logger.Error("Failed to restore plugin row after module failure",
				zap.String("slug", slug),
				zap.Error(restoreErr))
		}
		d.rollbackStaged(ctx, slug, v.Version, staged)
		d.recordUpdate("failure")
		return types.Failed(types.Fail(types.StepLifecycleExec, "failed to record plugin modules", err))
	}

	d.syncServices(ctx, updated.ID, v.Manifest)

	meta := metadataFor(&updated, acq, versionDir, time.Now())
	meta.InstalledAt = plugin.CreatedAt
	if old, metaErr := d.files.ReadMetadata(userID, plugin.ID, plugin.SourceType); metaErr == nil && !old.InstalledAt.IsZero() {
		meta.InstalledAt = old.InstalledAt
	}
	if err := d.files.WriteMetadata(meta); err != nil {
		d.logger.Warn("Failed to rewrite installation metadata",
			zap.String("slug", slug),
			zap.Error(err))
	}

	d.registry.Invalidate(slug)
	d.publish(types.Event{
		Type:   types.EventPluginUpdated,
		UserID: userID,
		Slug:   slug,
		Data: map[string]interface{}{
			"plugin_id":        updated.ID,
			"previous_version": previous,
			"version":          v.Version,
		},
	})
	d.recordUpdate("success")

	d.logger.Info("Plugin updated",
		zap.String("slug", slug),
		zap.String("user_id", userID),
		zap.String("from", previous),
		zap.String("to", v.Version))

	return types.Ok("plugin updated", map[string]interface{}{
		"plugin_id":        updated.ID,
		"slug":             slug,
		"previous_version": previous,
		"version":          v.Version,
	})
}

// CheckUpdate compares the installed version against the latest
// release without mutating anything.
func (d *Dispatcher) CheckUpdate(ctx context.Context, userID, slug string) *types.Result {
	unlock := d.userOps.Lock(userKey(userID, slug))
	defer unlock()

	plugin, err := d.db.GetPluginBySlug(ctx, userID, slug)
	if err != nil {
		return types.Failed(types.Fail(types.StepLifecycleExec,
			fmt.Sprintf("plugin %s is not installed", slug), types.ErrNotFound))
	}

	repoURL := updateSourceURL(plugin)
	if plugin.SourceType != types.SourceGitHub || repoURL == "" {
		return types.Ok("update checks unavailable for this source", map[string]interface{}{
			"slug":             slug,
			"current_version":  plugin.Version,
			"update_available": false,
		})
	}

	latest, err := d.acquirer.LatestVersion(ctx, repoURL)
	if err != nil {
		return types.Failed(err)
	}

	newer, err := newerVersion(plugin.Version, latest)
	if err != nil {
		return types.Failed(types.Fail(types.StepReleaseLookup, "failed to compare versions", err))
	}

	return types.Ok("update check complete", map[string]interface{}{
		"slug":             slug,
		"current_version":  plugin.Version,
		"latest_version":   latest,
		"update_available": newer,
	})
}

// stageVersion populates shared/{slug}/v{version} and retargets the
// alias under the slug-level mutex. staged reports whether this call
// created the version directory and therefore owns its rollback.
func (d *Dispatcher) stageVersion(ctx context.Context, slug, version, srcRoot string) (staged bool, versionDir string, failed *types.Result) {
	unlock := d.treeOps.Lock(slug)
	defer unlock()

	versionDir = d.files.Layout().VersionDir(slug, version)
	if d.files.HasVersion(slug, version) {
		d.logger.Info("Version already staged, reusing",
			zap.String("slug", slug),
			zap.String("version", version))
	} else {
		if _, err := d.files.StageVersion(slug, version, srcRoot); err != nil {
			return false, "", types.Failed(types.Fail(types.StepLifecycleInstall, "failed to stage plugin files", err))
		}
		staged = true
	}

	if _, err := d.files.UpdateAlias(slug, version); err != nil {
		d.discardStaged(ctx, slug, version, staged)
		return false, "", types.Failed(types.Fail(types.StepLifecycleInstall, "failed to update version alias", err))
	}
	return staged, versionDir, nil
}

// rollbackStaged undoes stageVersion after a later step failed.
func (d *Dispatcher) rollbackStaged(ctx context.Context, slug, version string, staged bool) {
	if !staged {
		return
	}
	unlock := d.treeOps.Lock(slug)
	defer unlock()
	d.discardStaged(ctx, slug, version, staged)
}

// discardStaged removes a version directory this process created when
// the operation it belonged to failed. Caller holds the slug mutex.
// The directory survives when any user's row references its version.
func (d *Dispatcher) discardStaged(ctx context.Context, slug, version string, staged bool) {
	if !staged {
		return
	}

	rows, err := d.db.ListPluginsBySlug(ctx, slug)
	if err != nil {
		d.logger.Warn("Rollback reference check failed, keeping staged files",
			zap.String("slug", slug),
			zap.Error(err))
		return
	}
	if len(rows) == 0 {
		if err := d.files.RemovePlugin(slug); err != nil {
			d.logger.Warn("Rollback failed to remove plugin directory",
				zap.String("slug", slug),
				zap.Error(err))
		}
		return
	}
	for _, row := range rows {
		if row.Version == version {
			return
		}
	}

	if err := d.files.RemoveVersion(slug, version); err != nil {
		d.logger.Warn("Rollback failed to remove version directory",
			zap.String("slug", slug),
			zap.String("version", version),
			zap.Error(err))
		return
	}
	// Point the alias back at the newest surviving version
	if versions, err := d.files.ListVersions(slug); err == nil && len(versions) > 0 {
		if _, err := d.files.UpdateAlias(slug, versions[0]); err != nil {
			d.logger.Warn("Rollback failed to retarget alias",
				zap.String("slug", slug),
				zap.Error(err))
		}
	}
}

// syncServices upserts declared service rows and drops rows for
// services the new manifest no longer declares. Existing rows keep
// their identity and status.
func (d *Dispatcher) syncServices(ctx context.Context, pluginID string, m *types.Manifest) {
	existing, err := d.db.GetServiceRuntimesByPluginID(ctx, pluginID)
	if err != nil {
		d.logger.Warn("Failed to list service rows for sync",
			zap.String("plugin_id", pluginID),
			zap.Error(err))
		existing = nil
	}

	declared := make(map[string]bool, len(m.Services))
	for _, svc := range buildServices(pluginID, m) {
		declared[svc.Name] = true
		if err := d.db.UpsertServiceRuntime(ctx, svc); err != nil {
			d.logger.Warn("Failed to upsert service row",
				zap.String("plugin_id", pluginID),
				zap.String("service", svc.Name),
				zap.Error(err))
		}
	}
	for _, old := range existing {
		if declared[old.Name] {
			continue
		}
		if err := d.db.DeleteServiceRuntime(ctx, pluginID, old.Name); err != nil {
			d.logger.Warn("Failed to delete stale service row",
				zap.String("plugin_id", pluginID),
				zap.String("service", old.Name),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) removeRows(ctx context.Context, pluginID string) {
	if err := d.db.DeleteServiceRuntimesByPluginID(ctx, pluginID); err != nil {
		d.logger.Warn("Rollback failed to delete service rows",
			zap.String("plugin_id", pluginID),
			zap.Error(err))
	}
	if err := d.db.DeletePlugin(ctx, pluginID); err != nil {
		d.logger.Warn("Rollback failed to delete plugin row",
			zap.String("plugin_id", pluginID),
			zap.Error(err))
	}
}

func (d *Dispatcher) publish(ev types.Event) {
	if d.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	d.events.Publish(ev)
}

func (d *Dispatcher) recordInstall(source, status string, start time.Time) {
	if d.metrics != nil {
		d.metrics.RecordInstall(source, status, time.Since(start))
	}
}

func (d *Dispatcher) recordUninstall(status string) {
	if d.metrics != nil {
		d.metrics.RecordUninstall(status)
	}
}

func (d *Dispatcher) recordUpdate(status string) {
	if d.metrics != nil {
		d.metrics.RecordUpdate(status)
	}
}

func (d *Dispatcher) refreshInstalledGauge(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	if rows, err := d.db.ListAllPlugins(ctx); err == nil {
		d.metrics.SetPluginsInstalled(len(rows))
	}
}

func userKey(userID, slug string) string {
	return userID + "/" + slug
}

// newerVersion reports whether latest is strictly newer than current.
func newerVersion(current, latest string) (bool, error) {
	cur, err := semver.NewVersion(strings.TrimPrefix(current, "v"))
	if err != nil {
		return false, fmt.Errorf("installed version %q: %w", current, err)
	}
	lat, err := semver.NewVersion(strings.TrimPrefix(latest, "v"))
	if err != nil {
		return false, fmt.Errorf("latest version %q: %w", latest, err)
	}
	return lat.GreaterThan(cur), nil
}

func updateSourceURL(p *types.Plugin) string {
	if p.UpdateCheckURL != "" {
		return p.UpdateCheckURL
	}
	return p.SourceURL
}

func buildPlugin(userID string, v *validate.Validation, acq *acquire.Acquisition, now time.Time) *types.Plugin {
	mp := v.Manifest.Plugin

	sourceURL := acq.Source.URL
	if sourceURL == "" {
		sourceURL = mp.SourceURL
	}
	updateURL := mp.UpdateCheckURL
	if updateURL == "" && acq.Source.Type == types.SourceGitHub {
		updateURL = acq.Source.URL
	}

	return &types.Plugin{
		ID:              id.NewPluginID().String(),
		UserID:          userID,
		Slug:            v.Slug,
		Name:            mp.Name,
		Version:         v.Version,
		Description:     mp.Description,
		LongDescription: mp.LongDescription,
		Icon:            mp.Icon,
		Category:        mp.Category,
		Official:        mp.Official,
		Author:          mp.Author,
		SourceType:      acq.Source.Type,
		SourceURL:       sourceURL,
		UpdateCheckURL:  updateURL,
		Status:          types.PluginActivated,
		Enabled:         true,
		ValidationMode:  v.Mode,
		ConfigFields:    mp.ConfigFields,
		Permissions:     mp.Permissions,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// applyManifest refreshes manifest-derived row fields during update.
// Identity, ownership, and provenance fields stay put.
func applyManifest(p *types.Plugin, v *validate.Validation) {
	mp := v.Manifest.Plugin
	p.Name = mp.Name
	p.Version = v.Version
	p.Description = mp.Description
	p.LongDescription = mp.LongDescription
	p.Icon = mp.Icon
	p.Category = mp.Category
	p.Official = mp.Official
	p.Author = mp.Author
	p.ValidationMode = v.Mode
	p.ConfigFields = mp.ConfigFields
	p.Permissions = mp.Permissions
	if mp.UpdateCheckURL != "" {
		p.UpdateCheckURL = mp.UpdateCheckURL
	}
}

func buildModules(pluginID string, m *types.Manifest) []*types.Module {
	out := make([]*types.Module, 0, len(m.Modules))
	for _, spec := range m.Modules {
		out = append(out, &types.Module{
			ID:               id.NewModuleID().String(),
			PluginID:         pluginID,
			Name:             spec.Name,
			DisplayName:      spec.DisplayName,
			Description:      spec.Description,
			Icon:             spec.Icon,
			Category:         spec.Category,
			Props:            spec.Props,
			ConfigFields:     spec.ConfigFields,
			RequiredServices: spec.RequiredServices,
			Layout:           spec.Layout,
			Tags:             spec.Tags,
		})
	}
	return out
}

func buildServices(pluginID string, m *types.Manifest) []*types.ServiceRuntime {
	out := make([]*types.ServiceRuntime, 0, len(m.Services))
	for _, spec := range m.Services {
		out = append(out, &types.ServiceRuntime{
			ID:              id.NewServiceID().String(),
			PluginID:        pluginID,
			Name:            spec.Name,
			Type:            spec.Type,
			SourceURL:       spec.SourceURL,
			InstallCommand:  spec.InstallCommand,
			StartCommand:    spec.StartCommand,
			StopCommand:     spec.StopCommand,
			RestartCommand:  spec.RestartCommand,
			HealthcheckURL:  spec.HealthcheckURL,
			RequiredEnvVars: spec.RequiredEnvVars,
			EnvMapping:      spec.EnvMapping,
			SettingsID:      spec.SettingsID,
			Status:          types.ServicePending,
		})
	}
	return out
}

func metadataFor(p *types.Plugin, acq *acquire.Acquisition, sharedPath string, now time.Time) *storage.InstallationMetadata {
	return &storage.InstallationMetadata{
		PluginID:       p.ID,
		PluginSlug:     p.Slug,
		Name:           p.Name,
		Version:        p.Version,
		UserID:         p.UserID,
		SourceType:     acq.Source.Type,
		SourceURL:      acq.Source.URL,
		ArchiveName:    acq.Source.ArchiveName,
		ArchiveSHA256:  acq.Source.SHA256,
		ValidationMode: p.ValidationMode,
		SharedPath:     sharedPath,
		InstalledAt:    now,
		UpdatedAt:      now,
	}
}

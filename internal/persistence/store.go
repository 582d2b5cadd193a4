// Package persistence defines the narrow repository surface the engine
// needs from the host application's database.
//
// The engine never owns schema or sessions; the host hands it a Store.
// An in-memory implementation lives in the memory subpackage for
// standalone runs and tests.
package persistence

import (
	"context"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// Store is the repository consumed by the lifecycle dispatcher and the
// service runtime orchestrator. Implementations must enforce the
// (UserID, Slug) uniqueness invariant on plugin rows.
type Store interface {
	// GetPluginBySlug returns the plugin row owned by userID with the
	// given slug, or types.ErrNotFound.
	GetPluginBySlug(ctx context.Context, userID, slug string) (*types.Plugin, error)

	// ListPlugins returns all plugin rows owned by userID.
	ListPlugins(ctx context.Context, userID string) ([]*types.Plugin, error)

	// ListPluginsBySlug returns every user's row for a slug. Used to
	// decide whether shared version directories are still referenced.
	ListPluginsBySlug(ctx context.Context, slug string) ([]*types.Plugin, error)

	// ListAllPlugins returns every plugin row across all users. Used by
	// the scheduled update checker and the installed-plugins gauge.
	ListAllPlugins(ctx context.Context) ([]*types.Plugin, error)

	// InsertPlugin inserts a new plugin row. Returns
	// types.ErrAlreadyInstalled when (UserID, Slug) exists.
	InsertPlugin(ctx context.Context, p *types.Plugin) error

	// UpdatePlugin replaces an existing plugin row by ID.
	UpdatePlugin(ctx context.Context, p *types.Plugin) error

	// DeletePlugin removes a plugin row and its module rows.
	DeletePlugin(ctx context.Context, pluginID string) error

	// ReplaceModules removes all module rows for pluginID and inserts
	// the given set. Module rows are never updated in place.
	ReplaceModules(ctx context.Context, pluginID string, modules []*types.Module) error

	// ListModules returns module rows for a plugin.
	ListModules(ctx context.Context, pluginID string) ([]*types.Module, error)

	// GetServiceRuntimesByPluginID returns declared services for a plugin.
	GetServiceRuntimesByPluginID(ctx context.Context, pluginID string) ([]*types.ServiceRuntime, error)

	// UpsertServiceRuntime inserts or replaces a service runtime row
	// keyed by (PluginID, Name). When the row exists its ID and Status
	// are preserved; status transitions go through
	// UpdateServiceRuntimeStatus.
	UpsertServiceRuntime(ctx context.Context, s *types.ServiceRuntime) error

	// UpdateServiceRuntimeStatus transitions a service row's status.
	UpdateServiceRuntimeStatus(ctx context.Context, pluginID, name string, status types.ServiceStatus) error

	// DeleteServiceRuntime removes a single service row by (PluginID, Name).
	DeleteServiceRuntime(ctx context.Context, pluginID, name string) error

	// DeleteServiceRuntimesByPluginID removes all service rows for a plugin.
	DeleteServiceRuntimesByPluginID(ctx context.Context, pluginID string) error

	// GetSettingsEnvVars returns the raw settings values for a settings
	// definition scoped to a user. Values may be encrypted; callers
	// pass them through a fieldcrypt.Cipher before use.
	GetSettingsEnvVars(ctx context.Context, userID, definitionID string) (map[string]string, error)
}

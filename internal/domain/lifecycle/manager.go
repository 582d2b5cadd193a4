package lifecycle

import (
	"context"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// Manager is the per-slug lifecycle handle: a discovered plugin
// directory plus its normalized manifest. Managers are stateless and
// safe for concurrent use; per-user serialization happens in the
// dispatcher.
type Manager struct {
	Slug     string
	Dir      string
	Version  string
	Mode     types.ValidationMode
	Manifest *types.Manifest

	hooks  *HookRunner
	logger *logging.Logger
}

// Install runs the manifest's install hook, if any.
func (m *Manager) Install(ctx context.Context, userID string) *types.Result {
	return m.runHook(ctx, userID, m.script(func(h *types.Hooks) string { return h.Install }),
		"install", types.StepLifecycleInstall)
}

// Delete runs the manifest's uninstall hook, if any.
func (m *Manager) Delete(ctx context.Context, userID string) *types.Result {
	return m.runHook(ctx, userID, m.script(func(h *types.Hooks) string { return h.Uninstall }),
		"uninstall", types.StepLifecycleExec)
}

// Status runs the manifest's status hook, if any. The hook's data is
// surfaced verbatim so plugins can report internal state.
func (m *Manager) Status(ctx context.Context, userID string) *types.Result {
	return m.runHook(ctx, userID, m.script(func(h *types.Hooks) string { return h.Status }),
		"status", types.StepLifecycleExec)
}

func (m *Manager) script(pick func(*types.Hooks) string) string {
	if m.Manifest == nil || m.Manifest.Hooks == nil {
		return ""
	}
	return pick(m.Manifest.Hooks)
}

func (m *Manager) runHook(ctx context.Context, userID, script, kind string, step types.Step) *types.Result {
	if script == "" {
		return types.Ok("no "+kind+" hook declared", nil)
	}
	return m.hooks.Run(ctx, m.Dir, script, userID, m.Slug, step)
}

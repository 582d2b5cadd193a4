package runtime

import (
	"context"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
)

// pythonBackend is the install-oriented path for helpers that run
// relative to the plugin rather than as long-lived daemons. Commands
// run in the foreground under timeouts; nothing is detached. Services
// without their own source repository run inside the plugin's
// installed version directory.
type pythonBackend struct {
	checkouts *CheckoutManager
	prober    *HealthProber
	cfg       config.RuntimeConfig
	logger    *logging.Logger
}

func newPythonBackend(checkouts *CheckoutManager, prober *HealthProber, cfg config.RuntimeConfig, logger *logging.Logger) *pythonBackend {
	return &pythonBackend{checkouts: checkouts, prober: prober, cfg: cfg, logger: logger}
}

func (b *pythonBackend) Start(ctx context.Context, inst *Instance) error {
	dir, err := b.workDir(ctx, inst)
	if err != nil {
		return err
	}
	if err := b.checkouts.EnsureInstalled(ctx, dir, inst.Svc.InstallCommand, inst.Env, b.cfg.InstallTimeout); err != nil {
		return err
	}
	if inst.Svc.StartCommand == "" {
		// Install-only service.
		return nil
	}
	return runCommand(ctx, dir, inst.Svc.StartCommand, inst.Env, b.cfg.CommandTimeout)
}

func (b *pythonBackend) Stop(ctx context.Context, inst *Instance) error {
	if inst.Svc.StopCommand == "" {
		return nil
	}
	dir, err := b.workDir(ctx, inst)
	if err != nil {
		return err
	}
	return runCommand(ctx, dir, inst.Svc.StopCommand, inst.Env, b.cfg.CommandTimeout)
}

func (b *pythonBackend) Restart(ctx context.Context, inst *Instance) error {
	if inst.Svc.RestartCommand != "" {
		dir, err := b.workDir(ctx, inst)
		if err != nil {
			return err
		}
		return runCommand(ctx, dir, inst.Svc.RestartCommand, inst.Env, b.cfg.CommandTimeout)
	}
	if err := b.Stop(ctx, inst); err != nil {
		return err
	}
	return b.Start(ctx, inst)
}

func (b *pythonBackend) Health(ctx context.Context, inst *Instance) error {
	return probeHealth(ctx, b.prober, inst)
}

func (b *pythonBackend) workDir(ctx context.Context, inst *Instance) (string, error) {
	if inst.Svc.SourceURL == "" {
		return inst.PluginDir, nil
	}
	return b.checkouts.EnsureSource(ctx, inst.Slug, inst.Svc.Name, inst.Svc.SourceURL)
}

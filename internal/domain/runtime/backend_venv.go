package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
)

// knownServiceRepos pins first-party services to their repositories.
// venv services resolve here first; the manifest's source_url is the
// fallback for anything not pinned.
var knownServiceRepos = map[string]string{
	"document-chat": "https://github.com/BrainDriveAI/BrainDrive-Document-Chat-Service",
	"search-engine": "https://github.com/BrainDriveAI/BrainDrive-Search-Engine-Service",
}

// venvBackend runs services as detached background processes inside
// their own checkouts, each with an isolated interpreter environment
// built by its install command. Start is idempotent: a service already
// answering its healthcheck is left alone.
type venvBackend struct {
	checkouts *CheckoutManager
	procs     *ProcessTable
	prober    *HealthProber
	cfg       config.RuntimeConfig
	logger    *logging.Logger
}

func newVenvBackend(checkouts *CheckoutManager, procs *ProcessTable, prober *HealthProber, cfg config.RuntimeConfig, logger *logging.Logger) *venvBackend {
	return &venvBackend{checkouts: checkouts, procs: procs, prober: prober, cfg: cfg, logger: logger}
}

func (b *venvBackend) Start(ctx context.Context, inst *Instance) error {
	if inst.Svc.HealthcheckURL != "" && b.prober.Healthy(ctx, inst.Svc.HealthcheckURL) {
		b.logger.Info("Service already healthy, start skipped",
			zap.String("service", inst.Key()))
		return nil
	}
	if pid, running := b.procs.Running(inst.Key()); running {
		b.logger.Info("Service process already tracked, start skipped",
			zap.String("service", inst.Key()),
			zap.Int("pid", pid))
		return nil
	}

	repo := knownServiceRepos[inst.Svc.Name]
	if repo == "" {
		repo = inst.Svc.SourceURL
	}
	dir, err := b.checkouts.EnsureSource(ctx, inst.Slug, inst.Svc.Name, repo)
	if err != nil {
		return err
	}
	if err := b.checkouts.EnsureInstalled(ctx, dir, inst.Svc.InstallCommand, inst.Env, b.cfg.InstallTimeout); err != nil {
		return err
	}

	if inst.Svc.StartCommand == "" {
		return fmt.Errorf("service %s has no start command", inst.Svc.Name)
	}
	argv, err := SplitCommand(inst.Svc.StartCommand)
	if err != nil {
		return err
	}
	_, err = b.procs.Launch(inst.Key(), dir, argv, inst.Env)
	return err
}

func (b *venvBackend) Stop(ctx context.Context, inst *Instance) error {
	if b.procs.Stop(inst.Key()) {
		return nil
	}
	// Nothing tracked. Fall back to the declared stop command in case
	// a process survives from a previous engine run.
	if inst.Svc.StopCommand != "" {
		dir := b.checkouts.Dir(inst.Slug, inst.Svc.Name)
		if hasContent(dir) {
			return runCommand(ctx, dir, inst.Svc.StopCommand, inst.Env, b.cfg.CommandTimeout)
		}
	}
	return nil
}

func (b *venvBackend) Restart(ctx context.Context, inst *Instance) error {
	if err := b.Stop(ctx, inst); err != nil {
		return err
	}
	return b.Start(ctx, inst)
}

func (b *venvBackend) Health(ctx context.Context, inst *Instance) error {
	return probeHealth(ctx, b.prober, inst)
}

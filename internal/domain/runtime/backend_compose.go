package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
)

// composeFileNames are checked in order when locating a stack's
// compose file.
var composeFileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// composeBackend drives docker-compose stacks. Every command runs in
// the service checkout after the resolved environment is written to
// the checkout's .env file, which is how compose files consume
// secrets. The file is owner-only and never logged.
type composeBackend struct {
	checkouts *CheckoutManager
	prober    *HealthProber
	cfg       config.RuntimeConfig
	logger    *logging.Logger
}

func newComposeBackend(checkouts *CheckoutManager, prober *HealthProber, cfg config.RuntimeConfig, logger *logging.Logger) *composeBackend {
	return &composeBackend{checkouts: checkouts, prober: prober, cfg: cfg, logger: logger}
}

func (b *composeBackend) Start(ctx context.Context, inst *Instance) error {
	dir, err := b.checkouts.EnsureSource(ctx, inst.Slug, inst.Svc.Name, inst.Svc.SourceURL)
	if err != nil {
		return err
	}
	if err := WriteEnvFile(filepath.Join(dir, ".env"), inst.Env); err != nil {
		return fmt.Errorf("write service env file: %w", err)
	}

	names, err := composeServices(dir)
	if err != nil {
		return err
	}
	b.logger.Info("Compose stack resolved",
		zap.String("service", inst.Key()),
		zap.Strings("containers", names))

	if err := b.checkouts.EnsureInstalled(ctx, dir, inst.Svc.InstallCommand, inst.Env, b.cfg.InstallTimeout); err != nil {
		return err
	}
	if inst.Svc.StartCommand == "" {
		return fmt.Errorf("service %s has no start command", inst.Svc.Name)
	}
	return runCommand(ctx, dir, inst.Svc.StartCommand, inst.Env, b.cfg.CommandTimeout)
}

func (b *composeBackend) Stop(ctx context.Context, inst *Instance) error {
	dir := b.checkouts.Dir(inst.Slug, inst.Svc.Name)
	if !hasContent(dir) || inst.Svc.StopCommand == "" {
		return nil
	}
	return runCommand(ctx, dir, inst.Svc.StopCommand, inst.Env, b.cfg.CommandTimeout)
}

// Restart is stop-then-start with a freshly written .env; compose has
// no atomic restart across arbitrary user-supplied stacks.
func (b *composeBackend) Restart(ctx context.Context, inst *Instance) error {
	if err := b.Stop(ctx, inst); err != nil {
		return err
	}
	return b.Start(ctx, inst)
}

func (b *composeBackend) Health(ctx context.Context, inst *Instance) error {
	return probeHealth(ctx, b.prober, inst)
}

// composeServices lists the service names declared by the checkout's
// compose file.
func composeServices(dir string) ([]string, error) {
	var path string
	for _, name := range composeFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, fmt.Errorf("no compose file found in %s", dir)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Services map[string]interface{} `yaml:"services"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

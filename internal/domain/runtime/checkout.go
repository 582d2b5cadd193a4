package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/acquire"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
)

// installMarker records that a checkout's install command completed,
// so later starts skip it.
const installMarker = ".install_complete"

// ServiceLogName is the per-service log file inside a checkout. All
// command output and detached process output appends here; the file is
// never truncated.
const ServiceLogName = "service_runtime.log"

// CheckoutManager places service source checkouts under the services
// runtime directory, one per (slug, service) pair, and runs each
// checkout's install command exactly once.
type CheckoutManager struct {
	root     string
	acquirer *acquire.Acquirer
	logger   *logging.Logger
}

func NewCheckoutManager(servicesDir string, acquirer *acquire.Acquirer, logger *logging.Logger) *CheckoutManager {
	return &CheckoutManager{
		root:     servicesDir,
		acquirer: acquirer,
		logger:   logger,
	}
}

// Dir returns the checkout directory for a service without touching
// the filesystem.
func (c *CheckoutManager) Dir(slug, service string) string {
	return filepath.Join(c.root, slug+"_"+service)
}

// EnsureSource makes sure the checkout directory holds the service's
// source, cloning repoURL on first use. An existing non-empty
// directory is trusted as-is.
func (c *CheckoutManager) EnsureSource(ctx context.Context, slug, service, repoURL string) (string, error) {
	dir := c.Dir(slug, service)
	if hasContent(dir) {
		return dir, nil
	}
	if repoURL == "" {
		return "", fmt.Errorf("service %s has no source repository", service)
	}

	c.logger.Info("Checking out service source",
		zap.String("service", service),
		zap.String("repo", repoURL),
		zap.String("dir", dir))

	if err := c.acquirer.CheckoutRepo(ctx, repoURL, dir); err != nil {
		return "", fmt.Errorf("checkout %s: %w", repoURL, err)
	}
	return dir, nil
}

// EnsureInstalled runs command once per checkout, recording completion
// in a marker file. Later calls return immediately.
func (c *CheckoutManager) EnsureInstalled(ctx context.Context, dir, command string, env map[string]string, timeout time.Duration) error {
	if command == "" {
		return nil
	}
	marker := filepath.Join(dir, installMarker)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	c.logger.Info("Running service install command", zap.String("dir", dir))
	if err := runCommand(ctx, dir, command, env, timeout); err != nil {
		return fmt.Errorf("install command: %w", err)
	}
	return os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}

func hasContent(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

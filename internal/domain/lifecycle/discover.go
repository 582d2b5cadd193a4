package lifecycle

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/storage"
	"github.com/BrainDriveAI/plugin-engine/internal/domain/validate"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// Discoverer resolves a plugin slug to the directory holding its code.
type Discoverer struct {
	files  *storage.Store
	logger *logging.Logger
}

// NewDiscoverer creates a discoverer over the shared plugin tree.
func NewDiscoverer(files *storage.Store, logger *logging.Logger) *Discoverer {
	return &Discoverer{files: files, logger: logger}
}

// Discover checks, in order: the flat development directory, the
// shared version tree newest-first, and the legacy source layout. A
// directory only counts when it contains an entry point; alias
// directories like v1 are never treated as versions.
func (d *Discoverer) Discover(slug string) (string, error) {
	layout := d.files.Layout()

	if flat := layout.FlatDir(); flat != "" {
		dir := filepath.Join(flat, slug)
		if validate.HasEntryPoint(dir) {
			return dir, nil
		}
	}

	versions, err := d.files.ListVersions(slug)
	if err != nil {
		return "", err
	}
	for _, v := range versions {
		dir := layout.VersionDir(slug, v)
		if validate.HasEntryPoint(dir) {
			return dir, nil
		}
		d.logger.Warn("Version directory has no entry point, skipping",
			zap.String("slug", slug),
			zap.String("version", v))
	}

	if legacy := layout.LegacyDir(); legacy != "" {
		dir := filepath.Join(legacy, slug)
		if validate.HasEntryPoint(dir) {
			return dir, nil
		}
	}

	return "", types.Fail(types.StepLifecycleInstall,
		fmt.Sprintf("no plugin directory found for %s", slug), types.ErrNotFound).
		WithSuggestions("install the plugin before operating on it")
}

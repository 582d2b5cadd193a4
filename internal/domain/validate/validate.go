package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/utils"
	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// degradedVersion is assumed when a legacy plugin declares none.
const degradedVersion = "0.0.0"

// Validation is the outcome of inspecting a candidate plugin root.
// Slug and Version are normalized; Manifest reflects the rung that
// matched, not necessarily the bytes on disk.
type Validation struct {
	Manifest *types.Manifest
	Slug     string
	Version  string
	Mode     types.ValidationMode
}

// Inspector runs the compatibility ladder against candidate roots.
type Inspector struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewInspector creates a plugin inspector
func NewInspector(logger *logging.Logger, metrics *monitoring.Metrics) *Inspector {
	return &Inspector{logger: logger, metrics: metrics}
}

// Inspect confirms root is an installable plugin and extracts its
// declared metadata. It reads the tree but never writes to it.
func (i *Inspector) Inspect(root string) (*Validation, error) {
	var manifestErr error

	data, err := os.ReadFile(filepath.Join(root, ManifestName))
	if err == nil {
		v, perr := i.fromManifest(data)
		if perr == nil {
			i.record(string(v.Mode), "success")
			i.logger.Info("plugin validated",
				zap.String("slug", v.Slug),
				zap.String("version", v.Version),
				zap.Int("schema", v.Manifest.Schema),
				zap.Int("services", len(v.Manifest.Services)))
			return v, nil
		}
		manifestErr = perr
		i.logger.Warn("manifest rejected, trying legacy source scan",
			zap.String("root", filepath.Base(root)),
			zap.Error(perr))
	}

	src, err := os.ReadFile(filepath.Join(root, LegacyEntryPoint))
	if err == nil {
		if v := i.fromSourceScan(src); v != nil {
			i.record(string(v.Mode), "success")
			i.logger.Info("plugin validated in degraded mode",
				zap.String("slug", v.Slug),
				zap.String("version", v.Version),
				zap.Int("services", len(v.Manifest.Services)))
			return v, nil
		}
		if manifestErr == nil {
			manifestErr = fmt.Errorf("source scan recovered no plugin slug from %s", LegacyEntryPoint)
		}
	}

	i.record("none", "failure")
	oe := types.Fail(types.StepValidation, "not a valid BrainDrive plugin", manifestErr).
		WithSuggestions(
			fmt.Sprintf("ensure the plugin root contains one of: %s", strings.Join(EntryPointNames(), ", ")),
			"check the archive is a valid BrainDrive plugin",
		)
	if manifestErr != nil {
		oe.WithDetail("manifest_error", manifestErr.Error())
	}
	return nil, oe
}

func (i *Inspector) fromManifest(data []byte) (*Validation, error) {
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	slug := m.Plugin.Slug
	if slug == "" {
		slug = utils.Slugify(m.Plugin.Name)
	}
	if err := utils.ValidateSlug(slug, true); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidManifest, err)
	}

	version := m.Plugin.Version
	if version == "" && m.Schema == 0 {
		version = degradedVersion
	}
	normalized, err := NormalizeVersion(version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidManifest, err)
	}

	m.Plugin.Slug = slug
	m.Plugin.Version = normalized
	return &Validation{
		Manifest: m,
		Slug:     slug,
		Version:  normalized,
		Mode:     types.ValidationFull,
	}, nil
}

func (i *Inspector) fromSourceScan(src []byte) *Validation {
	scan := ScanSource(src)
	if scan == nil {
		return nil
	}
	if err := utils.ValidateSlug(scan.Slug, true); err != nil {
		i.logger.Warn("source scan recovered an unusable slug",
			zap.String("slug", scan.Slug), zap.Error(err))
		return nil
	}

	version, err := NormalizeVersion(scan.Version)
	if err != nil {
		version = degradedVersion
	}

	name := scan.Name
	if name == "" {
		name = scan.Slug
	}
	return &Validation{
		Manifest: &types.Manifest{
			Plugin: types.ManifestPlugin{
				Name:    name,
				Slug:    scan.Slug,
				Version: version,
			},
			Services: scan.Services,
		},
		Slug:    scan.Slug,
		Version: version,
		Mode:    types.ValidationDegraded,
	}
}

func (i *Inspector) record(mode, status string) {
	if i.metrics != nil {
		i.metrics.RecordValidation(mode, status)
	}
}

// NormalizeVersion parses a version under semver rules and returns its
// canonical form. A leading "v" is tolerated and stripped.
func NormalizeVersion(version string) (string, error) {
	if version == "" {
		return "", fmt.Errorf("version is empty")
	}
	parsed, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return "", fmt.Errorf("version %q is not semver: %w", version, err)
	}
	return parsed.String(), nil
}

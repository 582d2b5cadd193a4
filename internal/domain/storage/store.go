package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/utils"
	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// Store performs the filesystem mutations behind installs, updates,
// and uninstalls. One version directory is shared by every user who
// installed that version.
type Store struct {
	layout         *Layout
	forceAliasCopy bool
	logger         *logging.Logger
}

// NewStore creates a plugin storage store
func NewStore(cfg config.StorageConfig, logger *logging.Logger) *Store {
	return &Store{
		layout:         NewLayout(cfg),
		forceAliasCopy: cfg.ForceAliasCopy,
		logger:         logger,
	}
}

// Layout exposes path resolution to collaborators
func (s *Store) Layout() *Layout { return s.layout }

// EnsureBase creates the base directories. Called once at startup.
func (s *Store) EnsureBase() error {
	for _, dir := range []string{s.layout.Base(), s.layout.SharedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return nil
}

// HasVersion reports whether a version is already staged. A second
// user installing the same version reuses the existing directory.
func (s *Store) HasVersion(slug, version string) bool {
	info, err := os.Stat(s.layout.VersionDir(slug, version))
	return err == nil && info.IsDir()
}

// StageVersion places srcRoot at shared/{slug}/v{version}. A partial
// directory left by an earlier failed attempt is removed first, and a
// copy failure never leaves one behind.
func (s *Store) StageVersion(slug, version, srcRoot string) (string, error) {
	dest := s.layout.VersionDir(slug, version)

	if _, err := os.Lstat(dest); err == nil {
		s.logger.Warn("removing partial version directory",
			zap.String("slug", slug),
			zap.String("version", version))
		if err := os.RemoveAll(dest); err != nil {
			return "", fmt.Errorf("failed to remove partial version directory: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create plugin directory: %w", err)
	}
	if err := utils.CopyTree(srcRoot, dest); err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("failed to stage version %s: %w", version, err)
	}

	s.logger.Info("staged plugin version",
		zap.String("slug", slug),
		zap.String("version", version),
		zap.String("path", dest))
	return dest, nil
}

// UpdateAlias points the v{major} alias at version. The alias is a
// relative symlink where the filesystem allows one and a full directory
// copy everywhere else; the mode in use is always logged.
func (s *Store) UpdateAlias(slug, version string) (string, error) {
	target := s.layout.VersionDir(slug, version)
	alias := s.layout.AliasDir(slug, version)

	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("alias target does not exist: %w", err)
	}

	// A stale alias may be a symlink or a copied directory.
	if info, err := os.Lstat(alias); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			err = os.Remove(alias)
		} else {
			err = os.RemoveAll(alias)
		}
		if err != nil {
			return "", fmt.Errorf("failed to remove stale alias: %w", err)
		}
	}

	fields := []zap.Field{
		zap.String("slug", slug),
		zap.String("alias", filepath.Base(alias)),
		zap.String("target", filepath.Base(target)),
	}

	if !s.forceAliasCopy {
		// Relative link keeps the tree relocatable.
		err := os.Symlink(filepath.Base(target), alias)
		if err == nil {
			s.logger.Info("version alias updated", append(fields, zap.String("mode", "symlink"))...)
			return alias, nil
		}
		s.logger.Warn("symlink alias failed, copying instead", append(fields, zap.Error(err))...)
	}

	if err := utils.CopyTree(target, alias); err != nil {
		os.RemoveAll(alias)
		return "", fmt.Errorf("failed to copy alias directory: %w", err)
	}
	s.logger.Info("version alias updated", append(fields, zap.String("mode", "copy"))...)
	return alias, nil
}

// ListVersions returns staged versions for a slug, newest first.
// A missing plugin directory is an empty list, not an error.
func (s *Store) ListVersions(slug string) ([]string, error) {
	entries, err := os.ReadDir(s.layout.PluginDir(slug))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	var parsed semver.Collection
	for _, entry := range entries {
		if !IsVersionDirName(entry.Name()) {
			continue
		}
		// Staged versions are canonical semver; skip anything else.
		v, err := semver.NewVersion(VersionOfDirName(entry.Name()))
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
	}

	sort.Sort(sort.Reverse(parsed))
	versions := make([]string, len(parsed))
	for i, v := range parsed {
		versions[i] = v.String()
	}
	return versions, nil
}

// RemoveVersion deletes one staged version directory
func (s *Store) RemoveVersion(slug, version string) error {
	if err := os.RemoveAll(s.layout.VersionDir(slug, version)); err != nil {
		return fmt.Errorf("failed to remove version %s: %w", version, err)
	}
	return nil
}

// RemovePlugin deletes a plugin's whole shared directory, every
// version and alias included. Callers check reference counts first.
func (s *Store) RemovePlugin(slug string) error {
	dir := s.layout.PluginDir(slug)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove plugin directory: %w", err)
	}
	s.logger.Info("removed shared plugin directory",
		zap.String("slug", slug),
		zap.String("path", dir))
	return nil
}

// AssetPath resolves rel under the v{major} alias for version, rejecting
// any path that would escape it. Serving through the alias keeps asset
// URLs stable across patch and minor updates.
func (s *Store) AssetPath(slug, version, rel string) (string, error) {
	if err := ValidateRelPath(rel); err != nil {
		return "", err
	}

	base := s.layout.AliasDir(slug, version)
	full := filepath.Join(base, rel)
	if !strings.HasPrefix(full, filepath.Clean(base)+string(os.PathSeparator)) {
		return "", fmt.Errorf("asset path escapes the plugin directory")
	}
	return full, nil
}

package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/config"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// Layout resolves every path the plugin tree uses. All methods are pure;
// nothing here touches the filesystem.
type Layout struct {
	base   string
	flat   string
	legacy string
}

// NewLayout creates a layout rooted at the configured base directory
func NewLayout(cfg config.StorageConfig) *Layout {
	return &Layout{
		base:   cfg.PluginsBaseDir,
		flat:   cfg.FlatDir,
		legacy: cfg.LegacyDir,
	}
}

// Base returns the plugins base directory
func (l *Layout) Base() string { return l.base }

// SharedDir returns the root of the shared version tree
func (l *Layout) SharedDir() string {
	return filepath.Join(l.base, "shared")
}

// PluginDir returns the shared directory for one plugin slug
func (l *Layout) PluginDir(slug string) string {
	return filepath.Join(l.SharedDir(), slug)
}

// VersionDir returns the directory holding one exact version
func (l *Layout) VersionDir(slug, version string) string {
	return filepath.Join(l.PluginDir(slug), "v"+version)
}

// AliasDir returns the v{major} alias path for a version
func (l *Layout) AliasDir(slug, version string) string {
	return filepath.Join(l.PluginDir(slug), "v"+majorOf(version))
}

// FlatDir returns the optional development plugins directory, or ""
func (l *Layout) FlatDir() string { return l.flat }

// LegacyDir returns the optional legacy source-tree layout, or ""
func (l *Layout) LegacyDir() string { return l.legacy }

// MetadataDir returns a user's advisory metadata directory
func (l *Layout) MetadataDir(userID string) string {
	return filepath.Join(l.base, userID, ".metadata")
}

// MetadataPath returns the advisory metadata file for one install.
// GitHub installs are suffixed _remote, uploads _local.
func (l *Layout) MetadataPath(userID, pluginID string, source types.SourceType) string {
	return filepath.Join(l.MetadataDir(userID), pluginID+"_"+sourceSuffix(source)+".json")
}

func sourceSuffix(source types.SourceType) string {
	if source == types.SourceLocalFile {
		return "local"
	}
	return "remote"
}

// IsVersionDirName distinguishes version directories (v1.4.0) from
// v{major} aliases (v1). Only dotted names are versions.
func IsVersionDirName(name string) bool {
	if !strings.HasPrefix(name, "v") {
		return false
	}
	return strings.Contains(name[1:], ".")
}

// VersionOfDirName strips the v prefix from a version directory name
func VersionOfDirName(name string) string {
	return strings.TrimPrefix(name, "v")
}

func majorOf(version string) string {
	if i := strings.Index(version, "."); i > 0 {
		return version[:i]
	}
	return version
}

// ValidateRelPath rejects path components that would escape a plugin
// directory. rel must stay relative after cleaning.
func ValidateRelPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("path is empty")
	}
	if filepath.IsAbs(rel) {
		return fmt.Errorf("path must be relative")
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes the plugin directory")
	}
	return nil
}

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
	"go.uber.org/zap"
)

// InstallationMetadata is the advisory per-user install record written
// next to the shared tree. The database row is authoritative; these
// files exist so operators can reconstruct state from disk alone.
type InstallationMetadata struct {
	PluginID       string               `json:"plugin_id"`
	PluginSlug     string               `json:"plugin_slug"`
	Name           string               `json:"name,omitempty"`
	Version        string               `json:"version"`
	UserID         string               `json:"user_id"`
	SourceType     types.SourceType     `json:"source_type"`
	SourceURL      string               `json:"source_url,omitempty"`
	ArchiveName    string               `json:"archive_name,omitempty"`
	ArchiveSHA256  string               `json:"archive_sha256,omitempty"`
	ValidationMode types.ValidationMode `json:"validation_mode,omitempty"`
	SharedPath     string               `json:"shared_path"`
	InstalledAt    time.Time            `json:"installed_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// WriteMetadata persists an install record, replacing any previous one
func (s *Store) WriteMetadata(meta *InstallationMetadata) error {
	if meta.PluginID == "" || meta.UserID == "" {
		return fmt.Errorf("metadata requires plugin_id and user_id")
	}

	dir := s.layout.MetadataDir(meta.UserID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	path := s.layout.MetadataPath(meta.UserID, meta.PluginID, meta.SourceType)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	s.logger.Debug("wrote installation metadata",
		zap.String("user_id", meta.UserID),
		zap.String("plugin_id", meta.PluginID),
		zap.String("file", filepath.Base(path)))
	return nil
}

// ReadMetadata loads one install record
func (s *Store) ReadMetadata(userID, pluginID string, source types.SourceType) (*InstallationMetadata, error) {
	path := s.layout.MetadataPath(userID, pluginID, source)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta InstallationMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata %s: %w", filepath.Base(path), err)
	}
	if meta.PluginID == "" {
		return nil, fmt.Errorf("metadata %s has empty plugin_id", filepath.Base(path))
	}
	return &meta, nil
}

// RemoveMetadata deletes the install records for a plugin, both source
// variants. Missing files are not an error.
func (s *Store) RemoveMetadata(userID, pluginID string) error {
	for _, source := range []types.SourceType{types.SourceGitHub, types.SourceLocalFile} {
		path := s.layout.MetadataPath(userID, pluginID, source)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove metadata: %w", err)
		}
	}
	return nil
}

// ListMetadata loads every install record for a user. Unreadable
// records are skipped with a warning rather than failing the listing.
func (s *Store) ListMetadata(userID string) ([]*InstallationMetadata, error) {
	entries, err := os.ReadDir(s.layout.MetadataDir(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	var records []*InstallationMetadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.layout.MetadataDir(userID), entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable metadata file",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		var meta InstallationMetadata
		if err := json.Unmarshal(data, &meta); err != nil || meta.PluginID == "" {
			s.logger.Warn("skipping malformed metadata file",
				zap.String("file", entry.Name()))
			continue
		}
		records = append(records, &meta)
	}
	return records, nil
}

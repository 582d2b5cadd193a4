package types

import "time"

// SourceType identifies where a plugin archive was acquired from
type SourceType string

const (
	SourceGitHub    SourceType = "github"
	SourceLocalFile SourceType = "local-file"
)

// PluginStatus represents plugin row lifecycle states
type PluginStatus string

const (
	PluginPending   PluginStatus = "pending"
	PluginActivated PluginStatus = "activated"
	PluginError     PluginStatus = "error"
)

// ValidationMode records how a plugin passed validation
type ValidationMode string

const (
	ValidationFull     ValidationMode = "full"
	ValidationDegraded ValidationMode = "degraded"
)

// Plugin represents an installed plugin owned by a single user.
// Uniqueness is (UserID, Slug); the shared version tree on disk is
// reference-counted across rows.
type Plugin struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"user_id"`
	Slug            string                 `json:"slug"`
	Name            string                 `json:"name"`
	Version         string                 `json:"version"`
	Description     string                 `json:"description,omitempty"`
	LongDescription string                 `json:"long_description,omitempty"`
	Icon            string                 `json:"icon,omitempty"`
	Category        string                 `json:"category,omitempty"`
	Official        bool                   `json:"official"`
	Author          string                 `json:"author,omitempty"`
	SourceType      SourceType             `json:"source_type"`
	SourceURL       string                 `json:"source_url,omitempty"`
	UpdateCheckURL  string                 `json:"update_check_url,omitempty"`
	Status          PluginStatus           `json:"status"`
	Enabled         bool                   `json:"enabled"`
	ValidationMode  ValidationMode         `json:"validation_mode,omitempty"`
	ConfigFields    map[string]interface{} `json:"config_fields,omitempty"`
	Permissions     []string               `json:"permissions,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Module represents a frontend module contributed by a plugin.
// Module rows are replaced wholesale whenever their plugin is
// installed or updated.
type Module struct {
	ID               string                 `json:"id"`
	PluginID         string                 `json:"plugin_id"`
	Name             string                 `json:"name"`
	DisplayName      string                 `json:"display_name,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Icon             string                 `json:"icon,omitempty"`
	Category         string                 `json:"category,omitempty"`
	Props            map[string]interface{} `json:"props,omitempty"`
	ConfigFields     map[string]interface{} `json:"config_fields,omitempty"`
	RequiredServices []string               `json:"required_services,omitempty"`
	Layout           map[string]interface{} `json:"layout,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
}

// PluginStats contains aggregate counts for the status surface
type PluginStats struct {
	TotalPlugins    int `json:"total_plugins"`
	Activated       int `json:"activated"`
	Errored         int `json:"errored"`
	RunningServices int `json:"running_services"`
}

package types

import "time"

// InstallSource describes where an install should pull from
type InstallSource struct {
	Type    SourceType `json:"type" binding:"required"`
	URL     string     `json:"url,omitempty"`
	Path    string     `json:"path,omitempty"`
	Version string     `json:"version,omitempty"`
}

// InstallRequest represents a plugin install request
type InstallRequest struct {
	UserID string        `json:"user_id" binding:"required"`
	Source InstallSource `json:"source" binding:"required"`
}

// UpdateRequest represents a plugin update request
type UpdateRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// ServiceActionRequest represents a service start/stop/restart request.
// Service narrows the action to one declared service; empty means all.
type ServiceActionRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Service string `json:"service,omitempty"`
}

// EventType identifies a broadcast event
type EventType string

const (
	EventPluginInstalled   EventType = "plugin.installed"
	EventPluginUpdated     EventType = "plugin.updated"
	EventPluginUninstalled EventType = "plugin.uninstalled"
	EventServiceStarted    EventType = "service.started"
	EventServiceStopped    EventType = "service.stopped"
	EventServiceFailed     EventType = "service.failed"
	EventUpdateAvailable   EventType = "update.available"
)

// Event is a notification broadcast to stream subscribers
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"user_id,omitempty"`
	Slug      string                 `json:"slug,omitempty"`
	Service   string                 `json:"service,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

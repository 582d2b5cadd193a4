package types

import "time"

// ServiceType selects the backend that supervises a plugin service
type ServiceType string

const (
	ServiceDockerCompose ServiceType = "docker-compose"
	ServicePython        ServiceType = "python"
	ServiceVenvProcess   ServiceType = "venv_process"
)

// ServiceStatus represents service runtime states
type ServiceStatus string

const (
	ServicePending ServiceStatus = "pending"
	ServiceStopped ServiceStatus = "stopped"
	ServiceRunning ServiceStatus = "running"
)

// ServiceRuntime represents a service declared by a plugin manifest.
// Identity is (PluginID, Name). Commands are stored as written in the
// manifest and parsed to argv vectors at execution time; they are
// never handed to a shell.
type ServiceRuntime struct {
	ID              string            `json:"id"`
	PluginID        string            `json:"plugin_id"`
	Name            string            `json:"name"`
	Type            ServiceType       `json:"type"`
	SourceURL       string            `json:"source_url,omitempty"`
	InstallCommand  string            `json:"install_command,omitempty"`
	StartCommand    string            `json:"start_command,omitempty"`
	StopCommand     string            `json:"stop_command,omitempty"`
	RestartCommand  string            `json:"restart_command,omitempty"`
	HealthcheckURL  string            `json:"healthcheck_url,omitempty"`
	RequiredEnvVars []string          `json:"required_env_vars,omitempty"`
	EnvMapping      map[string]string `json:"env_mapping,omitempty"`
	SettingsID      string            `json:"settings_id,omitempty"`
	Status          ServiceStatus     `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ServiceState pairs a declared service with its probed runtime state
type ServiceState struct {
	Name    string        `json:"name"`
	Type    ServiceType   `json:"type"`
	Status  ServiceStatus `json:"status"`
	Healthy bool          `json:"healthy"`
	PID     int           `json:"pid,omitempty"`
}

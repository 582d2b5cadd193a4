package types

// Manifest is the declarative lifecycle contract a plugin ships as
// lifecycle_manager.json at its root. Schema 2 is current; older
// shapes are normalized into this struct by the validator.
type Manifest struct {
	Schema   int            `json:"schema,omitempty"`
	Manager  string         `json:"manager,omitempty"`
	Plugin   ManifestPlugin `json:"plugin"`
	Modules  []ModuleSpec   `json:"modules,omitempty"`
	Services []ServiceSpec  `json:"services,omitempty"`
	Hooks    *Hooks         `json:"hooks,omitempty"`
}

// ManifestPlugin carries the plugin-level metadata block
type ManifestPlugin struct {
	Name            string                 `json:"name"`
	Slug            string                 `json:"slug,omitempty"`
	Version         string                 `json:"version"`
	Description     string                 `json:"description,omitempty"`
	LongDescription string                 `json:"long_description,omitempty"`
	Icon            string                 `json:"icon,omitempty"`
	Category        string                 `json:"category,omitempty"`
	Official        bool                   `json:"official,omitempty"`
	Author          string                 `json:"author,omitempty"`
	SourceType      string                 `json:"source_type,omitempty"`
	SourceURL       string                 `json:"source_url,omitempty"`
	UpdateCheckURL  string                 `json:"update_check_url,omitempty"`
	ConfigFields    map[string]interface{} `json:"config_fields,omitempty"`
	Permissions     []string               `json:"permissions,omitempty"`
}

// ModuleSpec declares a frontend module inside a manifest
type ModuleSpec struct {
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

// ServiceSpec declares a supervised service inside a manifest
type ServiceSpec struct {
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
}

// Hooks names optional scripts the lifecycle manager runs as
// subprocesses with a timeout. Paths are relative to the plugin root.
// A hook writes its JSON verdict to stdout.
type Hooks struct {
	Install   string `json:"install,omitempty"`
	Uninstall string `json:"uninstall,omitempty"`
	Status    string `json:"status,omitempty"`
}

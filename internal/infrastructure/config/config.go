package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all engine configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	GitHub    GitHubConfig
	Runtime   RuntimeConfig
	Updates   UpdatesConfig
	Security  SecurityConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8005"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// StorageConfig holds plugin storage layout configuration.
type StorageConfig struct {
	// PluginsBaseDir roots the shared version tree and per-user metadata.
	PluginsBaseDir string `envconfig:"PLUGINS_BASE_DIR" default:"./data/plugins"`
	// ServicesDir roots per-service source checkouts and logs.
	ServicesDir string `envconfig:"SERVICES_DIR" default:"./data/services_runtime"`
	// ScratchDir holds per-acquisition extraction temp dirs.
	ScratchDir string `envconfig:"SCRATCH_DIR" default:""`
	// FlatDir is an optional development plugins directory checked first.
	FlatDir string `envconfig:"PLUGINS_FLAT_DIR" default:""`
	// LegacyDir is an optional legacy source-tree layout checked last.
	LegacyDir string `envconfig:"PLUGINS_LEGACY_DIR" default:""`
	// ForceAliasCopy disables symlink aliases even where supported.
	ForceAliasCopy bool `envconfig:"FORCE_ALIAS_COPY" default:"false"`
}

// GitHubConfig holds release lookup and download configuration.
type GitHubConfig struct {
	APIBase           string        `envconfig:"GITHUB_API_BASE" default:"https://api.github.com"`
	Token             string        `envconfig:"GITHUB_TOKEN" default:""`
	Timeout           time.Duration `envconfig:"GITHUB_TIMEOUT" default:"30s"`
	DownloadTimeout   time.Duration `envconfig:"GITHUB_DOWNLOAD_TIMEOUT" default:"10m"`
	MaxRetries        int           `envconfig:"GITHUB_MAX_RETRIES" default:"3"`
	RetryWaitMin      time.Duration `envconfig:"GITHUB_RETRY_WAIT_MIN" default:"1s"`
	RetryWaitMax      time.Duration `envconfig:"GITHUB_RETRY_WAIT_MAX" default:"30s"`
	RequestsPerSecond float64       `envconfig:"GITHUB_RPS" default:"5"`
	MaxDownloadBytes  int64         `envconfig:"GITHUB_MAX_DOWNLOAD_BYTES" default:"268435456"`
}

// RuntimeConfig holds service supervision configuration.
type RuntimeConfig struct {
	// RootEnvFile is the KEY=VALUE file consulted first for service env vars.
	RootEnvFile     string        `envconfig:"ROOT_ENV_FILE" default:".env"`
	HealthTimeout   time.Duration `envconfig:"SERVICE_HEALTH_TIMEOUT" default:"2s"`
	CommandTimeout  time.Duration `envconfig:"SERVICE_COMMAND_TIMEOUT" default:"5m"`
	InstallTimeout  time.Duration `envconfig:"SERVICE_INSTALL_TIMEOUT" default:"15m"`
	HookTimeout     time.Duration `envconfig:"LIFECYCLE_HOOK_TIMEOUT" default:"2m"`
	StopGracePeriod time.Duration `envconfig:"SERVICE_STOP_GRACE" default:"10s"`
	// KillOnShutdown stops tracked detached processes when the engine exits.
	KillOnShutdown bool `envconfig:"SERVICES_KILL_ON_SHUTDOWN" default:"false"`
}

// UpdatesConfig holds the scheduled update checker configuration.
type UpdatesConfig struct {
	Enabled  bool   `envconfig:"UPDATE_CHECK_ENABLED" default:"false"`
	Schedule string `envconfig:"UPDATE_CHECK_SCHEDULE" default:"0 3 * * *"`
}

// SecurityConfig holds settings decryption configuration.
type SecurityConfig struct {
	// SettingsKey derives the AES key for encrypted settings fields.
	// Empty disables decryption; encrypted values are then rejected.
	SettingsKey string `envconfig:"SETTINGS_KEY" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds HTTP ingress rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8005",
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			PluginsBaseDir: "./data/plugins",
			ServicesDir:    "./data/services_runtime",
		},
		GitHub: GitHubConfig{
			APIBase:           "https://api.github.com",
			Timeout:           30 * time.Second,
			DownloadTimeout:   10 * time.Minute,
			MaxRetries:        3,
			RetryWaitMin:      time.Second,
			RetryWaitMax:      30 * time.Second,
			RequestsPerSecond: 5,
			MaxDownloadBytes:  256 * 1024 * 1024,
		},
		Runtime: RuntimeConfig{
			RootEnvFile:     ".env",
			HealthTimeout:   2 * time.Second,
			CommandTimeout:  5 * time.Minute,
			InstallTimeout:  15 * time.Minute,
			HookTimeout:     2 * time.Minute,
			StopGracePeriod: 10 * time.Second,
		},
		Updates: UpdatesConfig{
			Enabled:  false,
			Schedule: "0 3 * * *",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

package validate

import (
	"regexp"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// Legacy managers declare identity and services as Python literals.
// The scan is line-oriented and flat: nested dicts inside a service
// declaration are not recovered, which is acceptable for degraded mode.
var (
	slugAssignRe = regexp.MustCompile(`self\.plugin_slug\s*=\s*["']([A-Za-z0-9._-]+)["']`)
	slugKeyRe    = regexp.MustCompile(`["']plugin_slug["']\s*:\s*["']([A-Za-z0-9._-]+)["']`)
	nameKeyRe    = regexp.MustCompile(`["']name["']\s*:\s*["']([^"']+)["']`)
	versionRe    = regexp.MustCompile(`["']version["']\s*:\s*["']([0-9][^"']*)["']`)
	serviceRe    = regexp.MustCompile(`\{[^{}]*["']type["']\s*:\s*["'](?:docker-compose|python|venv_process)["'][^{}]*\}`)
	kvRe         = regexp.MustCompile(`["']([a-z_]+)["']\s*:\s*["']([^"']*)["']`)
	envListRe    = regexp.MustCompile(`["']required_env_vars["']\s*:\s*\[([^\]]*)\]`)
	quotedRe     = regexp.MustCompile(`["']([^"']+)["']`)
)

// SourceScan holds what a degraded inspection recovered from manager
// source text.
type SourceScan struct {
	Slug     string
	Name     string
	Version  string
	Services []types.ServiceSpec
}

// ScanSource recovers plugin identity and service declarations from
// lifecycle manager source that ships no JSON manifest. A scan that
// finds no slug returns nil.
func ScanSource(src []byte) *SourceScan {
	scan := &SourceScan{}

	if m := slugAssignRe.FindSubmatch(src); m != nil {
		scan.Slug = string(m[1])
	} else if m := slugKeyRe.FindSubmatch(src); m != nil {
		scan.Slug = string(m[1])
	}
	if scan.Slug == "" {
		return nil
	}

	if m := versionRe.FindSubmatch(src); m != nil {
		scan.Version = string(m[1])
	}

	for _, block := range serviceRe.FindAll(src, -1) {
		svc := scanServiceBlock(block)
		if svc.Name != "" {
			scan.Services = append(scan.Services, svc)
		}
	}

	// The first "name" key outside a service block is usually the
	// plugin's display name. Skip it when it matched a service.
	if m := nameKeyRe.FindSubmatch(src); m != nil {
		name := string(m[1])
		if !isServiceName(scan.Services, name) {
			scan.Name = name
		}
	}

	return scan
}

func scanServiceBlock(block []byte) types.ServiceSpec {
	var svc types.ServiceSpec
	for _, kv := range kvRe.FindAllSubmatch(block, -1) {
		key, value := string(kv[1]), string(kv[2])
		switch key {
		case "name":
			svc.Name = value
		case "type":
			svc.Type = types.ServiceType(value)
		case "source_url":
			svc.SourceURL = value
		case "install_command":
			svc.InstallCommand = value
		case "start_command":
			svc.StartCommand = value
		case "stop_command":
			svc.StopCommand = value
		case "restart_command":
			svc.RestartCommand = value
		case "healthcheck_url":
			svc.HealthcheckURL = value
		case "settings_id":
			svc.SettingsID = value
		}
	}
	if m := envListRe.FindSubmatch(block); m != nil {
		for _, q := range quotedRe.FindAllSubmatch(m[1], -1) {
			svc.RequiredEnvVars = append(svc.RequiredEnvVars, string(q[1]))
		}
	}
	return svc
}

func isServiceName(services []types.ServiceSpec, name string) bool {
	for _, svc := range services {
		if svc.Name == name {
			return true
		}
	}
	return false
}

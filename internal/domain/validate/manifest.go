package validate

import (
	"fmt"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
	"github.com/bytedance/sonic"
)

// manifestV1 is the schema 1 shape: plugin fields sit at the top level
// instead of under a "plugin" object.
type manifestV1 struct {
	Schema      int                    `json:"schema,omitempty"`
	Name        string                 `json:"name"`
	Slug        string                 `json:"slug,omitempty"`
	Version     string                 `json:"version"`
	Description string                 `json:"description,omitempty"`
	Author      string                 `json:"author,omitempty"`
	Icon        string                 `json:"icon,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Official    bool                   `json:"official,omitempty"`
	SourceURL   string                 `json:"source_url,omitempty"`
	Config      map[string]interface{} `json:"config_fields,omitempty"`
	Modules     []types.ModuleSpec     `json:"modules,omitempty"`
	Services    []types.ServiceSpec    `json:"services,omitempty"`
}

// legacyManifest is the oldest shape: a slug, a storage path, and
// little else. Some managers used "plugin_slug", others "slug".
type legacyManifest struct {
	PluginSlug  string              `json:"plugin_slug,omitempty"`
	Slug        string              `json:"slug,omitempty"`
	StoragePath string              `json:"storage_path,omitempty"`
	Name        string              `json:"name,omitempty"`
	Version     string              `json:"version,omitempty"`
	Services    []types.ServiceSpec `json:"services,omitempty"`
}

func (l *legacyManifest) slugValue() string {
	if l.PluginSlug != "" {
		return l.PluginSlug
	}
	return l.Slug
}

// ParseManifest decodes manifest bytes, normalizing older schemas into
// the current shape. The returned manifest always has Schema set to the
// rung that matched.
func ParseManifest(data []byte) (*types.Manifest, error) {
	var m types.Manifest
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidManifest, err)
	}

	// Schema 2: metadata lives under a "plugin" object.
	if m.Plugin.Name != "" || m.Schema >= 2 {
		if err := checkRequired(&m); err != nil {
			return nil, err
		}
		m.Schema = 2
		return &m, nil
	}

	// Schema 1: same fields, flat.
	var flat manifestV1
	if err := sonic.Unmarshal(data, &flat); err == nil && flat.Name != "" {
		lifted := liftV1(&flat)
		if err := checkRequired(lifted); err != nil {
			return nil, err
		}
		return lifted, nil
	}

	// Legacy: only a slug is promised. Modules and version may be
	// absent; the caller decides what defaults apply.
	var legacy legacyManifest
	if err := sonic.Unmarshal(data, &legacy); err == nil && legacy.slugValue() != "" {
		return liftLegacy(&legacy), nil
	}

	return nil, fmt.Errorf("%w: no recognizable schema (expected a plugin object, top-level name, or plugin_slug)", types.ErrInvalidManifest)
}

func checkRequired(m *types.Manifest) error {
	switch {
	case m.Plugin.Name == "":
		return fmt.Errorf("%w: plugin name is required", types.ErrInvalidManifest)
	case m.Plugin.Version == "":
		return fmt.Errorf("%w: plugin version is required", types.ErrInvalidManifest)
	case len(m.Modules) == 0:
		return fmt.Errorf("%w: at least one module must be declared", types.ErrInvalidManifest)
	}
	return nil
}

func liftV1(flat *manifestV1) *types.Manifest {
	return &types.Manifest{
		Schema: 1,
		Plugin: types.ManifestPlugin{
			Name:         flat.Name,
			Slug:         flat.Slug,
			Version:      flat.Version,
			Description:  flat.Description,
			Author:       flat.Author,
			Icon:         flat.Icon,
			Category:     flat.Category,
			Official:     flat.Official,
			SourceURL:    flat.SourceURL,
			ConfigFields: flat.Config,
		},
		Modules:  flat.Modules,
		Services: flat.Services,
	}
}

func liftLegacy(legacy *legacyManifest) *types.Manifest {
	name := legacy.Name
	if name == "" {
		name = legacy.slugValue()
	}
	return &types.Manifest{
		Schema: 0,
		Plugin: types.ManifestPlugin{
			Name:    name,
			Slug:    legacy.slugValue(),
			Version: legacy.Version,
		},
		Services: legacy.Services,
	}
}

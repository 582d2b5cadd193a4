package acquire

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BrainDriveAI/plugin-engine/internal/domain/validate"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// DiscoverRoot locates the plugin root inside an extracted tree.
//
// GitHub tarballs wrap their contents in a {repo}-{sha}/ directory, so
// exactly one level of nesting is tolerated. A directory qualifies
// when it carries a lifecycle entry point; package.json alone is a
// weaker signal consulted only when no entry point exists anywhere.
// Zero or multiple candidates fail terminally.
func DiscoverRoot(dir string) (string, error) {
	if validate.HasEntryPoint(dir) {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", types.Fail(types.StepFileExtraction, "failed to scan extracted archive", err)
	}

	var candidates []string
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		sub := filepath.Join(dir, ent.Name())
		if validate.HasEntryPoint(sub) {
			candidates = append(candidates, sub)
		}
	}

	if len(candidates) == 0 {
		// Weaker signal: a package.json root, tolerated for plugins
		// that predate the manifest contract
		candidates = weakCandidates(dir, entries)
	}

	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return "", types.Fail(types.StepFileExtraction,
			fmt.Sprintf("no plugin root found in archive; expected one of %s at the top level or one directory down", validate.EntryPointNames()),
			types.ErrNoPluginRoot).
			WithSuggestions("place lifecycle_manager.json at the root of the plugin archive")
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = filepath.Base(c)
		}
		return "", types.Fail(types.StepFileExtraction,
			"multiple plugin roots found in archive", types.ErrNoPluginRoot).
			WithDetail("candidates", names).
			WithSuggestions("package exactly one plugin per archive")
	}
}

func weakCandidates(dir string, entries []os.DirEntry) []string {
	if hasPackageJSON(dir) {
		return []string{dir}
	}

	var out []string
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		sub := filepath.Join(dir, ent.Name())
		if hasPackageJSON(sub) {
			out = append(out, sub)
		}
	}
	return out
}

func hasPackageJSON(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "package.json"))
	return err == nil && !info.IsDir()
}

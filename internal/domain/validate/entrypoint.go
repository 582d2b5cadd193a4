package validate

import (
	"os"
	"path/filepath"
)

// Entry point file names, in the order the ladder tries them.
const (
	ManifestName     = "lifecycle_manager.json"
	LegacyEntryPoint = "lifecycle_manager.py"
)

// EntryPointNames returns the file names that mark a plugin root.
func EntryPointNames() []string {
	return []string{ManifestName, LegacyEntryPoint}
}

// HasEntryPoint reports whether dir directly contains a lifecycle
// entry point. Directories named like an entry point do not count.
func HasEntryPoint(dir string) bool {
	for _, name := range EntryPointNames() {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

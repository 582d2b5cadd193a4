// Package validate decides whether an extracted directory tree is an
// installable plugin and extracts its declared metadata.
//
// A plugin root is marked by a lifecycle entry point: the declarative
// lifecycle_manager.json manifest (current), or a lifecycle_manager.py
// module (legacy). Inspection never mutates the tree and never touches
// persistence.
//
// Components:
//   - Inspector: runs the compatibility ladder against a candidate root
//   - ParseManifest: decodes manifest JSON, normalizing older schemas
//   - ScanSource: best-effort recovery of slug and service declarations
//     from legacy Python managers that ship no manifest
//
// Compatibility Ladder:
//  1. lifecycle_manager.json, schema 2 (plugin object, modules, services)
//  2. lifecycle_manager.json, schema 1 (plugin fields at the top level)
//  3. lifecycle_manager.json, legacy keys (plugin_slug / storage_path)
//  4. lifecycle_manager.py source scan (degraded mode: slug + services)
//
// A failure on one rung does not abort the ladder; only exhausting every
// rung is a terminal validation error.
//
// Example:
//
//	insp := validate.NewInspector(logger, metrics)
//	v, err := insp.Inspect("/scratch/plugin-acquire-123/MyPlugin")
package validate

// Package lifecycle implements per-user plugin install, uninstall,
// status, update, and update-check against shared versioned storage.
//
// Components:
//
//   - Discoverer: resolves a slug to the directory holding its code,
//     checking the flat development layout, then the shared version
//     tree (newest version first), then the legacy source layout.
//   - Registry: process-lifetime cache of slug -> *Manager. Invalidate
//     drops an entry so the next Load re-runs discovery.
//   - Manager: per-slug handle bound to a discovered directory and its
//     normalized manifest; runs the manifest's hook scripts.
//   - HookRunner: executes hook scripts as subprocesses with a
//     deadline and parses their JSON verdict from stdout.
//   - Dispatcher: the operation front door used by the HTTP layer.
//
// Concurrency model: the dispatcher serializes operations on a
// per-(user, slug) keyed mutex, and shared-tree mutations (stage,
// alias, remove) on a second per-slug mutex so concurrent installs of
// the same plugin by different users cannot interleave file work.
//
// Failure model: hook failures and manager errors become *types.Result
// values with Success=false; they never escape as panics. A failed
// install rolls back so the database and the filesystem stay
// consistent: files are staged before the row is inserted, and on
// rollback the row is deleted before files are removed.
package lifecycle

// Package storage owns the on-disk layout for installed plugins.
//
// Plugin code is stored once per version in a shared tree and referenced
// per user through database rows and advisory metadata files:
//
//	{base}/shared/{slug}/v{version}/   versioned plugin code
//	{base}/shared/{slug}/v{major}      alias to the active version
//	{base}/{user_id}/.metadata/        advisory install records
//
// The v{major} alias is a symlink where the filesystem allows it and a
// full directory copy where it does not; the fallback is explicit and
// logged, never silent. Version directories hold a full dotted version
// (v1.4.0), which keeps them distinguishable from aliases (v1) by name
// alone.
//
// Retention is manual: updates stage new version directories and move
// the alias, but nothing here deletes old versions on its own.
package storage

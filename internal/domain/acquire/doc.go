// Package acquire obtains plugin archives and turns them into
// extracted plugin roots ready for validation.
//
// Two acquisition paths share one pipeline:
//   - GitHub releases: parse repository URL, look up the latest or a
//     tagged release, pick the best archive asset, download with
//     bounded retries, extract, discover the plugin root.
//   - Local uploads: extract and discover only.
//
// Every acquisition extracts into its own scratch directory; callers
// release it through Acquisition.Cleanup. Failures never leave partial
// archives or half-extracted trees outside scratch.
//
// Supported archive formats are .tar.gz, .tgz, and .zip. Anything else
// (notably .rar) fails terminally with the supported list named.
package acquire

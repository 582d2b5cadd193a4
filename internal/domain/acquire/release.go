package acquire

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// ReleaseRef addresses a GitHub repository and optional ref
type ReleaseRef struct {
	Owner string
	Repo  string
	Tag   string
}

func (r ReleaseRef) String() string {
	if r.Tag != "" {
		return fmt.Sprintf("%s/%s@%s", r.Owner, r.Repo, r.Tag)
	}
	return fmt.Sprintf("%s/%s", r.Owner, r.Repo)
}

// Release is the subset of the GitHub release payload the engine uses
type Release struct {
	TagName    string  `json:"tag_name"`
	Name       string  `json:"name"`
	TarballURL string  `json:"tarball_url"`
	Prerelease bool    `json:"prerelease"`
	Assets     []Asset `json:"assets"`
}

// Asset is a downloadable release artifact
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	ContentType        string `json:"content_type"`
}

// Version returns the release tag without a leading v
func (r *Release) Version() string {
	return strings.TrimPrefix(r.TagName, "v")
}

// ParseRepoURL extracts owner and repo from a GitHub repository URL.
// Tolerates .git suffixes, trailing slashes, and tree/{ref} paths,
// which pin the acquisition to a branch or tag.
func ParseRepoURL(raw string) (ReleaseRef, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return ReleaseRef{}, types.Fail(types.StepURLParsing, "repository URL is not a valid URL", err).
			WithSuggestions("use the form https://github.com/{owner}/{repo}")
	}

	host := strings.ToLower(u.Host)
	if u.Scheme != "https" || (host != "github.com" && host != "www.github.com") {
		return ReleaseRef{}, types.Fail(types.StepURLParsing,
			fmt.Sprintf("unsupported repository URL %q", trimmed), nil).
			WithSuggestions("use the form https://github.com/{owner}/{repo}")
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ReleaseRef{}, types.Fail(types.StepURLParsing,
			fmt.Sprintf("repository URL %q is missing owner or repository", trimmed), nil).
			WithSuggestions("use the form https://github.com/{owner}/{repo}")
	}

	ref := ReleaseRef{
		Owner: parts[0],
		Repo:  strings.TrimSuffix(parts[1], ".git"),
	}

	if len(parts) >= 4 && parts[2] == "tree" {
		ref.Tag = strings.Join(parts[3:], "/")
	}

	return ref, nil
}

// Asset extension preference order
var assetExtensions = []string{".tar.gz", ".tgz", ".zip"}

// SelectAsset picks the best downloadable artifact from a release:
// .tar.gz before .tgz before .zip, falling back to the source tarball
// when the release carries no matching asset.
func SelectAsset(rel *Release) (downloadURL, name string, err error) {
	for _, ext := range assetExtensions {
		for _, a := range rel.Assets {
			if strings.HasSuffix(strings.ToLower(a.Name), ext) {
				return a.BrowserDownloadURL, a.Name, nil
			}
		}
	}

	if rel.TarballURL != "" {
		return rel.TarballURL, fmt.Sprintf("%s-source.tar.gz", rel.Version()), nil
	}

	return "", "", types.Fail(types.StepReleaseLookup,
		fmt.Sprintf("release %s has no downloadable archive", rel.TagName), nil).
		WithSuggestions("attach a .tar.gz, .tgz, or .zip asset to the release")
}

package acquire

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/utils"
	"go.uber.org/zap"
)

// Source records acquisition provenance for installation metadata
type Source struct {
	Type        types.SourceType `json:"type"`
	URL         string           `json:"url,omitempty"`
	Tag         string           `json:"tag,omitempty"`
	ArchiveName string           `json:"archive_name,omitempty"`
	SHA256      string           `json:"sha256,omitempty"`
}

// Acquisition is an extracted plugin root ready for validation.
// Root lives inside Scratch; Cleanup releases both.
type Acquisition struct {
	Root    string
	Scratch string
	Version string
	Source  Source
}

// Cleanup removes the acquisition's scratch directory
func (a *Acquisition) Cleanup() {
	if a.Scratch != "" {
		os.RemoveAll(a.Scratch)
	}
}

// Acquirer turns remote releases and uploaded archives into plugin roots
type Acquirer struct {
	client      *Client
	extractor   *Extractor
	scratchRoot string
	hasher      *utils.Hasher
	logger      *logging.Logger
	metrics     *monitoring.Metrics
}

// NewAcquirer creates an acquirer. scratchRoot may be empty to use the
// system temp directory.
func NewAcquirer(client *Client, extractor *Extractor, scratchRoot string, logger *logging.Logger, metrics *monitoring.Metrics) *Acquirer {
	return &Acquirer{
		client:      client,
		extractor:   extractor,
		scratchRoot: scratchRoot,
		hasher:      utils.DefaultHasher(),
		logger:      logger,
		metrics:     metrics,
	}
}

// AcquireGitHub resolves a release (latest, or the given version),
// downloads its archive, extracts it, and discovers the plugin root.
// version accepts bare ("1.2.3") and prefixed ("v1.2.3") tags.
func (a *Acquirer) AcquireGitHub(ctx context.Context, repoURL, version string) (*Acquisition, error) {
	ref, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	rel, err := a.resolveRelease(ctx, ref, version)
	if err != nil {
		return nil, err
	}

	assetURL, assetName, err := SelectAsset(rel)
	if err != nil {
		return nil, err
	}

	scratch, err := a.newScratch()
	if err != nil {
		return nil, err
	}

	archivePath := filepath.Join(scratch, assetName)
	if err := a.client.Download(ctx, assetURL, archivePath); err != nil {
		os.RemoveAll(scratch)
		a.recordDownload("failure")
		return nil, err
	}
	a.recordDownload("success")

	root, err := a.extractAndDiscover(ctx, archivePath, scratch)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}

	sum, err := a.hasher.HashFile(archivePath)
	if err != nil {
		a.logger.Warn("Failed to hash downloaded archive", zap.Error(err))
	}

	a.logger.Info("Plugin acquired from release",
		zap.String("repo", ref.String()),
		zap.String("tag", rel.TagName),
		zap.String("root", filepath.Base(root)))

	return &Acquisition{
		Root:    root,
		Scratch: scratch,
		Version: rel.Version(),
		Source: Source{
			Type:        types.SourceGitHub,
			URL:         repoURL,
			Tag:         rel.TagName,
			ArchiveName: assetName,
			SHA256:      sum,
		},
	}, nil
}

// AcquireLocal extracts an uploaded archive and discovers the plugin
// root. The version is resolved later from the manifest.
func (a *Acquirer) AcquireLocal(ctx context.Context, archivePath string) (*Acquisition, error) {
	scratch, err := a.newScratch()
	if err != nil {
		return nil, err
	}

	root, err := a.extractAndDiscover(ctx, archivePath, scratch)
	if err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}

	sum, err := a.hasher.HashFile(archivePath)
	if err != nil {
		a.logger.Warn("Failed to hash uploaded archive", zap.Error(err))
	}

	a.logger.Info("Plugin acquired from upload",
		zap.String("archive", filepath.Base(archivePath)),
		zap.String("root", filepath.Base(root)))

	return &Acquisition{
		Root:    root,
		Scratch: scratch,
		Source: Source{
			Type:        types.SourceLocalFile,
			ArchiveName: filepath.Base(archivePath),
			SHA256:      sum,
		},
	}, nil
}

// LatestVersion returns the normalized version of the newest release
// without downloading anything. Used by update checks.
func (a *Acquirer) LatestVersion(ctx context.Context, repoURL string) (string, error) {
	ref, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	rel, err := a.client.LatestRelease(ctx, ref)
	if err != nil {
		return "", err
	}
	return rel.Version(), nil
}

// CheckoutRepo extracts a repository source tarball into destDir,
// collapsing the tarball's single wrapper directory. Used for service
// source checkouts.
func (a *Acquirer) CheckoutRepo(ctx context.Context, repoURL, destDir string) error {
	ref, err := ParseRepoURL(repoURL)
	if err != nil {
		return err
	}

	scratch, err := a.newScratch()
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	archivePath := filepath.Join(scratch, ref.Repo+".tar.gz")
	if err := a.client.RepoArchive(ctx, ref, archivePath); err != nil {
		a.recordDownload("failure")
		return err
	}
	a.recordDownload("success")

	extracted := filepath.Join(scratch, "extracted")
	if err := a.extractor.Extract(ctx, archivePath, extracted); err != nil {
		return err
	}

	// Source tarballs always wrap contents in {repo}-{sha}/
	src := extracted
	entries, err := os.ReadDir(extracted)
	if err != nil {
		return types.Fail(types.StepFileExtraction, "failed to scan checkout", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		src = filepath.Join(extracted, entries[0].Name())
	}

	if err := os.RemoveAll(destDir); err != nil {
		return types.Fail(types.StepFileExtraction, "failed to clear checkout directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return types.Fail(types.StepFileExtraction, "failed to create checkout directory", err)
	}
	if err := os.Rename(src, destDir); err != nil {
		// Rename fails across filesystems; fall back to a copy
		if copyErr := utils.CopyTree(src, destDir); copyErr != nil {
			return types.Fail(types.StepFileExtraction, "failed to place checkout", copyErr)
		}
	}

	return nil
}

func (a *Acquirer) resolveRelease(ctx context.Context, ref ReleaseRef, version string) (*Release, error) {
	// tree/{ref} in the URL pins the version unless one was passed
	if version == "" {
		version = ref.Tag
	}

	if version == "" || strings.EqualFold(version, "latest") {
		return a.client.LatestRelease(ctx, ref)
	}

	rel, err := a.client.ReleaseByTag(ctx, ref, version)
	if err != nil && !strings.HasPrefix(version, "v") {
		// Releases tag as v1.2.3 more often than 1.2.3; retry prefixed
		if rel2, err2 := a.client.ReleaseByTag(ctx, ref, "v"+version); err2 == nil {
			return rel2, nil
		}
	}
	return rel, err
}

func (a *Acquirer) extractAndDiscover(ctx context.Context, archivePath, scratch string) (string, error) {
	dest := filepath.Join(scratch, "extracted")
	if err := a.extractor.Extract(ctx, archivePath, dest); err != nil {
		return "", err
	}
	return DiscoverRoot(dest)
}

func (a *Acquirer) newScratch() (string, error) {
	root := a.scratchRoot
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", types.Fail(types.StepDownloadExtract, "failed to create scratch root", err)
		}
	}
	scratch, err := os.MkdirTemp(root, "plugin-acquire-")
	if err != nil {
		return "", types.Fail(types.StepDownloadExtract, "failed to create scratch directory", err)
	}
	return scratch, nil
}

func (a *Acquirer) recordDownload(status string) {
	if a.metrics != nil {
		a.metrics.RecordDownload(status)
	}
}

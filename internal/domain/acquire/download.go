package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Download streams a URL to dest. Retries ride on the client's
// backoff settings; on any failure the partial file is removed.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	// Check for context cancellation before starting
	select {
	case <-ctx.Done():
		return types.Fail(types.StepDownloadExtract, "download cancelled", ctx.Err())
	default:
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return types.Fail(types.StepDownloadExtract, "failed to create download directory", err)
	}

	req, err := c.request(ctx)
	if err != nil {
		return types.Fail(types.StepDownloadExtract, "github unavailable", err).
			WithSuggestions("retry shortly")
	}

	// Stream to disk instead of buffering the archive
	req.SetOutput(dest)

	resp, err := c.execute(func() (*resty.Response, error) { return req.Get(rawURL) })
	if err != nil {
		os.Remove(dest)
		return types.Fail(types.StepDownloadExtract, "archive download failed", err).
			WithSuggestions("check network connectivity", "retry shortly")
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		os.Remove(dest)
		return types.Fail(types.StepDownloadExtract,
			fmt.Sprintf("archive download returned HTTP %d", resp.StatusCode()), nil).
			WithSuggestions("check that the release asset is publicly downloadable")
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return types.Fail(types.StepDownloadExtract, "downloaded archive missing", err)
	}
	if c.maxBytes > 0 && stat.Size() > c.maxBytes {
		os.Remove(dest)
		return types.Fail(types.StepDownloadExtract,
			fmt.Sprintf("archive exceeds the %d byte download limit", c.maxBytes), nil).
			WithDetail("size_bytes", stat.Size())
	}

	c.logger.Info("Archive downloaded",
		zap.String("dest", filepath.Base(dest)),
		zap.Int64("bytes", stat.Size()),
		zap.Duration("took", resp.Time()))

	return nil
}

// RepoArchive downloads a repository source tarball into dest. An
// empty ref tag means the default branch. Used for service source
// checkouts, with the same retry discipline as release downloads.
func (c *Client) RepoArchive(ctx context.Context, ref ReleaseRef, dest string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/tarball", c.apiBase, ref.Owner, ref.Repo)
	if ref.Tag != "" {
		endpoint += "/" + ref.Tag
	}
	return c.Download(ctx, endpoint, dest)
}

package acquire

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/monitoring"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// Format identifies a supported archive format
type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
)

const supportedFormats = ".tar.gz, .tgz, .zip"

// Extractor unpacks plugin archives into scratch directories
type Extractor struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewExtractor creates an extractor
func NewExtractor(logger *logging.Logger, metrics *monitoring.Metrics) *Extractor {
	return &Extractor{logger: logger, metrics: metrics}
}

// DetectFormat sniffs the archive format from content, falling back to
// the extension. Unsupported formats fail terminally with the
// supported list named; .rar gets called out explicitly since plugin
// authors upload it often.
func DetectFormat(path string) (Format, error) {
	lower := strings.ToLower(path)

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", types.Fail(types.StepFileExtraction, "failed to read archive", err)
	}

	switch {
	case mtype.Is("application/gzip"), mtype.Is("application/x-gzip"):
		return FormatTarGz, nil
	case mtype.Is("application/zip"):
		return FormatZip, nil
	case mtype.Is("application/x-rar-compressed"), mtype.Is("application/vnd.rar"),
		strings.HasSuffix(lower, ".rar"):
		return "", types.Fail(types.StepFileExtraction,
			fmt.Sprintf(".rar archives are not supported; supported formats: %s", supportedFormats),
			types.ErrUnsupportedFormat).
			WithSuggestions("repackage the plugin as .tar.gz or .zip")
	}

	// Content sniffing can miss small or padded archives; trust the
	// extension as a fallback before rejecting.
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	}

	return "", types.Fail(types.StepFileExtraction,
		fmt.Sprintf("unsupported archive format %q; supported formats: %s", mtype.String(), supportedFormats),
		types.ErrUnsupportedFormat).
		WithDetail("detected_type", mtype.String()).
		WithSuggestions("repackage the plugin as .tar.gz or .zip")
}

// Extract unpacks an archive into destDir. Path-traversal entries
// abort the extraction; symlink entries are skipped. destDir must be
// scratch space: on failure the caller removes it wholesale, so no
// partial tree survives.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) error {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return types.Fail(types.StepFileExtraction, "failed to create extraction directory", err)
	}

	var files int
	var bytes int64
	switch format {
	case FormatTarGz:
		files, bytes, err = e.extractTarGz(ctx, archivePath, destDir)
	case FormatZip:
		files, bytes, err = e.extractZip(ctx, archivePath, destDir)
	}
	if err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.AddExtractedBytes(bytes)
	}
	e.logger.Info("Archive extracted",
		zap.String("format", string(format)),
		zap.Int("files", files),
		zap.Int64("bytes", bytes))

	return nil
}

func (e *Extractor) extractZip(ctx context.Context, archivePath, destDir string) (int, int64, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, 0, types.Fail(types.StepFileExtraction, "failed to open zip archive", err)
	}
	defer reader.Close()

	cleanDest := filepath.Clean(destDir)
	var files int
	var bytes int64

	for _, file := range reader.File {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return files, bytes, types.Fail(types.StepFileExtraction, "extraction cancelled", ctx.Err())
		default:
		}

		// Prevent zip-slip attacks
		destPath := filepath.Join(cleanDest, file.Name)
		if !strings.HasPrefix(destPath, cleanDest+string(os.PathSeparator)) {
			return files, bytes, types.Fail(types.StepFileExtraction,
				fmt.Sprintf("archive entry %q escapes the extraction directory", file.Name), nil)
		}

		mode := file.FileInfo().Mode()
		if mode&os.ModeSymlink != 0 {
			e.logger.Debug("Skipping symlink archive entry", zap.String("entry", file.Name))
			continue
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return files, bytes, types.Fail(types.StepFileExtraction, "failed to create directory", err)
			}
			continue
		}

		n, err := writeZipEntry(file, destPath)
		if err != nil {
			return files, bytes, types.Fail(types.StepFileExtraction,
				fmt.Sprintf("failed to extract %q", file.Name), err)
		}
		files++
		bytes += n
	}

	return files, bytes, nil
}

func writeZipEntry(file *zip.File, destPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, err
	}

	src, err := file.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, file.FileInfo().Mode().Perm()|0o200)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	return io.Copy(dst, src)
}

func (e *Extractor) extractTarGz(ctx context.Context, archivePath, destDir string) (int, int64, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 0, 0, types.Fail(types.StepFileExtraction, "failed to open archive", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return 0, 0, types.Fail(types.StepFileExtraction, "failed to read gzip stream", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	cleanDest := filepath.Clean(destDir)
	var files int
	var bytes int64

	for {
		// Check for context cancellation
		select {
		case <-ctx.Done():
			return files, bytes, types.Fail(types.StepFileExtraction, "extraction cancelled", ctx.Err())
		default:
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return files, bytes, types.Fail(types.StepFileExtraction, "corrupt tar stream", err)
		}

		destPath := filepath.Join(cleanDest, header.Name)
		if !strings.HasPrefix(destPath, cleanDest+string(os.PathSeparator)) {
			return files, bytes, types.Fail(types.StepFileExtraction,
				fmt.Sprintf("archive entry %q escapes the extraction directory", header.Name), nil)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return files, bytes, types.Fail(types.StepFileExtraction, "failed to create directory", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return files, bytes, types.Fail(types.StepFileExtraction, "failed to create directory", err)
			}

			out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm()|0o200)
			if err != nil {
				return files, bytes, types.Fail(types.StepFileExtraction,
					fmt.Sprintf("failed to extract %q", header.Name), err)
			}

			n, err := io.Copy(out, tarReader)
			out.Close()
			if err != nil {
				return files, bytes, types.Fail(types.StepFileExtraction,
					fmt.Sprintf("failed to extract %q", header.Name), err)
			}
			files++
			bytes += n
		case tar.TypeSymlink, tar.TypeLink:
			e.logger.Debug("Skipping link archive entry", zap.String("entry", header.Name))
		}
	}

	return files, bytes, nil
}

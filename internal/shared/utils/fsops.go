package utils

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
)

// CopyTree copies src into dst recursively, preserving file modes.
// Symlinks are skipped. dst and missing parents are created. The walk
// runs concurrently, so callers must not touch dst until it returns.
func CopyTree(src, dst string) error {
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case info.Mode()&os.ModeSymlink != 0:
			return nil
		default:
			return copyFileContents(path, target, info.Mode().Perm())
		}
	})
}

func copyFileContents(src, dst string, perm os.FileMode) error {
	// Directory entries can arrive on another goroutine before their
	// parent's MkdirAll ran, so create parents here too.
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DirSize sums the sizes of regular files under root. The walk is
// concurrent, hence the atomic accumulator.
func DirSize(root string) (int64, error) {
	var total atomic.Int64
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total.Add(info.Size())
		}
		return nil
	})
	return total.Load(), err
}

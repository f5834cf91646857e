package installer

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// cp copies a single file, creating parent directories and
// preserving the source's mode
func cp(src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}

	err = os.MkdirAll(filepath.Dir(dst), 0755)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}

	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}

	defer out.Close()

	_, err = io.Copy(out, in)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}

	return
}

// cpDir copies a directory tree, preserving permissions
func cpDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}

		return cp(path, target)
	})
}

// checksum returns the blake3 sum of the file at path
func checksum(path string) (sum string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return
	}

	defer f.Close()

	h := blake3.New()

	_, err = io.Copy(h, f)
	if err != nil {
		return
	}

	sum = hex.EncodeToString(h.Sum(nil))

	return
}

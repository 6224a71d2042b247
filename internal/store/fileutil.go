package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ImageExtensions are the file extensions the file index discovers.
var ImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tiff": true, ".webp": true,
}

// ignoredNames are OS-generated junk filenames always skipped during scans.
var ignoredNames = map[string]bool{
	".ds_store": true, "thumbs.db": true, "desktop.ini": true,
	".directory": true, ".localized": true,
}

// IsIgnoredFile reports whether filename is OS junk, a resource fork, a
// partial download, or an editor backup file.
func IsIgnoredFile(filename string) bool {
	base := filepath.Base(filename)
	lower := strings.ToLower(base)

	if ignoredNames[lower] {
		return true
	}
	if strings.HasPrefix(base, "._") {
		return true
	}
	if strings.HasSuffix(lower, ".tmp") || strings.HasSuffix(lower, ".part") ||
		strings.HasSuffix(lower, ".crdownload") || strings.HasSuffix(lower, ".download") {
		return true
	}
	if strings.HasPrefix(base, "~") || strings.HasSuffix(base, "~") {
		return true
	}
	return false
}

// IsSupportedFile reports whether filename has a recognized image
// extension and is not OS junk.
func IsSupportedFile(filename string) bool {
	if IsIgnoredFile(filename) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return ImageExtensions[ext]
}

// EnsureDir creates a directory and its parents if missing.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CopyFile copies src to dst, fsyncing and preserving permissions. The
// destination directory is created if missing.
func CopyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	defer srcFile.Close()

	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	if err := dstFile.Sync(); err != nil {
		return fmt.Errorf("sync file: %w", err)
	}

	if srcInfo, err := os.Stat(src); err == nil {
		_ = os.Chmod(dst, srcInfo.Mode())
	}
	return nil
}

// RemoveEmptyDirs walks up from path removing now-empty directories,
// stopping at (and never removing) stopAt.
func RemoveEmptyDirs(path, stopAt string) {
	for {
		dir := filepath.Dir(path)
		if dir == stopAt || dir == "." || dir == "/" {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		path = dir
	}
}

// Package store implements the content-addressed store: given a
// source path, it derives a stable hash-based identity and an organized,
// date-sharded on-disk location, and provides the primitives the
// per-image pipeline uses to copy a file into that location and verify
// it landed intact.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DateGranularity controls how deep the YYYY/MM/DD sharding goes.
type DateGranularity string

const (
	GranularityYear      DateGranularity = "YYYY"
	GranularityYearMonth DateGranularity = "YYYY/MM"
	GranularityFull      DateGranularity = "YYYY/MM/DD"
)

var stemSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileInfo is the content-addressed identity of a source file.
type FileInfo struct {
	Hash           string // full SHA-256 hex
	ShortHash      string // first 8 hex chars of Hash
	HashedFilename string // {stem}_{short8}{ext}
	RelativePath   string // YYYY/MM/{HashedFilename} (granularity configurable)
	FullPath       string // ProcessedDir/media joined with RelativePath
	Size           int64
}

// Store implements the organized, content-addressed layout under a
// configured processed-files root.
type Store struct {
	processedDir string
	granularity  DateGranularity
}

// New creates a Store rooted at processedDir.
func New(processedDir string, granularity DateGranularity) *Store {
	if granularity == "" {
		granularity = GranularityYearMonth
	}
	return &Store{processedDir: processedDir, granularity: granularity}
}

// HashFile computes the SHA-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sanitizeStem keeps only [A-Za-z0-9_-], truncated to 50 characters.
func sanitizeStem(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(filepath.Base(name), ext)
	stem = stemSanitizer.ReplaceAllString(stem, "_")
	if len(stem) > 50 {
		stem = stem[:50]
	}
	if stem == "" {
		stem = "file"
	}
	return stem
}

func (s *Store) datePrefix(takenAt time.Time) string {
	switch s.granularity {
	case GranularityYear:
		return takenAt.Format("2006")
	case GranularityFull:
		return takenAt.Format("2006/01/02")
	default:
		return takenAt.Format("2006/01")
	}
}

// Generate computes the FileInfo for sourcePath, using takenAt to pick the
// date-sharded directory. It does not touch the filesystem at the
// destination — call CopyToOrganized to actually materialize the file.
func (s *Store) Generate(sourcePath string, takenAt time.Time) (*FileInfo, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}

	hash, err := HashFile(sourcePath)
	if err != nil {
		return nil, err
	}
	shortHash := hash[:8]

	ext := strings.ToLower(filepath.Ext(sourcePath))
	stem := sanitizeStem(sourcePath)
	hashedFilename := fmt.Sprintf("%s_%s%s", stem, shortHash, ext)
	relativePath := filepath.Join(s.datePrefix(takenAt), hashedFilename)

	return &FileInfo{
		Hash:           hash,
		ShortHash:      shortHash,
		HashedFilename: hashedFilename,
		RelativePath:   relativePath,
		FullPath:       filepath.Join(s.processedDir, "media", relativePath),
		Size:           info.Size(),
	}, nil
}

// FaceFilename derives the content-addressed filename for the index'th
// face crop extracted from an image whose organized stem/hash is fi.
func FaceFilename(fi *FileInfo, index int) string {
	ext := filepath.Ext(fi.HashedFilename)
	stem := strings.TrimSuffix(fi.HashedFilename, ext)
	return fmt.Sprintf("%s__face_%d%s", stem, index, ext)
}

// EnsureDirs creates the destination directory for fi.
func (s *Store) EnsureDirs(fi *FileInfo) error {
	return EnsureDir(filepath.Dir(fi.FullPath))
}

// CopyToOrganized copies sourcePath to fi's organized location. Safe to
// retry: the destination path is derived purely from content, so a retry
// after a partial failure writes the same bytes to the same name.
func (s *Store) CopyToOrganized(sourcePath string, fi *FileInfo) error {
	if err := s.EnsureDirs(fi); err != nil {
		return fmt.Errorf("ensure destination directory: %w", err)
	}
	return CopyFile(sourcePath, fi.FullPath)
}

// VerifyIntegrity rehashes the organized file and compares it against the
// recorded hash.
func (s *Store) VerifyIntegrity(ctx context.Context, fi *FileInfo) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	actual, err := HashFile(fi.FullPath)
	if err != nil {
		return fmt.Errorf("verify integrity: %w", err)
	}
	if actual != fi.Hash {
		return fmt.Errorf("integrity check failed: expected %s, got %s", fi.Hash, actual)
	}
	return nil
}

// FacePath returns the full path a face crop for fi's index'th face
// should be written to.
func (s *Store) FacePath(fi *FileInfo, index int) string {
	return filepath.Join(s.processedDir, "faces", FaceFilename(fi, index))
}

// ResolveFacePath joins a bare face crop filename (as stored in
// DetectedFace.FaceImagePath) back to its full on-disk path.
func (s *Store) ResolveFacePath(filename string) string {
	return filepath.Join(s.processedDir, "faces", filename)
}

// ThumbnailPath returns the full path of fi's thumbnail.
func (s *Store) ThumbnailPath(fi *FileInfo) string {
	ext := filepath.Ext(fi.HashedFilename)
	stem := strings.TrimSuffix(fi.HashedFilename, ext)
	return filepath.Join(s.processedDir, "thumbnails", s.datePrefix(time.Now()), stem+"_thumb"+ext)
}

// MediaURL derives the read-side URL for an organized media file.
func MediaURL(relativePath string) string {
	return "/media/" + relativePath
}

// ThumbnailURL derives the read-side URL for a thumbnail path relative to
// the processed root's thumbnails/ directory.
func ThumbnailURL(relativeThumbPath string) string {
	return "/thumbnails/" + relativeThumbPath
}

// FaceURL derives the read-side URL for a face crop filename.
func FaceURL(faceFilename string) string {
	return "/processed/faces/" + faceFilename
}

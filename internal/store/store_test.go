package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestGenerateRelativePathConvention(t *testing.T) {
	srcDir := t.TempDir()
	processedDir := t.TempDir()

	src := writeTempFile(t, srcDir, "My Vacation Photo!!.jpg", "hello world")

	s := New(processedDir, GranularityYearMonth)
	takenAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	fi, err := s.Generate(src, takenAt)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	wantPrefix := "2024/06/"
	if fi.RelativePath[:len(wantPrefix)] != wantPrefix {
		t.Errorf("RelativePath = %q, want prefix %q", fi.RelativePath, wantPrefix)
	}
	if len(fi.ShortHash) != 8 {
		t.Errorf("ShortHash len = %d, want 8", len(fi.ShortHash))
	}
	if fi.HashedFilename[len(fi.HashedFilename)-12:] != fi.ShortHash+".jpg" {
		t.Errorf("HashedFilename %q does not end with shortHash+ext", fi.HashedFilename)
	}
}

func TestCopyToOrganizedThenRehashMatches(t *testing.T) {
	srcDir := t.TempDir()
	processedDir := t.TempDir()
	src := writeTempFile(t, srcDir, "a.png", "some bytes")

	s := New(processedDir, GranularityYearMonth)
	fi, err := s.Generate(src, time.Now())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if err := s.CopyToOrganized(src, fi); err != nil {
		t.Fatalf("CopyToOrganized: %v", err)
	}
	if err := s.VerifyIntegrity(context.Background(), fi); err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
}

func TestFaceFilenameConvention(t *testing.T) {
	fi := &FileInfo{HashedFilename: "vacation_deadbeef.jpg"}
	got := FaceFilename(fi, 2)
	want := "vacation_deadbeef__face_2.jpg"
	if got != want {
		t.Errorf("FaceFilename = %q, want %q", got, want)
	}
}

func TestIsSupportedFile(t *testing.T) {
	cases := map[string]bool{
		"photo.jpg":     true,
		"photo.JPEG":    true,
		"doc.pdf":       false,
		".DS_Store":     false,
		"._resource":    false,
		"partial.part":  false,
		"photo.png":     true,
	}
	for name, want := range cases {
		if got := IsSupportedFile(name); got != want {
			t.Errorf("IsSupportedFile(%q) = %v, want %v", name, got, want)
		}
	}
}

package pipeline

import (
	"testing"
	"time"
)

func TestResolveTakenAtPriority(t *testing.T) {
	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	original := time.Date(2023, 6, 15, 10, 0, 0, 0, time.UTC)
	created := time.Date(2023, 6, 16, 10, 0, 0, 0, time.UTC)
	modified := time.Date(2023, 6, 17, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		d    *ExifData
		want time.Time
	}{
		{"nil exif falls back to mtime", nil, mtime},
		{"no dates falls back to mtime", &ExifData{}, mtime},
		{"modify date used when nothing else present", &ExifData{ModifyDate: &modified}, modified},
		{"create date wins over modify date", &ExifData{CreateDate: &created, ModifyDate: &modified}, created},
		{
			"date time original wins over everything",
			&ExifData{DateTimeOriginal: &original, CreateDate: &created, ModifyDate: &modified},
			original,
		},
	}
	for _, c := range cases {
		if got := ResolveTakenAt(c.d, mtime); !got.Equal(c.want) {
			t.Errorf("%s: ResolveTakenAt() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestShutterSpeedSeconds(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"5", 5},
		{"1/125", 1.0 / 125},
		{"30/1", 30},
		{"1/0", 0},
		{"not-a-number", 0},
	}
	for _, c := range cases {
		if got := shutterSpeedSeconds(c.in); got != c.want {
			t.Errorf("shutterSpeedSeconds(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

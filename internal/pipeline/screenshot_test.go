package pipeline

import "testing"

func TestDetectScreenshotFilenamePattern(t *testing.T) {
	in := ScreenshotInput{
		Filename: "Screenshot_2024-01-01.png",
		MimeType: "image/png",
		Width:    1170, Height: 2532,
	}
	got := DetectScreenshot(in)
	if !got.IsScreenshot {
		t.Errorf("DetectScreenshot(%+v) = score %d, want >= threshold", in, got.Score)
	}
}

func TestDetectScreenshotRealPhoto(t *testing.T) {
	in := ScreenshotInput{
		Filename:     "IMG_4821.jpg",
		MimeType:     "image/jpeg",
		Width:        4032, Height: 3024,
		CameraMake:   "Apple",
		CameraModel:  "iPhone 13",
		FocalLength:  4.2,
		Aperture:     1.6,
		ISO:          100,
		ObjectClasses: []string{"person", "dog"},
	}
	got := DetectScreenshot(in)
	if got.IsScreenshot {
		t.Errorf("DetectScreenshot(%+v) = score %d, want below threshold", in, got.Score)
	}
}

func TestDetectScreenshotKnownResolutionNoFilenameHint(t *testing.T) {
	in := ScreenshotInput{
		Filename: "IMG_0001.png",
		MimeType: "image/png",
		Width:    1920, Height: 1080,
	}
	got := DetectScreenshot(in)
	found := false
	for _, r := range got.Reasons {
		if r == "resolution matches a known screen resolution" {
			found = true
		}
	}
	if !found {
		t.Errorf("DetectScreenshot(%+v) reasons = %v, want resolution match", in, got.Reasons)
	}
}

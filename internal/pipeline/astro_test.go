package pipeline

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// starrySkyPNG writes a mostly-dark sample with a scattering of bright
// point pixels, the shape DetectAstro's star-candidate counter looks for.
func starrySkyPNG(t *testing.T) string {
	t.Helper()
	const size = 256
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: 10})
		}
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 80; i++ {
		x, y := rng.Intn(size), rng.Intn(size)
		img.SetGray(x, y, color.Gray{Y: 220})
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "sky.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create test image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return path
}

func TestDetectAstroLongExposureRaisesConfidence(t *testing.T) {
	path := starrySkyPNG(t)

	baseline, err := DetectAstro(path, AstroInput{})
	if err != nil {
		t.Fatalf("DetectAstro baseline: %v", err)
	}

	withExposure, err := DetectAstro(path, AstroInput{ShutterSpeedSeconds: 30})
	if err != nil {
		t.Fatalf("DetectAstro with long exposure: %v", err)
	}

	if withExposure.Confidence-baseline.Confidence < 0.099 {
		t.Errorf("long exposure confidence delta = %v, want >= 0.1 (baseline %v, with %v)",
			withExposure.Confidence-baseline.Confidence, baseline.Confidence, withExposure.Confidence)
	}
}

func TestDetectAstroShortExposureNoBonus(t *testing.T) {
	path := starrySkyPNG(t)

	baseline, err := DetectAstro(path, AstroInput{})
	if err != nil {
		t.Fatalf("DetectAstro baseline: %v", err)
	}
	withShortExposure, err := DetectAstro(path, AstroInput{ShutterSpeedSeconds: 0.01})
	if err != nil {
		t.Fatalf("DetectAstro with short exposure: %v", err)
	}
	if withShortExposure.Confidence != baseline.Confidence {
		t.Errorf("short exposure changed confidence: baseline %v, got %v", baseline.Confidence, withShortExposure.Confidence)
	}
}

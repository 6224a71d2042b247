package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"github.com/h2non/bimg"
)

const (
	astroSampleSize     = 256
	starBrightnessFloor = 150
	starMaxSize         = 10
	darkPixelThreshold   = 60 // 0-255; below this a pixel counts as "dark"
)

// AstroInput carries the exposure metadata the scoring rules weigh
// alongside the raster itself.
type AstroInput struct {
	ShutterSpeedSeconds float64
	ISO                 int
}

// AstroResult is the detector's verdict.
type AstroResult struct {
	IsAstro        bool
	Confidence     float64
	Classification string
	Details        map[string]interface{}
}

// DetectAstro grayscale-samples sourcePath and scores it against the
// astrophotography signal set: dark-sky ratio, star-candidate count,
// average brightness, contrast, and (when available) long exposure /
// high ISO corroboration from EXIF.
func DetectAstro(sourcePath string, in AstroInput) (AstroResult, error) {
	buf, err := bimg.Read(sourcePath)
	if err != nil {
		return AstroResult{}, fmt.Errorf("read image: %w", err)
	}

	gray, err := bimg.NewImage(buf).Process(bimg.Options{
		Width: astroSampleSize, Height: astroSampleSize, Type: bimg.PNG,
		Interpretation: bimg.InterpretationBW, Force: true,
	})
	if err != nil {
		return AstroResult{}, fmt.Errorf("convert to grayscale: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(gray))
	if err != nil {
		return AstroResult{}, fmt.Errorf("decode grayscale sample: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	pixels := make([]int, width*height)
	total := 0
	darkCount := 0
	minB, maxB := 255, 0

	idx := func(x, y int) int { return y*width + x }

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			b := int(r >> 8)
			pixels[idx(x, y)] = b
			total += b
			if b < darkPixelThreshold {
				darkCount++
			}
			if b < minB {
				minB = b
			}
			if b > maxB {
				maxB = b
			}
		}
	}

	n := width * height
	if n == 0 {
		return AstroResult{}, fmt.Errorf("empty sample")
	}
	avgBrightness := float64(total) / float64(n)
	darkRatio := float64(darkCount) / float64(n)
	contrastRatio := 0.0
	if maxB > 0 {
		contrastRatio = float64(maxB-minB) / float64(maxB)
	}

	starCount := countStarCandidates(pixels, width, height)

	var confidence float64
	if darkRatio >= 0.6 {
		confidence += 0.3
	}
	switch {
	case starCount >= 50:
		confidence += 0.4
	case starCount >= 10:
		confidence += 0.2
	}
	if avgBrightness <= 30 {
		confidence += 0.2
	}
	if contrastRatio >= 0.3 {
		confidence += 0.1
	}
	if in.ShutterSpeedSeconds > 5 {
		confidence += 0.1
	}
	if in.ISO > 1600 {
		confidence += 0.05
	}

	classification := classifyAstro(starCount, darkRatio, avgBrightness)

	return AstroResult{
		IsAstro:        confidence >= 0.5,
		Confidence:     confidence,
		Classification: classification,
		Details: map[string]interface{}{
			"dark_ratio":     darkRatio,
			"star_count":     starCount,
			"avg_brightness": avgBrightness,
			"contrast_ratio": contrastRatio,
		},
	}, nil
}

func classifyAstro(starCount int, darkRatio, avgBrightness float64) string {
	switch {
	case starCount >= 200:
		return "dense_star_field"
	case starCount >= 10:
		return "stars"
	case darkRatio >= 0.7 && avgBrightness < 20:
		return "deep_space"
	default:
		return "moon_planets"
	}
}

// countStarCandidates finds connected components of bright pixels
// (>= starBrightnessFloor) whose size falls in [1, starMaxSize] —
// point sources distinguishable from large bright regions like the moon.
func countStarCandidates(pixels []int, width, height int) int {
	visited := make([]bool, len(pixels))
	idx := func(x, y int) int { return y*width + x }
	count := 0

	var stack []int
	for start := 0; start < len(pixels); start++ {
		if visited[start] || pixels[start] < starBrightnessFloor {
			continue
		}

		size := 0
		stack = stack[:0]
		stack = append(stack, start)
		visited[start] = true

		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++
			if size > starMaxSize {
				continue
			}
			x, y := p%width, p/width
			neighbors := [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}}
			for _, nb := range neighbors {
				if nb[0] < 0 || nb[0] >= width || nb[1] < 0 || nb[1] >= height {
					continue
				}
				ni := idx(nb[0], nb[1])
				if !visited[ni] && pixels[ni] >= starBrightnessFloor {
					visited[ni] = true
					stack = append(stack, ni)
				}
			}
		}

		if size >= 1 && size <= starMaxSize {
			count++
		}
	}
	return count
}

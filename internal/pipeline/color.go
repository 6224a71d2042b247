package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"github.com/bbrks/go-blurhash"
	"github.com/h2non/bimg"

	"github.com/openphotoalbum/photo-engine/internal/logging"
)

const (
	blurhashXComponents = 4
	blurhashYComponents = 3
	blurhashMaxSize     = 64
	dominantSampleSize  = 32
)

// ImageProcessor handles the bimg/libvips-backed derived-image work: EXIF
// auto-rotation, thumbnail generation, dominant-color extraction, and
// blurhash placeholders.
type ImageProcessor struct {
	thumbnailPx int
	jpegQuality int
	logger      *logging.Logger
}

func NewImageProcessor(thumbnailPx, jpegQuality int, log *logging.Logger) *ImageProcessor {
	return &ImageProcessor{thumbnailPx: thumbnailPx, jpegQuality: jpegQuality, logger: log.WithField("component", "image-processor")}
}

// Initialize must be called once at process start before any image is
// processed.
func Initialize() {
	bimg.Initialize()
	bimg.VipsCacheSetMaxMem(256 * 1024 * 1024)
}

func Shutdown() {
	bimg.VipsCacheDropAll()
	bimg.Shutdown()
}

// Derived holds everything step 4 of the pipeline needs from the raster:
// corrected dimensions, dominant color, and blurhash.
type Derived struct {
	Width, Height int
	DominantColor string
	Blurhash      string
}

// Process auto-rotates the source per its EXIF orientation, writes a
// thumbnail to thumbPath, and derives dominant color + blurhash from it.
// A failure in any derived step degrades to a default (white,
// empty blurhash) rather than failing the image.
func (p *ImageProcessor) Process(sourcePath, thumbPath string) (*Derived, error) {
	buf, err := bimg.Read(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	rotated, err := bimg.NewImage(buf).AutoRotate()
	if err != nil {
		p.logger.WithError(err).Warn("auto-rotate failed, using original orientation")
		rotated = buf
	}

	size, err := bimg.NewImage(rotated).Size()
	if err != nil {
		return nil, fmt.Errorf("read image size: %w", err)
	}

	derived := &Derived{Width: size.Width, Height: size.Height, DominantColor: "#ffffff"}

	thumb, err := p.writeThumbnail(rotated, size, thumbPath)
	if err != nil {
		p.logger.WithError(err).Warn("thumbnail generation failed")
	}

	if thumb != nil {
		if color, cerr := dominantColor(thumb); cerr == nil {
			derived.DominantColor = color
		} else {
			p.logger.WithError(cerr).Debug("dominant color extraction failed, defaulting to white")
		}
		if hash, herr := encodeBlurhash(thumb); herr == nil {
			derived.Blurhash = hash
		} else {
			p.logger.WithError(herr).Debug("blurhash generation failed")
		}
	}

	return derived, nil
}

func (p *ImageProcessor) writeThumbnail(buf []byte, size bimg.ImageSize, thumbPath string) ([]byte, error) {
	longest := size.Width
	if size.Height > longest {
		longest = size.Height
	}
	target := p.thumbnailPx
	if longest <= target {
		target = longest
	}

	var w, h int
	if size.Width >= size.Height {
		w = target
		h = (size.Height * target) / size.Width
	} else {
		h = target
		w = (size.Width * target) / size.Height
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	processed, err := bimg.NewImage(buf).Process(bimg.Options{
		Width: w, Height: h, Type: bimg.JPEG, Quality: p.jpegQuality,
		StripMetadata: true, NoAutoRotate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("resize thumbnail: %w", err)
	}
	if err := bimg.Write(thumbPath, processed); err != nil {
		return nil, fmt.Errorf("write thumbnail: %w", err)
	}
	return processed, nil
}

// dominantColor samples a small PNG render of buf and returns the most
// common quantized color as a hex string.
func dominantColor(buf []byte) (string, error) {
	small, err := bimg.NewImage(buf).Process(bimg.Options{
		Width: dominantSampleSize, Height: dominantSampleSize, Type: bimg.PNG, Force: true,
	})
	if err != nil {
		return "", fmt.Errorf("resize for dominant color: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(small))
	if err != nil {
		return "", fmt.Errorf("decode sample: %w", err)
	}

	bounds := img.Bounds()
	counts := make(map[[3]int]int)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// Quantize to reduce near-duplicate buckets from 8-bit noise.
			bucket := [3]int{int(r>>8) / 16 * 16, int(g>>8) / 16 * 16, int(b>>8) / 16 * 16}
			counts[bucket]++
		}
	}

	var best [3]int
	bestCount := -1
	for bucket, count := range counts {
		if count > bestCount {
			best = bucket
			bestCount = count
		}
	}
	if bestCount < 0 {
		return "#ffffff", nil
	}
	return fmt.Sprintf("#%02x%02x%02x", best[0], best[1], best[2]), nil
}

func encodeBlurhash(buf []byte) (string, error) {
	size, err := bimg.NewImage(buf).Size()
	if err != nil {
		return "", err
	}
	sample := buf
	if size.Width > blurhashMaxSize || size.Height > blurhashMaxSize {
		var w, h int
		if size.Width >= size.Height {
			w, h = blurhashMaxSize, (size.Height*blurhashMaxSize)/size.Width
		} else {
			h, w = blurhashMaxSize, (size.Width*blurhashMaxSize)/size.Height
		}
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		sample, err = bimg.NewImage(buf).Process(bimg.Options{Width: w, Height: h, Type: bimg.PNG})
		if err != nil {
			return "", fmt.Errorf("resize for blurhash: %w", err)
		}
	} else {
		sample, err = bimg.NewImage(buf).Process(bimg.Options{Type: bimg.PNG})
		if err != nil {
			return "", fmt.Errorf("convert to png: %w", err)
		}
	}

	img, _, err := image.Decode(bytes.NewReader(sample))
	if err != nil {
		return "", fmt.Errorf("decode sample: %w", err)
	}
	return blurhash.Encode(blurhashXComponents, blurhashYComponents, img)
}

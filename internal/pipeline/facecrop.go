package pipeline

import (
	"fmt"

	"github.com/h2non/bimg"
)

// BoundingBox is a face detection's box in the *display* (auto-rotated,
// upright) coordinate space the face service returns — i.e. what a
// viewer would draw on screen, not necessarily the raw sensor
// orientation the file was written in.
type BoundingBox struct {
	XMin, YMin, XMax, YMax float64
}

// FaceCropper extracts upright face crops from a source image given face
// bounding boxes reported in display orientation, transforming them back
// into the raw file's orientation before cropping.
type FaceCropper struct {
	jpegQuality int
}

func NewFaceCropper(jpegQuality int) *FaceCropper {
	return &FaceCropper{jpegQuality: jpegQuality}
}

// Crop extracts the face from sourcePath at box (in display
// orientation) and writes an upright JPEG to destPath. orientation is
// the file's raw EXIF orientation code (1, 3, 5, 6, 7, 8 handled; any
// other value, including 2 and 4 and the absent/unset 0, is treated as
// already-upright).
func (c *FaceCropper) Crop(sourcePath string, box BoundingBox, orientation int, destPath string) error {
	buf, err := bimg.Read(sourcePath)
	if err != nil {
		return fmt.Errorf("read source image: %w", err)
	}

	rawSize, err := bimg.NewImage(buf).Size()
	if err != nil {
		return fmt.Errorf("read raw size: %w", err)
	}

	rawBox := toRawOrientation(box, rawSize.Width, rawSize.Height, orientation)

	left := int(rawBox.XMin)
	top := int(rawBox.YMin)
	width := int(rawBox.XMax - rawBox.XMin)
	height := int(rawBox.YMax - rawBox.YMin)
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	left = clamp(left, 0, rawSize.Width-1)
	top = clamp(top, 0, rawSize.Height-1)
	if left+width > rawSize.Width {
		width = rawSize.Width - left
	}
	if top+height > rawSize.Height {
		height = rawSize.Height - top
	}

	cropped, err := bimg.NewImage(buf).Extract(top, left, width, height)
	if err != nil {
		return fmt.Errorf("extract face region: %w", err)
	}

	rotated, err := rotateForOrientation(cropped, orientation)
	if err != nil {
		return fmt.Errorf("rotate face crop: %w", err)
	}

	out, err := bimg.NewImage(rotated).Process(bimg.Options{Type: bimg.JPEG, Quality: c.jpegQuality})
	if err != nil {
		return fmt.Errorf("encode face crop: %w", err)
	}

	if err := bimg.Write(destPath, out); err != nil {
		return fmt.Errorf("write face crop: %w", err)
	}
	return nil
}

// toRawOrientation maps a box in display (upright) coordinates back into
// the coordinate space of the raw, unrotated file, given its EXIF
// orientation code. rawW/rawH are the raw file's dimensions.
func toRawOrientation(box BoundingBox, rawW, rawH, orientation int) BoundingBox {
	switch orientation {
	case 3: // upside down
		return BoundingBox{
			XMin: float64(rawW) - box.XMax, YMin: float64(rawH) - box.YMax,
			XMax: float64(rawW) - box.XMin, YMax: float64(rawH) - box.YMin,
		}
	case 6: // raw rotated 90 CW to reach display orientation
		return BoundingBox{
			XMin: box.YMin, YMin: float64(rawH) - box.XMax,
			XMax: box.YMax, YMax: float64(rawH) - box.XMin,
		}
	case 8: // raw rotated 90 CCW to reach display orientation
		return BoundingBox{
			XMin: float64(rawW) - box.YMax, YMin: box.XMin,
			XMax: float64(rawW) - box.YMin, YMax: box.XMax,
		}
	case 5: // transpose + mirror (rotate 90 CCW then mirror horizontal)
		return BoundingBox{
			XMin: box.YMin, YMin: box.XMin,
			XMax: box.YMax, YMax: box.XMax,
		}
	case 7: // transverse (rotate 90 CW then mirror horizontal)
		return BoundingBox{
			XMin: float64(rawW) - box.YMax, YMin: float64(rawH) - box.XMax,
			XMax: float64(rawW) - box.YMin, YMax: float64(rawH) - box.XMin,
		}
	default: // 1, 2, 4, 0: no rotation component
		return box
	}
}

// rotateForOrientation rotates a crop taken from the raw file so the
// face ends up upright, undoing the same orientation code. 5 and 7
// additionally mirror horizontally, matching the transpose/transverse
// box transform toRawOrientation applies for those two codes.
func rotateForOrientation(buf []byte, orientation int) ([]byte, error) {
	switch orientation {
	case 3:
		return bimg.NewImage(buf).Rotate(bimg.D180)
	case 6:
		return bimg.NewImage(buf).Rotate(bimg.D90)
	case 8:
		return bimg.NewImage(buf).Rotate(bimg.D270)
	case 5:
		rotated, err := bimg.NewImage(buf).Rotate(bimg.D270)
		if err != nil {
			return nil, err
		}
		return bimg.NewImage(rotated).Flop()
	case 7:
		rotated, err := bimg.NewImage(buf).Rotate(bimg.D90)
		if err != nil {
			return nil, err
		}
		return bimg.NewImage(rotated).Flop()
	default:
		return buf, nil
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"

	"github.com/openphotoalbum/photo-engine/internal/logging"
)

func init() {
	exif.RegisterParsers(mknote.All...)
}

// ExifData holds everything the pipeline and its extractors read out of a
// file's EXIF block. The date fields and Orientation feed steps elsewhere in the
// pipeline (date resolution, face-crop rotation); the rest maps directly
// onto ImageMetadata's columns.
type ExifData struct {
	DateTimeOriginal *time.Time
	CreateDate       *time.Time
	ModifyDate       *time.Time

	CameraMake   string
	CameraModel  string
	Software     string
	Lens         string
	FocalLength  float64
	Aperture     float64
	ShutterSpeed string
	ISO          int
	Flash        bool
	WhiteBalance string
	ExposureMode string

	GPSLat      *float64
	GPSLon      *float64
	GPSAltitude *float64
	GPSDOP      *float64

	Width       int
	Height      int
	Orientation int

	Raw json.RawMessage
}

// HasGPS reports whether GPS coordinates were found.
func (d *ExifData) HasGPS() bool { return d != nil && d.GPSLat != nil && d.GPSLon != nil }

// ExifExtractor decodes EXIF blocks from source image files.
type ExifExtractor struct {
	logger *logging.Logger
}

func NewExifExtractor(log *logging.Logger) *ExifExtractor {
	return &ExifExtractor{logger: log.WithField("component", "exif-extractor")}
}

// Extract decodes path's EXIF block. A missing or undecodable block is
// not an error — the pipeline degrades to file mtime / defaults.
func (e *ExifExtractor) Extract(path string) (*ExifData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		if err == exif.ErrNoExif {
			return nil, nil
		}
		e.logger.WithError(err).WithField("path", path).Debug("failed to decode exif")
		return nil, nil
	}

	d := &ExifData{}

	if tag, terr := x.Get(exif.DateTimeOriginal); terr == nil {
		if s, serr := tag.StringVal(); serr == nil {
			if t, perr := time.Parse("2006:01:02 15:04:05", s); perr == nil {
				d.DateTimeOriginal = &t
			}
		}
	}
	if tag, terr := x.Get(exif.DateTimeDigitized); terr == nil {
		if s, serr := tag.StringVal(); serr == nil {
			if t, perr := time.Parse("2006:01:02 15:04:05", s); perr == nil {
				d.CreateDate = &t
			}
		}
	}
	if dt, derr := x.DateTime(); derr == nil {
		d.ModifyDate = &dt
	}

	if tag, terr := x.Get(exif.Make); terr == nil {
		if v, verr := tag.StringVal(); verr == nil {
			d.CameraMake = strings.TrimSpace(v)
		}
	}
	if tag, terr := x.Get(exif.Model); terr == nil {
		if v, verr := tag.StringVal(); verr == nil {
			d.CameraModel = strings.TrimSpace(v)
		}
	}
	if tag, terr := x.Get(exif.Software); terr == nil {
		if v, verr := tag.StringVal(); verr == nil {
			d.Software = strings.TrimSpace(v)
		}
	}
	if tag, terr := x.Get(exif.LensModel); terr == nil {
		if v, verr := tag.StringVal(); verr == nil {
			d.Lens = strings.TrimSpace(v)
		}
	}
	if tag, terr := x.Get(exif.ISOSpeedRatings); terr == nil {
		if v, verr := tag.Int(0); verr == nil {
			d.ISO = v
		}
	}
	if tag, terr := x.Get(exif.FNumber); terr == nil {
		if num, denom, rerr := tag.Rat2(0); rerr == nil && denom != 0 {
			d.Aperture = float64(num) / float64(denom)
		}
	}
	if tag, terr := x.Get(exif.ExposureTime); terr == nil {
		if num, denom, rerr := tag.Rat2(0); rerr == nil && denom != 0 {
			if denom == 1 {
				d.ShutterSpeed = fmt.Sprintf("%d", num)
			} else {
				d.ShutterSpeed = fmt.Sprintf("%d/%d", num, denom)
			}
		}
	}
	if tag, terr := x.Get(exif.FocalLength); terr == nil {
		if num, denom, rerr := tag.Rat2(0); rerr == nil && denom != 0 {
			d.FocalLength = float64(num) / float64(denom)
		}
	}
	if tag, terr := x.Get(exif.Flash); terr == nil {
		if v, verr := tag.Int(0); verr == nil {
			d.Flash = (v & 1) == 1
		}
	}
	if tag, terr := x.Get(exif.WhiteBalance); terr == nil {
		if v, verr := tag.Int(0); verr == nil {
			if v == 0 {
				d.WhiteBalance = "auto"
			} else {
				d.WhiteBalance = "manual"
			}
		}
	}
	if tag, terr := x.Get(exif.ExposureMode); terr == nil {
		if v, verr := tag.Int(0); verr == nil {
			d.ExposureMode = fmt.Sprintf("%d", v)
		}
	}

	if lat, lon, lerr := x.LatLong(); lerr == nil {
		d.GPSLat = &lat
		d.GPSLon = &lon
	}
	if tag, terr := x.Get(exif.GPSAltitude); terr == nil {
		if num, denom, rerr := tag.Rat2(0); rerr == nil && denom != 0 {
			alt := float64(num) / float64(denom)
			d.GPSAltitude = &alt
		}
	}
	if tag, terr := x.Get(exif.GPSDOP); terr == nil {
		if num, denom, rerr := tag.Rat2(0); rerr == nil && denom != 0 {
			dop := float64(num) / float64(denom)
			d.GPSDOP = &dop
		}
	}

	if tag, terr := x.Get(exif.PixelXDimension); terr == nil {
		if v, verr := tag.Int(0); verr == nil {
			d.Width = v
		}
	}
	if tag, terr := x.Get(exif.PixelYDimension); terr == nil {
		if v, verr := tag.Int(0); verr == nil {
			d.Height = v
		}
	}
	if tag, terr := x.Get(exif.Orientation); terr == nil {
		if v, verr := tag.Int(0); verr == nil {
			d.Orientation = v
		}
	}

	if raw, merr := json.Marshal(x); merr == nil {
		d.Raw = raw
	}

	return d, nil
}

// ResolveTakenAt implements the date-priority fallback chain: EXIF
// DateTimeOriginal > CreateDate (DateTimeDigitized) > DateCreated (not
// exposed by basic EXIF; skipped) > ModifyDate > FileModifyDate >
// FileCreateDate; finally the file's mtime. goexif cannot distinguish
// FileModifyDate from FileCreateDate, so both fall through to mtime.
func ResolveTakenAt(d *ExifData, fileModTime time.Time) time.Time {
	if d != nil {
		if d.DateTimeOriginal != nil {
			return *d.DateTimeOriginal
		}
		if d.CreateDate != nil {
			return *d.CreateDate
		}
		if d.ModifyDate != nil {
			return *d.ModifyDate
		}
	}
	return fileModTime
}

// shutterSpeedSeconds parses ShutterSpeed's "N" or "N/D" exposure-time
// format into seconds. Returns 0 for anything it can't parse, including
// the empty string left by a missing ExposureTime tag.
func shutterSpeedSeconds(s string) float64 {
	if s == "" {
		return 0
	}
	if num, denom, ok := strings.Cut(s, "/"); ok {
		n, nerr := strconv.ParseFloat(num, 64)
		d, derr := strconv.ParseFloat(denom, 64)
		if nerr != nil || derr != nil || d == 0 {
			return 0
		}
		return n / d
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// NullFloat converts a *float64 to sql.NullFloat64.
func NullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// NullString converts a string to sql.NullString, empty meaning absent.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// NullInt converts an int to sql.NullInt32, zero meaning absent.
func NullInt(i int) sql.NullInt32 {
	if i == 0 {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(i), Valid: true}
}

// NullFloatZero converts a float64 to sql.NullFloat64, zero meaning absent.
func NullFloatZero(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

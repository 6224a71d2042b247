// Package repository is the SQL access layer over internal/models, one
// file per aggregate, built directly against pgx/v5 (no query builder).
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/storage"
)

// ErrNotFound is returned by Get-style lookups that find no row.
var ErrNotFound = errors.New("repository: not found")

// ImageRepo persists Image, ImageMetadata and DetectedObject rows.
type ImageRepo struct {
	db *storage.DB
}

func NewImageRepo(db *storage.DB) *ImageRepo { return &ImageRepo{db: db} }

// FindByHash returns the existing image with this content hash, if any.
// The pipeline calls this first on every file to short-circuit
// duplicates before doing any extraction work.
func (r *ImageRepo) FindByHash(ctx context.Context, hash string) (*models.Image, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, hash, original_path, relative_path, size, mime_type, width, height,
		       taken_at, processed_at, dominant_color, is_screenshot, screenshot_score,
		       screenshot_reasons, is_astrophotography, astro_confidence, astro_classification,
		       astro_details, gps_lat, gps_lon, gps_altitude, smart_album_count, deleted_at
		FROM images WHERE hash = $1`, hash)
	img, err := scanImage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find image by hash: %w", err)
	}
	return img, nil
}

func (r *ImageRepo) GetByID(ctx context.Context, id int64) (*models.Image, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, hash, original_path, relative_path, size, mime_type, width, height,
		       taken_at, processed_at, dominant_color, is_screenshot, screenshot_score,
		       screenshot_reasons, is_astrophotography, astro_confidence, astro_classification,
		       astro_details, gps_lat, gps_lon, gps_altitude, smart_album_count, deleted_at
		FROM images WHERE id = $1`, id)
	img, err := scanImage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

func scanImage(row pgx.Row) (*models.Image, error) {
	var img models.Image
	err := row.Scan(&img.ID, &img.Hash, &img.OriginalPath, &img.RelativePath, &img.Size, &img.MimeType,
		&img.Width, &img.Height, &img.TakenAt, &img.ProcessedAt, &img.DominantColor, &img.IsScreenshot,
		&img.ScreenshotScore, &img.ScreenshotReasons, &img.IsAstrophotography, &img.AstroConfidence,
		&img.AstroClassification, &img.AstroDetails, &img.GPSLat, &img.GPSLon, &img.GPSAltitude,
		&img.SmartAlbumCount, &img.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// CreateFull persists an Image plus its ImageMetadata, DetectedObjects
// and DetectedFaces as one transaction, matching the pipeline's "single
// logical unit" persistence requirement.
func (r *ImageRepo) CreateFull(ctx context.Context, img *models.Image, meta *models.ImageMetadata, objects []models.DetectedObject, faces []models.DetectedFace) (int64, error) {
	var imageID int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO images (hash, original_path, relative_path, size, mime_type, width, height,
			                     taken_at, dominant_color, is_screenshot, screenshot_score, screenshot_reasons,
			                     is_astrophotography, astro_confidence, astro_classification, astro_details,
			                     gps_lat, gps_lon, gps_altitude)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
			RETURNING id`,
			img.Hash, img.OriginalPath, img.RelativePath, img.Size, img.MimeType, img.Width, img.Height,
			img.TakenAt, img.DominantColor, img.IsScreenshot, img.ScreenshotScore, img.ScreenshotReasons,
			img.IsAstrophotography, img.AstroConfidence, img.AstroClassification, img.AstroDetails,
			img.GPSLat, img.GPSLon, img.GPSAltitude,
		).Scan(&imageID)
		if err != nil {
			return fmt.Errorf("insert image: %w", err)
		}

		if meta != nil {
			_, err = tx.Exec(ctx, `
				INSERT INTO image_metadata (image_id, camera_make, camera_model, software, lens,
				                             focal_length, aperture, shutter_speed, iso, flash,
				                             white_balance, exposure_mode, gps_dop, gps_satellites,
				                             gps_h_position_error, creator, raw_exif)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
				imageID, meta.CameraMake, meta.CameraModel, meta.Software, meta.Lens,
				meta.FocalLength, meta.Aperture, meta.ShutterSpeed, meta.ISO, meta.Flash,
				meta.WhiteBalance, meta.ExposureMode, meta.GPSDOP, meta.GPSSatellites,
				meta.GPSHPositionError, meta.Creator, meta.RawEXIF)
			if err != nil {
				return fmt.Errorf("insert image metadata: %w", err)
			}
		}

		for _, o := range objects {
			_, err = tx.Exec(ctx, `
				INSERT INTO detected_objects (image_id, class, confidence, bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				imageID, o.Class, o.Confidence, o.BBoxXMin, o.BBoxYMin, o.BBoxXMax, o.BBoxYMax)
			if err != nil {
				return fmt.Errorf("insert detected object: %w", err)
			}
		}

		for _, f := range faces {
			_, err = tx.Exec(ctx, `
				INSERT INTO detected_faces (image_id, bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max,
				                             detection_confidence, gender_value, gender_probability,
				                             age_low, age_high, landmarks, face_image_path)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
				imageID, f.BBoxXMin, f.BBoxYMin, f.BBoxXMax, f.BBoxYMax, f.DetectionConfidence,
				f.GenderValue, f.GenderProbability, f.AgeLow, f.AgeHigh, f.Landmarks, f.FaceImagePath)
			if err != nil {
				return fmt.Errorf("insert detected face: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imageID, nil
}

// SetGeolocation upserts the image's resolved geolocation link.
func (r *ImageRepo) SetGeolocation(ctx context.Context, imageID, cityID int64, confidence, distanceMiles float64, method models.DetectionMethod) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO image_geolocations (image_id, city_id, confidence, detection_method, distance)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (image_id) DO UPDATE SET
			city_id = EXCLUDED.city_id, confidence = EXCLUDED.confidence,
			detection_method = EXCLUDED.detection_method, distance = EXCLUDED.distance`,
		imageID, cityID, confidence, method, distanceMiles)
	if err != nil {
		return fmt.Errorf("set geolocation: %w", err)
	}
	return nil
}

// WithoutGeolocation returns images with a GPS fix that have no
// image_geolocations row yet, for the geolocation linker's backlog pass.
func (r *ImageRepo) WithoutGeolocation(ctx context.Context, limit int) ([]models.Image, error) {
	rows, err := r.db.Query(ctx, `
		SELECT i.id, i.hash, i.original_path, i.relative_path, i.size, i.mime_type, i.width, i.height,
		       i.taken_at, i.processed_at, i.dominant_color, i.is_screenshot, i.screenshot_score,
		       i.screenshot_reasons, i.is_astrophotography, i.astro_confidence, i.astro_classification,
		       i.astro_details, i.gps_lat, i.gps_lon, i.gps_altitude, i.smart_album_count, i.deleted_at
		FROM images i
		LEFT JOIN image_geolocations g ON g.image_id = i.id
		WHERE i.gps_lat IS NOT NULL AND g.image_id IS NULL
		ORDER BY i.id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query images without geolocation: %w", err)
	}
	defer rows.Close()

	var out []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, *img)
	}
	return out, rows.Err()
}

// GetMetadata returns the 1:1 ImageMetadata row for imageID, used by
// the smart album engine's technical_based rule evaluator.
func (r *ImageRepo) GetMetadata(ctx context.Context, imageID int64) (*models.ImageMetadata, error) {
	row := r.db.QueryRow(ctx, `
		SELECT image_id, camera_make, camera_model, software, lens, focal_length, aperture,
		       shutter_speed, iso, flash, white_balance, exposure_mode, gps_dop, gps_satellites,
		       gps_h_position_error, creator, raw_exif
		FROM image_metadata WHERE image_id = $1`, imageID)
	var m models.ImageMetadata
	err := row.Scan(&m.ImageID, &m.CameraMake, &m.CameraModel, &m.Software, &m.Lens, &m.FocalLength,
		&m.Aperture, &m.ShutterSpeed, &m.ISO, &m.Flash, &m.WhiteBalance, &m.ExposureMode, &m.GPSDOP,
		&m.GPSSatellites, &m.GPSHPositionError, &m.Creator, &m.RawEXIF)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image metadata: %w", err)
	}
	return &m, nil
}

// ObjectsForImage returns every detected object belonging to imageID,
// used by the smart album engine's object_based rule evaluator.
func (r *ImageRepo) ObjectsForImage(ctx context.Context, imageID int64) ([]models.DetectedObject, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, image_id, class, confidence, bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max
		FROM detected_objects WHERE image_id = $1`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query objects for image: %w", err)
	}
	defer rows.Close()

	var out []models.DetectedObject
	for rows.Next() {
		var o models.DetectedObject
		if err := rows.Scan(&o.ID, &o.ImageID, &o.Class, &o.Confidence, &o.BBoxXMin, &o.BBoxYMin, &o.BBoxXMax, &o.BBoxYMax); err != nil {
			return nil, fmt.Errorf("scan detected object: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// IncrementSmartAlbumCount adjusts the denormalized membership count
// maintained alongside smart_album_memberships writes. Pass a nil tx to
// run standalone outside any enclosing transaction.
func (r *ImageRepo) IncrementSmartAlbumCount(ctx context.Context, tx pgx.Tx, imageID int64, delta int) error {
	q := `UPDATE images SET smart_album_count = smart_album_count + $1 WHERE id = $2`
	if tx != nil {
		_, err := tx.Exec(ctx, q, delta, imageID)
		return err
	}
	_, err := r.db.Pool().Exec(ctx, q, delta, imageID)
	return err
}

// ImagesByObjectClass returns image IDs with at least one detected
// object of the given class above minConfidence — the object_based
// smart-album rule's core query.
func (r *ImageRepo) ImagesByObjectClass(ctx context.Context, class string, minConfidence float64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT image_id FROM detected_objects
		WHERE class = $1 AND confidence >= $2`, class, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("query images by object class: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

// ImagesInTimeRange returns image IDs taken within [start, end).
func (r *ImageRepo) ImagesInTimeRange(ctx context.Context, start, end time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM images WHERE taken_at >= $1 AND taken_at < $2`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query images in time range: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

func scanInt64s(rows pgx.Rows) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Package models defines the relational entities the engine persists.
// They map directly to tables created by the migrations in migrations/
// and are shared by every component in internal/.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Image is the root entity created by the per-image pipeline on first
// successful ingest. Hash is unique; once ProcessingStatus is "completed"
// RelativePath is stable for the lifetime of the row.
type Image struct {
	ID   int64  `db:"id"`
	Hash string `db:"hash"` // SHA-256 hex, stable content digest

	OriginalPath string `db:"original_path"`
	RelativePath string `db:"relative_path"` // YYYY/MM/{hashedFilename}
	Size         int64  `db:"size"`
	MimeType     string `db:"mime_type"`

	Width  int `db:"width"`
	Height int `db:"height"`

	TakenAt     time.Time `db:"taken_at"`
	ProcessedAt time.Time `db:"processed_at"`

	DominantColor string `db:"dominant_color"`

	IsScreenshot       bool            `db:"is_screenshot"`
	ScreenshotScore    int             `db:"screenshot_score"`
	ScreenshotReasons  json.RawMessage `db:"screenshot_reasons"`

	IsAstrophotography bool            `db:"is_astrophotography"`
	AstroConfidence    float64         `db:"astro_confidence"`
	AstroClassification string        `db:"astro_classification"`
	AstroDetails       json.RawMessage `db:"astro_details"`

	GPSLat      sql.NullFloat64 `db:"gps_lat"`
	GPSLon      sql.NullFloat64 `db:"gps_lon"`
	GPSAltitude sql.NullFloat64 `db:"gps_altitude"`

	SmartAlbumCount int `db:"smart_album_count"`

	DeletedAt sql.NullTime `db:"deleted_at"`
}

// HasGPS reports whether the image carries a GPS fix.
func (i *Image) HasGPS() bool {
	return i.GPSLat.Valid && i.GPSLon.Valid
}

// ImageMetadata is 1:1 with Image and replaced wholesale on reprocess.
type ImageMetadata struct {
	ImageID int64 `db:"image_id"`

	CameraMake     sql.NullString  `db:"camera_make"`
	CameraModel    sql.NullString  `db:"camera_model"`
	Software       sql.NullString  `db:"software"`
	Lens           sql.NullString  `db:"lens"`
	FocalLength    sql.NullFloat64 `db:"focal_length"`
	Aperture       sql.NullFloat64 `db:"aperture"`
	ShutterSpeed   sql.NullString  `db:"shutter_speed"`
	ISO            sql.NullInt32   `db:"iso"`
	Flash          sql.NullBool    `db:"flash"`
	WhiteBalance   sql.NullString  `db:"white_balance"`
	ExposureMode   sql.NullString  `db:"exposure_mode"`

	GPSDOP             sql.NullFloat64 `db:"gps_dop"`
	GPSSatellites      sql.NullString  `db:"gps_satellites"`
	GPSHPositionError  sql.NullFloat64 `db:"gps_h_position_error"`

	Creator sql.NullString `db:"creator"`

	RawEXIF json.RawMessage `db:"raw_exif"`
}

// DetectedObject is many-per-Image; rows below the detection confidence
// threshold are discarded before persistence, never stored as "rejected".
type DetectedObject struct {
	ID         int64   `db:"id"`
	ImageID    int64   `db:"image_id"`
	Class      string  `db:"class"`
	Confidence float64 `db:"confidence"`
	BBoxXMin   float64 `db:"bbox_x_min"`
	BBoxYMin   float64 `db:"bbox_y_min"`
	BBoxXMax   float64 `db:"bbox_x_max"`
	BBoxYMax   float64 `db:"bbox_y_max"`
}

// AssignmentSource is the provenance tag on a face-to-person link.
type AssignmentSource string

const (
	AssignedByUser           AssignmentSource = "user"
	AssignedByManual         AssignmentSource = "manual"
	AssignedByAutoRecognition AssignmentSource = "auto_recognition"
	AssignedByAutoCompreFace  AssignmentSource = "auto_compreface"
	AssignedBySystem          AssignmentSource = "system"
)

// DetectedFace is many-per-Image. FaceImagePath is set whenever the crop
// file exists on disk; CompreFaceSynced implies an upload has happened
// since the face's last reset.
type DetectedFace struct {
	ID         int64   `db:"id"`
	ImageID    int64   `db:"image_id"`
	BBoxXMin   float64 `db:"bbox_x_min"`
	BBoxYMin   float64 `db:"bbox_y_min"`
	BBoxXMax   float64 `db:"bbox_x_max"`
	BBoxYMax   float64 `db:"bbox_y_max"`

	DetectionConfidence float64 `db:"detection_confidence"`

	GenderValue       sql.NullString  `db:"gender_value"`
	GenderProbability sql.NullFloat64 `db:"gender_probability"`
	AgeLow            sql.NullInt32   `db:"age_low"`
	AgeHigh           sql.NullInt32   `db:"age_high"`

	Landmarks json.RawMessage `db:"landmarks"` // opaque, as returned by the face service

	FaceImagePath sql.NullString `db:"face_image_path"` // content-addressed crop path
	LegacyFacePath sql.NullString `db:"legacy_face_path"` // read-only migration input, absolute

	PersonID         sql.NullInt64    `db:"person_id"`
	AssignedBy       sql.NullString   `db:"assigned_by"`
	RecognitionMethod sql.NullString  `db:"recognition_method"`

	CompreFaceSynced     bool         `db:"compreface_synced"`
	CompreFaceUploadedAt sql.NullTime `db:"compreface_uploaded_at"`

	CreatedAt time.Time `db:"created_at"`
}

// RecognitionStatus is the training lifecycle state of a Person.
type RecognitionStatus string

const (
	RecognitionUntrained RecognitionStatus = "untrained"
	RecognitionTraining  RecognitionStatus = "training"
	RecognitionTrained   RecognitionStatus = "trained"
	RecognitionFailed    RecognitionStatus = "failed"
)

// Person is a named identity that DetectedFace rows may be assigned to.
// FaceCount is maintained as an invariant: it must equal the count of
// DetectedFace rows with PersonID = self.ID.
type Person struct {
	ID                  int64             `db:"id"`
	Name                string            `db:"name"`
	FaceServiceSubjectID sql.NullString   `db:"face_service_subject_id"`
	RecognitionStatus   RecognitionStatus `db:"recognition_status"`
	TrainingFaceCount   int               `db:"training_face_count"`
	LastTrainedAt       sql.NullTime      `db:"last_trained_at"`
	FaceCount           int               `db:"face_count"`
	CreatedAt           time.Time         `db:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at"`
}

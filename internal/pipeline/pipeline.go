// Package pipeline implements the per-image enrichment pipeline:
// given a source path it extracts EXIF first, then runs color/face/
// object/astro extraction in parallel with per-extractor failure
// isolation, then persists the
// result as one logical unit and triggers the two non-fatal downstream
// steps (geolocation linking, smart-album evaluation).
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openphotoalbum/photo-engine/internal/faceservice"
	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/metrics"
	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/repository"
	"github.com/openphotoalbum/photo-engine/internal/store"
)

// DuplicateFile is returned by Process when the source's content hash
// already belongs to an existing Image; never treated as an error by
// callers, only logged as a no-op completion.
type DuplicateFile struct {
	Hash       string
	ExistingID int64
}

func (d *DuplicateFile) Error() string {
	return fmt.Sprintf("duplicate file: hash %s already stored as image %d", d.Hash, d.ExistingID)
}

// GeoLinker is implemented by internal/geolink.Linker; kept as an
// interface here so the pipeline doesn't need to import it directly
// and so tests can stub it out.
type GeoLinker interface {
	LinkImage(ctx context.Context, imageID int64, lat, lon float64, altitude *float64) error
}

// AlbumProcessor is implemented by internal/smartalbum.Engine.
type AlbumProcessor interface {
	ProcessImage(ctx context.Context, imageID int64) error
}

// Config carries the tunables the pipeline needs from the resolved
// engine configuration (a thin slice of config.Config, to keep this
// package independent of the config package's decoding concerns).
type Config struct {
	FaceDetectionEnabled   bool
	ObjectDetectionEnabled bool
	AstroEnabled           bool
	ObjectConfidenceMin    float64
	ThumbnailPx            int
	JPEGQuality            int
	DateGranularity        store.DateGranularity
}

// Pipeline wires the extractors, the content store, the repository,
// and the two optional non-fatal downstream steps.
type Pipeline struct {
	cfg Config

	store       *store.Store
	images      *repository.ImageRepo
	exif        *ExifExtractor
	imageProc   *ImageProcessor
	faceCropper *FaceCropper

	faceClient   *faceservice.Client // nil disables face detection regardless of cfg
	objectClient ObjectDetector      // nil disables object detection regardless of cfg

	geoLinker  GeoLinker      // nil skips geolocation linking
	albumProc  AlbumProcessor // nil skips smart-album processing

	metrics *metrics.Metrics // nil disables metric recording
	logger  *logging.Logger
}

func New(
	cfg Config,
	st *store.Store,
	images *repository.ImageRepo,
	exif *ExifExtractor,
	imageProc *ImageProcessor,
	faceCropper *FaceCropper,
	faceClient *faceservice.Client,
	objectClient ObjectDetector,
	geoLinker GeoLinker,
	albumProc AlbumProcessor,
	m *metrics.Metrics,
	log *logging.Logger,
) *Pipeline {
	return &Pipeline{
		cfg: cfg, store: st, images: images, exif: exif, imageProc: imageProc,
		faceCropper: faceCropper, faceClient: faceClient, objectClient: objectClient,
		geoLinker: geoLinker, albumProc: albumProc,
		metrics: m,
		logger:  log.WithField("component", "pipeline"),
	}
}

type extractionResult struct {
	exif      *ExifData
	derived   *Derived
	faces     []models.DetectedFace
	objects   []models.DetectedObject
	astro     AstroResult
	astroErr  error
}

// Process runs the full 10-step pipeline on sourcePath and returns the
// persisted Image. A *DuplicateFile error is expected, benign output,
// not a processing failure.
func (p *Pipeline) Process(ctx context.Context, sourcePath string) (*models.Image, error) {
	start := time.Now()

	// Step 7 needs EXIF first to resolve taken-at, but FileInfo (step 1)
	// is keyed by taken-at for its date-sharded path, so we extract EXIF
	// once up front and feed its date into FileInfo.Generate.
	exifData, exifErr := p.exif.Extract(sourcePath)
	if exifErr != nil {
		p.logger.WithError(exifErr).Warn("exif extraction failed, continuing with defaults")
	}

	stat, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	takenAt := ResolveTakenAt(exifData, stat.ModTime())

	fi, err := p.store.Generate(sourcePath, takenAt)
	if err != nil {
		return nil, fmt.Errorf("generate file info: %w", err)
	}

	// Step 2: duplicate check by content hash.
	if existing, err := p.images.FindByHash(ctx, fi.Hash); err == nil {
		p.logger.Info("duplicate file, no-op completion")
		if p.metrics != nil {
			p.metrics.IncDuplicatesSkipped()
		}
		return existing, &DuplicateFile{Hash: fi.Hash, ExistingID: existing.ID}
	} else if err != repository.ErrNotFound {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	// Step 3: copy to organized path.
	if err := p.store.CopyToOrganized(sourcePath, fi); err != nil {
		return nil, fmt.Errorf("copy to organized path: %w", err)
	}
	if err := p.store.VerifyIntegrity(ctx, fi); err != nil {
		return nil, fmt.Errorf("verify copied file integrity: %w", err)
	}

	raw, err := os.ReadFile(fi.FullPath)
	if err != nil {
		return nil, fmt.Errorf("read organized file: %w", err)
	}

	// Step 4: parallel extraction, each isolated from the others' failures.
	result := p.extract(ctx, fi, raw, exifData)

	// Step 5: confidence filter on objects already applied in extract().

	// Step 6: screenshot heuristic.
	screenshot := p.screenshotVerdict(fi, result)

	img := &models.Image{
		Hash:               fi.Hash,
		OriginalPath:       sourcePath,
		RelativePath:       fi.RelativePath,
		Size:               fi.Size,
		MimeType:           mimeTypeForExt(filepath.Ext(sourcePath)),
		TakenAt:            takenAt,
		DominantColor:      "#ffffff",
		IsScreenshot:       screenshot.IsScreenshot,
		ScreenshotScore:    screenshot.Score,
		IsAstrophotography: result.astro.IsAstro,
		AstroConfidence:    result.astro.Confidence,
		AstroClassification: result.astro.Classification,
	}
	if result.derived != nil {
		img.Width = result.derived.Width
		img.Height = result.derived.Height
		img.DominantColor = result.derived.DominantColor
	}
	if reasons, err := json.Marshal(screenshot.Reasons); err == nil {
		img.ScreenshotReasons = reasons
	}
	if details, err := json.Marshal(result.astro.Details); err == nil {
		img.AstroDetails = details
	}

	var meta *models.ImageMetadata
	if exifData != nil {
		meta = &models.ImageMetadata{
			CameraMake: NullString(exifData.CameraMake), CameraModel: NullString(exifData.CameraModel),
			Software: NullString(exifData.Software), Lens: NullString(exifData.Lens),
			FocalLength: NullFloatZero(exifData.FocalLength), Aperture: NullFloatZero(exifData.Aperture),
			ShutterSpeed: NullString(exifData.ShutterSpeed), ISO: NullInt(exifData.ISO),
			RawEXIF: exifData.Raw,
		}
		if exifData.HasGPS() {
			img.GPSLat.Valid, img.GPSLat.Float64 = true, *exifData.GPSLat
			img.GPSLon.Valid, img.GPSLon.Float64 = true, *exifData.GPSLon
			if exifData.GPSAltitude != nil {
				img.GPSAltitude.Valid, img.GPSAltitude.Float64 = true, *exifData.GPSAltitude
			}
			meta.GPSDOP = NullFloat(exifData.GPSDOP)
		}
	}

	// Step 8: persist as one logical unit.
	imageID, err := p.images.CreateFull(ctx, img, meta, result.objects, result.faces)
	if err != nil {
		return nil, fmt.Errorf("persist image: %w", err)
	}
	img.ID = imageID

	p.logger.WithFields(map[string]interface{}{
		"image_id": imageID, "hash": fi.Hash, "duration_ms": time.Since(start).Milliseconds(),
	}).Info("image processed")

	if p.metrics != nil {
		p.metrics.ObserveProcessingDuration("image_processing", time.Since(start).Seconds())
		p.metrics.IncJobsProcessed("completed")
		p.metrics.AddFacesDetected(len(result.faces))
	}

	// Step 9: geolocation linking, non-fatal.
	if p.geoLinker != nil && img.HasGPS() {
		var altitude *float64
		if img.GPSAltitude.Valid {
			v := img.GPSAltitude.Float64
			altitude = &v
		}
		if err := p.geoLinker.LinkImage(ctx, imageID, img.GPSLat.Float64, img.GPSLon.Float64, altitude); err != nil {
			p.logger.WithError(err).Warn("geolocation linking failed")
		}
	}

	// Step 10: smart-album processing, non-fatal.
	if p.albumProc != nil {
		if err := p.albumProc.ProcessImage(ctx, imageID); err != nil {
			p.logger.WithError(err).Warn("smart album processing failed")
		}
	}

	return img, nil
}

func (p *Pipeline) extract(ctx context.Context, fi *store.FileInfo, raw []byte, exifData *ExifData) extractionResult {
	var (
		wg      sync.WaitGroup
		result  extractionResult
		derived *Derived
		faces    []models.DetectedFace
		objects  []models.DetectedObject
		astro    AstroResult
		astroErr error
	)
	result.exif = exifData

	wg.Add(1)
	go func() {
		defer wg.Done()
		thumbPath := p.store.ThumbnailPath(fi)
		d, err := p.imageProc.Process(fi.FullPath, thumbPath)
		if err != nil {
			p.logger.WithError(err).Warn("image processing (color/blurhash/thumbnail) failed")
			return
		}
		derived = d
	}()

	if p.faceClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			faces = p.detectAndCropFaces(ctx, fi, raw, exifData)
		}()
	}

	if p.objectClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			objects = p.detectObjects(ctx, fi, raw)
		}()
	}

	if p.cfg.AstroEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutterSeconds, iso := 0.0, 0
			if exifData != nil {
				iso = exifData.ISO
				shutterSeconds = shutterSpeedSeconds(exifData.ShutterSpeed)
			}
			a, err := DetectAstro(fi.FullPath, AstroInput{ShutterSpeedSeconds: shutterSeconds, ISO: iso})
			if err != nil {
				astroErr = err
				return
			}
			astro = a
		}()
	}

	wg.Wait()

	if astroErr != nil {
		p.logger.WithError(astroErr).Debug("astrophotography detection degraded to default (not astro)")
	}

	result.derived = derived
	result.faces = faces
	result.objects = objects
	result.astro = astro
	result.astroErr = astroErr
	return result
}

func (p *Pipeline) detectAndCropFaces(ctx context.Context, fi *store.FileInfo, raw []byte, exifData *ExifData) []models.DetectedFace {
	resp, err := p.faceClient.Detect(ctx, raw, filepath.Base(fi.FullPath))
	if err != nil {
		p.logger.WithError(err).Warn("face detection failed, degrading to no faces")
		return nil
	}

	orientation := 1
	if exifData != nil {
		orientation = exifData.Orientation
	}

	faces := make([]models.DetectedFace, 0, len(resp.Result))
	for i, det := range resp.Result {
		face := models.DetectedFace{
			BBoxXMin: float64(det.Box.XMin), BBoxYMin: float64(det.Box.YMin),
			BBoxXMax: float64(det.Box.XMax), BBoxYMax: float64(det.Box.YMax),
			DetectionConfidence: det.Box.Probability,
			AgeLow:              NullInt(det.Age.Low), AgeHigh: NullInt(det.Age.High),
			GenderValue: NullString(det.Gender.Value), GenderProbability: NullFloatZero(det.Gender.Probability),
		}
		if landmarks, err := json.Marshal(det.Landmarks); err == nil {
			face.Landmarks = landmarks
		}

		destPath := p.store.FacePath(fi, i)
		box := BoundingBox{XMin: float64(det.Box.XMin), YMin: float64(det.Box.YMin), XMax: float64(det.Box.XMax), YMax: float64(det.Box.YMax)}
		if err := p.faceCropper.Crop(fi.FullPath, box, orientation, destPath); err != nil {
			p.logger.WithError(err).Warn("face crop extraction failed for one face, skipping crop path")
		} else {
			face.FaceImagePath = NullString(store.FaceFilename(fi, i))
		}
		faces = append(faces, face)
	}
	return faces
}

func (p *Pipeline) detectObjects(ctx context.Context, fi *store.FileInfo, raw []byte) []models.DetectedObject {
	candidates, err := p.objectClient.Detect(ctx, raw, filepath.Base(fi.FullPath))
	if err != nil {
		p.logger.WithError(err).Warn("object detection failed, degrading to no objects")
		return nil
	}

	objects := make([]models.DetectedObject, 0, len(candidates))
	for _, c := range candidates {
		// Step 5: confidence filter.
		if c.Confidence < p.cfg.ObjectConfidenceMin {
			continue
		}
		objects = append(objects, models.DetectedObject{
			Class: c.Class, Confidence: c.Confidence,
			BBoxXMin: c.BBoxXMin, BBoxYMin: c.BBoxYMin, BBoxXMax: c.BBoxXMax, BBoxYMax: c.BBoxYMax,
		})
	}
	return objects
}

func (p *Pipeline) screenshotVerdict(fi *store.FileInfo, result extractionResult) ScreenshotResult {
	in := ScreenshotInput{
		Filename: fi.HashedFilename,
		MimeType: mimeTypeForExt(filepath.Ext(fi.FullPath)),
	}
	if result.derived != nil {
		in.Width, in.Height = result.derived.Width, result.derived.Height
	}
	if result.exif != nil {
		in.CameraMake, in.CameraModel, in.Software = result.exif.CameraMake, result.exif.CameraModel, result.exif.Software
		in.FocalLength, in.Aperture, in.ISO = result.exif.FocalLength, result.exif.Aperture, result.exif.ISO
	}
	for _, o := range result.objects {
		in.ObjectClasses = append(in.ObjectClasses, o.Class)
	}
	return DetectScreenshot(in)
}

func mimeTypeForExt(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

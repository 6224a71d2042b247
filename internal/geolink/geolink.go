// Package geolink implements the geolocation linker: given an
// image's GPS fix, find the closest reference city within a radius and
// record the link, plus a retroactive scan driver over images that
// still lack one.
package geolink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/lru"
	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/repository"
)

const defaultRadiusMiles = 25.0

// cacheKey buckets lat/lon to ~0.01 degree (roughly 1km) so repeat
// lookups from photos taken moments apart at the same place hit the
// in-process cache instead of round-tripping Postgres.
type cacheKey struct {
	latBucket, lonBucket int64
}

func bucket(lat, lon float64) cacheKey {
	return cacheKey{latBucket: int64(lat * 100), lonBucket: int64(lon * 100)}
}

// Linker resolves GPS fixes to the nearest reference city and persists
// the link, satisfying pipeline.GeoLinker.
type Linker struct {
	geo    *repository.GeoRepo
	images *repository.ImageRepo
	cache  *lru.Cache[cacheKey, *repository.NearestCity]
	radius float64
	logger *logging.Logger
}

type Config struct {
	RadiusMiles float64
	CacheSize   int
}

func New(cfg Config, geo *repository.GeoRepo, images *repository.ImageRepo, log *logging.Logger) *Linker {
	if cfg.RadiusMiles <= 0 {
		cfg.RadiusMiles = defaultRadiusMiles
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	return &Linker{
		geo: geo, images: images, cache: lru.New[cacheKey, *repository.NearestCity](cfg.CacheSize),
		radius: cfg.RadiusMiles, logger: log.WithField("component", "geolink"),
	}
}

// LinkImage resolves (lat, lon) to the nearest city within the
// configured radius and writes an ImageGeolocation. A no city found
// within radius is a no-op, not an error.
func (l *Linker) LinkImage(ctx context.Context, imageID int64, lat, lon float64, altitude *float64) error {
	key := bucket(lat, lon)
	nearest, ok := l.cache.Get(key)
	if !ok {
		n, err := l.geo.Nearest(ctx, lat, lon, l.radius)
		if errors.Is(err, repository.ErrNotFound) {
			l.cache.Set(key, nil)
			return nil
		}
		if err != nil {
			return fmt.Errorf("find nearest city: %w", err)
		}
		nearest = n
		l.cache.Set(key, nearest)
	}
	if nearest == nil {
		return nil
	}

	confidence := 1 - nearest.DistanceMiles/l.radius
	if confidence < 0.1 {
		confidence = 0.1
	}

	return l.images.SetGeolocation(ctx, imageID, nearest.City.ID, confidence, nearest.DistanceMiles, models.DetectionEXIFGPS)
}

// RetroactiveScan drives LinkImage over every image that has a GPS fix
// but no geolocation row yet, in batches, until none remain or ctx is
// cancelled.
func (l *Linker) RetroactiveScan(ctx context.Context, batchSize int) (linked int, err error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	for {
		select {
		case <-ctx.Done():
			return linked, ctx.Err()
		default:
		}

		pending, err := l.images.WithoutGeolocation(ctx, batchSize)
		if err != nil {
			return linked, fmt.Errorf("query pending geolocations: %w", err)
		}
		if len(pending) == 0 {
			return linked, nil
		}

		for _, img := range pending {
			if !img.HasGPS() {
				continue
			}
			var altitude *float64
			if img.GPSAltitude.Valid {
				v := img.GPSAltitude.Float64
				altitude = &v
			}
			if err := l.LinkImage(ctx, img.ID, img.GPSLat.Float64, img.GPSLon.Float64, altitude); err != nil {
				l.logger.WithError(err).WithField("image_id", img.ID).Warn("retroactive geolocation link failed")
				continue
			}
			linked++
		}

		if len(pending) < batchSize {
			return linked, nil
		}
	}
}

// RunPeriodic runs RetroactiveScan on interval until ctx is cancelled.
func (l *Linker) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := l.RetroactiveScan(ctx, 200); err != nil {
				l.logger.WithError(err).Warn("retroactive geolocation scan failed")
			} else if n > 0 {
				l.logger.WithField("linked", n).Info("retroactive geolocation scan linked images")
			}
		}
	}
}

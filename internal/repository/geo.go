package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/storage"
)

// GeoRepo resolves GPS fixes to the nearest reference city using the
// earthdistance/cube extensions wired into the migrations. The
// geolocation linker is the only caller; an in-process internal/lru
// cache sits in front of it to absorb repeat lookups from photos taken
// at the same place.
type GeoRepo struct {
	db *storage.DB
}

func NewGeoRepo(db *storage.DB) *GeoRepo { return &GeoRepo{db: db} }

// NearestCity is GeoRepo.Nearest's result: the closest geo_cities row
// and its great-circle distance from the query point, in miles.
type NearestCity struct {
	City          models.GeoCity
	DistanceMiles float64
}

// Nearest returns the closest reference city to (lat, lon) within
// radiusMiles, or ErrNotFound if nothing is within range. Uses the
// GiST index on ll_to_earth(lat, lon) via earth_box, the standard
// earthdistance pattern for a bounded-radius nearest-neighbor query.
func (r *GeoRepo) Nearest(ctx context.Context, lat, lon, radiusMiles float64) (*NearestCity, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, state_id, name, lat, lon,
		       earth_distance(ll_to_earth($1, $2), ll_to_earth(lat, lon)) / 1609.344 AS distance_miles
		FROM geo_cities
		WHERE earth_box(ll_to_earth($1, $2), $3 * 1609.344) @> ll_to_earth(lat, lon)
		ORDER BY ll_to_earth($1, $2) <-> ll_to_earth(lat, lon)
		LIMIT 1`, lat, lon, radiusMiles)

	var nc NearestCity
	err := row.Scan(&nc.City.ID, &nc.City.StateID, &nc.City.Name, &nc.City.Lat, &nc.City.Lon, &nc.DistanceMiles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("nearest city: %w", err)
	}
	return &nc, nil
}

func (r *GeoRepo) GetState(ctx context.Context, id int64) (*models.GeoState, error) {
	row := r.db.QueryRow(ctx, `SELECT id, country_id, name FROM geo_states WHERE id = $1`, id)
	var s models.GeoState
	err := row.Scan(&s.ID, &s.CountryID, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	return &s, nil
}

func (r *GeoRepo) GetCountry(ctx context.Context, id int64) (*models.GeoCountry, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, code FROM geo_countries WHERE id = $1`, id)
	var c models.GeoCountry
	err := row.Scan(&c.ID, &c.Name, &c.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get country: %w", err)
	}
	return &c, nil
}

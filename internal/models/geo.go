package models

// GeoCountry, GeoState and GeoCity are read-only reference data,
// pre-populated from an external gazetteer and never written by the core.
type GeoCountry struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Code string `db:"code"`
}

type GeoState struct {
	ID        int64  `db:"id"`
	CountryID int64  `db:"country_id"`
	Name      string `db:"name"`
}

type GeoCity struct {
	ID      int64   `db:"id"`
	StateID int64   `db:"state_id"`
	Name    string  `db:"name"`
	Lat     float64 `db:"lat"`
	Lon     float64 `db:"lon"`
}

// DetectionMethod names how an ImageGeolocation link was produced.
type DetectionMethod string

const (
	DetectionEXIFGPS DetectionMethod = "EXIF_GPS"
)

// ImageGeolocation links an Image to the closest reference city found
// within the configured radius.
type ImageGeolocation struct {
	ImageID        int64           `db:"image_id"`
	CityID         int64           `db:"city_id"`
	Confidence     float64         `db:"confidence"`
	DetectionMethod DetectionMethod `db:"detection_method"`
	DistanceMiles  float64         `db:"distance"`
}

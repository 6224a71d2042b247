package smartalbum

import "github.com/openphotoalbum/photo-engine/internal/models"

// ObjectRule backs AlbumObjectBased: an image matches if at least
// MinMatches of its detected objects are in Classes at >= MinConfidence.
type ObjectRule struct {
	Classes       []string `json:"classes"`
	MinConfidence float64  `json:"min_confidence"`
	MinMatches    int      `json:"min_matches"`
}

// PersonRule backs AlbumPersonBased.
type PersonRule struct {
	PersonIDs    []int64 `json:"person_ids"`
	MinFaceCount int     `json:"min_face_count"`
}

// TimeRule backs AlbumTimeBased. Fields are all optional; an unset
// field does not constrain the match. TimeOfDay bounds support
// wrap-around (e.g. "22:00"-"04:00" spans midnight). Anniversary
// compares month+day only, ignoring year.
type TimeRule struct {
	DateFrom      *string `json:"date_from"`       // RFC3339 date, inclusive
	DateTo        *string `json:"date_to"`         // RFC3339 date, inclusive
	DaysOfWeek    []int   `json:"days_of_week"`    // 0=Sunday .. 6=Saturday
	TimeOfDayFrom *string `json:"time_of_day_from"` // "HH:MM"
	TimeOfDayTo   *string `json:"time_of_day_to"`   // "HH:MM"
	Anniversary   *string `json:"anniversary"`      // "MM-DD"
}

// CharacteristicRule backs AlbumCharacteristic. Each bool pointer is a
// tri-state: nil means "don't care", non-nil enforces that value.
type CharacteristicRule struct {
	IsScreenshot       *bool   `json:"is_screenshot"`
	IsAstrophotography *bool   `json:"is_astrophotography"`
	IsSelfie           *bool   `json:"is_selfie"`
	DominantColorGroup *string `json:"dominant_color_group"`
}

// TechnicalRule backs AlbumTechnicalBased. Substrings are matched
// case-insensitively; a nil range bound is unset, and any non-nil bound
// (including 0) is enforced.
type TechnicalRule struct {
	CameraModelSubstring string   `json:"camera_model_substring"`
	LensSubstring        string   `json:"lens_substring"`
	ISOMin               *int32   `json:"iso_min"`
	ISOMax               *int32   `json:"iso_max"`
	ApertureMin          *float64 `json:"aperture_min"`
	ApertureMax          *float64 `json:"aperture_max"`
}

// CustomRuleSet backs AlbumCustomRule: models.CustomRule entries
// evaluated left to right, combined by each entry's own Operator.
type CustomRuleSet struct {
	Rules []models.CustomRule `json:"rules"`
}

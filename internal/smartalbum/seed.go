package smartalbum

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openphotoalbum/photo-engine/internal/models"
)

// defaultAlbum is one entry of the default system album set, seeded if
// missing at startup.
type defaultAlbum struct {
	name      string
	albumType models.SmartAlbumType
	priority  int
	rules     any
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

func defaultAlbums() []defaultAlbum {
	return []defaultAlbum{
		{"Screenshots", models.AlbumCharacteristic, 100, CharacteristicRule{IsScreenshot: boolPtr(true)}},
		{"Astrophotography", models.AlbumCharacteristic, 100, CharacteristicRule{IsAstrophotography: boolPtr(true)}},
		{"Selfies", models.AlbumCharacteristic, 90, CharacteristicRule{IsSelfie: boolPtr(true)}},
		{"Pets", models.AlbumObjectBased, 50, ObjectRule{Classes: []string{"dog", "cat", "bird", "horse"}, MinConfidence: 0.6, MinMatches: 1}},
		{"Food & Drinks", models.AlbumObjectBased, 50, ObjectRule{Classes: []string{"pizza", "cake", "sandwich", "wine glass", "cup", "bowl"}, MinConfidence: 0.6, MinMatches: 1}},
		{"Nature & Outdoors", models.AlbumObjectBased, 40, ObjectRule{Classes: []string{"tree", "mountain", "beach", "flower"}, MinConfidence: 0.55, MinMatches: 1}},
		{"Vehicles", models.AlbumObjectBased, 40, ObjectRule{Classes: []string{"car", "truck", "motorcycle", "bicycle", "airplane", "boat"}, MinConfidence: 0.6, MinMatches: 1}},
		{"Weekend", models.AlbumTimeBased, 10, TimeRule{DaysOfWeek: []int{0, 6}}},
		{"Night", models.AlbumTimeBased, 10, TimeRule{TimeOfDayFrom: strPtr("20:00"), TimeOfDayTo: strPtr("06:00")}},
	}
}

// SeedDefaults creates the default system albums (Screenshots,
// Astrophotography, Selfies, Pets, Food & Drinks, Nature & Outdoors,
// Vehicles, Weekend, Night) if missing, called once at bootstrap.
func (e *Engine) SeedDefaults(ctx context.Context) error {
	for _, a := range defaultAlbums() {
		rules, err := json.Marshal(a.rules)
		if err != nil {
			return fmt.Errorf("marshal default rules for %q: %w", a.name, err)
		}
		if _, err := e.albums.EnsureSystemAlbum(ctx, a.albumType, a.name, rules, a.priority); err != nil {
			return fmt.Errorf("seed default album %q: %w", a.name, err)
		}
	}
	return nil
}

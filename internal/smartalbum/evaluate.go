package smartalbum

import (
	"strconv"
	"strings"
	"time"

	"github.com/openphotoalbum/photo-engine/internal/models"
)

// imageContext bundles everything a rule evaluator needs for one image,
// loaded once per ProcessImage call and shared across every active
// album's evaluation.
type imageContext struct {
	image   *models.Image
	meta    *models.ImageMetadata // nil if the image has no metadata row
	objects []models.DetectedObject
	faces   []models.DetectedFace
}

// selfieFaceAreaFraction is the minimum fraction of frame area a single
// face's bounding box must cover to count as a selfie-style close-up,
// used as a fallback signal since no EXIF field reliably identifies a
// front-facing camera.
const selfieFaceAreaFraction = 0.12

// evaluateObject implements the object_based rule: at least
// rule.MinMatches of the image's detected objects are in rule.Classes
// at or above rule.MinConfidence.
func evaluateObject(rule ObjectRule, objects []models.DetectedObject) (bool, []string) {
	wanted := make(map[string]bool, len(rule.Classes))
	for _, c := range rule.Classes {
		wanted[strings.ToLower(c)] = true
	}

	minMatches := rule.MinMatches
	if minMatches < 1 {
		minMatches = 1
	}

	var reasons []string
	matches := 0
	for _, o := range objects {
		if !wanted[strings.ToLower(o.Class)] {
			continue
		}
		if o.Confidence < rule.MinConfidence {
			continue
		}
		matches++
		reasons = append(reasons, "object:"+o.Class)
	}
	return matches >= minMatches, reasons
}

// evaluatePerson implements the person_based rule: the image contains
// a face assigned to one of rule.PersonIDs, or has at least
// rule.MinFaceCount faces (whichever condition is configured).
func evaluatePerson(rule PersonRule, faces []models.DetectedFace) (bool, []string) {
	wanted := make(map[int64]bool, len(rule.PersonIDs))
	for _, id := range rule.PersonIDs {
		wanted[id] = true
	}

	var reasons []string
	matched := false
	for _, f := range faces {
		if f.PersonID.Valid && wanted[f.PersonID.Int64] {
			matched = true
			reasons = append(reasons, "person:"+strconv.FormatInt(f.PersonID.Int64, 10))
		}
	}

	if len(wanted) > 0 {
		if matched {
			return true, reasons
		}
		if rule.MinFaceCount == 0 {
			return false, nil
		}
	}
	if rule.MinFaceCount > 0 && len(faces) >= rule.MinFaceCount {
		return true, []string{"face_count"}
	}
	return matched, reasons
}

// evaluateTime implements the time_based rule: date range, day-of-week
// set, time-of-day range (with wrap-around past midnight), and
// anniversary (month+day equality) constraints, all optional and
// combined with AND.
func evaluateTime(rule TimeRule, takenAt time.Time) (bool, []string) {
	var reasons []string

	if rule.DateFrom != nil {
		from, err := time.Parse(time.RFC3339, *rule.DateFrom)
		if err == nil && takenAt.Before(from) {
			return false, nil
		}
	}
	if rule.DateTo != nil {
		to, err := time.Parse(time.RFC3339, *rule.DateTo)
		if err == nil && takenAt.After(to) {
			return false, nil
		}
	}
	if len(rule.DaysOfWeek) > 0 {
		ok := false
		for _, d := range rule.DaysOfWeek {
			if time.Weekday(d) == takenAt.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false, nil
		}
		reasons = append(reasons, "day_of_week")
	}
	if rule.TimeOfDayFrom != nil && rule.TimeOfDayTo != nil {
		if !inTimeOfDayRange(*rule.TimeOfDayFrom, *rule.TimeOfDayTo, takenAt) {
			return false, nil
		}
		reasons = append(reasons, "time_of_day")
	}
	if rule.Anniversary != nil {
		if !matchesAnniversary(*rule.Anniversary, takenAt) {
			return false, nil
		}
		reasons = append(reasons, "anniversary")
	}
	return true, reasons
}

// inTimeOfDayRange reports whether t's clock time falls within
// [from, to) given as "HH:MM", supporting a range that wraps past
// midnight (from > to).
func inTimeOfDayRange(from, to string, t time.Time) bool {
	fm, ok1 := parseHHMM(from)
	tm, ok2 := parseHHMM(to)
	if !ok1 || !ok2 {
		return true
	}
	cur := t.Hour()*60 + t.Minute()
	if fm <= tm {
		return cur >= fm && cur < tm
	}
	return cur >= fm || cur < tm
}

func parseHHMM(s string) (minutes int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return h*60 + m, true
}

// matchesAnniversary reports whether t's month and day match "MM-DD".
func matchesAnniversary(monthDay string, t time.Time) bool {
	parts := strings.SplitN(monthDay, "-", 2)
	if len(parts) != 2 {
		return false
	}
	month, err1 := strconv.Atoi(parts[0])
	day, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return false
	}
	return int(t.Month()) == month && t.Day() == day
}

// isSelfie reports whether an image looks like a front-camera selfie.
// No EXIF field reliably distinguishes front- from rear-facing camera,
// so this combines two signals: a camera/lens model string that
// mentions "front" (present on some phone EXIF dumps), or a single
// detected face large enough relative to the frame to suggest a
// close-up self-portrait.
func isSelfie(img *models.Image, meta *models.ImageMetadata, faces []models.DetectedFace) bool {
	if len(faces) == 0 {
		return false
	}
	if meta != nil {
		if containsFold(meta.CameraModel.String, "front") || containsFold(meta.Lens.String, "front") {
			return true
		}
	}
	if len(faces) != 1 || img.Width == 0 || img.Height == 0 {
		return false
	}
	f := faces[0]
	faceArea := (f.BBoxXMax - f.BBoxXMin) * (f.BBoxYMax - f.BBoxYMin)
	frameArea := float64(img.Width * img.Height)
	if frameArea <= 0 {
		return false
	}
	return faceArea/frameArea >= selfieFaceAreaFraction
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// evaluateCharacteristic implements the characteristic rule: each
// configured tri-state flag must match, ANDed together.
func evaluateCharacteristic(rule CharacteristicRule, ctx imageContext) (bool, []string) {
	var reasons []string

	if rule.IsScreenshot != nil {
		if ctx.image.IsScreenshot != *rule.IsScreenshot {
			return false, nil
		}
		reasons = append(reasons, "is_screenshot")
	}
	if rule.IsAstrophotography != nil {
		if ctx.image.IsAstrophotography != *rule.IsAstrophotography {
			return false, nil
		}
		reasons = append(reasons, "is_astrophotography")
	}
	if rule.IsSelfie != nil {
		if isSelfie(ctx.image, ctx.meta, ctx.faces) != *rule.IsSelfie {
			return false, nil
		}
		reasons = append(reasons, "is_selfie")
	}
	if rule.DominantColorGroup != nil {
		group := colorGroupOf(ctx.image.DominantColor)
		if !strings.EqualFold(group, *rule.DominantColorGroup) {
			return false, nil
		}
		reasons = append(reasons, "dominant_color:"+group)
	}
	return true, reasons
}

// evaluateTechnical implements the technical_based rule: camera/lens
// substrings and ISO/aperture ranges, ANDed together. An image with no
// metadata row never matches a technical rule.
func evaluateTechnical(rule TechnicalRule, meta *models.ImageMetadata) (bool, []string) {
	if meta == nil {
		return false, nil
	}

	var reasons []string
	if rule.CameraModelSubstring != "" {
		if !containsFold(meta.CameraModel.String, rule.CameraModelSubstring) {
			return false, nil
		}
		reasons = append(reasons, "camera_model")
	}
	if rule.LensSubstring != "" {
		if !containsFold(meta.Lens.String, rule.LensSubstring) {
			return false, nil
		}
		reasons = append(reasons, "lens")
	}
	if rule.ISOMin != nil || rule.ISOMax != nil {
		if !meta.ISO.Valid {
			return false, nil
		}
		if rule.ISOMin != nil && meta.ISO.Int32 < *rule.ISOMin {
			return false, nil
		}
		if rule.ISOMax != nil && meta.ISO.Int32 > *rule.ISOMax {
			return false, nil
		}
		reasons = append(reasons, "iso")
	}
	if rule.ApertureMin != nil || rule.ApertureMax != nil {
		if !meta.Aperture.Valid {
			return false, nil
		}
		if rule.ApertureMin != nil && meta.Aperture.Float64 < *rule.ApertureMin {
			return false, nil
		}
		if rule.ApertureMax != nil && meta.Aperture.Float64 > *rule.ApertureMax {
			return false, nil
		}
		reasons = append(reasons, "aperture")
	}
	return true, reasons
}

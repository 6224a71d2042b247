package smartalbum

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/openphotoalbum/photo-engine/internal/models"
)

func TestEvaluateObjectRequiresMinMatches(t *testing.T) {
	objects := []models.DetectedObject{
		{Class: "dog", Confidence: 0.9},
		{Class: "cat", Confidence: 0.4},
		{Class: "tree", Confidence: 0.95},
	}
	rule := ObjectRule{Classes: []string{"dog", "cat"}, MinConfidence: 0.6, MinMatches: 2}

	matched, _ := evaluateObject(rule, objects)
	if matched {
		t.Error("expected no match: only 1 of 2 required classes clears MinConfidence")
	}

	rule.MinMatches = 1
	matched, reasons := evaluateObject(rule, objects)
	if !matched {
		t.Fatal("expected match with MinMatches=1")
	}
	if len(reasons) != 1 {
		t.Errorf("reasons = %v, want 1 entry", reasons)
	}
}

func TestEvaluatePersonMatchesByID(t *testing.T) {
	faces := []models.DetectedFace{
		{PersonID: sql.NullInt64{Int64: 7, Valid: true}},
		{PersonID: sql.NullInt64{Int64: 9, Valid: true}},
	}
	rule := PersonRule{PersonIDs: []int64{9}}

	matched, _ := evaluatePerson(rule, faces)
	if !matched {
		t.Error("expected match: face assigned to person 9 present")
	}

	rule = PersonRule{PersonIDs: []int64{99}}
	matched, _ = evaluatePerson(rule, faces)
	if matched {
		t.Error("expected no match: neither face assigned to person 99")
	}
}

func TestEvaluatePersonMinFaceCount(t *testing.T) {
	faces := []models.DetectedFace{{}, {}, {}}
	matched, _ := evaluatePerson(PersonRule{MinFaceCount: 2}, faces)
	if !matched {
		t.Error("expected match: 3 faces >= MinFaceCount 2")
	}
	matched, _ = evaluatePerson(PersonRule{MinFaceCount: 5}, faces)
	if matched {
		t.Error("expected no match: 3 faces < MinFaceCount 5")
	}
}

func TestEvaluateTimeDateRange(t *testing.T) {
	from := "2024-01-01T00:00:00Z"
	to := "2024-12-31T23:59:59Z"
	rule := TimeRule{DateFrom: &from, DateTo: &to}

	inRange := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	if matched, _ := evaluateTime(rule, inRange); !matched {
		t.Error("expected match: date within range")
	}

	outOfRange := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if matched, _ := evaluateTime(rule, outOfRange); matched {
		t.Error("expected no match: date after range")
	}
}

func TestEvaluateTimeWrapAroundTimeOfDay(t *testing.T) {
	from, to := "22:00", "04:00"
	rule := TimeRule{TimeOfDayFrom: &from, TimeOfDayTo: &to}

	atMidnight := time.Date(2024, 6, 15, 0, 30, 0, 0, time.UTC)
	if matched, _ := evaluateTime(rule, atMidnight); !matched {
		t.Error("expected match: 00:30 within wrap-around 22:00-04:00")
	}

	atNoon := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	if matched, _ := evaluateTime(rule, atNoon); matched {
		t.Error("expected no match: noon outside 22:00-04:00")
	}
}

func TestEvaluateTimeAnniversary(t *testing.T) {
	anniversary := "07-04"
	rule := TimeRule{Anniversary: &anniversary}

	match := time.Date(2019, 7, 4, 9, 0, 0, 0, time.UTC)
	if matched, _ := evaluateTime(rule, match); !matched {
		t.Error("expected match: month/day equal, year differs")
	}

	noMatch := time.Date(2019, 7, 5, 9, 0, 0, 0, time.UTC)
	if matched, _ := evaluateTime(rule, noMatch); matched {
		t.Error("expected no match: day differs")
	}
}

func TestIsSelfieByCameraModel(t *testing.T) {
	img := &models.Image{Width: 100, Height: 100}
	meta := &models.ImageMetadata{CameraModel: sql.NullString{String: "iPhone Front Camera", Valid: true}}
	faces := []models.DetectedFace{{}}

	if !isSelfie(img, meta, faces) {
		t.Error("expected selfie: camera model mentions front")
	}
}

func TestIsSelfieByLargeSingleFace(t *testing.T) {
	img := &models.Image{Width: 100, Height: 100}
	faces := []models.DetectedFace{{BBoxXMin: 0, BBoxYMin: 0, BBoxXMax: 50, BBoxYMax: 50}}

	if !isSelfie(img, nil, faces) {
		t.Error("expected selfie: single face covers 25% of frame")
	}
}

func TestIsSelfieFalseForMultipleFaces(t *testing.T) {
	img := &models.Image{Width: 100, Height: 100}
	faces := []models.DetectedFace{
		{BBoxXMin: 0, BBoxYMin: 0, BBoxXMax: 50, BBoxYMax: 50},
		{BBoxXMin: 50, BBoxYMin: 50, BBoxXMax: 100, BBoxYMax: 100},
	}

	if isSelfie(img, nil, faces) {
		t.Error("expected no selfie: multiple faces and no front-camera signal")
	}
}

func TestEvaluateTechnicalISORange(t *testing.T) {
	meta := &models.ImageMetadata{ISO: sql.NullInt32{Int32: 800, Valid: true}}
	min, max := int32(400), int32(1600)
	rule := TechnicalRule{ISOMin: &min, ISOMax: &max}

	if matched, _ := evaluateTechnical(rule, meta); !matched {
		t.Error("expected match: ISO 800 within 400-1600")
	}

	meta.ISO.Int32 = 3200
	if matched, _ := evaluateTechnical(rule, meta); matched {
		t.Error("expected no match: ISO 3200 above max")
	}
}

func TestEvaluateTechnicalNilMetadataNeverMatches(t *testing.T) {
	rule := TechnicalRule{CameraModelSubstring: "Canon"}
	if matched, _ := evaluateTechnical(rule, nil); matched {
		t.Error("expected no match: nil metadata")
	}
}

func TestColorGroupOfNearestMatch(t *testing.T) {
	if g := colorGroupOf("#dc141e"); g != "red" {
		t.Errorf("colorGroupOf(#dc141e) = %q, want red", g)
	}
	if g := colorGroupOf("#ffffff"); g != "white" {
		t.Errorf("colorGroupOf(#ffffff) = %q, want white", g)
	}
}

func TestColorGroupOfInvalidHex(t *testing.T) {
	if g := colorGroupOf("not-a-color"); g != "" {
		t.Errorf("colorGroupOf(invalid) = %q, want empty", g)
	}
}

func TestEvaluateCustomChainANDThenOR(t *testing.T) {
	ctx := imageContext{
		image: &models.Image{TakenAt: time.Now()},
		faces: []models.DetectedFace{{}, {}},
	}
	set := CustomRuleSet{Rules: []models.CustomRule{
		{RuleType: customRuleMinFaces, Operator: models.RuleAND, Params: mustJSON(map[string]int{"min_face_count": 1})},
		{RuleType: customRuleMinFaces, Operator: models.RuleOR, Params: mustJSON(map[string]int{"min_face_count": 100})},
	}}

	matched, _ := evaluateCustomChain(set, ctx)
	if !matched {
		t.Error("expected match: first rule true, OR with false second rule stays true")
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

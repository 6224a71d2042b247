package cleanup

import (
	"database/sql"
	"testing"

	"github.com/openphotoalbum/photo-engine/internal/models"
)

func TestShouldRemoveAutoFaceBelowThreshold(t *testing.T) {
	f := models.DetectedFace{DetectionConfidence: 0.99}
	remove, _ := shouldRemoveAutoFace(f, false)
	if !remove {
		t.Error("want removed when person is below the manual-face keep threshold, regardless of confidence")
	}
}

func TestShouldRemoveAutoFaceAboveThresholdHighConfidenceKept(t *testing.T) {
	f := models.DetectedFace{DetectionConfidence: 0.95}
	remove, _ := shouldRemoveAutoFace(f, true)
	if remove {
		t.Error("want kept when above threshold and confidence clears autoFaceKeepConfidence")
	}
}

func TestShouldRemoveAutoFaceAboveThresholdLowConfidenceRemoved(t *testing.T) {
	f := models.DetectedFace{DetectionConfidence: 0.5}
	remove, _ := shouldRemoveAutoFace(f, true)
	if !remove {
		t.Error("want removed when above threshold but confidence below autoFaceKeepConfidence")
	}
}

func TestIsManuallyAssigned(t *testing.T) {
	user := models.DetectedFace{AssignedBy: sql.NullString{String: string(models.AssignedByUser), Valid: true}}
	if !isManuallyAssigned(user) {
		t.Error("want user-assigned face to be manually assigned")
	}
	auto := models.DetectedFace{AssignedBy: sql.NullString{String: string(models.AssignedByAutoRecognition), Valid: true}}
	if isManuallyAssigned(auto) {
		t.Error("want auto-assigned face to not be manually assigned")
	}
}

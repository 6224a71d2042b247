package trainer

import (
	"database/sql"
	"testing"

	"github.com/openphotoalbum/photo-engine/internal/models"
)

func faceWith(assignedBy string) models.DetectedFace {
	if assignedBy == "" {
		return models.DetectedFace{}
	}
	return models.DetectedFace{AssignedBy: sql.NullString{String: assignedBy, Valid: true}}
}

func TestFilterEligibleFacesKeepsOnlyUserAssigned(t *testing.T) {
	faces := []models.DetectedFace{
		faceWith(string(models.AssignedByUser)),
		faceWith(string(models.AssignedByAutoRecognition)),
		faceWith(string(models.AssignedBySystem)),
		faceWith(""),
		faceWith(string(models.AssignedByUser)),
	}

	got := filterEligibleFaces(faces, 0)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestFilterEligibleFacesAppliesCap(t *testing.T) {
	faces := []models.DetectedFace{
		faceWith(string(models.AssignedByUser)),
		faceWith(string(models.AssignedByUser)),
		faceWith(string(models.AssignedByUser)),
	}

	got := filterEligibleFaces(faces, 2)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestFilterEligibleFacesNoCapMeansNoLimit(t *testing.T) {
	faces := []models.DetectedFace{
		faceWith(string(models.AssignedByUser)),
		faceWith(string(models.AssignedByUser)),
	}
	got := filterEligibleFaces(faces, 0)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestTerminalRecognitionStatus(t *testing.T) {
	if got := terminalRecognitionStatus(0); got != models.RecognitionFailed {
		t.Errorf("terminalRecognitionStatus(0) = %v, want failed", got)
	}
	if got := terminalRecognitionStatus(3); got != models.RecognitionTrained {
		t.Errorf("terminalRecognitionStatus(3) = %v, want trained", got)
	}
}

func TestJobSuccessRate(t *testing.T) {
	cases := []struct {
		uploaded, failed int
		want             float64
	}{
		{0, 0, 1.0},
		{4, 0, 1.0},
		{0, 4, 0.0},
		{3, 1, 0.75},
	}
	for _, c := range cases {
		if got := jobSuccessRate(c.uploaded, c.failed); got != c.want {
			t.Errorf("jobSuccessRate(%d, %d) = %v, want %v", c.uploaded, c.failed, got, c.want)
		}
	}
}

func TestJobTerminalStatus(t *testing.T) {
	if got := jobTerminalStatus(0, 3); got != models.TrainingJobFailed {
		t.Errorf("jobTerminalStatus(0, 3) = %v, want failed", got)
	}
	if got := jobTerminalStatus(2, 1); got != models.TrainingJobCompleted {
		t.Errorf("jobTerminalStatus(2, 1) = %v, want completed (partial success still completes)", got)
	}
	if got := jobTerminalStatus(0, 0); got != models.TrainingJobCompleted {
		t.Errorf("jobTerminalStatus(0, 0) = %v, want completed", got)
	}
}

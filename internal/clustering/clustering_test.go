package clustering

import (
	"testing"

	"github.com/openphotoalbum/photo-engine/internal/faceservice"
)

func TestBestMatchPicksHighestSimilarity(t *testing.T) {
	resp := &faceservice.RecognitionResponse{
		Result: []faceservice.RecognitionResult{
			{Subjects: []faceservice.SubjectMatch{
				{Subject: "person-1", Similarity: 0.6},
				{Subject: "person-2", Similarity: 0.93},
			}},
		},
	}

	subject, similarity, ok := bestMatch(resp)
	if !ok {
		t.Fatal("bestMatch: ok = false, want true")
	}
	if subject != "person-2" || similarity != 0.93 {
		t.Errorf("bestMatch = (%q, %v), want (person-2, 0.93)", subject, similarity)
	}
}

func TestBestMatchNoSubjectsNotOK(t *testing.T) {
	resp := &faceservice.RecognitionResponse{Result: []faceservice.RecognitionResult{{}}}
	_, _, ok := bestMatch(resp)
	if ok {
		t.Error("bestMatch with no subjects: ok = true, want false")
	}
}

func TestBestMatchNilResponseNotOK(t *testing.T) {
	_, _, ok := bestMatch(nil)
	if ok {
		t.Error("bestMatch(nil): ok = true, want false")
	}
}

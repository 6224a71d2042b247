// Package cleanup implements the cleanup service: removing
// subjects from the external face-recognition service and resetting
// local sync state, in three modes — comprehensive, per-person, and
// targeted auto-face cleanup.
package cleanup

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/openphotoalbum/photo-engine/internal/faceservice"
	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/repository"
	"github.com/openphotoalbum/photo-engine/internal/store"
)

// autoFaceKeepThreshold is the manually-assigned-face count at which a
// person's auto-assigned faces are kept (filtered by confidence)
// instead of removed outright.
const autoFaceKeepThreshold = 50

// autoFaceKeepConfidence is the minimum detection confidence an
// auto-assigned face must clear to survive cleanup once a person is
// past autoFaceKeepThreshold.
const autoFaceKeepConfidence = 0.9

type Service struct {
	persons    *repository.PersonRepo
	faces      *repository.FaceRepo
	store      *store.Store
	faceClient *faceservice.Client
	logger     *logging.Logger
}

func New(persons *repository.PersonRepo, faces *repository.FaceRepo, st *store.Store, faceClient *faceservice.Client, log *logging.Logger) *Service {
	return &Service{persons: persons, faces: faces, store: st, faceClient: faceClient, logger: log.WithField("component", "cleanup")}
}

// ComprehensiveOptions controls what a full reset touches beyond
// deleting every subject.
type ComprehensiveOptions struct {
	ResetFaceSyncFlags bool
	ResetPersonRefs    bool
	DryRun             bool
}

// Preview is every cleanup operation's result shape: a dry run returns
// counts with no mutation, a live run returns the same counts after
// acting.
type Preview struct {
	SubjectsDeleted int
	FacesReset      int
	PersonsReset    int
	Errors          []string
}

// Comprehensive deletes every subject from the face service and,
// depending on opts, resets local sync state. DryRun computes the
// same counts without deleting or writing anything.
func (s *Service) Comprehensive(ctx context.Context, opts ComprehensiveOptions) (*Preview, error) {
	persons, err := s.persons.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}

	preview := &Preview{}
	for _, p := range persons {
		if p.FaceServiceSubjectID.String == "" {
			continue
		}
		preview.SubjectsDeleted++
		if opts.DryRun {
			continue
		}
		if err := s.faceClient.DeleteSubject(ctx, p.FaceServiceSubjectID.String); err != nil {
			preview.Errors = append(preview.Errors, err.Error())
			continue
		}
	}

	if opts.ResetFaceSyncFlags {
		for _, p := range persons {
			faces, err := s.faces.ByPerson(ctx, p.ID)
			if err != nil {
				preview.Errors = append(preview.Errors, err.Error())
				continue
			}
			synced := 0
			for _, f := range faces {
				if f.CompreFaceSynced {
					synced++
				}
			}
			if synced == 0 {
				continue
			}
			preview.FacesReset += synced
			if opts.DryRun {
				continue
			}
			if err := s.faces.ResetSync(ctx, p.ID); err != nil {
				preview.Errors = append(preview.Errors, err.Error())
			}
		}
	}

	if opts.ResetPersonRefs {
		for _, p := range persons {
			if p.FaceServiceSubjectID.String == "" && !p.LastTrainedAt.Valid {
				continue
			}
			preview.PersonsReset++
			if opts.DryRun {
				continue
			}
			if err := s.persons.SetFaceServiceSubjectID(ctx, p.ID, ""); err != nil {
				preview.Errors = append(preview.Errors, err.Error())
			}
		}
	}

	return preview, nil
}

// PerPerson deletes one person's subject and resets that person's
// references and its faces' sync flags.
func (s *Service) PerPerson(ctx context.Context, personID int64) (*Preview, error) {
	p, err := s.persons.GetByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}

	preview := &Preview{}
	if p.FaceServiceSubjectID.String != "" {
		if err := s.faceClient.DeleteSubject(ctx, p.FaceServiceSubjectID.String); err != nil {
			preview.Errors = append(preview.Errors, err.Error())
		} else {
			preview.SubjectsDeleted = 1
		}
		if err := s.persons.SetFaceServiceSubjectID(ctx, p.ID, ""); err != nil {
			preview.Errors = append(preview.Errors, err.Error())
		}
	}
	if err := s.faces.ResetSync(ctx, p.ID); err != nil {
		preview.Errors = append(preview.Errors, err.Error())
	} else {
		preview.FacesReset = p.FaceCount
		preview.PersonsReset = 1
	}
	return preview, nil
}

// FaceRemoval is one auto-assigned face AutoFaceCleanup decided to
// remove, with the reason it was selected.
type FaceRemoval struct {
	FaceID int64
	Reason string
}

// AutoFaceCleanupPreview is AutoFaceCleanup's result: every candidate
// considered, whether it was removed, and why.
type AutoFaceCleanupPreview struct {
	Removed []FaceRemoval
	Kept    []FaceRemoval
	Errors  []string
}

// AutoFaceCleanup removes synced auto-assigned faces per person
// following the keep policy: a person with >= autoFaceKeepThreshold
// manually-assigned faces keeps auto-assigned faces whose detection
// confidence clears autoFaceKeepConfidence; otherwise every synced
// auto-assigned face is removed.
func (s *Service) AutoFaceCleanup(ctx context.Context, personID int64, dryRun bool) (*AutoFaceCleanupPreview, error) {
	faces, err := s.faces.ByPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("list faces for person: %w", err)
	}

	manualCount := 0
	for _, f := range faces {
		if isManuallyAssigned(f) {
			manualCount++
		}
	}
	keepHighConfidenceOnly := manualCount >= autoFaceKeepThreshold

	preview := &AutoFaceCleanupPreview{}
	for _, f := range faces {
		isAuto := f.AssignedBy.String == string(models.AssignedByAutoRecognition) ||
			f.AssignedBy.String == string(models.AssignedByAutoCompreFace)
		if !isAuto || !f.CompreFaceSynced {
			continue
		}
		remove, reason := shouldRemoveAutoFace(f, keepHighConfidenceOnly)
		item := FaceRemoval{FaceID: f.ID, Reason: reason}
		if !remove {
			preview.Kept = append(preview.Kept, item)
			continue
		}
		preview.Removed = append(preview.Removed, item)
		if dryRun {
			continue
		}
		if err := s.removeFaceFromService(ctx, f); err != nil {
			preview.Errors = append(preview.Errors, err.Error())
		}
	}
	return preview, nil
}

func (s *Service) removeFaceFromService(ctx context.Context, f models.DetectedFace) error {
	imageID := faceServiceImageID(s.store, f)
	if imageID != "" {
		if err := s.faceClient.DeleteFace(ctx, imageID); err != nil {
			return fmt.Errorf("delete service face: %w", err)
		}
	}
	if err := s.faces.ClearSync(ctx, f.ID); err != nil {
		return fmt.Errorf("clear sync flag: %w", err)
	}
	return nil
}

// faceServiceImageID recovers the id the face was uploaded under: the
// face service was given the crop's bare filename ({stem}__face_{i}) at
// upload time, so that filename is also the key used to delete it.
func faceServiceImageID(st *store.Store, f models.DetectedFace) string {
	if f.LegacyFacePath.Valid && f.LegacyFacePath.String != "" {
		return filepath.Base(f.LegacyFacePath.String)
	}
	if f.FaceImagePath.Valid {
		return f.FaceImagePath.String
	}
	return ""
}

func isManuallyAssigned(f models.DetectedFace) bool {
	return f.AssignedBy.Valid && (f.AssignedBy.String == string(models.AssignedByUser) ||
		f.AssignedBy.String == string(models.AssignedByManual))
}

// shouldRemoveAutoFace applies the keep policy to a single auto-assigned
// face.
func shouldRemoveAutoFace(f models.DetectedFace, keepHighConfidenceOnly bool) (remove bool, reason string) {
	if !keepHighConfidenceOnly {
		return true, "person below manual-face threshold: all synced auto-assigned faces removed"
	}
	if f.DetectionConfidence >= autoFaceKeepConfidence {
		return false, fmt.Sprintf("kept: confidence %.2f >= %.2f threshold", f.DetectionConfidence, autoFaceKeepConfidence)
	}
	return true, fmt.Sprintf("removed: confidence %.2f below %.2f threshold", f.DetectionConfidence, autoFaceKeepConfidence)
}

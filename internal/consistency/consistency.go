// Package consistency implements the consistency manager:
// reconciling persons/faces between the database and the external
// face-recognition service, with a full sweep and a cheap single-person
// check.
package consistency

import (
	"context"
	"fmt"
	"os"

	"github.com/openphotoalbum/photo-engine/internal/faceservice"
	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/repository"
	"github.com/openphotoalbum/photo-engine/internal/store"
)

// orphanFactor is the heuristic threshold: a person is "orphaned" on
// the service side when its service-side face count is less than half
// of its local count.
const orphanFactor = 0.5

// quickCheckWarnThreshold is QuickCheck's gap threshold.
const quickCheckWarnThreshold = 2

type Manager struct {
	persons    *repository.PersonRepo
	faces      *repository.FaceRepo
	store      *store.Store
	faceClient *faceservice.Client
	logger     *logging.Logger
}

func New(persons *repository.PersonRepo, faces *repository.FaceRepo, st *store.Store, faceClient *faceservice.Client, log *logging.Logger) *Manager {
	return &Manager{persons: persons, faces: faces, store: st, faceClient: faceClient, logger: log.WithField("component", "consistency")}
}

// SyncResult is the outcome of a person or face sync pass.
type SyncResult struct {
	Created int
	Updated int
	Uploaded int
	Skipped  int
	Errors   []string
}

// SyncPersons ensures every Person has a subject on the face service:
// creates one if Subject is empty or absent from the service's subject
// list, writing the id back.
func (m *Manager) SyncPersons(ctx context.Context) (*SyncResult, error) {
	persons, err := m.persons.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	serviceSubjects, err := m.faceClient.ListSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list face service subjects: %w", err)
	}
	present := make(map[string]bool, len(serviceSubjects))
	for _, s := range serviceSubjects {
		present[s] = true
	}

	result := &SyncResult{}
	for _, p := range persons {
		subjectID := p.FaceServiceSubjectID.String
		if subjectID != "" && present[subjectID] {
			continue
		}
		if subjectID == "" {
			subjectID = fmt.Sprintf("person-%d", p.ID)
		}
		if err := m.faceClient.CreateSubject(ctx, subjectID); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if err := m.persons.SetFaceServiceSubjectID(ctx, p.ID, subjectID); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if p.FaceServiceSubjectID.String == "" {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// SyncFaces uploads every untrained face belonging to a person with an
// assigned subject, skipping faces whose crop file is missing.
func (m *Manager) SyncFaces(ctx context.Context) (*SyncResult, error) {
	persons, err := m.persons.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}

	result := &SyncResult{}
	for _, p := range persons {
		if p.FaceServiceSubjectID.String == "" {
			continue
		}
		untrained, err := m.faces.Untrained(ctx, p.ID)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		for _, f := range untrained {
			path := resolveFacePath(m.store, f)
			if _, err := os.Stat(path); path == "" || err != nil {
				result.Skipped++
				continue
			}
			if _, err := m.faceClient.AddFaceFromPath(ctx, p.FaceServiceSubjectID.String, path); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			if err := m.faces.MarkSynced(ctx, f.ID); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.Uploaded++
		}
	}
	return result, nil
}

func resolveFacePath(st *store.Store, f models.DetectedFace) string {
	if f.LegacyFacePath.Valid && f.LegacyFacePath.String != "" {
		return f.LegacyFacePath.String
	}
	if f.FaceImagePath.Valid && f.FaceImagePath.String != "" {
		return st.ResolveFacePath(f.FaceImagePath.String)
	}
	return ""
}

// Flag is one consistency issue EnsureConsistency found on a person.
type Flag struct {
	PersonID int64
	Kind     string // "missing_compreface_subject" | "orphaned_faces"
	LocalCount   int
	ServiceCount int
}

// Options controls which checks EnsureConsistency runs.
type Options struct {
	CheckPersons bool
	CheckFaces   bool
	AutoRepair   bool
}

// Report is EnsureConsistency's result: every flag found, plus how many
// were auto-repaired if requested.
type Report struct {
	Flags   []Flag
	Repaired int
}

// EnsureConsistency compares DB state against the face service and
// flags missing subjects and orphaned faces (service-side face count
// under half the local count). With AutoRepair, orphans are re-uploaded.
func (m *Manager) EnsureConsistency(ctx context.Context, opts Options) (*Report, error) {
	persons, err := m.persons.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}

	report := &Report{}
	for _, p := range persons {
		if opts.CheckPersons && p.FaceServiceSubjectID.String == "" {
			report.Flags = append(report.Flags, Flag{PersonID: p.ID, Kind: "missing_compreface_subject"})
		}
		if !opts.CheckFaces || p.FaceServiceSubjectID.String == "" {
			continue
		}

		serviceFaces, err := m.faceClient.ListFaces(ctx, p.FaceServiceSubjectID.String)
		if err != nil {
			return nil, fmt.Errorf("list service faces for person %d: %w", p.ID, err)
		}
		if isOrphaned(p.FaceCount, len(serviceFaces)) {
			report.Flags = append(report.Flags, Flag{
				PersonID: p.ID, Kind: "orphaned_faces",
				LocalCount: p.FaceCount, ServiceCount: len(serviceFaces),
			})
			if opts.AutoRepair {
				if err := m.faces.ResetSync(ctx, p.ID); err != nil {
					return nil, fmt.Errorf("reset sync for person %d: %w", p.ID, err)
				}
				if _, err := m.SyncFaces(ctx); err != nil {
					return nil, fmt.Errorf("re-upload orphaned faces for person %d: %w", p.ID, err)
				}
				report.Repaired++
			}
		}
	}
	return report, nil
}

// isOrphaned applies the heuristic: service-side count under half of
// local count, with at least one local face to compare against.
func isOrphaned(localCount, serviceCount int) bool {
	if localCount == 0 {
		return false
	}
	return float64(serviceCount) < float64(localCount)*orphanFactor
}

// QuickCheck warns when a single person's local/service face-count gap
// exceeds the quick-check threshold, without the full sweep's listing
// cost across every person.
func (m *Manager) QuickCheck(ctx context.Context, personID int64) (gap int, warn bool, err error) {
	p, err := m.persons.GetByID(ctx, personID)
	if err != nil {
		return 0, false, fmt.Errorf("get person: %w", err)
	}
	if p.FaceServiceSubjectID.String == "" {
		return p.FaceCount, p.FaceCount > quickCheckWarnThreshold, nil
	}
	serviceFaces, err := m.faceClient.ListFaces(ctx, p.FaceServiceSubjectID.String)
	if err != nil {
		return 0, false, fmt.Errorf("list service faces: %w", err)
	}
	gap = p.FaceCount - len(serviceFaces)
	if gap < 0 {
		gap = -gap
	}
	return gap, gap > quickCheckWarnThreshold, nil
}

// Package clustering generates face clustering and assignment
// suggestions: a two-phase pass over unassigned faces, first
// recognition-based suggestions against known persons, then
// pairwise-verification clustering of whatever's left.
package clustering

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openphotoalbum/photo-engine/internal/faceservice"
	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/repository"
	"github.com/openphotoalbum/photo-engine/internal/store"
)

const (
	minConfidence = 0.8

	verifyCandidateLimit = 20
	clusterMinSize        = 3

	comparisonDelay = 100 * time.Millisecond
	batchDelay      = 300 * time.Millisecond // pause after each seed's round of Verify calls

	quickSampleThreshold   = 1000
	quickSampleSize        = 200
	quickSampleConfidence  = 0.9
)

// Config carries the clustering tunables: maxSuggestionsPerPerson,
// maxClusterSize, the recognition auto-assign threshold, and the
// clustering similarity threshold. New replaces zero values with 50, 30,
// 0.9 and 0.75 respectively.
type Config struct {
	AutoAssignThreshold     float64
	ClusterSimilarityThreshold float64
	MaxSuggestionsPerPerson int
	MaxClusterSize          int
}

// similarityMethod tags every face_similarities row this engine writes;
// the rebuild-clear in ClusterUnknown keys off of it. OrphanSweep does
// not: it deletes orphaned rows of any method.
const similarityMethod = "verify"

type Engine struct {
	cfg          Config
	faces        *repository.FaceRepo
	persons      *repository.PersonRepo
	clusters     *repository.ClusterRepo
	similarities *repository.SimilarityRepo
	store        *store.Store
	faceClient   *faceservice.Client
	logger       *logging.Logger
}

func New(cfg Config, faces *repository.FaceRepo, persons *repository.PersonRepo, clusters *repository.ClusterRepo, similarities *repository.SimilarityRepo, st *store.Store, faceClient *faceservice.Client, log *logging.Logger) *Engine {
	if cfg.MaxSuggestionsPerPerson <= 0 {
		cfg.MaxSuggestionsPerPerson = 50
	}
	if cfg.MaxClusterSize <= 0 {
		cfg.MaxClusterSize = 30
	}
	if cfg.AutoAssignThreshold <= 0 {
		cfg.AutoAssignThreshold = 0.9
	}
	if cfg.ClusterSimilarityThreshold <= 0 {
		cfg.ClusterSimilarityThreshold = 0.75
	}
	return &Engine{cfg: cfg, faces: faces, persons: persons, clusters: clusters, similarities: similarities, store: st, faceClient: faceClient, logger: log.WithField("component", "clustering")}
}

// Suggestion is Phase 1's per-face output.
type Suggestion struct {
	FaceID     int64
	PersonID   int64
	Similarity float64
}

// candidate bundles a face with its crop bytes, loaded once up front.
type candidate struct {
	face  models.DetectedFace
	bytes []byte
}

func (e *Engine) loadCandidates(ctx context.Context) ([]candidate, error) {
	faces, err := e.faces.Unassigned(ctx, minConfidence, 5000)
	if err != nil {
		return nil, fmt.Errorf("load unassigned faces: %w", err)
	}

	var out []candidate
	for _, f := range faces {
		if !f.FaceImagePath.Valid && (!f.LegacyFacePath.Valid || f.LegacyFacePath.String == "") {
			continue
		}
		path := resolveFacePath(e.store, f)
		data, err := os.ReadFile(path)
		if err != nil {
			e.logger.WithError(err).WithField("face_id", f.ID).Debug("skipping face with unreadable crop")
			continue
		}
		out = append(out, candidate{face: f, bytes: data})
	}
	return out, nil
}

func resolveFacePath(st *store.Store, f models.DetectedFace) string {
	if f.LegacyFacePath.Valid && f.LegacyFacePath.String != "" {
		return f.LegacyFacePath.String
	}
	return st.ResolveFacePath(f.FaceImagePath.String)
}

// SuggestKnownPersons is Phase 1: each unassigned face's crop is run
// through Recognize; a result whose best subject match clears
// AutoAssignThreshold is attributed straight to that Person. Results
// are consolidated per person, capped at MaxSuggestionsPerPerson, and
// sorted by similarity descending.
//
// Bounding-box proximity matching (attributing one of several faces a
// whole-image Recognize call returns to the right detected face) is
// unnecessary here: each candidate is already an individual single-face
// crop, so Recognize's one result maps to it directly.
func (e *Engine) SuggestKnownPersons(ctx context.Context) ([]Suggestion, []models.DetectedFace, error) {
	candidates, err := e.loadCandidates(ctx)
	if err != nil {
		return nil, nil, err
	}

	perPerson := map[int64][]Suggestion{}
	var residual []models.DetectedFace

	for _, c := range candidates {
		resp, err := e.faceClient.Recognize(ctx, c.bytes, fmt.Sprintf("face-%d.jpg", c.face.ID))
		if err != nil {
			e.logger.WithError(err).WithField("face_id", c.face.ID).Debug("recognize call failed")
			residual = append(residual, c.face)
			continue
		}

		subject, similarity, ok := bestMatch(resp)
		if !ok || similarity < e.cfg.AutoAssignThreshold {
			residual = append(residual, c.face)
			continue
		}
		person, err := e.persons.FindBySubjectID(ctx, subject)
		if err != nil {
			residual = append(residual, c.face)
			continue
		}

		if err := e.faces.AssignToPerson(ctx, c.face.ID, person.ID, models.AssignedByAutoRecognition, "recognize"); err != nil {
			e.logger.WithError(err).WithField("face_id", c.face.ID).Warn("failed to assign suggested face")
			continue
		}
		perPerson[person.ID] = append(perPerson[person.ID], Suggestion{FaceID: c.face.ID, PersonID: person.ID, Similarity: similarity})
	}

	var all []Suggestion
	for _, sugg := range perPerson {
		sort.Slice(sugg, func(i, j int) bool { return sugg[i].Similarity > sugg[j].Similarity })
		if len(sugg) > e.cfg.MaxSuggestionsPerPerson {
			sugg = sugg[:e.cfg.MaxSuggestionsPerPerson]
		}
		all = append(all, sugg...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Similarity > all[j].Similarity })
	return all, residual, nil
}

// bestMatch returns the highest-similarity subject across every
// detected face in a Recognize response (the client is always called
// with a single-face crop, so in practice there is exactly one).
func bestMatch(resp *faceservice.RecognitionResponse) (subject string, similarity float64, ok bool) {
	if resp == nil {
		return "", 0, false
	}
	for _, result := range resp.Result {
		for _, m := range result.Subjects {
			if !ok || m.Similarity > similarity {
				subject, similarity, ok = m.Subject, m.Similarity, true
			}
		}
	}
	return subject, similarity, ok
}

// ClusterResult is Phase 2's output: one cluster of faces judged to be
// the same unknown identity.
type ClusterResult struct {
	UUID              string
	RepresentativeFaceID int64
	Members           []models.FaceClusterMember
	AverageSimilarity float64
}

// ClusterUnknown is Phase 2: seeds are processed in decreasing
// detection confidence, each verified pairwise against up to
// verifyCandidateLimit remaining faces; matches at or above
// ClusterSimilarityThreshold join the seed's cluster. A cluster is
// only emitted if it reaches clusterMinSize, and never exceeds
// MaxClusterSize members.
func (e *Engine) ClusterUnknown(ctx context.Context, residual []models.DetectedFace) ([]ClusterResult, error) {
	if err := e.similarities.ClearMethod(ctx, similarityMethod); err != nil {
		e.logger.WithError(err).Warn("failed to clear stale face similarities before rebuild")
	}

	sort.Slice(residual, func(i, j int) bool { return residual[i].DetectionConfidence > residual[j].DetectionConfidence })

	byID := make(map[int64][]byte, len(residual))
	for _, f := range residual {
		path := resolveFacePath(e.store, f)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		byID[f.ID] = data
	}

	clustered := make(map[int64]bool, len(residual))
	var results []ClusterResult

	for _, seed := range residual {
		if clustered[seed.ID] {
			continue
		}
		seedBytes, ok := byID[seed.ID]
		if !ok {
			continue
		}

		type match struct {
			face       models.DetectedFace
			similarity float64
		}
		var matches []match
		compared := 0
		for _, candidate := range residual {
			if candidate.ID == seed.ID || clustered[candidate.ID] {
				continue
			}
			if compared >= verifyCandidateLimit {
				break
			}
			candBytes, ok := byID[candidate.ID]
			if !ok {
				continue
			}
			time.Sleep(comparisonDelay)
			resp, err := e.faceClient.Verify(ctx,
				seedBytes, fmt.Sprintf("seed-%d.jpg", seed.ID),
				candBytes, fmt.Sprintf("cand-%d.jpg", candidate.ID))
			compared++
			if err != nil {
				continue
			}
			sim := resp.Similarity()
			if err := e.similarities.Record(ctx, seed.ID, candidate.ID, similarityMethod, sim); err != nil {
				e.logger.WithError(err).Debug("failed to record face similarity")
			}
			if sim >= e.cfg.ClusterSimilarityThreshold {
				matches = append(matches, match{face: candidate, similarity: sim})
			}
		}
		time.Sleep(batchDelay)

		if len(matches)+1 < clusterMinSize {
			continue
		}
		if len(matches) > e.cfg.MaxClusterSize-1 {
			sort.Slice(matches, func(i, j int) bool { return matches[i].similarity > matches[j].similarity })
			matches = matches[:e.cfg.MaxClusterSize-1]
		}

		members := []models.FaceClusterMember{{FaceID: seed.ID, SimilarityToCluster: 1.0, IsRepresentative: true}}
		total := 1.0
		for _, m := range matches {
			members = append(members, models.FaceClusterMember{FaceID: m.face.ID, SimilarityToCluster: m.similarity})
			total += m.similarity
			clustered[m.face.ID] = true
		}
		clustered[seed.ID] = true

		results = append(results, ClusterResult{
			UUID: uuid.NewString(), RepresentativeFaceID: seed.ID,
			Members: members, AverageSimilarity: total / float64(len(members)),
		})
	}
	return results, nil
}

// Persist writes every cluster via ClusterRepo in one pass.
func (e *Engine) Persist(ctx context.Context, results []ClusterResult) error {
	for _, r := range results {
		if _, err := e.clusters.Create(ctx, r.UUID, r.RepresentativeFaceID, r.AverageSimilarity, r.Members); err != nil {
			return fmt.Errorf("persist cluster %s: %w", r.UUID, err)
		}
	}
	return nil
}

// QuickSample reports whether the dataset is large enough to need the
// quick-sample heuristic (> 1000 unassigned faces), and if so, the
// sample this engine would analyze: the most recent quickSampleSize
// faces at confidence >= quickSampleConfidence.
func (e *Engine) QuickSample(ctx context.Context, totalUnassigned int) ([]models.DetectedFace, bool, error) {
	if totalUnassigned <= quickSampleThreshold {
		return nil, false, nil
	}
	sample, err := e.faces.Unassigned(ctx, quickSampleConfidence, quickSampleSize)
	if err != nil {
		return nil, false, fmt.Errorf("load quick sample: %w", err)
	}
	return sample, true, nil
}

// BatchAssign returns up to limit recent unassigned faces whose best
// recognition match is the same subject as personID's, for the "assign
// similar faces after one manual assignment" helper.
func (e *Engine) BatchAssign(ctx context.Context, personID int64, limit int) ([]int64, error) {
	person, err := e.persons.GetByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	if person.FaceServiceSubjectID.String == "" {
		return nil, nil
	}

	candidates, err := e.loadCandidates(ctx)
	if err != nil {
		return nil, err
	}

	var assigned []int64
	for _, c := range candidates {
		if len(assigned) >= limit {
			break
		}
		resp, err := e.faceClient.Recognize(ctx, c.bytes, fmt.Sprintf("face-%d.jpg", c.face.ID))
		if err != nil {
			continue
		}
		subject, similarity, ok := bestMatch(resp)
		if !ok || subject != person.FaceServiceSubjectID.String || similarity < e.cfg.AutoAssignThreshold {
			continue
		}
		if err := e.faces.AssignToPerson(ctx, c.face.ID, person.ID, models.AssignedByAutoRecognition, "batch-assign"); err != nil {
			continue
		}
		assigned = append(assigned, c.face.ID)
	}
	return assigned, nil
}

// OrphanSweep deletes face_similarities rows whose endpoints no longer
// exist.
func (e *Engine) OrphanSweep(ctx context.Context) (int64, error) {
	return e.clusters.PurgeOrphanSimilarities(ctx)
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/storage"
)

// ClusterRepo persists face_clusters/face_cluster_members, the face
// clustering engine's unknown-identity groupings.
type ClusterRepo struct {
	db *storage.DB
}

func NewClusterRepo(db *storage.DB) *ClusterRepo { return &ClusterRepo{db: db} }

// Create inserts a cluster and its members in one transaction.
func (r *ClusterRepo) Create(ctx context.Context, uuid string, representativeFaceID int64, averageSimilarity float64, members []models.FaceClusterMember) (int64, error) {
	var id int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO face_clusters (uuid, representative_face_id, member_count, average_similarity)
			VALUES ($1, $2, $3, $4) RETURNING id`,
			uuid, representativeFaceID, len(members), averageSimilarity).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert cluster: %w", err)
		}
		for _, m := range members {
			if _, err := tx.Exec(ctx, `
				INSERT INTO face_cluster_members (cluster_id, face_id, similarity_to_cluster, is_representative)
				VALUES ($1, $2, $3, $4)`, id, m.FaceID, m.SimilarityToCluster, m.FaceID == representativeFaceID); err != nil {
				return fmt.Errorf("insert cluster member: %w", err)
			}
		}
		return nil
	})
	return id, err
}

// ListUnreviewed returns clusters awaiting human review, newest first.
func (r *ClusterRepo) ListUnreviewed(ctx context.Context) ([]models.FaceCluster, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, uuid, representative_face_id, member_count, average_similarity, reviewed, created_at
		FROM face_clusters WHERE reviewed = false ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list unreviewed clusters: %w", err)
	}
	defer rows.Close()

	var out []models.FaceCluster
	for rows.Next() {
		var c models.FaceCluster
		if err := rows.Scan(&c.ID, &c.UUID, &c.RepresentativeFace, &c.MemberCount, &c.AverageSimilarity, &c.Reviewed, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ClusterRepo) MarkReviewed(ctx context.Context, id int64) error {
	_, err := r.db.Pool().Exec(ctx, `UPDATE face_clusters SET reviewed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark cluster reviewed: %w", err)
	}
	return nil
}

// PurgeOrphanSimilarities deletes face_similarities rows whose endpoint
// faces no longer exist — the periodic orphan sweep.
func (r *ClusterRepo) PurgeOrphanSimilarities(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		DELETE FROM face_similarities fs
		WHERE NOT EXISTS (SELECT 1 FROM detected_faces df WHERE df.id = fs.face_a_id)
		   OR NOT EXISTS (SELECT 1 FROM detected_faces df WHERE df.id = fs.face_b_id)`)
	if err != nil {
		return 0, fmt.Errorf("purge orphan similarities: %w", err)
	}
	return tag.RowsAffected(), nil
}

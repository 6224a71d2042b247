package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/storage"
)

// AlbumRepo persists SmartAlbum definitions and their materialized
// memberships against smart_albums / smart_album_memberships.
type AlbumRepo struct {
	db *storage.DB
}

func NewAlbumRepo(db *storage.DB) *AlbumRepo { return &AlbumRepo{db: db} }

func (r *AlbumRepo) GetByName(ctx context.Context, name string) (*models.SmartAlbum, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, type, name, rules, priority, active, is_system
		FROM smart_albums WHERE name = $1`, name)
	a, err := scanAlbum(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get album by name: %w", err)
	}
	return a, nil
}

// EnsureSystemAlbum creates the named system album with rules if it
// does not already exist; called at bootstrap to seed the default set
// (Screenshots, Astrophotography, Selfies, Pets, ...).
func (r *AlbumRepo) EnsureSystemAlbum(ctx context.Context, albumType models.SmartAlbumType, name string, rules []byte, priority int) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO smart_albums (type, name, rules, priority, active, is_system)
		VALUES ($1,$2,$3,$4,true,true)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, albumType, name, rules, priority).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure system album %q: %w", name, err)
	}
	return id, nil
}

func (r *AlbumRepo) ListActive(ctx context.Context) ([]models.SmartAlbum, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, type, name, rules, priority, active, is_system
		FROM smart_albums WHERE active = true ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list active albums: %w", err)
	}
	defer rows.Close()

	var out []models.SmartAlbum
	for rows.Next() {
		a, err := scanAlbum(rows)
		if err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAlbum(row pgx.Row) (*models.SmartAlbum, error) {
	var a models.SmartAlbum
	if err := row.Scan(&a.ID, &a.Type, &a.Name, &a.Rules, &a.Priority, &a.Active, &a.IsSystem); err != nil {
		return nil, err
	}
	return &a, nil
}

// SetMembership upserts one (album, image) membership fact and keeps
// images.smart_album_count in sync — new membership increments it,
// an unchanged one is a no-op.
func (r *AlbumRepo) SetMembership(ctx context.Context, albumID, imageID int64, confidence float64, reasons []byte) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var wasNew bool
		err := tx.QueryRow(ctx, `
			INSERT INTO smart_album_memberships (album_id, image_id, confidence, reasons)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (album_id, image_id) DO UPDATE SET confidence = EXCLUDED.confidence, reasons = EXCLUDED.reasons
			RETURNING (xmax = 0)`,
			albumID, imageID, confidence, reasons).Scan(&wasNew)
		if err != nil {
			return fmt.Errorf("upsert membership: %w", err)
		}
		if wasNew {
			if _, err := tx.Exec(ctx, `UPDATE images SET smart_album_count = smart_album_count + 1 WHERE id = $1`, imageID); err != nil {
				return fmt.Errorf("increment smart album count: %w", err)
			}
		}
		return nil
	})
}

// RemoveMembership deletes a (album, image) membership if present and
// decrements the image's count.
func (r *AlbumRepo) RemoveMembership(ctx context.Context, albumID, imageID int64) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM smart_album_memberships WHERE album_id = $1 AND image_id = $2`, albumID, imageID)
		if err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if tag.RowsAffected() > 0 {
			if _, err := tx.Exec(ctx, `UPDATE images SET smart_album_count = GREATEST(smart_album_count - 1, 0) WHERE id = $1`, imageID); err != nil {
				return fmt.Errorf("decrement smart album count: %w", err)
			}
		}
		return nil
	})
}

// MembersOf returns every image ID currently in an album, used to
// compute which memberships a re-evaluation pass should remove.
func (r *AlbumRepo) MembersOf(ctx context.Context, albumID int64) (map[int64]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT image_id FROM smart_album_memberships WHERE album_id = $1`, albumID)
	if err != nil {
		return nil, fmt.Errorf("query album members: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Package smartalbum implements the smart-album rule engine: for
// each active album it evaluates one image against the album's typed
// rule and materializes or retracts a membership row, idempotently.
package smartalbum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/repository"
)

// Engine evaluates every active SmartAlbum against one image at a time,
// satisfying pipeline.AlbumProcessor.
type Engine struct {
	albums *repository.AlbumRepo
	images *repository.ImageRepo
	faces  *repository.FaceRepo
	logger *logging.Logger
}

func New(albums *repository.AlbumRepo, images *repository.ImageRepo, faces *repository.FaceRepo, log *logging.Logger) *Engine {
	return &Engine{albums: albums, images: images, faces: faces, logger: log.WithField("component", "smartalbum")}
}

// ProcessImage evaluates every active album against imageID, adding a
// membership row for newly-matching albums and removing one for
// albums the image no longer matches. Re-running against the same
// image yields an identical membership set (idempotent).
func (e *Engine) ProcessImage(ctx context.Context, imageID int64) error {
	img, err := e.images.GetByID(ctx, imageID)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}

	meta, err := e.images.GetMetadata(ctx, imageID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load image metadata: %w", err)
	}
	if errors.Is(err, repository.ErrNotFound) {
		meta = nil
	}

	objects, err := e.images.ObjectsForImage(ctx, imageID)
	if err != nil {
		return fmt.Errorf("load detected objects: %w", err)
	}

	faces, err := e.faces.ByImage(ctx, imageID)
	if err != nil {
		return fmt.Errorf("load detected faces: %w", err)
	}

	ctxImg := imageContext{image: img, meta: meta, objects: objects, faces: faces}

	albums, err := e.albums.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active albums: %w", err)
	}

	for _, album := range albums {
		matched, reasons, err := e.evaluate(album, ctxImg)
		if err != nil {
			e.logger.WithError(err).WithField("album", album.Name).Warn("smart album rule evaluation failed, skipping")
			continue
		}

		if matched {
			payload, _ := json.Marshal(reasons)
			if err := e.albums.SetMembership(ctx, album.ID, imageID, 1.0, payload); err != nil {
				return fmt.Errorf("set membership for album %q: %w", album.Name, err)
			}
		} else if err := e.albums.RemoveMembership(ctx, album.ID, imageID); err != nil {
			return fmt.Errorf("remove membership for album %q: %w", album.Name, err)
		}
	}

	return nil
}

// evaluate decodes album's opaque Rules into the typed shape its Type
// expects and runs the matching evaluator.
func (e *Engine) evaluate(album models.SmartAlbum, ctx imageContext) (bool, []string, error) {
	switch album.Type {
	case models.AlbumObjectBased:
		var rule ObjectRule
		if err := json.Unmarshal(album.Rules, &rule); err != nil {
			return false, nil, fmt.Errorf("decode object rule: %w", err)
		}
		matched, reasons := evaluateObject(rule, ctx.objects)
		return matched, reasons, nil

	case models.AlbumPersonBased:
		var rule PersonRule
		if err := json.Unmarshal(album.Rules, &rule); err != nil {
			return false, nil, fmt.Errorf("decode person rule: %w", err)
		}
		matched, reasons := evaluatePerson(rule, ctx.faces)
		return matched, reasons, nil

	case models.AlbumTimeBased:
		var rule TimeRule
		if err := json.Unmarshal(album.Rules, &rule); err != nil {
			return false, nil, fmt.Errorf("decode time rule: %w", err)
		}
		matched, reasons := evaluateTime(rule, ctx.image.TakenAt)
		return matched, reasons, nil

	case models.AlbumCharacteristic:
		var rule CharacteristicRule
		if err := json.Unmarshal(album.Rules, &rule); err != nil {
			return false, nil, fmt.Errorf("decode characteristic rule: %w", err)
		}
		matched, reasons := evaluateCharacteristic(rule, ctx)
		return matched, reasons, nil

	case models.AlbumTechnicalBased:
		var rule TechnicalRule
		if err := json.Unmarshal(album.Rules, &rule); err != nil {
			return false, nil, fmt.Errorf("decode technical rule: %w", err)
		}
		matched, reasons := evaluateTechnical(rule, ctx.meta)
		return matched, reasons, nil

	case models.AlbumCustomRule:
		var set CustomRuleSet
		if err := json.Unmarshal(album.Rules, &set); err != nil {
			return false, nil, fmt.Errorf("decode custom rule set: %w", err)
		}
		matched, reasons := evaluateCustomChain(set, ctx)
		return matched, reasons, nil

	default:
		return false, nil, fmt.Errorf("unknown album type %q", album.Type)
	}
}

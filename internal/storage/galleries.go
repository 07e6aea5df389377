package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"photogallery/internal/dbx"
	"photogallery/internal/models"
)

// GalleryRepository implements Galleries over a dbx.DBTX.
type GalleryRepository struct {
	db dbx.DBTX
}

func NewGalleryRepository(db dbx.DBTX) *GalleryRepository {
	return &GalleryRepository{db: db}
}

const gallerySelect = `SELECT g.id, g.slug, g.title, g.status, g.cover_image_id, g.watermark_config_id,
	        g.is_public, g.owner_id, g.created_at, g.updated_at, g.published_at,
	        ARRAY(SELECT a.group_id FROM gallery_access_groups a WHERE a.gallery_id = g.id ORDER BY a.group_id)
	 FROM galleries g `

func scanGallery(row interface{ Scan(...any) error }) (*models.Gallery, error) {
	var g models.Gallery
	var status string
	err := row.Scan(&g.ID, &g.Slug, &g.Title, &status, &g.CoverImageID, &g.WatermarkConfigID,
		&g.Public, &g.OwnerID, &g.CreatedAt, &g.UpdatedAt, &g.PublishedAt, pq.Array(&g.GroupIDs))
	if err != nil {
		return nil, err
	}
	g.Status = models.GalleryStatus(status)
	return &g, nil
}

func (r *GalleryRepository) Get(ctx context.Context, id int64) (*models.Gallery, error) {
	const op = "storage.Galleries.Get"

	g, err := scanGallery(r.db.QueryRowContext(ctx, gallerySelect+`WHERE g.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: gallery %d: %w", op, id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}

func (r *GalleryRepository) GetBySlug(ctx context.Context, slug string) (*models.Gallery, error) {
	const op = "storage.Galleries.GetBySlug"

	g, err := scanGallery(r.db.QueryRowContext(ctx, gallerySelect+`WHERE g.slug = $1`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: gallery %q: %w", op, slug, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return g, nil
}

func (r *GalleryRepository) Watermark(ctx context.Context, id int64) (*models.WatermarkConfig, error) {
	const op = "storage.Galleries.Watermark"

	var w models.WatermarkConfig
	var position string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(overlay_key, ''), COALESCE(text, ''), position, opacity
		 FROM watermark_configs WHERE id = $1`, id,
	).Scan(&w.ID, &w.Name, &w.OverlayKey, &w.Text, &position, &w.Opacity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: watermark %d: %w", op, id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	w.Position = models.WatermarkPosition(position)
	return &w, nil
}

func (r *GalleryRepository) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	const op = "storage.Galleries.MarkProcessing"

	res, err := r.db.ExecContext(ctx,
		`UPDATE galleries SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, string(models.GalleryProcessing), string(models.GalleryDraft))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n == 1, nil
}

func (r *GalleryRepository) AdvanceToReview(ctx context.Context, id int64) (bool, error) {
	const op = "storage.Galleries.AdvanceToReview"

	// The row lock taken by UPDATE makes concurrent callers re-check the
	// status predicate, so at most one of them sees a row affected.
	res, err := r.db.ExecContext(ctx,
		`UPDATE galleries SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = ANY($3::text[])
		   AND NOT EXISTS (SELECT 1 FROM images WHERE gallery_id = $1 AND status = ANY($4::text[]))`,
		id, string(models.GalleryReview),
		pq.Array(galleryStatusStrings(reviewableStatuses)),
		pq.Array(imageStatusStrings(models.PendingImageStatuses)))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n == 1, nil
}

func (r *GalleryRepository) Publish(ctx context.Context, id int64, at time.Time) error {
	const op = "storage.Galleries.Publish"

	res, err := r.db.ExecContext(ctx,
		`UPDATE galleries SET status = $2, published_at = COALESCE(published_at, $3), updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, string(models.GalleryPublished), at, string(models.GalleryReview))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return r.checkAffected(ctx, op, id, res)
}

func (r *GalleryRepository) Archive(ctx context.Context, id int64) error {
	const op = "storage.Galleries.Archive"

	res, err := r.db.ExecContext(ctx,
		`UPDATE galleries SET status = $2, updated_at = now() WHERE id = $1 AND status = ANY($3::text[])`,
		id, string(models.GalleryArchived), pq.Array(galleryStatusStrings(archivableStatuses)))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return r.checkAffected(ctx, op, id, res)
}

func (r *GalleryRepository) SetCover(ctx context.Context, galleryID, imageID int64) error {
	const op = "storage.Galleries.SetCover"

	res, err := r.db.ExecContext(ctx,
		`UPDATE galleries SET cover_image_id = $2, updated_at = now()
		 WHERE id = $1 AND EXISTS (
		     SELECT 1 FROM images WHERE id = $2 AND gallery_id = $1 AND status = $3)`,
		galleryID, imageID, string(models.ImageProcessed))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return r.checkAffected(ctx, op, galleryID, res)
}

func (r *GalleryRepository) ClearCover(ctx context.Context, imageID int64) error {
	const op = "storage.Galleries.ClearCover"

	if _, err := r.db.ExecContext(ctx,
		`UPDATE galleries SET cover_image_id = NULL, updated_at = now() WHERE cover_image_id = $1`,
		imageID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *GalleryRepository) checkAffected(ctx context.Context, op string, id int64, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM galleries WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: gallery %d: %w", op, id, models.ErrNotFound)
	}
	return fmt.Errorf("%s: gallery %d: %w", op, id, models.ErrInvalidState)
}

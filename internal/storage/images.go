package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"photogallery/internal/dbx"
	"photogallery/internal/models"
)

const imageColumns = `id, original_filename, original_key, COALESCE(processed_key, ''),
	COALESCE(thumbnail_key, ''), gallery_id, uploader_id, status, created_at`

// ImageRepository implements Images over a dbx.DBTX (*sql.DB or *sql.Tx).
type ImageRepository struct {
	db dbx.DBTX
}

func NewImageRepository(db dbx.DBTX) *ImageRepository {
	return &ImageRepository{db: db}
}

func scanImage(row interface{ Scan(...any) error }) (*models.Image, error) {
	var img models.Image
	var status string
	err := row.Scan(&img.ID, &img.OriginalFilename, &img.OriginalKey, &img.ProcessedKey,
		&img.ThumbnailKey, &img.GalleryID, &img.UploaderID, &status, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	img.Status = models.ImageStatus(status)
	return &img, nil
}

func (r *ImageRepository) Create(ctx context.Context, img *models.Image) error {
	const op = "storage.Images.Create"

	if img.Status == "" {
		img.Status = models.ImageUploadPending
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO images (original_filename, original_key, gallery_id, uploader_id, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		img.OriginalFilename, img.OriginalKey, img.GalleryID, img.UploaderID, string(img.Status),
	).Scan(&img.ID, &img.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *ImageRepository) Get(ctx context.Context, id int64) (*models.Image, error) {
	const op = "storage.Images.Get"

	img, err := scanImage(r.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: image %d: %w", op, id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return img, nil
}

func (r *ImageRepository) Transition(ctx context.Context, id int64, from []models.ImageStatus, to models.ImageStatus) error {
	const op = "storage.Images.Transition"

	res, err := r.db.ExecContext(ctx,
		`UPDATE images SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = ANY($3::text[])`,
		id, string(to), pq.Array(imageStatusStrings(from)))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return r.checkAffected(ctx, op, id, res)
}

func (r *ImageRepository) BeginProcessing(ctx context.Context, id int64) (string, string, error) {
	const op = "storage.Images.BeginProcessing"

	// prev locks the row so the keys returned are exactly the ones cleared.
	var processedKey, thumbnailKey string
	err := r.db.QueryRowContext(ctx,
		`WITH prev AS (
		     SELECT id, processed_key, thumbnail_key FROM images
		     WHERE id = $1 AND status = ANY($3::text[])
		     FOR UPDATE
		 )
		 UPDATE images SET status = $2, processed_key = NULL, thumbnail_key = NULL, updated_at = now()
		 FROM prev WHERE images.id = prev.id
		 RETURNING COALESCE(prev.processed_key, ''), COALESCE(prev.thumbnail_key, '')`,
		id, string(models.ImageProcessing), pq.Array(imageStatusStrings(reprocessableStatuses)),
	).Scan(&processedKey, &thumbnailKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", r.missing(ctx, op, id)
	}
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	return processedKey, thumbnailKey, nil
}

func (r *ImageRepository) ReplaceOriginal(ctx context.Context, id int64, oldKey, newKey string) error {
	const op = "storage.Images.ReplaceOriginal"

	res, err := r.db.ExecContext(ctx,
		`UPDATE images SET original_key = $3, updated_at = now()
		 WHERE id = $1 AND original_key = $2 AND status = ANY($4::text[])`,
		id, oldKey, newKey, pq.Array(imageStatusStrings(models.RotatableImageStatuses)))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return r.checkAffected(ctx, op, id, res)
}

func (r *ImageRepository) Complete(ctx context.Context, id int64, processedKey, thumbnailKey string) error {
	const op = "storage.Images.Complete"

	if processedKey == "" || thumbnailKey == "" {
		return fmt.Errorf("%s: both derivative keys are required: %w", op, models.ErrInvalidInput)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE images SET status = $2, processed_key = $3, thumbnail_key = $4, updated_at = now()
		 WHERE id = $1 AND status = $5`,
		id, string(models.ImageProcessed), processedKey, thumbnailKey, string(models.ImageProcessing))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return r.checkAffected(ctx, op, id, res)
}

func (r *ImageRepository) FindByAssetPath(ctx context.Context, path string) (*models.Image, error) {
	const op = "storage.Images.FindByAssetPath"

	path = strings.TrimLeft(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM images
		 WHERE processed_key LIKE $1 ESCAPE '\' OR thumbnail_key LIKE $1 ESCAPE '\'
		 LIMIT 2`,
		"%"+escapeLike(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var found []*models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		found = append(found, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("%s: %d matches: %w", op, len(found), models.ErrNotFound)
	}
	return found[0], nil
}

func (r *ImageRepository) CountPending(ctx context.Context, galleryID int64) (int, error) {
	const op = "storage.Images.CountPending"

	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM images WHERE gallery_id = $1 AND status = ANY($2::text[])`,
		galleryID, pq.Array(imageStatusStrings(models.PendingImageStatuses)),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (r *ImageRepository) Delete(ctx context.Context, id int64) error {
	const op = "storage.Images.Delete"

	res, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: image %d: %w", op, id, models.ErrNotFound)
	}
	return nil
}

// checkAffected turns a zero-row conditional update into ErrNotFound or
// ErrInvalidState depending on whether the row exists.
func (r *ImageRepository) checkAffected(ctx context.Context, op string, id int64, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 1 {
		return nil
	}
	return r.missing(ctx, op, id)
}

func (r *ImageRepository) missing(ctx context.Context, op string, id int64) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM images WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: image %d: %w", op, id, models.ErrNotFound)
	}
	return fmt.Errorf("%s: image %d: %w", op, id, models.ErrInvalidState)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

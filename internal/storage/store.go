package storage

import (
	"context"
	"time"

	"photogallery/internal/models"
)

// Images persists Image rows. Every status change is a conditional update
// scoped to one row; a mismatch on the expected prior status yields
// models.ErrInvalidState, a missing row models.ErrNotFound.
type Images interface {
	Create(ctx context.Context, img *models.Image) error
	Get(ctx context.Context, id int64) (*models.Image, error)
	Transition(ctx context.Context, id int64, from []models.ImageStatus, to models.ImageStatus) error
	// BeginProcessing moves an image into PROCESSING, clears its derivative
	// keys and returns the keys it cleared. Allowed from UPLOADED,
	// PROCESSING, ERROR and PROCESSED.
	BeginProcessing(ctx context.Context, id int64) (processedKey, thumbnailKey string, err error)
	// ReplaceOriginal points the image at newKey if its original is still
	// oldKey and its status is one of models.RotatableImageStatuses.
	ReplaceOriginal(ctx context.Context, id int64, oldKey, newKey string) error
	// Complete stores both derivative keys and moves PROCESSING to PROCESSED.
	Complete(ctx context.Context, id int64, processedKey, thumbnailKey string) error
	// FindByAssetPath resolves a media path by suffix against the processed
	// and thumbnail keys. More than one match is reported as not found.
	FindByAssetPath(ctx context.Context, path string) (*models.Image, error)
	CountPending(ctx context.Context, galleryID int64) (int, error)
	Delete(ctx context.Context, id int64) error
}

// Galleries persists Gallery rows, their access groups and watermark configs.
type Galleries interface {
	Get(ctx context.Context, id int64) (*models.Gallery, error)
	GetBySlug(ctx context.Context, slug string) (*models.Gallery, error)
	Watermark(ctx context.Context, id int64) (*models.WatermarkConfig, error)
	// MarkProcessing moves DRAFT to PROCESSING and reports whether it did.
	MarkProcessing(ctx context.Context, id int64) (bool, error)
	// AdvanceToReview moves DRAFT or PROCESSING to REVIEW when no image of
	// the gallery is pending, and reports whether it did.
	AdvanceToReview(ctx context.Context, id int64) (bool, error)
	Publish(ctx context.Context, id int64, at time.Time) error
	Archive(ctx context.Context, id int64) error
	SetCover(ctx context.Context, galleryID, imageID int64) error
	ClearCover(ctx context.Context, imageID int64) error
}

// Store is the record store used by the processing core.
type Store interface {
	Images() Images
	Galleries() Galleries
	// RemoveImage deletes the image row and any cover reference to it in a
	// single transaction and returns the removed row.
	RemoveImage(ctx context.Context, id int64) (*models.Image, error)
}

var reviewableStatuses = []models.GalleryStatus{models.GalleryDraft, models.GalleryProcessing}

var archivableStatuses = []models.GalleryStatus{
	models.GalleryDraft, models.GalleryProcessing, models.GalleryReview, models.GalleryPublished,
}

var reprocessableStatuses = []models.ImageStatus{
	models.ImageUploaded, models.ImageProcessing, models.ImageError, models.ImageProcessed,
}

func imageStatusStrings(in []models.ImageStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func galleryStatusStrings(in []models.GalleryStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// Package upload implements the two-step direct upload protocol: authorize
// hands out a time-limited storage credential and registers a pending image,
// confirm verifies the bytes landed and queues processing.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"photogallery/internal/metrics"
	"photogallery/internal/models"
	"photogallery/internal/objectstore"
	"photogallery/internal/storage"
)

var allowedContentTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff",
}

type Enqueuer interface {
	Enqueue(ctx context.Context, task models.ProcessTask) error
}

type StatusPublisher interface {
	PublishGalleryStatus(ctx context.Context, g *models.Gallery, status models.GalleryStatus)
}

type Orchestrator struct {
	store   storage.Store
	objects objectstore.Store
	queue   Enqueuer
	events  StatusPublisher
	now     func() time.Time
	log     zerolog.Logger
}

func New(store storage.Store, objects objectstore.Store, queue Enqueuer, events StatusPublisher, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		objects: objects,
		queue:   queue,
		events:  events,
		now:     time.Now,
		log:     log.With().Str("component", "upload").Logger(),
	}
}

// AuthorizeUpload registers a pending image for filename and returns the
// credential the client uses to PUT the bytes straight to storage.
func (o *Orchestrator) AuthorizeUpload(ctx context.Context, filename, contentType string, ownerID int64,
	galleryID *int64) (desc *objectstore.UploadDescriptor, imageID int64, err error) {
	const op = "upload.AuthorizeUpload"
	defer func() { metrics.RecordUploadStep("authorize", err) }()

	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, 0, fmt.Errorf("%s: filename is required: %w", op, models.ErrInvalidInput)
	}
	if ownerID == 0 {
		return nil, 0, fmt.Errorf("%s: %w", op, models.ErrUnauthorized)
	}
	contentType, err = normalizeContentType(contentType)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	if galleryID != nil {
		g, err := o.store.Galleries().Get(ctx, *galleryID)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", op, err)
		}
		if g.OwnerID != ownerID {
			return nil, 0, fmt.Errorf("%s: gallery %d: %w", op, g.ID, models.ErrForbidden)
		}
		if g.Status == models.GalleryArchived {
			return nil, 0, fmt.Errorf("%s: gallery %d is archived: %w", op, g.ID, models.ErrInvalidState)
		}
	}

	key := objectstore.NewOriginalKey(name, o.now())
	desc, err = o.objects.PresignPut(ctx, key, contentType)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	img := &models.Image{
		OriginalFilename: name,
		OriginalKey:      key,
		GalleryID:        galleryID,
		UploaderID:       ownerID,
		Status:           models.ImageUploadPending,
	}
	if err := o.store.Images().Create(ctx, img); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	o.log.Info().Int64("image_id", img.ID).Str("key", key).Int64("uploader_id", ownerID).Msg("upload authorized")
	return desc, img.ID, nil
}

// ConfirmUpload moves a pending image to UPLOADED and queues exactly one
// processing task for it. A second confirm fails with models.ErrInvalidState.
func (o *Orchestrator) ConfirmUpload(ctx context.Context, imageID, callerID int64, batchIndex, batchTotal int) (err error) {
	const op = "upload.ConfirmUpload"
	defer func() { metrics.RecordUploadStep("confirm", err) }()

	if batchIndex < 0 || batchTotal < 0 || batchIndex > batchTotal {
		return fmt.Errorf("%s: batch %d/%d: %w", op, batchIndex, batchTotal, models.ErrInvalidInput)
	}

	img, err := o.store.Images().Get(ctx, imageID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if img.UploaderID != callerID {
		return fmt.Errorf("%s: image %d: %w", op, imageID, models.ErrForbidden)
	}
	if img.Status != models.ImageUploadPending {
		return fmt.Errorf("%s: image %d is %s: %w", op, imageID, img.Status, models.ErrInvalidState)
	}

	size, err := o.objects.Head(ctx, objectstore.Private, img.OriginalKey)
	switch {
	case errors.Is(err, models.ErrNotFound) || (err == nil && size == 0):
		return fmt.Errorf("%s: image %d has no bytes in storage: %w", op, imageID, models.ErrInvalidState)
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}

	pending := []models.ImageStatus{models.ImageUploadPending}
	if err := o.store.Images().Transition(ctx, imageID, pending, models.ImageUploaded); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	task := models.ProcessTask{ImageID: imageID, BatchIndex: batchIndex, BatchTotal: batchTotal}
	if err := o.queue.Enqueue(ctx, task); err != nil {
		// Put the image back so the client can confirm again.
		uploaded := []models.ImageStatus{models.ImageUploaded}
		if rerr := o.store.Images().Transition(ctx, imageID, uploaded, models.ImageUploadPending); rerr != nil {
			o.log.Error().Err(rerr).Int64("image_id", imageID).Msg("revert confirmed image")
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if img.GalleryID != nil {
		o.markGalleryProcessing(ctx, *img.GalleryID)
	}
	o.log.Info().Int64("image_id", imageID).Int64("size", size).Msg("upload confirmed")
	return nil
}

func (o *Orchestrator) markGalleryProcessing(ctx context.Context, galleryID int64) {
	moved, err := o.store.Galleries().MarkProcessing(ctx, galleryID)
	if err != nil {
		o.log.Warn().Err(err).Int64("gallery_id", galleryID).Msg("mark gallery processing")
		return
	}
	if !moved {
		return
	}
	g, err := o.store.Galleries().Get(ctx, galleryID)
	if err != nil {
		o.log.Warn().Err(err).Int64("gallery_id", galleryID).Msg("load gallery")
		return
	}
	o.events.PublishGalleryStatus(ctx, g, models.GalleryProcessing)
}

func normalizeContentType(contentType string) (string, error) {
	m := mimetype.Lookup(strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])))
	if m == nil {
		return "", fmt.Errorf("content type %q: %w", contentType, models.ErrUnsupportedFormat)
	}
	for _, allowed := range allowedContentTypes {
		if m.Is(allowed) {
			return allowed, nil
		}
	}
	return "", fmt.Errorf("content type %q: %w", contentType, models.ErrUnsupportedFormat)
}

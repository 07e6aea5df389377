// Package gallery holds the explicit collaborator actions on galleries and
// images (publish, archive, cover selection, rotation, deletion) and decides
// who may watch a live topic.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"photogallery/internal/models"
	"photogallery/internal/objectstore"
	"photogallery/internal/proxy"
	"photogallery/internal/publisher"
	"photogallery/internal/storage"
)

type StatusPublisher interface {
	PublishGalleryStatus(ctx context.Context, g *models.Gallery, status models.GalleryStatus)
}

type Reconciler interface {
	Reconcile(ctx context.Context, galleryID int64) (bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, task models.ProcessTask) error
}

type Service struct {
	store      storage.Store
	objects    objectstore.Store
	events     StatusPublisher
	reconciler Reconciler
	queue      Enqueuer
	now        func() time.Time
	log        zerolog.Logger
}

func New(store storage.Store, objects objectstore.Store, events StatusPublisher, reconciler Reconciler,
	queue Enqueuer, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		objects:    objects,
		events:     events,
		reconciler: reconciler,
		queue:      queue,
		now:        time.Now,
		log:        log.With().Str("component", "gallery").Logger(),
	}
}

// ImageView is an image as returned to its managers, with proxy URLs in
// place of storage keys.
type ImageView struct {
	models.Image
	ProcessedURL string `json:"processedUrl,omitempty"`
	ThumbURL     string `json:"thumbUrl,omitempty"`
}

func (s *Service) Publish(ctx context.Context, galleryID int64, caller models.Identity) error {
	const op = "gallery.Publish"

	g, err := s.managedGallery(ctx, galleryID, caller)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.Galleries().Publish(ctx, galleryID, s.now().UTC()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info().Int64("gallery_id", galleryID).Int64("user_id", caller.UserID).Msg("gallery published")
	s.events.PublishGalleryStatus(ctx, g, models.GalleryPublished)
	return nil
}

func (s *Service) Archive(ctx context.Context, galleryID int64, caller models.Identity) error {
	const op = "gallery.Archive"

	g, err := s.managedGallery(ctx, galleryID, caller)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.Galleries().Archive(ctx, galleryID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info().Int64("gallery_id", galleryID).Int64("user_id", caller.UserID).Msg("gallery archived")
	s.events.PublishGalleryStatus(ctx, g, models.GalleryArchived)
	return nil
}

// SetCover points the gallery's cover at one of its processed images.
func (s *Service) SetCover(ctx context.Context, galleryID, imageID int64, caller models.Identity) error {
	const op = "gallery.SetCover"

	if _, err := s.managedGallery(ctx, galleryID, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.Galleries().SetCover(ctx, galleryID, imageID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) Image(ctx context.Context, imageID int64, caller models.Identity) (*ImageView, error) {
	const op = "gallery.Image"

	img, _, err := s.managedImage(ctx, imageID, caller)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &ImageView{
		Image:        *img,
		ProcessedURL: proxy.MediaURL(img.ProcessedKey),
		ThumbURL:     proxy.MediaURL(img.ThumbnailKey),
	}, nil
}

// RotateImage queues a clockwise rotation of the image's original followed
// by a reprocessing run.
func (s *Service) RotateImage(ctx context.Context, imageID int64, degrees int, caller models.Identity) error {
	const op = "gallery.RotateImage"

	if degrees%90 != 0 {
		return fmt.Errorf("%s: %d degrees: %w", op, degrees, models.ErrInvalidInput)
	}
	img, _, err := s.managedImage(ctx, imageID, caller)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !slices.Contains(models.RotatableImageStatuses, img.Status) {
		return fmt.Errorf("%s: image %d is %s: %w", op, imageID, img.Status, models.ErrInvalidState)
	}
	task := models.ProcessTask{ImageID: img.ID, Rotate: degrees, SourceKey: img.OriginalKey}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info().Int64("image_id", imageID).Int("degrees", degrees).Msg("rotation queued")
	return nil
}

// DeleteImage removes the row, releases its storage objects and lets the
// owning gallery settle without it.
func (s *Service) DeleteImage(ctx context.Context, imageID int64, caller models.Identity) error {
	const op = "gallery.DeleteImage"

	if _, _, err := s.managedImage(ctx, imageID, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	img, err := s.store.RemoveImage(ctx, imageID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.deleteObject(ctx, objectstore.Private, img.OriginalKey)
	s.deleteObject(ctx, objectstore.Public, img.ProcessedKey)
	s.deleteObject(ctx, objectstore.Public, img.ThumbnailKey)
	s.log.Info().Int64("image_id", imageID).Int64("user_id", caller.UserID).Msg("image deleted")

	if img.GalleryID != nil {
		if _, err := s.reconciler.Reconcile(ctx, *img.GalleryID); err != nil {
			s.log.Error().Err(err).Int64("gallery_id", *img.GalleryID).Msg("reconcile gallery")
		}
	}
	return nil
}

func (s *Service) deleteObject(ctx context.Context, ns objectstore.Namespace, key string) {
	if key == "" {
		return
	}
	if err := s.objects.Delete(ctx, ns, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Str("namespace", string(ns)).Msg("delete object")
	}
}

func (s *Service) managedGallery(ctx context.Context, galleryID int64, caller models.Identity) (*models.Gallery, error) {
	g, err := s.store.Galleries().Get(ctx, galleryID)
	if err != nil {
		return nil, err
	}
	if !CanManageGallery(caller, g) {
		return nil, fmt.Errorf("gallery %d: %w", galleryID, models.ErrForbidden)
	}
	return g, nil
}

func (s *Service) managedImage(ctx context.Context, imageID int64, caller models.Identity) (*models.Image, *models.Gallery, error) {
	img, err := s.store.Images().Get(ctx, imageID)
	if err != nil {
		return nil, nil, err
	}
	var g *models.Gallery
	if img.GalleryID != nil {
		if g, err = s.store.Galleries().Get(ctx, *img.GalleryID); err != nil {
			return nil, nil, err
		}
	}
	if !CanManageImage(caller, img, g) {
		return nil, nil, fmt.Errorf("image %d: %w", imageID, models.ErrForbidden)
	}
	return img, g, nil
}

// AuthorizeTopic decides whether caller may watch a live topic. The global
// and listing topics are open, a user topic belongs to that user only, and
// a gallery topic follows the gallery's visibility.
func (s *Service) AuthorizeTopic(ctx context.Context, topic string, caller models.Identity) error {
	const op = "gallery.AuthorizeTopic"

	if owner, ok := publisher.UserTopicOwner(topic); ok {
		switch {
		case caller.Anonymous():
			return fmt.Errorf("%s: %w", op, models.ErrUnauthorized)
		case caller.UserID != owner:
			return fmt.Errorf("%s: topic of user %d: %w", op, owner, models.ErrForbidden)
		}
		return nil
	}
	key, ok := publisher.GalleryTopicKey(topic)
	if !ok {
		return nil
	}
	g, err := s.galleryByTopicKey(ctx, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !CanWatchGallery(caller, g) {
		return fmt.Errorf("%s: gallery %d: %w", op, g.ID, models.ErrForbidden)
	}
	return nil
}

// galleryByTopicKey resolves a slug, or the id of a gallery without one.
func (s *Service) galleryByTopicKey(ctx context.Context, key string) (*models.Gallery, error) {
	g, err := s.store.Galleries().GetBySlug(ctx, key)
	if !errors.Is(err, models.ErrNotFound) {
		return g, err
	}
	id, perr := strconv.ParseInt(key, 10, 64)
	if perr != nil {
		return nil, err
	}
	g, err = s.store.Galleries().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Slug != "" {
		return nil, fmt.Errorf("gallery %d is watched by slug: %w", id, models.ErrNotFound)
	}
	return g, nil
}

// CanWatchGallery lets managers follow a gallery in any state and everyone
// else once it is published to them.
func CanWatchGallery(caller models.Identity, g *models.Gallery) bool {
	if CanManageGallery(caller, g) {
		return true
	}
	return g.Status == models.GalleryPublished && (g.Public || caller.InAnyGroup(g.GroupIDs))
}

func CanManageGallery(caller models.Identity, g *models.Gallery) bool {
	if caller.Anonymous() {
		return false
	}
	return caller.Staff || caller.UserID == g.OwnerID
}

// CanManageImage allows staff, the uploader and the owning gallery's owner.
func CanManageImage(caller models.Identity, img *models.Image, g *models.Gallery) bool {
	if caller.Anonymous() {
		return false
	}
	if caller.Staff || caller.UserID == img.UploaderID {
		return true
	}
	return g != nil && caller.UserID == g.OwnerID
}

// Package aggregator rolls image processing state up to the owning gallery.
package aggregator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"photogallery/internal/models"
	"photogallery/internal/storage"
)

type StatusPublisher interface {
	PublishGalleryStatus(ctx context.Context, g *models.Gallery, status models.GalleryStatus)
}

type Aggregator struct {
	store  storage.Store
	events StatusPublisher
	log    zerolog.Logger
}

func New(store storage.Store, events StatusPublisher, log zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, events: events, log: log.With().Str("component", "aggregator").Logger()}
}

// Reconcile moves the gallery to REVIEW once none of its images is pending
// and reports whether this call made the transition. It recomputes from
// current rows, so redundant and concurrent calls are safe: the write is
// conditional on DRAFT or PROCESSING and on no pending image, and only one
// caller can win it.
func (a *Aggregator) Reconcile(ctx context.Context, galleryID int64) (bool, error) {
	const op = "aggregator.Reconcile"

	pending, err := a.store.Images().CountPending(ctx, galleryID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if pending > 0 {
		a.log.Debug().Int64("gallery_id", galleryID).Int("pending", pending).Msg("gallery still has pending images")
		return false, nil
	}

	g, err := a.store.Galleries().Get(ctx, galleryID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if g.Status != models.GalleryDraft && g.Status != models.GalleryProcessing {
		return false, nil
	}

	advanced, err := a.store.Galleries().AdvanceToReview(ctx, galleryID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !advanced {
		return false, nil
	}

	g.Status = models.GalleryReview
	a.log.Info().Int64("gallery_id", galleryID).Str("slug", g.Slug).Msg("gallery ready for review")
	a.events.PublishGalleryStatus(ctx, g, models.GalleryReview)
	return true, nil
}

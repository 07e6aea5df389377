// Package publisher fans image progress and gallery status events out to
// live subscribers. Publishing is best effort: failures are logged and
// counted, never returned to the caller.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"photogallery/internal/metrics"
	"photogallery/internal/models"
)

const (
	GlobalTopic  = "galleries_status_updates"
	ListingTopic = "galleries_listing"
)

const publishTimeout = 2 * time.Second

type Publisher struct {
	broker Broker
	log    zerolog.Logger
}

func New(broker Broker, log zerolog.Logger) *Publisher {
	return &Publisher{broker: broker, log: log.With().Str("component", "publisher").Logger()}
}

// PublishImageProgress sends event to its own topic, the global topic and
// the listing topic.
func (p *Publisher) PublishImageProgress(ctx context.Context, event models.ProgressEvent) {
	event.Type = models.EventImageProgress
	topics := []string{GlobalTopic, ListingTopic}
	if event.Topic != "" {
		topics = append([]string{event.Topic}, topics...)
	}
	p.publish(ctx, models.EventImageProgress, event, topics...)
}

// PublishGalleryStatus sends a compact status change to the global topic and
// the gallery's topic.
func (p *Publisher) PublishGalleryStatus(ctx context.Context, g *models.Gallery, status models.GalleryStatus) {
	event := models.GalleryStatusEvent{
		Type:          models.EventGalleryStatus,
		GalleryID:     g.ID,
		StatusCode:    status,
		StatusDisplay: status.Display(),
	}
	p.publish(ctx, models.EventGalleryStatus, event, GlobalTopic, GalleryTopic(g))
}

func (p *Publisher) publish(ctx context.Context, kind string, event any, topics ...string) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Str("kind", kind).Msg("encode event")
		metrics.RecordEvent(kind, err)
		return
	}

	// Detached from the caller so a finished request does not drop the event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for _, topic := range topics {
		err := p.broker.Publish(ctx, topic, payload)
		metrics.RecordEvent(kind, err)
		if err != nil {
			p.log.Warn().Err(err).Str("topic", topic).Str("kind", kind).Msg("publish event")
			continue
		}
		p.log.Debug().Str("topic", topic).Str("kind", kind).Msg("event published")
	}
}

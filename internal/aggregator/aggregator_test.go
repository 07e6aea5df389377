package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photogallery/internal/models"
	"photogallery/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.GalleryStatus
}

func (p *recordingPublisher) PublishGalleryStatus(_ context.Context, _ *models.Gallery, status models.GalleryStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, status)
}

func seedGallery(mem *storage.Memory, status models.GalleryStatus, imageStatuses ...models.ImageStatus) int64 {
	gid := mem.PutGallery(models.Gallery{Slug: "wedding", Status: status, OwnerID: 1})
	for _, s := range imageStatuses {
		mem.PutImage(models.Image{GalleryID: &gid, UploaderID: 1, Status: s})
	}
	return gid
}

func TestReconcile_ErrorsCountAsTerminal(t *testing.T) {
	mem := storage.NewMemory()
	gid := seedGallery(mem, models.GalleryDraft, models.ImageProcessed, models.ImageProcessed, models.ImageError)
	pub := &recordingPublisher{}
	agg := New(mem, pub, zerolog.Nop())

	advanced, err := agg.Reconcile(context.Background(), gid)
	require.NoError(t, err)
	assert.True(t, advanced)

	g, err := mem.Galleries().Get(context.Background(), gid)
	require.NoError(t, err)
	assert.Equal(t, models.GalleryReview, g.Status)
	assert.Equal(t, []models.GalleryStatus{models.GalleryReview}, pub.events)
}

func TestReconcile_PendingImagesBlock(t *testing.T) {
	mem := storage.NewMemory()
	gid := seedGallery(mem, models.GalleryProcessing, models.ImageProcessed, models.ImageProcessing)
	pub := &recordingPublisher{}
	agg := New(mem, pub, zerolog.Nop())

	advanced, err := agg.Reconcile(context.Background(), gid)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Empty(t, pub.events)
}

func TestReconcile_NeverDowngrades(t *testing.T) {
	for _, status := range []models.GalleryStatus{models.GalleryReview, models.GalleryPublished, models.GalleryArchived} {
		t.Run(string(status), func(t *testing.T) {
			mem := storage.NewMemory()
			gid := seedGallery(mem, status, models.ImageError)
			agg := New(mem, &recordingPublisher{}, zerolog.Nop())

			advanced, err := agg.Reconcile(context.Background(), gid)
			require.NoError(t, err)
			assert.False(t, advanced)

			g, err := mem.Galleries().Get(context.Background(), gid)
			require.NoError(t, err)
			assert.Equal(t, status, g.Status)
		})
	}
}

func TestReconcile_MissingGallery(t *testing.T) {
	agg := New(storage.NewMemory(), &recordingPublisher{}, zerolog.Nop())
	_, err := agg.Reconcile(context.Background(), 99)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestReconcile_ConcurrentCallsTransitionOnce(t *testing.T) {
	mem := storage.NewMemory()
	gid := mem.PutGallery(models.Gallery{Slug: "race", Status: models.GalleryProcessing})
	mem.PutImage(models.Image{GalleryID: &gid, Status: models.ImageProcessed})
	last := mem.PutImage(models.Image{GalleryID: &gid, Status: models.ImageProcessing})

	pub := &recordingPublisher{}
	agg := New(mem, pub, zerolog.Nop())

	const callers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			advanced, err := agg.Reconcile(context.Background(), gid)
			assert.NoError(t, err)
			if advanced {
				wins.Add(1)
			}
		}()
	}
	close(start)
	require.NoError(t, mem.Images().Complete(context.Background(), last, "p.jpg", "t.jpg"))
	wg.Wait()

	// Callers that ran before the completion saw a pending image.
	advanced, err := agg.Reconcile(context.Background(), gid)
	require.NoError(t, err)
	if advanced {
		wins.Add(1)
	}

	assert.Equal(t, int32(1), wins.Load())
	assert.Len(t, pub.events, 1)
}

package gallery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photogallery/internal/aggregator"
	"photogallery/internal/models"
	"photogallery/internal/objectstore"
	"photogallery/internal/storage"
)

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []models.GalleryStatus
}

func (p *recordingPublisher) PublishGalleryStatus(_ context.Context, _ *models.Gallery, status models.GalleryStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
}

type taskQueue struct {
	mu    sync.Mutex
	tasks []models.ProcessTask
}

func (q *taskQueue) Enqueue(_ context.Context, task models.ProcessTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

type fixture struct {
	mem     *storage.Memory
	objects *objectstore.Local
	events  *recordingPublisher
	queue   *taskQueue
	svc     *Service
}

var (
	owner    = models.Identity{UserID: 1}
	staff    = models.Identity{UserID: 2, Staff: true}
	stranger = models.Identity{UserID: 3}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	objects, err := objectstore.NewLocal(models.StorageConfig{LocalPath: t.TempDir()}, "secret", zerolog.Nop())
	require.NoError(t, err)
	f := &fixture{mem: storage.NewMemory(), objects: objects, events: &recordingPublisher{}, queue: &taskQueue{}}
	agg := aggregator.New(f.mem, f.events, zerolog.Nop())
	f.svc = New(f.mem, objects, f.events, agg, f.queue, zerolog.Nop())
	f.svc.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) galleryStatus(t *testing.T, id int64) *models.Gallery {
	t.Helper()
	g, err := f.mem.Galleries().Get(context.Background(), id)
	require.NoError(t, err)
	return g
}

func TestPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	review := f.mem.PutGallery(models.Gallery{Slug: "r", Status: models.GalleryReview, OwnerID: 1})
	draft := f.mem.PutGallery(models.Gallery{Slug: "d", Status: models.GalleryDraft, OwnerID: 1})

	require.ErrorIs(t, f.svc.Publish(ctx, review, stranger), models.ErrForbidden)
	require.ErrorIs(t, f.svc.Publish(ctx, draft, owner), models.ErrInvalidState)
	require.NoError(t, f.svc.Publish(ctx, review, owner))

	g := f.galleryStatus(t, review)
	assert.Equal(t, models.GalleryPublished, g.Status)
	require.NotNil(t, g.PublishedAt)
	assert.Equal(t, 2026, g.PublishedAt.Year())
	assert.Equal(t, []models.GalleryStatus{models.GalleryPublished}, f.events.statuses)

	require.ErrorIs(t, f.svc.Publish(ctx, review, owner), models.ErrInvalidState)
	require.ErrorIs(t, f.svc.Publish(ctx, 999, owner), models.ErrNotFound)
}

func TestArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	published := f.mem.PutGallery(models.Gallery{Slug: "p", Status: models.GalleryPublished, OwnerID: 1})

	require.NoError(t, f.svc.Archive(ctx, published, staff))
	assert.Equal(t, models.GalleryArchived, f.galleryStatus(t, published).Status)
	require.ErrorIs(t, f.svc.Archive(ctx, published, staff), models.ErrInvalidState)
	require.ErrorIs(t, f.svc.Archive(ctx, published, models.Identity{}), models.ErrForbidden)
}

func TestSetCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gid := f.mem.PutGallery(models.Gallery{Slug: "c", Status: models.GalleryReview, OwnerID: 1})
	other := f.mem.PutGallery(models.Gallery{Slug: "o", OwnerID: 1})
	ready := f.mem.PutImage(models.Image{GalleryID: &gid, Status: models.ImageProcessed, ProcessedKey: "p", ThumbnailKey: "t"})
	failed := f.mem.PutImage(models.Image{GalleryID: &gid, Status: models.ImageError})
	foreign := f.mem.PutImage(models.Image{GalleryID: &other, Status: models.ImageProcessed, ProcessedKey: "p2", ThumbnailKey: "t2"})

	require.ErrorIs(t, f.svc.SetCover(ctx, gid, failed, owner), models.ErrInvalidState)
	require.ErrorIs(t, f.svc.SetCover(ctx, gid, foreign, owner), models.ErrInvalidState)
	require.ErrorIs(t, f.svc.SetCover(ctx, gid, ready, stranger), models.ErrForbidden)
	require.NoError(t, f.svc.SetCover(ctx, gid, ready, owner))

	g := f.galleryStatus(t, gid)
	require.NotNil(t, g.CoverImageID)
	assert.Equal(t, ready, *g.CoverImageID)
}

func TestDeleteImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gid := f.mem.PutGallery(models.Gallery{Slug: "del", Status: models.GalleryProcessing, OwnerID: 1})
	f.mem.PutImage(models.Image{GalleryID: &gid, UploaderID: 1, Status: models.ImageProcessed, ProcessedKey: "a", ThumbnailKey: "b"})
	stuck := f.mem.PutImage(models.Image{
		GalleryID:   &gid,
		UploaderID:  1,
		Status:      models.ImageProcessing,
		OriginalKey: "2026/10/19/stuck.jpg",
	})
	require.NoError(t, f.objects.Put(ctx, objectstore.Private, "2026/10/19/stuck.jpg", []byte("raw"), ""))

	require.ErrorIs(t, f.svc.DeleteImage(ctx, stuck, stranger), models.ErrForbidden)
	require.NoError(t, f.svc.DeleteImage(ctx, stuck, owner))

	_, err := f.mem.Images().Get(ctx, stuck)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.objects.Head(ctx, objectstore.Private, "2026/10/19/stuck.jpg")
	require.ErrorIs(t, err, models.ErrNotFound)

	// Removing the last pending image lets the gallery reach review.
	assert.Equal(t, models.GalleryReview, f.galleryStatus(t, gid).Status)
}

func TestDeleteImage_ClearsCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gid := f.mem.PutGallery(models.Gallery{Slug: "cov", Status: models.GalleryReview, OwnerID: 1})
	img := f.mem.PutImage(models.Image{GalleryID: &gid, UploaderID: 4, Status: models.ImageProcessed, ProcessedKey: "p", ThumbnailKey: "t"})
	require.NoError(t, f.mem.Galleries().SetCover(ctx, gid, img))

	require.NoError(t, f.svc.DeleteImage(ctx, img, models.Identity{UserID: 4}))
	assert.Nil(t, f.galleryStatus(t, gid).CoverImageID)
}

func TestImageView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mem.PutImage(models.Image{UploaderID: 1, Status: models.ImageProcessed, ProcessedKey: "9/view_x.jpg", ThumbnailKey: "9/thumb_x.jpg"})

	view, err := f.svc.Image(ctx, id, owner)
	require.NoError(t, err)
	assert.Equal(t, "/media/9/view_x.jpg", view.ProcessedURL)
	assert.Equal(t, "/media/9/thumb_x.jpg", view.ThumbURL)

	_, err = f.svc.Image(ctx, id, stranger)
	require.ErrorIs(t, err, models.ErrForbidden)
}

func TestRotateImageQueuesTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mem.PutImage(models.Image{UploaderID: 1, OriginalKey: "2026/10/19/a.jpg", Status: models.ImageProcessed})
	pending := f.mem.PutImage(models.Image{UploaderID: 1, OriginalKey: "2026/10/19/b.jpg", Status: models.ImageUploadPending})

	require.ErrorIs(t, f.svc.RotateImage(ctx, id, 90, stranger), models.ErrForbidden)
	require.ErrorIs(t, f.svc.RotateImage(ctx, id, 45, staff), models.ErrInvalidInput)
	require.ErrorIs(t, f.svc.RotateImage(ctx, pending, 90, owner), models.ErrInvalidState)
	require.NoError(t, f.svc.RotateImage(ctx, id, 90, staff))

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, models.ProcessTask{ImageID: id, Rotate: 90, SourceKey: "2026/10/19/a.jpg"}, f.queue.tasks[0])

	img, err := f.mem.Images().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ImageProcessed, img.Status, "rotation runs in the worker")
	assert.Equal(t, "2026/10/19/a.jpg", img.OriginalKey)
}

func TestAuthorizeTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.PutGallery(models.Gallery{Slug: "open", Status: models.GalleryPublished, Public: true, OwnerID: 1})
	f.mem.PutGallery(models.Gallery{Slug: "club", Status: models.GalleryPublished, OwnerID: 1, GroupIDs: []int64{7}})
	f.mem.PutGallery(models.Gallery{Slug: "draft", Status: models.GalleryProcessing, Public: true, OwnerID: 1})
	noSlug := f.mem.PutGallery(models.Gallery{Status: models.GalleryReview, OwnerID: 1})
	member := models.Identity{UserID: 8, GroupIDs: []int64{7}}
	anonymous := models.Identity{}

	tests := []struct {
		name   string
		topic  string
		caller models.Identity
		want   error
	}{
		{"global is open", "galleries_status_updates", anonymous, nil},
		{"listing is open", "galleries_listing", anonymous, nil},
		{"public published gallery", "gallery_open", anonymous, nil},
		{"group gallery for member", "gallery_club", member, nil},
		{"group gallery for stranger", "gallery_club", stranger, models.ErrForbidden},
		{"unpublished gallery for anonymous", "gallery_draft", anonymous, models.ErrForbidden},
		{"unpublished gallery for owner", "gallery_draft", owner, nil},
		{"unpublished gallery for staff", "gallery_draft", staff, nil},
		{"id topic for owner", fmt.Sprintf("gallery_%d", noSlug), owner, nil},
		{"id topic for stranger", fmt.Sprintf("gallery_%d", noSlug), stranger, models.ErrForbidden},
		{"unknown gallery", "gallery_nowhere", owner, models.ErrNotFound},
		{"own user topic", "gallery_user_3", stranger, nil},
		{"user topic for anonymous", "gallery_user_3", anonymous, models.ErrUnauthorized},
		{"user topic of someone else", "gallery_user_3", owner, models.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.AuthorizeTopic(ctx, tt.topic, tt.caller)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

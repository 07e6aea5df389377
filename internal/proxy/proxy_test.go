package proxy

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photogallery/internal/models"
	"photogallery/internal/objectstore"
	"photogallery/internal/storage"
)

type fixture struct {
	mem     *storage.Memory
	objects *objectstore.Local
	proxy   *Proxy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	objects, err := objectstore.NewLocal(models.StorageConfig{LocalPath: t.TempDir()}, "secret", zerolog.Nop())
	require.NoError(t, err)
	mem := storage.NewMemory()
	return &fixture{mem: mem, objects: objects, proxy: New(mem, objects, zerolog.Nop())}
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// addImage stores a processed image with both derivatives in gallery gid.
func (f *fixture) addImage(t *testing.T, gid *int64, uploader int64) models.Image {
	t.Helper()
	img := models.Image{
		GalleryID:    gid,
		UploaderID:   uploader,
		Status:       models.ImageProcessed,
		OriginalKey:  "2026/10/19/orig.jpg",
		ProcessedKey: "7/view_abc.jpg",
		ThumbnailKey: "7/thumb_abc.jpg",
	}
	img.ID = f.mem.PutImage(img)
	data := jpegBytes(t)
	require.NoError(t, f.objects.Put(context.Background(), objectstore.Public, img.ProcessedKey, data, "image/jpeg"))
	require.NoError(t, f.objects.Put(context.Background(), objectstore.Public, img.ThumbnailKey, data, "image/jpeg"))
	return img
}

func TestServe_AnonymousOnPublicPublishedGallery(t *testing.T) {
	f := newFixture(t)
	gid := f.mem.PutGallery(models.Gallery{Slug: "open", Status: models.GalleryPublished, Public: true, OwnerID: 1})
	img := f.addImage(t, &gid, 1)

	obj, err := f.proxy.Serve(context.Background(), MediaURL(img.ProcessedKey), models.Identity{})
	require.NoError(t, err)
	defer obj.Body.Close()

	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes(t), body)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, int64(len(body)), obj.Size)
}

func TestServe_ThumbnailBySuffix(t *testing.T) {
	f := newFixture(t)
	gid := f.mem.PutGallery(models.Gallery{Slug: "open", Status: models.GalleryPublished, Public: true})
	f.addImage(t, &gid, 1)

	obj, err := f.proxy.Serve(context.Background(), "thumb_abc.jpg", models.Identity{})
	require.NoError(t, err)
	obj.Body.Close()
}

func TestServe_AnonymousOnPrivateGalleryForbidden(t *testing.T) {
	f := newFixture(t)
	gid := f.mem.PutGallery(models.Gallery{Slug: "closed", Status: models.GalleryPublished, OwnerID: 1, GroupIDs: []int64{4}})
	img := f.addImage(t, &gid, 1)

	_, err := f.proxy.Serve(context.Background(), MediaURL(img.ProcessedKey), models.Identity{})
	require.ErrorIs(t, err, models.ErrForbidden)

	obj, err := f.proxy.Serve(context.Background(), MediaURL(img.ProcessedKey), models.Identity{UserID: 9, GroupIDs: []int64{4}})
	require.NoError(t, err)
	obj.Body.Close()
}

func TestServe_MissingPath(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/media/nope.jpg", "", "/media/../etc/passwd"} {
		_, err := f.proxy.Serve(context.Background(), path, models.Identity{Staff: true})
		require.ErrorIs(t, err, models.ErrNotFound, path)
	}
}

func TestServe_DerivativeMissingInStorage(t *testing.T) {
	f := newFixture(t)
	gid := f.mem.PutGallery(models.Gallery{Status: models.GalleryPublished, Public: true})
	f.mem.PutImage(models.Image{GalleryID: &gid, Status: models.ImageProcessed, ProcessedKey: "1/view_x.jpg", ThumbnailKey: "1/thumb_x.jpg"})

	_, err := f.proxy.Serve(context.Background(), "/media/1/view_x.jpg", models.Identity{})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestAllowed(t *testing.T) {
	owner := models.Identity{UserID: 1}
	staff := models.Identity{UserID: 2, Staff: true}
	member := models.Identity{UserID: 3, GroupIDs: []int64{10}}
	stranger := models.Identity{UserID: 4}
	anon := models.Identity{}
	img := &models.Image{UploaderID: 1}

	gallery := func(status models.GalleryStatus, public bool) *models.Gallery {
		return &models.Gallery{Status: status, Public: public, OwnerID: 1, GroupIDs: []int64{10}}
	}

	tests := []struct {
		name    string
		caller  models.Identity
		gallery *models.Gallery
		want    bool
	}{
		{"owner in review", owner, gallery(models.GalleryReview, false), true},
		{"owner in draft", owner, gallery(models.GalleryDraft, false), false},
		{"staff published private", staff, gallery(models.GalleryPublished, false), true},
		{"member published private", member, gallery(models.GalleryPublished, false), true},
		{"member in review", member, gallery(models.GalleryReview, false), false},
		{"stranger published private", stranger, gallery(models.GalleryPublished, false), false},
		{"stranger published public", stranger, gallery(models.GalleryPublished, true), true},
		{"anonymous published public", anon, gallery(models.GalleryPublished, true), true},
		{"anonymous archived public", anon, gallery(models.GalleryArchived, true), false},
		{"uploader unattached", owner, nil, true},
		{"staff unattached", staff, nil, true},
		{"stranger unattached", stranger, nil, false},
		{"anonymous unattached", anon, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(tt.caller, img, tt.gallery))
		})
	}
}

func TestSniff(t *testing.T) {
	data := jpegBytes(t)
	obj := &objectstore.Object{Body: io.NopCloser(bytes.NewReader(data))}
	sniff(obj)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)
	assert.True(t, strings.HasPrefix(MediaURL("/a/b.jpg"), RoutePrefix))
}

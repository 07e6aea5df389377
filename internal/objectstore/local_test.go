package objectstore

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photogallery/internal/models"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(models.StorageConfig{
		LocalPath:    t.TempDir(),
		LocalBaseURL: "http://localhost:8080/",
		PresignTTL:   time.Minute,
	}, "secret", zerolog.Nop())
	require.NoError(t, err)
	return l
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLocal_RequiresPath(t *testing.T) {
	_, err := NewLocal(models.StorageConfig{}, "s", zerolog.Nop())
	require.ErrorIs(t, err, models.ErrConfiguration)
}

func TestLocal_PutGetHeadDelete(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	data := pngBytes(t)

	_, err := l.Head(ctx, Public, "1/view.png")
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, l.Put(ctx, Public, "1/view.png", data, "image/png"))

	size, err := l.Head(ctx, Public, "1/view.png")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	obj, err := l.Get(ctx, Public, "1/view.png")
	require.NoError(t, err)
	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", obj.ContentType)

	require.NoError(t, l.Delete(ctx, Public, "1/view.png"))
	require.NoError(t, l.Delete(ctx, Public, "1/view.png"), "delete is idempotent")

	_, err = l.Get(ctx, Private, "1/view.png")
	require.ErrorIs(t, err, models.ErrNotFound, "namespaces are isolated")
}

func TestLocal_RejectsTraversal(t *testing.T) {
	l := newTestLocal(t)
	err := l.Put(context.Background(), Public, "../escape.jpg", []byte("x"), "")
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestLocal_PresignAndVerify(t *testing.T) {
	l := newTestLocal(t)
	desc, err := l.PresignPut(context.Background(), "2024/05/01/k.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "PUT", desc.Method)
	require.True(t, strings.HasPrefix(desc.URL, "http://localhost:8080"+LocalUploadRoute+"?"))

	u, err := url.Parse(desc.URL)
	require.NoError(t, err)
	q := u.Query()
	require.NoError(t, l.VerifyUpload(q.Get("key"), q.Get("expires"), q.Get("sig")))
	require.ErrorIs(t, l.VerifyUpload("other.jpg", q.Get("expires"), q.Get("sig")), models.ErrStorageAuth)

	l.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.ErrorIs(t, l.VerifyUpload(q.Get("key"), q.Get("expires"), q.Get("sig")), models.ErrStorageAuth)
}

func TestLocal_Receive(t *testing.T) {
	l := newTestLocal(t)
	require.NoError(t, l.Receive(context.Background(), "a/b.jpg", bytes.NewReader([]byte("raw"))))
	size, err := l.Head(context.Background(), Private, "a/b.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

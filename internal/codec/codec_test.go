package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photogallery/internal/models"
)

func solid(w, h int, c color.Color) image.Image {
	return imaging.New(w, h, c)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode_Unsupported(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	require.ErrorIs(t, err, models.ErrUnsupportedFormat)
}

func TestDecode_PNGWithoutExif(t *testing.T) {
	b, err := Decode(encodePNG(t, solid(4, 2, color.Black)))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Orientation)
	assert.Equal(t, 4, b.Image.Bounds().Dx())
}

func TestNormalizeOrientation_Rotates(t *testing.T) {
	src := imaging.New(4, 2, color.Black)
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})

	out := NormalizeOrientation(Bitmap{Image: src, Orientation: 6})
	require.Equal(t, image.Rect(0, 0, 2, 4), out.Image.Bounds())
	assert.Equal(t, 1, out.Orientation)

	r, g, b, _ := out.Image.At(1, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Zero(t, g)
	assert.Zero(t, b)
}

func TestNormalizeOrientation_FlattensAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.Set(1, 1, color.NRGBA{B: 255, A: 255})

	out := NormalizeOrientation(Bitmap{Image: src, Orientation: 1})
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, out.Image.At(0, 0))
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, out.Image.At(1, 1))
}

func TestNormalizeOrientation_ConvertsGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3, 3))
	out := NormalizeOrientation(Bitmap{Image: src, Orientation: 1})
	_, ok := out.Image.(*image.NRGBA)
	assert.True(t, ok)
}

func TestThumbnail(t *testing.T) {
	big := Thumbnail(Bitmap{Image: solid(1000, 500, color.White)}, 300, 300)
	assert.Equal(t, image.Rect(0, 0, 300, 150), big.Image.Bounds())

	small := Thumbnail(Bitmap{Image: solid(100, 50, color.White)}, 300, 300)
	assert.Equal(t, image.Rect(0, 0, 100, 50), small.Image.Bounds(), "never upscales")

	view := Thumbnail(Bitmap{Image: solid(1200, 1200, color.White)}, 800, 600)
	assert.Equal(t, image.Rect(0, 0, 600, 600), view.Image.Bounds())
}

func TestRotate(t *testing.T) {
	b := Bitmap{Image: solid(4, 2, color.White)}

	r, err := Rotate(b, 90)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 4), r.Image.Bounds())

	r, err = Rotate(b, -180)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), r.Image.Bounds())

	_, err = Rotate(b, 45)
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestRotate_Clockwise(t *testing.T) {
	src := imaging.New(4, 2, color.Black)
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})

	r, err := Rotate(Bitmap{Image: src}, 90)
	require.NoError(t, err)
	red, _, _, _ := r.Image.At(1, 0).RGBA()
	assert.Equal(t, uint32(0xffff), red)
}

func TestEncode_RoundTripsDimensions(t *testing.T) {
	data, err := Encode(Bitmap{Image: solid(40, 30, color.White)}, DefaultQuality)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())

	_, err = Encode(Bitmap{}, DefaultQuality)
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

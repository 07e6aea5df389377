package codec

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photogallery/internal/models"
)

var gray = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

func baseBitmap() Bitmap {
	return NormalizeOrientation(Bitmap{Image: solid(1000, 800, gray), Orientation: 1})
}

func redOverlay() Bitmap {
	return Bitmap{Image: solid(50, 50, color.NRGBA{R: 255, A: 255})}
}

func samePixels(t *testing.T, a, b image.Image) {
	t.Helper()
	require.Equal(t, a.Bounds(), b.Bounds())
	for y := a.Bounds().Min.Y; y < a.Bounds().Max.Y; y++ {
		for x := a.Bounds().Min.X; x < a.Bounds().Max.X; x++ {
			if a.At(x, y) != b.At(x, y) {
				t.Fatalf("pixel (%d,%d) differs: %v vs %v", x, y, a.At(x, y), b.At(x, y))
			}
		}
	}
}

func TestApplyWatermark_ZeroOpacityIsIdentity(t *testing.T) {
	base := baseBitmap()
	out := ApplyWatermark(base, redOverlay(), models.PositionBottomRight, 0)
	samePixels(t, base.Image, out.Image)
}

func TestApplyWatermark_FullOpacityAtCorner(t *testing.T) {
	base := baseBitmap()
	out := ApplyWatermark(base, redOverlay(), models.PositionBottomRight, 1)

	// 10% of 1000 wide is a 100x100 mark at (880, 680).
	c := color.NRGBAModel.Convert(out.Image.At(930, 730)).(color.NRGBA)
	assert.InDelta(t, 255, int(c.R), 2)
	assert.InDelta(t, 0, int(c.G), 2)
	assert.Equal(t, uint8(255), c.A)

	assert.Equal(t, gray, color.NRGBAModel.Convert(out.Image.At(870, 730)))
	assert.Equal(t, gray, color.NRGBAModel.Convert(out.Image.At(990, 790)), "margin stays untouched")
	assert.Equal(t, gray, color.NRGBAModel.Convert(out.Image.At(10, 10)))
}

func TestApplyWatermark_Positions(t *testing.T) {
	cases := map[models.WatermarkPosition]image.Point{
		models.PositionTopLeft:    {X: 70, Y: 70},
		models.PositionTopRight:   {X: 930, Y: 70},
		models.PositionBottomLeft: {X: 70, Y: 730},
		models.PositionCenter:     {X: 500, Y: 400},
	}
	for pos, pt := range cases {
		t.Run(string(pos), func(t *testing.T) {
			out := ApplyWatermark(baseBitmap(), redOverlay(), pos, 1)
			c := color.NRGBAModel.Convert(out.Image.At(pt.X, pt.Y)).(color.NRGBA)
			assert.Greater(t, int(c.R), 250)
			assert.Less(t, int(c.G), 5)
		})
	}
}

func TestApplyWatermark_PreservesOverlayAspect(t *testing.T) {
	wide := Bitmap{Image: solid(200, 50, color.NRGBA{R: 255, A: 255})}
	out := ApplyWatermark(baseBitmap(), wide, models.PositionTopLeft, 1)

	// 100x25 mark at (20, 20).
	inside := color.NRGBAModel.Convert(out.Image.At(60, 35)).(color.NRGBA)
	below := color.NRGBAModel.Convert(out.Image.At(60, 60)).(color.NRGBA)
	assert.Greater(t, int(inside.R), 250)
	assert.Equal(t, gray, below)
}

func TestApplyWatermark_DegenerateOverlay(t *testing.T) {
	base := baseBitmap()
	out := ApplyWatermark(base, Bitmap{}, models.PositionCenter, 1)
	samePixels(t, base.Image, out.Image)

	out = ApplyWatermark(base, Bitmap{Image: image.NewNRGBA(image.Rect(0, 0, 0, 10))}, models.PositionCenter, 1)
	samePixels(t, base.Image, out.Image)
}

func TestRenderText(t *testing.T) {
	b, err := RenderText("(c) Studio")
	require.NoError(t, err)
	require.False(t, b.Empty())

	opaque := 0
	bounds := b.Image.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if _, _, _, a := b.Image.At(x, y).RGBA(); a > 0 {
				opaque++
			}
		}
	}
	assert.Positive(t, opaque)
	assert.Greater(t, bounds.Dx(), bounds.Dy())

	_, err = RenderText("")
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

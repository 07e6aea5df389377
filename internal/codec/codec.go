// Package codec holds the pure image transformations used by the pipeline.
// Nothing here performs I/O beyond in-memory buffers.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	"photogallery/internal/models"
)

const (
	DefaultQuality        = 85
	DefaultWatermarkScale = 0.10
	DefaultMargin         = 20
)

// Bitmap is a decoded image plus the EXIF orientation it was stored with.
// Orientation 1 means the pixels are already upright.
type Bitmap struct {
	Image       image.Image
	Orientation int
}

func (b Bitmap) Empty() bool {
	if b.Image == nil {
		return true
	}
	r := b.Image.Bounds()
	return r.Dx() <= 0 || r.Dy() <= 0
}

func Decode(data []byte) (Bitmap, error) {
	const op = "codec.Decode"

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Bitmap{}, fmt.Errorf("%s: %w: %w", op, models.ErrUnsupportedFormat, err)
	}
	b := Bitmap{Image: img, Orientation: readOrientation(data)}
	if b.Empty() {
		return Bitmap{}, fmt.Errorf("%s: empty image: %w", op, models.ErrUnsupportedFormat)
	}
	return b, nil
}

func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// NormalizeOrientation rotates/flips pixels to the intended viewing
// orientation and flattens any transparency onto white, so the result is an
// opaque NRGBA bitmap regardless of the source color model.
func NormalizeOrientation(b Bitmap) Bitmap {
	if b.Empty() {
		return b
	}
	img := applyOrientation(b.Image, b.Orientation)
	bounds := img.Bounds()
	bg := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return Bitmap{Image: imaging.Overlay(bg, img, image.Pt(0, 0), 1.0), Orientation: 1}
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}

// Thumbnail fits b inside maxWidth x maxHeight keeping its aspect ratio.
// Images already within bounds are returned at their own size.
func Thumbnail(b Bitmap, maxWidth, maxHeight int) Bitmap {
	if b.Empty() || maxWidth <= 0 || maxHeight <= 0 {
		return b
	}
	return Bitmap{Image: imaging.Fit(b.Image, maxWidth, maxHeight, imaging.Lanczos), Orientation: b.Orientation}
}

// Rotate turns b clockwise by degrees, which must be a multiple of 90.
func Rotate(b Bitmap, degrees int) (Bitmap, error) {
	const op = "codec.Rotate"

	if degrees%90 != 0 {
		return Bitmap{}, fmt.Errorf("%s: %d degrees: %w", op, degrees, models.ErrInvalidInput)
	}
	var img image.Image
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		img = imaging.Clone(b.Image)
	case 90:
		img = imaging.Rotate270(b.Image)
	case 180:
		img = imaging.Rotate180(b.Image)
	case 270:
		img = imaging.Rotate90(b.Image)
	}
	return Bitmap{Image: img, Orientation: b.Orientation}, nil
}

// Encode writes b as JPEG. Quality is clamped to 1..100.
func Encode(b Bitmap, quality int) ([]byte, error) {
	const op = "codec.Encode"

	if b.Empty() {
		return nil, fmt.Errorf("%s: empty image: %w", op, models.ErrInvalidInput)
	}
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, b.Image, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return buf.Bytes(), nil
}

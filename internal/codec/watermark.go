package codec

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"photogallery/internal/models"
)

type WatermarkOptions struct {
	// Scale is the overlay width as a fraction of the base width.
	Scale  float64
	Margin int
}

var DefaultWatermarkOptions = WatermarkOptions{Scale: DefaultWatermarkScale, Margin: DefaultMargin}

// ApplyWatermark composites overlay onto base with the default scale and margin.
func ApplyWatermark(base, overlay Bitmap, position models.WatermarkPosition, opacity float64) Bitmap {
	return ApplyWatermarkWith(base, overlay, position, opacity, DefaultWatermarkOptions)
}

// ApplyWatermarkWith resizes overlay to opts.Scale of the base width, keeping
// its aspect ratio, and blends it at position with its alpha multiplied by
// opacity. A missing or degenerate overlay leaves base untouched.
func ApplyWatermarkWith(base, overlay Bitmap, position models.WatermarkPosition, opacity float64, opts WatermarkOptions) Bitmap {
	if base.Empty() || overlay.Empty() || opts.Scale <= 0 {
		return base
	}
	opacity = math.Min(math.Max(opacity, 0), 1)

	bw, bh := base.Image.Bounds().Dx(), base.Image.Bounds().Dy()
	width := int(float64(bw) * opts.Scale)
	if width < 1 {
		return base
	}
	mark := imaging.Resize(overlay.Image, width, 0, imaging.Lanczos)
	mw, mh := mark.Bounds().Dx(), mark.Bounds().Dy()
	if mw < 1 || mh < 1 {
		return base
	}

	return Bitmap{
		Image:       imaging.Overlay(base.Image, mark, anchor(position, bw, bh, mw, mh, opts.Margin), opacity),
		Orientation: base.Orientation,
	}
}

func anchor(position models.WatermarkPosition, bw, bh, mw, mh, margin int) image.Point {
	switch position {
	case models.PositionTopLeft:
		return image.Pt(margin, margin)
	case models.PositionTopRight:
		return image.Pt(bw-mw-margin, margin)
	case models.PositionBottomLeft:
		return image.Pt(margin, bh-mh-margin)
	case models.PositionCenter:
		return image.Pt((bw-mw)/2, (bh-mh)/2)
	default:
		return image.Pt(bw-mw-margin, bh-mh-margin)
	}
}

const textSize = 48

// RenderText draws text in white with a soft dark shadow on a transparent
// bitmap sized to fit it, for use as a watermark overlay.
func RenderText(text string) (Bitmap, error) {
	const op = "codec.RenderText"

	if text == "" {
		return Bitmap{}, fmt.Errorf("%s: empty text: %w", op, models.ErrInvalidInput)
	}
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return Bitmap{}, fmt.Errorf("%s: %w", op, err)
	}
	face := truetype.NewFace(f, &truetype.Options{Size: textSize, DPI: 72})
	defer face.Close()

	const pad = 4
	m := face.Metrics()
	width := font.MeasureString(face, text).Ceil() + 2*pad
	height := (m.Ascent + m.Descent).Ceil() + 2*pad
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(textSize)
	c.SetClip(dst.Bounds())
	c.SetDst(dst)
	c.SetHinting(font.HintingFull)

	baseline := pad + m.Ascent.Ceil()
	c.SetSrc(image.NewUniform(color.NRGBA{A: 160}))
	if _, err := c.DrawString(text, freetype.Pt(pad+2, baseline+2)); err != nil {
		return Bitmap{}, fmt.Errorf("%s: %w", op, err)
	}
	c.SetSrc(image.White)
	if _, err := c.DrawString(text, freetype.Pt(pad, baseline)); err != nil {
		return Bitmap{}, fmt.Errorf("%s: %w", op, err)
	}
	return Bitmap{Image: dst, Orientation: 1}, nil
}

package rimage

import (
	"image"

	"github.com/disintegration/imaging"
)

// Overlay composites overlay onto background with source-over semantics,
// honoring the overlay's per-pixel alpha. Background pixels are treated as
// fully opaque regardless of their own alpha channel, so a fully transparent
// overlay pixel leaves the background color untouched.
func Overlay(background image.Image, overlay image.Image) *image.NRGBA {
	bg := imaging.Clone(background)
	for i := 3; i < len(bg.Pix); i += 4 {
		bg.Pix[i] = 0xff
	}
	return imaging.Overlay(bg, overlay, image.Pt(0, 0), 1.0)
}

// Blank returns a zero-initialized (fully transparent black) raster.
func Blank(width, height int) *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, width, height))
}

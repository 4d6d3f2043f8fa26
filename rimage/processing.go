// Package rimage holds the raster types and byte-level image operations used
// by the segmentation pipeline: planar YUV conversion, model-input buffer
// packing, and the scale/composite steps around mask decoding.
package rimage

import (
	"image"

	"github.com/disintegration/imaging"
)

// ScaleFill resizes src to width x height preserving its aspect ratio: the
// image is scaled so the shorter dimension matches the target and the longer
// dimension is center-cropped.
func ScaleFill(src image.Image, width, height int) *image.NRGBA {
	return imaging.Fill(src, width, height, imaging.Center, imaging.Linear)
}

// ImageToUInt8Buffer packs img into an interleaved RGB byte buffer, row-major,
// the layout quantized models expect for their input tensor.
func ImageToUInt8Buffer(img image.Image) []uint8 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]uint8, w*h*3)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i] = uint8(r >> 8)
			out[i+1] = uint8(g >> 8)
			out[i+2] = uint8(b >> 8)
			i += 3
		}
	}
	return out
}

// ImageToFloatBuffer packs img into an interleaved RGB float32 buffer with
// each channel normalized as (v - mean) / stdDev. Float segmentation models
// take mean = stdDev = 127.5, mapping [0,255] onto [-1,1].
func ImageToFloatBuffer(img image.Image, mean, stdDev float32) []float32 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]float32, w*h*3)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i] = (float32(r>>8) - mean) / stdDev
			out[i+1] = (float32(g>>8) - mean) / stdDev
			out[i+2] = (float32(b>>8) - mean) / stdDev
			i += 3
		}
	}
	return out
}

package rimage

import "image"

// YUV420Frame is one planar 4:2:0 frame as handed over by a camera sensor.
// Width and Height describe the luma plane; the chroma planes are subsampled
// by two in each dimension. YRowStride may exceed Width when rows are padded,
// and UVPixelStride accounts for interleaved chroma layouts.
type YUV420Frame struct {
	Y             []byte
	U             []byte
	V             []byte
	Width         int
	Height        int
	YRowStride    int
	UVRowStride   int
	UVPixelStride int
}

// maxFixed is the ceiling of the 1024x fixed-point scale used below.
const maxFixed = 262143

func clampFixed(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxFixed {
		return maxFixed
	}
	return v
}

// ConvertYUV420 converts a planar YUV420 frame into an opaque NRGBA raster of
// the requested dimensions using BT.601 integer arithmetic. A nil frame
// returns a zero-initialized raster rather than an error, so a dropped sensor
// buffer never takes down the frame loop. Planes shorter than their strides
// imply are a programming error on the producer's side and will panic.
func ConvertYUV420(frame *YUV420Frame, width, height int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	if frame == nil {
		return out
	}
	for y := 0; y < height; y++ {
		pY := frame.YRowStride * y
		uvRow := frame.UVRowStride * (y >> 1)
		for x := 0; x < width; x++ {
			pUV := uvRow + (x>>1)*frame.UVPixelStride
			lum := int(frame.Y[pY+x]) - 16
			if lum < 0 {
				lum = 0
			}
			u := int(frame.U[pUV]) - 128
			v := int(frame.V[pUV]) - 128

			r := clampFixed(1192*lum + 1634*v)
			g := clampFixed(1192*lum - 833*v - 400*u)
			b := clampFixed(1192*lum + 2066*u)

			i := out.PixOffset(x, y)
			out.Pix[i] = uint8(r >> 10)
			out.Pix[i+1] = uint8(g >> 10)
			out.Pix[i+2] = uint8(b >> 10)
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

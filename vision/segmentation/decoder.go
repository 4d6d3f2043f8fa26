// Package segmentation turns per-pixel class scores from a segmentation model
// into colorized masks, composited frames, and the set of detected labels.
package segmentation

import (
	"image"
	"image/color"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/segcam/rimage"
)

// DecoderConfig configures a mask decoder. Colors and Labels must be
// index-aligned with the class axis of the score tensor.
type DecoderConfig struct {
	Colors ColorTable
	Labels []string
	// IncludeBackground adds the background class (index 0) to the detected
	// items of every frame. Its color is fully transparent either way, so
	// this only changes the reported label set.
	IncludeBackground bool
}

// A Decoder converts score tensors or class-index maps into rasters.
// Safe for concurrent use; all state is read-only after construction.
type Decoder struct {
	conf   DecoderConfig
	logger golog.Logger
}

// DecodeResult is everything one decode produces: the mask-only raster, the
// mask composited over the (pre-scaled) background, and the distinct labels
// seen in the frame mapped to their display colors.
type DecodeResult struct {
	Mask          *image.NRGBA
	Composite     *image.NRGBA
	DetectedItems map[string]color.NRGBA
}

// NewDecoder validates that the color and label tables line up and returns a
// decoder over them.
func NewDecoder(conf DecoderConfig, logger golog.Logger) (*Decoder, error) {
	if len(conf.Colors) == 0 {
		return nil, errors.New("decoder needs a non-empty color table")
	}
	if len(conf.Colors) != len(conf.Labels) {
		return nil, errors.Errorf(
			"color table has %d entries but label table has %d; they must be index-aligned",
			len(conf.Colors), len(conf.Labels),
		)
	}
	if (conf.Colors[0] != color.NRGBA{}) {
		return nil, errors.New("background color (class 0) must be fully transparent")
	}
	if logger == nil {
		logger = golog.NewLogger("segmentation")
	}
	return &Decoder{conf: conf, logger: logger}, nil
}

// NumClasses returns the length of the class axis this decoder expects.
func (d *Decoder) NumClasses() int {
	return len(d.conf.Colors)
}

// ClassMapFromScores arg-max decodes a flattened height x width x numClasses
// score tensor into a per-pixel class-index map. Ties go to the lower class
// index: replacement requires a strictly greater score.
func (d *Decoder) ClassMapFromScores(scores []float32, width, height int) ([]int, error) {
	numClasses := d.NumClasses()
	if len(scores) != width*height*numClasses {
		return nil, errors.Errorf(
			"score tensor has %d values, expected %d (%dx%dx%d)",
			len(scores), width*height*numClasses, height, width, numClasses,
		)
	}
	classMap := make([]int, width*height)
	for p := 0; p < width*height; p++ {
		base := p * numClasses
		best := 0
		bestScore := scores[base]
		for c := 1; c < numClasses; c++ {
			if s := scores[base+c]; s > bestScore {
				best, bestScore = c, s
			}
		}
		classMap[p] = best
	}
	return classMap, nil
}

// Decode colorizes a per-pixel class-index map and composites it over
// background, which is first scale-and-cropped to the mask's dimensions.
func (d *Decoder) Decode(classMap []int, width, height int, background image.Image) (*DecodeResult, error) {
	if len(classMap) != width*height {
		return nil, errors.Errorf("class map has %d entries, expected %d (%dx%d)",
			len(classMap), width*height, width, height)
	}
	if background == nil {
		return nil, errors.New("cannot composite without a background raster")
	}

	mask := image.NewNRGBA(image.Rect(0, 0, width, height))
	detected := make(map[string]color.NRGBA)
	for p, idx := range classMap {
		if idx < 0 || idx >= d.NumClasses() {
			return nil, errors.Errorf("class index %d at pixel %d out of range [0,%d)", idx, p, d.NumClasses())
		}
		c := d.conf.Colors[idx]
		if idx != 0 || d.conf.IncludeBackground {
			detected[d.conf.Labels[idx]] = c
		}
		i := p * 4
		mask.Pix[i] = c.R
		mask.Pix[i+1] = c.G
		mask.Pix[i+2] = c.B
		mask.Pix[i+3] = c.A
	}

	scaled := rimage.ScaleFill(background, width, height)
	d.logger.Debugw("decoded frame", "width", width, "height", height, "distinct_classes", len(detected))
	return &DecodeResult{
		Mask:          mask,
		Composite:     rimage.Overlay(scaled, mask),
		DetectedItems: detected,
	}, nil
}

// DecodeScores runs arg-max decoding and colorization in one step.
func (d *Decoder) DecodeScores(scores []float32, width, height int, background image.Image) (*DecodeResult, error) {
	classMap, err := d.ClassMapFromScores(scores, width, height)
	if err != nil {
		return nil, err
	}
	return d.Decode(classMap, width, height, background)
}

// BlankResult is the substitute output for a failed decode: fully transparent
// rasters and no detected items. Frame processing carries on.
func BlankResult(width, height int) *DecodeResult {
	return &DecodeResult{
		Mask:          rimage.Blank(width, height),
		Composite:     rimage.Blank(width, height),
		DetectedItems: map[string]color.NRGBA{},
	}
}

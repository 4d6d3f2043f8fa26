package segmentation

import (
	"bufio"
	"image/color"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

const (
	// DefaultNumClasses matches the class axis of the reference PASCAL VOC
	// segmentation models: background plus 20 object categories.
	DefaultNumClasses = 21
	// OverlayAlpha is the alpha carried by every non-background class color so
	// the camera frame stays visible under the mask.
	OverlayAlpha = 128
)

// VOCLabels are the PASCAL VOC class names, index-aligned with the class axis
// of the reference model's score tensor.
var VOCLabels = []string{
	"background",
	"aeroplane",
	"bicycle",
	"bird",
	"boat",
	"bottle",
	"bus",
	"car",
	"cat",
	"chair",
	"cow",
	"diningtable",
	"dog",
	"horse",
	"motorbike",
	"person",
	"pottedplant",
	"sheep",
	"sofa",
	"train",
	"tvmonitor",
}

// ColorTable assigns one display color per class index. Entry 0 (background)
// is always fully transparent. Built once at startup and never mutated, so it
// is safe to share across concurrent decodes.
type ColorTable []color.NRGBA

// goldenAngle spreads consecutive hues maximally apart.
const goldenAngle = 137.50776405003785

// NewColorTable builds a deterministic palette: hues stepped by the golden
// angle at fixed saturation and value. The same class index always gets the
// same color, which keeps masks comparable across runs and tests.
func NewColorTable(numClasses int) ColorTable {
	ct := make(ColorTable, numClasses)
	for i := 1; i < numClasses; i++ {
		hue := math.Mod(float64(i-1)*goldenAngle, 360.0)
		r, g, b := colorful.Hsv(hue, 0.75, 0.9).RGB255()
		ct[i] = color.NRGBA{R: r, G: g, B: b, A: OverlayAlpha}
	}
	return ct
}

// NewRandomColorTable builds a palette of warm random colors. Purely cosmetic
// and different every process launch; prefer NewColorTable anywhere
// reproducibility matters.
func NewRandomColorTable(numClasses int) ColorTable {
	ct := make(ColorTable, numClasses)
	if numClasses < 2 {
		return ct
	}
	for i, c := range colorful.FastHappyPalette(numClasses - 1) {
		r, g, b := c.RGB255()
		ct[i+1] = color.NRGBA{R: r, G: g, B: b, A: OverlayAlpha}
	}
	return ct
}

// LoadLabels reads a labelmap file, one class name per line, index-aligned
// with the model's class axis.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrapf(err, "could not open label file %s", path)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	labels := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "could not read label file %s", path)
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("label file %s was empty", path)
	}
	return labels, nil
}

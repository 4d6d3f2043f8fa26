package mlvision

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"go.viam.com/segcam/ml"
	"go.viam.com/segcam/services/mlmodel"
	"go.viam.com/segcam/services/mlmodel/static"
	"go.viam.com/segcam/vision/segmentation"
)

func testImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func newTestDecoder(t *testing.T) *segmentation.Decoder {
	t.Helper()
	d, err := segmentation.NewDecoder(segmentation.DecoderConfig{
		Colors: segmentation.NewColorTable(segmentation.DefaultNumClasses),
		Labels: segmentation.VOCLabels,
	}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return d
}

// scoresModel serves a raw score tensor where class winnerIdx wins everywhere.
func scoresModel(t *testing.T, w, h, winnerIdx int) mlmodel.Service {
	t.Helper()
	numClasses := segmentation.DefaultNumClasses
	scores := make([]float32, w*h*numClasses)
	for p := 0; p < w*h; p++ {
		scores[p*numClasses+winnerIdx] = 9
	}
	svc, err := static.NewModel(static.Config{
		Metadata: mlmodel.MLMetadata{
			Inputs:  []mlmodel.TensorInfo{{Name: "image", DataType: UInt8, Shape: []int{1, h, w, 3}}},
			Outputs: []mlmodel.TensorInfo{{Name: "scores", DataType: Float32, Shape: []int{1, h, w, numClasses}}},
		},
		Outputs: ml.Tensors{
			"scores": tensor.New(tensor.WithShape(1, h, w, numClasses), tensor.WithBacking(scores)),
		},
	})
	test.That(t, err, test.ShouldBeNil)
	return svc
}

// classMapModel serves an already-decided per-pixel class map.
func classMapModel(t *testing.T, w, h int, classMap []int64) mlmodel.Service {
	t.Helper()
	svc, err := static.NewModel(static.Config{
		Metadata: mlmodel.MLMetadata{
			Inputs:  []mlmodel.TensorInfo{{Name: "image", DataType: Float32, Shape: []int{1, h, w, 3}}},
			Outputs: []mlmodel.TensorInfo{{Name: "classmap", DataType: "int64", Shape: []int{1, h, w}}},
		},
		Outputs: ml.Tensors{
			"classmap": tensor.New(tensor.WithShape(1, h, w), tensor.WithBacking(classMap)),
		},
	})
	test.That(t, err, test.ShouldBeNil)
	return svc
}

func TestModelInfoFromMetadata(t *testing.T) {
	md := mlmodel.MLMetadata{
		Inputs:  []mlmodel.TensorInfo{{Name: "image", DataType: Float32, Shape: []int{1, 257, 257, 3}}},
		Outputs: []mlmodel.TensorInfo{{Name: "scores", DataType: Float32, Shape: []int{1, 257, 257, 21}}},
	}
	info, err := ModelInfoFromMetadata(md)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.InputWidth, test.ShouldEqual, 257)
	test.That(t, info.InputHeight, test.ShouldEqual, 257)
	test.That(t, info.InputChannels, test.ShouldEqual, 3)
	test.That(t, info.OutputMode, test.ShouldEqual, OutputScores)
	test.That(t, info.NumClasses, test.ShouldEqual, 21)

	md.Outputs[0] = mlmodel.TensorInfo{Name: "classmap", DataType: "int64", Shape: []int{1, 257, 257}}
	info, err = ModelInfoFromMetadata(md)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.OutputMode, test.ShouldEqual, OutputClassMap)

	md.Inputs[0].Shape = []int{1, 3, 257, 257} // channel-first
	_, err = ModelInfoFromMetadata(md)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "NCHW")

	md.Inputs[0] = mlmodel.TensorInfo{Name: "image", DataType: "int16", Shape: []int{1, 257, 257, 3}}
	_, err = ModelInfoFromMetadata(md)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid input type")

	_, err = ModelInfoFromMetadata(mlmodel.MLMetadata{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPreprocessInput(t *testing.T) {
	img := testImage(8, 8, color.NRGBA{255, 0, 255, 255})

	info := ModelInfo{InputWidth: 4, InputHeight: 4, InputChannels: 3, InputType: UInt8}
	tensors, err := PreprocessInput(img, info)
	test.That(t, err, test.ShouldBeNil)
	in := tensors["image"]
	test.That(t, in, test.ShouldNotBeNil)
	test.That(t, in.Shape(), test.ShouldResemble, tensor.Shape{1, 4, 4, 3})
	buf := in.Data().([]uint8)
	test.That(t, buf[0], test.ShouldEqual, uint8(255))
	test.That(t, buf[1], test.ShouldEqual, uint8(0))

	info.InputType = Float32
	tensors, err = PreprocessInput(img, info)
	test.That(t, err, test.ShouldBeNil)
	fbuf := tensors["image"].Data().([]float32)
	test.That(t, fbuf[0], test.ShouldEqual, float32(1.0))
	test.That(t, fbuf[1], test.ShouldEqual, float32(-1.0))

	_, err = PreprocessInput(nil, info)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSegmenterScoresMode(t *testing.T) {
	ctx := context.Background()
	w, h := 4, 4
	seg, err := SegmenterFromService(ctx, scoresModel(t, w, h, 5), newTestDecoder(t), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	img := testImage(16, 16, color.NRGBA{100, 100, 100, 255})
	res, err := seg(ctx, img, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(res.DetectedItems), test.ShouldEqual, 1)
	wantColor := segmentation.NewColorTable(segmentation.DefaultNumClasses)[5]
	test.That(t, res.DetectedItems[segmentation.VOCLabels[5]], test.ShouldResemble, wantColor)
	test.That(t, res.Mask.Bounds().Dx(), test.ShouldEqual, w)
	test.That(t, res.Mask.Bounds().Dy(), test.ShouldEqual, h)
}

func TestSegmenterClassMapMode(t *testing.T) {
	ctx := context.Background()
	w, h := 2, 2
	seg, err := SegmenterFromService(ctx, classMapModel(t, w, h, []int64{0, 15, 15, 12}), newTestDecoder(t), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	img := testImage(8, 8, color.NRGBA{10, 10, 10, 255})
	res, err := seg(ctx, img, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(res.DetectedItems), test.ShouldEqual, 2)
	_, hasPerson := res.DetectedItems["person"]
	_, hasDog := res.DetectedItems["dog"]
	test.That(t, hasPerson, test.ShouldBeTrue)
	test.That(t, hasDog, test.ShouldBeTrue)
}

func TestSegmenterClassAxisMismatch(t *testing.T) {
	ctx := context.Background()
	svc, err := static.NewModel(static.Config{
		Metadata: mlmodel.MLMetadata{
			Inputs:  []mlmodel.TensorInfo{{Name: "image", DataType: UInt8, Shape: []int{1, 4, 4, 3}}},
			Outputs: []mlmodel.TensorInfo{{Name: "scores", DataType: Float32, Shape: []int{1, 4, 4, 33}}},
		},
		Outputs: ml.Tensors{},
	})
	test.That(t, err, test.ShouldBeNil)
	_, err = SegmenterFromService(ctx, svc, newTestDecoder(t), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "33")
}

func TestUnpackSegmentationSoleOutput(t *testing.T) {
	// metadata named nothing useful but the model returned one tensor
	info := ModelInfo{OutputName: "scores", OutputMode: OutputClassMap}
	outputs := ml.Tensors{
		"whatever": tensor.New(tensor.WithShape(1, 2, 2), tensor.WithBacking([]int32{1, 2, 3, 4})),
	}
	seg, err := UnpackSegmentation(outputs, info)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seg.ClassMap, test.ShouldResemble, []int{1, 2, 3, 4})
	test.That(t, seg.Width, test.ShouldEqual, 2)
	test.That(t, seg.Height, test.ShouldEqual, 2)
}

func TestUnpackSegmentationBadShape(t *testing.T) {
	info := ModelInfo{OutputName: "scores", OutputMode: OutputScores, NumClasses: 21}
	outputs := ml.Tensors{
		"scores": tensor.New(tensor.WithShape(4), tensor.WithBacking([]float32{1, 2, 3, 4})),
	}
	_, err := UnpackSegmentation(outputs, info)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "score tensor")
}

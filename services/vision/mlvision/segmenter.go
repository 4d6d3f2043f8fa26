// Package mlvision wraps an underlying model from the mlmodel service into a
// semantic segmenter: raster in, decoded mask out. It hides which serving mode
// the model uses (a raw per-class score tensor or an already-decided per-pixel
// class map) behind one Segmenter type.
package mlvision

import (
	"context"
	"image"

	"github.com/edaniels/golog"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/segcam/ml"
	"go.viam.com/segcam/rimage"
	"go.viam.com/segcam/services/mlmodel"
	"go.viam.com/segcam/vision/segmentation"
)

const (
	// UInt8 is one of the possible input/output types for tensors.
	UInt8 = "uint8"
	// Float32 is one of the possible input/output types for tensors.
	Float32 = "float32"
	// MeanValue and StdDev normalize float inputs from [0,255] onto [-1,1].
	MeanValue = 127.5
	// StdDev is the divisor applied after mean subtraction.
	StdDev = 127.5
)

// Serving modes of the segmentation output tensor.
const (
	OutputScores   = "scores"
	OutputClassMap = "classmap"
)

// A Segmenter preprocesses img, invokes the model, and decodes the output
// against background. It is the one blocking step of a pipeline invocation.
type Segmenter func(ctx context.Context, img, background image.Image) (*segmentation.DecodeResult, error)

// ModelInfo is the part of the model metadata the segmenter needs per frame.
type ModelInfo struct {
	InputWidth    int
	InputHeight   int
	InputChannels int
	InputType     string
	// OutputName keys the segmentation tensor in the output map.
	OutputName string
	// OutputMode is OutputScores or OutputClassMap.
	OutputMode string
	// NumClasses is the class axis length; zero in class-map mode.
	NumClasses int
}

// ModelInfoFromMetadata derives the per-frame model info from service
// metadata, failing fast on layouts the segmenter cannot feed.
func ModelInfoFromMetadata(md mlmodel.MLMetadata) (ModelInfo, error) {
	if len(md.Inputs) == 0 || len(md.Outputs) == 0 {
		return ModelInfo{}, errors.New("model metadata is missing input or output tensor info")
	}
	in := md.Inputs[0]
	info := ModelInfo{InputType: in.DataType}
	switch in.DataType {
	case UInt8, Float32:
	default:
		return ModelInfo{}, errors.Errorf("invalid input type %q, try uint8 or float32", in.DataType)
	}
	switch len(in.Shape) {
	case 4:
		// PreprocessInput packs channel-last buffers only, so a channel-first
		// model must be rejected here rather than fed mis-ordered input
		if in.Shape[3] > 4 {
			return ModelInfo{}, errors.Errorf(
				"input shape %v looks channel-first (NCHW); only channel-last (NHWC) inputs are supported", in.Shape)
		}
		info.InputHeight, info.InputWidth, info.InputChannels = in.Shape[1], in.Shape[2], in.Shape[3]
	case 3:
		info.InputHeight, info.InputWidth, info.InputChannels = in.Shape[0], in.Shape[1], in.Shape[2]
	default:
		return ModelInfo{}, errors.Errorf("cannot derive input dimensions from shape %v", in.Shape)
	}

	out := md.Outputs[0]
	info.OutputName = out.Name
	switch out.DataType {
	case "int32", "int64":
		info.OutputMode = OutputClassMap
	case Float32, UInt8:
		if len(out.Shape) == 0 {
			return ModelInfo{}, errors.Errorf("output tensor %q has no shape; cannot size its class axis", out.Name)
		}
		last := out.Shape[len(out.Shape)-1]
		if last <= 1 {
			info.OutputMode = OutputClassMap
		} else {
			info.OutputMode = OutputScores
			info.NumClasses = last
		}
	default:
		return ModelInfo{}, errors.Errorf("unsupported output tensor type %q", out.DataType)
	}
	return info, nil
}

// PreprocessInput resizes img to the model's input dimensions and packs it
// into the "image" input tensor, normalized when the model takes floats.
func PreprocessInput(img image.Image, info ModelInfo) (ml.Tensors, error) {
	if img == nil {
		return nil, errors.New("cannot preprocess a nil image")
	}
	resized := resize.Resize(uint(info.InputWidth), uint(info.InputHeight), img, resize.Bilinear)
	shape := []int{1, info.InputHeight, info.InputWidth, 3}
	switch info.InputType {
	case UInt8:
		return ml.Tensors{
			"image": tensor.New(tensor.WithShape(shape...), tensor.WithBacking(rimage.ImageToUInt8Buffer(resized))),
		}, nil
	case Float32:
		return ml.Tensors{
			"image": tensor.New(tensor.WithShape(shape...), tensor.WithBacking(rimage.ImageToFloatBuffer(resized, MeanValue, StdDev))),
		}, nil
	default:
		return nil, errors.Errorf("invalid input type %q, try uint8 or float32", info.InputType)
	}
}

// SegmentOutput is the model output normalized for the mask decoder: exactly
// one of Scores or ClassMap is set.
type SegmentOutput struct {
	Scores     []float32
	ClassMap   []int
	Width      int
	Height     int
	NumClasses int
}

// UnpackSegmentation pulls the segmentation tensor out of the output map and
// normalizes it. When the metadata named no output tensor and the map holds
// exactly one, that one is assumed to be it.
func UnpackSegmentation(outputs ml.Tensors, info ModelInfo) (*SegmentOutput, error) {
	t, ok := outputs[info.OutputName]
	if !ok {
		if len(outputs) != 1 {
			return nil, errors.Errorf("no tensor named %q among output tensors %v", info.OutputName, ml.TensorNames(outputs))
		}
		for _, sole := range outputs {
			t = sole
		}
	}
	shape := t.Shape()
	// drop the batch axis
	if len(shape) > 0 && shape[0] == 1 && len(shape) > 2 {
		shape = shape[1:]
	}

	switch info.OutputMode {
	case OutputScores:
		if len(shape) != 3 {
			return nil, errors.Errorf("score tensor must be height x width x classes, got shape %v", t.Shape())
		}
		scores, err := ml.ToFloat32Slice(t.Data())
		if err != nil {
			return nil, err
		}
		return &SegmentOutput{
			Scores:     scores,
			Width:      shape[1],
			Height:     shape[0],
			NumClasses: shape[2],
		}, nil
	case OutputClassMap:
		if len(shape) == 3 && shape[2] == 1 {
			shape = shape[:2]
		}
		if len(shape) != 2 {
			return nil, errors.Errorf("class map tensor must be height x width, got shape %v", t.Shape())
		}
		classMap, err := ml.ToClassIndexSlice(t.Data())
		if err != nil {
			return nil, err
		}
		return &SegmentOutput{
			ClassMap: classMap,
			Width:    shape[1],
			Height:   shape[0],
		}, nil
	default:
		return nil, errors.Errorf("unsupported output mode %q", info.OutputMode)
	}
}

// SegmenterFromService builds a Segmenter around mlm. The decoder's class
// axis must match the model's when the model serves raw scores.
func SegmenterFromService(
	ctx context.Context,
	mlm mlmodel.Service,
	decoder *segmentation.Decoder,
	logger golog.Logger,
) (Segmenter, error) {
	md, err := mlm.Metadata(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not find model metadata")
	}
	info, err := ModelInfoFromMetadata(md)
	if err != nil {
		return nil, err
	}
	if info.OutputMode == OutputScores && info.NumClasses != decoder.NumClasses() {
		return nil, errors.Errorf(
			"model emits %d classes but the decoder's tables have %d",
			info.NumClasses, decoder.NumClasses(),
		)
	}
	logger.Infow("built segmenter from ml model",
		"input_width", info.InputWidth,
		"input_height", info.InputHeight,
		"input_type", info.InputType,
		"output_mode", info.OutputMode,
	)

	return func(ctx context.Context, img, background image.Image) (*segmentation.DecodeResult, error) {
		tensors, err := PreprocessInput(img, info)
		if err != nil {
			return nil, err
		}
		outputs, err := mlm.Infer(ctx, tensors)
		if err != nil {
			return nil, err
		}
		seg, err := UnpackSegmentation(outputs, info)
		if err != nil {
			return nil, err
		}
		if seg.Scores != nil {
			return decoder.DecodeScores(seg.Scores, seg.Width, seg.Height, background)
		}
		return decoder.Decode(seg.ClassMap, seg.Width, seg.Height, background)
	}, nil
}

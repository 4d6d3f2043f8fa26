//go:build !no_tflite && !no_cgo

// Package tflite runs segmentation model files on the host as an
// implementation of the mlmodel Service.
package tflite

import (
	"context"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/segcam/ml"
	inf "go.viam.com/segcam/ml/inference"
	"go.viam.com/segcam/services/mlmodel"
)

// Config contains the parameters specific to the tflite implementation of the
// model service.
type Config struct {
	ModelPath string `json:"model_path"`
	// NumThreads defaults to the host CPU count.
	NumThreads int `json:"num_threads"`
	// Backend is "cpu" (default) or "xnnpack". An unavailable accelerator
	// fails construction; callers fall back by reconfiguring onto cpu.
	Backend string `json:"backend"`
	// LabelPath optionally names the labelmap file bundled with the model.
	LabelPath string `json:"label_path"`
}

// Model wraps a loaded interpreter together with its derived metadata.
type Model struct {
	conf     Config
	model    *inf.TFLiteStruct
	metadata *mlmodel.MLMetadata
	logger   golog.Logger
}

// NewModel loads the model file named by conf and returns it as an mlmodel
// Service.
func NewModel(ctx context.Context, conf Config, logger golog.Logger) (mlmodel.Service, error) {
	_, span := trace.StartSpan(ctx, "service::mlmodel::tflite::NewModel")
	defer span.End()

	loaded, err := inf.LoadTFLiteModel(inf.TFLiteConfig{
		ModelPath:  conf.ModelPath,
		NumThreads: conf.NumThreads,
		Backend:    conf.Backend,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not load model from location %s", conf.ModelPath)
	}
	logger.Infow("loaded segmentation model",
		"path", conf.ModelPath,
		"backend", conf.Backend,
		"input_width", loaded.Info.InputWidth,
		"input_height", loaded.Info.InputHeight,
	)
	return &Model{conf: conf, model: loaded, logger: logger}, nil
}

// Infer passes the input tensors through the interpreter.
func (m *Model) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	_, span := trace.StartSpan(ctx, "service::mlmodel::tflite::Infer")
	defer span.End()

	outTensors, err := m.model.Infer(tensors)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't infer from model %s", m.conf.ModelPath)
	}
	return outTensors, nil
}

// Metadata derives the service metadata from the interpreter's tensor layout.
func (m *Model) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	_, span := trace.StartSpan(ctx, "service::mlmodel::tflite::Metadata")
	defer span.End()

	if m.metadata != nil {
		return *m.metadata, nil
	}
	info := m.model.Info
	md := mlmodel.MLMetadata{
		ModelName: m.conf.ModelPath,
		ModelType: "semantic_segmenter",
		Inputs: []mlmodel.TensorInfo{{
			Name:     "image",
			DataType: strings.ToLower(info.InputTensorType),
			Shape:    []int{1, info.InputHeight, info.InputWidth, info.InputChannels},
		}},
	}
	for i, outType := range info.OutputTensorTypes {
		ti := mlmodel.TensorInfo{
			Name:     "output" + strconv.Itoa(i),
			DataType: strings.ToLower(outType),
			Shape:    info.OutputTensorShapes[i],
		}
		if m.conf.LabelPath != "" {
			ti.AssociatedFiles = []mlmodel.File{{Name: m.conf.LabelPath}}
		}
		md.Outputs = append(md.Outputs, ti)
	}
	m.metadata = &md
	return md, nil
}

// Close releases the interpreter and its backing resources.
func (m *Model) Close(ctx context.Context) error {
	return m.model.Close()
}

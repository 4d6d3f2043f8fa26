// Package static implements the mlmodel Service over canned output tensors.
// It backs tests and offline replay of recorded model runs, with no inference
// runtime behind it.
package static

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/segcam/ml"
	"go.viam.com/segcam/services/mlmodel"
)

// Config holds the canned model description and outputs.
type Config struct {
	Metadata mlmodel.MLMetadata
	// Outputs are returned verbatim from every Infer call.
	Outputs ml.Tensors
	// Backend must be empty or "cpu"; a static model has no accelerator to
	// hand the work to.
	Backend string
	// InferFunc, when set, replaces the canned outputs. Tests use it to
	// inject failures or observe inputs.
	InferFunc func(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
}

type staticModel struct {
	conf   Config
	closed bool
}

// NewModel validates conf and returns the static model service.
func NewModel(conf Config) (mlmodel.Service, error) {
	if conf.Backend != "" && conf.Backend != "cpu" {
		return nil, errors.Errorf("static models do not support the %q backend; use cpu or leave it unset", conf.Backend)
	}
	if conf.Outputs == nil && conf.InferFunc == nil {
		return nil, errors.New("static model needs canned outputs or an InferFunc")
	}
	return &staticModel{conf: conf}, nil
}

func (m *staticModel) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	if m.closed {
		return nil, errors.New("static model has been closed")
	}
	if m.conf.InferFunc != nil {
		return m.conf.InferFunc(ctx, tensors)
	}
	return m.conf.Outputs, nil
}

func (m *staticModel) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	return m.conf.Metadata, nil
}

func (m *staticModel) Close(ctx context.Context) error {
	if m.closed {
		return errors.New("static model already closed")
	}
	m.closed = true
	return nil
}

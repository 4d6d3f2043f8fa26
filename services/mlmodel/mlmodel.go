// Package mlmodel defines the boundary to an inference engine: a service that
// takes in a map of input tensors, passes them through a model, and returns a
// map of output tensors.
package mlmodel

import (
	"context"

	"go.viam.com/segcam/ml"
)

// Service is the opaque model: tensors in, tensors out. Implementations are
// not safe for concurrent invocation; the pipeline guarantees one frame in
// flight per instance.
type Service interface {
	// Infer takes an already-ordered input map of tensors.
	Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
	// Metadata gets the description of the model.
	Metadata(ctx context.Context) (MLMetadata, error)
	// Close releases the model and any backing accelerator resources. The
	// instance must not be used afterwards.
	Close(ctx context.Context) error
}

// MLMetadata contains the metadata of the model file, such as the name of the
// model, what kind of model it is, and the expected tensor/array shapes and
// types of the inputs and outputs.
type MLMetadata struct {
	ModelName        string
	ModelType        string // e.g. semantic_segmenter
	ModelDescription string
	Inputs           []TensorInfo
	Outputs          []TensorInfo
}

// TensorInfo contains all the information necessary to build a struct from the
// input and output maps of tensors.
type TensorInfo struct {
	Name     string // e.g. image
	DataType string // e.g. uint8, float32
	Shape    []int  // e.g. [1, 257, 257, 3]
	// AssociatedFiles points to files (like labelmaps) bundled with the model.
	AssociatedFiles []File
}

// File contains information about how the model was trained.
type File struct {
	Name        string // e.g. category_labels.txt
	Description string
}

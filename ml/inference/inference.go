// Package inference wraps the TensorFlow Lite runtime behind a small loader
// so the rest of the pipeline never touches cgo types directly.
package inference

import "github.com/pkg/errors"

// Backend names the execution provider an interpreter runs on.
const (
	BackendCPU     = "cpu"
	BackendXNNPack = "xnnpack"
)

// TFLiteConfig holds the parameters needed to stand up one interpreter.
type TFLiteConfig struct {
	ModelPath string
	// NumThreads defaults to the host CPU count when zero or negative.
	NumThreads int
	// Backend selects the execution provider; empty means BackendCPU.
	Backend string
}

// TFLiteInfo describes the loaded model's tensor layout.
type TFLiteInfo struct {
	InputHeight        int
	InputWidth         int
	InputChannels      int
	InputTensorType    string
	OutputTensorCount  int
	OutputTensorTypes  []string
	OutputTensorShapes [][]int
}

// FailedToLoadError returns a typed error for a component that could not come up.
func FailedToLoadError(name string) error {
	return errors.Errorf("failed to load %s", name)
}

// FailedToGetError returns a typed error for a resource that could not be read back.
func FailedToGetError(name string) error {
	return errors.Errorf("failed to get %s", name)
}

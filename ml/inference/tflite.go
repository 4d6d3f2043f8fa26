//go:build !no_tflite && !no_cgo

package inference

import (
	"runtime"
	"strconv"

	tflite "github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/xnnpack"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/segcam/ml"
)

// TFLiteStruct holds the interpreter and all the allocations behind it. Not
// safe for concurrent invocation; one frame in flight per instance.
type TFLiteStruct struct {
	model              *tflite.Model
	interpreter        *tflite.Interpreter
	interpreterOptions *tflite.InterpreterOptions
	delegate           delegates.Delegater
	Info               TFLiteInfo
}

// LoadTFLiteModel reads the model file and stands up an interpreter on the
// configured backend. An unavailable accelerator is a failed initialization,
// not a silent fallback: the caller decides whether to retry on CPU.
func LoadTFLiteModel(conf TFLiteConfig) (*TFLiteStruct, error) {
	model := tflite.NewModelFromFile(conf.ModelPath)
	if model == nil {
		return nil, errors.Wrapf(FailedToLoadError("model"), "file %s", conf.ModelPath)
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, FailedToLoadError("interpreter options")
	}
	numThreads := conf.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	options.SetNumThread(numThreads)

	var delegate delegates.Delegater
	switch conf.Backend {
	case "", BackendCPU:
	case BackendXNNPack:
		delegate = xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(numThreads)})
		if delegate == nil {
			options.Delete()
			model.Delete()
			return nil, errors.Errorf("XNNPACK delegate unavailable on this host; retry with the %q backend", BackendCPU)
		}
		options.AddDelegate(delegate)
	default:
		options.Delete()
		model.Delete()
		return nil, errors.Errorf("unsupported tflite backend %q", conf.Backend)
	}

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		closeAll(model, options, delegate, nil)
		return nil, FailedToLoadError("interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		closeAll(model, options, delegate, interpreter)
		return nil, errors.New("failed to allocate tensors")
	}

	input := interpreter.GetInputTensor(0)
	numOut := interpreter.GetOutputTensorCount()
	outTypes := make([]string, 0, numOut)
	outShapes := make([][]int, 0, numOut)
	for i := 0; i < numOut; i++ {
		out := interpreter.GetOutputTensor(i)
		outTypes = append(outTypes, out.Type().String())
		shape := make([]int, out.NumDims())
		for d := 0; d < out.NumDims(); d++ {
			shape[d] = out.Dim(d)
		}
		outShapes = append(outShapes, shape)
	}
	info := TFLiteInfo{
		InputHeight:        input.Dim(1),
		InputWidth:         input.Dim(2),
		InputChannels:      input.Dim(3),
		InputTensorType:    input.Type().String(),
		OutputTensorCount:  numOut,
		OutputTensorTypes:  outTypes,
		OutputTensorShapes: outShapes,
	}

	return &TFLiteStruct{
		model:              model,
		interpreter:        interpreter,
		interpreterOptions: options,
		delegate:           delegate,
		Info:               info,
	}, nil
}

// Infer copies the "image" input tensor into the interpreter, invokes it, and
// copies every output tensor back out.
func (m *TFLiteStruct) Infer(inputs ml.Tensors) (ml.Tensors, error) {
	in, ok := inputs["image"]
	if !ok {
		return nil, errors.Errorf("no tensor named \"image\" among input tensors [%v]", ml.TensorNames(inputs))
	}
	input := m.interpreter.GetInputTensor(0)
	if status := input.CopyFromBuffer(in.Data()); status != tflite.OK {
		return nil, errors.New("copying input to interpreter buffer failed")
	}
	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("interpreter invoke failed")
	}

	outputs := ml.Tensors{}
	for i := 0; i < m.interpreter.GetOutputTensorCount(); i++ {
		out := m.interpreter.GetOutputTensor(i)
		shape := make([]int, out.NumDims())
		count := 1
		for d := 0; d < out.NumDims(); d++ {
			shape[d] = out.Dim(d)
			count *= out.Dim(d)
		}
		var backing interface{}
		switch out.Type() {
		case tflite.Float32:
			backing = make([]float32, count)
		case tflite.UInt8:
			backing = make([]uint8, count)
		case tflite.Int8:
			backing = make([]int8, count)
		case tflite.Int16:
			backing = make([]int16, count)
		case tflite.Int32:
			backing = make([]int32, count)
		case tflite.Int64:
			backing = make([]int64, count)
		default:
			return nil, errors.Errorf("unsupported output tensor type %s", out.Type())
		}
		if status := out.CopyToBuffer(backing); status != tflite.OK {
			return nil, errors.Errorf("copying output tensor %d out of the interpreter failed", i)
		}
		// keyed by ordinal so the name lines up with the derived metadata
		outputs[defaultOutputName(i)] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	}
	return outputs, nil
}

// Close deletes the interpreter, its options, the delegate, and the model.
// Must be called from the worker that owns the instance before a replacement
// is constructed.
func (m *TFLiteStruct) Close() error {
	closeAll(m.model, m.interpreterOptions, m.delegate, m.interpreter)
	m.model = nil
	m.interpreter = nil
	m.interpreterOptions = nil
	m.delegate = nil
	return nil
}

func closeAll(
	model *tflite.Model,
	options *tflite.InterpreterOptions,
	delegate delegates.Delegater,
	interpreter *tflite.Interpreter,
) {
	if interpreter != nil {
		interpreter.Delete()
	}
	if delegate != nil {
		delegate.Delete()
	}
	if options != nil {
		options.Delete()
	}
	if model != nil {
		model.Delete()
	}
}

func defaultOutputName(i int) string {
	return "output" + strconv.Itoa(i)
}

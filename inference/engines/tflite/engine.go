// Package tflite - Inference engine backed by TensorFlow Lite.
package tflite

import (
	"os"
	"runtime"
	"sync"

	tflite "github.com/mattn/go-tflite"
	"github.com/nvr-ai/go-recognize/inference"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Options configures a TensorFlow Lite engine.
type Options struct {
	// NumThreads is the interpreter thread count. Zero means one per CPU.
	NumThreads int `json:"num_threads" yaml:"num_threads"`
	// Logger receives interpreter error reports. Nil disables logging.
	Logger logging.Logger `json:"-" yaml:"-"`
}

// Engine runs a TensorFlow Lite model on an interpreter.
type Engine struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputs      []inference.TensorInfo
	outputs     []inference.TensorInfo
}

var _ inference.Engine = (*Engine)(nil)

// New loads a TensorFlow Lite model and allocates its tensors.
//
// Arguments:
//   - path: The .tflite model file.
//   - opts: The engine options.
//
// Returns:
//   - *Engine: The engine.
//   - error: When the model cannot be loaded or its tensors are unsupported.
func New(path string, opts Options) (*Engine, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "opening TFLite model")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	threads := opts.NumThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	e := &Engine{}
	e.model = tflite.NewModelFromFile(path)
	if e.model == nil {
		return nil, errors.Errorf("failed to create model from %s", path)
	}

	e.options = tflite.NewInterpreterOptions()
	if e.options == nil {
		_ = e.Close()
		return nil, errors.New("interpreter options failed to be created")
	}
	e.options.SetNumThread(threads)
	e.options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warnw("tflite", "message", msg)
	}, nil)

	e.interpreter = tflite.NewInterpreter(e.model, e.options)
	if e.interpreter == nil {
		_ = e.Close()
		return nil, errors.New("failed to create interpreter")
	}
	if status := e.interpreter.AllocateTensors(); status != tflite.OK {
		_ = e.Close()
		return nil, errors.New("failed to allocate tensors")
	}

	for i := 0; i < e.interpreter.GetInputTensorCount(); i++ {
		info, err := describe(e.interpreter.GetInputTensor(i))
		if err != nil {
			_ = e.Close()
			return nil, errors.Wrapf(err, "input %d", i)
		}
		e.inputs = append(e.inputs, info)
	}
	for i := 0; i < e.interpreter.GetOutputTensorCount(); i++ {
		info, err := describe(e.interpreter.GetOutputTensor(i))
		if err != nil {
			_ = e.Close()
			return nil, errors.Wrapf(err, "output %d", i)
		}
		e.outputs = append(e.outputs, info)
	}

	logger.Infow("tflite model loaded",
		"path", path,
		"threads", threads,
		"inputs", e.inputs,
		"outputs", e.outputs,
	)
	return e, nil
}

func describe(t *tflite.Tensor) (inference.TensorInfo, error) {
	shape := make(tensor.Shape, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	if len(shape) == 0 {
		shape = tensor.Shape{1}
	}
	dtype, err := DtypeOf(t.Type())
	if err != nil {
		return inference.TensorInfo{}, err
	}
	return inference.TensorInfo{Name: t.Name(), Shape: shape, Dtype: dtype}, nil
}

// DtypeOf maps TensorFlow Lite element types to tensor dtypes.
func DtypeOf(t tflite.TensorType) (tensor.Dtype, error) {
	switch t {
	case tflite.Float32:
		return tensor.Float32, nil
	case tflite.UInt8:
		return tensor.Uint8, nil
	default:
		return tensor.Dtype{}, errors.Errorf("unsupported tensor type %v", t)
	}
}

// Inputs implements inference.Engine.
func (e *Engine) Inputs() []inference.TensorInfo {
	return e.inputs
}

// Outputs implements inference.Engine.
func (e *Engine) Outputs() []inference.TensorInfo {
	return e.outputs
}

// Run copies the inputs into the interpreter, invokes it and copies the outputs back.
func (e *Engine) Run(inputs, outputs []*tensor.Dense) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interpreter == nil {
		return errors.New("interpreter is closed")
	}
	if len(inputs) != len(e.inputs) || len(outputs) != len(e.outputs) {
		return errors.Errorf("engine has %d inputs and %d outputs, got %d and %d",
			len(e.inputs), len(e.outputs), len(inputs), len(outputs))
	}

	for i, in := range inputs {
		if err := checkBuffer(e.inputs[i], in); err != nil {
			return errors.Wrapf(err, "input %d", i)
		}
		if status := e.interpreter.GetInputTensor(i).CopyFromBuffer(in.Data()); status != tflite.OK {
			return errors.Errorf("copying input %d to the interpreter failed", i)
		}
	}
	if status := e.interpreter.Invoke(); status != tflite.OK {
		return errors.New("invoke failed")
	}
	for i, out := range outputs {
		t := e.interpreter.GetOutputTensor(i)
		var values any
		if e.outputs[i].Dtype == tensor.Uint8 {
			values = t.UInt8s()
		} else {
			values = t.Float32s()
		}
		if err := storeOutput(e.outputs[i], values, out); err != nil {
			return errors.Wrapf(err, "output %d", i)
		}
	}
	return nil
}

// checkBuffer reports whether t matches the declared element type and count of info.
func checkBuffer(info inference.TensorInfo, t *tensor.Dense) error {
	if t.Dtype() != info.Dtype {
		return errors.Errorf("%v cannot hold %v values", info, t.Dtype())
	}
	if n := t.Shape().TotalSize(); n != info.Shape.TotalSize() {
		return errors.Errorf("%v cannot hold %d values", info, n)
	}
	return nil
}

// storeOutput copies the interpreter's output values into dst.
func storeOutput(info inference.TensorInfo, values any, dst *tensor.Dense) error {
	if err := checkBuffer(info, dst); err != nil {
		return err
	}
	switch data := dst.Data().(type) {
	case []float32:
		src, ok := values.([]float32)
		if !ok || len(src) != len(data) {
			return errors.Errorf("%v delivered %T of length %d", info, values, len(src))
		}
		copy(data, src)
	case []uint8:
		src, ok := values.([]uint8)
		if !ok || len(src) != len(data) {
			return errors.Errorf("%v delivered %T of length %d", info, values, len(src))
		}
		copy(data, src)
	default:
		return errors.Errorf("%v has unsupported dtype %v", info, dst.Dtype())
	}
	return nil
}

// Close releases the interpreter, its options and the model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}

// Package onnx - Inference engine backed by ONNX Runtime.
package onnx

import (
	"fmt"
	"os"
	"sync"

	"github.com/nvr-ai/go-recognize/inference"
	"github.com/nvr-ai/go-recognize/inference/providers"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"
)

// environment guards the process wide ONNX Runtime environment.
var environment sync.Mutex

// Options configures an ONNX Runtime engine.
type Options struct {
	// SharedLibraryPath locates the onnxruntime library. Empty means providers.GetSharedLibPath.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
	// Provider selects the execution provider and threading.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// Logger receives load details. Nil disables logging.
	Logger logging.Logger `json:"-" yaml:"-"`
}

// Engine runs an ONNX model with pre-allocated native tensors.
type Engine struct {
	session *ort.AdvancedSession
	inputs  []*binding
	outputs []*binding
}

var _ inference.Engine = (*Engine)(nil)

// New loads an ONNX model.
//
// Order of operations:
//  1. Environment setup: the shared library is loaded once per process.
//  2. I/O discovery: declared names, shapes and element types are read from the model.
//  3. Tensor allocation: one native tensor per input and output.
//  4. Session creation with the configured execution provider.
//
// Arguments:
//   - path: The ONNX model file.
//   - opts: The engine options.
//
// Returns:
//   - *Engine: The engine.
//   - error: When the model or runtime cannot be loaded.
func New(path string, opts Options) (_ *Engine, err error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "opening ONNX model")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if err := initialize(opts.SharedLibraryPath); err != nil {
		return nil, err
	}

	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading inputs and outputs of %s", path)
	}

	e := &Engine{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, e.Close())
		}
	}()

	var inNames, outNames []string
	var inValues, outValues []ort.Value
	for _, io := range ins {
		b, err := newBinding(io)
		if err != nil {
			return nil, errors.Wrapf(err, "input %q", io.Name)
		}
		e.inputs = append(e.inputs, b)
		inNames = append(inNames, io.Name)
		inValues = append(inValues, b.value)
	}
	for _, io := range outs {
		b, err := newBinding(io)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", io.Name)
		}
		e.outputs = append(e.outputs, b)
		outNames = append(outNames, io.Name)
		outValues = append(outValues, b.value)
	}

	options, err := providers.SessionOptions(opts.Provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	e.session, err = ort.NewAdvancedSession(path, inNames, outNames, inValues, outValues, options)
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	logger.Infow("onnx model loaded",
		"path", path,
		"provider", opts.Provider.Backend,
		"inputs", fmt.Sprint(e.Inputs()),
		"outputs", fmt.Sprint(e.Outputs()),
	)
	return e, nil
}

// initialize loads the shared library once per process.
func initialize(libPath string) error {
	environment.Lock()
	defer environment.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = providers.GetSharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %q, set %s", libPath, providers.SharedLibEnv)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// Inputs implements inference.Engine.
func (e *Engine) Inputs() []inference.TensorInfo {
	return infos(e.inputs)
}

// Outputs implements inference.Engine.
func (e *Engine) Outputs() []inference.TensorInfo {
	return infos(e.outputs)
}

func infos(bindings []*binding) []inference.TensorInfo {
	out := make([]inference.TensorInfo, len(bindings))
	for i, b := range bindings {
		out[i] = b.info
	}
	return out
}

// Run copies the inputs into the native tensors, runs the session and copies the
// outputs back.
func (e *Engine) Run(inputs, outputs []*tensor.Dense) error {
	if e.session == nil {
		return errors.New("session is closed")
	}
	if len(inputs) != len(e.inputs) || len(outputs) != len(e.outputs) {
		return errors.Errorf("engine has %d inputs and %d outputs, got %d and %d",
			len(e.inputs), len(e.outputs), len(inputs), len(outputs))
	}
	for i, b := range e.inputs {
		if err := b.load(inputs[i]); err != nil {
			return err
		}
	}
	if err := e.session.Run(); err != nil {
		return errors.Wrap(err, "running ORT session")
	}
	for i, b := range e.outputs {
		if err := b.store(outputs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the session and tensors.
func (e *Engine) Close() error {
	var err error
	if e.session != nil {
		if derr := e.session.Destroy(); derr != nil {
			err = multierr.Append(err, errors.Wrap(derr, "error destroying ORT session"))
		}
		e.session = nil
	}
	for _, b := range append(e.inputs, e.outputs...) {
		err = multierr.Append(err, b.destroy())
	}
	e.inputs, e.outputs = nil, nil
	return err
}

// binding is a native tensor bound to one declared input or output. f32 and u8 alias
// the native tensor memory; exactly one of them is set.
type binding struct {
	info  inference.TensorInfo
	value ort.Value
	f32   []float32
	u8    []uint8
}

func newBinding(io ort.InputOutputInfo) (*binding, error) {
	if io.OrtValueType != ort.ONNXTypeTensor {
		return nil, errors.Errorf("unsupported value type %v", io.OrtValueType)
	}
	shape, err := ShapeOf(io.Dimensions)
	if err != nil {
		return nil, err
	}
	dtype, err := DtypeOf(io.DataType)
	if err != nil {
		return nil, err
	}

	b := &binding{info: inference.TensorInfo{Name: io.Name, Shape: shape, Dtype: dtype}}
	native := make([]int64, len(shape))
	for i, d := range shape {
		native[i] = int64(d)
	}
	switch dtype {
	case tensor.Uint8:
		var t *ort.Tensor[uint8]
		if t, err = ort.NewEmptyTensor[uint8](ort.NewShape(native...)); err == nil {
			b.value, b.u8 = t, t.GetData()
		}
	default:
		var t *ort.Tensor[float32]
		if t, err = ort.NewEmptyTensor[float32](ort.NewShape(native...)); err == nil {
			b.value, b.f32 = t, t.GetData()
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "error creating tensor")
	}
	return b, nil
}

// load copies t into the native input tensor.
func (b *binding) load(t *tensor.Dense) error {
	switch data := t.Data().(type) {
	case []float32:
		if b.f32 == nil || len(data) != len(b.f32) {
			return errors.Errorf("input %v cannot take %d float32 values", b.info, len(data))
		}
		copy(b.f32, data)
	case []uint8:
		if b.u8 == nil || len(data) != len(b.u8) {
			return errors.Errorf("input %v cannot take %d uint8 values", b.info, len(data))
		}
		copy(b.u8, data)
	default:
		return errors.Errorf("input %v cannot take %v values", b.info, t.Dtype())
	}
	return nil
}

// store copies the native output tensor into t.
func (b *binding) store(t *tensor.Dense) error {
	switch data := t.Data().(type) {
	case []float32:
		if b.f32 == nil || len(data) != len(b.f32) {
			return errors.Errorf("output %v does not fit %d float32 values", b.info, len(data))
		}
		copy(data, b.f32)
	case []uint8:
		if b.u8 == nil || len(data) != len(b.u8) {
			return errors.Errorf("output %v does not fit %d uint8 values", b.info, len(data))
		}
		copy(data, b.u8)
	default:
		return errors.Errorf("output %v cannot be stored as %v", b.info, t.Dtype())
	}
	return nil
}

func (b *binding) destroy() error {
	if b == nil || b.value == nil {
		return nil
	}
	err := b.value.Destroy()
	b.value, b.f32, b.u8 = nil, nil, nil
	return err
}

// ShapeOf converts declared ONNX dimensions to a static tensor shape. A dynamic batch
// dimension becomes 1; any other dynamic dimension is an error.
func ShapeOf(dims ort.Shape) (tensor.Shape, error) {
	if len(dims) == 0 {
		return tensor.Shape{1}, nil
	}
	shape := make(tensor.Shape, len(dims))
	for i, d := range dims {
		switch {
		case d > 0:
			shape[i] = int(d)
		case i == 0:
			shape[i] = 1
		default:
			return nil, errors.Errorf("dimension %d of %v is dynamic", i, dims)
		}
	}
	return shape, nil
}

// DtypeOf maps ONNX element types to tensor dtypes. Only float32 and uint8 are supported.
func DtypeOf(t ort.TensorElementDataType) (tensor.Dtype, error) {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return tensor.Float32, nil
	case ort.TensorElementDataTypeUint8:
		return tensor.Uint8, nil
	default:
		return tensor.Dtype{}, errors.Errorf("unsupported element type %v", t)
	}
}

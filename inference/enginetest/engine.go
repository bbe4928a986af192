// Package enginetest - A scripted inference engine for tests.
package enginetest

import (
	"fmt"
	"sync"

	"github.com/nvr-ai/go-recognize/inference"
	"gorgonia.org/tensor"
)

// Engine is an inference.Engine whose outputs are set by the test.
type Engine struct {
	mu       sync.Mutex
	inputs   []inference.TensorInfo
	outputs  []inference.TensorInfo
	values   map[int]any
	runErr   error
	closeErr error

	runs      int
	closes    int
	lastInput any
}

var _ inference.Engine = (*Engine)(nil)

// New creates an engine with the given declared input and outputs.
func New(input inference.TensorInfo, outputs ...inference.TensorInfo) *Engine {
	return &Engine{
		inputs:  []inference.TensorInfo{input},
		outputs: outputs,
		values:  map[int]any{},
	}
}

// NewClassifier creates an NHWC float32 classifier engine with one score per label.
func NewClassifier(width, height int, scores ...float32) *Engine {
	e := New(
		inference.TensorInfo{Name: "input", Shape: tensor.Shape{1, height, width, 3}, Dtype: tensor.Float32},
		inference.TensorInfo{Name: "scores", Shape: tensor.Shape{1, len(scores)}, Dtype: tensor.Float32},
	)
	e.SetOutput(0, scores)
	return e
}

// NewDetector creates an NHWC uint8 SSD engine with the TFLite output order: boxes,
// classes, scores, count.
func NewDetector(width, height, slots int) *Engine {
	return New(
		inference.TensorInfo{Name: "normalized_input_image_tensor", Shape: tensor.Shape{1, height, width, 3}, Dtype: tensor.Uint8},
		inference.TensorInfo{Name: "TFLite_Detection_PostProcess", Shape: tensor.Shape{1, slots, 4}, Dtype: tensor.Float32},
		inference.TensorInfo{Name: "TFLite_Detection_PostProcess:1", Shape: tensor.Shape{1, slots}, Dtype: tensor.Float32},
		inference.TensorInfo{Name: "TFLite_Detection_PostProcess:2", Shape: tensor.Shape{1, slots}, Dtype: tensor.Float32},
		inference.TensorInfo{Name: "TFLite_Detection_PostProcess:3", Shape: tensor.Shape{1}, Dtype: tensor.Float32},
	)
}

// SetOutput sets the values written to output i on every run. values is a []float32 or
// []uint8 no longer than the output.
func (e *Engine) SetOutput(i int, values any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[i] = values
}

// FailWith makes every following run fail with err. Nil restores normal runs.
func (e *Engine) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runErr = err
}

// FailClose makes Close return err.
func (e *Engine) FailClose(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeErr = err
}

// Inputs implements inference.Engine.
func (e *Engine) Inputs() []inference.TensorInfo {
	return e.inputs
}

// Outputs implements inference.Engine.
func (e *Engine) Outputs() []inference.TensorInfo {
	return e.outputs
}

// Run implements inference.Engine. Outputs without values are zeroed.
func (e *Engine) Run(inputs, outputs []*tensor.Dense) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.runs++
	switch data := inputs[0].Data().(type) {
	case []float32:
		e.lastInput = append([]float32(nil), data...)
	case []uint8:
		e.lastInput = append([]uint8(nil), data...)
	}
	if e.runErr != nil {
		return e.runErr
	}

	for i, out := range outputs {
		if err := write(out, e.values[i]); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	return nil
}

func write(out *tensor.Dense, values any) error {
	switch dst := out.Data().(type) {
	case []float32:
		clear(dst)
		if values == nil {
			return nil
		}
		src, ok := values.([]float32)
		if !ok || len(src) > len(dst) {
			return fmt.Errorf("cannot write %T into %d float32 values", values, len(dst))
		}
		copy(dst, src)
	case []uint8:
		clear(dst)
		if values == nil {
			return nil
		}
		src, ok := values.([]uint8)
		if !ok || len(src) > len(dst) {
			return fmt.Errorf("cannot write %T into %d uint8 values", values, len(dst))
		}
		copy(dst, src)
	default:
		return fmt.Errorf("unsupported output dtype %v", out.Dtype())
	}
	return nil
}

// Close implements inference.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return e.closeErr
}

// Runs returns how many times Run was called.
func (e *Engine) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

// Closes returns how many times Close was called.
func (e *Engine) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// LastInput returns a copy of the input of the last run: []float32 or []uint8.
func (e *Engine) LastInput() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastInput
}

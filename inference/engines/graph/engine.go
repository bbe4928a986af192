// Package graph - Inference engine running a gorgonia expression graph in pure Go.
package graph

import (
	"sync"

	"github.com/nvr-ai/go-recognize/inference"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Engine runs an expression graph on a tape machine. The graph has one input node;
// each output node is read after every run.
type Engine struct {
	mu      sync.Mutex
	graph   *G.ExprGraph
	input   *G.Node
	outputs []*G.Node
	vm      G.VM
}

var _ inference.Engine = (*Engine)(nil)

// New compiles a graph.
//
// Arguments:
//   - g: The expression graph.
//   - input: The input node. Frames are bound to it with G.Let.
//   - outputs: The nodes read after each run, in engine output order.
//
// Returns:
//   - *Engine: The engine.
//   - error: When the graph has no outputs or a node has an unsupported dtype.
func New(g *G.ExprGraph, input *G.Node, outputs ...*G.Node) (*Engine, error) {
	if g == nil || input == nil {
		return nil, errors.New("graph and input node are required")
	}
	if len(outputs) == 0 {
		return nil, errors.New("graph needs at least one output node")
	}
	for _, n := range append([]*G.Node{input}, outputs...) {
		if dt := n.Dtype(); dt != tensor.Float32 && dt != tensor.Uint8 {
			return nil, errors.Errorf("node %s has unsupported dtype %v", n.Name(), dt)
		}
	}
	return &Engine{
		graph:   g,
		input:   input,
		outputs: outputs,
		vm:      G.NewTapeMachine(g),
	}, nil
}

func infoOf(n *G.Node) inference.TensorInfo {
	shape := n.Shape().Clone()
	if len(shape) == 0 {
		shape = tensor.Shape{1}
	}
	return inference.TensorInfo{Name: n.Name(), Shape: shape, Dtype: n.Dtype()}
}

// Inputs implements inference.Engine.
func (e *Engine) Inputs() []inference.TensorInfo {
	return []inference.TensorInfo{infoOf(e.input)}
}

// Outputs implements inference.Engine.
func (e *Engine) Outputs() []inference.TensorInfo {
	infos := make([]inference.TensorInfo, len(e.outputs))
	for i, n := range e.outputs {
		infos[i] = infoOf(n)
	}
	return infos
}

// Run binds the input, runs the tape and copies every output node value.
func (e *Engine) Run(inputs, outputs []*tensor.Dense) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.vm == nil {
		return errors.New("graph engine is closed")
	}
	if len(inputs) != 1 || len(outputs) != len(e.outputs) {
		return errors.Errorf("engine has 1 input and %d outputs, got %d and %d", len(e.outputs), len(inputs), len(outputs))
	}
	defer e.vm.Reset()

	if err := G.Let(e.input, inputs[0]); err != nil {
		return errors.Wrap(err, "binding input")
	}
	if err := e.vm.RunAll(); err != nil {
		return errors.Wrap(err, "running graph")
	}

	for i, n := range e.outputs {
		v := n.Value()
		if v == nil {
			return errors.Errorf("output %s has no value", n.Name())
		}
		if err := store(outputs[i], v.Data()); err != nil {
			return errors.Wrapf(err, "output %s", n.Name())
		}
	}
	return nil
}

func store(dst *tensor.Dense, value interface{}) error {
	switch data := dst.Data().(type) {
	case []float32:
		switch src := value.(type) {
		case []float32:
			if len(src) != len(data) {
				return errors.Errorf("%d values do not fit %d", len(src), len(data))
			}
			copy(data, src)
		case float32:
			if len(data) != 1 {
				return errors.Errorf("a scalar does not fit %d values", len(data))
			}
			data[0] = src
		default:
			return errors.Errorf("cannot store %T as float32", value)
		}
	case []uint8:
		src, ok := value.([]uint8)
		if !ok || len(src) != len(data) {
			return errors.Errorf("cannot store %T as %d uint8 values", value, len(data))
		}
		copy(data, src)
	default:
		return errors.Errorf("unsupported output dtype %v", dst.Dtype())
	}
	return nil
}

// Close releases the tape machine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.vm != nil {
		e.vm.Close()
		e.vm = nil
	}
	return nil
}

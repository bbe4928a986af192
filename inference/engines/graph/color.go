package graph

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NewColorClassifier builds a small classifier over the average color of a frame.
//
// The frame's channels are averaged over all pixels, multiplied by a channels x classes
// weight matrix and squashed with a sigmoid, giving one independent score per class.
// It expects standardized float32 NHWC input, as classifier pipelines produce.
//
// Arguments:
//   - width: The input width.
//   - height: The input height.
//   - weights: One row per class holding one weight per RGB channel.
//
// Returns:
//   - *Engine: The engine, input "frame" and output "scores" of shape [1, classes].
//   - error: When the size or weights are invalid.
func NewColorClassifier(width, height int, weights [][]float32) (*Engine, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid input dimensions: %dx%d", width, height)
	}
	classes := len(weights)
	if classes == 0 {
		return nil, errors.New("at least one class is required")
	}

	// Transposed into a channels x classes matrix.
	backing := make([]float32, 3*classes)
	for c, row := range weights {
		if len(row) != 3 {
			return nil, errors.Errorf("class %d has %d weights, expected 3", c, len(row))
		}
		for ch, w := range row {
			backing[ch*classes+c] = w
		}
	}

	g := G.NewGraph()
	input := G.NewTensor(g, tensor.Float32, 4, G.WithShape(1, height, width, 3), G.WithName("frame"))
	w := G.NewMatrix(g, tensor.Float32,
		G.WithShape(3, classes),
		G.WithName("weights"),
		G.WithValue(tensor.New(tensor.WithShape(3, classes), tensor.WithBacking(backing))),
	)

	pixels, err := G.Reshape(input, tensor.Shape{width * height, 3})
	if err != nil {
		return nil, errors.Wrap(err, "flattening frame")
	}
	mean, err := G.Mean(pixels, 0)
	if err != nil {
		return nil, errors.Wrap(err, "averaging channels")
	}
	row, err := G.Reshape(mean, tensor.Shape{1, 3})
	if err != nil {
		return nil, errors.Wrap(err, "reshaping mean")
	}
	logits, err := G.Mul(row, w)
	if err != nil {
		return nil, errors.Wrap(err, "applying weights")
	}
	scores, err := G.Sigmoid(logits)
	if err != nil {
		return nil, errors.Wrap(err, "squashing scores")
	}
	G.WithName("scores")(scores)

	return New(g, input, scores)
}

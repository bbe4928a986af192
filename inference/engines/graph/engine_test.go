package graph

import (
	"testing"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/inference"
	"github.com/nvr-ai/go-recognize/models/labels"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// newSumEngine sums the two rows of a 2x3 frame.
func newSumEngine(t *testing.T) *Engine {
	t.Helper()
	g := G.NewGraph()
	x := G.NewTensor(g, tensor.Float32, 4, G.WithShape(1, 1, 2, 3), G.WithName("x"))
	rows, err := G.Reshape(x, tensor.Shape{2, 3})
	require.NoError(t, err)
	sum, err := G.Sum(rows, 0)
	require.NoError(t, err)

	e, err := New(g, x, sum)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngine_Run(t *testing.T) {
	e := newSumEngine(t)

	require.Len(t, e.Inputs(), 1)
	assert.Equal(t, tensor.Shape{1, 1, 2, 3}, e.Inputs()[0].Shape)
	assert.Equal(t, "x", e.Inputs()[0].Name)
	require.Len(t, e.Outputs(), 1)
	assert.Equal(t, tensor.Shape{3}, e.Outputs()[0].Shape)
	assert.Equal(t, tensor.Float32, e.Outputs()[0].Dtype)

	in, err := inference.NewBuffers(e.Inputs())
	require.NoError(t, err)
	out, err := inference.NewBuffers(e.Outputs())
	require.NoError(t, err)

	copy(in[0].Data().([]float32), []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, e.Run(in, out))
	assert.Equal(t, []float32{5, 7, 9}, out[0].Data().([]float32))

	copy(in[0].Data().([]float32), []float32{1, 1, 1, 0, 0, 0})
	require.NoError(t, e.Run(in, out), "the tape should be reusable")
	assert.Equal(t, []float32{1, 1, 1}, out[0].Data().([]float32))
}

func TestEngine_Errors(t *testing.T) {
	g := G.NewGraph()
	x := G.NewTensor(g, tensor.Float32, 4, G.WithShape(1, 1, 2, 3), G.WithName("x"))
	_, err := New(g, x)
	assert.Error(t, err, "a graph without outputs is useless")

	_, err = New(nil, nil)
	assert.Error(t, err)

	e := newSumEngine(t)
	in, err := inference.NewBuffers(e.Inputs())
	require.NoError(t, err)
	assert.Error(t, e.Run(in, nil), "output count must match")

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	out, err := inference.NewBuffers(e.Outputs())
	require.NoError(t, err)
	assert.Error(t, e.Run(in, out))
}

func TestNewColorClassifier_Errors(t *testing.T) {
	_, err := NewColorClassifier(0, 2, [][]float32{{1, 0, 0}})
	assert.Error(t, err)
	_, err = NewColorClassifier(2, 2, nil)
	assert.Error(t, err)
	_, err = NewColorClassifier(2, 2, [][]float32{{1, 0}})
	assert.Error(t, err)
}

// TestColorClassifierPipeline recognizes frames end to end on a real graph.
func TestColorClassifierPipeline(t *testing.T) {
	engine, err := NewColorClassifier(2, 2, [][]float32{
		{4, -4, 0},
		{-4, 4, 0},
	})
	require.NoError(t, err)

	p, err := inference.NewPipelineBuilder().
		WithEngine(engine).
		WithModel(model.NewModelArgs{Name: model.ModelNameClassifier, Config: model.DefaultClassifierConfig()}).
		WithLabelTable(labels.New("red", "green")).
		Build()
	require.NoError(t, err)
	defer p.Close()

	frame := func(r, g, b uint8) *images.Pixels {
		px := images.NewPixels(2, 2)
		for i := range px.Data {
			px.Data[i] = images.PackARGB(0xff, r, g, b)
		}
		return px
	}

	results, err := p.Classify(frame(255, 0, 0))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "red", results[0].Label)
	assert.Equal(t, "0", results[0].ID)
	assert.Greater(t, results[0].Confidence, float32(0.99))

	results, err = p.Classify(frame(0, 255, 0))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "green", results[0].Label)
}

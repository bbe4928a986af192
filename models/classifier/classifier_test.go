package classifier

import (
	"testing"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/models/labels"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

var animals = labels.New("cat", "dog", "bird", "fish")

func labelsOf(results []postprocess.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Label
	}
	return out
}

// TestDecode_EndToEnd covers the canonical four-class example.
func TestDecode_EndToEnd(t *testing.T) {
	cfg := model.DefaultClassifierConfig()
	results := Decode([]float32{0.05, 0.9, 0.3, 0.05}, animals, cfg)

	require.Len(t, results, 2, "only scores above 0.1 should survive")
	assert.Equal(t, "dog", results[0].Label)
	assert.Equal(t, float32(0.9), results[0].Confidence)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "bird", results[1].Label)
	assert.Equal(t, float32(0.3), results[1].Confidence)
	for _, r := range results {
		assert.Nil(t, r.Box, "classifications carry no box")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		scores    []float32
		threshold float32
		topK      int
		expected  []string
	}{
		{
			name:      "top k bound",
			scores:    []float32{0.5, 0.6, 0.7, 0.8},
			threshold: 0.1,
			topK:      3,
			expected:  []string{"fish", "bird", "dog"},
		},
		{
			name:      "ties keep the lower index first",
			scores:    []float32{0.4, 0.7, 0.4, 0.4},
			threshold: 0.1,
			topK:      3,
			expected:  []string{"dog", "cat", "bird"},
		},
		{
			name:      "threshold is strict",
			scores:    []float32{0.1, 0.1000001, 0.05, 0},
			threshold: 0.1,
			topK:      3,
			expected:  []string{"dog"},
		},
		{
			name:      "all below threshold",
			scores:    []float32{0.01, 0.02, 0.03, 0.04},
			threshold: 0.1,
			topK:      3,
			expected:  []string{},
		},
		{
			name:      "empty output",
			scores:    nil,
			threshold: 0.1,
			topK:      3,
			expected:  []string{},
		},
		{
			name:      "index past the label table",
			scores:    []float32{0, 0, 0, 0, 0.95},
			threshold: 0.1,
			topK:      3,
			expected:  []string{labels.Unknown},
		},
		{
			name:      "zero top k",
			scores:    []float32{0.9, 0.8},
			threshold: 0.1,
			topK:      0,
			expected:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.Config{ConfidenceThreshold: tt.threshold, TopK: tt.topK}
			results := Decode(tt.scores, animals, cfg)

			assert.Equal(t, tt.expected, labelsOf(results))
			assert.LessOrEqual(t, len(results), tt.topK)
			for i := 1; i < len(results); i++ {
				assert.GreaterOrEqual(t, results[i-1].Confidence, results[i].Confidence)
			}
		})
	}
}

func TestDecode_Deterministic(t *testing.T) {
	scores := []float32{0.3, 0.3, 0.9, 0.3, 0.2}
	cfg := model.DefaultClassifierConfig()

	first := Decode(scores, animals, cfg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Decode(scores, animals, cfg), "decoding the same output must be repeatable")
	}
}

func newTestClassifier(t *testing.T) *Classifier {
	cfg := model.DefaultClassifierConfig()
	cfg.InputWidth, cfg.InputHeight = 2, 2
	m, err := NewModel(model.NewModelArgs{Name: model.ModelNameClassifier, Config: cfg})
	require.NoError(t, err)
	return m
}

func TestClassifier_PostProcess(t *testing.T) {
	m := newTestClassifier(t)

	t.Run("float scores", func(t *testing.T) {
		out := tensor.New(tensor.WithShape(1, 4), tensor.WithBacking([]float32{0.05, 0.9, 0.3, 0.05}))
		results, err := m.PostProcess([]*tensor.Dense{out}, animals)
		require.NoError(t, err)
		assert.Equal(t, []string{"dog", "bird"}, labelsOf(results))
	})

	t.Run("quantized scores", func(t *testing.T) {
		out := tensor.New(tensor.WithShape(1, 4), tensor.WithBacking([]uint8{10, 230, 77, 12}))
		results, err := m.PostProcess([]*tensor.Dense{out}, animals)
		require.NoError(t, err)
		require.Equal(t, []string{"dog", "bird"}, labelsOf(results))
		assert.InDelta(t, 230.0/255.0, results[0].Confidence, 1e-6)
	})

	t.Run("no outputs", func(t *testing.T) {
		_, err := m.PostProcess(nil, animals)
		assert.Error(t, err)
	})
}

func TestClassifier_PreProcess(t *testing.T) {
	m := newTestClassifier(t)
	assert.Equal(t, model.ModelNameClassifier, m.Name())

	px := images.NewPixels(2, 2)
	for i := range px.Data {
		px.Data[i] = images.PackARGB(0xff, 255, 127, 0)
	}
	input := tensor.New(tensor.WithShape(1, 2, 2, 3), tensor.Of(tensor.Float32))
	require.NoError(t, m.PreProcess(px, input))

	data := input.Data().([]float32)
	assert.InDelta(t, 1.0, data[0], 1e-5, "red 255 standardizes to 1")
	assert.InDelta(t, -0.0039, data[1], 1e-3, "green 127 standardizes to about 0")
	assert.InDelta(t, -1.0, data[2], 1e-5, "blue 0 standardizes to -1")
}

func TestNewModel_InvalidConfig(t *testing.T) {
	_, err := NewModel(model.NewModelArgs{Name: model.ModelNameClassifier, Config: model.DefaultClassifierConfig()})
	assert.Error(t, err, "a classifier needs an input size")
}

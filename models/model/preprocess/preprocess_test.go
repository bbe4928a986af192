package preprocess

import (
	"testing"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// testFrame builds a 2x1 frame: a red-ish pixel followed by a blue-ish pixel.
func testFrame() *images.Pixels {
	px := images.NewPixels(2, 1)
	px.Data[0] = images.PackARGB(0xff, 200, 100, 50)
	px.Data[1] = images.PackARGB(0xff, 10, 20, 30)
	return px
}

// TestClassifierLayout validates the RGB, HWC, standardized layout of classifier inputs.
func TestClassifierLayout(t *testing.T) {
	pre, err := NewPreprocessor(&ModelConfig{
		InputWidth:        2,
		InputHeight:       1,
		NormalizationType: NormalizeStandardize,
		MeanValues:        []float32{100, 50, 25},
		StdValues:         []float32{2, 5, 5},
		ColorMode:         ColorModeRGB,
		ChannelOrder:      ChannelOrderHWC,
	})
	require.NoError(t, err, "a valid configuration should build")

	dst := make([]float32, pre.Size())
	require.NoError(t, pre.Float32s(testFrame(), dst))

	expected := []float32{
		(200 - 100) / 2.0, (100 - 50) / 5.0, (50 - 25) / 5.0,
		(10 - 100) / 2.0, (20 - 50) / 5.0, (30 - 25) / 5.0,
	}
	assert.InDeltaSlice(t, expected, dst, 1e-5, "values should be (channel - mean) / std in R,G,B order")
}

// TestDetectorLayout validates the raw BGR byte layout of detector inputs.
func TestDetectorLayout(t *testing.T) {
	pre, err := NewPreprocessor(GetDetectorConfig(2, 1))
	require.NoError(t, err)

	dst := make([]uint8, pre.Size())
	require.NoError(t, pre.Bytes(testFrame(), dst))
	assert.Equal(t, []uint8{50, 100, 200, 30, 20, 10}, dst, "values should be raw bytes in B,G,R order")
}

func TestChannelOrderCHW(t *testing.T) {
	pre, err := NewPreprocessor(&ModelConfig{
		InputWidth:   2,
		InputHeight:  1,
		ChannelOrder: ChannelOrderCHW,
	})
	require.NoError(t, err)

	dst := make([]float32, pre.Size())
	require.NoError(t, pre.Float32s(testFrame(), dst))
	assert.Equal(t, []float32{200, 10, 100, 20, 50, 30}, dst, "each channel should occupy its own plane")
	assert.Equal(t, tensor.Shape{1, 3, 1, 2}, pre.Shape())
}

func TestNormalizationPresets(t *testing.T) {
	tests := []struct {
		name     string
		norm     NormalizationType
		expected float32
	}{
		{"none", NormalizeNone, 200},
		{"zero to one", NormalizeZeroToOne, 200.0 / 255.0},
		{"minus one to one", NormalizeMinusOneToOne, 200.0/127.5 - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pre, err := NewPreprocessor(&ModelConfig{InputWidth: 2, InputHeight: 1, NormalizationType: tt.norm})
			require.NoError(t, err)

			dst := make([]float32, pre.Size())
			require.NoError(t, pre.Float32s(testFrame(), dst))
			assert.InDelta(t, tt.expected, dst[0], 1e-5)
		})
	}
}

func TestGrayscale(t *testing.T) {
	pre, err := NewPreprocessor(&ModelConfig{InputWidth: 2, InputHeight: 1, ColorMode: ColorModeGrayscale})
	require.NoError(t, err)
	assert.Equal(t, 2, pre.Size())

	dst := make([]uint8, pre.Size())
	require.NoError(t, pre.Bytes(testFrame(), dst))
	assert.Equal(t, []uint8{124, 18}, dst, "gray levels should use Rec. 601 weights")
}

func TestProcessTensor(t *testing.T) {
	pre, err := NewPreprocessor(GetClassifierConfig(2, 1))
	require.NoError(t, err)

	t.Run("float32 buffer", func(t *testing.T) {
		dst := tensor.New(tensor.WithShape(pre.Shape()...), tensor.Of(tensor.Float32))
		require.NoError(t, pre.Process(testFrame(), dst))
		assert.InDelta(t, (200-127.5)/127.5, dst.Data().([]float32)[0], 1e-5)
	})

	t.Run("uint8 buffer", func(t *testing.T) {
		dst := tensor.New(tensor.WithShape(pre.Shape()...), tensor.Of(tensor.Uint8))
		require.NoError(t, pre.Process(testFrame(), dst))
		assert.Equal(t, []uint8{200, 100, 50, 10, 20, 30}, dst.Data().([]uint8))
	})

	t.Run("unsupported dtype", func(t *testing.T) {
		dst := tensor.New(tensor.WithShape(pre.Shape()...), tensor.Of(tensor.Int64))
		assert.Error(t, pre.Process(testFrame(), dst))
	})
}

// TestProcessOverwrites ensures a frame never inherits values from a previous one.
func TestProcessOverwrites(t *testing.T) {
	pre, err := NewPreprocessor(GetDetectorConfig(2, 1))
	require.NoError(t, err)

	dst := make([]uint8, pre.Size())
	require.NoError(t, pre.Bytes(testFrame(), dst))

	black := images.NewPixels(2, 1)
	require.NoError(t, pre.Bytes(black, dst))
	assert.Equal(t, make([]uint8, 6), dst)
}

func TestShapeMismatch(t *testing.T) {
	pre, err := NewPreprocessor(GetClassifierConfig(4, 4))
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame *images.Pixels
		size  int
	}{
		{"too few pixels", images.NewPixels(3, 4), 48},
		{"too many pixels", images.NewPixels(5, 4), 48},
		{"inconsistent frame", &images.Pixels{Width: 2, Height: 2, Data: make([]uint32, 16)}, 48},
		{"nil frame", nil, 48},
		{"wrong buffer size", images.NewPixels(4, 4), 47},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pre.Float32s(tt.frame, make([]float32, tt.size))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrShapeMismatch), "expected ErrShapeMismatch, got %v", err)
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *ModelConfig
	}{
		{"zero width", &ModelConfig{InputHeight: 4}},
		{"mean length", &ModelConfig{InputWidth: 4, InputHeight: 4, NormalizationType: NormalizeStandardize, MeanValues: []float32{1, 2}, StdValues: []float32{1}}},
		{"zero std", &ModelConfig{InputWidth: 4, InputHeight: 4, NormalizationType: NormalizeStandardize, MeanValues: []float32{1}, StdValues: []float32{0}}},
		{"grayscale with three channels", &ModelConfig{InputWidth: 4, InputHeight: 4, InputChannels: 3, ColorMode: ColorModeGrayscale}},
		{"unknown normalization", &ModelConfig{InputWidth: 4, InputHeight: 4, NormalizationType: 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPreprocessor(tt.config)
			assert.Error(t, err)
		})
	}
}

func BenchmarkClassifierFloat32s(b *testing.B) {
	pre, err := NewPreprocessor(GetClassifierConfig(224, 224))
	require.NoError(b, err)
	frame := images.NewPixels(224, 224)
	dst := make([]float32, pre.Size())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pre.Float32s(frame, dst)
	}
}

package tflite

import (
	"testing"

	tflite "github.com/mattn/go-tflite"
	"github.com/nvr-ai/go-recognize/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestDtypeOf(t *testing.T) {
	dtype, err := DtypeOf(tflite.Float32)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, dtype)

	dtype, err = DtypeOf(tflite.UInt8)
	require.NoError(t, err)
	assert.Equal(t, tensor.Uint8, dtype)

	_, err = DtypeOf(tflite.Int64)
	assert.Error(t, err)
}

func TestNew_MissingModel(t *testing.T) {
	_, err := New("testdata/missing.tflite", Options{})
	assert.Error(t, err)
}

func TestCheckBuffer(t *testing.T) {
	info := inference.TensorInfo{Name: "normalized_input_image_tensor", Shape: tensor.Shape{1, 2, 2, 3}, Dtype: tensor.Uint8}

	tests := []struct {
		name  string
		buf   *tensor.Dense
		fails bool
	}{
		{"declared shape", tensor.New(tensor.WithShape(1, 2, 2, 3), tensor.Of(tensor.Uint8)), false},
		{"same size, other shape", tensor.New(tensor.WithShape(12), tensor.Of(tensor.Uint8)), false},
		{"too small", tensor.New(tensor.WithShape(1, 2, 2, 1), tensor.Of(tensor.Uint8)), true},
		{"wrong dtype", tensor.New(tensor.WithShape(1, 2, 2, 3), tensor.Of(tensor.Float32)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkBuffer(info, tt.buf)
			if tt.fails {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStoreOutput(t *testing.T) {
	info := inference.TensorInfo{Name: "TFLite_Detection_PostProcess:2", Shape: tensor.Shape{1, 3}, Dtype: tensor.Float32}

	dst := tensor.New(tensor.WithShape(1, 3), tensor.Of(tensor.Float32))
	require.NoError(t, storeOutput(info, []float32{0.9, 0.5, 0.1}, dst))
	assert.Equal(t, []float32{0.9, 0.5, 0.1}, dst.Data())

	assert.Error(t, storeOutput(info, []float32{0.9}, dst), "short interpreter output")
	assert.Error(t, storeOutput(info, []uint8{1, 2, 3}, dst), "interpreter dtype differs")
	assert.Error(t, storeOutput(info, []float32{1, 2, 3, 4}, tensor.New(tensor.WithShape(4), tensor.Of(tensor.Float32))))

	quantized := inference.TensorInfo{Name: "scores", Shape: tensor.Shape{2}, Dtype: tensor.Uint8}
	bytes := tensor.New(tensor.WithShape(2), tensor.Of(tensor.Uint8))
	require.NoError(t, storeOutput(quantized, []uint8{255, 0}, bytes))
	assert.Equal(t, []uint8{255, 0}, bytes.Data())
}

func TestEngine_RunClosed(t *testing.T) {
	e := &Engine{}
	assert.Error(t, e.Run(nil, nil))
	assert.NoError(t, e.Close())
}

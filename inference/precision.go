package inference

import "gorgonia.org/tensor"

// Precision represents the precision of a model.
type Precision string

// Precision constants are the supported precisions for inference.
const (
	PrecisionINT8 Precision = "INT8"
	PrecisionFP32 Precision = "FP32"
)

// PrecisionOf returns the precision of a tensor element type. Quantized models use
// uint8 tensors.
func PrecisionOf(dtype tensor.Dtype) Precision {
	if dtype == tensor.Uint8 {
		return PrecisionINT8
	}
	return PrecisionFP32
}

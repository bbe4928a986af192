package inference

import (
	"strings"

	"github.com/pkg/errors"
)

// EngineType is the type of the engine
type EngineType string

const (
	// EngineONNX is the ONNX engine that uses the onnxruntime library
	EngineONNX EngineType = "onnx"
	// EngineTFLite is the TensorFlow Lite engine that uses the tflite C library
	EngineTFLite EngineType = "tflite"
	// EngineGraph is the pure Go engine that runs a gorgonia expression graph
	EngineGraph EngineType = "graph"
)

// Engines is a list of all supported engines
var Engines = []EngineType{EngineONNX, EngineTFLite, EngineGraph}

// ParseEngineType resolves an engine name, case insensitively.
//
// Arguments:
//   - name: The engine name.
//
// Returns:
//   - EngineType: The engine type.
//   - error: When the engine is not supported.
func ParseEngineType(name string) (EngineType, error) {
	for _, e := range Engines {
		if strings.EqualFold(name, string(e)) {
			return e, nil
		}
	}
	return "", errors.Errorf("unsupported engine %q, expected one of %v", name, Engines)
}

package inference

import (
	"github.com/pkg/errors"
)

// ErrClosedPipeline is returned by Classify once the pipeline has been closed.
var ErrClosedPipeline = errors.New("pipeline is closed")

// EngineError reports a failed engine run. The pipeline stays usable.
type EngineError struct {
	Err error
}

// Error implements error.
func (e *EngineError) Error() string {
	return "inference engine failure: " + e.Err.Error()
}

// Unwrap returns the engine's own error.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Cause returns the engine's own error for errors.Cause.
func (e *EngineError) Cause() error {
	return e.Err
}

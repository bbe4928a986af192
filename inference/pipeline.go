package inference

import (
	"image"
	"sync"
	"time"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/nvr-ai/go-recognize/models/labels"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"gorgonia.org/tensor"
)

// Recognizer turns one frame into ranked results.
type Recognizer interface {
	// Classify recognizes a frame of exactly InputSize pixels.
	Classify(px *images.Pixels) ([]postprocess.Result, error)
	// InputSize returns the frame size the recognizer expects.
	InputSize() image.Point
	// Close releases the recognizer.
	Close() error
}

// Pipeline runs frames through a model and an engine: preprocess, one engine run, decode.
//
// A pipeline owns its engine and tensor buffers. Calls are serialised, so concurrent
// callers wait for each other; use a Pool to recognize frames in parallel.
type Pipeline struct {
	mu     sync.Mutex
	closed bool

	engine  Engine
	model   model.Model
	labels  *labels.Table
	inputs  []*tensor.Dense
	outputs []*tensor.Dense
	size    image.Point
	logger  logging.Logger

	stats       *Stats
	statLogging bool
}

var _ Recognizer = (*Pipeline)(nil)

// Classify recognizes one frame.
//
// Arguments:
//   - px: The frame, exactly InputSize pixels.
//
// Returns:
//   - []postprocess.Result: Results ranked by confidence, highest first.
//   - error: preprocess.ErrShapeMismatch for a wrongly sized frame, *EngineError when the
//     engine fails, ErrClosedPipeline after Close.
func (p *Pipeline) Classify(px *images.Pixels) ([]postprocess.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosedPipeline
	}

	start := time.Now()
	if err := p.model.PreProcess(px, p.inputs[0]); err != nil {
		return nil, err
	}
	preprocessed := time.Now()

	if err := p.engine.Run(p.inputs, p.outputs); err != nil {
		return nil, &EngineError{Err: err}
	}
	inferred := time.Now()

	results, err := p.model.PostProcess(p.outputs, p.labels)
	if err != nil {
		return nil, err
	}
	decoded := time.Now()

	if p.statLogging {
		pre, inf, dec := preprocessed.Sub(start), inferred.Sub(preprocessed), decoded.Sub(inferred)
		p.stats.Record(pre, inf, dec)
		p.logger.Debugw("frame recognized",
			"results", len(results),
			"preprocess", pre,
			"inference", inf,
			"decode", dec,
		)
	}

	return results, nil
}

// InputSize returns the frame size the pipeline expects.
func (p *Pipeline) InputSize() image.Point {
	return p.size
}

// Model returns the model family the pipeline decodes with.
func (p *Pipeline) Model() model.Model {
	return p.model
}

// Labels returns the label table of the pipeline.
func (p *Pipeline) Labels() *labels.Table {
	return p.labels
}

// EnableStatLogging turns per stage timing on or off. Turning it off keeps the
// statistics recorded so far.
func (p *Pipeline) EnableStatLogging(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statLogging = enabled
}

// StatString returns the timing statistics, or an empty string while stat logging is off.
func (p *Pipeline) StatString() string {
	p.mu.Lock()
	enabled := p.statLogging
	p.mu.Unlock()
	if !enabled {
		return ""
	}
	return p.stats.String()
}

// Stats returns the timing statistics of the pipeline.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Close releases the engine. Closing twice is a no-op.
//
// Returns:
//   - error: The engine's error when releasing it fails.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.inputs, p.outputs = nil, nil
	return p.engine.Close()
}

package inference

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"github.com/pkg/errors"
)

// Frame is one frame handed to a Runner.
type Frame struct {
	// Seq numbers submitted frames from 1, including dropped ones.
	Seq uint64
	// Pixels is only valid until the handler returns.
	Pixels *images.Pixels
	// Time is when the frame was submitted.
	Time time.Time
}

// Handler receives the outcome of each recognized frame.
type Handler func(frame Frame, results []postprocess.Result, err error)

// Runner recognizes frames on its own goroutine and delivers the results to a handler.
//
// At most one frame waits while another is being recognized; submitting a newer frame
// replaces the waiting one so results always describe the latest frame available.
type Runner struct {
	recognizer Recognizer
	handler    Handler
	logger     logging.Logger

	pending chan Frame
	buffers sync.Pool
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewRunner creates a runner.
//
// Arguments:
//   - recognizer: Recognizes the frames.
//   - handler: Receives every recognized frame.
//   - logger: The logger. Nil disables logging.
//
// Returns:
//   - *Runner: The runner. Call Run to start processing.
func NewRunner(recognizer Recognizer, handler Handler, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	size := recognizer.InputSize()
	return &Runner{
		recognizer: recognizer,
		handler:    handler,
		logger:     logger,
		pending:    make(chan Frame, 1),
		buffers: sync.Pool{
			New: func() any { return images.NewPixels(size.X, size.Y) },
		},
	}
}

// Submit queues a copy of px without blocking.
//
// Returns:
//   - bool: False when the frame was dropped because the size is wrong or a newer frame
//     arrived concurrently.
func (r *Runner) Submit(px *images.Pixels) bool {
	size := r.recognizer.InputSize()
	if px == nil || px.Width != size.X || px.Height != size.Y || !px.Consistent() {
		r.dropped.Add(1)
		return false
	}

	buf := r.buffers.Get().(*images.Pixels)
	copy(buf.Data, px.Data)
	frame := Frame{Seq: r.seq.Add(1), Pixels: buf, Time: time.Now()}

	for attempt := 0; attempt < 2; attempt++ {
		select {
		case r.pending <- frame:
			return true
		default:
		}
		select {
		case stale := <-r.pending:
			r.dropped.Add(1)
			r.buffers.Put(stale.Pixels)
		default:
		}
	}

	r.dropped.Add(1)
	r.buffers.Put(buf)
	return false
}

// Dropped returns how many submitted frames were never recognized.
func (r *Runner) Dropped() uint64 {
	return r.dropped.Load()
}

// Run recognizes frames until ctx is done or the recognizer is closed.
//
// Arguments:
//   - ctx: Stops the loop.
//
// Returns:
//   - error: ctx.Err(), or ErrClosedPipeline when the recognizer was closed underneath.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Debugw("runner started", "input", r.recognizer.InputSize())
	defer r.logger.Debugw("runner stopped", "dropped", r.Dropped())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-r.pending:
			results, err := r.recognizer.Classify(frame.Pixels)
			if r.handler != nil {
				r.handler(frame, results, err)
			}
			r.buffers.Put(frame.Pixels)

			if errors.Is(err, ErrClosedPipeline) {
				return err
			}
			if err != nil {
				r.logger.Warnw("frame not recognized", "seq", frame.Seq, "error", err)
			}
		}
	}
}

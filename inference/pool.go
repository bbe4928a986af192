package inference

import (
	"context"
	"image"
	"sync"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Pool recognizes frames in parallel by handing each call a whole idle recognizer.
type Pool struct {
	idle    chan Recognizer
	members []Recognizer
	size    image.Point
	done    chan struct{}
	once    sync.Once
}

var _ Recognizer = (*Pool)(nil)

// NewPool creates a pool over recognizers that share one input size. The pool owns them.
//
// Arguments:
//   - members: The recognizers, usually pipelines built from the same model.
//
// Returns:
//   - *Pool: The pool.
//   - error: When the pool is empty or the input sizes differ.
func NewPool(members ...Recognizer) (*Pool, error) {
	if len(members) == 0 {
		return nil, errors.New("pool needs at least one recognizer")
	}
	size := members[0].InputSize()
	idle := make(chan Recognizer, len(members))
	for i, m := range members {
		if m.InputSize() != size {
			return nil, errors.Errorf("recognizer %d expects %v frames, pool expects %v", i, m.InputSize(), size)
		}
		idle <- m
	}
	return &Pool{
		idle:    idle,
		members: members,
		size:    size,
		done:    make(chan struct{}),
	}, nil
}

// Classify recognizes one frame on the next idle recognizer, waiting for one if needed.
func (p *Pool) Classify(px *images.Pixels) ([]postprocess.Result, error) {
	return p.ClassifyContext(context.Background(), px)
}

// ClassifyContext is Classify with a deadline on waiting for an idle recognizer. The
// recognition itself is never interrupted.
//
// Arguments:
//   - ctx: Bounds the wait for an idle recognizer.
//   - px: The frame.
//
// Returns:
//   - []postprocess.Result: The ranked results.
//   - error: ctx.Err() when the wait is cancelled, ErrClosedPipeline after Close.
func (p *Pool) ClassifyContext(ctx context.Context, px *images.Pixels) ([]postprocess.Result, error) {
	select {
	case <-p.done:
		return nil, ErrClosedPipeline
	default:
	}

	var r Recognizer
	select {
	case r = <-p.idle:
	case <-p.done:
		return nil, ErrClosedPipeline
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.idle <- r }()

	return r.Classify(px)
}

// InputSize returns the frame size every member expects.
func (p *Pool) InputSize() image.Point {
	return p.size
}

// Size returns the number of recognizers in the pool.
func (p *Pool) Size() int {
	return len(p.members)
}

// Close closes every member. Calls in progress finish first; later calls fail with
// ErrClosedPipeline.
func (p *Pool) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		for _, m := range p.members {
			err = multierr.Append(err, m.Close())
		}
	})
	return err
}

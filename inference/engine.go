// Package inference - Inference engine contract and the recognition pipeline.
package inference

import (
	"fmt"
	"image"

	"github.com/nvr-ai/go-recognize/logging"
	"github.com/nvr-ai/go-recognize/models"
	"github.com/nvr-ai/go-recognize/models/labels"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/nvr-ai/go-recognize/models/model/preprocess"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"
)

// TensorInfo describes one declared input or output of an engine.
type TensorInfo struct {
	Name  string
	Shape tensor.Shape
	Dtype tensor.Dtype
}

// String implements fmt.Stringer.
func (i TensorInfo) String() string {
	return fmt.Sprintf("%s%v(%v)", i.Name, i.Shape, i.Dtype)
}

// Engine is an inference backend with a fixed shape contract.
//
// Inputs and Outputs are queried once when a pipeline is built. Run reads every input
// buffer and overwrites every output buffer; the buffers always have the declared
// shapes and dtypes. An engine is used by one goroutine at a time.
type Engine interface {
	Inputs() []TensorInfo
	Outputs() []TensorInfo
	Run(inputs, outputs []*tensor.Dense) error
	Close() error
}

// PipelineBuilder builds pipelines with a fluent API. The first error sticks and is
// returned by Build.
type PipelineBuilder struct {
	engine      Engine
	args        model.NewModelArgs
	hasModel    bool
	labels      *labels.Table
	logger      logging.Logger
	statLogging bool
	statWindow  int
	err         error
}

// NewPipelineBuilder creates a new pipeline builder.
//
// Returns:
//   - *PipelineBuilder: The pipeline builder.
func NewPipelineBuilder() *PipelineBuilder {
	return &PipelineBuilder{statWindow: DefaultStatWindow}
}

// WithEngine sets the engine. The pipeline owns it from here on: Build closes it on
// failure and Pipeline.Close closes it on success.
//
// Arguments:
//   - engine: The inference engine.
//
// Returns:
//   - *PipelineBuilder: The pipeline builder.
func (b *PipelineBuilder) WithEngine(engine Engine) *PipelineBuilder {
	b.engine = engine
	return b
}

// WithModel sets the model family and its decoding configuration. Zero input
// dimensions are resolved from the engine.
//
// Arguments:
//   - args: The model arguments.
//
// Returns:
//   - *PipelineBuilder: The pipeline builder.
func (b *PipelineBuilder) WithModel(args model.NewModelArgs) *PipelineBuilder {
	if b.HasError() {
		return b
	}
	b.args = args
	b.hasModel = true
	return b
}

// WithLabels loads the label file at path.
//
// Arguments:
//   - path: The label file, one label per line.
//
// Returns:
//   - *PipelineBuilder: The pipeline builder.
func (b *PipelineBuilder) WithLabels(path string) *PipelineBuilder {
	if b.HasError() {
		return b
	}
	table, err := labels.Load(path)
	if err != nil {
		b.err = err
		return b
	}
	b.labels = table
	return b
}

// WithLabelTable sets an already loaded label table.
func (b *PipelineBuilder) WithLabelTable(table *labels.Table) *PipelineBuilder {
	if b.HasError() {
		return b
	}
	b.labels = table
	return b
}

// WithLogger sets the logger. Pipelines log nothing by default.
func (b *PipelineBuilder) WithLogger(logger logging.Logger) *PipelineBuilder {
	b.logger = logger
	return b
}

// WithStatLogging enables per-stage timing from the first frame.
//
// Arguments:
//   - enabled: Whether to record timings.
//   - window: How many recent frames the statistics cover. Non-positive keeps the default.
//
// Returns:
//   - *PipelineBuilder: The pipeline builder.
func (b *PipelineBuilder) WithStatLogging(enabled bool, window int) *PipelineBuilder {
	b.statLogging = enabled
	if window > 0 {
		b.statWindow = window
	}
	return b
}

// HasError checks if the pipeline builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *PipelineBuilder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the pipeline and panics if there is an error.
//
// Returns:
//   - *Pipeline: The pipeline.
func (b *PipelineBuilder) MustBuild() *Pipeline {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

// Build resolves the input size from the engine, creates the model and allocates every
// tensor buffer the pipeline will use.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: The error if any. The engine has been closed when an error is returned.
func (b *PipelineBuilder) Build() (p *Pipeline, err error) {
	if b.engine == nil {
		return nil, multierr.Append(b.err, errors.New("engine not configured"))
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.engine.Close())
		}
	}()

	if b.HasError() {
		return nil, b.err
	}
	if !b.hasModel {
		return nil, errors.New("model not configured")
	}
	if b.labels == nil {
		return nil, errors.Wrap(labels.ErrSourceUnavailable, "labels not configured")
	}

	inputs := b.engine.Inputs()
	if len(inputs) != 1 {
		return nil, errors.Errorf("engine declares %d inputs, pipelines need exactly one", len(inputs))
	}
	outputs := b.engine.Outputs()
	if len(outputs) == 0 {
		return nil, errors.New("engine declares no outputs")
	}

	args := b.args
	size, order, err := InputLayout(inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	if args.Config.InputWidth == 0 && args.Config.InputHeight == 0 {
		args.Config.InputWidth, args.Config.InputHeight = size.X, size.Y
	} else if args.Config.InputWidth != size.X || args.Config.InputHeight != size.Y {
		return nil, errors.Errorf("configured input %dx%d does not match engine input %v",
			args.Config.InputWidth, args.Config.InputHeight, inputs[0])
	}
	args.Config.ChannelOrder = order

	m, err := models.NewModel(args)
	if err != nil {
		return nil, errors.Wrap(err, "creating model")
	}
	if binder, ok := m.(model.Binder); ok {
		names := make([]string, len(outputs))
		for i, o := range outputs {
			names[i] = o.Name
		}
		if err := binder.Bind(names); err != nil {
			return nil, err
		}
	}

	inBufs, err := NewBuffers(inputs)
	if err != nil {
		return nil, errors.Wrap(err, "allocating input buffers")
	}
	outBufs, err := NewBuffers(outputs)
	if err != nil {
		return nil, errors.Wrap(err, "allocating output buffers")
	}

	logger := b.logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger.Infow("pipeline ready",
		"model", m.Name(),
		"input", inputs[0].String(),
		"precision", PrecisionOf(inputs[0].Dtype),
		"outputs", len(outputs),
		"labels", b.labels.Len(),
	)

	return &Pipeline{
		engine:      b.engine,
		model:       m,
		labels:      b.labels,
		inputs:      inBufs,
		outputs:     outBufs,
		size:        size,
		logger:      logger,
		stats:       NewStats(b.statWindow),
		statLogging: b.statLogging,
	}, nil
}

// InputLayout derives the frame size and channel order from an image input shape.
// Shapes are [N,H,W,C], [N,C,H,W], [H,W,C] or [C,H,W] with 1 or 3 channels; a
// trailing channel dimension wins when both readings are possible.
//
// Arguments:
//   - shape: The declared input shape.
//
// Returns:
//   - image.Point: The input width and height.
//   - preprocess.ChannelOrder: The layout of the channels.
//   - error: When the shape is not an image shape.
func InputLayout(shape tensor.Shape) (image.Point, preprocess.ChannelOrder, error) {
	dims := []int(shape)
	if len(dims) == 4 {
		if dims[0] != 1 {
			return image.Point{}, 0, errors.Errorf("input batch size must be 1, shape is %v", shape)
		}
		dims = dims[1:]
	}
	if len(dims) != 3 {
		return image.Point{}, 0, errors.Errorf("input shape %v is not an image shape", shape)
	}

	isChannels := func(n int) bool { return n == 1 || n == 3 }
	switch {
	case isChannels(dims[2]):
		if dims[0] <= 0 || dims[1] <= 0 {
			break
		}
		return image.Pt(dims[1], dims[0]), preprocess.ChannelOrderHWC, nil
	case isChannels(dims[0]):
		if dims[1] <= 0 || dims[2] <= 0 {
			break
		}
		return image.Pt(dims[2], dims[1]), preprocess.ChannelOrderCHW, nil
	}
	return image.Point{}, 0, errors.Errorf("input shape %v has no 1 or 3 channel dimension", shape)
}

// NewBuffers allocates one tensor per declared shape.
func NewBuffers(infos []TensorInfo) ([]*tensor.Dense, error) {
	bufs := make([]*tensor.Dense, len(infos))
	for i, info := range infos {
		if len(info.Shape) == 0 || info.Shape.TotalSize() <= 0 {
			return nil, errors.Errorf("tensor %v has no static size", info)
		}
		for _, d := range info.Shape {
			if d <= 0 {
				return nil, errors.Errorf("tensor %v has no static size", info)
			}
		}
		switch info.Dtype {
		case tensor.Float32, tensor.Uint8:
		default:
			return nil, errors.Errorf("tensor %v has unsupported dtype", info)
		}
		bufs[i] = tensor.New(tensor.WithShape(info.Shape...), tensor.Of(info.Dtype))
	}
	return bufs, nil
}

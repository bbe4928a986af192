package main

import (
	"io"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-recognize/config"
	"github.com/nvr-ai/go-recognize/inference"
	"github.com/nvr-ai/go-recognize/inference/engines/onnx"
	"github.com/nvr-ai/go-recognize/inference/engines/tflite"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

// recognizer is the pool of pipelines a command recognizes with.
type recognizer struct {
	*inference.Pool
	pipelines []*inference.Pipeline
}

// statString renders the statistics of every pipeline, prefixed by its index when there
// are several.
func (r *recognizer) statString() string {
	if len(r.pipelines) == 1 {
		return r.pipelines[0].StatString()
	}
	var b strings.Builder
	for i, p := range r.pipelines {
		s := p.StatString()
		if s == "" {
			continue
		}
		b.WriteString("pipeline ")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\n")
		b.WriteString(s)
		if !strings.HasSuffix(s, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// newLogger builds the root logger from the log configuration. Logs are written to w so
// that stdout only carries results.
func newLogger(cfg config.Log, debug bool, w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = zapcore.DebugLevel
	}
	return logging.NewWriterLogger("recognize", level, cfg.JSON, w), nil
}

// newEngine opens the configured model with the configured engine.
func newEngine(cfg config.Engine, logger logging.Logger) (inference.Engine, error) {
	typ, err := inference.ParseEngineType(string(cfg.Type))
	if err != nil {
		return nil, err
	}
	switch typ {
	case inference.EngineONNX:
		return onnx.New(cfg.ModelPath, onnx.Options{
			SharedLibraryPath: cfg.SharedLibraryPath,
			Provider:          cfg.Provider,
			Logger:            logger.Named("onnx"),
		})
	case inference.EngineTFLite:
		return tflite.New(cfg.ModelPath, tflite.Options{
			NumThreads: cfg.Threads,
			Logger:     logger.Named("tflite"),
		})
	default:
		return nil, errors.Errorf("engine %q cannot load model files, graph engines are built in code", typ)
	}
}

// engineFactory opens one engine per pipeline.
type engineFactory func(cfg config.Engine, logger logging.Logger) (inference.Engine, error)

// newRecognizer builds cfg.Engine.Pipelines pipelines, each on its own engine, and
// pools them.
func newRecognizer(cfg config.Config, open engineFactory, logger logging.Logger) (_ *recognizer, err error) {
	table, err := cfg.Labels.LoadLabels()
	if err != nil {
		return nil, err
	}

	var pipelines []*inference.Pipeline
	defer func() {
		if err != nil {
			for _, p := range pipelines {
				err = multierr.Append(err, p.Close())
			}
		}
	}()

	members := make([]inference.Recognizer, 0, cfg.Engine.Pipelines)
	for i := 0; i < cfg.Engine.Pipelines; i++ {
		engine, err := open(cfg.Engine, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "opening engine %d", i)
		}
		p, err := inference.NewPipelineBuilder().
			WithEngine(engine).
			WithModel(cfg.Model).
			WithLabelTable(table).
			WithLogger(logger.With("pipeline", i)).
			WithStatLogging(cfg.Stats.Enabled, cfg.Stats.Window).
			Build()
		if err != nil {
			return nil, errors.Wrapf(err, "building pipeline %d", i)
		}
		pipelines = append(pipelines, p)
		members = append(members, p)
	}

	pool, err := inference.NewPool(members...)
	if err != nil {
		return nil, err
	}
	return &recognizer{Pool: pool, pipelines: pipelines}, nil
}

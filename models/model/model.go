// Package model - Definitions shared by the recognition model families.
package model

import (
	"fmt"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/models/labels"
	"github.com/nvr-ai/go-recognize/models/model/preprocess"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"gorgonia.org/tensor"
)

// Name is the unique identifier of a model family.
type Name string

const (
	// ModelNameClassifier is an image classifier producing one score per label.
	ModelNameClassifier Name = "classifier"
	// ModelNameDetector is an SSD style detector producing boxes, classes, scores and a count.
	ModelNameDetector Name = "detector"
)

const (
	// DefaultTopK is the number of classifications kept per frame.
	DefaultTopK = 3
	// DefaultConfidenceThreshold is the score a classification must exceed.
	DefaultConfidenceThreshold = 0.1
	// DefaultMaxDetections is the number of detection slots an SSD model reports.
	DefaultMaxDetections = 100
)

// Config is the immutable decoding and preprocessing configuration of a pipeline.
type Config struct {
	// InputWidth is the model input width. Zero means "take it from the engine".
	InputWidth int `json:"input_width" yaml:"input_width"`
	// InputHeight is the model input height. Zero means "take it from the engine".
	InputHeight int `json:"input_height" yaml:"input_height"`
	// Mean is subtracted from each channel before dividing by Std. One value is shared
	// by all channels.
	Mean []float32 `json:"mean" yaml:"mean"`
	// Std divides each channel after subtracting Mean.
	Std []float32 `json:"std" yaml:"std"`
	// ConfidenceThreshold is the score a classification must strictly exceed.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// TopK bounds the number of classifications returned.
	TopK int `json:"top_k" yaml:"top_k"`
	// MaxDetections bounds the number of detections returned.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
	// ChannelOrder is the input layout. HWC unless the engine declares a CHW input.
	ChannelOrder preprocess.ChannelOrder `json:"channel_order" yaml:"channel_order"`
	// NMS optionally suppresses overlapping detections. Disabled when nil.
	NMS *postprocess.NMSConfig `json:"nms" yaml:"nms"`
}

// DefaultClassifierConfig returns the classifier defaults: top 3 above 0.1.
func DefaultClassifierConfig() Config {
	return Config{
		Mean:                []float32{127.5},
		Std:                 []float32{127.5},
		ConfidenceThreshold: DefaultConfidenceThreshold,
		TopK:                DefaultTopK,
	}
}

// DefaultDetectorConfig returns the detector defaults: every reported slot is kept.
func DefaultDetectorConfig() Config {
	return Config{
		MaxDetections: DefaultMaxDetections,
	}
}

// Validate checks the configuration once the input size is known.
func (c Config) Validate() error {
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("invalid input dimensions: %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", c.TopK)
	}
	if c.MaxDetections < 0 {
		return fmt.Errorf("max_detections must not be negative, got %d", c.MaxDetections)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0, 1], got %f", c.ConfidenceThreshold)
	}
	return nil
}

// Model is a model family: how frames become inputs and outputs become results.
type Model interface {
	// Name returns the family of the model.
	Name() Name
	// Config returns the configuration the model was built with.
	Config() Config
	// PreProcess writes a frame into the pre-allocated input tensor.
	PreProcess(px *images.Pixels, input *tensor.Dense) error
	// PostProcess decodes the output tensors of one run into ranked results.
	PostProcess(outputs []*tensor.Dense, labels *labels.Table) ([]postprocess.Result, error)
}

// Binder is implemented by models that need to know the names of the engine outputs
// to locate their tensors.
type Binder interface {
	Bind(outputs []string) error
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name   Name   `json:"name" yaml:"name"`
	Config Config `json:"config" yaml:"config"`
}

// Values returns the elements of a float32 or uint8 tensor as float32. Uint8 tensors are
// quantized scores and are scaled into [0, 1] when dequantize is set.
//
// Arguments:
//   - t: The tensor to read.
//   - dst: A reusable destination slice.
//   - dequantize: Whether uint8 values should be divided by 255.
//
// Returns:
//   - []float32: dst resized to the tensor length.
//   - error: When the tensor dtype is not supported.
func Values(t *tensor.Dense, dst []float32, dequantize bool) ([]float32, error) {
	if t == nil {
		return dst[:0], nil
	}
	switch data := t.Data().(type) {
	case []float32:
		return append(dst[:0], data...), nil
	case []uint8:
		dst = dst[:0]
		for _, v := range data {
			if dequantize {
				dst = append(dst, float32(v)/255)
			} else {
				dst = append(dst, float32(v))
			}
		}
		return dst, nil
	case float32:
		return append(dst[:0], data), nil
	default:
		return nil, fmt.Errorf("unsupported output dtype %v", t.Dtype())
	}
}

// Package preprocess - Converts camera frames into model input tensors.
package preprocess

import (
	"fmt"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch is returned when a frame or buffer does not match the model input.
var ErrShapeMismatch = errors.New("shape mismatch")

// ModelConfig defines preprocessing configuration for a specific model.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string `json:"name" yaml:"name"`
	// InputWidth is the expected width of the model input.
	InputWidth int `json:"input_width" yaml:"input_width"`
	// InputHeight is the expected height of the model input.
	InputHeight int `json:"input_height" yaml:"input_height"`
	// InputChannels is the number of channels (1 for grayscale, 3 for color).
	InputChannels int `json:"input_channels" yaml:"input_channels"`
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType `json:"normalization" yaml:"normalization"`
	// MeanValues for standardization, one per channel or a single shared value.
	MeanValues []float32 `json:"mean" yaml:"mean"`
	// StdValues for standardization, one per channel or a single shared value.
	StdValues []float32 `json:"std" yaml:"std"`
	// ChannelOrder defines the channel ordering (CHW or HWC).
	ChannelOrder ChannelOrder `json:"channel_order" yaml:"channel_order"`
	// ColorMode defines the color space (RGB, BGR, Grayscale).
	ColorMode ColorMode `json:"color_mode" yaml:"color_mode"`
}

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = iota
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne
	// NormalizeStandardize applies (value - mean) / std per channel.
	NormalizeStandardize
)

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderHWC is Height-Width-Channel ordering (TensorFlow Lite, NHWC models).
	ChannelOrderHWC ChannelOrder = iota
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW
)

// ColorMode defines the color space of the image.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR is BGR color mode (common for OpenCV models).
	ColorModeBGR
	// ColorModeGrayscale is single channel grayscale.
	ColorModeGrayscale
)

// Preprocessor writes frames into pre-allocated input tensors. It never allocates
// once constructed and holds no per-frame state.
type Preprocessor struct {
	config *ModelConfig
	mean   [3]float32
	std    [3]float32
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - *Preprocessor: A configured Preprocessor instance.
//   - error: When the dimensions or normalization values are invalid.
//
// @example
//
//	pre, err := NewPreprocessor(GetClassifierConfig(224, 224))
//	if err != nil {
//	    return err
//	}
//	err = pre.Process(frame, input)
func NewPreprocessor(config *ModelConfig) (*Preprocessor, error) {
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid input dimensions: %dx%d", config.InputWidth, config.InputHeight)
	}
	if config.InputChannels == 0 {
		config.InputChannels = 3
		if config.ColorMode == ColorModeGrayscale {
			config.InputChannels = 1
		}
	}
	if (config.ColorMode == ColorModeGrayscale) != (config.InputChannels == 1) || config.InputChannels > 3 {
		return nil, fmt.Errorf("color mode %d cannot produce %d channels", config.ColorMode, config.InputChannels)
	}

	p := &Preprocessor{config: config}
	for c := 0; c < 3; c++ {
		p.mean[c], p.std[c] = 0, 1
	}

	switch config.NormalizationType {
	case NormalizeNone:
	case NormalizeZeroToOne:
		p.fill(0, 255)
	case NormalizeMinusOneToOne:
		p.fill(127.5, 127.5)
	case NormalizeStandardize:
		if err := p.standardize(config.MeanValues, config.StdValues); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown normalization type: %d", config.NormalizationType)
	}

	return p, nil
}

func (p *Preprocessor) fill(mean, std float32) {
	for c := range p.mean {
		p.mean[c], p.std[c] = mean, std
	}
}

func (p *Preprocessor) standardize(mean, std []float32) error {
	channels := p.config.InputChannels
	pick := func(values []float32, name string) ([3]float32, error) {
		var out [3]float32
		switch len(values) {
		case 1:
			out = [3]float32{values[0], values[0], values[0]}
		case channels:
			copy(out[:], values)
		default:
			return out, fmt.Errorf("%s needs 1 or %d values, got %d", name, channels, len(values))
		}
		return out, nil
	}

	m, err := pick(mean, "mean")
	if err != nil {
		return err
	}
	s, err := pick(std, "std")
	if err != nil {
		return err
	}
	for c := 0; c < channels; c++ {
		if s[c] == 0 {
			return fmt.Errorf("std for channel %d must not be zero", c)
		}
	}
	p.mean, p.std = m, s
	return nil
}

// Config returns the configuration the preprocessor was built with.
func (p *Preprocessor) Config() ModelConfig {
	return *p.config
}

// Size returns the number of tensor elements one frame occupies.
func (p *Preprocessor) Size() int {
	return p.config.InputWidth * p.config.InputHeight * p.config.InputChannels
}

// Shape returns the batch-of-one tensor shape for the configured channel order.
func (p *Preprocessor) Shape() tensor.Shape {
	if p.config.ChannelOrder == ChannelOrderCHW {
		return tensor.Shape{1, p.config.InputChannels, p.config.InputHeight, p.config.InputWidth}
	}
	return tensor.Shape{1, p.config.InputHeight, p.config.InputWidth, p.config.InputChannels}
}

// Process writes the frame into dst, overwriting every element.
//
// Float32 buffers receive normalized values. Uint8 buffers receive the raw channel
// bytes in the configured color order; quantized models carry their own input scale.
//
// Arguments:
//   - src: The frame, InputWidth*InputHeight pixels.
//   - dst: The pre-allocated input tensor.
//
// Returns:
//   - error: ErrShapeMismatch when the frame or buffer has the wrong size.
func (p *Preprocessor) Process(src *images.Pixels, dst *tensor.Dense) error {
	if dst == nil {
		return errors.Wrap(ErrShapeMismatch, "no input buffer")
	}
	switch data := dst.Data().(type) {
	case []float32:
		return p.Float32s(src, data)
	case []uint8:
		return p.Bytes(src, data)
	default:
		return errors.Errorf("unsupported input dtype %v", dst.Dtype())
	}
}

// Float32s writes the normalized frame into dst.
func (p *Preprocessor) Float32s(src *images.Pixels, dst []float32) error {
	if err := p.check(src, len(dst)); err != nil {
		return err
	}

	plane := p.config.InputWidth * p.config.InputHeight
	channels := p.config.InputChannels
	chw := p.config.ChannelOrder == ChannelOrderCHW
	var v [3]float32

	for i, px := range src.Data {
		n := p.channels(px, &v)
		for c := 0; c < n; c++ {
			value := (v[c] - p.mean[c]) / p.std[c]
			if chw {
				dst[c*plane+i] = value
			} else {
				dst[i*channels+c] = value
			}
		}
	}
	return nil
}

// Bytes writes the raw frame bytes into dst.
func (p *Preprocessor) Bytes(src *images.Pixels, dst []uint8) error {
	if err := p.check(src, len(dst)); err != nil {
		return err
	}

	plane := p.config.InputWidth * p.config.InputHeight
	channels := p.config.InputChannels
	chw := p.config.ChannelOrder == ChannelOrderCHW
	var v [3]float32

	for i, px := range src.Data {
		n := p.channels(px, &v)
		for c := 0; c < n; c++ {
			if chw {
				dst[c*plane+i] = uint8(v[c])
			} else {
				dst[i*channels+c] = uint8(v[c])
			}
		}
	}
	return nil
}

// channels unpacks px into v in the configured color order and returns the count.
func (p *Preprocessor) channels(px uint32, v *[3]float32) int {
	_, r, g, b := images.UnpackARGB(px)
	switch p.config.ColorMode {
	case ColorModeBGR:
		v[0], v[1], v[2] = float32(b), float32(g), float32(r)
		return 3
	case ColorModeGrayscale:
		// Rounded so that byte buffers see the nearest gray level.
		v[0] = float32(uint8(0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b) + 0.5))
		return 1
	default:
		v[0], v[1], v[2] = float32(r), float32(g), float32(b)
		return 3
	}
}

func (p *Preprocessor) check(src *images.Pixels, n int) error {
	want := p.config.InputWidth * p.config.InputHeight
	if src == nil {
		return errors.Wrap(ErrShapeMismatch, "no frame")
	}
	if len(src.Data) != want || !src.Consistent() {
		return errors.Wrapf(ErrShapeMismatch, "frame has %d pixels (%dx%d), model expects %dx%d",
			len(src.Data), src.Width, src.Height, p.config.InputWidth, p.config.InputHeight)
	}
	if n != p.Size() {
		return errors.Wrapf(ErrShapeMismatch, "input buffer holds %d values, frame needs %d", n, p.Size())
	}
	return nil
}

// GetClassifierConfig returns the configuration for MobileNet style float classifiers:
// RGB, HWC, standardized around 127.5.
//
// Arguments:
//   - width: The model input width.
//   - height: The model input height.
//
// Returns:
//   - A configured ModelConfig.
//
// @example
// config := GetClassifierConfig(224, 224)
// preprocessor, err := NewPreprocessor(config)
func GetClassifierConfig(width, height int) *ModelConfig {
	return &ModelConfig{
		Name:              "classifier",
		InputWidth:        width,
		InputHeight:       height,
		InputChannels:     3,
		NormalizationType: NormalizeStandardize,
		MeanValues:        []float32{127.5},
		StdValues:         []float32{127.5},
		ChannelOrder:      ChannelOrderHWC,
		ColorMode:         ColorModeRGB,
	}
}

// GetDetectorConfig returns the configuration for SSD style detectors that consume
// raw BGR bytes in HWC order.
//
// Arguments:
//   - width: The model input width.
//   - height: The model input height.
//
// Returns:
//   - A configured ModelConfig.
//
// @example
// config := GetDetectorConfig(300, 300)
// preprocessor, err := NewPreprocessor(config)
func GetDetectorConfig(width, height int) *ModelConfig {
	return &ModelConfig{
		Name:              "detector",
		InputWidth:        width,
		InputHeight:       height,
		InputChannels:     3,
		NormalizationType: NormalizeNone,
		ChannelOrder:      ChannelOrderHWC,
		ColorMode:         ColorModeBGR,
	}
}

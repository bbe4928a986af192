// Package classifier - Image classifier producing one score per label.
package classifier

import (
	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/nvr-ai/go-recognize/models/model/preprocess"
	"gorgonia.org/tensor"
)

// Classifier is the instance of the classifier model.
type Classifier struct {
	config       model.Config
	preprocessor *preprocess.Preprocessor
	scores       []float32
}

// NewModel creates a new classifier.
//
// Arguments:
//   - args: The arguments for creating a new model. The input size must be set.
//
// Returns:
//   - The model.
//   - An error when the configuration is invalid.
func NewModel(args model.NewModelArgs) (*Classifier, error) {
	cfg := args.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pc := preprocess.GetClassifierConfig(cfg.InputWidth, cfg.InputHeight)
	pc.ChannelOrder = cfg.ChannelOrder
	if len(cfg.Mean) > 0 || len(cfg.Std) > 0 {
		pc.MeanValues = cfg.Mean
		pc.StdValues = cfg.Std
	}
	if len(pc.MeanValues) == 0 {
		pc.MeanValues = []float32{0}
	}
	if len(pc.StdValues) == 0 {
		pc.StdValues = []float32{1}
	}

	pre, err := preprocess.NewPreprocessor(pc)
	if err != nil {
		return nil, err
	}

	return &Classifier{
		config:       cfg,
		preprocessor: pre,
	}, nil
}

// Name returns the model family.
func (m *Classifier) Name() model.Name {
	return model.ModelNameClassifier
}

// Config returns the configuration for the classifier.
func (m *Classifier) Config() model.Config {
	return m.config
}

// PreProcess writes the frame as R,G,B values normalized with the configured mean and std.
func (m *Classifier) PreProcess(px *images.Pixels, input *tensor.Dense) error {
	return m.preprocessor.Process(px, input)
}

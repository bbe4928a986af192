// Package models - registry for models.
package models

import (
	"fmt"

	"github.com/nvr-ai/go-recognize/models/classifier"
	"github.com/nvr-ai/go-recognize/models/detector"
	"github.com/nvr-ai/go-recognize/models/model"
)

// NewModel creates a model instance for the requested family.
//
// The input size in args.Config must already be resolved; the pipeline builder fills
// it from the engine's declared input shape.
//
// Arguments:
//   - args: The model family and its decoding configuration.
//
// Returns:
//   - model.Model: A configured model.
//   - error: When the family is unknown or the configuration is invalid.
//
// Example:
//
// ```go
//
//	cfg := model.DefaultClassifierConfig()
//	cfg.InputWidth, cfg.InputHeight = 224, 224
//
//	m, err := models.NewModel(model.NewModelArgs{
//	    Name:   model.ModelNameClassifier,
//	    Config: cfg,
//	})
//	if err != nil {
//	    log.Fatalf("Failed to create classifier: %v", err)
//	}
//
// ```
func NewModel(args model.NewModelArgs) (model.Model, error) {
	switch args.Name {
	case model.ModelNameClassifier:
		m, err := classifier.NewModel(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	case model.ModelNameDetector:
		m, err := detector.NewModel(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported model name: %s", args.Name)
	}
}

// DefaultConfig returns the default configuration of a model family.
func DefaultConfig(name model.Name) (model.Config, error) {
	switch name {
	case model.ModelNameClassifier:
		return model.DefaultClassifierConfig(), nil
	case model.ModelNameDetector:
		return model.DefaultDetectorConfig(), nil
	default:
		return model.Config{}, fmt.Errorf("unsupported model name: %s", name)
	}
}

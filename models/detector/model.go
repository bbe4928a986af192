// Package detector - SSD style object detector with boxes, classes, scores and a count.
package detector

import (
	"strings"

	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/nvr-ai/go-recognize/models/model/preprocess"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Output positions of the TensorFlow Lite detection postprocess operator.
const (
	defaultBoxesIndex   = 0
	defaultClassesIndex = 1
	defaultScoresIndex  = 2
	defaultCountIndex   = 3
)

// Detector is the instance of the detector model.
type Detector struct {
	config       model.Config
	preprocessor *preprocess.Preprocessor

	boxesIndex   int
	classesIndex int
	scoresIndex  int
	countIndex   int

	boxes   []float32
	classes []float32
	scores  []float32
	count   []float32
}

// NewModel creates a new detector.
//
// Arguments:
//   - args: The arguments for creating a new model. The input size must be set.
//
// Returns:
//   - The model.
//   - An error when the configuration is invalid.
func NewModel(args model.NewModelArgs) (*Detector, error) {
	cfg := args.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pc := preprocess.GetDetectorConfig(cfg.InputWidth, cfg.InputHeight)
	pc.ChannelOrder = cfg.ChannelOrder
	pre, err := preprocess.NewPreprocessor(pc)
	if err != nil {
		return nil, err
	}

	return &Detector{
		config:       cfg,
		preprocessor: pre,
		boxesIndex:   defaultBoxesIndex,
		classesIndex: defaultClassesIndex,
		scoresIndex:  defaultScoresIndex,
		countIndex:   defaultCountIndex,
	}, nil
}

// Name returns the model family.
func (m *Detector) Name() model.Name {
	return model.ModelNameDetector
}

// Config returns the configuration for the detector.
func (m *Detector) Config() model.Config {
	return m.config
}

// PreProcess writes the frame as raw B,G,R values.
func (m *Detector) PreProcess(px *images.Pixels, input *tensor.Dense) error {
	return m.preprocessor.Process(px, input)
}

// Bind locates the boxes, classes, scores and count outputs by name. Models whose
// output names are not recognized keep the TensorFlow Lite order.
//
// Arguments:
//   - outputs: The engine output names in declaration order.
//
// Returns:
//   - An error when fewer than three outputs are declared.
func (m *Detector) Bind(outputs []string) error {
	if len(outputs) < 3 {
		return errors.Errorf("detector needs boxes, classes and scores outputs, engine declares %d", len(outputs))
	}

	found := map[string]int{}
	for i, name := range outputs {
		n := strings.ToLower(name)
		switch {
		case strings.Contains(n, "box") || strings.Contains(n, "location"):
			found["boxes"] = i
		case strings.Contains(n, "class"):
			found["classes"] = i
		case strings.Contains(n, "score"):
			found["scores"] = i
		case strings.Contains(n, "num") || strings.Contains(n, "count"):
			found["count"] = i
		}
	}

	boxes, okBoxes := found["boxes"]
	classes, okClasses := found["classes"]
	scores, okScores := found["scores"]
	if !okBoxes || !okClasses || !okScores {
		return nil
	}

	m.boxesIndex, m.classesIndex, m.scoresIndex = boxes, classes, scores
	m.countIndex = -1
	if count, ok := found["count"]; ok {
		m.countIndex = count
	}
	return nil
}

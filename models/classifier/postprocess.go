// Package classifier - postprocess classifier outputs.
package classifier

import (
	"github.com/nvr-ai/go-recognize/models/labels"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// PostProcess decodes the score tensor of one run. Uint8 scores are dequantized first.
//
// Arguments:
//   - outputs: The output tensors; the first holds one score per label.
//   - table: The label table.
//
// Returns:
//   - The ranked classifications.
//   - An error when there is no usable score tensor.
func (m *Classifier) PostProcess(outputs []*tensor.Dense, table *labels.Table) ([]postprocess.Result, error) {
	if len(outputs) == 0 {
		return nil, errors.New("classifier produced no outputs")
	}
	scores, err := model.Values(outputs[0], m.scores, true)
	if err != nil {
		return nil, err
	}
	m.scores = scores
	return Decode(scores, table, m.config), nil
}

// Decode turns one score per class index into ranked classifications.
//
// An index is kept only when its score is strictly above the confidence threshold.
// Results are ordered by descending confidence with ties broken by the lower index,
// then truncated to TopK. Classifications carry no box.
//
// Arguments:
//   - scores: The score of each class index.
//   - table: The label table. Indices it does not cover are labeled "unknown".
//   - cfg: The decoding configuration.
//
// Returns:
//   - The ranked classifications. Empty when nothing passes the threshold.
//
// @example
//
//	table := labels.New("cat", "dog", "bird", "fish")
//	results := Decode([]float32{0.05, 0.9, 0.3, 0.05}, table, model.DefaultClassifierConfig())
//	// dog 0.9, bird 0.3
func Decode(scores []float32, table *labels.Table, cfg model.Config) []postprocess.Result {
	results := make([]postprocess.Result, 0, min(len(scores), max(cfg.TopK, 0)+1))
	for i, score := range scores {
		if score > cfg.ConfidenceThreshold {
			results = append(results, postprocess.NewResult(i, table.Lookup(i), score, nil))
		}
	}

	postprocess.Rank(results)
	return postprocess.TopK(results, cfg.TopK)
}

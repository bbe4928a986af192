// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"slices"
	"strconv"

	"github.com/nvr-ai/go-recognize/images"
)

// Result represents a single recognition: a classification label or a detected object.
type Result struct {
	// The decimal index of the output slot that produced the result.
	ID string `json:"id" yaml:"id"`
	// The human-readable label, "unknown" when the class index has no label.
	Label string `json:"label" yaml:"label"`
	// The confidence score of the result in [0, 1].
	Confidence float32 `json:"confidence" yaml:"confidence"`
	// The bounding box of the result in model input pixels. Nil for classifications.
	Box *images.Rect `json:"box,omitempty" yaml:"box,omitempty"`
}

// NewResult creates a result for output slot i.
func NewResult(i int, label string, confidence float32, box *images.Rect) Result {
	return Result{
		ID:         strconv.Itoa(i),
		Label:      label,
		Confidence: confidence,
		Box:        box,
	}
}

// Rank sorts results by descending confidence. The input is expected in output slot
// order; the sort is stable, so equal confidences keep the lower slot first.
//
// Arguments:
//   - results: The results to sort in place.
func Rank(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return 0
		}
	})
}

// TopK truncates ranked results to at most k entries. Non-positive k keeps nothing.
func TopK(results []Result, k int) []Result {
	if k <= 0 {
		return results[:0]
	}
	if len(results) > k {
		return results[:k]
	}
	return results
}

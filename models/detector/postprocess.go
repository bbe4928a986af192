// Package detector - postprocess detector outputs.
package detector

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/models/labels"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// PostProcess decodes the four output tensors of one run.
//
// Arguments:
//   - outputs: The output tensors in engine declaration order.
//   - table: The label table.
//
// Returns:
//   - The ranked detections.
//   - An error when an output is missing or has an unsupported dtype.
func (m *Detector) PostProcess(outputs []*tensor.Dense, table *labels.Table) ([]postprocess.Result, error) {
	get := func(i int, dst []float32) ([]float32, error) {
		if i < 0 {
			return dst[:0], nil
		}
		if i >= len(outputs) {
			return nil, errors.Errorf("detector output %d missing, engine produced %d", i, len(outputs))
		}
		return model.Values(outputs[i], dst, false)
	}

	var err error
	if m.boxes, err = get(m.boxesIndex, m.boxes); err != nil {
		return nil, errors.Wrap(err, "boxes")
	}
	if m.classes, err = get(m.classesIndex, m.classes); err != nil {
		return nil, errors.Wrap(err, "classes")
	}
	if m.scores, err = get(m.scoresIndex, m.scores); err != nil {
		return nil, errors.Wrap(err, "scores")
	}
	if m.countIndex < len(outputs) {
		if m.count, err = get(m.countIndex, m.count); err != nil {
			return nil, errors.Wrap(err, "count")
		}
	} else {
		m.count = m.count[:0]
	}

	return Decode(m.boxes, m.scores, m.classes, m.count, table, m.config), nil
}

// Decode turns SSD style outputs into ranked detections.
//
// Slot i of boxes holds (yMin, xMin, yMax, xMax) normalized to [0, 1]. Boxes are scaled
// by the model input size into (left, top, right, bottom) pixels and canonicalized.
// Only the first count[0] slots are read when a finite count is present. The class
// index is the truncated class value; indices without a label decode as "unknown".
// No confidence threshold is applied.
//
// Arguments:
//   - boxes: 4 values per slot.
//   - scores: 1 value per slot.
//   - classes: 1 value per slot.
//   - count: The number of valid slots in count[0], or empty.
//   - table: The label table.
//   - cfg: The decoding configuration.
//
// Returns:
//   - The detections ranked by descending confidence, at most MaxDetections.
//
// @example
//
//	results := Decode(
//	    []float32{0.1, 0.2, 0.5, 0.6},
//	    []float32{0.8},
//	    []float32{1},
//	    []float32{1},
//	    labels.COCO,
//	    model.Config{InputWidth: 300, InputHeight: 300, MaxDetections: 100},
//	)
//	// person 0.8 at left 60, top 30, right 180, bottom 150
func Decode(boxes, scores, classes, count []float32, table *labels.Table, cfg model.Config) []postprocess.Result {
	n := min(len(scores), len(classes), len(boxes)/4)
	// Bounded in float32 before converting: int() of a value beyond the int range is undefined.
	if c := reportedCount(count); c < float32(n) {
		if c < 1 {
			n = 0
		} else {
			n = int(c)
		}
	}

	w, h := float32(cfg.InputWidth), float32(cfg.InputHeight)
	results := make([]postprocess.Result, 0, n)
	for i := 0; i < n; i++ {
		loc := boxes[i*4 : i*4+4]
		box := images.NewRect(loc[1]*w, loc[0]*h, loc[3]*w, loc[2]*h)
		results = append(results, postprocess.NewResult(i, table.Lookup(classIndex(classes[i])), scores[i], &box))
	}

	postprocess.Rank(results)
	results = postprocess.ApplyGreedyNMS(results, cfg.NMS)
	if cfg.MaxDetections > 0 {
		results = postprocess.TopK(results, cfg.MaxDetections)
	}
	return results
}

// reportedCount returns the reported detection count, or +Inf when there is none.
func reportedCount(count []float32) float32 {
	if len(count) == 0 || math32.IsNaN(count[0]) {
		return math32.Inf(1)
	}
	return count[0]
}

// classIndex truncates a class value toward zero. Values that are not finite map to -1.
func classIndex(v float32) int {
	if math32.IsNaN(v) || math32.IsInf(v, 0) || v > math32.MaxInt32 || v < math32.MinInt32 {
		return -1
	}
	return int(v)
}

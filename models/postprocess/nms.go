// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// Overlap threshold for suppression. Zero or less disables suppression.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// If true, suppress only within the same label.
	ClassAware bool `json:"class_aware" yaml:"class_aware"`
}

// Enabled reports whether the configuration suppresses anything.
func (c *NMSConfig) Enabled() bool {
	return c != nil && c.IoUThreshold > 0
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Results without a box are never suppressed. The relative order of the survivors is
// preserved, so ranked input stays ranked.
//
// Arguments:
//   - detections: Slice of detections sorted by descending confidence.
//   - config: The suppression parameters. A disabled config returns the input.
//
// Returns:
//   - Filtered slice of detections.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	n := len(detections)
	if n == 0 || !config.Enabled() {
		return detections
	}

	filtered := make([]Result, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := detections[i]
		filtered = append(filtered, anchor)
		used[i] = true
		if anchor.Box == nil {
			continue
		}

		for j := i + 1; j < n; j++ {
			if used[j] || detections[j].Box == nil {
				continue
			}
			if config.ClassAware && anchor.Label != detections[j].Label {
				continue
			}

			// Suppress if IoU exceeds threshold
			if anchor.Box.IoU(*detections[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}

package postprocess

import (
	"cmp"
	"slices"

	"github.com/nvr-ai/facecrop/images"
)

// DefaultIoUThreshold is the overlap at which a lower-scored box is suppressed.
const DefaultIoUThreshold float32 = 0.7

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 // Overlap at or above which a box is suppressed.
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Boxes are stably sorted by descending score, so equal scores keep their input
// order. The best remaining box is kept and every remaining box whose IoU with
// it is at or above the threshold is dropped. This repeats until no boxes
// remain. The input slice is not modified.
//
// Arguments:
//   - detections: Candidate boxes in any order.
//   - config: NMS configuration. Nil uses DefaultIoUThreshold.
//
// Returns:
//   - Kept boxes in descending score order. Empty input returns nil.
//
// Example Usage:
// ```go
//
//	kept := postprocess.ApplyGreedyNMS(results, &postprocess.NMSConfig{IoUThreshold: 0.7})
//
// ```
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}

	threshold := DefaultIoUThreshold
	if config != nil {
		threshold = config.IoUThreshold
	}

	sorted := slices.Clone(detections)
	slices.SortStableFunc(sorted, func(a, b Result) int {
		return cmp.Compare(b.Score, a.Score)
	})

	filtered := make([]Result, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if images.CalculateIoU(anchor.Box, sorted[j].Box) >= threshold {
				used[j] = true
			}
		}
	}

	return filtered
}

// Package postprocess - Decoding, scoring and suppression of raw detector output.
package postprocess

import (
	"fmt"

	"github.com/nvr-ai/facecrop/images"
)

// Row is one raw detection row in model-input space: [cx, cy, w, h, confidence].
type Row [5]float32

// Confidence returns the detection confidence of the row.
func (r Row) Confidence() float32 {
	return r[4]
}

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result in original-image pixels.
	Box images.Rect
	// The confidence score of the result.
	Score float32
}

func (r Result) String() string {
	return fmt.Sprintf("%s@%.3f", r.Box, r.Score)
}

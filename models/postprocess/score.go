package postprocess

import (
	"github.com/nvr-ai/facecrop/images"
)

// Score keeps rows at or above the confidence threshold and maps them from
// model-input space to original-image pixels.
//
// Each surviving row is converted from center form to corner form in model
// units, then scaled per axis by origDim/modelSize. No clamping is applied;
// boxes may extend past the image and are clamped when cropped.
//
// Arguments:
//   - rows: The raw rows for a single image.
//   - origW: The original image width in pixels.
//   - origH: The original image height in pixels.
//   - confThreshold: The minimum confidence to keep.
//   - modelSize: The model input edge length.
//
// Returns:
//   - []Result: The surviving boxes in input order. Empty when nothing passes.
func Score(rows []Row, origW, origH int, confThreshold float32, modelSize int) []Result {
	results := make([]Result, 0, len(rows))
	if modelSize <= 0 {
		return results
	}

	sx := float32(origW) / float32(modelSize)
	sy := float32(origH) / float32(modelSize)

	for _, row := range rows {
		conf := row.Confidence()
		if conf < confThreshold {
			continue
		}

		cx, cy, w, h := row[0], row[1], row[2], row[3]
		results = append(results, Result{
			Box: images.Rect{
				X1: (cx - w/2) * sx,
				Y1: (cy - h/2) * sy,
				X2: (cx + w/2) * sx,
				Y2: (cy + h/2) * sy,
			},
			Score: conf,
		})
	}
	return results
}

// ToModelSpace maps a box in original-image pixels back to model-input units.
// It is the inverse of the scaling applied by Score.
func ToModelSpace(box images.Rect, origW, origH, modelSize int) images.Rect {
	sx := float32(modelSize) / float32(origW)
	sy := float32(modelSize) / float32(origH)
	return images.Rect{
		X1: box.X1 * sx,
		Y1: box.Y1 * sy,
		X2: box.X2 * sx,
		Y2: box.Y2 * sy,
	}
}

// ToRow converts a box in model-input units back to a center-form row.
func ToRow(box images.Rect, confidence float32) Row {
	return Row{
		(box.X1 + box.X2) / 2,
		(box.Y1 + box.Y2) / 2,
		box.X2 - box.X1,
		box.Y2 - box.Y1,
		confidence,
	}
}

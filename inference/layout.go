package inference

import (
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// RowWidth is the number of values per detection row: cx, cy, w, h, confidence.
const RowWidth = 5

// OutputLayout describes how a detector lays out its raw output tensor.
type OutputLayout string

const (
	// LayoutChannelsFirst is the YOLO-style [B, 5, R] layout: one plane per field.
	LayoutChannelsFirst OutputLayout = "channels_first"
	// LayoutRows is the [B, R, 5] layout: one contiguous row per candidate.
	LayoutRows OutputLayout = "rows"
)

// ParseLayout maps a configuration value to a layout. Empty selects LayoutChannelsFirst.
func ParseLayout(s string) (OutputLayout, error) {
	switch l := OutputLayout(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LayoutChannelsFirst, nil
	case LayoutChannelsFirst, LayoutRows:
		return l, nil
	default:
		return "", errors.Errorf("unknown output layout %q", s)
	}
}

// NormalizeLayout rewrites a detector's native output into [B*R, 5] rows.
//
// Outputs that do not match the declared layout are returned unchanged so the
// decoder can reject them with a shape error instead of silently truncating.
//
// Arguments:
//   - data: The raw output values. The slice is not modified.
//   - shape: The raw output shape.
//   - layout: The layout the detector was exported with.
//
// Returns:
//   - *Output: The normalized output.
//   - error: An error if the transpose fails.
func NormalizeLayout(data []float32, shape []int, layout OutputLayout) (*Output, error) {
	if len(shape) != 3 || volume(shape) != len(data) {
		return &Output{Data: data, Shape: shape}, nil
	}

	b := shape[0]
	switch layout {
	case LayoutRows:
		if shape[2] != RowWidth {
			break
		}
		return &Output{Data: data, Shape: []int{b * shape[1], RowWidth}}, nil

	case LayoutChannelsFirst, "":
		if shape[1] != RowWidth {
			break
		}
		r := shape[2]
		t := tensor.New(
			tensor.WithShape(b, RowWidth, r),
			tensor.WithBacking(append([]float32(nil), data...)),
		)
		if err := t.T(0, 2, 1); err != nil {
			return nil, errors.Wrap(err, "transpose output")
		}
		if err := t.Transpose(); err != nil {
			return nil, errors.Wrap(err, "transpose output")
		}
		if err := t.Reshape(b*r, RowWidth); err != nil {
			return nil, errors.Wrap(err, "reshape output")
		}
		return &Output{Data: t.Data().([]float32), Shape: []int{b * r, RowWidth}}, nil
	}

	return &Output{Data: data, Shape: shape}, nil
}

func volume(shape []int) int {
	v := 1
	for _, d := range shape {
		if d < 0 {
			return -1
		}
		v *= d
	}
	return v
}

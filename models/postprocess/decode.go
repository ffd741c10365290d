package postprocess

import (
	"github.com/pkg/errors"
)

// ErrUnexpectedShape is returned when detector output does not follow the
// [N, 5] or [N, 5, 1] row contract.
var ErrUnexpectedShape = errors.New("unexpected output shape")

// Decode partitions flat detector output into per-image rows.
//
// The output must hold N rows of five values. A trailing axis of size 1 is
// squeezed. Rows are split into batchSize contiguous blocks of N/batchSize
// rows each, so block i belongs to image i of the batch. Row order inside a
// block is preserved.
//
// Arguments:
//   - data: The output values, row-major.
//   - shape: The output shape, [N, 5] or [N, 5, 1].
//   - batchSize: The number of images in the batch.
//
// Returns:
//   - [][]Row: batchSize slices of rows.
//   - error: ErrUnexpectedShape (wrapped) if the shape, data length or batch size is inconsistent.
//
// Example Usage:
// ```go
//
//	// 6 rows from a batch of 2 images.
//	perImage, err := postprocess.Decode(out.Data, []int{6, 5, 1}, 2)
//	// len(perImage) == 2, len(perImage[0]) == 3
//
// ```
func Decode(data []float32, shape []int, batchSize int) ([][]Row, error) {
	if batchSize < 1 {
		return nil, errors.Wrapf(ErrUnexpectedShape, "batch size %d", batchSize)
	}

	dims := shape
	if len(dims) == 3 && dims[2] == 1 {
		dims = dims[:2]
	}
	if len(dims) != 2 || dims[1] != len(Row{}) {
		return nil, errors.Wrapf(ErrUnexpectedShape, "shape %v", shape)
	}

	n := dims[0]
	if n < 0 || len(data) != n*len(Row{}) {
		return nil, errors.Wrapf(ErrUnexpectedShape, "shape %v holds %d values", shape, len(data))
	}
	if n%batchSize != 0 {
		return nil, errors.Wrapf(ErrUnexpectedShape, "%d rows do not divide into %d images", n, batchSize)
	}

	perImage := n / batchSize
	out := make([][]Row, batchSize)
	for i := range out {
		rows := make([]Row, perImage)
		for j := range rows {
			offset := (i*perImage + j) * len(Row{})
			copy(rows[j][:], data[offset:offset+len(Row{})])
		}
		out[i] = rows
	}
	return out, nil
}

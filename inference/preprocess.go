package inference

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// DefaultInputSize is the square input edge length of the face detector.
const DefaultInputSize = 640

// ErrEmptyBatch is returned by Stack when there are no tensors to combine.
var ErrEmptyBatch = errors.New("empty batch")

// Preprocess converts an image into a [1, 3, size, size] float32 tensor.
//
// The image is resized to size×size with a bicubic (Catmull-Rom) filter,
// ignoring its aspect ratio. Channels are laid out R, G, B in planar order and
// scaled from 8-bit to [0, 1]. Alpha is dropped.
//
// Arguments:
//   - img: The decoded image.
//   - size: The model input edge length.
//
// Returns:
//   - *tensor.Dense: The input tensor.
//   - error: An error if the image is nil or size is not positive.
//
// Example Usage:
// ```go
//
//	input, err := inference.Preprocess(img, inference.DefaultInputSize)
//	if err != nil {
//		return err
//	}
//	fmt.Println(input.Shape()) // (1, 3, 640, 640)
//
// ```
func Preprocess(img image.Image, size int) (*tensor.Dense, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	if size <= 0 {
		return nil, errors.Errorf("invalid input size %d", size)
	}

	// nfnt Bicubic is the Catmull-Rom kernel, the same one imaging.CatmullRom uses for crops.
	resized := resize.Resize(uint(size), uint(size), img, resize.Bicubic)
	bounds := resized.Bounds()

	channelSize := size * size
	data := make([]float32, 3*channelSize)
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+size; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+size; x++ {
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			red[i] = float32(c.R) / 255.0
			green[i] = float32(c.G) / 255.0
			blue[i] = float32(c.B) / 255.0
			i++
		}
	}

	return tensor.New(
		tensor.WithShape(1, 3, size, size),
		tensor.WithBacking(data),
	), nil
}

// Stack concatenates single-image tensors along the batch axis.
//
// Order is preserved: entry i of the input becomes batch index i. A short
// final batch is stacked as-is without padding.
//
// Arguments:
//   - tensors: The [1, 3, H, W] tensors to stack.
//
// Returns:
//   - *tensor.Dense: A [B, 3, H, W] tensor.
//   - error: ErrEmptyBatch for an empty list, or an error on mismatched shapes.
func Stack(tensors []*tensor.Dense) (*tensor.Dense, error) {
	if len(tensors) == 0 {
		return nil, ErrEmptyBatch
	}

	first := tensors[0]
	shape := first.Shape()
	if len(shape) != 4 || shape[0] != 1 {
		return nil, errors.Errorf("expected a [1, C, H, W] tensor, got %v", shape)
	}
	for i, t := range tensors[1:] {
		if !t.Shape().Eq(shape) {
			return nil, errors.Errorf("tensor %d has shape %v, expected %v", i+1, t.Shape(), shape)
		}
	}

	if len(tensors) == 1 {
		return first.Clone().(*tensor.Dense), nil
	}

	batch, err := first.Concat(0, tensors[1:]...)
	if err != nil {
		return nil, errors.Wrap(err, "concat batch")
	}
	return batch, nil
}

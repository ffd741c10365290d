// Package inference - Model sessions and tensor preparation.
package inference

import (
	"context"

	"gorgonia.org/tensor"
)

// Output is the raw result of one inference call.
type Output struct {
	// Data holds the output values in row-major order.
	Data []float32
	// Shape is the output tensor shape. After layout normalization it is [N, 5].
	Shape []int
}

// Session runs a detection model on a batch tensor.
//
// Implementations must be safe for concurrent Run calls; batch workers share a
// single session.
type Session interface {
	// Run executes the model on a [B, 3, S, S] batch tensor.
	Run(ctx context.Context, batch *tensor.Dense) (*Output, error)
	// Close releases the native resources held by the session.
	Close() error
}

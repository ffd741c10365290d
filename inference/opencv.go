//go:build opencv

package inference

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// OpenCVSession runs a detector through the OpenCV DNN module.
//
// gocv.Net is not safe for concurrent use, so Run serializes calls.
type OpenCVSession struct {
	mu     sync.Mutex
	net    gocv.Net
	layout OutputLayout
}

// NewOpenCVSession loads a model file with gocv.ReadNet.
//
// Arguments:
//   - modelPath: The path to the .onnx file.
//   - layout: The layout of the detector's output tensor.
//
// Returns:
//   - *OpenCVSession: The session. Close must be called to release it.
//   - error: An error if the file is missing or cannot be parsed.
func NewOpenCVSession(modelPath string, layout OutputLayout) (*OpenCVSession, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrap(err, "model file not found")
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, errors.Errorf("failed to load ONNX model: %s", modelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendOpenCV)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if layout == "" {
		layout = LayoutChannelsFirst
	}
	return &OpenCVSession{net: net, layout: layout}, nil
}

// Run executes the model on a [B, 3, S, S] batch tensor.
func (s *OpenCVSession) Run(ctx context.Context, batch *tensor.Dense) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 batch, got %T", batch.Data())
	}

	blob := gocv.NewMatWithSizes(batch.Shape(), gocv.MatTypeCV32F)
	defer blob.Close()
	dst, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "access input blob")
	}
	copy(dst, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.net.SetInput(blob, "")
	out := s.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("forward pass produced no output")
	}

	values, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read output")
	}
	raw := append([]float32(nil), values...)

	return NormalizeLayout(raw, out.Size(), s.layout)
}

// Close releases the network.
func (s *OpenCVSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}

func newOpenCVSession(modelPath string, layout OutputLayout) (Session, error) {
	s, err := NewOpenCVSession(modelPath, layout)
	if err != nil {
		return nil, err
	}
	return s, nil
}

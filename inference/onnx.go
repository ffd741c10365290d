package inference

import (
	"context"
	"sync"

	"github.com/nvr-ai/facecrop/inference/providers"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitializeRuntime loads the onnxruntime shared library and initializes the
// process-wide environment. Only the first call has any effect; later calls
// return the first call's result.
//
// Arguments:
//   - libPath: The shared library path override. Empty to use the environment or platform default.
//
// Returns:
//   - error: An error if the library cannot be found or the environment fails to initialize.
func InitializeRuntime(libPath string) error {
	runtimeOnce.Do(func() {
		path, err := providers.GetSharedLibPath(libPath)
		if err != nil {
			runtimeErr = err
			return
		}
		ort.SetSharedLibraryPath(path)
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = errors.Wrap(err, "initialize onnxruntime environment")
		}
	})
	return runtimeErr
}

// ONNXConfig configures an ONNX Runtime session.
type ONNXConfig struct {
	// Provider selects the execution provider and threading.
	Provider providers.Config
	// Layout is the layout of the detector's output tensor.
	Layout OutputLayout
}

// ONNXSession runs a detector through ONNX Runtime.
//
// Input and output tensors are created per call, so Run is safe for
// concurrent use.
type ONNXSession struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	inputSize  int
	layout     OutputLayout
}

// NewONNXSession loads a model file into a new ONNX Runtime session.
//
// Order of operations:
//  1. Runtime setup: locate the shared library and initialize the environment once.
//  2. Model inspection: read the input and output names from the model.
//  3. Session options: threading and the execution provider.
//  4. Session creation: bind names and options into a dynamic session.
//
// Arguments:
//   - modelPath: The path to the .onnx file.
//   - cfg: The session configuration.
//
// Returns:
//   - *ONNXSession: The session. Close must be called to release it.
//   - error: An error if any step fails.
func NewONNXSession(modelPath string, cfg ONNXConfig) (*ONNXSession, error) {
	if err := InitializeRuntime(cfg.Provider.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read model io info from %s", modelPath)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Errorf("model %s has %d inputs and %d outputs", modelPath, len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if len(in.Dimensions) != 4 {
		return nil, errors.Errorf("expected a 4D model input, got %v", in.Dimensions)
	}

	options, err := providers.NewSessionOptions(cfg.Provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{in.Name},
		[]string{out.Name},
		options,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create onnxruntime session")
	}

	layout := cfg.Layout
	if layout == "" {
		layout = LayoutChannelsFirst
	}

	s := &ONNXSession{
		session:    session,
		inputName:  in.Name,
		outputName: out.Name,
		layout:     layout,
	}
	// Dynamic axes are reported as -1.
	if h, w := in.Dimensions[2], in.Dimensions[3]; h > 0 && h == w {
		s.inputSize = int(h)
	}
	return s, nil
}

// InputSize returns the fixed square input size declared by the model, or 0
// if the model accepts dynamic sizes.
func (s *ONNXSession) InputSize() int {
	return s.inputSize
}

// Run executes the model on a batch tensor and returns its first output in
// [N, 5] row layout.
//
// Arguments:
//   - ctx: The context. A cancelled context returns its error before inference starts.
//   - batch: A [B, 3, S, S] float32 tensor.
//
// Returns:
//   - *Output: The normalized model output.
//   - error: An error if tensor creation or inference fails.
func (s *ONNXSession) Run(ctx context.Context, batch *tensor.Dense) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 batch, got %T", batch.Data())
	}
	dims := make([]int64, 0, batch.Dims())
	for _, d := range batch.Shape() {
		dims = append(dims, int64(d))
	}

	input, err := ort.NewTensor(ort.NewShape(dims...), data)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	defer input.Destroy()

	// A nil output lets onnxruntime allocate a tensor of whatever shape the model produces.
	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, errors.Wrap(err, "run inference")
	}
	defer outputs[0].Destroy()

	result, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("output %s is %T, expected a float32 tensor", s.outputName, outputs[0])
	}

	shape := make([]int, 0, len(result.GetShape()))
	for _, d := range result.GetShape() {
		shape = append(shape, int(d))
	}
	raw := append([]float32(nil), result.GetData()...)

	return NormalizeLayout(raw, shape, s.layout)
}

// Close releases the native session.
func (s *ONNXSession) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return errors.Wrap(err, "destroy onnxruntime session")
	}
	return nil
}

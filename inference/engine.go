package inference

import (
	"github.com/nvr-ai/facecrop/inference/providers"
	"github.com/pkg/errors"
)

// EngineType is the type of the engine
type EngineType string

const (
	// EngineONNX is the ONNX engine that uses the onnxruntime library
	EngineONNX EngineType = "onnx"
	// EngineOpenCV is the OpenCV DNN engine, available in builds tagged opencv
	EngineOpenCV EngineType = "opencv"
)

// ErrEngineUnavailable is returned when the requested engine was not compiled in.
var ErrEngineUnavailable = errors.New("inference engine unavailable")

// SessionBuilder assembles a Session with a fluent API.
type SessionBuilder struct {
	engine    EngineType
	provider  providers.Config
	modelPath string
	layout    OutputLayout
	err       error
}

// NewSessionBuilder creates a builder for the ONNX engine on the CPU provider.
//
// Returns:
//   - *SessionBuilder: The session builder.
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{
		engine:   EngineONNX,
		provider: providers.DefaultConfig(),
		layout:   LayoutChannelsFirst,
	}
}

// WithEngine sets the engine used to run the model.
func (b *SessionBuilder) WithEngine(engine EngineType) *SessionBuilder {
	if b.HasError() {
		return b
	}
	switch engine {
	case EngineONNX, EngineOpenCV:
		b.engine = engine
	case "":
		b.engine = EngineONNX
	default:
		b.err = errors.Errorf("unknown engine %q", engine)
	}
	return b
}

// WithProvider sets the execution provider configuration for the ONNX engine.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *SessionBuilder: The session builder.
func (b *SessionBuilder) WithProvider(cfg providers.Config) *SessionBuilder {
	if b.HasError() {
		return b
	}
	if _, err := providers.ParseBackend(string(cfg.Backend)); err != nil {
		b.err = err
		return b
	}
	b.provider = cfg
	return b
}

// WithModel sets the path of the model file.
func (b *SessionBuilder) WithModel(path string) *SessionBuilder {
	if b.HasError() {
		return b
	}
	if path == "" {
		b.err = errors.New("model path is required")
		return b
	}
	b.modelPath = path
	return b
}

// WithLayout sets the layout of the model's output tensor.
func (b *SessionBuilder) WithLayout(layout string) *SessionBuilder {
	if b.HasError() {
		return b
	}
	l, err := ParseLayout(layout)
	if err != nil {
		b.err = err
		return b
	}
	b.layout = l
	return b
}

// HasError checks if the session builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *SessionBuilder) HasError() bool {
	return b.err != nil
}

// Build loads the model and returns the session.
//
// Returns:
//   - Session: The session.
//   - error: The first configuration error, or the model load error.
func (b *SessionBuilder) Build() (Session, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.modelPath == "" {
		return nil, errors.New("model not configured")
	}

	switch b.engine {
	case EngineOpenCV:
		return newOpenCVSession(b.modelPath, b.layout)
	default:
		s, err := NewONNXSession(b.modelPath, ONNXConfig{Provider: b.provider, Layout: b.layout})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

//go:build !opencv

package inference

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenCVEngineUnavailable validates the error for builds without the opencv tag.
func TestOpenCVEngineUnavailable(t *testing.T) {
	s, err := NewSessionBuilder().WithEngine(EngineOpenCV).WithModel("face.onnx").Build()
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrEngineUnavailable), "error should wrap ErrEngineUnavailable")
}

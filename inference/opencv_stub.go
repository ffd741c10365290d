//go:build !opencv

package inference

import "github.com/pkg/errors"

func newOpenCVSession(string, OutputLayout) (Session, error) {
	return nil, errors.Wrap(ErrEngineUnavailable, "rebuild with -tags opencv")
}

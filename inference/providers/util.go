package providers

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// SharedLibraryEnv names the environment variable that overrides the onnxruntime library location.
const SharedLibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// ErrLibraryNotFound is returned when the onnxruntime shared library cannot be located.
var ErrLibraryNotFound = errors.New("onnxruntime shared library not found")

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Resolution order: the explicit override, then SharedLibraryEnv, then the
// per-platform default under ./third_party.
//
// Arguments:
//   - override: An explicit path. Empty to use the environment or platform default.
//
// Returns:
//   - string: The path to the shared library.
//   - error: ErrLibraryNotFound (wrapped) if the resolved file does not exist or the
//     platform has no default.
func GetSharedLibPath(override string) (string, error) {
	path := override
	if path == "" {
		path = os.Getenv(SharedLibraryEnv)
	}
	if path == "" {
		path = defaultSharedLibPath()
	}
	if path == "" {
		return "", errors.Wrapf(ErrLibraryNotFound, "no default for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(ErrLibraryNotFound, "%s: %v", path, err)
	}
	return path, nil
}

func defaultSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll"
		}
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
	return ""
}

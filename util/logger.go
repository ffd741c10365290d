package util

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LogLevelEnv names the environment variable consulted when no level is configured.
const LogLevelEnv = "FACECROP_LOG"

// NewLogger creates a text logger with full timestamps.
//
// Arguments:
//   - level: A logrus level name. Empty falls back to LogLevelEnv, then "info".
//   - w: The destination. Nil writes to stderr.
//
// Returns:
//   - *logrus.Logger: The logger.
//   - error: An error if the level name is not recognised.
func NewLogger(level string, w io.Writer) (*logrus.Logger, error) {
	if level == "" {
		level = os.Getenv(LogLevelEnv)
	}
	if level == "" {
		level = logrus.InfoLevel.String()
	}

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level")
	}

	if w == nil {
		w = os.Stderr
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger, nil
}

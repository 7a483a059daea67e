package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a JSON logger at the given level. Unknown levels fall back to
// info.
func New(level string) *logrus.Logger {
	return NewWithWriter(level, os.Stderr)
}

func NewWithWriter(level string, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil || level == "" {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

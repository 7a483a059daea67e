package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("debug", &buf)
	logger.WithField("kid", "abc").Debug("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["msg"] != "hello" || line["kid"] != "abc" || line["level"] != "debug" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestNewWithWriterDefaultsToInfo(t *testing.T) {
	for _, level := range []string{"", "loud"} {
		logger := NewWithWriter(level, &bytes.Buffer{})
		if logger.GetLevel() != logrus.InfoLevel {
			t.Fatalf("level %q: expected info, got %s", level, logger.GetLevel())
		}
	}
}

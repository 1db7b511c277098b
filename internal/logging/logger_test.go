package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"warn":    LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "server")

	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warnf("shown %d", 3)
	l.Errorf("shown %d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "WARN server: shown 3") {
		t.Errorf("missing warn line in %q", out)
	}
	if !strings.Contains(out, "ERROR server: shown 4") {
		t.Errorf("missing error line in %q", out)
	}
}

func TestLogger_WithAndNil(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug", "root").With("client")
	l.Infof("hello")
	if !strings.Contains(buf.String(), "INFO client: hello") {
		t.Errorf("unexpected output %q", buf.String())
	}

	var nilLogger *Logger
	nilLogger.Errorf("must not panic")
	if nilLogger.With("x") != nil {
		t.Error("With on nil logger should stay nil")
	}
}

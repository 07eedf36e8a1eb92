package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestDefaultLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     Level
		wantError bool
		wantWarn  bool
		wantInfo  bool
		wantDebug bool
	}{
		{LevelError, true, false, false, false},
		{LevelWarn, true, true, false, false},
		{LevelInfo, true, true, true, false},
		{LevelDebug, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level)

			logger.Errorf("error message")
			logger.Warnf("warn message")
			logger.Infof("info message")
			logger.Debugf("debug message")

			output := buf.String()

			if got := strings.Contains(output, "ERROR "); got != tt.wantError {
				t.Errorf("Error logged: got %v, want %v", got, tt.wantError)
			}
			if got := strings.Contains(output, "WARN "); got != tt.wantWarn {
				t.Errorf("Warn logged: got %v, want %v", got, tt.wantWarn)
			}
			if got := strings.Contains(output, "INFO "); got != tt.wantInfo {
				t.Errorf("Info logged: got %v, want %v", got, tt.wantInfo)
			}
			if got := strings.Contains(output, "DEBUG "); got != tt.wantDebug {
				t.Errorf("Debug logged: got %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestDefaultLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelDebug)

	logger.Errorf("error %d", 1)
	logger.Warnf("warn %d", 2)
	logger.Infof("info %d", 3)
	logger.Debugf("debug %d", 4)

	output := buf.String()
	for _, want := range []string{"error 1", "warn 2", "info 3", "debug 4"} {
		if !strings.Contains(output, want) {
			t.Errorf("formatted message %q not found", want)
		}
	}
}

func TestDefaultLogger_FatalfCallsHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelError)

	var got string
	logger.SetFatalHandler(func(msg string) { got = msg })

	logger.Fatalf("%spool exhausted: %d buffers", NSCache, 4)

	if !strings.Contains(buf.String(), "FATAL [bcache] pool exhausted") {
		t.Errorf("fatal line missing, got: %s", buf.String())
	}
	if got != "[bcache] pool exhausted: 4 buffers" {
		t.Errorf("handler msg = %q", got)
	}
}

func TestDiscardLogger(t *testing.T) {
	// Just verify it doesn't panic
	Discard.Errorf("error %d", 1)
	Discard.Warnf("warn %d", 1)
	Discard.Infof("info %d", 1)
	Discard.Debugf("debug %d", 1)
	Discard.Fatalf("fatal %d", 1)
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelError, "ERROR"},
		{LevelWarn, "WARN"},
		{LevelInfo, "INFO"},
		{LevelDebug, "DEBUG"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"error", LevelError, false},
		{"WARN", LevelWarn, false},
		{" info ", LevelInfo, false},
		{"Debug", LevelDebug, false},
		{"verbose", LevelWarn, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNamespaceConstants(t *testing.T) {
	namespaces := []string{NSCache, NSSteal, NSDevice, NSServer, NSStress}
	for _, ns := range namespaces {
		if !strings.HasPrefix(ns, "[") || !strings.HasSuffix(ns, "] ") {
			t.Errorf("namespace %q should be in [name] format", ns)
		}
	}
}

func TestIsNilAndOrDefault(t *testing.T) {
	var typed *DefaultLogger
	if !IsNil(nil) {
		t.Error("IsNil(nil) = false")
	}
	if !IsNil(typed) {
		t.Error("IsNil(typed nil) = false")
	}
	if IsNil(Discard) {
		t.Error("IsNil(Discard) = true")
	}
	if OrDefault(typed) == nil {
		t.Error("OrDefault(typed nil) returned nil")
	}
	if OrDefault(Discard) != Discard {
		t.Error("OrDefault replaced a valid logger")
	}
}

func TestErrFatalWrapping(t *testing.T) {
	err := fmt.Errorf("%w: pool exhausted", ErrFatal)
	if !errors.Is(err, ErrFatal) {
		t.Error("wrapped error does not match ErrFatal")
	}
}

// =============================================================================
// Logrus adapter
// =============================================================================

func TestLogrusLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.DebugLevel)

	l := NewLogrus(base).WithField("dev", 1)
	l.Warnf("%sshard %d empty", NSSteal, 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if rec["component"] != "steal" {
		t.Errorf("component = %v, want steal", rec["component"])
	}
	if rec["msg"] != "shard 3 empty" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["level"] != "warning" {
		t.Errorf("level = %v, want warning", rec["level"])
	}
	if rec["dev"] != float64(1) {
		t.Errorf("dev = %v, want 1", rec["dev"])
	}
}

func TestLogrusLogger_FatalfDoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	l := NewLogrus(base)
	called := false
	l.SetFatalHandler(func(string) { called = true })
	l.Fatalf("%sno buffers", NSCache)

	if !called {
		t.Error("fatal handler not called")
	}
	if !strings.Contains(buf.String(), `"fatal":true`) {
		t.Errorf("fatal field missing: %s", buf.String())
	}
}

func TestLogrusLogger_LevelGate(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetLevel(logrus.WarnLevel)

	l := NewLogrus(base)
	l.Debugf("hidden")
	l.Infof("hidden")
	if buf.Len() != 0 {
		t.Errorf("messages below level were written: %s", buf.String())
	}
}

func TestSplitNamespace(t *testing.T) {
	tests := []struct {
		in, component, text string
	}{
		{"[steal] took slot", "steal", "took slot"},
		{"plain message", "", "plain message"},
		{"[unterminated", "", "[unterminated"},
	}
	for _, tt := range tests {
		c, m := splitNamespace(tt.in)
		if c != tt.component || m != tt.text {
			t.Errorf("splitNamespace(%q) = (%q, %q), want (%q, %q)", tt.in, c, m, tt.component, tt.text)
		}
	}
}

func TestInitLogrus_DefaultsToStdout(t *testing.T) {
	logger, err := InitLogrus(OutputConfig{Level: "info"})
	if err != nil {
		t.Fatalf("InitLogrus: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Error("logger without file should write to stdout")
	}
}

func TestInitLogrus_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bcached.log")
	logger, err := InitLogrus(OutputConfig{Level: "debug", FilePath: path, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("InitLogrus: %v", err)
	}
	logger.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing message: %s", data)
	}
}

func TestInitLogrus_BadLevel(t *testing.T) {
	if _, err := InitLogrus(OutputConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

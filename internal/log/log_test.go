package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInit_FileLogging(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer

	if err := Init(Options{DebugDir: dir, Stderr: &stderr}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("certificate issued", "promise_id", "prm_1")
	Close()

	content, err := os.ReadFile(filepath.Join(dir, "pledge-"+time.Now().Format("2006-01-02")+".jsonl"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(content), "certificate issued") {
		t.Errorf("debug file missing record: %s", content)
	}
	if strings.Contains(stderr.String(), "certificate issued") {
		t.Error("info should not reach stderr without --verbose")
	}
}

func TestInit_StderrLevels(t *testing.T) {
	var stderr bytes.Buffer
	if err := Init(Options{Stderr: &stderr}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := stderr.String()
	for _, hidden := range []string{"debug message", "info message"} {
		if strings.Contains(out, hidden) {
			t.Errorf("%q should not appear on stderr", hidden)
		}
	}
	for _, shown := range []string{"warn message", "error message"} {
		if !strings.Contains(out, shown) {
			t.Errorf("%q should appear on stderr", shown)
		}
	}
}

func TestInit_Verbose(t *testing.T) {
	var stderr bytes.Buffer
	if err := Init(Options{Verbose: true, JSONFormat: true, Stderr: &stderr}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	Debug("challenge registered", "subject", "u1")
	if !strings.Contains(stderr.String(), `"msg":"challenge registered"`) {
		t.Errorf("expected JSON debug record, got: %s", stderr.String())
	}
}

func TestWithPromise(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	WithPromise("prm_42").Info("advanced")
	if !strings.Contains(buf.String(), "promise_id=prm_42") {
		t.Errorf("expected promise_id attribute, got: %s", buf.String())
	}
}

func TestInit_RedactsSensitiveAttrs(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	if err := Init(Options{Verbose: true, DebugDir: dir, Stderr: &stderr}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("sealed", "content", "Pay $500 by 2025-03-01")
	Close()

	if strings.Contains(stderr.String(), "Pay $500") {
		t.Errorf("content leaked to stderr: %s", stderr.String())
	}
	if !strings.Contains(stderr.String(), "content=[redacted]") {
		t.Errorf("expected redacted attribute, got: %s", stderr.String())
	}
	content, err := os.ReadFile(filepath.Join(dir, "pledge-"+time.Now().Format("2006-01-02")+".jsonl"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(content), "Pay $500") {
		t.Error("debug file should keep the full record")
	}
}

// Package log wraps log/slog with pledge's stderr and debug-file handlers.
//
// Stderr receives warnings and errors unless verbose output is requested.
// When a debug directory is configured every record is also written as JSON
// to a daily file there, so failed verifications can be diagnosed after the
// fact. Attributes named in SensitiveKeys never reach stderr.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// SensitiveKeys are attribute keys whose values are replaced on stderr.
var SensitiveKeys = map[string]bool{
	"content":    true,
	"secret":     true,
	"privateKey": true,
}

const redacted = "[redacted]"

var (
	mu     sync.Mutex
	logger = slog.Default()
	debug  *FileWriter
)

// Options configures the logger.
type Options struct {
	// Verbose lowers the stderr level to debug.
	Verbose bool
	// JSONFormat switches stderr to JSON.
	JSONFormat bool
	// DebugDir receives daily JSONL files at debug level. Empty disables them.
	DebugDir string
	// RetentionDays prunes older debug files on Init. Zero keeps everything.
	RetentionDays int
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// Init installs the process logger. Calling it again replaces the previous
// configuration and closes its debug file.
func Init(opts Options) error {
	w := opts.Stderr
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	terminal := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}

	var sinks fanout
	if opts.JSONFormat {
		sinks = append(sinks, slog.NewJSONHandler(w, terminal))
	} else {
		sinks = append(sinks, slog.NewTextHandler(w, terminal))
	}

	var fw *FileWriter
	if opts.DebugDir != "" {
		if opts.RetentionDays > 0 {
			Cleanup(opts.DebugDir, opts.RetentionDays)
		}
		var err error
		if fw, err = NewFileWriter(opts.DebugDir); err != nil {
			return err
		}
		sinks = append(sinks, slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	install(slog.New(sinks), fw)
	return nil
}

// Close flushes and closes the debug file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if debug != nil {
		debug.Close()
		debug = nil
	}
}

// SetOutput sends every record at debug level to w as text. Tests use it
// to capture output.
func SetOutput(w io.Writer) {
	install(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})), nil)
}

func install(l *slog.Logger, fw *FileWriter) {
	mu.Lock()
	defer mu.Unlock()
	if debug != nil {
		debug.Close()
	}
	debug = fw
	logger = l
	slog.SetDefault(l)
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if SensitiveKeys[a.Key] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

func Debug(msg string, args ...any) { current().Debug(msg, args...) }
func Info(msg string, args ...any)  { current().Info(msg, args...) }
func Warn(msg string, args ...any)  { current().Warn(msg, args...) }
func Error(msg string, args ...any) { current().Error(msg, args...) }

// With returns a logger carrying args on every record.
func With(args ...any) *slog.Logger { return current().With(args...) }

// WithPromise returns a logger that tags records with promise_id.
func WithPromise(promiseID string) *slog.Logger {
	return current().With("promise_id", promiseID)
}

package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the file sink.
const (
	fileMaxSizeMB  = 50
	fileMaxBackups = 5
	fileMaxAgeDays = 30
)

// Options configures a Logger.
type Options struct {
	Verbose   bool
	Format    string    // "text" (default) or "json"
	Writer    io.Writer // defaults to os.Stdout
	ErrWriter io.Writer // defaults to os.Stderr
}

// sink is shared by a Logger and every component logger derived from it.
type sink struct {
	mu      sync.Mutex
	verbose bool
	format  string
	out     slog.Handler
	errOut  slog.Handler
	file    slog.Handler
	closer  io.Closer
	hasBar  bool
}

// Logger is a printf-style logger on top of slog with optional rotating
// file output. Debug goes to the console only in verbose mode but is always
// written to the file sink.
type Logger struct {
	Verbose   bool
	component string
	sink      *sink
}

// New creates a text Logger writing to stdout and stderr.
func New(verbose bool) *Logger {
	return NewWithOptions(Options{Verbose: verbose})
}

// NewWithOptions creates a Logger from explicit options.
func NewWithOptions(o Options) *Logger {
	if o.Writer == nil {
		o.Writer = os.Stdout
	}
	if o.ErrWriter == nil {
		o.ErrWriter = os.Stderr
	}

	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}

	s := &sink{
		verbose: o.Verbose,
		format:  o.Format,
		out:     buildHandler(o.Writer, level, o.Format),
		errOut:  buildHandler(o.ErrWriter, level, o.Format),
	}
	return &Logger{Verbose: o.Verbose, sink: s}
}

func buildHandler(w io.Writer, level slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// With returns a logger that tags every record with a component name.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{Verbose: l.Verbose, component: component, sink: l.sink}
}

// SetFileLog enables logging to a size-rotated file.
func (l *Logger) SetFileLog(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	f.Close()

	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    fileMaxSizeMB,
		MaxBackups: fileMaxBackups,
		MaxAge:     fileMaxAgeDays,
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.closer != nil {
		l.sink.closer.Close()
	}
	l.sink.file = buildHandler(lj, slog.LevelDebug, l.sink.format)
	l.sink.closer = lj
	return nil
}

// SetProgressBar suppresses non-verbose console output while a progress bar
// owns the terminal.
func (l *Logger) SetProgressBar(active bool) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.hasBar = active
}

// Close closes the log file if open
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.closer != nil {
		err := l.sink.closer.Close()
		l.sink.closer = nil
		l.sink.file = nil
		return err
	}
	return nil
}

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(slog.LevelInfo, format, args...)
}

// Debug logs detailed messages only in verbose mode
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(slog.LevelDebug, format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(slog.LevelWarn, format, args...)
}

// Error logs error messages to stderr
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(slog.LevelError, format, args...)
}

func (l *Logger) log(level slog.Level, format string, args ...interface{}) {
	if l == nil {
		return
	}
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), 0)
	if l.component != "" {
		r.AddAttrs(slog.String("component", l.component))
	}

	ctx := context.Background()
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	console := s.out
	if level >= slog.LevelError {
		console = s.errOut
	}
	if (s.verbose || !s.hasBar || level >= slog.LevelError) && console.Enabled(ctx, level) {
		console.Handle(ctx, r.Clone())
	}
	if s.file != nil {
		s.file.Handle(ctx, r)
	}
}

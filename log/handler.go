// Package log builds the slog loggers used by the host runtime and configures
// the process-wide log destination.
package log

import (
	"io"
	"log/slog"
	"os"
)

// LevelTrace is below slog.LevelDebug and is rendered as "TRACE".
const LevelTrace = slog.Level(-8)

// HandlerOption configures the handler built by NewHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	writer    io.Writer
	level     slog.Level
	addSource bool
	json      bool
	rotation  rotation
}

// rotation bounds a log file written by SetLogFile.
type rotation struct {
	maxSizeMB  int
	maxBackups int
	compress   bool
}

// defaultHandlerConfig returns the default configuration.
func defaultHandlerConfig() handlerConfig {
	return handlerConfig{
		writer: os.Stderr,
		level:  slog.LevelInfo,
	}
}

// WithLevel sets the minimum log level to report.
func WithLevel(level slog.Level) HandlerOption {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// WithSource enables reporting of source location (file/line).
func WithSource(enabled bool) HandlerOption {
	return func(c *handlerConfig) {
		c.addSource = enabled
	}
}

// WithWriter sets the destination. A nil writer discards output.
func WithWriter(w io.Writer) HandlerOption {
	return func(c *handlerConfig) {
		c.writer = w
	}
}

// WithJSON switches from text to JSON output.
func WithJSON(enabled bool) HandlerOption {
	return func(c *handlerConfig) {
		c.json = enabled
	}
}

// WithRotation rotates a log file set with SetLogFile once it reaches
// maxSizeMB megabytes, keeping maxBackups old files. Zero values keep the
// defaults of 100 MB and every backup.
func WithRotation(maxSizeMB, maxBackups int, compress bool) HandlerOption {
	return func(c *handlerConfig) {
		c.rotation = rotation{maxSizeMB: maxSizeMB, maxBackups: maxBackups, compress: compress}
	}
}

// NewHandler creates a text or JSON slog handler with the given options.
func NewHandler(opts ...HandlerOption) slog.Handler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.writer == nil {
		return slog.DiscardHandler
	}

	ho := &slog.HandlerOptions{
		Level:       cfg.level,
		AddSource:   cfg.addSource,
		ReplaceAttr: replaceLevel,
	}
	if cfg.json {
		return slog.NewJSONHandler(cfg.writer, ho)
	}
	return slog.NewTextHandler(cfg.writer, ho)
}

// New creates a logger backed by NewHandler.
func New(opts ...HandlerOption) *slog.Logger {
	return slog.New(NewHandler(opts...))
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level <= LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

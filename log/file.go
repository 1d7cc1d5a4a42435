package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	fileMu  sync.Mutex
	logFile io.Closer
)

// SetLogFile points the default slog logger at path, appending to it. The
// names "stdout" and "stderr" select the process streams. Files rotate as
// configured by WithRotation. A file opened by an earlier call is closed once
// the new destination is in place.
func SetLogFile(path string, level slog.Level, opts ...HandlerOption) error {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		w    io.Writer
		file io.Closer
	)
	switch path {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	case "":
		return fmt.Errorf("log file path is empty")
	default:
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.rotation.maxSizeMB,
			MaxBackups: cfg.rotation.maxBackups,
			Compress:   cfg.rotation.compress,
		}
		// lumberjack opens lazily; an empty write surfaces path errors now.
		if _, err := lj.Write(nil); err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w, file = lj, lj
	}

	opts = append(opts, WithWriter(w), WithLevel(level))
	slog.SetDefault(New(opts...))

	fileMu.Lock()
	previous := logFile
	logFile = file
	fileMu.Unlock()
	if previous != nil {
		return previous.Close()
	}
	return nil
}

// Package log installs the process-wide slog logger from config.LogConfig.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/wirecat/internal/config"
)

// Init builds the logger described by cfg and makes it the slog default.
// Records go to the configured console stream and, when enabled, to a
// rotated file.
func Init(cfg config.LogConfig) error {
	console, err := consoleStream(cfg.Outputs.Console.Stream)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, console)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// newLogger builds a logger writing to console (nil for none) plus the file output.
func newLogger(cfg config.LogConfig, console io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var outs []io.Writer
	if console != nil {
		outs = append(outs, console)
	}
	if fc := cfg.Outputs.File; fc.Enabled {
		w, err := createFileWriter(fc)
		if err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
		outs = append(outs, w)
	}

	var w io.Writer = io.Discard
	if len(outs) > 0 {
		w = io.MultiWriter(outs...)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
}

// consoleStream maps the console stream name to a writer. Empty means stdout.
func consoleStream(name string) (io.Writer, error) {
	switch strings.ToLower(name) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown console stream: %s", name)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level: %s", s)
}

// createFileWriter returns a lumberjack writer rotating at the configured size and age.
func createFileWriter(fc config.FileOutputConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}

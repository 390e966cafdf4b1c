// Package logging wires up the two slog loggers used by the program:
// the default logger (file plus console) and a request logger that
// records provider traffic to its own file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"comicgen/pkg/config"
)

// RequestLogger records outbound HTTP traffic. Set by Init.
var RequestLogger *slog.Logger

// Init configures the loggers from config and installs the server
// logger as the slog default. The returned function closes the log
// files and must be called on shutdown.
func Init(cfg *config.LogConfig) (func(), error) {
	// Start each run with fresh files, keeping one previous generation.
	rotatePaths(cfg.Server.Path, cfg.Requests.Path)

	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	server, closer, err := buildLogger(cfg.Server, true)
	if err != nil {
		return nil, fmt.Errorf("failed to setup server logger: %w", err)
	}
	closers = append(closers, closer)
	slog.SetDefault(server)

	requests, closer, err := buildLogger(cfg.Requests, false)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to setup requests logger: %w", err)
	}
	closers = append(closers, closer)
	RequestLogger = requests

	return closeAll, nil
}

// buildLogger opens the log file for the given settings and assembles
// a logger around it. With console set, records are also written to
// stdout, but never below INFO.
func buildLogger(settings config.LogSettings, console bool) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(settings.Path), 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(settings.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	level := parseLevel(settings.Level)
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})

	if !console {
		return slog.New(fileHandler), file, nil
	}

	consoleLevel := level
	if consoleLevel < slog.LevelInfo {
		consoleLevel = slog.LevelInfo
	}
	stdout := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: consoleLevel})

	return slog.New(&teeHandler{targets: []slog.Handler{fileHandler, stdout}}), file, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teeHandler fans records out to every target that accepts the level.
type teeHandler struct {
	targets []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.targets {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range t.targets {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.targets))
	for i, h := range t.targets {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{targets: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.targets))
	for i, h := range t.targets {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{targets: next}
}

// rotatePaths moves each existing log file aside to <path>.old,
// replacing any previous .old file.
func rotatePaths(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		old := p + ".old"
		_ = os.Remove(old)
		_ = os.Rename(p, old)
	}
}

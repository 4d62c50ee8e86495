// Package logger builds the slog loggers used across kimd: one JSON logger
// per subsystem with its own level, optionally teed into the OTel log
// pipeline, plus per-topic log files for kim output.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Subsystem names a component with an independently configurable level.
type Subsystem string

const (
	SubsystemAPI    Subsystem = "API"
	SubsystemKim    Subsystem = "KIM"
	SubsystemImages Subsystem = "IMAGES"
)

// Config holds the log level of every subsystem.
type Config struct {
	DefaultLevel    slog.Level
	SubsystemLevels map[Subsystem]slog.Level
}

// NewConfig reads LOG_LEVEL and LOG_LEVEL_<SUBSYSTEM> from the environment.
// Unknown values fall back to info.
func NewConfig() Config {
	cfg := Config{
		DefaultLevel:    parseLevel(os.Getenv("LOG_LEVEL"), slog.LevelInfo),
		SubsystemLevels: map[Subsystem]slog.Level{},
	}
	for _, sub := range []Subsystem{SubsystemAPI, SubsystemKim, SubsystemImages} {
		if v := os.Getenv("LOG_LEVEL_" + string(sub)); v != "" {
			cfg.SubsystemLevels[sub] = parseLevel(v, cfg.DefaultLevel)
		}
	}
	return cfg
}

// LevelFor returns the level configured for sub.
func (c Config) LevelFor(sub Subsystem) slog.Level {
	if level, ok := c.SubsystemLevels[sub]; ok {
		return level
	}
	return c.DefaultLevel
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return fallback
	}
	return level
}

// NewSubsystemLogger returns a JSON logger on stdout for sub. Records are
// also sent to otelHandler when it is not nil.
func NewSubsystemLogger(sub Subsystem, cfg Config, otelHandler slog.Handler) *slog.Logger {
	return NewWriterLogger(os.Stdout, sub, cfg, otelHandler)
}

// NewWriterLogger is NewSubsystemLogger writing to w.
func NewWriterLogger(w io.Writer, sub Subsystem, cfg Config, otelHandler slog.Handler) *slog.Logger {
	level := cfg.LevelFor(sub)
	var h slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	if otelHandler != nil {
		h = &fanoutHandler{handlers: []slog.Handler{h, &minLevelHandler{level: level, Handler: otelHandler}}}
	}
	return slog.New(h).With("subsystem", string(sub))
}

type contextKey struct{}

// AddToContext returns a copy of ctx carrying log.
func AddToContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext returns the logger stored by AddToContext, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}

// fanoutHandler sends every record to each handler that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}

// minLevelHandler drops records below level before they reach Handler.
type minLevelHandler struct {
	slog.Handler
	level slog.Level
}

func (h *minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.Handler.Enabled(ctx, level)
}

func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}

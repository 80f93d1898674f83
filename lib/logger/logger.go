// Package logger builds the structured slog loggers used across imagehub.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Subsystem names used as the "subsystem" attribute on every record.
const (
	SubsystemAPI       = "api"
	SubsystemBuilds    = "builds"
	SubsystemImages    = "images"
	SubsystemRegistry  = "registry"
	SubsystemTemplates = "templates"
)

type contextKey struct{}

// Config controls log level and output format.
type Config struct {
	Level  slog.Level
	Format string // "json" or "text"

	// SubsystemLevels overrides Level per subsystem, e.g. LOG_LEVEL_REGISTRY=debug.
	SubsystemLevels map[string]slog.Level
}

// NewConfig reads LOG_LEVEL, LOG_FORMAT and LOG_LEVEL_<SUBSYSTEM> from the environment.
func NewConfig() Config {
	cfg := Config{
		Level:           parseLevel(os.Getenv("LOG_LEVEL"), slog.LevelInfo),
		Format:          strings.ToLower(os.Getenv("LOG_FORMAT")),
		SubsystemLevels: map[string]slog.Level{},
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	for _, s := range []string{SubsystemAPI, SubsystemBuilds, SubsystemImages, SubsystemRegistry, SubsystemTemplates} {
		if v := os.Getenv("LOG_LEVEL_" + strings.ToUpper(s)); v != "" {
			cfg.SubsystemLevels[s] = parseLevel(v, cfg.Level)
		}
	}
	return cfg
}

// LevelFor returns the effective level for a subsystem.
func (c Config) LevelFor(subsystem string) slog.Level {
	if lvl, ok := c.SubsystemLevels[subsystem]; ok {
		return lvl
	}
	return c.Level
}

func parseLevel(s string, def slog.Level) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return def
	}
	return lvl
}

// NewLogger creates the process-wide logger writing to stdout.
func NewLogger(cfg Config) *slog.Logger {
	return slog.New(newStdoutHandler(cfg, cfg.Level))
}

// NewSubsystemLogger creates a logger tagged with subsystem. When otelHandler
// is non-nil, records are also sent to it for export.
func NewSubsystemLogger(subsystem string, cfg Config, otelHandler slog.Handler) *slog.Logger {
	var h slog.Handler = newStdoutHandler(cfg, cfg.LevelFor(subsystem))
	if otelHandler != nil {
		h = &fanoutHandler{handlers: []slog.Handler{h, otelHandler}}
	}
	return slog.New(h).With("subsystem", subsystem)
}

func newStdoutHandler(cfg Config, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

// AddToContext stores log in ctx.
func AddToContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && log != nil {
		return log
	}
	return slog.Default()
}

// fanoutHandler sends every record to each of its handlers.
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
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

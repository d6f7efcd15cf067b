package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/tpodg/ipsettle/internal/config"
	"github.com/tpodg/ipsettle/internal/metrics"
	"github.com/tpodg/ipsettle/internal/session"
)

type App struct {
	Logger   *slog.Logger
	Config   *config.Config
	Metrics  *metrics.Metrics
	Sessions *session.Manager
}

func New(cfg *config.Config) *App {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput builds the application with log output going to w.
func NewWithOutput(cfg *config.Config, w io.Writer) *App {
	if cfg == nil {
		cfg = &config.Config{}
	}
	logger := NewLogger(cfg.Log, w)
	m := metrics.New()

	return &App{
		Logger:   logger,
		Config:   cfg,
		Metrics:  m,
		Sessions: session.NewManager(logger, session.WithMetrics(m)),
	}
}

// NewLogger builds a text or json slog logger. Unknown levels fall back to info.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Close disconnects every host and flushes metrics to the configured textfile.
func (a *App) Close() error {
	a.Sessions.CloseAll()
	if err := a.Metrics.WriteTextfile(a.Config.MetricsFile); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

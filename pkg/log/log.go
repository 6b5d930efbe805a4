// Package log owns the process-wide slog logger. Components take a
// module-scoped child via WithModule; the level is runtime-adjustable
// through SetDebug so the serve command's --verbose flag works without
// rebuilding handlers.
package log

import (
	"log/slog"
	"os"
)

var (
	root  *slog.Logger
	level *slog.LevelVar
)

func init() {
	level = &slog.LevelVar{}
	level.Set(slog.LevelInfo)

	root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetDebug toggles between debug and info level.
func SetDebug(enabled bool) {
	if enabled {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// WithModule returns a child logger tagged with the component name.
func WithModule(module string) *slog.Logger {
	return root.With(slog.String("module", module))
}

func Debug(msg string, args ...any) { root.Debug(msg, args...) }
func Info(msg string, args ...any)  { root.Info(msg, args...) }
func Warn(msg string, args ...any)  { root.Warn(msg, args...) }
func Error(msg string, args ...any) { root.Error(msg, args...) }

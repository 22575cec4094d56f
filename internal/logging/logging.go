package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a slog logger and sets it as the default.
// format is "json" for production; anything else selects the text handler.
func New(format, level string) *slog.Logger {
	return setDefault(newLogger(os.Stdout, format, level))
}

func setDefault(l *slog.Logger) *slog.Logger {
	slog.SetDefault(l)
	return l
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: ParseLevel(level),
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     ParseLevel(level),
			AddSource: true, // Adds source file and line number
		})
	}
	return slog.New(handler)
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

package logger

import (
	"io"
	"log/slog"
	"os"
)

var (
	level  slog.LevelVar
	logger *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	logger = newLogger(os.Stderr)
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: &level,
	}))
}

func L() *slog.Logger {
	return logger
}

func SetLevel(l slog.Level) {
	level.Set(l)
}

func Level() slog.Level {
	return level.Level()
}

// SetOutput redirects every logger derived after the call. Loggers already
// obtained through L().With keep writing to the previous destination.
func SetOutput(w io.Writer) {
	logger = newLogger(w)
}

package util

import (
	"io"
	"log/slog"
	"os"
)

func SetupLogger(level slog.Level, enviroment string) *slog.Logger {
	return SetupLoggerWithWriter(os.Stdout, level, enviroment)
}

// SetupLoggerWithWriter installs the default logger: text output during
// development, json in PROD.
func SetupLoggerWithWriter(w io.Writer, level slog.Level, enviroment string) *slog.Logger {
	loggerOpts := slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}

	logger := slog.New(slog.NewTextHandler(w, &loggerOpts))
	if enviroment == "PROD" {
		logger = slog.New(slog.NewJSONHandler(w, &loggerOpts))
	}

	slog.SetDefault(logger)
	return logger
}

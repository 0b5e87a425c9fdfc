// Package logger provides the process-wide structured logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// Logger returns the configured logger.
func Logger() zerolog.Logger {
	return logger
}

// Set overrides the process-wide logger.
func Set(l zerolog.Logger) {
	logger = l
}

// Disable sets the logger to a no-op. Tests use this to keep output clean.
func Disable() {
	logger = zerolog.Nop()
}

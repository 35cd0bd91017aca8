package logger

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New constructs a zerolog logger based on level and format configuration.
func New(level, format string) (zerolog.Logger, error) {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(out io.Writer, level, format string) (zerolog.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, err
	}

	var writer zerolog.Logger
	switch strings.ToLower(format) {
	case "", "json":
		writer = zerolog.New(out).With().Timestamp().Logger()
	case "console":
		consoleWriter := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
		writer = zerolog.New(consoleWriter).With().Timestamp().Logger()
	default:
		return zerolog.Logger{}, errors.New("unsupported log format")
	}
	return writer.Level(lvl), nil
}

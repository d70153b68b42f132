// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// EnvLevel names the environment variable read for the initial level.
const EnvLevel = "TRAWL_LOG_LEVEL"

// Logger is the process-wide logger. Library code receives a copy through
// its options instead of reading this directly.
var Logger zerolog.Logger

func init() {
	level := zerolog.WarnLevel
	if env := os.Getenv(EnvLevel); env != "" {
		if l, err := zerolog.ParseLevel(env); err == nil {
			level = l
		}
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Configure sets the global level and the output format. output is
// "console" for human readable lines or "json" for one object per line.
func Configure(level, output string, w io.Writer) error {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch output {
	case "console":
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	case "json", "":
		Logger = zerolog.New(w).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log output %q (valid: console, json)", output)
	}

	zerolog.SetGlobalLevel(l)
	return nil
}

// Component returns Logger tagged with a component field.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// zerolog.go configures the process-wide diagnostic logger.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds a zerolog.Logger from the configured level and format.
// Format "console" renders human-readable output; anything else emits JSON.
// An unknown level falls back to info rather than failing startup.
func Setup(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var output io.Writer = os.Stderr
	if strings.ToLower(format) == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

// Nop returns a disabled logger for tests and callers that want silence.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Package logging provides the capture store's package-level zerolog logger.
// Every component logs through Get() rather than the standard log package,
// matching the structured-logging convention used elsewhere in the pack.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	global zerolog.Logger
)

// Get returns the shared logger, initializing it with a console writer on
// first use. Safe for concurrent use.
func Get() zerolog.Logger {
	once.Do(func() {
		global = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			With().
			Timestamp().
			Str("component", "capturestore").
			Logger()
	})
	return global
}

// SetLevel adjusts the global minimum log level (e.g. zerolog.DebugLevel).
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

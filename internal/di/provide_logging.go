package di

import (
	"os"

	"github.com/rs/zerolog"
)

// ProvideLogger creates a new zerolog.Logger configured for the runtime environment.
// In CI (when CI is set), it uses JSON format.
// In terminal/CLI, it uses console format with pretty printing.
// Logs go to stderr so commands like synth can write documents to stdout.
func ProvideLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("ECS_DEPLOYER_DEBUG") != "" {
		level = zerolog.DebugLevel
	}

	if os.Getenv("CI") != "" {
		// Running in CI - use JSON format
		return zerolog.New(os.Stderr).
			Level(level).
			With().
			Timestamp().
			Logger()
	}

	// Running in terminal - use console format with colors
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

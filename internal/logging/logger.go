package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	LevelEnv  = "SUMMARY_LOG_LEVEL"
	FormatEnv = "SUMMARY_LOG_FORMAT"
)

// Init initializes the global logger with configuration from environment variables.
// SUMMARY_LOG_LEVEL controls the log level: debug, info, warn, error (default: info).
// SUMMARY_LOG_FORMAT=console switches to the human-readable writer; anything else
// keeps one JSON object per line, which is what CloudWatch and Loki ingest.
func Init() {
	InitWith(os.Getenv(LevelEnv), os.Getenv(FormatEnv), os.Stderr)
}

// InitWith is Init with explicit settings. A non-empty level flag on the CLI
// takes precedence over the environment through this entry point.
func InitWith(level, format string, out io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if strings.EqualFold(format, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

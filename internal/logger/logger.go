package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the process-wide root logger. Components never use it
	// directly; they receive a child logger via WithComponent at
	// construction time.
	Logger zerolog.Logger
)

func init() {
	// Initialize with a default logger (info level, console output)
	// Can be reconfigured later with Init()
	Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = Logger
}

// Init configures the root logger with the specified level and output
func Init(level string, pretty bool) {
	// Parse log level
	var zlLevel zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		zlLevel = zerolog.DebugLevel
	case "info":
		zlLevel = zerolog.InfoLevel
	case "warn", "warning":
		zlLevel = zerolog.WarnLevel
	case "error":
		zlLevel = zerolog.ErrorLevel
	default:
		zlLevel = zerolog.InfoLevel
	}

	// Set global log level
	zerolog.SetGlobalLevel(zlLevel)

	// Configure output
	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		}
	}

	// Create logger
	Logger = zerolog.New(output).
		With().
		Timestamp().
		Logger()

	// Set as global logger
	log.Logger = Logger
}

// Get returns the root logger instance
func Get() *zerolog.Logger {
	return &Logger
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

// WithPanel returns a logger tagged with a component and panel instance id
func WithPanel(component, panelID string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Str("panel", panelID).Logger()
	return &l
}

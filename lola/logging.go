package lola

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the global default logger with a TextHandler
// writing to stderr, with its level controlled by the LOLA_LOG_LEVEL
// environment variable. Defaults to Info.
//
// Component constructors (shm.New, discovery.New) take a *slog.Logger via
// functional option instead of reading the global default, since
// production code here is per-instance, not a process singleton; calling
// ConfigureLogging only establishes the default used when no logger is
// supplied.
func ConfigureLogging() {
	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("LOLA_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel overrides the level set by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// Abortf logs msg at Error level with args and then panics. Components
// call this only for precondition violations (API misuse): a moved-from
// guard used again, argument pointers from
// different queue positions, a binding that fails allocate_in_args after
// the core already picked an available slot. These are programmer errors,
// not recoverable runtime conditions, and are never wrapped in a
// recovered panic at a public entry point.
func Abortf(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Error(msg, args...)
	panic(msg)
}

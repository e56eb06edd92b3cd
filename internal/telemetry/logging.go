// Package telemetry installs the daemon's structured logger and local
// OpenTelemetry meter/tracer providers.
package telemetry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// InitLogging configures the global slog logger. JSON if
// SCHEDULERD_JSON_LOG is 1/true, text otherwise. The scheduler instance
// name is bound as a persistent field so every log line in a multi-
// instance deployment is attributable.
func InitLogging(schedulerName string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("SCHEDULERD_JSON_LOG"))
	var handler slog.Handler
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFromEnv()})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelFromEnv()})
	}
	logger := slog.New(handler).With("scheduler", schedulerName)
	slog.SetDefault(logger)
	return logger
}

// InitFileLogging configures the global slog logger to write to
// {logDir}/{schedulerName}.log, appending across a resumed launch and
// truncating on a fresh one — the Go analogue of config.py's
// setup_logging, which keyed file mode ('a'/'w') off --resume.
func InitFileLogging(logDir, schedulerName string, resume bool) (*slog.Logger, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(filepath.Join(logDir, schedulerName+".log"), flags, 0o644)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	if strings.ToLower(os.Getenv("SCHEDULERD_JSON_LOG")) == "json" {
		handler = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: levelFromEnv()})
	} else {
		handler = slog.NewTextHandler(f, &slog.HandlerOptions{Level: levelFromEnv()})
	}
	logger := slog.New(handler).With("scheduler", schedulerName)
	slog.SetDefault(logger)
	return logger, nil
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("SCHEDULERD_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

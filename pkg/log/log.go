// Package log provides slog helpers shared by the engine, the HTTP server
// and the relay consumer.
package log

import (
	"log/slog"
	"os"
)

// New constructs a JSON slog.Logger preconfigured at info level.
func New(service, env string) *slog.Logger {
	return NewWithLevel(service, env, slog.LevelInfo)
}

// NewWithLevel constructs a JSON slog.Logger at the provided level.
func NewWithLevel(service, env string, lvl slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	if env != "" {
		logger = logger.With(slog.String("env", env))
	}
	return logger
}

// InstanceID tags a log record with the orchestration instance id.
func InstanceID(id string) slog.Attr {
	return slog.String("instance_id", id)
}

// Workflow tags a log record with a workflow name.
func Workflow(name string) slog.Attr {
	return slog.String("workflow", name)
}

// Activity tags a log record with an activity name.
func Activity(name string) slog.Attr {
	return slog.String("activity", name)
}

// Event tags a log record with an external event name.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Error tags a log record with an error message; nil errors become "".
func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

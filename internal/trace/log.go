package trace

import (
	"context"
	"log/slog"
	"strings"

	"coopsched/internal/sched"
)

// Log writes events to a slog logger. Scheduler suspend/resume events are
// frequent and only logged when includeScheduler is set.
type Log struct {
	logger           *slog.Logger
	level            slog.Level
	includeScheduler bool
}

// NewLog creates a recorder logging at level.
func NewLog(logger *slog.Logger, level slog.Level, includeScheduler bool) *Log {
	return &Log{
		logger:           logger.With("component", "trace"),
		level:            level,
		includeScheduler: includeScheduler,
	}
}

func (l *Log) Record(ev sched.Event) {
	if ev.TaskID == 0 {
		if !l.includeScheduler {
			return
		}
		l.logger.Log(context.Background(), l.level, strings.ToLower(ev.Kind.String()),
			"at", ev.Time)
		return
	}
	l.logger.Log(context.Background(), l.level, strings.ToLower(ev.Kind.String()),
		"at", ev.Time,
		"task_id", ev.TaskID,
		"priority", ev.Priority.String(),
	)
}

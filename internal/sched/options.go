package sched

import "log/slog"

// Options holds construction-time settings for a Scheduler.
type Options struct {
	Logger   *slog.Logger
	Recorder Recorder
	Timeouts Timeouts
}

// Option is a function that configures Options.
type Option func(*Options)

// WithLogger sets the logger used for scheduler diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithRecorder sets the sink for profiling events.
func WithRecorder(r Recorder) Option {
	return func(o *Options) {
		o.Recorder = r
	}
}

// WithTimeouts overrides the per-priority timeouts.
func WithTimeouts(tt Timeouts) Option {
	return func(o *Options) {
		o.Timeouts = tt
	}
}

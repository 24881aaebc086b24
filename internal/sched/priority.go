// internal/sched/priority.go

package sched

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority is the urgency level of a task. Lower values are more urgent.
type Priority int

const (
	NoPriority Priority = iota
	ImmediatePriority
	UserBlockingPriority
	NormalPriority
	LowPriority
	IdlePriority
)

// Default timeouts per priority level. Immediate work is overdue the moment it
// is scheduled; idle work never expires in practice.
const (
	ImmediateTimeout    = -1 * time.Millisecond
	UserBlockingTimeout = 250 * time.Millisecond
	NormalTimeout       = 5000 * time.Millisecond
	LowTimeout          = 10000 * time.Millisecond
	IdleTimeout         = 1073741823 * time.Millisecond // max 31 bit integer
)

var priorityNames = map[Priority]string{
	NoPriority:           "none",
	ImmediatePriority:    "immediate",
	UserBlockingPriority: "user-blocking",
	NormalPriority:       "normal",
	LowPriority:          "low",
	IdlePriority:         "idle",
}

// Priorities lists the schedulable levels from most to least urgent.
func Priorities() []Priority {
	return []Priority{ImmediatePriority, UserBlockingPriority, NormalPriority, LowPriority, IdlePriority}
}

// Valid reports whether p is one of the schedulable levels.
func (p Priority) Valid() bool {
	return p >= ImmediatePriority && p <= IdlePriority
}

// normalize maps anything outside the known levels to NormalPriority.
func (p Priority) normalize() Priority {
	if !p.Valid() {
		return NormalPriority
	}
	return p
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "Priority(" + strconv.Itoa(int(p)) + ")"
}

// ParsePriority converts a level name or its numeric value into a Priority.
// Unknown input yields NormalPriority and an error describing the input.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if p != NoPriority && name == s {
			return p, nil
		}
	}
	switch s {
	case "userblocking", "user_blocking":
		return UserBlockingPriority, nil
	}
	if n, err := strconv.Atoi(s); err == nil && Priority(n).Valid() {
		return Priority(n), nil
	}
	return NormalPriority, fmt.Errorf("unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// UnmarshalYAML accepts either a level name or a number.
func (p *Priority) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return p.UnmarshalText([]byte(fmt.Sprint(raw)))
}

// Timeouts holds the deadline offset applied to each priority level.
type Timeouts struct {
	Immediate    time.Duration
	UserBlocking time.Duration
	Normal       time.Duration
	Low          time.Duration
	Idle         time.Duration
}

// DefaultTimeouts returns the standard per-level timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Immediate:    ImmediateTimeout,
		UserBlocking: UserBlockingTimeout,
		Normal:       NormalTimeout,
		Low:          LowTimeout,
		Idle:         IdleTimeout,
	}
}

// For returns the timeout of p. Unknown levels get the Normal timeout.
func (tt Timeouts) For(p Priority) time.Duration {
	switch p {
	case ImmediatePriority:
		return tt.Immediate
	case UserBlockingPriority:
		return tt.UserBlocking
	case IdlePriority:
		return tt.Idle
	case LowPriority:
		return tt.Low
	default:
		return tt.Normal
	}
}

// ScheduleOptions carries the optional knobs of ScheduleCallback.
type ScheduleOptions struct {
	Delay   time.Duration
	Timeout time.Duration

	hasTimeout bool
}

// ScheduleOption configures a single ScheduleCallback call.
type ScheduleOption func(*ScheduleOptions)

// WithDelay postpones the task's start by d. Non-positive delays are ignored.
func WithDelay(d time.Duration) ScheduleOption {
	return func(o *ScheduleOptions) {
		o.Delay = d
	}
}

// WithTimeout overrides the level timeout used to compute the deadline.
func WithTimeout(d time.Duration) ScheduleOption {
	return func(o *ScheduleOptions) {
		o.Timeout = d
		o.hasTimeout = true
	}
}

// ComputeDeadline maps (now, priority, options) to a start time and an
// expiration time. It has no side effects.
func ComputeDeadline(now time.Duration, p Priority, o ScheduleOptions, tt Timeouts) (start, expiration time.Duration) {
	start = now
	if o.Delay > 0 {
		start = now + o.Delay
	}
	timeout := tt.For(p.normalize())
	if o.hasTimeout {
		timeout = o.Timeout
	}
	return start, start + timeout
}

package host

import (
	"errors"
	"fmt"
	"time"
)

// ErrFrameRate is returned for frame rates outside [0, MaxFrameRate].
var ErrFrameRate = errors.New("host: frame rate out of range")

const (
	// DefaultYieldInterval is the slice length used until a frame rate is forced.
	DefaultYieldInterval = 5 * time.Millisecond
	// MaxFrameRate is the highest accepted frame rate.
	MaxFrameRate = 125
)

// frameInterval converts fps into a slice length. Zero restores the default.
func frameInterval(fps int) (time.Duration, error) {
	if fps < 0 || fps > MaxFrameRate {
		return 0, fmt.Errorf("%w: %d fps (want 0..%d)", ErrFrameRate, fps, MaxFrameRate)
	}
	if fps == 0 {
		return DefaultYieldInterval, nil
	}
	return time.Duration(1000/fps) * time.Millisecond, nil
}

package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml
type Config struct {
	FrameRate   int            `yaml:"frame_rate"`   // 0 keeps the host default (5ms slices)
	Timeouts    TimeoutsConfig `yaml:"timeouts"`     // per-priority deadlines
	LogLevel    string         `yaml:"log_level"`    // debug, info, warn, error
	LogFormat   string         `yaml:"log_format"`   // text, json
	TraceCSV    string         `yaml:"trace_csv"`    // empty disables CSV tracing
	TraceBuffer int            `yaml:"trace_buffer"` // events kept in memory
}

// TimeoutsConfig holds the adjustable level timeouts in milliseconds.
// Immediate and Idle are fixed.
type TimeoutsConfig struct {
	UserBlockingMS int `yaml:"user_blocking_ms"`
	NormalMS       int `yaml:"normal_ms"`
	LowMS          int `yaml:"low_ms"`
}

// If the config file is not found, we use default values
func defaultConfig() Config {
	return Config{
		FrameRate: 0,
		Timeouts: TimeoutsConfig{
			UserBlockingMS: int(UserBlockingTimeout / time.Millisecond),
			NormalMS:       int(NormalTimeout / time.Millisecond),
			LowMS:          int(LowTimeout / time.Millisecond),
		},
		LogLevel:    "info",
		LogFormat:   "text",
		TraceBuffer: 1024,
	}
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config { return defaultConfig() }

// Load reads YAML and overrides defaults; empty path or a missing file means
// defaults only. A file that exists but does not parse is an error.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}

	// sanity clamps
	def := defaultConfig()
	if cfg.FrameRate < 0 || cfg.FrameRate > 125 {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.Timeouts.UserBlockingMS <= 0 {
		cfg.Timeouts.UserBlockingMS = def.Timeouts.UserBlockingMS
	}
	if cfg.Timeouts.NormalMS <= 0 {
		cfg.Timeouts.NormalMS = def.Timeouts.NormalMS
	}
	if cfg.Timeouts.LowMS <= 0 {
		cfg.Timeouts.LowMS = def.Timeouts.LowMS
	}
	if cfg.TraceBuffer <= 0 {
		cfg.TraceBuffer = def.TraceBuffer
	}

	return cfg, nil
}

// SchedulerTimeouts converts the configured milliseconds into Timeouts.
func (c Config) SchedulerTimeouts() Timeouts {
	tt := DefaultTimeouts()
	tt.UserBlocking = time.Duration(c.Timeouts.UserBlockingMS) * time.Millisecond
	tt.Normal = time.Duration(c.Timeouts.NormalMS) * time.Millisecond
	tt.Low = time.Duration(c.Timeouts.LowMS) * time.Millisecond
	return tt
}

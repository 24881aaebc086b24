// internal/trace/csv.go

package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"coopsched/internal/sched"
)

// CSV writes one row per scheduler event.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
	err    error
}

// CreateCSV opens (truncating) the file at path and writes the header.
func CreateCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	c, err := NewCSV(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

// NewCSV writes the header to w and returns a recorder appending to it.
func NewCSV(w io.Writer) (*CSV, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time_ms", "event", "task_id", "priority"}); err != nil {
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	cw.Flush()
	return &CSV{w: cw}, cw.Error()
}

// Record implements sched.Recorder. Write errors are kept and reported by
// Close.
func (c *CSV) Record(ev sched.Event) {
	if c.err != nil {
		return
	}
	rec := []string{
		strconv.FormatFloat(float64(ev.Time)/float64(time.Millisecond), 'f', 3, 64),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.TaskID), 10),
		"",
	}
	if ev.TaskID != 0 {
		rec[3] = ev.Priority.String()
	}
	if err := c.w.Write(rec); err != nil {
		c.err = err
	}
}

// Close flushes buffered rows and closes the underlying file, if any.
func (c *CSV) Close() error {
	c.w.Flush()
	if c.err == nil {
		c.err = c.w.Error()
	}
	if c.closer != nil {
		if err := c.closer.Close(); err != nil && c.err == nil {
			c.err = err
		}
	}
	return c.err
}

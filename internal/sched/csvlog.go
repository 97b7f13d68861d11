package sched

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

var csvHeader = []string{
	"timestamp", "session", "cycle", "event", "task_id", "interrupt_id",
	"name", "duration_ms", "next_run_ms", "count", "error",
}

// CSVRecorder writes one row per event. Rows are flushed as they are written.
type CSVRecorder struct {
	mu  sync.Mutex
	w   *csv.Writer
	c   io.Closer
	err error // first write error
}

// NewCSVRecorder writes the header to w and returns a recorder appending to it.
func NewCSVRecorder(w io.Writer) (*CSVRecorder, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	r := &CSVRecorder{w: cw}
	if c, ok := w.(io.Closer); ok {
		r.c = c
	}
	return r, nil
}

// OpenCSVRecorder creates (or truncates) the file at path.
func OpenCSVRecorder(path string) (*CSVRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open csv log: %w", err)
	}
	r, err := NewCSVRecorder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return r, nil
}

func (r *CSVRecorder) Record(ev Event) {
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	rec := []string{
		ev.Time.Format(time.RFC3339Nano),
		ev.Session,
		strconv.FormatUint(ev.Cycle, 10),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.TaskID), 10),
		strconv.FormatUint(uint64(ev.InterruptID), 10),
		ev.Name,
		fmt.Sprintf("%.4f", ms(ev.Duration)),
		fmt.Sprintf("%.4f", ms(ev.NextRun)),
		strconv.Itoa(ev.Count),
		errText,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.w.Write(rec); err != nil {
		r.err = err
		return
	}
	r.w.Flush()
	r.err = r.w.Error()
}

// Err returns the first error hit while writing rows. Rows after it are discarded.
func (r *CSVRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close flushes pending rows and closes the underlying writer if it is a Closer.
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	if r.err == nil {
		r.err = r.w.Error()
	}
	var closeErr error
	if r.c != nil {
		closeErr = r.c.Close()
	}
	return errors.Join(r.err, closeErr)
}

// ms converts a duration to fractional milliseconds.
func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

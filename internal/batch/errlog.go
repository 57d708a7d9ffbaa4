// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	logNameLayout = "2006-01-02_15-04-05"
	logLineLayout = "2006-01-02 15:04:05"
)

// Clock returns the current time. Coordinators take one so tests can pin
// the log file name and line timestamps.
type Clock func() time.Time

// LogFileName returns the error log name for a run started at t.
func LogFileName(t time.Time) string {
	return "error_log_" + t.Format(logNameLayout) + ".txt"
}

// ErrorLog is an append-only file of timestamped messages. Only the
// coordinator writes to it, after workers have returned.
type ErrorLog struct {
	path  string
	clock Clock
	f     *os.File
}

// CreateErrorLog creates (or truncates) the run's log in dir, named after
// the run start time.
func CreateErrorLog(dir string, start time.Time, clock Clock) (*ErrorLog, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, LogFileName(start))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating error log: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &ErrorLog{path: path, clock: clock, f: f}, nil
}

// Path returns the log file path.
func (l *ErrorLog) Path() string { return l.path }

// Append writes "[<timestamp>] <msg>" as one line.
func (l *ErrorLog) Append(msg string) error {
	_, err := fmt.Fprintf(l.f, "[%s] %s\n", l.clock().Format(logLineLayout), msg)
	return err
}

// Close flushes and closes the file.
func (l *ErrorLog) Close() error {
	return l.f.Close()
}

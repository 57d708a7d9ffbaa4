// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package preflight validates the environment before a conversion batch is
// dispatched. A failed check aborts the run before any page is written.
package preflight

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Sentinel errors returned by the checks.
var (
	ErrLowDiskSpace = errors.New("insufficient free disk space")
	ErrToolMissing  = errors.New("required tool not found on PATH")
)

// FreeBytes reports the bytes available to unprivileged users on the
// filesystem containing path. Tests replace it to simulate full disks.
var FreeBytes = statfsFree

// LookPath resolves executables; tests replace it.
var LookPath = exec.LookPath

func statfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// CheckDiskSpace returns an error wrapping ErrLowDiskSpace when fewer than
// minBytes are free on the filesystem holding path.
func CheckDiskSpace(path string, minBytes uint64) error {
	free, err := FreeBytes(path)
	if err != nil {
		return err
	}
	if free < minBytes {
		return fmt.Errorf("%w: only %s free on %s, need %s",
			ErrLowDiskSpace, humanize.IBytes(free), path, humanize.IBytes(minBytes))
	}
	return nil
}

// CheckTools verifies every named binary resolves on PATH.
func CheckTools(names ...string) error {
	var missing []error
	for _, name := range names {
		if _, err := LookPath(name); err != nil {
			missing = append(missing, fmt.Errorf("%w: %s", ErrToolMissing, name))
		}
	}
	return errors.Join(missing...)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package discover locates the PDF documents of a replay output tree.
// Documents live exactly one level below run directories whose names share
// a fixed prefix (e.g. COIN_NPS_50k_replay_0001/report.pdf).
package discover

import (
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const pdfExt = ".pdf"

// Documents returns a lazy sequence of absolute PDF paths found directly
// inside the subdirectories of parentDir whose names begin with prefix.
// Run directories and the files within them are visited in lexical order.
//
// A missing parentDir, an unreadable run directory, or no matching run
// directories are normal states: the sequence is simply shorter or empty.
func Documents(parentDir, prefix string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, runDir := range runDirs(parentDir, prefix) {
			entries, err := os.ReadDir(runDir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.Type().IsRegular() || !isPDF(e.Name()) {
					continue
				}
				if !yield(filepath.Join(runDir, e.Name())) {
					return
				}
			}
		}
	}
}

// List collects Documents into a slice.
func List(parentDir, prefix string) []string {
	var paths []string
	for p := range Documents(parentDir, prefix) {
		paths = append(paths, p)
	}
	return paths
}

// runDirs returns the sorted absolute paths of matching run directories.
func runDirs(parentDir, prefix string) []string {
	abs, err := filepath.Abs(parentDir)
	if err != nil {
		return nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil
	}

	var dirs []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		full := filepath.Join(abs, e.Name())
		// Follow symlinked run directories.
		if info, err := os.Stat(full); err == nil && info.IsDir() {
			dirs = append(dirs, full)
		}
	}
	sort.Strings(dirs)
	return dirs
}

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), pdfExt)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/pdfraster/pkg/types"
)

// DefaultPageName is the fallback image name for 1-based page n.
func DefaultPageName(n int) string {
	return fmt.Sprintf("default_page_%d.png", n)
}

// OutputNames maps pages to output filenames. Page i (0-based) takes
// expected[i]; pages past the end of expected fall back to DefaultPageName.
// Names beyond the page count are ignored.
func OutputNames(expected []string, pages int) []string {
	if pages <= 0 {
		return nil
	}
	names := make([]string, pages)
	for i := range names {
		if i < len(expected) {
			names[i] = expected[i]
		} else {
			names[i] = DefaultPageName(i + 1)
		}
	}
	return names
}

// AllOutputsExist reports whether every expected filename is present in dir.
// An empty expected list is never satisfied: the document has to be opened
// to learn how many default-named pages it produces.
func AllOutputsExist(dir string, expected []string) bool {
	if len(expected) == 0 {
		return false
	}
	for _, name := range expected {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// ReadFilenames loads an output-name list: one name per line, surrounding
// whitespace trimmed, blank lines ignored. Names must be plain filenames
// because pages are always written beside their source document.
func ReadFilenames(path string) ([]string, error) {
	if path == "" {
		return nil, types.ErrNoFilenameList
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening filename list: %w", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if name != filepath.Base(name) || name == "." || name == ".." {
			return nil, fmt.Errorf("%s:%d: %q is not a plain filename", path, lineNo, name)
		}
		names = append(names, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading filename list: %w", err)
	}
	return names, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the configuration and data structures shared by the
// pdfraster pipelines.
package types

import (
	"path/filepath"
	"time"
)

// Document is one source PDF together with the names its rendered pages
// should receive.
type Document struct {
	// Path is the source PDF.
	Path string `json:"path" yaml:"path"`

	// Outputs lists output filenames in page order. Pages beyond the end of
	// the list get default_page_<n>.png.
	Outputs []string `json:"outputs" yaml:"outputs"`

	// DPI is the rasterization resolution.
	DPI int `json:"dpi" yaml:"dpi"`
}

// Dir returns the directory the document's pages are written into.
func (d Document) Dir() string {
	return filepath.Dir(d.Path)
}

// WorkItem is the unit handed to one pool worker. Workers treat it as
// read-only.
type WorkItem struct {
	Document Document
}

// NewWorkItems builds one WorkItem per path sharing the same output names
// and resolution.
func NewWorkItems(paths, outputs []string, dpi int) []WorkItem {
	items := make([]WorkItem, len(paths))
	for i, p := range paths {
		items[i] = WorkItem{Document: Document{Path: p, Outputs: outputs, DPI: dpi}}
	}
	return items
}

// OutcomeStatus is the result class of one processed document.
type OutcomeStatus string

const (
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeSuccess OutcomeStatus = "converted"
	OutcomeFailure OutcomeStatus = "failed"
	OutcomeOK      OutcomeStatus = "ok"
)

// Outcome is what a worker reports for one document.
type Outcome struct {
	Path     string        `json:"path" yaml:"path"`
	Status   OutcomeStatus `json:"status" yaml:"status"`
	Pages    int           `json:"pages,omitempty" yaml:"pages,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.Status == OutcomeFailure
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package render rasterizes PDF pages into PNG images.
//
// The production Rasterizer shells out to poppler's pdftoppm one page at a
// time, so page i is always written to exactly the path the caller chose.
// Page counting is done in-process with pdfcpu.
package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const binPdftoppm = "pdftoppm"

// Rasterizer counts and renders the pages of a PDF.
type Rasterizer interface {
	// PageCount returns the number of pages in the PDF at path.
	PageCount(ctx context.Context, path string) (int, error)

	// RenderPage renders the 1-based page of the PDF at path to a PNG file
	// at dst using the given resolution.
	RenderPage(ctx context.Context, path string, page, dpi int, dst string) error
}

// executor abstracts command execution for testing.
type executor interface {
	Run(ctx context.Context, name string, args ...string) (stderr string, err error)
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (osExecutor) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stderr.String()), err
}

// Pdftoppm implements Rasterizer with poppler's pdftoppm.
type Pdftoppm struct {
	bin  string
	exec executor
}

// NewPdftoppm returns a rasterizer using the pdftoppm binary on PATH.
// Callers confirm the binary is installed with preflight.CheckTools.
func NewPdftoppm() *Pdftoppm {
	return newPdftoppm(osExecutor{})
}

func newPdftoppm(e executor) *Pdftoppm {
	return &Pdftoppm{bin: binPdftoppm, exec: e}
}

// PageCount reads the page tree with pdfcpu.
func (p *Pdftoppm) PageCount(_ context.Context, path string) (int, error) {
	return CountPages(path)
}

// RenderPage writes a single page with -singlefile. pdftoppm appends the
// image extension to its output root, so the page is rendered next to dst
// under a scratch root and renamed onto dst once complete.
func (p *Pdftoppm) RenderPage(ctx context.Context, path string, page, dpi int, dst string) error {
	if page < 1 {
		return fmt.Errorf("page %d out of range", page)
	}
	root := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".part")
	rendered := root + ".png"

	n := strconv.Itoa(page)
	args := []string{
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", n,
		"-l", n,
		"-singlefile",
		path,
		root,
	}
	if stderr, err := p.exec.Run(ctx, p.bin, args...); err != nil {
		_ = os.Remove(rendered)
		if stderr != "" {
			return fmt.Errorf("rendering page %d of %s: %w: %s", page, path, err, stderr)
		}
		return fmt.Errorf("rendering page %d of %s: %w", page, path, err)
	}

	if err := os.Rename(rendered, dst); err != nil {
		_ = os.Remove(rendered)
		return fmt.Errorf("moving page %d to %s: %w", page, dst, err)
	}
	return nil
}

// CountPages returns the number of pages of the PDF at path.
func CountPages(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading page count of %s: %w", path, err)
	}
	return n, nil
}

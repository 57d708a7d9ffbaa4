// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package probe detects corrupt or unreadable PDFs without producing output
// beside them.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/pdiddy/pdfraster/internal/render"
	"github.com/pdiddy/pdfraster/pkg/types"
)

// ErrNoPages is returned for documents whose page tree is empty.
var ErrNoPages = errors.New("document has no pages")

// Prober inspects one document and returns nil if it looks readable.
type Prober interface {
	Probe(ctx context.Context, path string) error
}

// StructureProber parses the cross-reference table and page tree with
// pdfcpu. It is the cheapest check: no page content is decoded.
type StructureProber struct{}

// Probe opens the document in relaxed validation mode and counts its pages.
func (StructureProber) Probe(_ context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(f, conf)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoPages
	}
	return nil
}

// RenderProber renders every page at a very low resolution into a scratch
// directory. It catches damage in page content streams that a structural
// parse misses, at the cost of invoking the rasterizer.
type RenderProber struct {
	Rasterizer render.Rasterizer

	// DPI defaults to types.DefaultProbeDPI.
	DPI int
}

// Probe renders all pages and discards the images.
func (p RenderProber) Probe(ctx context.Context, path string) error {
	dpi := p.DPI
	if dpi <= 0 {
		dpi = types.DefaultProbeDPI
	}

	pages, err := p.Rasterizer.PageCount(ctx, path)
	if err != nil {
		return err
	}
	if pages == 0 {
		return ErrNoPages
	}

	scratch, err := os.MkdirTemp("", "pdfraster-probe-*")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	for page := 1; page <= pages; page++ {
		dst := filepath.Join(scratch, fmt.Sprintf("page_%d.png", page))
		if err := p.Rasterizer.RenderPage(ctx, path, page, dpi, dst); err != nil {
			return err
		}
	}
	return nil
}

// Check runs p against path and converts every failure, including a panic
// inside the prober, into a single-line message naming the document. It
// returns "" when the document is readable.
func Check(ctx context.Context, p Prober, path string) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprintf("ERROR: Unexpected failure while processing %s. Skipping. %s", path, oneLine(fmt.Sprint(r)))
		}
	}()

	err := p.Probe(ctx, path)
	if err == nil {
		return ""
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return fmt.Sprintf("ERROR: Unexpected failure while processing %s. Skipping. %s", path, oneLine(err.Error()))
	}
	return fmt.Sprintf("ERROR: Unable to process %s. PDF might be corrupted. Skipping. %s", path, oneLine(err.Error()))
}

// oneLine collapses multi-line tool output so each log record stays on one
// line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

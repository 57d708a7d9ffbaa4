// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/pdfraster/internal/render"
	"github.com/pdiddy/pdfraster/pkg/types"
)

// Convert rasterizes one document into its own directory, one image per
// page in page order. If every expected output already exists the document
// is not opened and the outcome is Skipped. When the list does not cover
// every page, the page count decides: a document whose pages all exist
// under their final names is also Skipped.
//
// Convert never returns an error or panics: parse failures, render failures,
// and panics inside the rasterizer all become a Failure outcome whose reason
// names the document.
func Convert(ctx context.Context, r render.Rasterizer, item types.WorkItem) (out types.Outcome) {
	doc := item.Document
	out = types.Outcome{Path: doc.Path}

	defer func() {
		if rec := recover(); rec != nil {
			out.Status = types.OutcomeFailure
			out.Reason = fmt.Sprintf("ERROR: Unexpected failure in %s: %v", doc.Path, rec)
		}
	}()

	if AllOutputsExist(doc.Dir(), doc.Outputs) {
		out.Status = types.OutcomeSkipped
		return out
	}

	start := time.Now()
	pages, err := r.PageCount(ctx, doc.Path)
	if err != nil {
		return failure(out, "ERROR: Skipping corrupt PDF %s: %v", doc.Path, err)
	}
	if pages == 0 {
		return failure(out, "ERROR: Skipping corrupt PDF %s: document has no pages", doc.Path)
	}

	names := OutputNames(doc.Outputs, pages)
	if AllOutputsExist(doc.Dir(), names) {
		out.Status = types.OutcomeSkipped
		out.Pages = pages
		return out
	}

	for i, name := range names {
		dst := filepath.Join(doc.Dir(), name)
		if err := r.RenderPage(ctx, doc.Path, i+1, doc.DPI, dst); err != nil {
			out.Pages = i
			return failure(out, "ERROR: Unexpected failure in %s: %v", doc.Path, err)
		}
	}

	out.Status = types.OutcomeSuccess
	out.Pages = pages
	out.Duration = time.Since(start)
	return out
}

func failure(out types.Outcome, format string, args ...any) types.Outcome {
	out.Status = types.OutcomeFailure
	out.Reason = strings.Join(strings.Fields(fmt.Sprintf(format, args...)), " ")
	return out
}

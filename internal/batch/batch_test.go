// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pdfraster/internal/discover"
	"github.com/pdiddy/pdfraster/internal/preflight"
	"github.com/pdiddy/pdfraster/internal/probe"
	"github.com/pdiddy/pdfraster/internal/render"
	"github.com/pdiddy/pdfraster/internal/testsupport"
	"github.com/pdiddy/pdfraster/pkg/types"
)

const runPrefix = "COIN_NPS_50k_replay_"

var fixedStart = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func fixedClock() time.Time { return fixedStart }

// fakeRasterizer counts pages with pdfcpu and writes a small placeholder
// image per rendered page. Calls are recorded for assertions.
type fakeRasterizer struct {
	mu        sync.Mutex
	renderErr map[string]error
	panicOn   string
	rendered  []string
	counted   []string
}

func (f *fakeRasterizer) PageCount(_ context.Context, path string) (int, error) {
	f.mu.Lock()
	f.counted = append(f.counted, path)
	f.mu.Unlock()
	if path == f.panicOn {
		panic("rasterizer exploded")
	}
	return render.CountPages(path)
}

func (f *fakeRasterizer) RenderPage(_ context.Context, path string, page, dpi int, dst string) error {
	if err := f.renderErr[path]; err != nil && page > 1 {
		return err
	}
	f.mu.Lock()
	f.rendered = append(f.rendered, dst)
	f.mu.Unlock()
	return os.WriteFile(dst, []byte("png"), 0o644)
}

func (f *fakeRasterizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.counted) + len(f.rendered)
}

func noDiskCheck(t *testing.T) {
	t.Helper()
	orig := preflight.FreeBytes
	preflight.FreeBytes = func(string) (uint64, error) { return 1 << 50, nil }
	t.Cleanup(func() { preflight.FreeBytes = orig })
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestOutputNames(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
		pages    int
		want     []string
	}{
		{
			name:     "list shorter than page count falls back to default names",
			expected: []string{"p1.png", "p2.png"},
			pages:    3,
			want:     []string{"p1.png", "p2.png", "default_page_3.png"},
		},
		{
			name:     "list longer than page count ignores extra names",
			expected: []string{"a.png", "b.png", "c.png"},
			pages:    2,
			want:     []string{"a.png", "b.png"},
		},
		{
			name:     "exact match",
			expected: []string{"a.png", "b.png"},
			pages:    2,
			want:     []string{"a.png", "b.png"},
		},
		{
			name:  "empty list uses default names from one",
			pages: 2,
			want:  []string{"default_page_1.png", "default_page_2.png"},
		},
		{
			name:     "no pages",
			expected: []string{"a.png"},
			pages:    0,
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputNames(tt.expected, tt.pages))
		})
	}
}

func TestAllOutputsExist(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "p1.png"), []byte("x"))
	testsupport.WriteFile(t, filepath.Join(dir, "p2.png"), []byte("x"))

	assert.True(t, AllOutputsExist(dir, []string{"p1.png", "p2.png"}))
	assert.False(t, AllOutputsExist(dir, []string{"p1.png", "p2.png", "p3.png"}))
	assert.False(t, AllOutputsExist(dir, nil), "empty list must not count as done")
}

func TestReadFilenames(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
		errMsg  string
	}{
		{
			name:    "trims and drops blank lines",
			content: "p1.png\n\n  p2.png  \r\n\t\np3.png",
			want:    []string{"p1.png", "p2.png", "p3.png"},
		},
		{
			name:    "rejects names with directories",
			content: "p1.png\n../escape.png\n",
			errMsg:  "not a plain filename",
		},
		{
			name:    "empty file",
			content: "\n\n",
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "names.txt")
			testsupport.WriteFile(t, path, []byte(tt.content))

			got, err := ReadFilenames(path)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Contains(t, err.Error(), ":2:")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ReadFilenames("")
	assert.ErrorIs(t, err, types.ErrNoFilenameList)

	_, err = ReadFilenames(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConvertWritesPagesBesideDocument(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, runPrefix+"0001")
	pdf := testsupport.WritePDF(t, filepath.Join(runDir, "a.pdf"), 3)
	r := &fakeRasterizer{}

	item := types.WorkItem{Document: types.Document{Path: pdf, Outputs: []string{"p1.png", "p2.png"}, DPI: 300}}
	out := Convert(context.Background(), r, item)

	assert.Equal(t, types.OutcomeSuccess, out.Status)
	assert.Equal(t, 3, out.Pages)
	assert.Empty(t, out.Reason)
	assert.ElementsMatch(t, []string{"a.pdf", "p1.png", "p2.png", "default_page_3.png"}, dirNames(t, runDir))
	assert.Equal(t, []string{
		filepath.Join(runDir, "p1.png"),
		filepath.Join(runDir, "p2.png"),
		filepath.Join(runDir, "default_page_3.png"),
	}, r.rendered, "pages are rendered in page order")
}

func TestConvertSkipsWhenOutputsExist(t *testing.T) {
	dir := t.TempDir()
	pdf := testsupport.WritePDF(t, filepath.Join(dir, "a.pdf"), 2)
	testsupport.WriteFile(t, filepath.Join(dir, "p1.png"), []byte("old"))
	testsupport.WriteFile(t, filepath.Join(dir, "p2.png"), []byte("old"))
	before := dirNames(t, dir)
	r := &fakeRasterizer{}

	item := types.WorkItem{Document: types.Document{Path: pdf, Outputs: []string{"p1.png", "p2.png"}, DPI: 300}}
	out := Convert(context.Background(), r, item)

	assert.Equal(t, types.OutcomeSkipped, out.Status)
	assert.Zero(t, r.calls(), "skipped documents are never opened")
	assert.Equal(t, before, dirNames(t, dir))
	data, err := os.ReadFile(filepath.Join(dir, "p1.png"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestConvertEmptyListRerunRendersNothing(t *testing.T) {
	dir := t.TempDir()
	pdf := testsupport.WritePDF(t, filepath.Join(dir, "a.pdf"), 2)
	r := &fakeRasterizer{}
	item := types.WorkItem{Document: types.Document{Path: pdf, DPI: 300}}

	first := Convert(context.Background(), r, item)
	require.Equal(t, types.OutcomeSuccess, first.Status)
	require.Len(t, r.rendered, 2)
	before := dirNames(t, dir)

	second := Convert(context.Background(), r, item)
	assert.Equal(t, types.OutcomeSkipped, second.Status)
	assert.Equal(t, 2, second.Pages)
	assert.Len(t, r.rendered, 2, "no page is rendered again")
	assert.Equal(t, before, dirNames(t, dir))
}

func TestConvertShortListRerunRendersNothing(t *testing.T) {
	dir := t.TempDir()
	pdf := testsupport.WritePDF(t, filepath.Join(dir, "a.pdf"), 3)
	r := &fakeRasterizer{}
	item := types.WorkItem{Document: types.Document{Path: pdf, Outputs: []string{"p1.png"}, DPI: 300}}

	require.Equal(t, types.OutcomeSuccess, Convert(context.Background(), r, item).Status)
	assert.Equal(t, types.OutcomeSkipped, Convert(context.Background(), r, item).Status)
	assert.Len(t, r.rendered, 3)
}

func TestConvertFailures(t *testing.T) {
	dir := t.TempDir()
	corrupt := testsupport.WriteCorruptPDF(t, filepath.Join(dir, "corrupt.pdf"))
	good := testsupport.WritePDF(t, filepath.Join(dir, "good.pdf"), 2)

	tests := []struct {
		name     string
		path     string
		r        *fakeRasterizer
		contains string
	}{
		{
			name:     "unparseable document",
			path:     corrupt,
			r:        &fakeRasterizer{},
			contains: "Skipping corrupt PDF " + corrupt,
		},
		{
			name:     "render failure",
			path:     good,
			r:        &fakeRasterizer{renderErr: map[string]error{good: errors.New("disk full")}},
			contains: "disk full",
		},
		{
			name:     "panic in rasterizer",
			path:     good,
			r:        &fakeRasterizer{panicOn: good},
			contains: "rasterizer exploded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := types.WorkItem{Document: types.Document{Path: tt.path, Outputs: []string{"x1.png", "x2.png"}, DPI: 72}}
			out := Convert(context.Background(), tt.r, item)
			assert.Equal(t, types.OutcomeFailure, out.Status)
			assert.Contains(t, out.Reason, tt.contains)
			assert.Contains(t, out.Reason, tt.path)
			assert.NotContains(t, out.Reason, "\n")
		})
	}
}

func TestErrorLog(t *testing.T) {
	dir := t.TempDir()
	lineTime := fixedStart.Add(90 * time.Second)
	el, err := CreateErrorLog(dir, fixedStart, func() time.Time { return lineTime })
	require.NoError(t, err)

	require.NoError(t, el.Append("ERROR: first"))
	require.NoError(t, el.Append("ERROR: second"))
	require.NoError(t, el.Close())

	assert.Equal(t, filepath.Join(dir, "error_log_2025-03-14_09-26-53.txt"), el.Path())
	data, err := os.ReadFile(el.Path())
	require.NoError(t, err)
	assert.Equal(t, "[2025-03-14 09:28:23] ERROR: first\n[2025-03-14 09:28:23] ERROR: second\n", string(data))
}

func TestRunCheck(t *testing.T) {
	root := t.TempDir()
	logDir := t.TempDir()
	testsupport.WritePDF(t, filepath.Join(root, runPrefix+"0001", "a.pdf"), 2)
	bad := testsupport.WriteCorruptPDF(t, filepath.Join(root, runPrefix+"0002", "b.pdf"))
	testsupport.WritePDF(t, filepath.Join(root, runPrefix+"0003", "c.pdf"), 1)

	var out bytes.Buffer
	c := &Coordinator{Workers: 2, LogDir: logDir, Clock: fixedClock, Out: &out, Prober: probe.StructureProber{}}
	res, err := c.RunCheck(context.Background(), discover.List(root, runPrefix))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Documents)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, filepath.Join(logDir, "error_log_2025-03-14_09-26-53.txt"), res.ErrorLog)

	data, err := os.ReadFile(res.ErrorLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 1, "exactly one error line for one corrupt document")
	assert.True(t, strings.HasPrefix(lines[0], "[2025-03-14 09:26:53] ERROR:"), lines[0])
	assert.Contains(t, lines[0], bad)

	assert.Contains(t, out.String(), "Checking 3 PDFs")
	assert.Contains(t, out.String(), "3 checked, 1 failed")

	// Check mode never writes beside the documents.
	assert.Equal(t, []string{"b.pdf"}, dirNames(t, filepath.Dir(bad)))
}

func TestRunCheckEmptyTree(t *testing.T) {
	logDir := t.TempDir()
	var out bytes.Buffer
	c := &Coordinator{LogDir: logDir, Clock: fixedClock, Out: &out, Prober: probe.StructureProber{}}

	res, err := c.RunCheck(context.Background(), discover.List(t.TempDir(), runPrefix))
	require.NoError(t, err)

	assert.Zero(t, res.Documents)
	info, err := os.Stat(res.ErrorLog)
	require.NoError(t, err, "the error log is created even when empty")
	assert.Zero(t, info.Size())
	assert.Contains(t, out.String(), "Checking 0 PDFs")
}

func TestRunConvert(t *testing.T) {
	noDiskCheck(t)
	root := t.TempDir()
	logDir := t.TempDir()
	fresh := testsupport.WritePDF(t, filepath.Join(root, runPrefix+"0001", "a.pdf"), 3)
	done := testsupport.WritePDF(t, filepath.Join(root, runPrefix+"0002", "b.pdf"), 2)
	testsupport.WriteFile(t, filepath.Join(filepath.Dir(done), "p1.png"), []byte("old"))
	testsupport.WriteFile(t, filepath.Join(filepath.Dir(done), "p2.png"), []byte("old"))
	corrupt := testsupport.WriteCorruptPDF(t, filepath.Join(root, runPrefix+"0003", "c.pdf"))

	r := &fakeRasterizer{}
	var out bytes.Buffer
	c := &Coordinator{
		Workers: 3, LogDir: logDir, Clock: fixedClock, Out: &out, Rasterizer: r,
		DiskPath: root, MinFreeBytes: 10 << 30,
	}
	items := types.NewWorkItems(discover.List(root, runPrefix), []string{"p1.png", "p2.png"}, 300)
	res, err := c.RunConvert(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Converted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, res.Total())
	assert.True(t, res.HasFailures())

	assert.ElementsMatch(t, []string{"a.pdf", "p1.png", "p2.png", "default_page_3.png"}, dirNames(t, filepath.Dir(fresh)))
	assert.Equal(t, []string{"c.pdf"}, dirNames(t, filepath.Dir(corrupt)))

	require.NotEmpty(t, res.ErrorLog)
	data, err := os.ReadFile(res.ErrorLog)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), corrupt)

	assert.Contains(t, out.String(), "Processing 3 PDFs at 300 DPI using 3 workers")
	assert.Contains(t, out.String(), "1 converted, 1 skipped, 1 failed (total: 3)")
}

func TestRunConvertIsIdempotent(t *testing.T) {
	noDiskCheck(t)
	root := t.TempDir()
	testsupport.WritePDF(t, filepath.Join(root, runPrefix+"0001", "a.pdf"), 2)
	testsupport.WritePDF(t, filepath.Join(root, runPrefix+"0002", "b.pdf"), 2)
	items := types.NewWorkItems(discover.List(root, runPrefix), []string{"p1.png", "p2.png"}, 150)

	first := &Coordinator{LogDir: t.TempDir(), Clock: fixedClock, Rasterizer: &fakeRasterizer{}}
	res, err := first.RunConvert(context.Background(), items)
	require.NoError(t, err)
	require.Equal(t, 2, res.Converted)

	r := &fakeRasterizer{}
	second := &Coordinator{LogDir: t.TempDir(), Clock: fixedClock, Rasterizer: r}
	res, err = second.RunConvert(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Converted)
	assert.Zero(t, r.calls(), "a rerun over finished documents does no work")
	assert.Empty(t, res.ErrorLog, "no error log without failures")
}

func TestRunConvertLowDiskSpace(t *testing.T) {
	orig := preflight.FreeBytes
	preflight.FreeBytes = func(string) (uint64, error) { return 1 << 30, nil }
	t.Cleanup(func() { preflight.FreeBytes = orig })

	root := t.TempDir()
	pdf := testsupport.WritePDF(t, filepath.Join(root, runPrefix+"0001", "a.pdf"), 2)
	r := &fakeRasterizer{}
	var out bytes.Buffer
	c := &Coordinator{
		LogDir: t.TempDir(), Clock: fixedClock, Out: &out, Rasterizer: r,
		DiskPath: root, MinFreeBytes: 10 << 30,
	}

	_, err := c.RunConvert(context.Background(), types.NewWorkItems([]string{pdf}, []string{"p1.png"}, 300))
	require.ErrorIs(t, err, preflight.ErrLowDiskSpace)
	assert.Zero(t, r.calls(), "nothing is dispatched after a failed pre-flight")
	assert.Equal(t, []string{"a.pdf"}, dirNames(t, filepath.Dir(pdf)))
	assert.Contains(t, out.String(), "Not enough space")
}

func TestCoordinatorDefaultsWorkersToCPUCount(t *testing.T) {
	c := &Coordinator{}
	assert.Greater(t, c.workers(), 0)
	c.Workers = 3
	assert.Equal(t, 3, c.workers())
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch fans documents out to a bounded worker pool and drives the
// two pipelines of a run: an integrity check that writes failures to a
// timestamped error log, and a conversion that rasterizes every document
// whose page images are not already on disk.
//
// Workers never write shared state. Each returns an Outcome for its own
// document and the coordinator owns everything after that: status lines,
// tallies, and the error log.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/pdfraster/internal/preflight"
	"github.com/pdiddy/pdfraster/internal/probe"
	"github.com/pdiddy/pdfraster/internal/render"
	"github.com/pdiddy/pdfraster/pkg/types"
)

// Coordinator runs one pipeline invocation.
type Coordinator struct {
	// Workers is the pool size; zero or less means runtime.NumCPU().
	Workers int

	// LogDir receives error_log_<timestamp>.txt.
	LogDir string

	// Clock defaults to time.Now.
	Clock Clock

	// Out receives status lines and summaries.
	Out io.Writer

	// Progress, when set, receives a progress bar.
	Progress io.Writer

	Logger *slog.Logger

	// Prober is used by RunCheck.
	Prober probe.Prober

	// Rasterizer is used by RunConvert.
	Rasterizer render.Rasterizer

	// DiskPath and MinFreeBytes configure the conversion pre-flight.
	// A zero MinFreeBytes disables the check.
	DiskPath     string
	MinFreeBytes uint64

	mu sync.Mutex
}

// CheckResult holds the outcome of a check run.
type CheckResult struct {
	Documents int
	Failures  []string
	Outcomes  []types.Outcome
	ErrorLog  string
	StartedAt time.Time
	Elapsed   time.Duration
}

// ConvertResult holds the outcome of a conversion run.
type ConvertResult struct {
	Converted int
	Skipped   int
	Failed    int
	Outcomes  []types.Outcome
	ErrorLog  string
	StartedAt time.Time
	Elapsed   time.Duration
}

// Total returns the number of documents processed.
func (r ConvertResult) Total() int {
	return r.Converted + r.Skipped + r.Failed
}

// HasFailures reports whether any document failed conversion.
func (r ConvertResult) HasFailures() bool {
	return r.Failed > 0
}

func (c *Coordinator) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

func (c *Coordinator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *Coordinator) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return io.Discard
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (c *Coordinator) newBar(n int, desc string) *progressbar.ProgressBar {
	if c.Progress == nil {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(c.Progress),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// fanOut runs fn for every index in [0, n) on the pool and returns the
// outcomes in input order. done is called under the coordinator's lock as
// each outcome arrives, in completion order.
func (c *Coordinator) fanOut(n int, fn func(i int) types.Outcome, done func(types.Outcome)) []types.Outcome {
	outcomes := make([]types.Outcome, n)
	var g errgroup.Group
	g.SetLimit(c.workers())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			o := fn(i)
			outcomes[i] = o
			c.mu.Lock()
			done(o)
			c.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// RunCheck probes every path and writes one error log line per failing
// document. The log is created even when nothing fails so every check run
// leaves a record. The returned error is only set when the log cannot be
// written.
func (c *Coordinator) RunCheck(ctx context.Context, paths []string) (CheckResult, error) {
	start := c.now()
	w := c.out()
	log := c.logger().With("mode", types.ModeCheck)
	res := CheckResult{Documents: len(paths), StartedAt: start}

	fmt.Fprintf(w, "Checking %d PDFs for errors using %d workers...\n", len(paths), c.workers())

	bar := c.newBar(len(paths), "Checking PDFs")
	res.Outcomes = c.fanOut(len(paths), func(i int) types.Outcome {
		o := types.Outcome{Path: paths[i], Status: types.OutcomeOK}
		if msg := probe.Check(ctx, c.Prober, paths[i]); msg != "" {
			o.Status = types.OutcomeFailure
			o.Reason = msg
		}
		return o
	}, func(o types.Outcome) {
		log.Debug("probed document", "path", o.Path, "status", o.Status)
		if o.Failed() {
			res.Failures = append(res.Failures, o.Reason)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	})
	if bar != nil {
		_ = bar.Finish()
	}

	logPath, err := c.writeErrorLog(start, res.Failures, true)
	res.ErrorLog = logPath
	res.Elapsed = c.now().Sub(start)
	if err != nil {
		return res, err
	}

	fmt.Fprintf(w, "\nPDF check complete: %d checked, %d failed\n", res.Documents, len(res.Failures))
	fmt.Fprintf(w, "Check '%s' for any corrupted PDFs.\n", logPath)
	fmt.Fprintf(w, "Total execution time: %.2f seconds\n", res.Elapsed.Seconds())
	return res, nil
}

// RunConvert rasterizes every item whose outputs are missing. The disk
// space pre-flight runs first; when it fails nothing is dispatched and the
// returned error wraps preflight.ErrLowDiskSpace. Individual document
// failures never produce an error; they are counted and written to the
// run's error log.
func (c *Coordinator) RunConvert(ctx context.Context, items []types.WorkItem) (ConvertResult, error) {
	start := c.now()
	w := c.out()
	log := c.logger().With("mode", types.ModeConvert)
	res := ConvertResult{StartedAt: start}

	if c.MinFreeBytes > 0 {
		if err := preflight.CheckDiskSpace(c.DiskPath, c.MinFreeBytes); err != nil {
			fmt.Fprintf(w, "WARNING: %v\nNot enough space! Exiting to prevent failures.\n", err)
			return res, err
		}
	}

	dpi := 0
	if len(items) > 0 {
		dpi = items[0].Document.DPI
	}
	fmt.Fprintf(w, "Processing %d PDFs at %d DPI using %d workers...\n\n", len(items), dpi, c.workers())

	var failures []string
	bar := c.newBar(len(items), "Converting PDFs")
	res.Outcomes = c.fanOut(len(items), func(i int) types.Outcome {
		return Convert(ctx, c.Rasterizer, items[i])
	}, func(o types.Outcome) {
		switch o.Status {
		case types.OutcomeSkipped:
			res.Skipped++
			fmt.Fprintf(w, "skipped:   %s (already processed)\n", o.Path)
		case types.OutcomeSuccess:
			res.Converted++
			fmt.Fprintf(w, "converted: %s (%d pages in %.2f sec)\n", o.Path, o.Pages, o.Duration.Seconds())
		case types.OutcomeFailure:
			res.Failed++
			failures = append(failures, o.Reason)
			fmt.Fprintf(w, "failed:    %s\n", o.Path)
		}
		log.Debug("converted document", "path", o.Path, "status", o.Status, "pages", o.Pages, "duration", o.Duration)
		if bar != nil {
			_ = bar.Add(1)
		}
	})
	if bar != nil {
		_ = bar.Finish()
	}

	logPath, err := c.writeErrorLog(start, failures, false)
	res.ErrorLog = logPath
	res.Elapsed = c.now().Sub(start)
	if err != nil {
		return res, err
	}

	fmt.Fprintf(w, "\nConversion complete: %d converted, %d skipped, %d failed (total: %d)\n",
		res.Converted, res.Skipped, res.Failed, res.Total())
	if logPath != "" {
		fmt.Fprintf(w, "Check '%s' for failed PDFs.\n", logPath)
	}
	fmt.Fprintf(w, "Total execution time: %.2f seconds\n", res.Elapsed.Seconds())
	return res, nil
}

// writeErrorLog writes failures to the run's error log. With always unset
// and no failures, no file is created and the returned path is empty.
func (c *Coordinator) writeErrorLog(start time.Time, failures []string, always bool) (string, error) {
	if len(failures) == 0 && !always {
		return "", nil
	}
	el, err := CreateErrorLog(c.LogDir, start, c.Clock)
	if err != nil {
		return "", err
	}
	for _, msg := range failures {
		if err := el.Append(msg); err != nil {
			el.Close()
			return el.Path(), fmt.Errorf("writing error log: %w", err)
		}
	}
	if err := el.Close(); err != nil {
		return el.Path(), fmt.Errorf("closing error log: %w", err)
	}
	return el.Path(), nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pdiddy/pdfraster/internal/batch"
	"github.com/pdiddy/pdfraster/internal/discover"
	"github.com/pdiddy/pdfraster/internal/history"
	"github.com/pdiddy/pdfraster/internal/logging"
	"github.com/pdiddy/pdfraster/internal/preflight"
	"github.com/pdiddy/pdfraster/internal/probe"
	"github.com/pdiddy/pdfraster/internal/render"
	"github.com/pdiddy/pdfraster/pkg/types"
)


// runPipeline is the root command: check or convert every PDF under the
// parent directory.
func (a *app) runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := a.rasterConfig(cmd, args)
	if err != nil {
		return err
	}

	logger, err := logging.New(a.errOut, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	unlock, err := lockParent(cfg.ParentDir)
	if err != nil {
		return err
	}
	defer unlock()

	paths := discover.List(cfg.ParentDir, cfg.Prefix)
	logger.Debug("discovered documents", "parent_dir", cfg.ParentDir, "prefix", cfg.Prefix, "count", len(paths))

	coord := &batch.Coordinator{
		Workers: cfg.Workers,
		LogDir:  cfg.LogDir,
		Clock:   a.clock,
		Out:     a.out,
		Logger:  logger,
	}
	if f, ok := a.errOut.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		coord.Progress = f
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		run      types.RunSummary
		outcomes []types.Outcome
	)
	if cfg.CheckOnly {
		run, outcomes, err = a.check(ctx, coord, cfg, paths)
	} else {
		run, outcomes, err = a.convert(ctx, coord, cfg, paths)
	}
	if err != nil {
		return err
	}

	if cfg.History {
		a.record(ctx, logger, cfg.HistoryPath, run, outcomes)
	}
	return nil
}

func (a *app) check(ctx context.Context, coord *batch.Coordinator, cfg types.RasterConfig, paths []string) (types.RunSummary, []types.Outcome, error) {
	coord.Prober = probe.StructureProber{}
	if cfg.RenderProbe {
		r, err := a.rasterizerFor()
		if err != nil {
			return types.RunSummary{}, nil, err
		}
		coord.Prober = probe.RenderProber{Rasterizer: r, DPI: types.DefaultProbeDPI}
	}

	res, err := coord.RunCheck(ctx, paths)
	if err != nil {
		return types.RunSummary{}, nil, err
	}

	failed := len(res.Failures)
	return types.RunSummary{
		Mode:       types.ModeCheck,
		ParentDir:  cfg.ParentDir,
		StartedAt:  res.StartedAt,
		FinishedAt: res.StartedAt.Add(res.Elapsed),
		DPI:        types.DefaultProbeDPI,
		Workers:    workerCount(cfg.Workers),
		Documents:  res.Documents,
		Succeeded:  res.Documents - failed,
		Failed:     failed,
		ErrorLog:   res.ErrorLog,
	}, res.Outcomes, nil
}

func (a *app) convert(ctx context.Context, coord *batch.Coordinator, cfg types.RasterConfig, paths []string) (types.RunSummary, []types.Outcome, error) {
	names, err := batch.ReadFilenames(cfg.FilenameList)
	if err != nil {
		return types.RunSummary{}, nil, err
	}

	r, err := a.rasterizerFor()
	if err != nil {
		return types.RunSummary{}, nil, err
	}
	coord.Rasterizer = r
	coord.DiskPath = cfg.ParentDir
	coord.MinFreeBytes = cfg.MinFreeBytes()

	res, err := coord.RunConvert(ctx, types.NewWorkItems(paths, names, cfg.DPI))
	if err != nil {
		return types.RunSummary{}, nil, err
	}

	return types.RunSummary{
		Mode:       types.ModeConvert,
		ParentDir:  cfg.ParentDir,
		StartedAt:  res.StartedAt,
		FinishedAt: res.StartedAt.Add(res.Elapsed),
		DPI:        cfg.DPI,
		Workers:    workerCount(cfg.Workers),
		Documents:  res.Total(),
		Succeeded:  res.Converted,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		ErrorLog:   res.ErrorLog,
	}, res.Outcomes, nil
}

// rasterizerFor returns the injected rasterizer, or pdftoppm after
// confirming it is installed.
func (a *app) rasterizerFor() (render.Rasterizer, error) {
	if a.rasterizer != nil {
		return a.rasterizer, nil
	}
	if err := preflight.CheckTools("pdftoppm"); err != nil {
		return nil, err
	}
	return render.NewPdftoppm(), nil
}

// record stores the run in the history ledger. Ledger errors are logged
// and never fail the run.
func (a *app) record(ctx context.Context, logger *slog.Logger, path string, run types.RunSummary, outcomes []types.Outcome) {
	store, err := history.Open(path)
	if err != nil {
		logger.Warn("history unavailable", "path", path, "error", err)
		return
	}
	defer store.Close()

	id, err := store.Record(ctx, run, outcomes)
	if err != nil {
		logger.Warn("recording run failed", "path", path, "error", err)
		return
	}
	logger.Debug("recorded run", "id", id, "path", path)
}

// lockPath names the run lock for parentDir. It lives under os.TempDir()
// so the replay tree itself is never written by a check run.
func lockPath(parentDir string) (string, error) {
	abs, err := filepath.Abs(parentDir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", parentDir, err)
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), "pdfraster-"+hex.EncodeToString(sum[:8])+".lock"), nil
}

// lockParent takes an exclusive advisory lock for parentDir so two
// invocations cannot process the same tree at once. A missing parent
// directory is not locked; discovery simply finds nothing there.
func lockParent(parentDir string) (func(), error) {
	info, err := os.Stat(parentDir)
	if err != nil || !info.IsDir() {
		return func() {}, nil
	}

	path, err := lockPath(parentDir)
	if err != nil {
		return nil, err
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", parentDir, err)
	}
	if !ok {
		return nil, errors.New("another pdfraster run is already processing " + parentDir)
	}
	return func() { _ = lock.Unlock() }, nil
}

func workerCount(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

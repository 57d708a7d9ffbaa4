// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the pdfraster CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/pdfraster/internal/batch"
	"github.com/pdiddy/pdfraster/internal/render"
	"github.com/pdiddy/pdfraster/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// app carries the dependencies shared by every command. Tests build one
// with a fake rasterizer and a fixed clock.
type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
	clock  batch.Clock

	// rasterizer overrides pdftoppm; when set, the PATH tool check is skipped.
	rasterizer render.Rasterizer
}

func newApp(out, errOut io.Writer) *app {
	return &app{v: viper.New(), out: out, errOut: errOut}
}

// newRootCmd builds the pdfraster command tree.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "pdfraster <parent_dir> [filename_list]",
		Short: "Batch-convert replay PDF reports into PNG pages",
		Long: `pdfraster scans the run directories under parent_dir (by default those
named COIN_NPS_50k_replay_*) for PDF reports and renders every page to a PNG
beside its source, naming pages from filename_list in order. Pages past the
end of the list are written as default_page_<n>.png.

Documents whose listed outputs already exist are skipped, so an interrupted
batch can simply be rerun. Conversion refuses to start when the target
filesystem has less free space than --min-free-gb.

With --check-only, every PDF is parsed without rendering and corrupt files
are listed in error_log_<timestamp>.txt.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
		RunE: a.runPipeline,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default: ./pdfraster.yaml or ~/.config/pdfraster/pdfraster.yaml)")
	pf.String("history-path", "pdfraster.db", "SQLite run history database")
	pf.String("log-level", "info", "diagnostic log level: debug, info, warn, error")
	pf.String("log-format", "console", "diagnostic log format: console or json")

	f := root.Flags()
	f.Int("dpi", types.DefaultDPI, "rasterization resolution in dots per inch")
	f.Int("num-workers", 0, "parallel workers (default: number of CPUs)")
	f.Bool("check-only", false, "only check PDFs for corruption, do not convert")
	f.Bool("render-probe", false, "in check mode, render every page at 10 DPI instead of parsing only")
	f.String("prefix", types.DefaultPrefix, "name prefix of the run directories to scan")
	f.Float64("min-free-gb", types.DefaultMinFreeGB, "free space required before converting (GiB)")
	f.String("log-dir", ".", "directory for error_log_<timestamp>.txt")
	f.Bool("no-history", false, "do not record this run in the history database")

	bind := map[string]string{
		"dpi":          "dpi",
		"num_workers":  "num-workers",
		"check_only":   "check-only",
		"render_probe": "render-probe",
		"prefix":       "prefix",
		"min_free_gb":  "min-free-gb",
		"log_dir":      "log-dir",
	}
	for key, name := range bind {
		_ = a.v.BindPFlag(key, f.Lookup(name))
	}
	_ = a.v.BindPFlag("history_path", pf.Lookup("history-path"))
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", pf.Lookup("log-format"))
	a.v.SetDefault("dpi", types.DefaultDPI)
	a.v.SetDefault("min_free_gb", types.DefaultMinFreeGB)
	a.v.SetDefault("history", true)

	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newVersionCmd(a))
	return root
}

// initConfig reads the optional config file and environment. Values are
// resolved flag > env > config file > default.
func (a *app) initConfig(cmd *cobra.Command) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("pdfraster")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".config", "pdfraster"))
		}
	}

	a.v.SetEnvPrefix("PDFRASTER")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err == nil {
		fmt.Fprintln(a.errOut, "Using config file:", a.v.ConfigFileUsed())
	} else if cfgFile != "" {
		return fmt.Errorf("reading config %s: %w", cfgFile, err)
	}
	return nil
}

// rasterConfig resolves the run configuration from viper and positional
// arguments.
func (a *app) rasterConfig(cmd *cobra.Command, args []string) (types.RasterConfig, error) {
	var cfg types.RasterConfig
	if err := a.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if len(args) > 0 {
		cfg.ParentDir = args[0]
	}
	if len(args) > 1 {
		cfg.FilenameList = args[1]
	}
	if noHistory, _ := cmd.Flags().GetBool("no-history"); noHistory {
		cfg.History = false
	}
	cfg.Defaults()
	return cfg, cfg.Validate()
}

func main() {
	a := newApp(os.Stdout, os.Stderr)
	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(1)
	}
}

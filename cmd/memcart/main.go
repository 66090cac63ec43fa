// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The memcart tool finds pointers in a memory snapshot and maps which
// regions of the address space point into which others.
//
// A snapshot is one of a core file (--core), an executable's static image
// (--exe), a live process (--pid), or a raw memory dump described by a
// region file (--regions with --dump and --base).
// Run "memcart help" for a list of commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jproney/MemoryCartography/internal/config"
	"github.com/jproney/MemoryCartography/internal/elfload"
	"github.com/jproney/MemoryCartography/internal/logging"
)

// An app holds what the commands share: flag values, configuration and
// the loaded snapshot. In interactive mode one app serves every command
// line, so the snapshot is loaded once.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath  string
	logLevel    string
	format      string
	corePath    string
	root        string
	exePath     string
	pid         int
	regionsPath string
	dumpPath    string
	base        string

	cfg         *config.Config
	log         zerolog.Logger
	image       *elfload.Image
	interactive bool
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		format: "text",
		log:    zerolog.Nop(),
	}
}

// newRootCmd builds the command tree for a. Flag defaults are a's current
// values, so rebuilding the tree inside the interactive loop keeps the
// settings given on the command line.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "memcart",
		Short: "memcart finds pointers in memory snapshots",
		Long: `memcart conservatively scans a memory snapshot for pointers.

Every aligned pointer-sized word is classified as not-a-pointer, dangling
(plausible, but its target is not mapped or not readable) or valid (it
lands in a mapped, readable region), with a confidence based on the kind
of region it targets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", a.configPath, "YAML configuration file")
	f.StringVar(&a.logLevel, "log-level", a.logLevel, "log level (trace, debug, info, warn, error)")
	f.StringVar(&a.format, "format", a.format, "output format: text or json")
	f.StringVar(&a.corePath, "core", a.corePath, "ELF core file to load")
	f.StringVar(&a.root, "root", a.root, "root directory to find files referenced by the core file")
	f.StringVar(&a.exePath, "exe", a.exePath, "ELF executable whose static image to load")
	f.IntVar(&a.pid, "pid", a.pid, "live process to snapshot")
	f.StringVar(&a.regionsPath, "regions", a.regionsPath, "YAML region description for a raw dump")
	f.StringVar(&a.dumpPath, "dump", a.dumpPath, "raw memory dump (requires --regions)")
	f.StringVar(&a.base, "base", a.base, "address the dump was taken at, in hex (default: start of the first region)")
	_ = root.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(
		newOverviewCmd(a),
		newMappingsCmd(a),
		newScanCmd(a),
		newGraphCmd(a),
		newReadCmd(a),
		newInteractiveCmd(a),
	)
	return root
}

// setup loads the configuration and logger the first time a command runs.
func (a *app) setup() error {
	if a.format != "text" && a.format != "json" {
		return fmt.Errorf("unknown output format %q", a.format)
	}
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Log.Level = a.logLevel
	}
	cfg.Log.Output = a.stderr
	a.cfg = cfg
	a.log = logging.NewWithComponent(cfg.Log, "memcart")
	return nil
}

func (a *app) close() {
	if a.image == nil {
		return
	}
	if err := a.image.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to release snapshot")
	}
	a.image = nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	a := newApp(os.Stdout, os.Stderr)
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			exitf("memcart: interrupted\n")
		}
		exitf("memcart: %v\n", err)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jproney/MemoryCartography/arch"
	"github.com/jproney/MemoryCartography/core"
	"github.com/jproney/MemoryCartography/internal/config"
	"github.com/jproney/MemoryCartography/internal/elfload"
	"github.com/jproney/MemoryCartography/internal/procmaps"
	"github.com/jproney/MemoryCartography/scan"
)

var errNoTarget = errors.New("exactly one of --core, --exe, --pid or --regions is required")

// target returns the snapshot named by the flags, loading it on first use.
func (a *app) target(ctx context.Context) (*elfload.Image, error) {
	if a.image != nil {
		return a.image, nil
	}
	im, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range im.Warnings() {
		a.log.Warn().Msg(w)
	}
	a.log.Debug().
		Stringer("arch", im.Arch).
		Int("regions", im.Regions.Len()).
		Int("segments", len(im.Segments)).
		Msg("snapshot loaded")
	a.image = im
	return im, nil
}

func (a *app) load(ctx context.Context) (*elfload.Image, error) {
	n := 0
	for _, set := range []bool{a.corePath != "", a.exePath != "", a.pid != 0, a.regionsPath != ""} {
		if set {
			n++
		}
	}
	if n != 1 {
		return nil, errNoTarget
	}
	if (a.dumpPath != "" || a.base != "") && a.regionsPath == "" {
		return nil, errors.New("--dump and --base require --regions")
	}
	switch {
	case a.corePath != "":
		return elfload.Core(a.corePath, elfload.CoreOptions{Base: a.root}, a.log)
	case a.exePath != "":
		return elfload.Exec(a.exePath, a.log)
	case a.pid != 0:
		return loadProcess(ctx, a.pid, a.log)
	}
	return loadDump(a.regionsPath, a.dumpPath, a.base)
}

// loadProcess snapshots every readable mapping of a live process. The
// process keeps running while it is copied, so the snapshot is not
// atomic; stop the process first for a consistent picture.
func loadProcess(ctx context.Context, pid int, log zerolog.Logger) (*elfload.Image, error) {
	a, err := arch.ByName(runtime.GOARCH)
	if err != nil {
		return nil, err
	}
	rm, err := processRegions(pid, log)
	if err != nil {
		return nil, err
	}
	segs, err := procmaps.Snapshot(pid, rm, nil, log)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory of process %d: %w", pid, err)
	}
	args, err := procmaps.Cmdline(ctx, pid)
	if err != nil {
		log.Warn().Err(err).Msg("cannot read command line")
	}
	return &elfload.Image{Arch: a, Regions: rm, Segments: segs, Args: args}, nil
}

// processRegions reads the mappings of process pid. The kernel splits a
// mapping into one line per VMA, so touching lines with the same name and
// permissions are joined back into one region.
func processRegions(pid int, log zerolog.Logger) (*core.RegionMap, error) {
	rm, err := procmaps.LoadPID(pid, log)
	if err != nil {
		return nil, err
	}
	return rm.Coalesce(), nil
}

// loadDump pairs a region file with an optional raw dump. Without a dump
// the image has regions but no contents, which is enough for mappings.
func loadDump(regionsPath, dumpPath, baseFlag string) (*elfload.Image, error) {
	rm, a, err := config.LoadRegions(regionsPath)
	if err != nil {
		return nil, err
	}
	im := &elfload.Image{Arch: a, Regions: rm}
	if dumpPath == "" {
		return im, nil
	}
	data, err := os.ReadFile(dumpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	var base core.Address
	switch {
	case baseFlag != "":
		if base, err = parseAddress(baseFlag); err != nil {
			return nil, fmt.Errorf("--base: %w", err)
		}
	case rm.Len() > 0:
		base = rm.At(0).Min
	}
	name := filepath.Base(dumpPath)
	if r, ok := rm.Lookup(base); ok && r.Name != "" {
		name = r.Name
	}
	im.Segments = []scan.Segment{{Name: name, Base: base, Data: data}}
	return im, nil
}

// parseAddress parses a hex address, with or without a 0x prefix.
func parseAddress(s string) (core.Address, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	n, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse %q as an address", s)
	}
	return core.Address(n), nil
}

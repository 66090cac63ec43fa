// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package procmaps reads the address space of a live Linux process:
// its mappings from /proc/<pid>/maps and its memory through
// process_vm_readv.
package procmaps

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jproney/MemoryCartography/core"
)

// Kernel-provided mappings that hold nothing worth scanning and, for
// [vvar], cannot be read at all.
var special = map[string]bool{
	"[vvar]":        true,
	"[vvar_vclock]": true,
	"[vdso]":        true,
	"[vsyscall]":    true,
}

// A MapsReader supplies the lines of a maps file.
type MapsReader interface {
	ReadLines() ([]string, error)
}

// A FileReader reads a maps file from disk.
type FileReader struct {
	Path string
}

// NewReader returns a reader for the maps file of process pid.
func NewReader(pid int) *FileReader {
	return &FileReader{Path: fmt.Sprintf("/proc/%d/maps", pid)}
}

func (f *FileReader) ReadLines() ([]string, error) {
	fd, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	var lines []string
	s := bufio.NewScanner(fd)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Path, err)
	}
	return lines, nil
}

// ParseLine parses one line of a maps file, for example
//
//	55d4b2000000-55d4b2021000 r--p 00000000 08:01 131073 /usr/bin/myprog
//
// The kind of the region is inferred from its name and permissions.
func ParseLine(line string) (core.Region, error) {
	parts := strings.Fields(line)
	if len(parts) < 5 {
		return core.Region{}, fmt.Errorf("not enough fields: %d in line %q", len(parts), line)
	}
	// The path is optional and may contain spaces.
	var name string
	if len(parts) >= 6 {
		name = strings.Join(parts[5:], " ")
	}
	lo, hi, ok := strings.Cut(parts[0], "-")
	if !ok {
		return core.Region{}, fmt.Errorf("invalid address range in line %q", line)
	}
	start, err1 := strconv.ParseUint(lo, 16, 64)
	end, err2 := strconv.ParseUint(hi, 16, 64)
	off, err3 := strconv.ParseUint(parts[2], 16, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return core.Region{}, fmt.Errorf("bad number in line %q", line)
	}
	perm, err := core.ParsePerm(parts[1])
	if err != nil {
		return core.Region{}, err
	}
	return core.Region{
		Min:    core.Address(start),
		Max:    core.Address(end),
		Kind:   core.InferKind(name, perm),
		Perm:   perm,
		Name:   name,
		Offset: int64(off),
	}, nil
}

// Parse turns maps lines into sorted regions. Malformed lines and the
// kernel's special mappings are logged and skipped.
func Parse(lines []string, log zerolog.Logger) []core.Region {
	var regions []core.Region
	for _, line := range lines {
		if line == "" {
			continue
		}
		r, err := ParseLine(line)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed mapping")
			continue
		}
		if special[r.Name] {
			log.Debug().Str("name", r.Name).Msg("skipping special mapping")
			continue
		}
		if r.Max <= r.Min {
			log.Warn().Str("line", line).Msg("skipping empty mapping")
			continue
		}
		regions = append(regions, r)
	}
	core.SortRegions(regions)
	return regions
}

// Load reads and parses a maps file into a region map.
func Load(r MapsReader, log zerolog.Logger) (*core.RegionMap, error) {
	lines, err := r.ReadLines()
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings: %w", err)
	}
	rm, err := core.NewRegionMap(Parse(lines, log))
	if err != nil {
		return nil, fmt.Errorf("failed to build region map: %w", err)
	}
	log.Debug().Int("regions", rm.Len()).Msg("loaded mappings")
	return rm, nil
}

// LoadPID loads the mappings of process pid.
func LoadPID(pid int, log zerolog.Logger) (*core.RegionMap, error) {
	return Load(NewReader(pid), log.With().Int("pid", pid).Logger())
}

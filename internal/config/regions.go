// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jproney/MemoryCartography/arch"
	"github.com/jproney/MemoryCartography/core"
)

// A RegionFile describes an address space by hand, for scanning raw
// memory dumps that carry no mapping information of their own:
//
//	pointer_size: 8
//	byte_order: little
//	regions:
//	  - {start: 0x601000, length: 0x1000, kind: static-data, perms: rw-, name: data}
//	  - {start: 0x2000000, end: 0x2021000, perms: rw-, name: "[heap]"}
type RegionFile struct {
	Arch        string        `yaml:"arch"`
	PointerSize int           `yaml:"pointer_size"`
	ByteOrder   string        `yaml:"byte_order"`
	Regions     []RegionEntry `yaml:"regions"`
}

// A RegionEntry is one region of a RegionFile. Exactly one of Length and
// End must be given. An empty Kind is inferred from Name and Perms.
type RegionEntry struct {
	Start  Hex    `yaml:"start"`
	Length Hex    `yaml:"length"`
	End    Hex    `yaml:"end"`
	Kind   string `yaml:"kind"`
	Perms  string `yaml:"perms"`
	Name   string `yaml:"name"`
}

// Region converts s into a core.Region.
func (s *RegionEntry) Region() (core.Region, error) {
	if (s.Length == 0) == (s.End == 0) {
		return core.Region{}, fmt.Errorf("region %q at %#x: exactly one of length and end is required", s.Name, uint64(s.Start))
	}
	end := s.End
	if end == 0 {
		end = s.Start + s.Length
		if end < s.Start {
			return core.Region{}, fmt.Errorf("region %q at %#x: length overflows", s.Name, uint64(s.Start))
		}
	}
	perms := s.Perms
	if perms == "" {
		perms = "r--"
	}
	perm, err := core.ParsePerm(perms)
	if err != nil {
		return core.Region{}, fmt.Errorf("region %q: %w", s.Name, err)
	}
	kind := core.InferKind(s.Name, perm)
	if s.Kind != "" {
		if kind, err = core.ParseKind(s.Kind); err != nil {
			return core.Region{}, fmt.Errorf("region %q: %w", s.Name, err)
		}
	}
	return core.Region{
		Min:  core.Address(s.Start),
		Max:  core.Address(end),
		Kind: kind,
		Perm: perm,
		Name: s.Name,
	}, nil
}

// Architecture returns the architecture the file describes: the named
// one if Arch is set, otherwise a generic one built from PointerSize
// (default 8) and ByteOrder.
func (f *RegionFile) Architecture() (*arch.Architecture, error) {
	if f.Arch != "" {
		return arch.ByName(f.Arch)
	}
	order, err := parseByteOrder(f.ByteOrder)
	if err != nil {
		return nil, err
	}
	ptrSize := f.PointerSize
	if ptrSize == 0 {
		ptrSize = 8
	}
	return arch.Generic(ptrSize, order)
}

// RegionMap validates the regions and builds a map of them. Regions may
// be listed in any order.
func (f *RegionFile) RegionMap() (*core.RegionMap, error) {
	regions := make([]core.Region, 0, len(f.Regions))
	for i := range f.Regions {
		r, err := f.Regions[i].Region()
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	core.SortRegions(regions)
	return core.NewRegionMap(regions)
}

// LoadRegions reads a region description file.
func LoadRegions(path string) (*core.RegionMap, *arch.Architecture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read region file: %w", err)
	}
	var f RegionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse region file %s: %w", path, err)
	}
	a, err := f.Architecture()
	if err != nil {
		return nil, nil, fmt.Errorf("region file %s: %w", path, err)
	}
	rm, err := f.RegionMap()
	if err != nil {
		return nil, nil, fmt.Errorf("region file %s: %w", path, err)
	}
	return rm, a, nil
}

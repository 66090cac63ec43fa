// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfload

import (
	"debug/elf"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jproney/MemoryCartography/core"
	"github.com/jproney/MemoryCartography/scan"
)

// Exec loads the allocated sections of the ELF file at path. Each
// section becomes one region named after it, with contents taken from
// the file (.bss and other NOBITS sections are zero-filled).
func Exec(path string, log zerolog.Logger) (*Image, error) {
	e, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open executable: %w", err)
	}
	defer e.Close()

	a, err := archFor(e)
	if err != nil {
		return nil, err
	}
	im := &Image{Arch: a}

	var regions []core.Region
	for _, s := range e.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 || s.Addr == 0 {
			continue
		}
		if s.Flags&elf.SHF_TLS != 0 && s.Type == elf.SHT_NOBITS {
			// .tbss occupies no address space of its own; it overlaps
			// whatever follows .tdata.
			continue
		}
		r := core.Region{
			Min:    core.Address(s.Addr),
			Max:    core.Address(s.Addr + s.Size),
			Kind:   sectionKind(s.Flags),
			Perm:   sectionPerm(s.Flags),
			Name:   s.Name,
			Offset: int64(s.Offset),
		}
		regions = append(regions, r)

		var data []byte
		if s.Type == elf.SHT_NOBITS {
			data = make([]byte, s.Size)
		} else {
			data, err = s.Data()
			if err != nil {
				return nil, fmt.Errorf("reading section %s: %w", s.Name, err)
			}
		}
		im.Segments = append(im.Segments, scan.Segment{Name: s.Name, Base: r.Min, Data: data})
		log.Debug().Str("section", s.Name).Stringer("region", &r).Msg("loaded section")
	}

	core.SortRegions(regions)
	im.Regions, err = core.NewRegionMap(regions)
	if err != nil {
		return nil, fmt.Errorf("sections of %s: %w", path, err)
	}
	im.sortSegments()
	im.readSymbols(e)
	for _, w := range im.warnings {
		log.Warn().Str("file", path).Msg(w)
	}
	return im, nil
}

func sectionKind(flags elf.SectionFlag) core.Kind {
	switch {
	case flags&elf.SHF_EXECINSTR != 0:
		return core.Code
	case flags&elf.SHF_WRITE != 0:
		return core.StaticData
	}
	return core.ReadOnlyData
}

func sectionPerm(flags elf.SectionFlag) core.Perm {
	perm := core.Read
	if flags&elf.SHF_WRITE != 0 {
		perm |= core.Write
	}
	if flags&elf.SHF_EXECINSTR != 0 {
		perm |= core.Exec
	}
	return perm
}

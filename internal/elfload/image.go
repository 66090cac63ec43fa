// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfload turns ELF files into scannable memory images.
//
// Exec loads the allocated sections of an executable or shared object
// as they would sit in memory before the program starts. Core loads the
// memory of a process that dumped core, called the "inferior". Either way
// the result is an Image: the inferior's region map plus the bytes that
// back it.
//
// There's nothing Go-specific about this package; it reads C and C++
// binaries just as well.
package elfload

import (
	"debug/elf"
	"errors"
	"fmt"
	"sort"

	"github.com/jproney/MemoryCartography/arch"
	"github.com/jproney/MemoryCartography/core"
	"github.com/jproney/MemoryCartography/scan"
)

// ErrUnmapped is returned by Image.Read for addresses outside the image.
var ErrUnmapped = errors.New("address not mapped")

// An Image is a loaded address space.
type Image struct {
	Arch    *arch.Architecture
	Regions *core.RegionMap
	// Segments hold the bytes of the regions that have any, in address
	// order. Mapped regions without contents read as zero.
	Segments []scan.Segment
	// Symbols are the data objects of the image, sorted by address.
	Symbols []Symbol
	// Args is the start of the inferior's command line, for core files.
	Args string

	warnings []string
	unmap    []func() error
}

// A Symbol is a named data object.
type Symbol struct {
	Name string
	Addr core.Address
	Size uint64
}

// Warnings returns problems found while loading that did not prevent it.
func (im *Image) Warnings() []string {
	return im.warnings
}

func (im *Image) warnf(format string, args ...any) {
	im.warnings = append(im.warnings, fmt.Sprintf(format, args...))
}

// Close releases memory mapped from files. The image's segments must not
// be used afterwards.
func (im *Image) Close() error {
	var errs []error
	for _, f := range im.unmap {
		errs = append(errs, f())
	}
	im.unmap = nil
	return errors.Join(errs...)
}

// Symbolize returns the data object containing a and the offset of a
// within it.
func (im *Image) Symbolize(a core.Address) (Symbol, int64, bool) {
	i := sort.Search(len(im.Symbols), func(i int) bool {
		return im.Symbols[i].Addr > a
	})
	if i == 0 {
		return Symbol{}, 0, false
	}
	s := im.Symbols[i-1]
	off := a.Sub(s.Addr)
	if uint64(off) >= s.Size {
		return Symbol{}, 0, false
	}
	return s, off, true
}

// Read returns n bytes at address a. Bytes that are mapped but have no
// contents in the image read as zero.
func (im *Image) Read(a core.Address, n int) ([]byte, error) {
	out := make([]byte, n)
	for done := 0; done < n; {
		p := a.Add(int64(done))
		r, ok := im.Regions.Lookup(p)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnmapped, p)
		}
		chunk := min(int64(n-done), r.Max.Sub(p))
		if seg := im.segment(p); seg != nil {
			chunk = min(chunk, seg.End().Sub(p))
			copy(out[done:], seg.Data[p.Sub(seg.Base):][:chunk])
		} else if next := im.nextSegment(p); next != nil && next.Base < r.Max {
			// Zeros up to the next segment inside this region.
			chunk = min(chunk, next.Base.Sub(p))
		}
		done += int(chunk)
	}
	return out, nil
}

// segment returns the segment containing a.
func (im *Image) segment(a core.Address) *scan.Segment {
	i := sort.Search(len(im.Segments), func(i int) bool {
		return im.Segments[i].End() > a
	})
	if i < len(im.Segments) && im.Segments[i].Base <= a {
		return &im.Segments[i]
	}
	return nil
}

// nextSegment returns the first segment starting after a.
func (im *Image) nextSegment(a core.Address) *scan.Segment {
	i := sort.Search(len(im.Segments), func(i int) bool {
		return im.Segments[i].Base > a
	})
	if i < len(im.Segments) {
		return &im.Segments[i]
	}
	return nil
}

// SegmentsNamed returns the segments whose region name is one of names.
// With no names, it returns all segments.
func (im *Image) SegmentsNamed(names ...string) []scan.Segment {
	if len(names) == 0 {
		return im.Segments
	}
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []scan.Segment
	for _, s := range im.Segments {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

func (im *Image) sortSegments() {
	sort.Slice(im.Segments, func(i, j int) bool {
		return im.Segments[i].Base < im.Segments[j].Base
	})
}

// readSymbols collects the sized data objects of e.
func (im *Image) readSymbols(e *elf.File) {
	syms, err := e.Symbols()
	if err != nil {
		im.warnf("can't read symbols: %v", err)
		return
	}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_OBJECT || s.Size == 0 || s.Value == 0 {
			continue
		}
		im.Symbols = append(im.Symbols, Symbol{Name: s.Name, Addr: core.Address(s.Value), Size: s.Size})
	}
	sort.Slice(im.Symbols, func(i, j int) bool {
		return im.Symbols[i].Addr < im.Symbols[j].Addr
	})
}

// archFor returns the architecture of e.
func archFor(e *elf.File) (*arch.Architecture, error) {
	var name string
	switch e.Machine {
	case elf.EM_386:
		name = "386"
	case elf.EM_X86_64:
		name = "amd64"
	case elf.EM_ARM:
		name = "arm"
	case elf.EM_AARCH64:
		name = "arm64"
	case elf.EM_MIPS:
		name = "mips"
	case elf.EM_PPC64:
		if e.ByteOrder.String() == "LittleEndian" {
			name = "ppc64le"
		} else {
			name = "ppc64"
		}
	case elf.EM_S390:
		name = "s390x"
	default:
		// Unknown machines are still scannable given class and data.
		var ptrSize int
		switch e.Class {
		case elf.ELFCLASS32:
			ptrSize = 4
		case elf.ELFCLASS64:
			ptrSize = 8
		default:
			return nil, fmt.Errorf("unknown elf class %s", e.Class)
		}
		return arch.Generic(ptrSize, e.ByteOrder)
	}
	return arch.ByName(name)
}

func permOf(flags elf.ProgFlag) core.Perm {
	var perm core.Perm
	if flags&elf.PF_R != 0 {
		perm |= core.Read
	}
	if flags&elf.PF_W != 0 {
		perm |= core.Write
	}
	if flags&elf.PF_X != 0 {
		perm |= core.Exec
	}
	return perm
}

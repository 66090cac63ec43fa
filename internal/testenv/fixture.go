// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testenv provides memory snapshots with known contents for tests.
//
// HarvestPointers mirrors testdata/harvest_pointers.c stopped after its
// malloc: the bytes of its .data section together with the address space
// the process had mapped at the time.
package testenv

import (
	"github.com/jproney/MemoryCartography/arch"
	"github.com/jproney/MemoryCartography/core"
)

// A Snapshot is a buffer captured at Base plus the regions that were
// mapped when it was taken.
type Snapshot struct {
	Arch    *arch.Architecture
	Regions *core.RegionMap
	Base    core.Address
	Data    []byte

	// Symbols maps global variable names to their addresses.
	Symbols map[string]core.Address
	// Alloc is the address returned by malloc(AllocSize).
	Alloc core.Address
}

// AllocSize is the size of the fixture's single heap allocation.
const AllocSize = 263

const (
	textStart   = 0x401000
	rodataStart = 0x402000
	dataStart   = 0x404000
	heapStart   = 0x405000
	heapEnd     = 0x426000
	helloOffset = 0x4
	allocOffset = 0x2a0

	// FooValue and BarValue are the scalar-looking initializers of foo and bar.
	FooValue = 0xdeadbeef
	BarValue = 0xfeedface
	BazValue = 'a'
)

// HarvestPointers returns the harvest_pointers fixture laid out for a.
// The data section is, one slot each and in this order: two zero words,
// foo, ptr, bar, baz (padded), word, and a trailing zero word.
func HarvestPointers(a *arch.Architecture) *Snapshot {
	p := a.PointerSize
	stackStart, stackEnd := core.Address(0x7ffffffde000), core.Address(0x7ffffffff000)
	if p == 4 {
		stackStart, stackEnd = 0xbffdf000, 0xc0000000
	}
	regions := []core.Region{
		{Min: textStart, Max: textStart + 0x1000, Kind: core.Code, Perm: core.Read | core.Exec, Name: ".text"},
		{Min: rodataStart, Max: rodataStart + 0x1000, Kind: core.ReadOnlyData, Perm: core.Read, Name: ".rodata"},
		{Min: dataStart, Max: dataStart + 0x1000, Kind: core.StaticData, Perm: core.Read | core.Write, Name: ".data"},
		{Min: heapStart, Max: heapEnd, Kind: core.Heap, Perm: core.Read | core.Write, Name: "[heap]"},
		{Min: stackStart, Max: stackEnd, Kind: core.Stack, Perm: core.Read | core.Write, Name: "[stack]"},
	}
	rm, err := core.NewRegionMap(regions)
	if err != nil {
		panic(err)
	}

	s := &Snapshot{
		Arch:    a,
		Regions: rm,
		Base:    dataStart,
		Data:    make([]byte, 8*p),
		Symbols: map[string]core.Address{},
		Alloc:   heapStart + allocOffset,
	}
	slot := func(i int, name string, v uint64) {
		off := i * p
		a.PutUintptr(s.Data[off:off+p], v)
		s.Symbols[name] = s.Base.Add(int64(off))
	}
	slot(2, "foo", FooValue)
	slot(3, "ptr", uint64(s.Alloc))
	slot(4, "bar", BarValue)
	slot(5, "baz", 0)
	slot(6, "word", rodataStart+helloOffset)

	// baz is a single char at the start of its slot; the rest is padding.
	// On big-endian targets the slot therefore reads as BazValue<<(8*(p-1)).
	s.Data[5*p] = BazValue
	return s
}

// Hello returns the address of the "hello" literal in .rodata.
func (s *Snapshot) Hello() core.Address {
	return rodataStart + helloOffset
}

// Word returns the address of slot i of the snapshot.
func (s *Snapshot) Word(i int) core.Address {
	return s.Base.Add(int64(i * s.Arch.PointerSize))
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jproney/MemoryCartography/core"
	"github.com/jproney/MemoryCartography/scan"
)

// CoreOptions control Core.
type CoreOptions struct {
	// Base is the directory in which files named by the core's NT_FILE
	// note are looked up. Files are used only to fill in mappings whose
	// contents are missing from the core. Empty means no lookup.
	Base string
}

// A mapping is a PT_LOAD range being assembled into a region.
type mapping struct {
	min, max core.Address
	perm     core.Perm
	name     string
	f        *os.File // source of the contents, nil for none
	off      int64    // offset of min in f
}

func (m *mapping) size() int64 { return m.max.Sub(m.min) }

type coreLoader struct {
	im       *Image
	core     *os.File
	e        *elf.File
	opts     CoreOptions
	mappings []*mapping
	files    map[string]*os.File
	sps      []core.Address // stack pointers of the inferior's threads
}

// Core loads the memory of the process that dumped the ELF core file at
// path.
func Core(path string, opts CoreOptions, log zerolog.Logger) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open core file: %w", err)
	}
	l := &coreLoader{im: &Image{}, core: f, opts: opts, files: map[string]*os.File{}}
	l.im.unmap = append(l.im.unmap, f.Close)

	if err := l.load(); err != nil {
		l.im.Close()
		l.closeFiles()
		return nil, err
	}
	l.closeFiles()
	for _, w := range l.im.warnings {
		log.Warn().Str("core", path).Msg(w)
	}
	log.Debug().Int("regions", l.im.Regions.Len()).Int("segments", len(l.im.Segments)).Msg("loaded core")
	return l.im, nil
}

func (l *coreLoader) load() error {
	e, err := elf.NewFile(l.core)
	if err != nil {
		return err
	}
	if e.Type != elf.ET_CORE {
		return fmt.Errorf("%s is not a core file", l.core.Name())
	}
	l.e = e
	if l.im.Arch, err = archFor(e); err != nil {
		return err
	}

	// Load virtual memory mappings.
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_LOAD {
			if err := l.readLoad(prog); err != nil {
				return err
			}
		}
	}
	// Load notes (includes file mapping information).
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_NOTE {
			if err := l.readNote(prog.Off, prog.Filesz); err != nil {
				return err
			}
		}
	}

	// Sort then merge mappings, just to clean up a bit.
	ms := l.mappings
	sort.Slice(ms, func(i, j int) bool { return ms[i].min < ms[j].min })
	var merged []*mapping
	for _, m := range ms {
		if n := len(merged); n > 0 {
			k := merged[n-1]
			if m.min == k.max && m.perm == k.perm && m.name == k.name &&
				m.f == k.f && (m.f == nil || m.off == k.off+k.size()) {
				k.max = m.max
				continue
			}
		}
		merged = append(merged, m)
	}
	l.mappings = merged

	regions := make([]core.Region, 0, len(merged))
	for _, m := range merged {
		regions = append(regions, core.Region{
			Min:  m.min,
			Max:  m.max,
			Kind: l.kindOf(m),
			Perm: m.perm,
			Name: m.name,
		})
		if err := l.contents(m); err != nil {
			return err
		}
	}
	rm, err := core.NewRegionMap(regions)
	if err != nil {
		return err
	}
	// A mapping only partly present in the core was split above; present
	// it as one region again.
	l.im.Regions = rm.Coalesce()
	l.im.sortSegments()
	return nil
}

func (l *coreLoader) kindOf(m *mapping) core.Kind {
	for _, sp := range l.sps {
		if m.min <= sp && sp < m.max {
			return core.Stack
		}
	}
	return core.InferKind(m.name, m.perm)
}

// contents attaches the bytes backing m to the image.
func (l *coreLoader) contents(m *mapping) error {
	if m.perm&core.Read == 0 {
		return nil
	}
	if m.f == nil {
		// Could be a mapped file that we couldn't find, or a mapping
		// madvised as MADV_DONTDUMP. It reads as zero.
		l.im.warnf("Missing data at addresses [%x %x]. Assuming all zero.", uint64(m.min), uint64(m.max))
		return nil
	}
	if m.perm&core.Write != 0 && m.f != l.core {
		l.im.warnf("Writeable data at [%x %x] missing from core. Using possibly stale backup source %s.", uint64(m.min), uint64(m.max), m.f.Name())
	}
	size := m.size()
	if fi, err := m.f.Stat(); err == nil && (m.off < 0 || m.off > fi.Size() || size > fi.Size()-m.off) {
		// Touching mapped pages past the end of the file faults.
		l.im.warnf("Truncated data at [%x %x] in %s.", uint64(m.min), uint64(m.max), m.f.Name())
		size = 0
		if m.off >= 0 && m.off < fi.Size() {
			size = fi.Size() - m.off
		}
		if size == 0 {
			return nil
		}
	}
	// Data in core file might not be aligned enough for the host.
	// Expand memory range so we can map full pages.
	minOff := m.off
	maxOff := m.off + size
	minOff -= minOff % pageSize
	if maxOff%pageSize != 0 {
		maxOff += pageSize - maxOff%pageSize
	}
	data, unmap, err := mapFile(m.f, minOff, int(maxOff-minOff))
	if err != nil {
		return fmt.Errorf("can't memory map %s at %x: %w", m.f.Name(), minOff, err)
	}
	if unmap != nil {
		l.im.unmap = append(l.im.unmap, unmap)
	}
	// Trim any data we mapped but don't need.
	data = data[m.off-minOff:]
	size = min(size, int64(len(data)))
	l.im.Segments = append(l.im.Segments, scan.Segment{Name: m.name, Base: m.min, Data: data[:size]})
	return nil
}

func (l *coreLoader) readLoad(prog *elf.Prog) error {
	if prog.Memsz == 0 {
		return nil
	}
	if prog.Memsz > math.MaxInt64 || prog.Vaddr+prog.Memsz < prog.Vaddr || prog.Off > math.MaxInt64 {
		return fmt.Errorf("PT_LOAD at %#x: size %#x out of range", prog.Vaddr, prog.Memsz)
	}
	min := core.Address(prog.Vaddr)
	max := core.Address(prog.Vaddr + prog.Memsz)
	perm := permOf(prog.Flags)
	if prog.Filesz == 0 {
		l.mappings = append(l.mappings, &mapping{min: min, max: max, perm: perm})
		return nil
	}
	// Data backing this mapping is in the core file.
	mid := min.Add(int64(prog.Filesz))
	if prog.Filesz >= prog.Memsz {
		mid = max
	}
	l.mappings = append(l.mappings, &mapping{min: min, max: mid, perm: perm, f: l.core, off: int64(prog.Off)})
	if mid < max {
		// We only have partial data for this mapping in the core file.
		l.mappings = append(l.mappings, &mapping{min: mid, max: max, perm: perm})
	}
	return nil
}

const (
	ntFile elf.NType = 0x46494c45
)

func (l *coreLoader) readNote(off, size uint64) error {
	order := l.e.ByteOrder
	fi, err := l.core.Stat()
	if err != nil {
		return err
	}
	if off > uint64(fi.Size()) || size > uint64(fi.Size())-off {
		return fmt.Errorf("note segment [%#x +%#x] lies outside the core file", off, size)
	}
	b := make([]byte, size)
	if _, err := l.core.ReadAt(b, int64(off)); err != nil {
		return fmt.Errorf("reading notes: %w", err)
	}
	for len(b) >= 12 {
		namesz := uint64(order.Uint32(b))
		descsz := uint64(order.Uint32(b[4:]))
		typ := elf.NType(order.Uint32(b[8:]))
		b = b[12:]
		nameLen := (namesz + 3) / 4 * 4
		descLen := (descsz + 3) / 4 * 4
		if uint64(len(b)) < nameLen || uint64(len(b))-nameLen < descsz {
			return fmt.Errorf("truncated note of type %d", typ)
		}
		var name string
		if namesz > 0 {
			name = string(b[:namesz-1])
		}
		b = b[nameLen:]
		desc := b[:descsz]
		b = b[min(descLen, uint64(len(b))):]

		if name != "CORE" {
			continue
		}
		switch typ {
		case ntFile:
			if err := l.readNTFile(desc); err != nil {
				return fmt.Errorf("reading NT_FILE: %w", err)
			}
		case elf.NT_PRSTATUS:
			l.readPRStatus(desc)
		case elf.NT_PRPSINFO:
			l.readPRPSInfo(desc)
		}
	}
	return nil
}

// readNTFile names the mappings covered by the files the inferior had
// mapped, splitting mappings at file boundaries as needed.
func (l *coreLoader) readNTFile(desc []byte) error {
	order := l.e.ByteOrder
	w := l.im.Arch.PointerSize
	word := func() uint64 {
		var v uint64
		if w == 4 {
			v = uint64(order.Uint32(desc))
		} else {
			v = order.Uint64(desc)
		}
		desc = desc[w:]
		return v
	}
	if len(desc) < 2*w {
		return fmt.Errorf("short descriptor")
	}
	count := word()
	pagesize := word()
	if count > uint64(len(desc))/(3*uint64(w)) {
		return fmt.Errorf("%d entries do not fit in %d bytes", count, len(desc))
	}
	filenames := string(desc[3*uint64(w)*count:])

	for i := uint64(0); i < count; i++ {
		min := core.Address(word())
		max := core.Address(word())
		pgoff := word()
		if max < min {
			return fmt.Errorf("entry %d: range [%x %x] is inverted", i, uint64(min), uint64(max))
		}
		if pagesize != 0 && pgoff > math.MaxInt64/pagesize {
			return fmt.Errorf("entry %d: file offset of page %#x overflows", i, pgoff)
		}
		off := int64(pgoff * pagesize)

		name, rest, _ := strings.Cut(filenames, "\x00")
		filenames = rest

		l.splitAt(min)
		l.splitAt(max)
		for _, m := range l.mappings {
			if m.max <= min || m.min >= max {
				continue
			}
			m.name = name
			if m.f != nil {
				continue
			}
			f, err := l.open(name)
			if err != nil {
				// Lots of possible missing files probably aren't
				// critical, like a random shared library.
				l.im.warnf("Missing data for addresses [%x %x] because of failure to %s. Assuming all zero.", uint64(m.min), uint64(m.max), err)
				continue
			}
			if f != nil {
				m.f = f
				m.off = off + m.min.Sub(min)
			}
		}
	}
	return nil
}

// splitAt ensures that a is not in the middle of any mapping.
func (l *coreLoader) splitAt(a core.Address) {
	for _, m := range l.mappings {
		if a <= m.min || a >= m.max {
			continue
		}
		m2 := new(mapping)
		*m2 = *m
		m.max = a
		m2.min = a
		if m2.f != nil {
			m2.off += m.size()
		}
		l.mappings = append(l.mappings, m2)
		return
	}
}

func (l *coreLoader) open(name string) (*os.File, error) {
	if l.opts.Base == "" || name == "" {
		return nil, nil
	}
	if f, ok := l.files[name]; ok {
		return f, nil
	}
	f, err := os.Open(filepath.Join(l.opts.Base, name))
	if err != nil {
		return nil, err
	}
	l.files[name] = f
	return f, nil
}

// closeFiles closes the backing files. Their contents stay mapped.
func (l *coreLoader) closeFiles() {
	for _, f := range l.files {
		f.Close()
	}
}

func (l *coreLoader) readPRStatus(desc []byte) {
	// prstatus layout is different for each arch/os combo.
	switch l.im.Arch.Name {
	case "amd64":
		// 112 = offsetof(prstatus_t, pr_reg), 216 = sizeof(elf_gregset_t)
		if len(desc) < 112+216 {
			return
		}
		reg := desc[112 : 112+216]
		// Register 19 is rsp.
		l.sps = append(l.sps, core.Address(l.e.ByteOrder.Uint64(reg[19*8:])))
	case "arm64":
		// 112 = offsetof(prstatus_t, pr_reg); x0-x30 then sp.
		if len(desc) < 112+32*8 {
			return
		}
		l.sps = append(l.sps, core.Address(l.e.ByteOrder.Uint64(desc[112+31*8:])))
	}
}

func (l *coreLoader) readPRPSInfo(desc []byte) {
	if l.im.Arch.Name != "amd64" {
		return
	}
	info := &linuxPrPsInfo{}
	if err := binary.Read(bytes.NewReader(desc), binary.LittleEndian, info); err != nil {
		l.im.warnf("can't read NT_PRPSINFO: %v", err)
		return
	}
	l.im.Args = strings.Trim(string(info.Args[:]), "\x00 ")
}

// linuxPrPsInfo is the info embedded in NT_PRPSINFO.
type linuxPrPsInfo struct {
	State                uint8
	Sname                int8
	Zomb                 uint8
	Nice                 int8
	_                    [4]uint8
	Flag                 uint64
	Uid, Gid             uint32
	Pid, Ppid, Pgrp, Sid int32
	Fname                [16]uint8 // filename of executables
	Args                 [80]uint8 // first part of program args
}

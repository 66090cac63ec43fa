// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfload

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jproney/MemoryCartography/arch"
	"github.com/jproney/MemoryCartography/core"
	"github.com/jproney/MemoryCartography/scan"
)

// A fakeLoad describes one PT_LOAD segment of a synthetic core.
type fakeLoad struct {
	vaddr uint64
	memsz uint64
	flags elf.ProgFlag
	data  []byte // file contents, len(data) == filesz
}

type fakeFile struct {
	start, end, pgoff uint64
	name              string
}

func note(name string, typ elf.NType, desc []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint32(len(name)+1))
	binary.Write(&b, binary.LittleEndian, uint32(len(desc)))
	binary.Write(&b, binary.LittleEndian, uint32(typ))
	b.WriteString(name)
	b.WriteByte(0)
	for b.Len()%4 != 0 {
		b.WriteByte(0)
	}
	b.Write(desc)
	for b.Len()%4 != 0 {
		b.WriteByte(0)
	}
	return b.Bytes()
}

func ntFileDesc(files []fakeFile) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint64(len(files)))
	binary.Write(&b, binary.LittleEndian, uint64(0x1000))
	for _, f := range files {
		binary.Write(&b, binary.LittleEndian, []uint64{f.start, f.end, f.pgoff})
	}
	for _, f := range files {
		b.WriteString(f.name)
		b.WriteByte(0)
	}
	return b.Bytes()
}

func prstatusDesc(sp uint64) []byte {
	desc := make([]byte, 112+216+8)
	binary.LittleEndian.PutUint64(desc[112+19*8:], sp)
	return desc
}

func prpsinfoDesc(args string) []byte {
	var info linuxPrPsInfo
	copy(info.Args[:], args)
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, &info)
	return b.Bytes()
}

// writeCore writes a little-endian ELF64 x86-64 core file.
func writeCore(t *testing.T, loads []fakeLoad, notes []byte) string {
	t.Helper()
	const ehsize, phsize = 64, 56
	nprog := len(loads) + 1
	off := uint64(ehsize + phsize*nprog)

	var progs []elf.Prog64
	progs = append(progs, elf.Prog64{Type: uint32(elf.PT_NOTE), Off: off, Filesz: uint64(len(notes))})
	off += uint64(len(notes))
	for _, l := range loads {
		off = (off + 0xfff) &^ 0xfff
		progs = append(progs, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(l.flags),
			Off:    off,
			Vaddr:  l.vaddr,
			Filesz: uint64(len(l.data)),
			Memsz:  l.memsz,
			Align:  0x1000,
		})
		off += uint64(len(l.data))
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_CORE),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     uint16(nprog),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var b bytes.Buffer
	require.NoError(t, binary.Write(&b, binary.LittleEndian, &hdr))
	require.NoError(t, binary.Write(&b, binary.LittleEndian, progs))
	b.Write(notes)
	for i, l := range loads {
		for uint64(b.Len()) < progs[i+1].Off {
			b.WriteByte(0)
		}
		b.Write(l.data)
	}

	path := filepath.Join(t.TempDir(), "core")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o600))
	return path
}

func words(vs ...uint64) []byte {
	b := make([]byte, 0x1000)
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], v)
	}
	return b
}

func TestCore(t *testing.T) {
	const (
		text  = 0x400000
		data  = 0x601000
		heap  = 0x2000000
		guard = 0x7ffd0000
		stack = 0x7ffd1000
	)
	// The executable's text and data are file-backed; the text was not
	// dumped, the data was.
	notes := note("CORE", ntFile, ntFileDesc([]fakeFile{
		{text, text + 0x1000, 0, "/bin/prog"},
		{data, data + 0x1000, 1, "/bin/prog"},
	}))
	notes = append(notes, note("CORE", elf.NT_PRSTATUS, prstatusDesc(stack+0x800))...)
	notes = append(notes, note("CORE", elf.NT_PRPSINFO, prpsinfoDesc("./prog --serve"))...)
	notes = append(notes, note("LINUX", 0x202, []byte{1, 2, 3, 4})...)

	path := writeCore(t, []fakeLoad{
		{vaddr: text, memsz: 0x1000, flags: elf.PF_R | elf.PF_X},
		{vaddr: data, memsz: 0x1000, flags: elf.PF_R | elf.PF_W, data: words(heap+0x10, 0xfeedface, text+0x20, 0, stack+0x40)},
		// A heap whose second page was never dumped.
		{vaddr: heap, memsz: 0x2000, flags: elf.PF_R | elf.PF_W, data: words(data+8, heap+0x1800)},
		{vaddr: guard, memsz: 0x1000},
		{vaddr: stack, memsz: 0x1000, flags: elf.PF_R | elf.PF_W, data: words(0, heap)},
	}, notes)

	im, err := Core(path, CoreOptions{}, zerolog.Nop())
	require.NoError(t, err)
	defer im.Close()

	assert.Equal(t, &arch.AMD64, im.Arch)
	assert.Equal(t, "./prog --serve", im.Args)

	regions := im.Regions.Regions()
	require.Len(t, regions, 5, "%v", regions)
	for i, want := range []struct {
		min  core.Address
		max  core.Address
		kind core.Kind
		perm core.Perm
		name string
	}{
		{text, text + 0x1000, core.Code, core.Read | core.Exec, "/bin/prog"},
		{data, data + 0x1000, core.StaticData, core.Read | core.Write, "/bin/prog"},
		{heap, heap + 0x2000, core.Unknown, core.Read | core.Write, ""},
		{guard, guard + 0x1000, core.Unknown, 0, ""},
		{stack, stack + 0x1000, core.Stack, core.Read | core.Write, ""},
	} {
		r := regions[i]
		assert.Equal(t, want.min, r.Min, "region %d", i)
		assert.Equal(t, want.max, r.Max, "region %d", i)
		assert.Equal(t, want.kind, r.Kind, "region %d", i)
		assert.Equal(t, want.perm, r.Perm, "region %d", i)
		assert.Equal(t, want.name, r.Name, "region %d", i)
	}

	// Text and the second heap page have no contents.
	require.Len(t, im.Segments, 3)
	assert.Equal(t, core.Address(data), im.Segments[0].Base)
	assert.Len(t, im.Segments[1].Data, 0x1000)
	assert.NotEmpty(t, im.Warnings())

	b, err := im.Read(data, 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(heap+0x10), binary.LittleEndian.Uint64(b))
	b, err = im.Read(heap+0xff8, 16)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), b, "undumped heap reads as zero")
	_, err = im.Read(0x1000, 8)
	assert.ErrorIs(t, err, ErrUnmapped)

	s, err := scan.NewScanner(scan.Config{Arch: im.Arch})
	require.NoError(t, err)
	reports, err := s.ScanSegments(context.Background(), im.SegmentsNamed("/bin/prog"), im.Regions)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, scan.ValidPointer, r.At(0).Verdict)
	assert.Equal(t, scan.DanglingPointer, r.At(1).Verdict)
	assert.Equal(t, scan.ValidPointer, r.At(2).Verdict)
	assert.Equal(t, scan.Low, r.At(2).Confidence, "pointer into code")
	assert.Equal(t, scan.ValidPointer, r.At(4).Verdict)
	assert.Equal(t, core.Stack, r.At(4).Target.Kind)
}

func TestCoreBackingFiles(t *testing.T) {
	base := t.TempDir()
	bin := filepath.Join(base, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	text := make([]byte, 0x2000)
	copy(text[0x1000:], "code bytes")
	require.NoError(t, os.WriteFile(filepath.Join(bin, "prog"), text, 0o600))

	notes := note("CORE", ntFile, ntFileDesc([]fakeFile{
		{0x400000, 0x401000, 1, "/bin/prog"},
		{0x500000, 0x501000, 0, "/lib/missing.so"},
	}))
	path := writeCore(t, []fakeLoad{
		{vaddr: 0x400000, memsz: 0x1000, flags: elf.PF_R | elf.PF_X},
		{vaddr: 0x500000, memsz: 0x1000, flags: elf.PF_R},
	}, notes)

	im, err := Core(path, CoreOptions{Base: base}, zerolog.Nop())
	require.NoError(t, err)
	defer im.Close()

	require.Len(t, im.Segments, 1)
	b, err := im.Read(0x400000, 10)
	require.NoError(t, err)
	assert.Equal(t, "code bytes", string(b))
	assert.Equal(t, core.ReadOnlyData, im.Regions.At(1).Kind)
}

// rawNote encodes a note header with arbitrary sizes followed by payload.
func rawNote(namesz, descsz uint32, typ elf.NType, payload []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, []uint32{namesz, descsz, uint32(typ)})
	b.Write(payload)
	return b.Bytes()
}

func TestCoreMalformed(t *testing.T) {
	hugeCount := make([]byte, 24)
	binary.LittleEndian.PutUint64(hugeCount, 0x0aaaaaaaaaaaaaab) // 24*count wraps to 8
	binary.LittleEndian.PutUint64(hugeCount[8:], 0x1000)

	data := fakeLoad{vaddr: 0x601000, memsz: 0x1000, flags: elf.PF_R | elf.PF_W, data: words(1)}
	for _, test := range []struct {
		name  string
		loads []fakeLoad
		notes []byte
		want  string
	}{
		{"file count", nil, note("CORE", ntFile, hugeCount), "do not fit"},
		{"short file", nil, note("CORE", ntFile, []byte{1, 2, 3}), "short descriptor"},
		{"name size", nil, rawNote(0xffffffff, 0, ntFile, []byte("CORE\x00\x00\x00\x00")), "truncated note"},
		{"desc size", nil, rawNote(5, 0xfffffffd, ntFile, []byte("CORE\x00\x00\x00\x00")), "truncated note"},
		{"inverted file", []fakeLoad{data}, note("CORE", ntFile, ntFileDesc([]fakeFile{
			{0x602000, 0x601000, 0, "/bin/prog"},
		})), "inverted"},
		{"file offset", []fakeLoad{data}, note("CORE", ntFile, ntFileDesc([]fakeFile{
			{0x601000, 0x602000, 1 << 62, "/bin/prog"},
		})), "overflows"},
		{"load size", []fakeLoad{{vaddr: 0xfffffffffffff000, memsz: 0x2000, flags: elf.PF_R}}, nil, "out of range"},
	} {
		t.Run(test.name, func(t *testing.T) {
			path := writeCore(t, test.loads, test.notes)
			var err error
			require.NotPanics(t, func() {
				_, err = Core(path, CoreOptions{}, zerolog.Nop())
			})
			assert.ErrorContains(t, err, test.want)
		})
	}
}

func TestCoreRejectsExecutable(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	if _, err := elf.Open(exe); err != nil {
		t.Skip("test binary is not ELF")
	}
	_, err = Core(exe, CoreOptions{}, zerolog.Nop())
	assert.ErrorContains(t, err, "not a core file")

	_, err = Core(filepath.Join(t.TempDir(), "nope"), CoreOptions{}, zerolog.Nop())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSymbolize(t *testing.T) {
	im := &Image{Symbols: []Symbol{
		{Name: "foo", Addr: 0x1000, Size: 8},
		{Name: "bar", Addr: 0x1010, Size: 16},
	}}
	for _, test := range []struct {
		a    core.Address
		name string
		off  int64
		ok   bool
	}{
		{0xfff, "", 0, false},
		{0x1000, "foo", 0, true},
		{0x1007, "foo", 7, true},
		{0x1008, "", 0, false},
		{0x101f, "bar", 15, true},
		{0x1020, "", 0, false},
	} {
		s, off, ok := im.Symbolize(test.a)
		assert.Equal(t, test.ok, ok, "%s", test.a)
		assert.Equal(t, test.name, s.Name, "%s", test.a)
		assert.Equal(t, test.off, off, "%s", test.a)
	}
}

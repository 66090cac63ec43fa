// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific definitions.
package arch

import (
	"encoding/binary"
	"fmt"
)

// Architecture defines the architecture-specific details for a given machine.
type Architecture struct {
	// Name is the GOARCH-style name of the architecture.
	Name string
	// PointerSize is the size of a pointer, in bytes.
	PointerSize int
	// ByteOrder is the byte order for ints and pointers.
	ByteOrder binary.ByteOrder
}

// Uintptr decodes one pointer-sized word from buf.
func (a *Architecture) Uintptr(buf []byte) uint64 {
	if len(buf) != a.PointerSize {
		panic("bad PointerSize")
	}
	switch a.PointerSize {
	case 4:
		return uint64(a.ByteOrder.Uint32(buf[:4]))
	case 8:
		return a.ByteOrder.Uint64(buf[:8])
	}
	panic("no PointerSize")
}

// PutUintptr encodes v as one pointer-sized word into buf.
func (a *Architecture) PutUintptr(buf []byte, v uint64) {
	switch a.PointerSize {
	case 4:
		a.ByteOrder.PutUint32(buf[:4], uint32(v))
	case 8:
		a.ByteOrder.PutUint64(buf[:8], v)
	default:
		panic("no PointerSize")
	}
}

func (a *Architecture) String() string {
	return a.Name
}

var AMD64 = Architecture{
	Name:        "amd64",
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
}

var X86 = Architecture{
	Name:        "386",
	PointerSize: 4,
	ByteOrder:   binary.LittleEndian,
}

var ARM = Architecture{
	Name:        "arm",
	PointerSize: 4,
	ByteOrder:   binary.LittleEndian,
}

var ARM64 = Architecture{
	Name:        "arm64",
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
}

var PPC64 = Architecture{
	Name:        "ppc64",
	PointerSize: 8,
	ByteOrder:   binary.BigEndian,
}

var PPC64LE = Architecture{
	Name:        "ppc64le",
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
}

var MIPS = Architecture{
	Name:        "mips",
	PointerSize: 4,
	ByteOrder:   binary.BigEndian,
}

var S390X = Architecture{
	Name:        "s390x",
	PointerSize: 8,
	ByteOrder:   binary.BigEndian,
}

var all = []*Architecture{&AMD64, &X86, &ARM, &ARM64, &PPC64, &PPC64LE, &MIPS, &S390X}

// ByName returns the architecture with the given GOARCH-style name.
func ByName(name string) (*Architecture, error) {
	for _, a := range all {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("unknown architecture %q", name)
}

// Generic returns a synthetic architecture for a bare memory dump whose only
// known properties are its pointer size and byte order.
func Generic(ptrSize int, order binary.ByteOrder) (*Architecture, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, fmt.Errorf("pointer size %d not supported, want 4 or 8", ptrSize)
	}
	if order == nil {
		order = binary.LittleEndian
	}
	return &Architecture{
		Name:        fmt.Sprintf("generic%d-%s", ptrSize*8, order),
		PointerSize: ptrSize,
		ByteOrder:   order,
	}, nil
}

// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"errors"
	"testing"
)

func testRegions() []Region {
	return []Region{
		{Min: 0x400000, Max: 0x401000, Kind: Code, Perm: Read | Exec, Name: "/bin/prog"},
		{Min: 0x402000, Max: 0x403000, Kind: ReadOnlyData, Perm: Read, Name: "/bin/prog"},
		{Min: 0x403000, Max: 0x404000, Kind: StaticData, Perm: Read | Write, Name: "/bin/prog"},
		{Min: 0x1000000, Max: 0x1021000, Kind: Heap, Perm: Read | Write, Name: "[heap]"},
		{Min: 0x7ffd0000, Max: 0x7ffd1000, Kind: Unknown, Perm: 0, Name: ""},
	}
}

func TestLookup(t *testing.T) {
	m, err := NewRegionMap(testRegions())
	if err != nil {
		t.Fatalf("NewRegionMap: %v", err)
	}
	for _, test := range []struct {
		a    Address
		ok   bool
		kind Kind
	}{
		{0x3fffff, false, Unknown},
		{0x400000, true, Code},
		{0x400fff, true, Code},
		{0x401000, false, Unknown}, // gap
		{0x402000, true, ReadOnlyData},
		{0x403000, true, StaticData},
		{0x403fff, true, StaticData},
		{0x404000, false, Unknown},
		{0x1000010, true, Heap},
		{0x1021000, false, Unknown},
		{0x7ffd0800, true, Unknown},
		{0xffffffffffffffff, false, Unknown},
		{0, false, Unknown},
	} {
		r, ok := m.Lookup(test.a)
		if ok != test.ok {
			t.Errorf("Lookup(%x) ok=%t, want %t", uint64(test.a), ok, test.ok)
			continue
		}
		if !ok {
			if r != (Region{}) {
				t.Errorf("Lookup(%x) returned region %v with ok=false", uint64(test.a), r)
			}
			continue
		}
		if !r.Contains(test.a) {
			t.Errorf("Lookup(%x)=%v does not contain the address", uint64(test.a), r)
		}
		if r.Kind != test.kind {
			t.Errorf("Lookup(%x).Kind=%s, want %s", uint64(test.a), r.Kind, test.kind)
		}
		if k, _ := m.ContainingKind(test.a); k != test.kind {
			t.Errorf("ContainingKind(%x)=%s, want %s", uint64(test.a), k, test.kind)
		}
	}
}

func TestLookupEmpty(t *testing.T) {
	m, err := NewRegionMap(nil)
	if err != nil {
		t.Fatalf("NewRegionMap(nil): %v", err)
	}
	if _, ok := m.Lookup(0x1000); ok {
		t.Errorf("Lookup on empty map succeeded")
	}
	var nilMap *RegionMap
	if _, ok := nilMap.Lookup(0x1000); ok {
		t.Errorf("Lookup on nil map succeeded")
	}
}

func TestNewRegionMapInvalid(t *testing.T) {
	for _, test := range []struct {
		name    string
		regions []Region
		index   int
	}{
		{"overlap", []Region{{Min: 0x1000, Max: 0x3000}, {Min: 0x2000, Max: 0x4000}}, 1},
		{"unsorted", []Region{{Min: 0x5000, Max: 0x6000}, {Min: 0x1000, Max: 0x2000}}, 1},
		{"empty", []Region{{Min: 0x1000, Max: 0x1000}}, 0},
		{"inverted", []Region{{Min: 0x1000, Max: 0x2000}, {Min: 0x3000, Max: 0x2800}}, 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			m, err := NewRegionMap(test.regions)
			if err == nil {
				t.Fatalf("NewRegionMap succeeded, got %d regions", m.Len())
			}
			if !errors.Is(err, ErrInvalidRegionMap) {
				t.Errorf("error %v is not ErrInvalidRegionMap", err)
			}
			var ie *InvalidRegionMapError
			if !errors.As(err, &ie) {
				t.Fatalf("error %v is not an *InvalidRegionMapError", err)
			}
			if ie.Index != test.index {
				t.Errorf("index=%d, want %d", ie.Index, test.index)
			}
		})
	}
}

func TestNewRegionMapCopies(t *testing.T) {
	rs := testRegions()
	m, err := NewRegionMap(rs)
	if err != nil {
		t.Fatal(err)
	}
	rs[0].Kind = Heap
	if k, _ := m.ContainingKind(0x400000); k != Code {
		t.Errorf("map changed after input was mutated: kind=%s", k)
	}
	out := m.Regions()
	out[0].Kind = Heap
	if k, _ := m.ContainingKind(0x400000); k != Code {
		t.Errorf("map changed after Regions() result was mutated: kind=%s", k)
	}
	heap, ok := m.Lookup(0x1000010)
	if !ok {
		t.Fatal("heap not found")
	}
	heap.Max = heap.Min + 8
	first := m.At(0)
	first.Kind = Heap
	if _, ok := m.Lookup(0x1000010); !ok {
		t.Errorf("map changed after Lookup result was mutated")
	}
	if m.At(0).Kind != Code {
		t.Errorf("map changed after At result was mutated")
	}
}

func TestCoalesce(t *testing.T) {
	m, err := NewRegionMap([]Region{
		{Min: 0x1000, Max: 0x2000, Kind: StaticData, Perm: Read | Write, Name: "a"},
		{Min: 0x2000, Max: 0x3000, Kind: StaticData, Perm: Read | Write, Name: "a"},
		{Min: 0x3000, Max: 0x4000, Kind: StaticData, Perm: Read, Name: "a"},
		{Min: 0x5000, Max: 0x6000, Kind: StaticData, Perm: Read, Name: "a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	c := m.Coalesce()
	if c.Len() != 3 {
		t.Fatalf("coalesced to %d regions, want 3: %v", c.Len(), c.Regions())
	}
	if r := c.At(0); r.Min != 0x1000 || r.Max != 0x3000 {
		t.Errorf("first region = %v, want [1000 3000)", r)
	}
	if m.Len() != 4 {
		t.Errorf("Coalesce modified the receiver")
	}
}

func TestSortRegions(t *testing.T) {
	rs := []Region{{Min: 0x3000, Max: 0x4000}, {Min: 0x1000, Max: 0x2000}}
	SortRegions(rs)
	if _, err := NewRegionMap(rs); err != nil {
		t.Errorf("sorted regions rejected: %v", err)
	}
}

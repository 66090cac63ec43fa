// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import "testing"

func TestParsePerm(t *testing.T) {
	for _, test := range []struct {
		in      string
		want    Perm
		wantErr bool
	}{
		{"r-xp", Read | Exec, false},
		{"rw-p", Read | Write, false},
		{"---p", 0, false},
		{"rwxs", Read | Write | Exec, false},
		{"r--", Read, false},
		{"rw", 0, true},
		{"xwr-", 0, true},
		{"rw-q", 0, true},
	} {
		got, err := ParsePerm(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("ParsePerm(%q) error = %v, wantErr %t", test.in, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("ParsePerm(%q) = %s, want %s", test.in, got, test.want)
		}
	}
}

func TestPermString(t *testing.T) {
	if s := (Read | Exec).String(); s != "Read|Exec" {
		t.Errorf("String() = %q", s)
	}
	if s := Perm(0).String(); s != "None" {
		t.Errorf("String() = %q", s)
	}
	if s := (Read | Write).Short(); s != "rw-" {
		t.Errorf("Short() = %q", s)
	}
}

func TestInferKind(t *testing.T) {
	for _, test := range []struct {
		name string
		perm Perm
		want Kind
	}{
		{"[heap]", Read | Write, Heap},
		{"[stack]", Read | Write, Stack},
		{"[stack:1234]", Read | Write, Stack},
		{"/usr/lib/libc.so.6", Read | Exec, Code},
		{"/usr/lib/libc.so.6", Read, ReadOnlyData},
		{"/usr/lib/libc.so.6", Read | Write, StaticData},
		{"", Read | Write, Unknown},
		{"[anon:scudo]", Read | Write, Unknown},
		{"/dev/zero", 0, Unknown},
	} {
		if got := InferKind(test.name, test.perm); got != test.want {
			t.Errorf("InferKind(%q, %s) = %s, want %s", test.name, test.perm, got, test.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for k := Unknown; k <= Code; k++ {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %s, %v", k.String(), got, err)
		}
	}
	if k, err := ParseKind("rodata"); err != nil || k != ReadOnlyData {
		t.Errorf("ParseKind(rodata) = %s, %v", k, err)
	}
	if _, err := ParseKind("registers"); err == nil {
		t.Errorf("ParseKind(registers) succeeded")
	}
}

func TestAddressAlign(t *testing.T) {
	if a := Address(0x1001).Align(8); a != 0x1008 {
		t.Errorf("Align = %x", uint64(a))
	}
	if !Address(0x1008).IsAligned(8) || Address(0x1004).IsAligned(8) {
		t.Errorf("IsAligned wrong")
	}
}

// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import "fmt"

// A Region is a contiguous range [Min,Max) of the inferior's address space.
type Region struct {
	Min  Address
	Max  Address // first byte beyond the region
	Kind Kind
	Perm Perm

	// Name is the backing file or pseudo-name ("[heap]", ".data", ...).
	// It is informational only.
	Name string
	// Offset of Min in the backing file, if any.
	Offset int64
}

// Size returns Max-Min.
func (r Region) Size() int64 {
	return r.Max.Sub(r.Min)
}

// Contains reports whether a lies inside r.
func (r Region) Contains(a Address) bool {
	return r.Min <= a && a < r.Max
}

// Readable reports whether the inferior could read r.
func (r Region) Readable() bool {
	return r.Perm&Read != 0
}

func (r Region) String() string {
	name := r.Name
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("[%x %x) %s %s %s", uint64(r.Min), uint64(r.Max), r.Perm.Short(), r.Kind, name)
}

// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jproney/MemoryCartography/arch"
	"github.com/jproney/MemoryCartography/core"
)

func TestHarvestPointersLayout(t *testing.T) {
	for _, a := range []*arch.Architecture{&arch.AMD64, &arch.MIPS} {
		t.Run(a.Name, func(t *testing.T) {
			s := HarvestPointers(a)
			p := a.PointerSize
			require.Len(t, s.Data, 8*p)

			word := func(name string) uint64 {
				off := s.Symbols[name].Sub(s.Base)
				return a.Uintptr(s.Data[off : off+int64(p)])
			}
			assert.EqualValues(t, FooValue, word("foo"))
			assert.EqualValues(t, s.Alloc, word("ptr"))
			assert.EqualValues(t, BarValue, word("bar"))
			assert.EqualValues(t, s.Hello(), word("word"))
			assert.Equal(t, byte(BazValue), s.Data[s.Symbols["baz"].Sub(s.Base)])

			k, ok := s.Regions.ContainingKind(s.Alloc)
			require.True(t, ok)
			assert.Equal(t, core.Heap, k)
			_, ok = s.Regions.Lookup(BarValue)
			assert.False(t, ok, "bar must point at unmapped memory")
			assert.Equal(t, s.Symbols["ptr"], s.Word(3))
		})
	}
}

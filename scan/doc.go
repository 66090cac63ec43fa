// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package scan finds pointers in raw memory snapshots.

The scan is conservative: with no type information to go on, every aligned
pointer-width word of a snapshot is a candidate, and a Classifier decides
from structural evidence alone whether the word looks like a pointer. The
evidence is the word's value alignment, whether the value lands inside a
mapped region of a core.RegionMap, and that region's permissions and kind.

Each candidate gets a Verdict:

	NotAPointer      null, a known sentinel, or misaligned
	DanglingPointer  aligned, but the target is unmapped or unreadable
	ValidPointer     the target lies in a mapped, readable region

and a Confidence, which depends on the kind of the target region. Pointers
into the heap or into static data are High; pointers into the stack or an
anonymous mapping are Medium; pointers into code are Low.

A Scanner walks a buffer at a fixed slot alignment and collects the
classifications, in source-address order, into a Report:

	s, err := scan.NewScanner(scan.Config{Arch: &arch.AMD64})
	...
	rep := s.Scan(data, base, regions)
	for c := range rep.EntriesWhere(scan.WithVerdict(scan.ValidPointer)) {
		fmt.Println(c)
	}

Reports can be merged and turned into a Graph of region-to-region edges.
*/
package scan

// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidRegionMap is returned (wrapped in an *InvalidRegionMapError)
// when the regions handed to NewRegionMap are unsorted, overlapping or empty.
var ErrInvalidRegionMap = errors.New("invalid region map")

// An InvalidRegionMapError describes why a set of regions was rejected.
type InvalidRegionMapError struct {
	Index  int // index of the offending region in the input
	Reason string
}

func (e *InvalidRegionMapError) Error() string {
	return fmt.Sprintf("%v: region %d: %s", ErrInvalidRegionMap, e.Index, e.Reason)
}

func (e *InvalidRegionMapError) Unwrap() error {
	return ErrInvalidRegionMap
}

// A RegionMap is an immutable, sorted set of non-overlapping regions.
// There may be gaps (unmapped space) between regions.
type RegionMap struct {
	regions []Region
}

// NewRegionMap validates regions and returns a map of them.
// The regions must already be sorted by Min and must not overlap.
// The slice is copied; later changes to it do not affect the map.
func NewRegionMap(regions []Region) (*RegionMap, error) {
	for i := range regions {
		r := &regions[i]
		if r.Max <= r.Min {
			return nil, &InvalidRegionMapError{Index: i, Reason: fmt.Sprintf("empty range [%x %x)", uint64(r.Min), uint64(r.Max))}
		}
		if i == 0 {
			continue
		}
		prev := &regions[i-1]
		if r.Min < prev.Min {
			return nil, &InvalidRegionMapError{Index: i, Reason: fmt.Sprintf("starts at %x, before previous region at %x", uint64(r.Min), uint64(prev.Min))}
		}
		if r.Min < prev.Max {
			return nil, &InvalidRegionMapError{Index: i, Reason: fmt.Sprintf("[%x %x) overlaps [%x %x)", uint64(r.Min), uint64(r.Max), uint64(prev.Min), uint64(prev.Max))}
		}
	}
	m := &RegionMap{regions: make([]Region, len(regions))}
	copy(m.regions, regions)
	return m, nil
}

// SortRegions sorts regions by start address in place. It is a helper for
// collaborators whose sources (core files, /proc) are not guaranteed to
// be ordered; NewRegionMap itself never reorders.
func SortRegions(regions []Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Min < regions[j].Min
	})
}

// Lookup returns the region containing a, if any. The result is a copy;
// the map itself cannot be changed through it.
func (m *RegionMap) Lookup(a Address) (Region, bool) {
	if m == nil {
		return Region{}, false
	}
	// First region ending beyond a.
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].Max > a
	})
	if i < len(m.regions) && m.regions[i].Min <= a {
		return m.regions[i], true
	}
	return Region{}, false
}

// ContainingKind returns the kind of the region containing a.
func (m *RegionMap) ContainingKind(a Address) (Kind, bool) {
	r, ok := m.Lookup(a)
	if !ok {
		return Unknown, false
	}
	return r.Kind, true
}

// Readable reports whether a lies in a readable region.
func (m *RegionMap) Readable(a Address) bool {
	r, ok := m.Lookup(a)
	return ok && r.Perm&Read != 0
}

// Writeable reports whether a lies in a writeable region.
func (m *RegionMap) Writeable(a Address) bool {
	r, ok := m.Lookup(a)
	return ok && r.Perm&Write != 0
}

// Len returns the number of regions in m.
func (m *RegionMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.regions)
}

// At returns the i'th region in address order.
func (m *RegionMap) At(i int) Region {
	return m.regions[i]
}

// Regions returns a copy of the regions in address order.
func (m *RegionMap) Regions() []Region {
	if m == nil {
		return nil
	}
	rs := make([]Region, len(m.regions))
	copy(rs, m.regions)
	return rs
}

// Coalesce returns a new map in which touching regions with the same name,
// kind and permissions are merged into one.
func (m *RegionMap) Coalesce() *RegionMap {
	var out []Region
	for _, r := range m.regions {
		if n := len(out); n > 0 {
			k := &out[n-1]
			if k.Max == r.Min && k.Name == r.Name && k.Kind == r.Kind && k.Perm == r.Perm {
				k.Max = r.Max
				continue
			}
		}
		out = append(out, r)
	}
	return &RegionMap{regions: out}
}

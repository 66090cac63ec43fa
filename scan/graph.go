// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"cmp"
	"slices"
	"sort"

	"github.com/jproney/MemoryCartography/core"
)

// An Edge is one pointer from a source region into a target region,
// recorded as offsets from the starts of the two regions.
type Edge struct {
	SrcOffset int64
	DstOffset int64
}

// A Graph records which regions point into which other regions.
// Regions are identified by their start address.
type Graph struct {
	regions map[core.Address]core.Region
	edges   map[core.Address]map[core.Address][]Edge
	n       int
}

// BuildGraph collects every valid pointer in reports whose source lies in
// a mapped region. The reports must have been produced against the same
// region map.
func BuildGraph(reports ...*Report) *Graph {
	g := &Graph{
		regions: map[core.Address]core.Region{},
		edges:   map[core.Address]map[core.Address][]Edge{},
	}
	for _, r := range reports {
		for c := range r.EntriesWhere(WithVerdict(ValidPointer)) {
			if c.Region == nil {
				continue
			}
			g.add(*c.Region, *c.Target, Edge{
				SrcOffset: c.Source.Sub(c.Region.Min),
				DstOffset: c.TargetOffset(),
			})
		}
	}
	return g
}

func (g *Graph) add(src, dst core.Region, e Edge) {
	g.regions[src.Min] = src
	g.regions[dst.Min] = dst
	out := g.edges[src.Min]
	if out == nil {
		out = map[core.Address][]Edge{}
		g.edges[src.Min] = out
	}
	out[dst.Min] = append(out[dst.Min], e)
	g.n++
}

// Len returns the total number of edges.
func (g *Graph) Len() int { return g.n }

// Regions returns the regions that appear in the graph, in address order.
func (g *Graph) Regions() []core.Region {
	rs := make([]core.Region, 0, len(g.regions))
	for _, r := range g.regions {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Min < rs[j].Min })
	return rs
}

// Edges returns the pointers from the region starting at src into the
// region starting at dst, in ascending source offset.
func (g *Graph) Edges(src, dst core.Address) []Edge {
	return g.edges[src][dst]
}

// Outward returns, for each region the region at src points into, the
// start of that region. The result is in address order.
func (g *Graph) Outward(src core.Address) []core.Address {
	out := g.edges[src]
	dsts := make([]core.Address, 0, len(out))
	for d := range out {
		dsts = append(dsts, d)
	}
	sort.Slice(dsts, func(i, j int) bool { return dsts[i] < dsts[j] })
	return dsts
}

// Region returns the region starting at a, if it is in the graph.
func (g *Graph) Region(a core.Address) (core.Region, bool) {
	r, ok := g.regions[a]
	return r, ok
}

// A Slot is a pointer-holding word, named by the region it lies in and
// its offset from the start of that region.
type Slot struct {
	Region core.Address
	Offset int64
}

// PointersTo returns every slot that holds a pointer to offset off of the
// region starting at dst, ordered by region and then offset.
func (g *Graph) PointersTo(dst core.Address, off int64) []Slot {
	var slots []Slot
	for src, out := range g.edges {
		for _, e := range out[dst] {
			if e.DstOffset == off {
				slots = append(slots, Slot{Region: src, Offset: e.SrcOffset})
			}
		}
	}
	slices.SortFunc(slots, func(a, b Slot) int {
		if c := cmp.Compare(a.Region, b.Region); c != 0 {
			return c
		}
		return cmp.Compare(a.Offset, b.Offset)
	})
	return slots
}

// A Destination is one pointed-to address and the number of slots
// pointing at it.
type Destination struct {
	Region core.Address
	Offset int64
	Count  int
}

// RankDestinations counts the pointers to each distinct destination and
// returns the destinations, most frequent first. Ties are in address
// order.
func (g *Graph) RankDestinations() []Destination {
	type key struct {
		region core.Address
		off    int64
	}
	counts := map[key]int{}
	for _, out := range g.edges {
		for dst, es := range out {
			for _, e := range es {
				counts[key{dst, e.DstOffset}]++
			}
		}
	}
	ds := make([]Destination, 0, len(counts))
	for k, n := range counts {
		ds = append(ds, Destination{Region: k.region, Offset: k.off, Count: n})
	}
	slices.SortFunc(ds, func(a, b Destination) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Region, b.Region); c != 0 {
			return c
		}
		return cmp.Compare(a.Offset, b.Offset)
	})
	return ds
}

// SCCs returns the strongly connected components of the graph: maximal
// sets of regions each of which can reach every other by following
// pointers. Every region of the graph is in exactly one component. Each
// component is in address order, and components are ordered by their
// lowest address.
func (g *Graph) SCCs() [][]core.Address {
	// Tarjan's algorithm.
	index := map[core.Address]int{}
	low := map[core.Address]int{}
	onStack := map[core.Address]bool{}
	var stack []core.Address
	var sccs [][]core.Address
	var visit func(v core.Address)
	visit = func(v core.Address) {
		index[v] = len(index)
		low[v] = index[v]
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.Outward(v) {
			if _, seen := index[w]; !seen {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var comp []core.Address
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		slices.Sort(comp)
		sccs = append(sccs, comp)
	}
	for _, r := range g.Regions() {
		if _, seen := index[r.Min]; !seen {
			visit(r.Min)
		}
	}
	slices.SortFunc(sccs, func(a, b []core.Address) int { return cmp.Compare(a[0], b[0]) })
	return sccs
}

// Reachable returns the regions that can be reached from the region
// starting at src by following pointers, src included, in address order.
// It is empty if src is not in the graph.
func (g *Graph) Reachable(src core.Address) []core.Address {
	if _, ok := g.regions[src]; !ok {
		return nil
	}
	seen := map[core.Address]bool{src: true}
	work := []core.Address{src}
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		for d := range g.edges[v] {
			if !seen[d] {
				seen[d] = true
				work = append(work, d)
			}
		}
	}
	out := make([]core.Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

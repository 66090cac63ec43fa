// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/jproney/MemoryCartography/arch"
	"github.com/jproney/MemoryCartography/core"
)

// CancelStride is the number of candidates examined between checks of
// the scan's context.
const CancelStride = 4096

// minShard is the smallest number of bytes worth handing to a worker.
const minShard = 64 << 10

// ErrBadConfig is returned by NewScanner for unusable settings.
var ErrBadConfig = errors.New("bad scanner config")

// Config configures a Scanner.
type Config struct {
	// Arch supplies the pointer width and byte order of the snapshot.
	// Nil means arch.AMD64.
	Arch *arch.Architecture
	// Alignment is the slot stride: only offsets that are a multiple of it
	// are examined. Zero means the pointer width.
	Alignment int
	// Workers > 1 splits a single buffer into shards scanned concurrently.
	Workers int
	// Options configure the classifier.
	Options Options
}

// A Scanner walks memory snapshots and classifies every aligned word.
// A Scanner is immutable and may be used from multiple goroutines.
type Scanner struct {
	arch       *arch.Architecture
	ptrSize    int
	alignment  int
	workers    int
	classifier *Classifier
}

// NewScanner validates cfg and returns a Scanner.
func NewScanner(cfg Config) (*Scanner, error) {
	a := cfg.Arch
	if a == nil {
		a = &arch.AMD64
	}
	if a.PointerSize != 4 && a.PointerSize != 8 {
		return nil, fmt.Errorf("%w: pointer size %d, want 4 or 8", ErrBadConfig, a.PointerSize)
	}
	if a.ByteOrder == nil {
		return nil, fmt.Errorf("%w: architecture %s has no byte order", ErrBadConfig, a.Name)
	}
	align := cfg.Alignment
	if align == 0 {
		align = a.PointerSize
	}
	if align < 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: alignment %d is not a positive power of two", ErrBadConfig, align)
	}
	if v := cfg.Options.ValueAlignment; v != 0 && v&(v-1) != 0 {
		return nil, fmt.Errorf("%w: value alignment %d is not a power of two", ErrBadConfig, v)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Scanner{
		arch:       a,
		ptrSize:    a.PointerSize,
		alignment:  align,
		workers:    workers,
		classifier: NewClassifier(cfg.Options),
	}, nil
}

// Scan examines raw words of a fixed width, in little-endian order, at
// the given slot alignment. It is a shorthand for building a Scanner.
func Scan(buf []byte, base core.Address, ptrSize, alignment int, rm *core.RegionMap) (*Report, error) {
	a, err := arch.Generic(ptrSize, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	s, err := NewScanner(Config{Arch: a, Alignment: alignment, Options: DefaultOptions()})
	if err != nil {
		return nil, err
	}
	return s.Scan(buf, base, rm), nil
}

// Arch returns the architecture s decodes words for.
func (s *Scanner) Arch() *arch.Architecture { return s.arch }

// Alignment returns the slot alignment.
func (s *Scanner) Alignment() int { return s.alignment }

// Classifier returns the classifier s applies to each candidate.
func (s *Scanner) Classifier() *Classifier { return s.classifier }

// Scan classifies every aligned pointer-width word of buf, whose first
// byte lives at address base. A buffer shorter than one word yields an
// empty report. Words at sources outside rm are still examined.
func (s *Scanner) Scan(buf []byte, base core.Address, rm *core.RegionMap) *Report {
	r, _ := s.ScanContext(context.Background(), buf, base, rm)
	return r
}

// ScanContext is like Scan but stops early if ctx is cancelled, returning
// ctx's error and no report.
func (s *Scanner) ScanContext(ctx context.Context, buf []byte, base core.Address, rm *core.RegionMap) (*Report, error) {
	end := s.limit(buf, base)
	if end <= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Report{}, nil
	}
	if s.workers == 1 || end < 2*minShard {
		entries, err := s.walk(ctx, buf, base, 0, end, rm)
		if err != nil {
			return nil, err
		}
		return &Report{entries: entries}, nil
	}

	bounds := s.shards(end)
	parts := make([][]Classification, len(bounds)-1)
	g, gctx := errgroup.WithContext(ctx)
	for i := range parts {
		lo, hi := bounds[i], bounds[i+1]
		g.Go(func() error {
			entries, err := s.walk(gctx, buf, base, lo, hi, rm)
			parts[i] = entries
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	// Shards cover ascending, disjoint offset ranges, so concatenating
	// them in order keeps the report sorted by source.
	entries := make([]Classification, 0, n)
	for _, p := range parts {
		entries = append(entries, p...)
	}
	return &Report{entries: entries}, nil
}

// limit returns the exclusive bound on slot offsets worth examining: no
// word may run past the buffer and no source address may wrap around.
func (s *Scanner) limit(buf []byte, base core.Address) int {
	end := len(buf) - s.ptrSize + 1
	if end <= 0 {
		return 0
	}
	if room := uint64(math.MaxUint64 - uint64(base)); uint64(end) > room {
		// base+o must not overflow for any o < end.
		end = int(room) + 1
	}
	return end
}

// shards splits the offsets [0,end) into up to s.workers ranges whose
// boundaries are multiples of the slot alignment.
func (s *Scanner) shards(end int) []int {
	n := s.workers
	size := (end + n - 1) / n
	if size < minShard {
		size = minShard
	}
	size = (size + s.alignment - 1) &^ (s.alignment - 1)
	bounds := []int{0}
	for lo := size; lo < end; lo += size {
		bounds = append(bounds, lo)
	}
	return append(bounds, end)
}

// walk classifies the slots at aligned offsets in [lo,hi).
func (s *Scanner) walk(ctx context.Context, buf []byte, base core.Address, lo, hi int, rm *core.RegionMap) ([]Classification, error) {
	var out []Classification
	a := s.arch
	c := s.classifier
	n := 0
	var cur *core.Region // copy of the region holding the last source
	for o := lo; o < hi; o += s.alignment {
		if n++; n%CancelStride == 0 {
			if err := ctx.Err(); err != nil {
				return out, err
			}
		}
		src := base.Add(int64(o))
		cand := Candidate{
			Source: src,
			Value:  a.Uintptr(buf[o : o+s.ptrSize]),
		}
		if cur == nil || !cur.Contains(src) {
			cur = nil
			if r, ok := rm.Lookup(src); ok {
				cur = &r
			}
		}
		cand.Region = cur
		cl := c.Classify(cand, rm)
		if c.keep(&cl) {
			out = append(out, cl)
		}
	}
	return out, ctx.Err()
}

// A Segment is one contiguous snapshot of memory.
type Segment struct {
	Name string
	Base core.Address
	Data []byte
}

// End returns the address just past the segment's data.
func (seg *Segment) End() core.Address {
	return seg.Base.Add(int64(len(seg.Data)))
}

// ScanSegments scans each segment independently and concurrently, one
// report per segment in input order. On cancellation the reports that
// completed are returned together with the context's error; the slots of
// unfinished segments are nil.
func (s *Scanner) ScanSegments(ctx context.Context, segs []Segment, rm *core.RegionMap) ([]*Report, error) {
	reports := make([]*Report, len(segs))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range segs {
		seg := &segs[i]
		g.Go(func() error {
			r, err := s.ScanContext(ctx, seg.Data, seg.Base, rm)
			if err != nil {
				return err
			}
			reports[i] = r
			return nil
		})
	}
	err := g.Wait()
	return reports, err
}

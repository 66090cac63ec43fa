// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"encoding/binary"
	"encoding/json"
	"iter"
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/jproney/MemoryCartography/core"
)

// A Report is the ordered result of a scan: one Classification per
// examined slot (after confidence filtering), sorted by source address.
// The caller owns a Report once it is returned; nothing else refers to it.
type Report struct {
	entries []Classification
}

// NewReport returns a report holding entries, which must already be
// sorted by source address.
func NewReport(entries []Classification) *Report {
	return &Report{entries: entries}
}

// Len returns the number of entries in r.
func (r *Report) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// At returns the i'th entry.
func (r *Report) At(i int) Classification {
	return r.entries[i]
}

// All yields every entry in ascending source order. Each range over the
// returned sequence starts from the beginning again.
func (r *Report) All() iter.Seq[Classification] {
	return r.EntriesWhere(nil)
}

// EntriesWhere yields the entries satisfying pred, in ascending source
// order. A nil pred matches everything. The sequence is lazy: pred runs
// while the caller ranges over it.
func (r *Report) EntriesWhere(pred func(Classification) bool) iter.Seq[Classification] {
	return func(yield func(Classification) bool) {
		if r == nil {
			return
		}
		for _, c := range r.entries {
			if pred != nil && !pred(c) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// WithVerdict matches entries with verdict v.
func WithVerdict(v Verdict) func(Classification) bool {
	return func(c Classification) bool { return c.Verdict == v }
}

// AtLeast matches entries with confidence >= least.
func AtLeast(least Confidence) func(Classification) bool {
	return func(c Classification) bool { return c.Confidence >= least }
}

// InKind matches valid pointers whose target region has kind k.
func InKind(k core.Kind) func(Classification) bool {
	return func(c Classification) bool { return c.Target != nil && c.Target.Kind == k }
}

// FromRegion matches entries whose source lies in a region named name.
func FromRegion(name string) func(Classification) bool {
	return func(c Classification) bool { return c.Region != nil && c.Region.Name == name }
}

// And matches entries satisfying all of preds.
func And(preds ...func(Classification) bool) func(Classification) bool {
	return func(c Classification) bool {
		for _, p := range preds {
			if !p(c) {
				return false
			}
		}
		return true
	}
}

// Counts tallies entries by verdict.
type Counts struct {
	NotAPointer int `json:"not_a_pointer"`
	Dangling    int `json:"dangling"`
	Valid       int `json:"valid"`
}

// Total returns the number of entries counted.
func (c Counts) Total() int {
	return c.NotAPointer + c.Dangling + c.Valid
}

// Counts returns the number of entries per verdict.
func (r *Report) Counts() Counts {
	var c Counts
	for e := range r.All() {
		switch e.Verdict {
		case NotAPointer:
			c.NotAPointer++
		case DanglingPointer:
			c.Dangling++
		case ValidPointer:
			c.Valid++
		}
	}
	return c
}

// Digest returns a hash of the report's contents. Reports with equal
// entries have equal digests, whatever Region values they point to.
func (r *Report) Digest() uint64 {
	h := xxh3.New()
	var buf [26]byte
	for e := range r.All() {
		binary.LittleEndian.PutUint64(buf[0:], uint64(e.Source))
		binary.LittleEndian.PutUint64(buf[8:], e.Value)
		var target uint64
		if e.Target != nil {
			target = uint64(e.Target.Min)
		}
		binary.LittleEndian.PutUint64(buf[16:], target)
		buf[24] = byte(e.Verdict)
		buf[25] = byte(e.Confidence)
		h.Write(buf[:])
	}
	return h.Sum64()
}

// Merge combines reports into one, ordered by source address. Entries
// with equal sources keep the order of their reports in the argument list.
func Merge(reports ...*Report) *Report {
	n := 0
	for _, r := range reports {
		n += r.Len()
	}
	entries := make([]Classification, 0, n)
	for _, r := range reports {
		if r != nil {
			entries = append(entries, r.entries...)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Source < entries[j].Source
	})
	return &Report{entries: entries}
}

type regionJSON struct {
	Start string    `json:"start"`
	End   string    `json:"end"`
	Kind  core.Kind `json:"kind"`
	Perms string    `json:"perms"`
	Name  string    `json:"name,omitempty"`
}

type classificationJSON struct {
	Source     string      `json:"source"`
	Value      string      `json:"value"`
	Verdict    Verdict     `json:"verdict"`
	Target     *regionJSON `json:"target,omitempty"`
	Offset     int64       `json:"target_offset,omitempty"`
	Confidence Confidence  `json:"confidence"`
}

// MarshalJSON encodes c as a flat record with hex addresses.
func (c Classification) MarshalJSON() ([]byte, error) {
	out := classificationJSON{
		Source:     c.Source.String(),
		Value:      core.Address(c.Value).String(),
		Verdict:    c.Verdict,
		Confidence: c.Confidence,
	}
	if t := c.Target; t != nil {
		out.Target = &regionJSON{
			Start: t.Min.String(),
			End:   t.Max.String(),
			Kind:  t.Kind,
			Perms: t.Perm.Short(),
			Name:  t.Name,
		}
		out.Offset = c.TargetOffset()
	}
	return json.Marshal(out)
}

// MarshalJSON encodes r as an array of its entries.
func (r *Report) MarshalJSON() ([]byte, error) {
	entries := []Classification{}
	if r != nil {
		entries = r.entries
	}
	return json.Marshal(entries)
}

// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"fmt"
	"strings"

	"github.com/jproney/MemoryCartography/core"
)

// A Verdict is the classifier's decision about one candidate word.
type Verdict uint8

const (
	// NotAPointer means the word is scalar data (or null).
	NotAPointer Verdict = iota
	// DanglingPointer means the word is shaped like a pointer but does not
	// resolve to readable mapped memory. The scanner cannot tell a value
	// that was never valid from one that was freed.
	DanglingPointer
	// ValidPointer means the word points into a mapped, readable region.
	ValidPointer
)

var verdictNames = [...]string{
	NotAPointer:     "not-a-pointer",
	DanglingPointer: "dangling",
	ValidPointer:    "valid",
}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return fmt.Sprintf("Verdict(%d)", uint8(v))
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ParseVerdict parses the String form of a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	for v, name := range verdictNames {
		if strings.EqualFold(s, name) {
			return Verdict(v), nil
		}
	}
	return NotAPointer, fmt.Errorf("unknown verdict %q", s)
}

// A Confidence grades how plausible it is that a word is a pointer.
// Confidences are ordered: Low < Medium < High.
type Confidence uint8

const (
	Low Confidence = iota
	Medium
	High
)

var confidenceNames = [...]string{
	Low:    "low",
	Medium: "medium",
	High:   "high",
}

func (c Confidence) String() string {
	if int(c) < len(confidenceNames) {
		return confidenceNames[c]
	}
	return fmt.Sprintf("Confidence(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Confidence) UnmarshalText(b []byte) error {
	v, err := ParseConfidence(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseConfidence parses the String form of a Confidence.
func ParseConfidence(s string) (Confidence, error) {
	for c, name := range confidenceNames {
		if strings.EqualFold(s, name) {
			return Confidence(c), nil
		}
	}
	return Low, fmt.Errorf("unknown confidence %q", s)
}

// A Candidate is one pointer-width word extracted from a scanned buffer.
type Candidate struct {
	Source core.Address // where the word was found
	Value  uint64       // the raw bit pattern
	Region *core.Region // region containing Source, nil if Source is unmapped
}

// A Classification is the classifier's result for one Candidate.
// Region and Target point at copies of the region map's entries, never
// into the map, so a report may be edited without affecting the map it
// was built against.
type Classification struct {
	Candidate
	Verdict    Verdict
	Target     *core.Region // non-nil iff Verdict == ValidPointer
	Confidence Confidence
}

// TargetOffset returns the offset of the pointed-to address within the
// target region. It is zero unless the verdict is ValidPointer.
func (c *Classification) TargetOffset() int64 {
	if c.Target == nil {
		return 0
	}
	return core.Address(c.Value).Sub(c.Target.Min)
}

func (c Classification) String() string {
	s := fmt.Sprintf("%x: %#x %s/%s", uint64(c.Source), c.Value, c.Verdict, c.Confidence)
	if c.Target != nil {
		s += fmt.Sprintf(" -> %s", c.Target.Kind)
		if c.Target.Name != "" {
			s += " " + c.Target.Name
		}
	}
	return s
}

// Options configure a Classifier.
type Options struct {
	// TreatNullAsPointer makes the all-zero word go through the membership
	// test like any other value instead of being rejected outright.
	TreatNullAsPointer bool
	// MinConfidence drops classifications below it from scan reports.
	MinConfidence Confidence
	// ValueAlignment is the minimum alignment of a plausible pointee.
	// Values that are not a multiple of it are rejected as scalars.
	// Zero means DefaultValueAlignment.
	ValueAlignment uint64
	// Sentinels lists bit patterns (poison values, magic constants) that
	// are always reported as NotAPointer.
	Sentinels []uint64
}

// DefaultValueAlignment is the pointee alignment used when
// Options.ValueAlignment is zero. Any allocator or linker output is at
// least 2-byte aligned for the data it hands out pointers to, while odd
// values are almost always scalars.
const DefaultValueAlignment = 2

// DefaultOptions returns the default classifier options.
func DefaultOptions() Options {
	return Options{ValueAlignment: DefaultValueAlignment}
}

// A Classifier decides whether candidate words are pointers.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	opts      Options
	sentinels map[uint64]struct{}
}

// NewClassifier returns a classifier using opts.
func NewClassifier(opts Options) *Classifier {
	if opts.ValueAlignment == 0 {
		opts.ValueAlignment = DefaultValueAlignment
	}
	c := &Classifier{opts: opts}
	if len(opts.Sentinels) > 0 {
		c.sentinels = make(map[uint64]struct{}, len(opts.Sentinels))
		for _, v := range opts.Sentinels {
			c.sentinels[v] = struct{}{}
		}
	}
	return c
}

// Options returns the options c was built with.
func (c *Classifier) Options() Options {
	return c.opts
}

// Classify classifies one candidate against rm. It never fails: every
// candidate yields exactly one Classification.
func (c *Classifier) Classify(cand Candidate, rm *core.RegionMap) Classification {
	cl := Classification{Candidate: cand, Verdict: NotAPointer, Confidence: Low}
	v := cand.Value

	if v == 0 && !c.opts.TreatNullAsPointer {
		return cl
	}
	if _, ok := c.sentinels[v]; ok {
		return cl
	}
	if v%c.opts.ValueAlignment != 0 {
		return cl
	}

	r, ok := rm.Lookup(core.Address(v))
	if !ok {
		cl.Verdict = DanglingPointer
		cl.Confidence = Medium
		return cl
	}
	if !r.Readable() {
		// Guard pages and PROT_NONE reservations: mapped, but nothing
		// could be read through this pointer.
		cl.Verdict = DanglingPointer
		cl.Confidence = Low
		return cl
	}

	cl.Verdict = ValidPointer
	cl.Target = &r
	cl.Confidence = targetConfidence(r.Kind)
	return cl
}

func targetConfidence(k core.Kind) Confidence {
	switch k {
	case core.Heap, core.StaticData, core.ReadOnlyData:
		return High
	case core.Stack, core.Unknown:
		return Medium
	case core.Code:
		// Function pointers are legitimate but rare as plain data.
		return Low
	}
	return Low
}

// keep reports whether cl passes the MinConfidence filter.
func (c *Classifier) keep(cl *Classification) bool {
	return cl.Confidence >= c.opts.MinConfidence
}

// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procmaps

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/jproney/MemoryCartography/core"
	"github.com/jproney/MemoryCartography/scan"
)

// ErrShortRead reports that fewer bytes than requested could be copied.
var ErrShortRead = errors.New("short read")

// Snapshot copies the contents of every readable region of rm accepted by
// keep (nil keeps all) out of process pid. Regions that cannot be read,
// typically device mappings, are logged and left out; only a failure to
// read anything at all is an error.
func Snapshot(pid int, rm *core.RegionMap, keep func(core.Region) bool, log zerolog.Logger) ([]scan.Segment, error) {
	var segs []scan.Segment
	var firstErr error
	for i := 0; i < rm.Len(); i++ {
		r := rm.At(i)
		if !r.Readable() || (keep != nil && !keep(r)) {
			continue
		}
		data, err := ReadMemory(pid, r.Min, int(r.Size()))
		if err != nil && !errors.Is(err, ErrShortRead) {
			log.Warn().Err(err).Str("region", r.String()).Msg("cannot read region")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("region", r.String()).Msg("partial read")
		}
		if len(data) == 0 {
			continue
		}
		segs = append(segs, scan.Segment{Name: r.Name, Base: r.Min, Data: data})
	}
	if len(segs) == 0 && firstErr != nil {
		return nil, firstErr
	}
	log.Debug().Int("segments", len(segs)).Msg("snapshot taken")
	return segs, nil
}

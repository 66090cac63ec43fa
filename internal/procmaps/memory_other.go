// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package procmaps

import (
	"errors"

	"github.com/jproney/MemoryCartography/core"
)

// ReadMemory is only implemented on Linux.
func ReadMemory(pid int, addr core.Address, n int) ([]byte, error) {
	return nil, errors.ErrUnsupported
}

// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package elfload

import (
	"os"

	"golang.org/x/sys/unix"
)

var pageSize = int64(unix.Getpagesize())

// mapFile maps length bytes of f at offset read-only into memory.
func mapFile(f *os.File, offset int64, length int) ([]byte, func() error, error) {
	data, err := unix.Mmap(int(f.Fd()), offset, length, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return unix.Munmap(data) }, nil
}

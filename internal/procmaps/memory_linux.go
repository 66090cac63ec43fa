// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package procmaps

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/jproney/MemoryCartography/core"
)

// maxIov bounds a single process_vm_readv call; larger reads are split.
const maxIov = 1 << 30

// ReadMemory copies n bytes at addr out of process pid. The process
// should be stopped, or the bytes may be torn. A short read returns the
// bytes that were copied along with ErrShortRead.
func ReadMemory(pid int, addr core.Address, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	data := make([]byte, n)
	done := 0
	for done < n {
		chunk := min(n-done, maxIov)
		local := []unix.Iovec{{Base: &data[done]}}
		local[0].SetLen(chunk)
		remote := []unix.RemoteIovec{{Base: uintptr(addr.Add(int64(done))), Len: chunk}}
		got, err := unix.ProcessVMReadv(pid, local, remote, 0)
		if err != nil {
			if done == 0 {
				return nil, fmt.Errorf("process_vm_readv %d at %s: %w", pid, addr.Add(int64(done)), err)
			}
			break
		}
		if got == 0 {
			break
		}
		done += got
	}
	if done < n {
		return data[:done], fmt.Errorf("%w: read %d of %d bytes at %s", ErrShortRead, done, n, addr)
	}
	return data, nil
}

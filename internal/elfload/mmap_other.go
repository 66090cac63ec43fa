// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package elfload

import (
	"errors"
	"io"
	"os"
)

var pageSize = int64(os.Getpagesize())

// mapFile reads length bytes of f at offset. A read that stops at the end
// of the file is not an error.
func mapFile(f *os.File, offset int64, length int) ([]byte, func() error, error) {
	data := make([]byte, length)
	n, err := f.ReadAt(data, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	return data[:n], nil, nil
}

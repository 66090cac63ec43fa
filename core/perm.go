// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"strings"
)

// A Perm represents the permissions allowed for a Region.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var a [3]string
	b := a[:0]
	if p&Read != 0 {
		b = append(b, "Read")
	}
	if p&Write != 0 {
		b = append(b, "Write")
	}
	if p&Exec != 0 {
		b = append(b, "Exec")
	}
	if len(b) == 0 {
		b = append(b, "None")
	}
	return strings.Join(b, "|")
}

// Short returns the permissions in the "rwx" form used by /proc/<pid>/maps.
func (p Perm) Short() string {
	b := []byte("---")
	if p&Read != 0 {
		b[0] = 'r'
	}
	if p&Write != 0 {
		b[1] = 'w'
	}
	if p&Exec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// ParsePerm parses permissions in the /proc/<pid>/maps form, e.g. "r-xp".
// Only the first three characters are significant; a trailing sharing
// flag (p or s) is accepted and ignored.
func ParsePerm(s string) (Perm, error) {
	if len(s) < 3 || len(s) > 4 {
		return 0, fmt.Errorf("bad permission string %q", s)
	}
	var p Perm
	for i, want := range [3]byte{'r', 'w', 'x'} {
		switch s[i] {
		case want:
			p |= Perm(1) << uint(i)
		case '-':
		default:
			return 0, fmt.Errorf("bad permission string %q", s)
		}
	}
	if len(s) == 4 && s[3] != 'p' && s[3] != 's' && s[3] != '-' {
		return 0, fmt.Errorf("bad permission string %q", s)
	}
	return p, nil
}

// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"strings"
)

// A Kind says what a region of memory is used for.
type Kind uint8

const (
	Unknown Kind = iota
	Heap
	Stack
	StaticData
	ReadOnlyData
	Code
)

var kindNames = [...]string{
	Unknown:      "unknown",
	Heap:         "heap",
	Stack:        "stack",
	StaticData:   "static-data",
	ReadOnlyData: "read-only-data",
	Code:         "code",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind parses the String form of a Kind. A few common aliases
// (data, rodata, text, bss) are accepted as well.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unknown", "":
		return Unknown, nil
	case "heap":
		return Heap, nil
	case "stack":
		return Stack, nil
	case "static-data", "data", "bss":
		return StaticData, nil
	case "read-only-data", "rodata":
		return ReadOnlyData, nil
	case "code", "text":
		return Code, nil
	}
	return Unknown, fmt.Errorf("unknown region kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// InferKind guesses the kind of a mapping from the name the kernel (or a
// core file's NT_FILE note) gives it and its permissions.
//
// Anonymous writable mappings are left Unknown: they may be allocator
// arenas, thread stacks or bss continuations, and nothing in the name
// distinguishes them.
func InferKind(name string, perm Perm) Kind {
	switch {
	case name == "[heap]":
		return Heap
	case strings.HasPrefix(name, "[stack"):
		return Stack
	case perm&Exec != 0:
		return Code
	case name == "" || strings.HasPrefix(name, "["):
		return Unknown
	case perm&Write != 0:
		return StaticData
	case perm&Read != 0:
		return ReadOnlyData
	}
	return Unknown
}

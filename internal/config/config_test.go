// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jproney/MemoryCartography/arch"
	"github.com/jproney/MemoryCartography/core"
	"github.com/jproney/MemoryCartography/scan"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Scan, cfg.Scan)

	opts := cfg.Scan.Options()
	assert.Equal(t, scan.DefaultOptions(), opts)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "memcart.yaml", `
scan:
  arch: arm64
  alignment: 4
  workers: 4
  treat_null_as_pointer: true
  min_confidence: medium
  sentinels: [0xfeedface, "0xdeadbeefcafebabe", 48879]
log:
  level: debug
  pretty: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
	assert.EqualValues(t, scan.DefaultValueAlignment, cfg.Scan.ValueAlignment, "unset fields keep defaults")

	opts := cfg.Scan.Options()
	assert.True(t, opts.TreatNullAsPointer)
	assert.Equal(t, scan.Medium, opts.MinConfidence)
	assert.Equal(t, []uint64{0xfeedface, 0xdeadbeefcafebabe, 0xbeef}, opts.Sentinels)

	sc, err := cfg.Scan.ScannerConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, &arch.ARM64, sc.Arch)
	assert.Equal(t, 4, sc.Alignment)
	assert.Equal(t, 4, sc.Workers)
	_, err = scan.NewScanner(sc)
	assert.NoError(t, err)

	sc, err = cfg.Scan.ScannerConfig(&arch.X86)
	require.NoError(t, err)
	assert.Equal(t, &arch.X86, sc.Arch)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvMinConfidence, "high")
	t.Setenv(EnvWorkers, "8")
	cfg, err := Load(writeFile(t, "c.yaml", "log: {level: debug}\n"))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, scan.High, cfg.Scan.Options().MinConfidence)
	assert.Equal(t, 8, cfg.Scan.Workers)

	t.Setenv(EnvWorkers, "many")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadInvalid(t *testing.T) {
	for _, test := range []struct {
		name string
		yaml string
	}{
		{"arch", "scan: {arch: vax}"},
		{"alignment", "scan: {alignment: 12}"},
		{"value alignment", "scan: {value_alignment: 3}"},
		{"workers", "scan: {workers: -1}"},
		{"confidence", "scan: {min_confidence: certain}"},
		{"level", "log: {level: loud}"},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", test.yaml))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := Load(writeFile(t, "c.yaml", "scan: [1, 2"))
	assert.ErrorContains(t, err, "failed to parse")
	_, err = Load(writeFile(t, "c.yaml", "scan: {sentinels: [zzz]}"))
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHexRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(struct {
		V Hex `yaml:"v"`
	}{0x601000})
	require.NoError(t, err)
	assert.Equal(t, "v: \"0x601000\"\n", string(out))
}

func TestLoadRegions(t *testing.T) {
	path := writeFile(t, "regions.yaml", `
pointer_size: 4
byte_order: big
regions:
  - {start: 0x2000000, end: 0x2021000, perms: rw-, name: "[heap]"}
  - {start: 0x601000, length: 0x1000, kind: static-data, perms: rw-, name: data}
  - {start: 0x400000, length: 0x1000, perms: r-x, name: /bin/prog}
  - {start: 0x402000, length: 0x1000, kind: rodata}
`)
	rm, a, err := LoadRegions(path)
	require.NoError(t, err)
	assert.Equal(t, 4, a.PointerSize)
	assert.Equal(t, binary.BigEndian, a.ByteOrder)
	require.Equal(t, 4, rm.Len())

	for _, test := range []struct {
		a    core.Address
		kind core.Kind
	}{
		{0x400010, core.Code},
		{0x402010, core.ReadOnlyData},
		{0x601ff8, core.StaticData},
		{0x2020000, core.Heap},
	} {
		k, ok := rm.ContainingKind(test.a)
		assert.True(t, ok, "%s", test.a)
		assert.Equal(t, test.kind, k, "%s", test.a)
	}
	assert.False(t, rm.Writeable(0x402010), "perms default to read-only")
}

func TestLoadRegionsInvalid(t *testing.T) {
	for _, test := range []struct {
		name string
		yaml string
	}{
		{"overlap", "regions: [{start: 0x1000, length: 0x2000}, {start: 0x2000, length: 0x1000}]"},
		{"both", "regions: [{start: 0x1000, length: 0x1000, end: 0x2000}]"},
		{"neither", "regions: [{start: 0x1000}]"},
		{"perms", "regions: [{start: 0x1000, length: 0x10, perms: rwz}]"},
		{"kind", "regions: [{start: 0x1000, length: 0x10, kind: registers}]"},
		{"overflow", "regions: [{start: 0xffffffffffffff00, length: 0x1000}]"},
		{"pointer size", "pointer_size: 2\nregions: []"},
		{"byte order", "byte_order: middle\nregions: []"},
		{"arch", "arch: vax\nregions: []"},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := LoadRegions(writeFile(t, "r.yaml", test.yaml))
			assert.Error(t, err)
		})
	}
	_, _, err := LoadRegions(writeFile(t, "r.yaml", "regions: [{start: 0x1000, length: 0x2000}, {start: 0x2000, length: 0x1000}]"))
	assert.ErrorIs(t, err, core.ErrInvalidRegionMap)
}

package sim

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceTable = `
devices:
  - name: fast
    speed: 25
    channels:
      - channel: 1
        profile: timer
        bits: 24
        resolution: 33000000
  - name: counters
    faults: [read]
    channels:
      - channel: 0
        profile: counter
        bits: 32
`

func TestLoadDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(deviceTable), 0644))
	names, err := LoadDevices(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "counters"}, names)

	fast, ok := LookupDevice("fast")
	require.True(t, ok)
	assert.Equal(t, 25.0, fast.Speed)
	assert.Equal(t, 33000000, fast.Channels[0].Resolution)
	assert.Contains(t, DeviceNames(), "tmr0")
	assert.Contains(t, DeviceNames(), "counters")
}

func TestParseDevicesErrors(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"unknown field", "devices:\n  - name: x\n    colour: red\n"},
		{"no channels", "devices:\n  - name: x\n"},
		{"bad bits", "devices:\n  - name: x\n    channels:\n      - channel: 1\n        profile: timer\n        bits: 40\n        resolution: 10\n"},
		{"no resolution", "devices:\n  - name: x\n    channels:\n      - channel: 1\n        profile: timer\n        bits: 16\n"},
		{"duplicate channel", "devices:\n  - name: x\n    channels:\n      - {channel: 1, profile: binary, bits: 1}\n      - {channel: 1, profile: binary, bits: 1}\n"},
		{"bad fault", "devices:\n  - name: x\n    faults: [explode]\n    channels:\n      - {channel: 1, profile: binary, bits: 1}\n"},
		{"no name", "devices:\n  - channels:\n      - {channel: 1, profile: binary, bits: 1}\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseDevices([]byte(test.contents))
			assert.Error(t, err)
		})
	}
}

func TestLoadDevicesMissingFile(t *testing.T) {
	_, err := LoadDevices(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

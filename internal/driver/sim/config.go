package sim

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"

	"tmrcheck/internal/driver"
	"tmrcheck/internal/util"

	"gopkg.in/yaml.v2"
)

// ChannelConfig describes one channel of a simulated device.
type ChannelConfig struct {
	Channel    int    `yaml:"channel"`
	Profile    string `yaml:"profile"`
	Bits       int    `yaml:"bits"`
	Resolution int    `yaml:"resolution"` // decrements per second, timer profile only
}

// DeviceConfig describes a simulated device.
type DeviceConfig struct {
	Name     string          `yaml:"name"`
	Speed    float64         `yaml:"speed"`  // time base speed-up relative to wall time, 0 or 1 means real time
	Faults   []string        `yaml:"faults"` // operations that always fail, e.g., "read", "register"
	Channels []ChannelConfig `yaml:"channels"`
}

type devicesFile struct {
	Devices []DeviceConfig `yaml:"devices"`
}

// Operation names accepted in DeviceConfig.Faults.
const (
	OpSetChannel = "set-channel"
	OpProfile    = "profile"
	OpBits       = "bits"
	OpResolution = "resolution"
	OpRead       = "read"
	OpWrite      = "write"
	OpRun        = "run"
	OpRunMode    = "run-mode"
	OpRegister   = "register"
	OpDeregister = "deregister"
	OpIRQ        = "irq"
	OpClose      = "close"
)

var faultOps = []string{OpSetChannel, OpProfile, OpBits, OpResolution, OpRead, OpWrite, OpRun, OpRunMode, OpRegister, OpDeregister, OpIRQ, OpClose}

// DefaultDevice is the device available without a device table.
var DefaultDevice = DeviceConfig{
	Name: "tmr0",
	Channels: []ChannelConfig{
		{Channel: 0, Profile: string(driver.ProfileBinary), Bits: 8},
		{Channel: 1, Profile: string(driver.ProfileTimer), Bits: 32, Resolution: 1000000},
		{Channel: 2, Profile: string(driver.ProfileTimer), Bits: 16, Resolution: 10000},
	},
}

var (
	catalogMu sync.RWMutex
	catalog   = map[string]DeviceConfig{DefaultDevice.Name: DefaultDevice}
)

// Validate checks a device description for consistency.
func (c DeviceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("device name cannot be empty")
	}
	if c.Speed < 0 {
		return fmt.Errorf("device %s: speed cannot be negative", c.Name)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("device %s: at least one channel is required", c.Name)
	}
	for _, fault := range c.Faults {
		if !slices.Contains(faultOps, fault) {
			return fmt.Errorf("device %s: unknown fault operation %q", c.Name, fault)
		}
	}
	seen := make(map[int]bool)
	for _, ch := range c.Channels {
		if ch.Channel < 0 {
			return fmt.Errorf("device %s: channel number %d is negative", c.Name, ch.Channel)
		}
		if seen[ch.Channel] {
			return fmt.Errorf("device %s: channel %d defined more than once", c.Name, ch.Channel)
		}
		seen[ch.Channel] = true
		if ch.Bits < 1 || ch.Bits > 32 {
			return fmt.Errorf("device %s: channel %d: bits must be between 1 and 32", c.Name, ch.Channel)
		}
		if driver.ParseProfile(ch.Profile) == driver.ProfileTimer && ch.Resolution <= 0 {
			return fmt.Errorf("device %s: channel %d: timer resolution must be greater than 0", c.Name, ch.Channel)
		}
	}
	return nil
}

// AddDevice adds or replaces a device in the catalog used by the "sim" scheme.
func AddDevice(cfg DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[cfg.Name] = cfg
	return nil
}

// LookupDevice returns the catalog entry for name.
func LookupDevice(name string) (DeviceConfig, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	cfg, ok := catalog[name]
	return cfg, ok
}

// DeviceNames returns the sorted names of all catalog devices.
func DeviceNames() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	var names []string
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDevices reads a YAML device table and adds its devices to the catalog.
func LoadDevices(path string) ([]string, error) {
	absPath, err := util.AbsPath(path)
	if err != nil {
		return nil, err
	}
	exists, err := util.FileExists(absPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("device table %s does not exist", absPath)
	}
	contents, err := os.ReadFile(absPath) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read device table: %w", err)
	}
	return ParseDevices(contents)
}

// ParseDevices parses a YAML device table and adds its devices to the catalog.
func ParseDevices(contents []byte) ([]string, error) {
	var file devicesFile
	if err := yaml.UnmarshalStrict(contents, &file); err != nil {
		return nil, fmt.Errorf("failed to parse device table: %w", err)
	}
	var names []string
	for _, cfg := range file.Devices {
		if err := AddDevice(cfg); err != nil {
			return names, err
		}
		names = append(names, cfg.Name)
	}
	return names, nil
}

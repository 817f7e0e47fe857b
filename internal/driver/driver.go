// Package driver defines the timer device interface consumed by the tmrcheck
// tools and a registry of backends that implement it.
package driver

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"tmrcheck/internal/clock"

	"github.com/pkg/errors"
)

// RunMode is the run state of a timer channel. The numeric values are the ones
// reported to the user when a start mode is set.
type RunMode int

const (
	Stopped     RunMode = 0
	OneShot     RunMode = 1
	FreeRunning RunMode = 2
)

func (m RunMode) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case OneShot:
		return "one shot"
	case FreeRunning:
		return "free running"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Valid reports whether m is one of the defined run modes.
func (m RunMode) Valid() bool {
	return m == Stopped || m == OneShot || m == FreeRunning
}

// Profile identifies the operation set a channel supports.
type Profile string

const (
	ProfileTimer   Profile = "timer"
	ProfileBinary  Profile = "binary"
	ProfileCounter Profile = "counter"
	ProfileUnknown Profile = "unknown"
)

// ParseProfile converts a profile tag into a Profile. Unrecognized tags map to
// ProfileUnknown.
func ParseProfile(tag string) Profile {
	switch p := Profile(strings.ToLower(strings.TrimSpace(tag))); p {
	case ProfileTimer, ProfileBinary, ProfileCounter:
		return p
	}
	return ProfileUnknown
}

// ElapseFunc is invoked by a device each time the countdown of the current
// channel reaches zero. It may be called from a goroutine owned by the device
// and must not block.
type ElapseFunc func()

// Device is an open handle to a timer device. Operations act on the channel
// selected with SetChannel.
type Device interface {
	SetChannel(ch int) error
	Profile() (Profile, error)
	BitWidth() (int, error)
	// Resolution returns the number of counter decrements per second.
	Resolution() (int, error)
	ReadCounter() (uint32, error)
	WritePreload(v uint32) error
	SetRunMode(m RunMode) error
	RunMode() (RunMode, error)
	RegisterElapse(fn ElapseFunc) error
	DeregisterElapse() error
	// EnableInterrupts gates delivery of elapse notifications for the whole
	// device.
	EnableInterrupts(on bool) error
	Close() error
}

// Opener opens the device identified by name. The name is what follows the
// "<scheme>:" prefix of the device argument.
type Opener func(name string) (Device, error)

var (
	ErrUnknownDevice   = errors.New("unknown device")
	ErrBadChannel      = errors.New("illegal channel")
	ErrNotSupported    = errors.New("operation not supported by channel profile")
	ErrValueRange      = errors.New("value out of range")
	ErrIllegalRunMode  = errors.New("illegal run mode")
	ErrClosed          = errors.New("device closed")
	ErrAlreadyHandling = errors.New("elapse notification already installed")
	ErrNotInstalled    = errors.New("no elapse notification installed")
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Opener)
)

// Register makes a backend available under scheme. It panics if the scheme is
// registered twice or opener is nil.
func Register(scheme string, opener Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if opener == nil {
		panic("driver: Register opener is nil")
	}
	if _, dup := registry[scheme]; dup {
		panic("driver: Register called twice for scheme " + scheme)
	}
	registry[scheme] = opener
}

// Schemes returns the sorted list of registered backend schemes.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var schemes []string
	for scheme := range registry {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// Open opens a device named "<scheme>:<name>".
func Open(device string) (Device, error) {
	scheme, name, found := strings.Cut(device, ":")
	if !found || scheme == "" || name == "" {
		return nil, &OpError{Op: "open", Device: device, Err: ErrUnknownDevice}
	}
	registryMu.RLock()
	opener, ok := registry[scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, &OpError{Op: "open", Device: device, Err: errors.Wrapf(ErrUnknownDevice, "no backend for scheme %q", scheme)}
	}
	slog.Debug("opening device", slog.String("scheme", scheme), slog.String("name", name))
	dev, err := opener(name)
	if err != nil {
		return nil, &OpError{Op: "open", Device: device, Err: err}
	}
	return dev, nil
}

// Clocked is implemented by devices whose counters run on a time base other
// than the wall clock. Code measuring such a device should use its clock.
type Clocked interface {
	Clock() clock.Clock
}

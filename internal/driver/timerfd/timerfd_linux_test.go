//go:build linux

package timerfd

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"sync/atomic"
	"testing"
	"time"

	"tmrcheck/internal/driver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDevice(t *testing.T) *Device {
	t.Helper()
	dev, err := Open("test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func TestCapabilities(t *testing.T) {
	dev := openTestDevice(t)
	require.NoError(t, dev.SetChannel(1))
	profile, err := dev.Profile()
	require.NoError(t, err)
	assert.Equal(t, driver.ProfileTimer, profile)
	bits, err := dev.BitWidth()
	require.NoError(t, err)
	assert.Equal(t, 32, bits)
	res, err := dev.Resolution()
	require.NoError(t, err)
	assert.Equal(t, 1000000, res)
	assert.ErrorIs(t, dev.SetChannel(NumChannels), driver.ErrBadChannel)
}

func TestPreloadReadBack(t *testing.T) {
	dev := openTestDevice(t)
	require.NoError(t, dev.WritePreload(123456))
	value, err := dev.ReadCounter()
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), value)
}

func TestOneShotExpires(t *testing.T) {
	dev := openTestDevice(t)
	var signals atomic.Int32
	require.NoError(t, dev.EnableInterrupts(true))
	require.NoError(t, dev.RegisterElapse(func() { signals.Add(1) }))
	require.NoError(t, dev.WritePreload(20000)) // 20 ms
	require.NoError(t, dev.SetRunMode(driver.OneShot))
	mode, err := dev.RunMode()
	require.NoError(t, err)
	assert.Equal(t, driver.OneShot, mode)

	require.Eventually(t, func() bool { return signals.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		mode, err := dev.RunMode()
		return err == nil && mode == driver.Stopped
	}, time.Second, time.Millisecond)
	value, err := dev.ReadCounter()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), value)
}

func TestStopFreezesCounter(t *testing.T) {
	dev := openTestDevice(t)
	require.NoError(t, dev.WritePreload(5000000))
	require.NoError(t, dev.SetRunMode(driver.OneShot))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, dev.SetRunMode(driver.Stopped))
	first, err := dev.ReadCounter()
	require.NoError(t, err)
	assert.Less(t, first, uint32(5000000))
	time.Sleep(20 * time.Millisecond)
	second, err := dev.ReadCounter()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFreeRunning(t *testing.T) {
	dev := openTestDevice(t)
	var signals atomic.Int32
	require.NoError(t, dev.EnableInterrupts(true))
	require.NoError(t, dev.RegisterElapse(func() { signals.Add(1) }))
	require.NoError(t, dev.WritePreload(2000)) // 2 ms
	require.NoError(t, dev.SetRunMode(driver.FreeRunning))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, dev.SetRunMode(driver.Stopped))
	assert.InDelta(t, 50, signals.Load(), 15)
}

func TestFreeRunningNeedsPreload(t *testing.T) {
	dev := openTestDevice(t)
	assert.ErrorIs(t, dev.SetRunMode(driver.FreeRunning), driver.ErrValueRange)
}

func TestClose(t *testing.T) {
	dev, err := Open("close")
	require.NoError(t, err)
	require.NoError(t, dev.Close())
	assert.ErrorIs(t, dev.Close(), driver.ErrClosed)
}

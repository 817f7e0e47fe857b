package sim

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tmrcheck/internal/clock"
	"tmrcheck/internal/driver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, speed float64) *Device {
	t.Helper()
	dev, err := New(DefaultDevice, clock.NewScaled(speed))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	require.NoError(t, dev.SetChannel(1))
	return dev
}

func TestPreloadReadBack(t *testing.T) {
	dev := newTestDevice(t, 1)
	for _, v := range []uint32{0, 1, 1000, 0x7fffffff, 0xffffffff} {
		require.NoError(t, dev.WritePreload(v))
		got, err := dev.ReadCounter()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestPreloadOutOfRange(t *testing.T) {
	dev := newTestDevice(t, 1)
	require.NoError(t, dev.SetChannel(2)) // 16 bit
	require.NoError(t, dev.WritePreload(0xffff))
	err := dev.WritePreload(0x10000)
	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrValueRange)
}

func TestChannelProfiles(t *testing.T) {
	dev := newTestDevice(t, 1)
	require.NoError(t, dev.SetChannel(0))
	profile, err := dev.Profile()
	require.NoError(t, err)
	assert.Equal(t, driver.ProfileBinary, profile)
	bits, err := dev.BitWidth()
	require.NoError(t, err)
	assert.Equal(t, 8, bits)
	_, err = dev.Resolution()
	assert.ErrorIs(t, err, driver.ErrNotSupported)
	assert.ErrorIs(t, dev.WritePreload(1), driver.ErrNotSupported)

	err = dev.SetChannel(9)
	assert.ErrorIs(t, err, driver.ErrBadChannel)
}

func TestOneShotSignalsOnceAndStops(t *testing.T) {
	dev := newTestDevice(t, 50)
	var signals atomic.Int32
	require.NoError(t, dev.EnableInterrupts(true))
	require.NoError(t, dev.RegisterElapse(func() { signals.Add(1) }))

	resolution, err := dev.Resolution()
	require.NoError(t, err)
	require.NoError(t, dev.WritePreload(uint32(resolution/10))) // 100 ms
	start := dev.Clock().Now()
	require.NoError(t, dev.SetRunMode(driver.OneShot))

	require.Eventually(t, func() bool { return signals.Load() > 0 }, 2*time.Second, time.Millisecond)
	elapsed := dev.Clock().Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)

	mode, err := dev.RunMode()
	require.NoError(t, err)
	assert.Equal(t, driver.Stopped, mode)
	value, err := dev.ReadCounter()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), value)

	// no further notifications after the single underflow
	dev.Clock().Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), signals.Load())
}

// manualClock only moves when told to. Timers returned by After fire on fire,
// not when the time passes their deadline.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []manualTimer
}

type manualTimer struct {
	deadline time.Time
	ch       chan time.Time
}

var _ clock.Clock = (*manualClock)(nil)

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(0, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.timers = append(c.timers, manualTimer{deadline: c.now.Add(d), ch: ch})
	return ch
}

func (c *manualClock) Sleep(d time.Duration) {
	<-c.After(d)
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fire releases the timers whose deadline has passed.
func (c *manualClock) fire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.timers[:0]
	for _, timer := range c.timers {
		if timer.deadline.After(c.now) {
			kept = append(kept, timer)
			continue
		}
		timer.ch <- c.now
	}
	c.timers = kept
}

func TestLateOneShotDeliveryKeepsNewPreload(t *testing.T) {
	clk := newManualClock()
	dev, err := New(DefaultDevice, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	require.NoError(t, dev.SetChannel(1))
	var signals atomic.Int32
	require.NoError(t, dev.EnableInterrupts(true))
	require.NoError(t, dev.RegisterElapse(func() { signals.Add(1) }))

	require.NoError(t, dev.WritePreload(1000)) // 1 ms
	require.NoError(t, dev.SetRunMode(driver.OneShot))
	require.Eventually(t, func() bool { return clk.pending() == 1 }, time.Second, time.Millisecond)
	clk.advance(5 * time.Millisecond)

	mode, err := dev.RunMode()
	require.NoError(t, err)
	require.Equal(t, driver.Stopped, mode)
	require.NoError(t, dev.WritePreload(500000))

	clk.fire()
	require.Eventually(t, func() bool { return signals.Load() == 1 }, time.Second, time.Millisecond)
	value, err := dev.ReadCounter()
	require.NoError(t, err)
	assert.Equal(t, uint32(500000), value)
	mode, err = dev.RunMode()
	require.NoError(t, err)
	assert.Equal(t, driver.Stopped, mode)
}

func TestStopFreezesCounter(t *testing.T) {
	dev := newTestDevice(t, 20)
	require.NoError(t, dev.WritePreload(0xffffffff))
	require.NoError(t, dev.SetRunMode(driver.OneShot))
	dev.Clock().Sleep(50 * time.Millisecond)
	running, err := dev.ReadCounter()
	require.NoError(t, err)
	assert.Less(t, running, uint32(0xffffffff))

	require.NoError(t, dev.SetRunMode(driver.Stopped))
	first, err := dev.ReadCounter()
	require.NoError(t, err)
	dev.Clock().Sleep(100 * time.Millisecond)
	second, err := dev.ReadCounter()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	mode, err := dev.RunMode()
	require.NoError(t, err)
	assert.Equal(t, driver.Stopped, mode)
}

func TestFreeRunningSignalRate(t *testing.T) {
	dev := newTestDevice(t, 20)
	var signals atomic.Int32
	require.NoError(t, dev.EnableInterrupts(true))
	require.NoError(t, dev.RegisterElapse(func() { signals.Add(1) }))
	resolution, err := dev.Resolution()
	require.NoError(t, err)
	require.NoError(t, dev.WritePreload(uint32(resolution/100)))
	require.NoError(t, dev.SetRunMode(driver.FreeRunning))

	start := dev.Clock().Now()
	dev.Clock().Sleep(time.Second)
	count := signals.Load()
	elapsed := dev.Clock().Since(start)
	require.NoError(t, dev.SetRunMode(driver.Stopped))

	expected := int32(elapsed / (10 * time.Millisecond))
	assert.InDelta(t, expected, count, 10)
	assert.InDelta(t, 100, count, 30)
}

func TestNotificationsGatedByInterruptEnable(t *testing.T) {
	dev := newTestDevice(t, 50)
	var signals atomic.Int32
	require.NoError(t, dev.RegisterElapse(func() { signals.Add(1) }))
	require.NoError(t, dev.WritePreload(1000))
	require.NoError(t, dev.SetRunMode(driver.FreeRunning))
	dev.Clock().Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), signals.Load())
}

func TestFreeRunningNeedsPreload(t *testing.T) {
	dev := newTestDevice(t, 1)
	require.NoError(t, dev.WritePreload(0))
	assert.ErrorIs(t, dev.SetRunMode(driver.FreeRunning), driver.ErrValueRange)
	assert.ErrorIs(t, dev.SetRunMode(driver.RunMode(5)), driver.ErrIllegalRunMode)
}

func TestElapseRegistration(t *testing.T) {
	dev := newTestDevice(t, 1)
	assert.ErrorIs(t, dev.DeregisterElapse(), driver.ErrNotInstalled)
	require.NoError(t, dev.RegisterElapse(func() {}))
	assert.ErrorIs(t, dev.RegisterElapse(func() {}), driver.ErrAlreadyHandling)
	require.NoError(t, dev.DeregisterElapse())
}

func TestCloseRejectsFurtherCalls(t *testing.T) {
	dev, err := New(DefaultDevice, clock.Real())
	require.NoError(t, err)
	require.NoError(t, dev.SetChannel(1))
	require.NoError(t, dev.WritePreload(1000))
	require.NoError(t, dev.SetRunMode(driver.FreeRunning))
	require.NoError(t, dev.Close())
	assert.ErrorIs(t, dev.Close(), driver.ErrClosed)
	_, err = dev.ReadCounter()
	assert.ErrorIs(t, err, driver.ErrClosed)
}

func TestFaults(t *testing.T) {
	cfg := DefaultDevice
	cfg.Name = "faulty"
	cfg.Faults = []string{OpRead, OpClose}
	dev, err := New(cfg, clock.Real())
	require.NoError(t, err)
	require.NoError(t, dev.SetChannel(1))
	_, err = dev.ReadCounter()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated fault")
	require.NoError(t, dev.WritePreload(5))
	assert.Error(t, dev.Close())
	assert.ErrorIs(t, dev.Close(), driver.ErrClosed)
}

func TestOpenThroughRegistry(t *testing.T) {
	dev, err := driver.Open("sim:tmr0")
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	_, err = driver.Open("sim:nosuchdevice")
	assert.ErrorIs(t, err, driver.ErrUnknownDevice)
}

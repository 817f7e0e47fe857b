// Package sim implements a software timer device. It behaves like a
// decrementing hardware timer with a preload register, one-shot and
// free-running modes, and an elapse notification on every underflow.
package sim

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"tmrcheck/internal/clock"
	"tmrcheck/internal/driver"

	"github.com/pkg/errors"
)

// Scheme is the device name prefix handled by this package.
const Scheme = "sim"

var errFault = errors.New("simulated fault")

func init() {
	driver.Register(Scheme, Open)
}

// Open opens the catalog device called name.
func Open(name string) (driver.Device, error) {
	cfg, ok := LookupDevice(name)
	if !ok {
		return nil, errors.Wrapf(driver.ErrUnknownDevice, "no simulated device %q", name)
	}
	var clk clock.Clock = clock.Real()
	if cfg.Speed > 1 {
		clk = clock.NewScaled(cfg.Speed)
	}
	return New(cfg, clk)
}

type channel struct {
	number     int
	profile    driver.Profile
	bits       int
	resolution uint64
	maxValue   uint32

	preload uint32 // preload register
	active  uint32 // preload in effect for the current run
	latched uint32 // counter value while stopped
	mode    driver.RunMode
	start   time.Time
	gen     uint64
	cancel  chan struct{}

	onElapse driver.ElapseFunc
}

// Device is a simulated timer device.
type Device struct {
	name   string
	clk    clock.Clock
	faults []string

	mu       sync.Mutex
	channels map[int]*channel
	current  *channel
	irq      bool
	closed   bool
	wg       sync.WaitGroup
}

var _ driver.Device = (*Device)(nil)
var _ driver.Clocked = (*Device)(nil)

// New creates a device from cfg running on clk.
func New(cfg DeviceConfig, clk clock.Clock) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Device{
		name:     cfg.Name,
		clk:      clk,
		faults:   cfg.Faults,
		channels: make(map[int]*channel),
	}
	numbers := make([]int, 0, len(cfg.Channels))
	for _, chCfg := range cfg.Channels {
		ch := &channel{
			number:     chCfg.Channel,
			profile:    driver.ParseProfile(chCfg.Profile),
			bits:       chCfg.Bits,
			resolution: uint64(chCfg.Resolution),
			maxValue:   uint32(uint64(1)<<uint(chCfg.Bits) - 1),
			cancel:     make(chan struct{}),
		}
		d.channels[ch.number] = ch
		numbers = append(numbers, ch.number)
	}
	sort.Ints(numbers)
	d.current = d.channels[numbers[0]]
	slog.Debug("simulated device created", slog.String("device", cfg.Name), slog.Int("channels", len(numbers)))
	return d, nil
}

// Clock returns the time base the device counts on.
func (d *Device) Clock() clock.Clock {
	return d.clk
}

func (d *Device) fault(op string) error {
	if slices.Contains(d.faults, op) {
		return errors.Wrapf(errFault, "%s", op)
	}
	return nil
}

// lock acquires the device lock and checks that the device is usable.
func (d *Device) lock(op string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return driver.ErrClosed
	}
	if err := d.fault(op); err != nil {
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *Device) timerLocked() (*channel, error) {
	ch := d.current
	if ch.profile != driver.ProfileTimer {
		return nil, errors.Wrapf(driver.ErrNotSupported, "channel %d has %s profile", ch.number, ch.profile)
	}
	return ch, nil
}

func (d *Device) SetChannel(number int) error {
	if err := d.lock(OpSetChannel); err != nil {
		return err
	}
	defer d.mu.Unlock()
	ch, ok := d.channels[number]
	if !ok {
		return errors.Wrapf(driver.ErrBadChannel, "channel %d", number)
	}
	d.current = ch
	return nil
}

func (d *Device) Profile() (driver.Profile, error) {
	if err := d.lock(OpProfile); err != nil {
		return driver.ProfileUnknown, err
	}
	defer d.mu.Unlock()
	return d.current.profile, nil
}

func (d *Device) BitWidth() (int, error) {
	if err := d.lock(OpBits); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()
	return d.current.bits, nil
}

func (d *Device) Resolution() (int, error) {
	if err := d.lock(OpResolution); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()
	ch, err := d.timerLocked()
	if err != nil {
		return 0, err
	}
	return int(ch.resolution), nil
}

// ticksSince converts the time elapsed since start into counter decrements.
func (d *Device) ticksSince(ch *channel, start time.Time) uint64 {
	elapsed := d.clk.Since(start)
	if elapsed <= 0 {
		return 0
	}
	secs := uint64(elapsed / time.Second)
	frac := uint64(elapsed % time.Second)
	return secs*ch.resolution + frac*ch.resolution/uint64(time.Second)
}

// counterLocked returns the live counter value and retires an expired one-shot
// run.
func (d *Device) counterLocked(ch *channel) uint32 {
	switch ch.mode {
	case driver.OneShot:
		ticks := d.ticksSince(ch, ch.start)
		if ticks >= uint64(ch.active) {
			ch.mode = driver.Stopped
			ch.latched = 0
			return 0
		}
		return ch.active - uint32(ticks)
	case driver.FreeRunning:
		ticks := d.ticksSince(ch, ch.start)
		return ch.active - uint32(ticks%uint64(ch.active))
	}
	return ch.latched
}

func (d *Device) ReadCounter() (uint32, error) {
	if err := d.lock(OpRead); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()
	ch, err := d.timerLocked()
	if err != nil {
		return 0, err
	}
	return d.counterLocked(ch), nil
}

// WritePreload sets the preload register. While the channel is stopped the
// counter is loaded as well; a running channel picks up the new value on its
// next start.
func (d *Device) WritePreload(v uint32) error {
	if err := d.lock(OpWrite); err != nil {
		return err
	}
	defer d.mu.Unlock()
	ch, err := d.timerLocked()
	if err != nil {
		return err
	}
	if v > ch.maxValue {
		return errors.Wrapf(driver.ErrValueRange, "preload 0x%x exceeds 0x%x", v, ch.maxValue)
	}
	ch.preload = v
	d.counterLocked(ch)
	if ch.mode == driver.Stopped {
		ch.latched = v
	}
	return nil
}

func (d *Device) SetRunMode(m driver.RunMode) error {
	if err := d.lock(OpRun); err != nil {
		return err
	}
	defer d.mu.Unlock()
	ch, err := d.timerLocked()
	if err != nil {
		return err
	}
	if !m.Valid() {
		return errors.Wrapf(driver.ErrIllegalRunMode, "%d", int(m))
	}
	if m == driver.FreeRunning && ch.preload == 0 {
		return errors.Wrap(driver.ErrValueRange, "free running mode needs a preload greater than 0")
	}
	latched := d.counterLocked(ch)
	d.retireLocked(ch)
	if m == driver.Stopped {
		ch.latched = latched
		ch.mode = driver.Stopped
		return nil
	}
	ch.mode = m
	ch.active = ch.preload
	ch.start = d.clk.Now()
	period := periodOf(ch.active, ch.resolution)
	d.wg.Add(1)
	go d.deliver(ch, ch.gen, ch.start, period, m == driver.FreeRunning, ch.cancel)
	return nil
}

func (d *Device) RunMode() (driver.RunMode, error) {
	if err := d.lock(OpRunMode); err != nil {
		return driver.Stopped, err
	}
	defer d.mu.Unlock()
	ch, err := d.timerLocked()
	if err != nil {
		return driver.Stopped, err
	}
	d.counterLocked(ch)
	return ch.mode, nil
}

func (d *Device) RegisterElapse(fn driver.ElapseFunc) error {
	if err := d.lock(OpRegister); err != nil {
		return err
	}
	defer d.mu.Unlock()
	ch, err := d.timerLocked()
	if err != nil {
		return err
	}
	if fn == nil {
		return errors.New("elapse function cannot be nil")
	}
	if ch.onElapse != nil {
		return driver.ErrAlreadyHandling
	}
	ch.onElapse = fn
	return nil
}

func (d *Device) DeregisterElapse() error {
	if err := d.lock(OpDeregister); err != nil {
		return err
	}
	defer d.mu.Unlock()
	ch, err := d.timerLocked()
	if err != nil {
		return err
	}
	if ch.onElapse == nil {
		return driver.ErrNotInstalled
	}
	ch.onElapse = nil
	return nil
}

func (d *Device) EnableInterrupts(on bool) error {
	if err := d.lock(OpIRQ); err != nil {
		return err
	}
	defer d.mu.Unlock()
	d.irq = on
	return nil
}

// Close stops all channels and waits for notification delivery to end. The
// device is released even when a close fault is configured.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return driver.ErrClosed
	}
	d.closed = true
	for _, ch := range d.channels {
		d.counterLocked(ch)
		d.retireLocked(ch)
		ch.onElapse = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
	slog.Debug("simulated device closed", slog.String("device", d.name))
	return d.fault(OpClose)
}

// retireLocked ends the delivery goroutine of the current run, if any.
func (d *Device) retireLocked(ch *channel) {
	ch.gen++
	close(ch.cancel)
	ch.cancel = make(chan struct{})
}

// periodOf returns the time it takes to count down preload ticks, rounded up
// so the counter reads zero when the period ends.
func periodOf(preload uint32, resolution uint64) time.Duration {
	ns := (uint64(preload)*uint64(time.Second) + resolution - 1) / resolution
	return time.Duration(ns)
}

// deliver raises the elapse notifications of one run. Underflows missed while
// the goroutine was not scheduled are delivered on the next wakeup so the
// number of notifications always matches the elapsed time.
func (d *Device) deliver(ch *channel, gen uint64, start time.Time, period time.Duration, periodic bool, cancel <-chan struct{}) {
	defer d.wg.Done()
	var delivered int64
	for {
		next := start.Add(time.Duration(delivered+1) * period)
		select {
		case <-cancel:
			return
		case <-d.clk.After(next.Sub(d.clk.Now())):
		}
		d.mu.Lock()
		if ch.gen != gen {
			d.mu.Unlock()
			return
		}
		var due int64 = 1
		if periodic {
			due = int64(d.clk.Since(start)/period) - delivered
			if due < 1 {
				d.mu.Unlock()
				continue
			}
		} else if ch.mode == driver.OneShot {
			// a read may already have retired the run and a preload been written since
			ch.mode = driver.Stopped
			ch.latched = 0
		}
		delivered += due
		fn := ch.onElapse
		enabled := d.irq
		d.mu.Unlock()
		if fn != nil && enabled {
			for range due {
				fn()
			}
		}
		if !periodic {
			return
		}
	}
}

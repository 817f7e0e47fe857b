//go:build linux

package timerfd

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"tmrcheck/internal/driver"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Scheme is the device name prefix handled by this package.
const Scheme = "timerfd"

const (
	NumChannels = 4
	BitWidth    = 32
	Resolution  = 1000000 // microsecond ticks
	tickNanos   = int64(time.Second) / Resolution
)

func init() {
	driver.Register(Scheme, func(name string) (driver.Device, error) {
		return Open(name)
	})
}

type channel struct {
	number   int
	file     *os.File
	fd       int
	preload  uint32
	latched  uint32
	mode     driver.RunMode
	onElapse driver.ElapseFunc
}

// Device is a set of timerfd-backed timer channels.
type Device struct {
	name string

	mu       sync.Mutex
	channels []*channel
	current  *channel
	irq      bool
	closed   bool
	wg       sync.WaitGroup
}

var _ driver.Device = (*Device)(nil)

// Open creates the timer descriptors of a device. The name only labels the
// device in logs.
func Open(name string) (*Device, error) {
	d := &Device{name: name}
	for n := range NumChannels {
		fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
		if err != nil {
			d.closeFiles()
			return nil, errors.Wrap(err, "timerfd_create")
		}
		ch := &channel{
			number: n,
			fd:     fd,
			file:   os.NewFile(uintptr(fd), fmt.Sprintf("timerfd:%s/%d", name, n)),
		}
		d.channels = append(d.channels, ch)
	}
	d.current = d.channels[0]
	for _, ch := range d.channels {
		d.wg.Add(1)
		go d.readExpirations(ch)
	}
	slog.Debug("timerfd device opened", slog.String("device", name), slog.Int("channels", NumChannels))
	return d, nil
}

func (d *Device) closeFiles() {
	for _, ch := range d.channels {
		_ = ch.file.Close()
	}
}

// readExpirations blocks on the descriptor through the runtime poller until
// the file is closed.
func (d *Device) readExpirations(ch *channel) {
	defer d.wg.Done()
	buf := make([]byte, 8)
	for {
		n, err := ch.file.Read(buf)
		if err != nil {
			if !errors.Is(err, os.ErrClosed) {
				slog.Error("timerfd read failed", slog.String("device", d.name), slog.Int("channel", ch.number), slog.String("error", err.Error()))
			}
			return
		}
		if n != len(buf) {
			continue
		}
		expirations := binary.NativeEndian.Uint64(buf)
		d.mu.Lock()
		if ch.mode == driver.OneShot {
			ch.mode = driver.Stopped
			ch.latched = 0
		}
		fn := ch.onElapse
		enabled := d.irq
		d.mu.Unlock()
		if fn != nil && enabled {
			for range expirations {
				fn()
			}
		}
	}
}

func (d *Device) lock() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return driver.ErrClosed
	}
	return nil
}

func (d *Device) SetChannel(number int) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if number < 0 || number >= len(d.channels) {
		return errors.Wrapf(driver.ErrBadChannel, "channel %d", number)
	}
	d.current = d.channels[number]
	return nil
}

func (d *Device) Profile() (driver.Profile, error) {
	if err := d.lock(); err != nil {
		return driver.ProfileUnknown, err
	}
	defer d.mu.Unlock()
	return driver.ProfileTimer, nil
}

func (d *Device) BitWidth() (int, error) {
	if err := d.lock(); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()
	return BitWidth, nil
}

func (d *Device) Resolution() (int, error) {
	if err := d.lock(); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()
	return Resolution, nil
}

// remainingLocked returns the ticks left until the next expiration.
func (d *Device) remainingLocked(ch *channel) (uint32, error) {
	var spec unix.ItimerSpec
	if err := unix.TimerfdGettime(ch.fd, &spec); err != nil {
		return 0, errors.Wrap(err, "timerfd_gettime")
	}
	ns := spec.Value.Nano()
	return uint32((ns + tickNanos - 1) / tickNanos), nil
}

func (d *Device) counterLocked(ch *channel) (uint32, error) {
	if ch.mode == driver.Stopped {
		return ch.latched, nil
	}
	remaining, err := d.remainingLocked(ch)
	if err != nil {
		return 0, err
	}
	if remaining == 0 && ch.mode == driver.OneShot {
		ch.mode = driver.Stopped
		ch.latched = 0
	}
	return remaining, nil
}

func (d *Device) ReadCounter() (uint32, error) {
	if err := d.lock(); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()
	return d.counterLocked(d.current)
}

func (d *Device) WritePreload(v uint32) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	ch := d.current
	ch.preload = v
	if _, err := d.counterLocked(ch); err != nil {
		return err
	}
	if ch.mode == driver.Stopped {
		ch.latched = v
	}
	return nil
}

func ticksToTimespec(ticks uint32) unix.Timespec {
	return unix.NsecToTimespec(int64(ticks) * tickNanos)
}

func (d *Device) SetRunMode(m driver.RunMode) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	ch := d.current
	var spec unix.ItimerSpec
	switch m {
	case driver.Stopped:
		latched, err := d.counterLocked(ch)
		if err != nil {
			return err
		}
		if err := unix.TimerfdSettime(ch.fd, 0, &spec, nil); err != nil {
			return errors.Wrap(err, "timerfd_settime")
		}
		ch.latched = latched
		ch.mode = driver.Stopped
		return nil
	case driver.OneShot:
		spec.Value = ticksToTimespec(ch.preload)
		if ch.preload == 0 {
			// a zero value disarms the timer, expire as soon as possible instead
			spec.Value = unix.NsecToTimespec(1)
		}
	case driver.FreeRunning:
		if ch.preload == 0 {
			return errors.Wrap(driver.ErrValueRange, "free running mode needs a preload greater than 0")
		}
		spec.Value = ticksToTimespec(ch.preload)
		spec.Interval = spec.Value
	default:
		return errors.Wrapf(driver.ErrIllegalRunMode, "%d", int(m))
	}
	if err := unix.TimerfdSettime(ch.fd, 0, &spec, nil); err != nil {
		return errors.Wrap(err, "timerfd_settime")
	}
	ch.mode = m
	return nil
}

func (d *Device) RunMode() (driver.RunMode, error) {
	if err := d.lock(); err != nil {
		return driver.Stopped, err
	}
	defer d.mu.Unlock()
	ch := d.current
	if _, err := d.counterLocked(ch); err != nil {
		return driver.Stopped, err
	}
	return ch.mode, nil
}

func (d *Device) RegisterElapse(fn driver.ElapseFunc) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if fn == nil {
		return errors.New("elapse function cannot be nil")
	}
	if d.current.onElapse != nil {
		return driver.ErrAlreadyHandling
	}
	d.current.onElapse = fn
	return nil
}

func (d *Device) DeregisterElapse() error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if d.current.onElapse == nil {
		return driver.ErrNotInstalled
	}
	d.current.onElapse = nil
	return nil
}

func (d *Device) EnableInterrupts(on bool) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	d.irq = on
	return nil
}

// Close disarms and releases all descriptors and waits for the expiration
// readers to exit.
func (d *Device) Close() error {
	if err := d.lock(); err != nil {
		return err
	}
	d.closed = true
	var firstErr error
	for _, ch := range d.channels {
		ch.onElapse = nil
		if err := ch.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close channel %d", ch.number)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
	slog.Debug("timerfd device closed", slog.String("device", d.name))
	return firstErr
}

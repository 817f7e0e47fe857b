// Package serial reaches a timer implemented on a microcontroller over a
// serial line. The firmware speaks a line protocol: every request carries a
// "#<tag>" prefix and is answered with "#<tag> OK [value]" or "#<tag> ERR text".
// Underflows of channels with an installed notification are reported with
// unsolicited "!ELAPSED <channel>" lines.
package serial

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"tmrcheck/internal/driver"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Scheme is the device name prefix handled by this package.
const Scheme = "serial"

const (
	DefaultBaud    = 115200
	DefaultTimeout = 2 * time.Second
	elapsedPrefix  = "!ELAPSED"
	tagPrefix      = "#"
)

var errNoReply = errors.New("no reply from device")

func init() {
	driver.Register(Scheme, func(name string) (driver.Device, error) {
		return Open(name)
	})
}

// ParseName splits "<port>[@<baud>]" into the port path and baud rate.
func ParseName(name string) (port string, baud int, err error) {
	port, baudStr, found := strings.Cut(name, "@")
	if port == "" {
		return "", 0, errors.New("serial port name cannot be empty")
	}
	if !found {
		return port, DefaultBaud, nil
	}
	baud, err = strconv.Atoi(baudStr)
	if err != nil || baud <= 0 {
		return "", 0, errors.Errorf("invalid baud rate %q", baudStr)
	}
	return port, baud, nil
}

// Open opens the serial port described by name, see ParseName.
func Open(name string) (*Device, error) {
	portName, baud, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        portName,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", portName)
	}
	slog.Debug("serial timer port opened", slog.String("port", portName), slog.Int("baud", baud))
	return NewDevice(port, DefaultTimeout), nil
}

// Device is a timer device behind a serial connection.
type Device struct {
	port    io.ReadWriteCloser
	timeout time.Duration

	reqMu   sync.Mutex // serializes request/reply exchanges
	replies chan string

	mu       sync.Mutex
	tag      uint64 // tag of the last request
	waiting  uint64 // tag of the request awaiting its reply, 0 if none
	current  int
	handlers map[int]driver.ElapseFunc
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

var _ driver.Device = (*Device)(nil)

// NewDevice starts talking to the firmware on port. Replies that take longer
// than timeout fail the request.
func NewDevice(port io.ReadWriteCloser, timeout time.Duration) *Device {
	d := &Device{
		port:     port,
		timeout:  timeout,
		replies:  make(chan string, 1),
		handlers: make(map[int]driver.ElapseFunc),
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.readLines()
	return d
}

// readLines splits the incoming byte stream into lines. Read timeouts of the
// port surface as empty reads and are ignored.
func (d *Device) readLines() {
	defer d.wg.Done()
	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := d.port.Read(buf)
		pending = append(pending, buf[:n]...)
		for {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := strings.TrimSpace(string(pending[:idx]))
			pending = pending[idx+1:]
			if line != "" {
				d.dispatch(line)
			}
		}
		if err != nil {
			select {
			case <-d.done:
				return
			default:
			}
			if errors.Is(err, io.EOF) && n == 0 {
				continue
			}
			slog.Error("serial read failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (d *Device) dispatch(line string) {
	if strings.HasPrefix(line, elapsedPrefix) {
		channel, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, elapsedPrefix)))
		if err != nil {
			slog.Warn("malformed elapse notification", slog.String("line", line))
			return
		}
		d.mu.Lock()
		fn := d.handlers[channel]
		d.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	tagged, found := strings.CutPrefix(line, tagPrefix)
	tagStr, reply, _ := strings.Cut(tagged, " ")
	tag, err := strconv.ParseUint(tagStr, 10, 64)
	if !found || err != nil || tag == 0 {
		slog.Warn("unexpected reply from device", slog.String("line", line))
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if tag != d.waiting {
		slog.Warn("discarding late reply from device", slog.String("line", line))
		return
	}
	select {
	case d.replies <- reply:
	default:
		slog.Warn("duplicate reply from device", slog.String("line", line))
	}
}

// request sends one command and returns the value part of an OK reply.
func (d *Device) request(format string, args ...any) (string, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return "", driver.ErrClosed
	}
	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	d.mu.Lock()
	d.tag++
	tag := d.tag
	d.waiting = tag
	d.mu.Unlock()
	defer d.endExchange()
	cmd := fmt.Sprintf(format, args...)
	if _, err := fmt.Fprintf(d.port, "%s%d %s\n", tagPrefix, tag, cmd); err != nil {
		return "", errors.Wrapf(err, "write %q", cmd)
	}
	select {
	case line := <-d.replies:
		status, value, _ := strings.Cut(line, " ")
		switch status {
		case "OK":
			return strings.TrimSpace(value), nil
		case "ERR":
			return "", errors.Errorf("%s", strings.TrimSpace(value))
		}
		return "", errors.Errorf("malformed reply %q to %q", line, cmd)
	case <-time.After(d.timeout):
		return "", errors.Wrapf(errNoReply, "%q", cmd)
	}
}

// endExchange stops accepting replies for the current request. A reply that
// was accepted but not received before the timeout is dropped here.
func (d *Device) endExchange() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waiting = 0
	select {
	case <-d.replies:
	default:
	}
}

func (d *Device) requestInt(format string, args ...any) (int64, error) {
	value, err := d.request(format, args...)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed value %q", value)
	}
	return n, nil
}

func (d *Device) SetChannel(ch int) error {
	if _, err := d.request("CH %d", ch); err != nil {
		return err
	}
	d.mu.Lock()
	d.current = ch
	d.mu.Unlock()
	return nil
}

func (d *Device) Profile() (driver.Profile, error) {
	tag, err := d.request("PROF?")
	if err != nil {
		return driver.ProfileUnknown, err
	}
	return driver.ParseProfile(tag), nil
}

func (d *Device) BitWidth() (int, error) {
	bits, err := d.requestInt("BITS?")
	return int(bits), err
}

func (d *Device) Resolution() (int, error) {
	res, err := d.requestInt("RES?")
	return int(res), err
}

func (d *Device) ReadCounter() (uint32, error) {
	value, err := d.requestInt("CNT?")
	if err != nil {
		return 0, err
	}
	if value < 0 || value > 0xffffffff {
		return 0, errors.Wrapf(driver.ErrValueRange, "counter %d", value)
	}
	return uint32(value), nil
}

func (d *Device) WritePreload(v uint32) error {
	_, err := d.request("PRE %d", v)
	return err
}

func (d *Device) SetRunMode(m driver.RunMode) error {
	if !m.Valid() {
		return errors.Wrapf(driver.ErrIllegalRunMode, "%d", int(m))
	}
	_, err := d.request("RUN %d", int(m))
	return err
}

func (d *Device) RunMode() (driver.RunMode, error) {
	mode, err := d.requestInt("RUN?")
	if err != nil {
		return driver.Stopped, err
	}
	return driver.RunMode(mode), nil
}

func (d *Device) RegisterElapse(fn driver.ElapseFunc) error {
	if fn == nil {
		return errors.New("elapse function cannot be nil")
	}
	d.mu.Lock()
	ch := d.current
	_, installed := d.handlers[ch]
	d.mu.Unlock()
	if installed {
		return driver.ErrAlreadyHandling
	}
	if _, err := d.request("SIG 1"); err != nil {
		return err
	}
	d.mu.Lock()
	d.handlers[ch] = fn
	d.mu.Unlock()
	return nil
}

func (d *Device) DeregisterElapse() error {
	d.mu.Lock()
	ch := d.current
	_, installed := d.handlers[ch]
	d.mu.Unlock()
	if !installed {
		return driver.ErrNotInstalled
	}
	_, err := d.request("SIG 0")
	d.mu.Lock()
	delete(d.handlers, ch)
	d.mu.Unlock()
	return err
}

func (d *Device) EnableInterrupts(on bool) error {
	flag := 0
	if on {
		flag = 1
	}
	_, err := d.request("IRQ %d", flag)
	return err
}

// Close closes the port and waits for the line reader to exit.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return driver.ErrClosed
	}
	d.closed = true
	d.handlers = make(map[int]driver.ElapseFunc)
	d.mu.Unlock()
	close(d.done)
	err := d.port.Close()
	d.wg.Wait()
	return err
}

// Package monitor drives a timer channel interactively: it applies the
// requested preload and run mode and then shows the counter until stopped.
package monitor

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"tmrcheck/internal/clock"
	"tmrcheck/internal/driver"
	"tmrcheck/internal/verify"
)

// DefaultInterval is the pause between two status lines.
const DefaultInterval = 50 * time.Millisecond

// State is one sample of the timer.
type State struct {
	Counter uint32
	Mode    driver.RunMode
	Signals int64 // notifications since the previous sample
}

// String formats the status line.
func (s State) String() string {
	sig := ""
	if s.Signals != 0 {
		sig = "*SIG*"
	}
	return fmt.Sprintf("TMR=0x%08x state=%s %s", s.Counter, s.Mode, sig)
}

type Options struct {
	Channel    int
	Signal     bool            // install the elapse notification
	Preload    *uint32         // written when set
	StartMode  *driver.RunMode // applied when set
	Interval   time.Duration
	Iterations int             // status lines after the actions, 0 shows until stopped
	Stop       <-chan struct{} // closed or sent to when the user presses a key
	Out        io.Writer
	ErrOut     io.Writer
	Clock      clock.Clock
	Open       driver.Opener
	OnState    func(State)
}

type Monitor struct {
	opts Options
}

func New(opts Options) (*Monitor, error) {
	if opts.Channel < 0 {
		return nil, fmt.Errorf("channel cannot be negative: %d", opts.Channel)
	}
	if opts.Iterations < 0 {
		return nil, fmt.Errorf("iterations cannot be negative: %d", opts.Iterations)
	}
	if opts.StartMode != nil && !opts.StartMode.Valid() {
		return nil, fmt.Errorf("invalid start mode %d", int(*opts.StartMode))
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ErrOut == nil {
		opts.ErrOut = os.Stderr
	}
	if opts.Open == nil {
		opts.Open = driver.Open
	}
	if opts.OnState == nil {
		opts.OnState = func(State) {}
	}
	return &Monitor{opts: opts}, nil
}

type session struct {
	opts    Options
	dev     driver.Device
	clk     clock.Clock
	counter *verify.SignalCounter
}

// Run opens device and drives it until the stop channel fires, the requested
// number of status lines was shown, or ctx is done. The error is non-nil only
// when the device could not be opened.
func (m *Monitor) Run(ctx context.Context, device string) error {
	s := &session{opts: m.opts, counter: verify.NewSignalCounter()}
	dev, err := m.opts.Open(device)
	if err != nil {
		s.cant("open", err)
		return err
	}
	s.dev = dev
	s.clk = m.opts.Clock
	if s.clk == nil {
		if clocked, ok := dev.(driver.Clocked); ok {
			s.clk = clocked.Clock()
		} else {
			s.clk = clock.Real()
		}
	}
	registered := false
	if s.setup() {
		registered = s.act()
		s.loop(ctx)
	}
	s.cleanup(registered)
	return nil
}

func (s *session) cant(op string, err error) {
	fmt.Fprintf(s.opts.Out, "*** can't %s: %s\n", op, driver.ErrorText(err))
	slog.Debug("driver call failed", slog.String("op", op), slog.String("error", err.Error()))
}

func (s *session) setup() bool {
	if err := s.dev.EnableInterrupts(true); err != nil {
		s.cant("enable interrupts", err)
	}
	if err := s.dev.SetChannel(s.opts.Channel); err != nil {
		s.cant("set current channel", err)
		return false
	}
	profile, err := s.dev.Profile()
	if err != nil {
		s.cant("get channel type", err)
		return false
	}
	if profile != driver.ProfileTimer {
		fmt.Fprintf(s.opts.ErrOut, "Sorry. Channel %d does not implement timer profile\n", s.opts.Channel)
		return false
	}
	bits, err := s.dev.BitWidth()
	if err != nil {
		s.cant("get channel len", err)
		return false
	}
	fmt.Fprintf(s.opts.Out, "%d bit timer, ", bits)
	resolution, err := s.dev.Resolution()
	if err != nil {
		fmt.Fprintln(s.opts.Out)
		s.cant("get timer resolution", err)
		return false
	}
	fmt.Fprintf(s.opts.Out, "%d decrements per second.\n", resolution)
	s.show()
	return true
}

// act performs the actions requested on the command line. Failures are
// reported and do not end the session.
func (s *session) act() (registered bool) {
	if s.opts.Signal {
		fmt.Fprintln(s.opts.Out, "Installing signal")
		if err := s.dev.RegisterElapse(s.counter.Increment); err != nil {
			s.cant("install signal", err)
		} else {
			registered = true
		}
	}
	if s.opts.Preload != nil {
		fmt.Fprintf(s.opts.Out, "Setting preload=%d\n", *s.opts.Preload)
		if err := s.dev.WritePreload(*s.opts.Preload); err != nil {
			s.cant("write preload", err)
		}
	}
	if s.opts.StartMode != nil {
		fmt.Fprintf(s.opts.Out, "Setting start mode=%d\n", int(*s.opts.StartMode))
		if err := s.dev.SetRunMode(*s.opts.StartMode); err != nil {
			s.cant("start timer", err)
		}
	}
	return registered
}

// show prints one status line.
func (s *session) show() {
	value, err := s.dev.ReadCounter()
	if err != nil {
		s.cant("read timer", err)
		return
	}
	mode, err := s.dev.RunMode()
	if err != nil {
		s.cant("get timer state", err)
		return
	}
	state := State{Counter: value, Mode: mode, Signals: s.counter.ReadAndReset()}
	fmt.Fprintln(s.opts.Out, state)
	s.opts.OnState(state)
}

func (s *session) loop(ctx context.Context) {
	for shown := 1; ; shown++ {
		s.show()
		if s.opts.Iterations > 0 && shown >= s.opts.Iterations {
			return
		}
		select {
		case <-s.clk.After(s.opts.Interval):
		case <-s.opts.Stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) cleanup(registered bool) {
	if err := s.dev.EnableInterrupts(false); err != nil {
		s.cant("disable interrupts", err)
	}
	if registered {
		if err := s.dev.DeregisterElapse(); err != nil {
			s.cant("remove signal", err)
		}
	}
	if err := s.dev.Close(); err != nil {
		s.cant("close", err)
	}
}

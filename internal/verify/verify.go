// Package verify runs the timer verification protocol against one channel of
// a timer device: a one-shot duration measurement, a start/stop check with a
// stop-integrity test, and a periodic signal rate measurement.
package verify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"tmrcheck/internal/clock"
	"tmrcheck/internal/driver"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	DefaultChannel = 1
	DefaultTimeout = 30 * time.Second

	// PeriodicWindows is the number of one second windows of the periodic phase.
	PeriodicWindows = 10
	// SignalsPerSecond is the nominal rate of the periodic phase.
	SignalsPerSecond = 100

	windowDuration = time.Second
	stopSettleTime = 100 * time.Millisecond
)

var (
	errAbort       = errors.New("verification aborted")
	errInterrupted = errors.New("verification interrupted")
	errTimeout     = errors.New("timed out")
)

// Capabilities is the timer geometry read once per run.
type Capabilities struct {
	BitWidth     int
	ResolutionHz int
}

// MaxValue returns the largest value the counter register holds.
func (c Capabilities) MaxValue() uint32 {
	return uint32(uint64(1)<<uint(c.BitWidth) - 1)
}

// Validate checks that the capabilities describe a usable timer.
func (c Capabilities) Validate() error {
	if c.BitWidth < 1 || c.BitWidth > 32 {
		return fmt.Errorf("bit width %d not in 1..32", c.BitWidth)
	}
	if c.ResolutionHz <= 0 {
		return fmt.Errorf("resolution %d must be positive", c.ResolutionHz)
	}
	return nil
}

// Result is the outcome of one phase, or of one window of the periodic phase.
type Result struct {
	Phase           Phase
	Window          int // 1-based window of the periodic phase, 0 otherwise
	ExpectedMs      int64
	MeasuredMs      int64
	ExpectedSignals int64
	Signals         int64
	Passed          bool
	Findings        []string
}

// Report collects everything a run produced.
type Report struct {
	Device       string
	Channel      int
	Capabilities Capabilities
	Started      time.Time
	Results      []Result
	Failures     []string // driver call failures as printed
	Aborted      bool
	Interrupted  bool
}

// Passed reports whether the run completed and every result passed.
func (r *Report) Passed() bool {
	if r.Aborted || r.Interrupted || len(r.Results) == 0 {
		return false
	}
	for _, result := range r.Results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// Options configure a Verifier. Zero values select the defaults.
type Options struct {
	Channel   int
	Timeout   time.Duration // bound on the signal wait and counter poll, 0 waits forever
	Tolerance float64
	Judge     string
	Phases    mapset.Set[string]
	Out       io.Writer // console output
	ErrOut    io.Writer // profile mismatch message
	Clock     clock.Clock
	Open      driver.Opener
	OnPhase   func(Phase) // called when a phase starts
}

// DefaultOptions returns the options of a plain verification run.
func DefaultOptions() Options {
	return Options{
		Channel:   DefaultChannel,
		Timeout:   DefaultTimeout,
		Tolerance: DefaultTolerance,
		Judge:     DefaultJudge,
		Phases:    AllPhases(),
	}
}

// Verifier runs the verification protocol.
type Verifier struct {
	opts  Options
	judge *Judge
}

// New checks opts and fills in defaults.
func New(opts Options) (*Verifier, error) {
	if opts.Channel < 0 {
		return nil, fmt.Errorf("channel cannot be negative: %d", opts.Channel)
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout cannot be negative: %s", opts.Timeout)
	}
	judge, err := NewJudge(opts.Judge, opts.Tolerance)
	if err != nil {
		return nil, err
	}
	if opts.Phases == nil {
		opts.Phases = AllPhases()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ErrOut == nil {
		opts.ErrOut = opts.Out
	}
	if opts.Open == nil {
		opts.Open = driver.Open
	}
	if opts.OnPhase == nil {
		opts.OnPhase = func(Phase) {}
	}
	return &Verifier{opts: opts, judge: judge}, nil
}

// run holds the state of one verification run.
type run struct {
	opts    Options
	judge   *Judge
	ctx     context.Context
	dev     driver.Device
	clk     clock.Clock
	counter *SignalCounter
	report  *Report
}

// Run opens device and runs the selected phases on it. The returned error is
// non-nil only when the device could not be opened; every other failure is
// printed and recorded in the report. Cleanup runs exactly once whenever the
// device was opened.
func (v *Verifier) Run(ctx context.Context, device string) (*Report, error) {
	r := &run{
		opts:    v.opts,
		judge:   v.judge,
		ctx:     ctx,
		counter: NewSignalCounter(),
		report:  &Report{Device: device, Channel: v.opts.Channel, Started: time.Now()},
	}
	dev, err := v.opts.Open(device)
	if err != nil {
		r.cant("open", err)
		return r.report, err
	}
	r.dev = dev
	r.clk = v.opts.Clock
	if r.clk == nil {
		if clocked, ok := dev.(driver.Clocked); ok {
			r.clk = clocked.Clock()
		} else {
			r.clk = clock.Real()
		}
	}
	slog.Debug("verification started", slog.String("device", device), slog.Int("channel", v.opts.Channel))

	registered, err := r.setup()
	if err == nil {
		err = r.phases()
	}
	switch {
	case errors.Is(err, errAbort):
		r.report.Aborted = true
	case errors.Is(err, errInterrupted):
		r.report.Interrupted = true
		fmt.Fprintln(r.opts.Out, "*** interrupted")
	}
	r.cleanup(registered)
	slog.Debug("verification finished", slog.String("device", device), slog.Bool("passed", r.report.Passed()))
	return r.report, nil
}

// cant reports a failed driver call.
func (r *run) cant(op string, err error) {
	msg := fmt.Sprintf("can't %s: %s", op, driver.ErrorText(err))
	fmt.Fprintf(r.opts.Out, "*** %s\n", msg)
	r.report.Failures = append(r.report.Failures, msg)
	slog.Debug("driver call failed", slog.String("op", op), slog.String("error", err.Error()))
}

// finding reports a verification failure on result.
func (r *run) finding(result *Result, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(r.opts.Out, "*** %s\n", msg)
	result.Findings = append(result.Findings, msg)
	result.Passed = false
}

func (r *run) judgeResult(result *Result, expected, measured int64) {
	passed, err := r.judge.Pass(float64(expected), float64(measured))
	if err != nil {
		r.finding(result, "%v", err)
		return
	}
	result.Passed = passed
}

// setup prepares the channel and installs the elapse notification. It reports
// whether the notification was installed.
func (r *run) setup() (bool, error) {
	ch := r.opts.Channel
	if err := r.dev.EnableInterrupts(true); err != nil {
		r.cant("enable interrupts", err)
	}
	if err := r.dev.SetChannel(ch); err != nil {
		r.cant("set current channel", err)
		return false, errAbort
	}
	profile, err := r.dev.Profile()
	if err != nil {
		r.cant("get channel type", err)
		return false, errAbort
	}
	if profile != driver.ProfileTimer {
		fmt.Fprintf(r.opts.ErrOut, "Sorry. Channel %d does not implement timer profile\n", ch)
		return false, errAbort
	}
	var caps Capabilities
	if caps.BitWidth, err = r.dev.BitWidth(); err != nil {
		r.cant("get channel len", err)
		return false, errAbort
	}
	fmt.Fprintf(r.opts.Out, "%d bit timer, ", caps.BitWidth)
	if caps.ResolutionHz, err = r.dev.Resolution(); err != nil {
		fmt.Fprintln(r.opts.Out)
		r.cant("get timer resolution", err)
		return false, errAbort
	}
	fmt.Fprintf(r.opts.Out, "%d decrements per second.\n", caps.ResolutionHz)
	if err := caps.Validate(); err != nil {
		fmt.Fprintf(r.opts.Out, "*** unusable timer: %v\n", err)
		return false, errAbort
	}
	r.report.Capabilities = caps
	if err := r.dev.RegisterElapse(r.counter.Increment); err != nil {
		r.cant("install signal", err)
		return false, errAbort
	}
	return true, nil
}

func (r *run) phases() error {
	selected := r.opts.Phases
	if selected.Contains(SelectOneShot) {
		r.opts.OnPhase(PhaseOneShot)
		if err := r.oneShot(); err != nil {
			return err
		}
	}
	if selected.Contains(SelectStartStop) {
		r.opts.OnPhase(PhaseStartStop)
		if err := r.startStop(); err != nil {
			return err
		}
	}
	if selected.Contains(SelectPeriodic) {
		r.opts.OnPhase(PhasePeriodic)
		if err := r.periodic(); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) cleanup(registered bool) {
	if err := r.dev.EnableInterrupts(false); err != nil {
		r.cant("disable interrupts", err)
	}
	if registered {
		if err := r.dev.DeregisterElapse(); err != nil {
			r.cant("remove signal", err)
		}
	}
	if err := r.dev.Close(); err != nil {
		r.cant("close", err)
	}
}

// sleep waits d on the run clock unless the run is cancelled first.
func (r *run) sleep(d time.Duration) error {
	select {
	case <-r.clk.After(d):
		return nil
	case <-r.ctx.Done():
		return errInterrupted
	}
}

// awaitSignal blocks until the counter is non-zero.
func (r *run) awaitSignal() error {
	var timeout <-chan time.Time
	if r.opts.Timeout > 0 {
		timeout = r.clk.After(r.opts.Timeout)
	}
	for r.counter.Load() == 0 {
		select {
		case <-r.counter.Notify():
		case <-timeout:
			return errTimeout
		case <-r.ctx.Done():
			return errInterrupted
		}
	}
	return nil
}

func (r *run) add(result Result) {
	r.report.Results = append(r.report.Results, result)
}

func (r *run) oneShot() error {
	caps := r.report.Capabilities
	fmt.Fprintln(r.opts.Out, "Testing timer duration...")
	ticks := uint32(min(uint64(caps.ResolutionHz), uint64(caps.MaxValue())))
	if err := r.dev.WritePreload(ticks); err != nil {
		r.cant("write preload", err)
		return errAbort
	}
	r.counter.Reset()
	start := r.clk.Now()
	if err := r.dev.SetRunMode(driver.OneShot); err != nil {
		r.cant("start timer", err)
	}
	waitErr := r.awaitSignal()
	if errors.Is(waitErr, errInterrupted) {
		return waitErr
	}
	result := Result{
		Phase:           PhaseOneShot,
		ExpectedMs:      int64(ticks) * 1000 / int64(caps.ResolutionHz),
		MeasuredMs:      r.clk.Since(start).Milliseconds(),
		ExpectedSignals: 1,
		Signals:         r.counter.Load(),
	}
	fmt.Fprintf(r.opts.Out, "  ms elapsed: %d, Should be: %d\n", result.MeasuredMs, result.ExpectedMs)
	if waitErr != nil {
		r.finding(&result, "no elapse signal within %s", r.opts.Timeout)
	} else {
		r.judgeResult(&result, result.ExpectedMs, result.MeasuredMs)
	}
	r.add(result)
	return nil
}

func (r *run) startStop() error {
	caps := r.report.Capabilities
	fmt.Fprintln(r.opts.Out, "Testing start/stop timer...")
	maxValue := caps.MaxValue()
	if err := r.dev.WritePreload(maxValue); err != nil {
		r.cant("write preload", err)
		return errAbort
	}
	var threshold uint32
	if uint64(caps.ResolutionHz) < uint64(maxValue) {
		threshold = maxValue - uint32(caps.ResolutionHz)
	}
	result := Result{Phase: PhaseStartStop, ExpectedMs: 1000, Passed: true}
	start := r.clk.Now()
	if err := r.dev.SetRunMode(driver.OneShot); err != nil {
		r.cant("start timer", err)
	}
	polled := true
	for {
		if r.ctx.Err() != nil {
			return errInterrupted
		}
		value, err := r.dev.ReadCounter()
		if err != nil {
			r.cant("read timer", err)
			polled = false
			break
		}
		if value <= threshold {
			break
		}
		if r.opts.Timeout > 0 && r.clk.Since(start) > r.opts.Timeout {
			fmt.Fprintf(r.opts.Out, "*** counter stuck at %d\n", value)
			polled = false
			break
		}
	}
	result.MeasuredMs = r.clk.Since(start).Milliseconds()
	if err := r.dev.SetRunMode(driver.Stopped); err != nil {
		r.cant("stop timer", err)
	}
	fmt.Fprintf(r.opts.Out, "  ms elapsed: %d, Should be: %d\n", result.MeasuredMs, result.ExpectedMs)
	if polled {
		r.judgeResult(&result, result.ExpectedMs, result.MeasuredMs)
	} else {
		result.Passed = false
		result.Findings = append(result.Findings, fmt.Sprintf("counter did not decrement by %d ticks", caps.ResolutionHz))
	}
	r.add(result)
	return r.stopIntegrity()
}

// stopIntegrity checks that a stopped counter holds its value.
func (r *run) stopIntegrity() error {
	result := Result{Phase: PhaseStopIntegrity, ExpectedMs: stopSettleTime.Milliseconds(), Passed: true}
	first, firstErr := r.dev.ReadCounter()
	if firstErr != nil {
		r.cant("read timer", firstErr)
	}
	start := r.clk.Now()
	if err := r.sleep(stopSettleTime); err != nil {
		return err
	}
	result.MeasuredMs = r.clk.Since(start).Milliseconds()
	mode, modeErr := r.dev.RunMode()
	if modeErr != nil {
		r.cant("get timer state", modeErr)
	}
	second, secondErr := r.dev.ReadCounter()
	if secondErr != nil {
		r.cant("read timer", secondErr)
	}
	if firstErr != nil || secondErr != nil || modeErr != nil {
		result.Passed = false
		result.Findings = append(result.Findings, "stop state could not be read")
	}
	if firstErr == nil && secondErr == nil && second != first {
		r.finding(&result, "timer ticks did not stop %d <> %d", second, first)
	}
	if modeErr == nil && mode != driver.Stopped {
		r.finding(&result, "timer did not stop")
	}
	r.add(result)
	return nil
}

func (r *run) periodic() error {
	caps := r.report.Capabilities
	fmt.Fprintf(r.opts.Out, "Generating periodic signals (%d per second)\n", SignalsPerSecond)
	ticks := uint32(caps.ResolutionHz / SignalsPerSecond)
	if ticks == 0 {
		result := Result{Phase: PhasePeriodic, Window: 1}
		r.finding(&result, "resolution %d too low for %d signals per second", caps.ResolutionHz, SignalsPerSecond)
		r.add(result)
		return nil
	}
	if err := r.dev.WritePreload(ticks); err != nil {
		r.cant("write preload", err)
		return errAbort
	}
	r.counter.Reset()
	if err := r.dev.SetRunMode(driver.FreeRunning); err != nil {
		r.cant("start timer", err)
	}
	defer func() {
		if err := r.dev.SetRunMode(driver.Stopped); err != nil {
			r.cant("stop timer", err)
		}
	}()
	for n := 1; n <= PeriodicWindows; n++ {
		r.counter.Reset()
		start := r.clk.Now()
		if err := r.sleep(windowDuration); err != nil {
			return err
		}
		signals := r.counter.ReadAndReset()
		elapsed := r.clk.Since(start)
		result := Result{
			Phase:           PhasePeriodic,
			Window:          n,
			ExpectedMs:      windowDuration.Milliseconds(),
			MeasuredMs:      elapsed.Milliseconds(),
			ExpectedSignals: expectedSignals(elapsed, ticks, caps.ResolutionHz),
			Signals:         signals,
		}
		fmt.Fprintf(r.opts.Out, "  %d signals in %d ms\n", result.Signals, result.MeasuredMs)
		r.judgeResult(&result, result.ExpectedSignals, result.Signals)
		r.add(result)
	}
	return nil
}

// expectedSignals returns the number of underflows a timer reloading with
// ticks at resolutionHz produces in elapsed.
func expectedSignals(elapsed time.Duration, ticks uint32, resolutionHz int) int64 {
	period := float64(ticks) / float64(resolutionHz)
	return int64(math.Round(elapsed.Seconds() / period))
}

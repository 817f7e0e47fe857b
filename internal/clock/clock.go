// Package clock provides the monotonic time source shared by timer backends
// and the verifier. A scaled clock lets the software timer and the code that
// measures it run faster than wall time while agreeing on elapsed time.
package clock

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"time"
)

// Clock is a source of monotonic time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// After delivers the clock's current time on the returned channel once d
	// has elapsed on this clock.
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }

// Scaled is a clock that runs Factor times faster than wall time.
type Scaled struct {
	factor float64
	origin time.Time
}

// NewScaled returns a clock running factor times faster than wall time.
// Factors below 1 are treated as 1.
func NewScaled(factor float64) *Scaled {
	if factor < 1 {
		factor = 1
	}
	return &Scaled{factor: factor, origin: time.Now()}
}

// Factor returns the speed-up relative to wall time.
func (s *Scaled) Factor() float64 {
	return s.factor
}

func (s *Scaled) Now() time.Time {
	elapsed := time.Since(s.origin)
	return s.origin.Add(time.Duration(float64(elapsed) * s.factor))
}

func (s *Scaled) Since(t time.Time) time.Duration {
	return s.Now().Sub(t)
}

func (s *Scaled) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	time.AfterFunc(s.wall(d), func() {
		ch <- s.Now()
	})
	return ch
}

func (s *Scaled) Sleep(d time.Duration) {
	time.Sleep(s.wall(d))
}

func (s *Scaled) wall(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) / s.factor)
}

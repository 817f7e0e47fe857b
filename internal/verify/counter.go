package verify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import "sync/atomic"

// SignalCounter counts elapse notifications. Increment is safe to call from
// any goroutine; ReadAndReset swaps the count out atomically so no
// notification is lost or counted twice.
type SignalCounter struct {
	count  atomic.Int64
	notify chan struct{}
}

func NewSignalCounter() *SignalCounter {
	return &SignalCounter{notify: make(chan struct{}, 1)}
}

// Increment records one notification and wakes a waiter, if any.
func (c *SignalCounter) Increment() {
	c.count.Add(1)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *SignalCounter) Load() int64 {
	return c.count.Load()
}

// ReadAndReset returns the count and sets it to zero in one step.
func (c *SignalCounter) ReadAndReset() int64 {
	return c.count.Swap(0)
}

// Reset clears the count and any pending wakeup.
func (c *SignalCounter) Reset() {
	c.count.Store(0)
	select {
	case <-c.notify:
	default:
	}
}

// Notify returns a channel that receives after an Increment. Several
// increments may collapse into one receive.
func (c *SignalCounter) Notify() <-chan struct{} {
	return c.notify
}

package verify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalCounterReadAndReset(t *testing.T) {
	c := NewSignalCounter()
	c.Increment()
	c.Increment()
	assert.Equal(t, int64(2), c.Load())
	assert.Equal(t, int64(2), c.ReadAndReset())
	assert.Equal(t, int64(0), c.Load())
	assert.Equal(t, int64(0), c.ReadAndReset())
}

func TestSignalCounterLosesNothingUnderConcurrency(t *testing.T) {
	c := NewSignalCounter()
	const writers, increments = 8, 10000
	var wg sync.WaitGroup
	var total int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-time.After(time.Millisecond):
				total += c.ReadAndReset()
			case <-done:
				return
			}
		}
	}()
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range increments {
				c.Increment()
			}
		}()
	}
	wg.Wait()
	done <- struct{}{}
	<-done
	total += c.ReadAndReset()
	assert.Equal(t, int64(writers*increments), total)
}

func TestSignalCounterNotify(t *testing.T) {
	c := NewSignalCounter()
	select {
	case <-c.Notify():
		t.Fatal("notified without increment")
	default:
	}
	c.Increment()
	c.Increment()
	select {
	case <-c.Notify():
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	c.Increment()
	c.Reset()
	assert.Equal(t, int64(0), c.Load())
	select {
	case <-c.Notify():
		t.Fatal("stale notification after reset")
	default:
	}
}

func TestParsePhases(t *testing.T) {
	all, err := ParsePhases(nil)
	require.NoError(t, err)
	assert.True(t, all.Equal(AllPhases()))

	some, err := ParsePhases([]string{" OneShot", "periodic", "periodic"})
	require.NoError(t, err)
	assert.Equal(t, 2, some.Cardinality())
	assert.True(t, some.Contains(SelectOneShot, SelectPeriodic))

	_, err = ParsePhases([]string{"oneshot", "warp"})
	assert.ErrorContains(t, err, `unknown phase "warp"`)
	assert.Equal(t, []string{"oneshot", "startstop", "periodic"}, SelectableNames())
}

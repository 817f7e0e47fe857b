package driver

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenUnknownDevice(t *testing.T) {
	tests := []string{
		"",
		"tmr0",
		":tmr0",
		"sim:",
		"nosuchscheme:tmr0",
	}
	for _, name := range tests {
		dev, err := Open(name)
		require.Error(t, err, name)
		assert.Nil(t, dev)
		assert.ErrorIs(t, err, ErrUnknownDevice, name)
		var opErr *OpError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, "open", opErr.Op)
	}
}

func TestRegisterAndOpen(t *testing.T) {
	var openedName string
	Register("drivertest", func(name string) (Device, error) {
		openedName = name
		return nil, errors.New("no such unit")
	})
	assert.Contains(t, Schemes(), "drivertest")

	_, err := Open("drivertest:unit7")
	require.Error(t, err)
	assert.Equal(t, "unit7", openedName)
	assert.Equal(t, "no such unit", ErrorText(err))
	assert.Equal(t, "open drivertest:unit7: no such unit", err.Error())

	assert.Panics(t, func() {
		Register("drivertest", func(string) (Device, error) { return nil, nil })
	})
}

func TestRunModeString(t *testing.T) {
	tests := []struct {
		mode     RunMode
		expected string
		valid    bool
	}{
		{Stopped, "stopped", true},
		{OneShot, "one shot", true},
		{FreeRunning, "free running", true},
		{RunMode(7), "mode(7)", false},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, test.mode.String())
		assert.Equal(t, test.valid, test.mode.Valid())
	}
}

func TestParseProfile(t *testing.T) {
	assert.Equal(t, ProfileTimer, ParseProfile("TIMER"))
	assert.Equal(t, ProfileBinary, ParseProfile(" binary "))
	assert.Equal(t, ProfileCounter, ParseProfile("counter"))
	assert.Equal(t, ProfileUnknown, ParseProfile("pwm"))
}

func TestErrorTextPlainError(t *testing.T) {
	assert.Equal(t, "", ErrorText(nil))
	assert.Equal(t, "boom", ErrorText(errors.New("boom")))
	wrapped := errors.Wrap(&OpError{Op: "read", Err: ErrValueRange}, "read timer")
	assert.Equal(t, ErrValueRange.Error(), ErrorText(wrapped))
	assert.Equal(t, ErrValueRange, errors.Cause(wrapped))
}

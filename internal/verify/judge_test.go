package verify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultJudge(t *testing.T) {
	judge, err := NewJudge("", DefaultTolerance)
	require.NoError(t, err)
	assert.Equal(t, DefaultJudge, judge.String())
	tests := []struct {
		expected, measured float64
		passed             bool
	}{
		{1000, 1000, true},
		{1000, 1200, true},
		{1000, 800, true},
		{1000, 1201, false},
		{1000, 799, false},
		{100, 0, false},
		{100, 117, true},
	}
	for _, test := range tests {
		passed, err := judge.Pass(test.expected, test.measured)
		require.NoError(t, err)
		assert.Equal(t, test.passed, passed, "expected %v measured %v", test.expected, test.measured)
	}
}

func TestCustomJudge(t *testing.T) {
	judge, err := NewJudge("measured >= expected", 0)
	require.NoError(t, err)
	passed, err := judge.Pass(1000, 1001)
	require.NoError(t, err)
	assert.True(t, passed)
	passed, err = judge.Pass(1000, 999)
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestJudgeErrors(t *testing.T) {
	_, err := NewJudge("measured >", 0.1)
	assert.Error(t, err)
	_, err = NewJudge("abs(jitter) < 5", 0.1)
	assert.ErrorContains(t, err, `unknown variable "jitter"`)
	_, err = NewJudge("", -1)
	assert.Error(t, err)

	judge, err := NewJudge("measured - expected", 0.1)
	require.NoError(t, err)
	_, err = judge.Pass(1, 2)
	assert.ErrorContains(t, err, "does not yield a boolean")
}

package cmd

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSyslogRecord(t *testing.T) {
	r := slog.NewRecord(time.Now(), slog.LevelWarn, "driver call failed", 0)
	r.AddAttrs(slog.String("op", "read timer"), slog.Int("channel", 2))
	assert.Equal(t, `level=WARN msg="driver call failed" op="read timer" channel="2"`, formatSyslogRecord(r, true))
}

func TestCommands(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"veri"})
	require.NoError(t, err)
	assert.Equal(t, "verify", cmd.Name())
	cmd, _, err = rootCmd.Find([]string{"test"})
	require.NoError(t, err)
	assert.Equal(t, "test", cmd.Name())
	for _, name := range []string{flagDebugName, flagSyslogName, flagLogStdOutName, flagOutputDirName, flagDevicesName} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

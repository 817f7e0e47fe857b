package util

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandUser(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)
	assert.Equal(t, usr.HomeDir, ExpandUser("~"))
	assert.Equal(t, filepath.Join(usr.HomeDir, "devices.yaml"), ExpandUser("~/devices.yaml"))
	assert.Equal(t, "/etc/tmrcheck", ExpandUser("/etc/tmrcheck"))
	assert.Equal(t, "~other/x", ExpandUser("~other/x"))
}

func TestAbsPath(t *testing.T) {
	path, err := AbsPath("devices.yaml")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
}

func TestFileAndDirectoryExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	exists, err := FileExists(file)
	require.NoError(t, err)
	assert.True(t, exists)
	_, err = FileExists(dir)
	assert.Error(t, err)
	exists, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = DirectoryExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	_, err = DirectoryExists(file)
	assert.Error(t, err)

	assert.True(t, FileOrDirectoryExists(file))
	assert.False(t, FileOrDirectoryExists(filepath.Join(dir, "missing")))
}

func TestCreateDirectoryIfNotExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateDirectoryIfNotExists(dir, 0755))
	exists, err := DirectoryExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, CreateDirectoryIfNotExists(dir, 0755))
}

func TestParseUint32(t *testing.T) {
	tests := []struct {
		input    string
		expected uint32
		wantErr  bool
	}{
		{"1000", 1000, false},
		{"0x1234", 0x1234, false},
		{"0XFFFFFFFF", 0xffffffff, false},
		{" 42 ", 42, false},
		{"010", 8, false},
		{"0x100000000", 0, true},
		{"-1", 0, true},
		{"ten", 0, true},
	}
	for _, test := range tests {
		got, err := ParseUint32(test.input)
		if test.wantErr {
			assert.Error(t, err, test.input)
			continue
		}
		require.NoError(t, err, test.input)
		assert.Equal(t, test.expected, got, test.input)
	}
}

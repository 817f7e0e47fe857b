package monitor

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/term"
)

// WatchKeys returns a channel that is closed when the first byte arrives on
// in, or when in reports EOF or an error.
func WatchKeys(in io.Reader) <-chan struct{} {
	pressed := make(chan struct{})
	go func() {
		defer close(pressed)
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if n > 0 || err != nil {
				return
			}
		}
	}()
	return pressed
}

// Keyboard prepares stdin for single key detection. When stdin is a terminal
// it is switched to raw mode and out is wrapped so line feeds still return the
// cursor. The restore function must be called before exiting.
func Keyboard(stdin *os.File, out io.Writer) (keys <-chan struct{}, wrapped io.Writer, restore func()) {
	fd := int(stdin.Fd())
	restore = func() {}
	wrapped = out
	if term.IsTerminal(fd) {
		if oldState, err := term.MakeRaw(fd); err == nil {
			restore = func() { _ = term.Restore(fd, oldState) }
			wrapped = crlfWriter{out}
		}
	}
	return WatchKeys(stdin), wrapped, restore
}

// crlfWriter translates "\n" into "\r\n" for terminals in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

package driver

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"github.com/pkg/errors"
)

// OpError records a failed driver call together with the device it targeted.
type OpError struct {
	Op     string
	Device string
	Err    error
}

func (e *OpError) Error() string {
	if e.Device == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Device + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause see through an OpError.
func (e *OpError) Cause() error { return e.Err }

// ErrorText returns the driver-supplied text of err, without the operation
// and device prefix added by OpError.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Err.Error()
	}
	return err.Error()
}

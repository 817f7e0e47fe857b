// Package timerfd implements timer channels on top of Linux timerfd
// descriptors. Each channel counts down in microseconds on CLOCK_MONOTONIC and
// expirations are delivered as elapse notifications. On other systems the
// package registers nothing.
package timerfd

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Copyright 2025 Google LLC.
// SPDX-License-Identifier: BSD-3-Clause

package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tmrcheck/internal/driver"
	"tmrcheck/internal/monitor"
	"tmrcheck/internal/verify"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *verify.Report {
	return &verify.Report{
		Device:  "sim:tmr0",
		Channel: 1,
		Results: []verify.Result{
			{Phase: verify.PhaseOneShot, ExpectedMs: 1000, MeasuredMs: 1003, Passed: true},
			{Phase: verify.PhaseStartStop, ExpectedMs: 1000, MeasuredMs: 1500},
			{Phase: verify.PhasePeriodic, Window: 1, ExpectedMs: 1000, MeasuredMs: 1000, ExpectedSignals: 100, Signals: 98, Passed: true},
			{Phase: verify.PhasePeriodic, Window: 2, ExpectedMs: 1000, MeasuredMs: 1001, ExpectedSignals: 100, Signals: 101, Passed: true},
		},
	}
}

func TestRecord(t *testing.T) {
	r := NewRecorder()
	r.Record(sampleReport())
	assert.Equal(t, 1003.0, testutil.ToFloat64(r.measuredMs.WithLabelValues("sim:tmr0", "1", "one-shot", "0")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.passed.WithLabelValues("sim:tmr0", "1", "start-stop", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.passed.WithLabelValues("sim:tmr0", "1", "periodic", "2")))
	assert.Equal(t, 98.0, testutil.ToFloat64(r.signals.WithLabelValues("sim:tmr0", "1", "1")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.signals))
	assert.Equal(t, 4, testutil.CollectAndCount(r.expectedMs))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.Record(sampleReport())
	path := filepath.Join(t.TempDir(), "tmrcheck.prom")
	require.NoError(t, r.WriteTextfile(path))
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(contents)
	assert.Contains(t, text, "# TYPE tmrcheck_phase_measured_ms gauge")
	assert.Contains(t, text, `tmrcheck_window_signals{channel="1",device="sim:tmr0",window="2"} 101`)
}

func TestLive(t *testing.T) {
	l := NewLive("sim:tmr0", 1)
	l.Observe(monitor.State{Counter: 500, Mode: driver.FreeRunning, Signals: 3})
	l.Observe(monitor.State{Counter: 200, Mode: driver.FreeRunning, Signals: 2})
	assert.Equal(t, 200.0, testutil.ToFloat64(l.counter))
	assert.Equal(t, 2.0, testutil.ToFloat64(l.mode))
	assert.Equal(t, 5.0, testutil.ToFloat64(l.signals))
}

func TestServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	l := NewLive("sim:tmr0", 1)
	l.Observe(monitor.State{Counter: 42})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartServer(ctx, addr, l.Registry())

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, `tmrcheck_counter_value{channel="1",device="sim:tmr0"} 42`))
}

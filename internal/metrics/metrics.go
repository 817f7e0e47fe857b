// Copyright 2025 Google LLC.
// SPDX-License-Identifier: BSD-3-Clause

// Package metrics exposes verification results and live timer state as
// Prometheus metrics.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tmrcheck/internal/monitor"
	"tmrcheck/internal/verify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promMetricPrefix = "tmrcheck_"

// Recorder holds the gauges of verification runs on a private registry.
type Recorder struct {
	registry   *prometheus.Registry
	measuredMs *prometheus.GaugeVec
	expectedMs *prometheus.GaugeVec
	passed     *prometheus.GaugeVec
	signals    *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	phaseLabels := []string{"device", "channel", "phase", "window"}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		measuredMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: promMetricPrefix + "phase_measured_ms",
			Help: "Measured duration of a verification phase in milliseconds",
		}, phaseLabels),
		expectedMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: promMetricPrefix + "phase_expected_ms",
			Help: "Expected duration of a verification phase in milliseconds",
		}, phaseLabels),
		passed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: promMetricPrefix + "phase_passed",
			Help: "1 if the verification phase passed, 0 otherwise",
		}, phaseLabels),
		signals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: promMetricPrefix + "window_signals",
			Help: "Elapse signals counted in one window of the periodic phase",
		}, []string{"device", "channel", "window"}),
	}
	r.registry.MustRegister(r.measuredMs, r.expectedMs, r.passed, r.signals)
	return r
}

// Registry returns the registry the gauges live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Record sets the gauges from a finished run.
func (r *Recorder) Record(report *verify.Report) {
	channel := strconv.Itoa(report.Channel)
	for _, result := range report.Results {
		window := strconv.Itoa(result.Window)
		labels := []string{report.Device, channel, string(result.Phase), window}
		r.measuredMs.WithLabelValues(labels...).Set(float64(result.MeasuredMs))
		r.expectedMs.WithLabelValues(labels...).Set(float64(result.ExpectedMs))
		passed := 0.0
		if result.Passed {
			passed = 1
		}
		r.passed.WithLabelValues(labels...).Set(passed)
		if result.Phase == verify.PhasePeriodic {
			r.signals.WithLabelValues(report.Device, channel, window).Set(float64(result.Signals))
		}
	}
}

// WriteTextfile writes the gauges in the text exposition format, as read by
// the node exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Live follows the state of a timer shown by the interactive tool.
type Live struct {
	registry *prometheus.Registry
	counter  prometheus.Gauge
	mode     prometheus.Gauge
	signals  prometheus.Counter
}

func NewLive(device string, channel int) *Live {
	constLabels := prometheus.Labels{"device": device, "channel": strconv.Itoa(channel)}
	l := &Live{
		registry: prometheus.NewRegistry(),
		counter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        promMetricPrefix + "counter_value",
			Help:        "Last counter value read from the timer",
			ConstLabels: constLabels,
		}),
		mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        promMetricPrefix + "run_mode",
			Help:        "Timer run mode (0 stopped, 1 one shot, 2 free running)",
			ConstLabels: constLabels,
		}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        promMetricPrefix + "signals_total",
			Help:        "Elapse signals received",
			ConstLabels: constLabels,
		}),
	}
	l.registry.MustRegister(l.counter, l.mode, l.signals)
	return l
}

func (l *Live) Registry() *prometheus.Registry {
	return l.registry
}

// Observe updates the metrics from one sample.
func (l *Live) Observe(state monitor.State) {
	l.counter.Set(float64(state.Counter))
	l.mode.Set(float64(state.Mode))
	l.signals.Add(float64(state.Signals))
}

// StartServer serves gatherer on /metrics at listenAddr until ctx is done.
func StartServer(ctx context.Context, listenAddr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	slog.Info("Starting Prometheus metrics server", slog.String("address", listenAddr))
	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Prometheus HTTP server ListenAndServe error", slog.String("error", err.Error()))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return server
}

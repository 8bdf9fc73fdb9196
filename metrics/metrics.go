// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics implements the read-only metrics surface of the RPC
// core: counters, gauges, latency extrema/totals, and derived rates, all
// updated with atomic operations so they can be read concurrently with
// no locking on the hot path.
//
// Collection is opt-in per Remote instance (see remote.WithMetrics).
package metrics

import (
	"go.uber.org/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters/gauges/histograms of the RPC core.
type Metrics struct {
	TotalRequests      atomic.Uint64
	SuccessfulRequests atomic.Uint64
	FailedRequests     atomic.Uint64
	TimeoutRequests    atomic.Uint64
	HandlerInvocations atomic.Uint64

	InFlightRequests     atomic.Int64
	PeakInFlightRequests atomic.Int64

	TotalLatencyUs      atomic.Uint64
	MinLatencyUs         atomic.Uint64
	MaxLatencyUs         atomic.Uint64
	TotalHandlerTimeUs   atomic.Uint64

	TotalRequestBytes  atomic.Uint64
	TotalResponseBytes atomic.Uint64

	prom *promCollectors
}

// New returns an empty Metrics instance. Metrics are always safe to read
// and update; the zero value (via New) is ready to use.
func New() *Metrics {
	m := &Metrics{}
	m.MinLatencyUs.Store(^uint64(0))
	return m
}

// RecordCallStart increments counters observed when a call begins, and
// maintains the in-flight gauge + its running peak via a CAS loop.
func (m *Metrics) RecordCallStart(requestBytes int) {
	m.TotalRequests.Inc()
	m.TotalRequestBytes.Add(uint64(requestBytes))
	cur := m.InFlightRequests.Inc()
	m.bumpPeak(cur)
	if m.prom != nil {
		m.prom.totalRequests.Inc()
	}
}

func (m *Metrics) bumpPeak(cur int64) {
	for {
		peak := m.PeakInFlightRequests.Load()
		if cur <= peak {
			return
		}
		if m.PeakInFlightRequests.CAS(peak, cur) {
			return
		}
	}
}

// RecordCallEnd records the terminal outcome of a call: ok distinguishes
// success from failure, timedOut marks a Timeout outcome specifically,
// latencyUs is the end-to-end call latency, and responseBytes is the
// size of the response payload (0 on failure/timeout).
func (m *Metrics) RecordCallEnd(ok, timedOut bool, latencyUs uint64, responseBytes int) {
	m.InFlightRequests.Dec()
	if ok {
		m.SuccessfulRequests.Inc()
	} else {
		m.FailedRequests.Inc()
	}
	if timedOut {
		m.TimeoutRequests.Inc()
	}
	m.TotalLatencyUs.Add(latencyUs)
	m.TotalResponseBytes.Add(uint64(responseBytes))
	m.bumpMin(latencyUs)
	m.bumpMax(latencyUs)
	m.observeProm(ok, timedOut, latencyUs)
}

func (m *Metrics) bumpMin(v uint64) {
	for {
		cur := m.MinLatencyUs.Load()
		if v >= cur {
			return
		}
		if m.MinLatencyUs.CAS(cur, v) {
			return
		}
	}
}

func (m *Metrics) bumpMax(v uint64) {
	for {
		cur := m.MaxLatencyUs.Load()
		if v <= cur {
			return
		}
		if m.MaxLatencyUs.CAS(cur, v) {
			return
		}
	}
}

// RecordHandlerInvocation accounts for one server-side handler execution.
func (m *Metrics) RecordHandlerInvocation(durationUs uint64) {
	m.HandlerInvocations.Inc()
	m.TotalHandlerTimeUs.Add(durationUs)
	if m.prom != nil {
		m.prom.handlerInvocations.Inc()
		m.prom.handlerTimeHist.Observe(float64(durationUs))
	}
}

// Snapshot is a point-in-time, arithmetic-friendly copy of Metrics
// including the derived rates of spec §6.
type Snapshot struct {
	TotalRequests      uint64
	SuccessfulRequests uint64
	FailedRequests     uint64
	TimeoutRequests    uint64
	HandlerInvocations uint64

	InFlightRequests     int64
	PeakInFlightRequests int64

	TotalLatencyUs     uint64
	MinLatencyUs       uint64
	MaxLatencyUs       uint64
	TotalHandlerTimeUs uint64

	TotalRequestBytes  uint64
	TotalResponseBytes uint64

	AvgLatencyUs     float64
	AvgHandlerTimeUs float64
	SuccessRate      float64
	FailureRate      float64
	TimeoutRate      float64
	AvgRequestBytes  float64
	AvgResponseBytes float64
}

// Snapshot returns a consistent-enough snapshot of all fields plus their
// derived rates. Individual atomics may be read at slightly different
// instants; this is acceptable for a monitoring surface.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		TotalRequests:        m.TotalRequests.Load(),
		SuccessfulRequests:   m.SuccessfulRequests.Load(),
		FailedRequests:       m.FailedRequests.Load(),
		TimeoutRequests:      m.TimeoutRequests.Load(),
		HandlerInvocations:   m.HandlerInvocations.Load(),
		InFlightRequests:     m.InFlightRequests.Load(),
		PeakInFlightRequests: m.PeakInFlightRequests.Load(),
		TotalLatencyUs:       m.TotalLatencyUs.Load(),
		MinLatencyUs:         m.MinLatencyUs.Load(),
		MaxLatencyUs:         m.MaxLatencyUs.Load(),
		TotalHandlerTimeUs:   m.TotalHandlerTimeUs.Load(),
		TotalRequestBytes:    m.TotalRequestBytes.Load(),
		TotalResponseBytes:   m.TotalResponseBytes.Load(),
	}
	if s.MinLatencyUs == ^uint64(0) {
		s.MinLatencyUs = 0
	}
	if s.TotalRequests > 0 {
		s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
		s.FailureRate = float64(s.FailedRequests) / float64(s.TotalRequests)
		s.TimeoutRate = float64(s.TimeoutRequests) / float64(s.TotalRequests)
		s.AvgRequestBytes = float64(s.TotalRequestBytes) / float64(s.TotalRequests)
	}
	if s.SuccessfulRequests+s.FailedRequests > 0 {
		s.AvgLatencyUs = float64(s.TotalLatencyUs) / float64(s.SuccessfulRequests+s.FailedRequests)
		s.AvgResponseBytes = float64(s.TotalResponseBytes) / float64(s.SuccessfulRequests+s.FailedRequests)
	}
	if s.HandlerInvocations > 0 {
		s.AvgHandlerTimeUs = float64(s.TotalHandlerTimeUs) / float64(s.HandlerInvocations)
	}
	return s
}

// Reset zeroes every counter, gauge, and latency extremum back to its
// initial state, leaving any registered Prometheus collectors attached
// (their own counters are cumulative by convention and are not rewound).
func (m *Metrics) Reset() {
	m.TotalRequests.Store(0)
	m.SuccessfulRequests.Store(0)
	m.FailedRequests.Store(0)
	m.TimeoutRequests.Store(0)
	m.HandlerInvocations.Store(0)
	m.InFlightRequests.Store(0)
	m.PeakInFlightRequests.Store(0)
	m.TotalLatencyUs.Store(0)
	m.MinLatencyUs.Store(^uint64(0))
	m.MaxLatencyUs.Store(0)
	m.TotalHandlerTimeUs.Store(0)
	m.TotalRequestBytes.Store(0)
	m.TotalResponseBytes.Store(0)
}

// promCollectors mirrors the atomic fields as Prometheus collectors so a
// Metrics instance can be registered directly with a Prometheus registry
// without duplicating the bookkeeping above.
type promCollectors struct {
	totalRequests      prometheus.Counter
	successfulRequests prometheus.Counter
	failedRequests     prometheus.Counter
	timeoutRequests    prometheus.Counter
	handlerInvocations prometheus.Counter
	inFlight           prometheus.GaugeFunc
	peakInFlight       prometheus.GaugeFunc
	latencyHist        prometheus.Histogram
	handlerTimeHist    prometheus.Histogram
}

// Registerer attaches m's counters to reg as real Prometheus collectors.
// It is optional: Metrics works standalone via Snapshot with no
// Prometheus dependency exercised at all if Registerer is never called.
func (m *Metrics) Registerer(reg prometheus.Registerer, namespace, subsystem string) error {
	pc := &promCollectors{
		totalRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "total_requests",
		}),
		successfulRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "successful_requests",
		}),
		failedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "failed_requests",
		}),
		timeoutRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "timeout_requests",
		}),
		handlerInvocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "handler_invocations",
		}),
		latencyHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "latency_us",
			Buckets: prometheus.ExponentialBuckets(10, 2, 16),
		}),
		handlerTimeHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "handler_time_us",
			Buckets: prometheus.ExponentialBuckets(10, 2, 16),
		}),
	}
	pc.inFlight = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "in_flight_requests",
	}, func() float64 { return float64(m.InFlightRequests.Load()) })
	pc.peakInFlight = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: "peak_in_flight_requests",
	}, func() float64 { return float64(m.PeakInFlightRequests.Load()) })

	for _, c := range []prometheus.Collector{
		pc.totalRequests, pc.successfulRequests, pc.failedRequests,
		pc.timeoutRequests, pc.handlerInvocations, pc.latencyHist,
		pc.handlerTimeHist, pc.inFlight, pc.peakInFlight,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	m.prom = pc
	return nil
}

// observeProm forwards a completed call's outcome to the Prometheus
// collectors, if Registerer was called. Safe to call when prom is nil.
func (m *Metrics) observeProm(ok, timedOut bool, latencyUs uint64) {
	if m.prom == nil {
		return
	}
	if ok {
		m.prom.successfulRequests.Inc()
	} else {
		m.prom.failedRequests.Inc()
	}
	if timedOut {
		m.prom.timeoutRequests.Inc()
	}
	m.prom.latencyHist.Observe(float64(latencyUs))
}

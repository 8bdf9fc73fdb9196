// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"code.hybscloud.com/netpipe/metrics"
)

func TestRecordCallStartEndTracksCounters(t *testing.T) {
	m := metrics.New()

	m.RecordCallStart(10)
	m.RecordCallEnd(true, false, 100, 20)

	m.RecordCallStart(5)
	m.RecordCallEnd(false, false, 50, 0)

	m.RecordCallStart(0)
	m.RecordCallEnd(false, true, 9999, 0)

	snap := m.Snapshot()
	if snap.TotalRequests != 3 {
		t.Fatalf("TotalRequests = %d, want 3", snap.TotalRequests)
	}
	if snap.SuccessfulRequests != 1 {
		t.Fatalf("SuccessfulRequests = %d, want 1", snap.SuccessfulRequests)
	}
	if snap.FailedRequests != 2 {
		t.Fatalf("FailedRequests = %d, want 2", snap.FailedRequests)
	}
	if snap.TimeoutRequests != 1 {
		t.Fatalf("TimeoutRequests = %d, want 1", snap.TimeoutRequests)
	}
	if snap.InFlightRequests != 0 {
		t.Fatalf("InFlightRequests = %d, want 0", snap.InFlightRequests)
	}
	if snap.MinLatencyUs != 50 {
		t.Fatalf("MinLatencyUs = %d, want 50", snap.MinLatencyUs)
	}
	if snap.MaxLatencyUs != 9999 {
		t.Fatalf("MaxLatencyUs = %d, want 9999", snap.MaxLatencyUs)
	}
	if snap.SuccessRate <= 0 || snap.SuccessRate >= 1 {
		t.Fatalf("SuccessRate = %v, want in (0,1)", snap.SuccessRate)
	}
}

func TestPeakInFlightTracksMaximum(t *testing.T) {
	m := metrics.New()
	m.RecordCallStart(0)
	m.RecordCallStart(0)
	m.RecordCallStart(0)
	m.RecordCallEnd(true, false, 1, 0)
	m.RecordCallEnd(true, false, 1, 0)

	snap := m.Snapshot()
	if snap.PeakInFlightRequests != 3 {
		t.Fatalf("PeakInFlightRequests = %d, want 3", snap.PeakInFlightRequests)
	}
	if snap.InFlightRequests != 1 {
		t.Fatalf("InFlightRequests = %d, want 1", snap.InFlightRequests)
	}
}

func TestSnapshotZeroValueHasNoDivideByZero(t *testing.T) {
	m := metrics.New()
	snap := m.Snapshot()
	if snap.MinLatencyUs != 0 {
		t.Fatalf("MinLatencyUs on empty Metrics = %d, want 0", snap.MinLatencyUs)
	}
	if snap.SuccessRate != 0 || snap.AvgLatencyUs != 0 {
		t.Fatalf("expected zero derived rates on an empty Metrics, got %+v", snap)
	}
}

func TestRecordHandlerInvocation(t *testing.T) {
	m := metrics.New()
	m.RecordHandlerInvocation(10)
	m.RecordHandlerInvocation(30)

	snap := m.Snapshot()
	if snap.HandlerInvocations != 2 {
		t.Fatalf("HandlerInvocations = %d, want 2", snap.HandlerInvocations)
	}
	if snap.AvgHandlerTimeUs != 20 {
		t.Fatalf("AvgHandlerTimeUs = %v, want 20", snap.AvgHandlerTimeUs)
	}
}

func TestResetZeroesEverything(t *testing.T) {
	m := metrics.New()
	m.RecordCallStart(10)
	m.RecordCallEnd(true, false, 100, 20)
	m.RecordHandlerInvocation(5)

	m.Reset()

	snap := m.Snapshot()
	if snap.TotalRequests != 0 || snap.SuccessfulRequests != 0 || snap.HandlerInvocations != 0 {
		t.Fatalf("expected all counters zero after Reset, got %+v", snap)
	}
	if snap.MinLatencyUs != 0 {
		t.Fatalf("MinLatencyUs after Reset = %d, want 0", snap.MinLatencyUs)
	}

	m.RecordCallStart(1)
	m.RecordCallEnd(true, false, 7, 1)
	snap = m.Snapshot()
	if snap.MinLatencyUs != 7 || snap.MaxLatencyUs != 7 {
		t.Fatalf("expected a fresh min/max after Reset, got %+v", snap)
	}
}

func TestRegistererRegistersAllCollectors(t *testing.T) {
	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := m.Registerer(reg, "netpipe", "rpc"); err != nil {
		t.Fatalf("Registerer: %v", err)
	}

	m.RecordCallStart(1)
	m.RecordCallEnd(true, false, 5, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}

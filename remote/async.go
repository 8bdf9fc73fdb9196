// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package remote

import (
	"time"

	"code.hybscloud.com/netpipe/metrics"
	"code.hybscloud.com/netpipe/stream"
)

// Async is the one-directional multiplexing Remote variant of spec.md
// §4.E.2: a caller may have many concurrent Call invocations in flight,
// matched to their responses by request_id via a background receiver
// goroutine. Async never dispatches inbound Request envelopes — it
// only ever issues calls — an unexpected one is logged and dropped.
type Async struct {
	e *engine
}

// NewAsync wraps an already-connected Stream and starts its receiver
// goroutine immediately.
func NewAsync(s stream.Stream, opts ...Option) *Async {
	return &Async{e: newEngine(s, false, opts...)}
}

// Call allocates a request_id, sends a V2 Request envelope carrying
// method_id/payload, and blocks the calling goroutine (not the receiver)
// until the matching response arrives or timeout elapses. Many
// goroutines may call Call concurrently.
func (a *Async) Call(methodID uint32, payload []byte, timeout time.Duration) ([]byte, error) {
	return a.e.call(methodID, payload, timeout)
}

// Cancel marks requestID's Call as cancelled, waking its waiter with an
// error immediately, and best-effort notifies the peer with a Cancel
// envelope. It returns false if the call already completed.
func (a *Async) Cancel(requestID uint32) bool {
	return a.e.cancel(requestID)
}

// Metrics returns the Metrics instance this Async was configured with,
// or nil if WithMetrics was not passed to NewAsync.
func (a *Async) Metrics() *metrics.Metrics { return a.e.metrics }

// Close stops the receiver goroutine and releases the Stream, failing
// every still-pending Call with an error.
func (a *Async) Close() error { return a.e.close() }

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package remote

import (
	"time"

	"code.hybscloud.com/netpipe/metrics"
	"code.hybscloud.com/netpipe/registry"
	"code.hybscloud.com/netpipe/stream"
)

// Peer is the bidirectional Remote variant of spec.md §4.E.3: the same
// channel carries outbound Calls and inbound Requests dispatched
// through a method registry, both multiplexed on one receiver
// goroutine. Peer is what two symmetric nodes use to call each other
// over a single shared channel.
type Peer struct {
	e *engine
}

// NewPeer wraps an already-connected Stream, starts its receiver
// goroutine, and returns a Peer ready to both RegisterMethod handlers
// and Call the other side.
func NewPeer(s stream.Stream, opts ...Option) *Peer {
	return &Peer{e: newEngine(s, true, opts...)}
}

// RegisterMethod installs handler for methodID, invoked on the receiver
// goroutine (or a pooled goroutine if WithHandlerPool was configured)
// whenever a Request envelope for methodID arrives.
func (p *Peer) RegisterMethod(methodID uint32, handler registry.Handler) error {
	return p.e.registry.Register(methodID, handler)
}

// UnregisterMethod removes methodID's handler.
func (p *Peer) UnregisterMethod(methodID uint32) error {
	return p.e.registry.Unregister(methodID)
}

// SetDefaultHandler installs the fallback handler used for method_ids
// with no specific registration.
func (p *Peer) SetDefaultHandler(handler registry.Handler) {
	p.e.registry.SetDefaultHandler(handler)
}

// Call sends a Request envelope to the peer and blocks for its
// response, exactly like Async.Call — the same engine drives both
// directions of traffic on this channel.
func (p *Peer) Call(methodID uint32, payload []byte, timeout time.Duration) ([]byte, error) {
	return p.e.call(methodID, payload, timeout)
}

// Cancel marks requestID's outbound Call as cancelled; see Async.Cancel.
func (p *Peer) Cancel(requestID uint32) bool {
	return p.e.cancel(requestID)
}

// Metrics returns the Metrics instance this Peer was configured with,
// or nil if WithMetrics was not passed to NewPeer.
func (p *Peer) Metrics() *metrics.Metrics { return p.e.metrics }

// Close stops the receiver goroutine and releases the Stream, failing
// every still-pending outbound Call with an error. In-flight inbound
// handler invocations are not interrupted, per spec.md §9.
func (p *Peer) Close() error { return p.e.close() }

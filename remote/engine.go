// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package remote implements the three Remote RPC variants of spec.md
// §4.E: Sync, Async, and Peer, layered over any stream.Stream.
//
// All three multiplex request_id/method_id envelopes per package wire;
// Async and Peer additionally run a background receiver goroutine and
// share the pending-request table and dispatch plumbing in engine,
// grounded on the reader/writer-goroutine split in the reference
// andydunstall-piko rpc stream. Sync has no engine: it is simple enough
// (one in-flight call at a time, no concurrent receiver) that sharing
// engine's machinery would only obscure it — see sync.go.
package remote

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/netpipe/metrics"
	"code.hybscloud.com/netpipe/pending"
	"code.hybscloud.com/netpipe/registry"
	"code.hybscloud.com/netpipe/rpcerr"
	"code.hybscloud.com/netpipe/rpclog"
	"code.hybscloud.com/netpipe/stream"
	"code.hybscloud.com/netpipe/wire"
)

// engine is the shared state and receiver loop behind Async and Peer.
// isPeer selects whether inbound Request envelopes are dispatched
// through registry (Peer) or logged as unexpected (Async) — a single
// struct with a mode flag, per spec.md §9's design note, rather than
// three separate inheritance-style hierarchies.
type engine struct {
	str      stream.Stream
	table    *pending.Table
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   *rpclog.Logger

	maxConcurrent int
	pollInterval  time.Duration
	handlerPool   *errgroup.Group
	isPeer        bool

	sendMu    sync.Mutex
	running   atomicBool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// atomicBool avoids pulling in go.uber.org/atomic.Bool just for a flag
// two goroutines touch: the receiver loop reads it, Close writes it
// once. A plain mutex-guarded bool is the teacher's own idiom for
// infrequently-written flags (framer.go's closed bool under mu).
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) get() bool  { b.mu.Lock(); defer b.mu.Unlock(); return b.v }

func newEngine(s stream.Stream, isPeer bool, opts ...Option) *engine {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = rpclog.Nop()
	}
	logger = logger.WithSubsystem("remote")

	e := &engine{
		str:           s,
		table:         pending.NewTable(),
		registry:      registry.New(),
		metrics:       o.Metrics,
		logger:        logger,
		maxConcurrent: o.MaxConcurrent,
		pollInterval:  o.PollInterval,
		isPeer:        isPeer,
	}
	if o.HandlerPoolSize > 0 {
		g := &errgroup.Group{}
		g.SetLimit(o.HandlerPoolSize)
		e.handlerPool = g
	}
	_ = s.SetRecvTimeout(e.pollInterval)
	e.running.set(true)
	e.wg.Add(1)
	go e.receiveLoop()
	return e
}

// send serializes writes to str: both call() (outbound requests) and
// the receiver's own response/error replies (Peer) write concurrently.
func (e *engine) send(frame []byte) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.str.Send(frame)
}

func (e *engine) receiveLoop() {
	defer e.wg.Done()
	for e.running.get() {
		raw, err := e.str.Recv()
		if err != nil {
			if rpcerr.Of(err) == rpcerr.Timeout {
				continue // periodic wake to re-check running, per spec.md §5
			}
			if !e.running.get() {
				return
			}
			e.logger.Warn("receiver terminated", zap.Error(err))
			e.shutdown(err)
			return
		}
		env, err := wire.DecodeAuto(raw)
		if err != nil {
			e.logger.Warn("dropping undecodable envelope", zap.Error(err))
			continue
		}
		e.dispatch(env)
	}
}

func (e *engine) dispatch(env wire.Envelope) {
	switch {
	case env.Type == wire.Cancel:
		e.logger.Info("peer requested cancellation", zap.Uint32("request_id", env.RequestID))
	case env.Type == wire.Request:
		if e.isPeer {
			e.handleRequest(env)
		} else {
			e.logger.Warn("unexpected request on non-peer remote", zap.Uint32("request_id", env.RequestID))
		}
	default:
		e.handleResponse(env)
	}
}

func (e *engine) handleResponse(env wire.Envelope) {
	req, ok := e.table.Take(env.RequestID)
	if !ok {
		// Response to a cancelled or already-timed-out call: the
		// pending record is gone, so it is silently dropped, per
		// spec.md §5's cancellation semantics.
		e.logger.Debug("dropping response with no pending record", zap.Uint32("request_id", env.RequestID))
		return
	}
	if env.IsError() {
		req.Fail(rpcerr.New(rpcerr.IoError, string(env.Payload)))
		return
	}
	req.Complete(env.Payload)
}

func (e *engine) handleRequest(env wire.Envelope) {
	handler, err := e.registry.Get(env.MethodID)
	if err != nil {
		out := wire.EncodeV2(env.RequestID, env.MethodID, []byte(err.Error()), wire.Error, 0)
		if sendErr := e.send(out); sendErr != nil {
			e.logger.Warn("failed to send no-handler error", zap.Error(sendErr))
		}
		return
	}

	invoke := func() {
		start := time.Now()
		resp, herr := handler(env.Payload)
		if e.metrics != nil {
			e.metrics.RecordHandlerInvocation(uint64(time.Since(start).Microseconds()))
		}
		var out []byte
		if herr != nil {
			out = wire.EncodeV2(env.RequestID, env.MethodID, []byte(herr.Error()), wire.Error, 0)
		} else {
			out = wire.EncodeV2(env.RequestID, env.MethodID, resp, wire.Response, 0)
		}
		if err := e.send(out); err != nil {
			e.logger.Warn("failed to send handler response", zap.Error(err))
		}
	}

	if e.handlerPool == nil {
		invoke()
		return
	}
	// Go blocks until the pool has a free slot (SetLimit), giving the
	// bounded-concurrency handler pool spec.md §9 permits as an option.
	e.handlerPool.Go(func() error {
		invoke()
		return nil
	})
}

// call sends a V2 Request envelope and blocks for its response, honoring
// timeout and the metrics/max-concurrent options.
func (e *engine) call(methodID uint32, payload []byte, timeout time.Duration) ([]byte, error) {
	if e.maxConcurrent > 0 && e.table.Size() >= e.maxConcurrent {
		return nil, rpcerr.New(rpcerr.IoError, "max_concurrent in-flight requests reached")
	}

	id := e.table.NextID()
	req := e.table.New(id)
	frame := wire.EncodeV2(id, methodID, payload, wire.Request, 0)

	if e.metrics != nil {
		e.metrics.RecordCallStart(len(payload))
	}
	start := time.Now()

	if err := e.send(frame); err != nil {
		e.table.Remove(id)
		if e.metrics != nil {
			e.metrics.RecordCallEnd(false, false, 0, 0)
		}
		return nil, err
	}

	resp, rerr, timedOut := req.Wait(timeout)
	latency := uint64(time.Since(start).Microseconds())
	if timedOut {
		e.table.Remove(id)
		if e.metrics != nil {
			e.metrics.RecordCallEnd(false, true, latency, 0)
		}
		return nil, rpcerr.New(rpcerr.Timeout, "call timed out waiting for response")
	}
	if rerr != nil {
		if e.metrics != nil {
			e.metrics.RecordCallEnd(false, false, latency, 0)
		}
		return nil, rerr
	}
	if e.metrics != nil {
		e.metrics.RecordCallEnd(true, false, latency, len(resp))
	}
	return resp, nil
}

// cancel marks a pending call cancelled locally and best-effort notifies
// the peer. It returns false if the request already completed (its
// pending record is gone — the eventual, now-unwanted response will be
// dropped by handleResponse when it arrives).
func (e *engine) cancel(requestID uint32) bool {
	req, ok := e.table.Take(requestID)
	if !ok {
		return false
	}
	req.Cancel()
	out := wire.EncodeV2(requestID, 0, nil, wire.Cancel, 0)
	if err := e.send(out); err != nil {
		e.logger.Debug("failed to send cancel notification", zap.Error(err))
	}
	return true
}

func (e *engine) shutdown(cause error) {
	e.closeOnce.Do(func() {
		e.running.set(false)
		_ = e.str.Close()
		if cause == nil {
			cause = rpcerr.New(rpcerr.IoError, "remote closed")
		}
		for _, req := range e.table.Drain() {
			req.Fail(cause)
		}
	})
}

func (e *engine) close() error {
	e.running.set(false)
	_ = e.str.Close() // unblocks a goroutine parked in Recv
	e.wg.Wait()
	e.shutdown(rpcerr.New(rpcerr.IoError, "remote closed"))
	return nil
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package remote

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"code.hybscloud.com/netpipe/rpcerr"
	"code.hybscloud.com/netpipe/rpclog"
	"code.hybscloud.com/netpipe/stream"
	"code.hybscloud.com/netpipe/wire"
)

// StreamCallback receives each chunk of a server-streaming or
// bidirectional-streaming call as it arrives on the receiver goroutine.
// It must not block for long, since it runs inline in Streaming's
// receive loop.
type StreamCallback func(payload []byte)

// streamState is one in-flight logical stream: chunks queued by the
// receiver loop (or handed straight to callback, if one was given),
// completed once a StreamEnd or StreamError envelope arrives for its
// stream_id.
type streamState struct {
	mu        sync.Mutex
	cv        *sync.Cond
	chunks    [][]byte
	completed bool
	err       error
	callback  StreamCallback
}

func newStreamState(cb StreamCallback) *streamState {
	s := &streamState{callback: cb}
	s.cv = sync.NewCond(&s.mu)
	return s
}

func (s *streamState) pushData(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	if s.callback != nil {
		s.callback(payload)
		return
	}
	s.chunks = append(s.chunks, payload)
	s.cv.Broadcast()
}

func (s *streamState) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}
	s.err = err
	s.completed = true
	s.cv.Broadcast()
}

// waitCompleted blocks until finish is called or deadline elapses (a
// zero deadline blocks forever). sync.Cond has no timed wait, so a
// timer broadcasts the same cond once the deadline passes, the same
// idiom pending.Request.Wait uses.
func (s *streamState) waitCompleted(deadline time.Time) (timedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline.IsZero() {
		for !s.completed {
			s.cv.Wait()
		}
		return false
	}

	timer := time.AfterFunc(time.Until(deadline), func() {
		s.mu.Lock()
		s.cv.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	for !s.completed {
		if !time.Now().Before(deadline) {
			return true
		}
		s.cv.Wait()
	}
	return false
}

// result returns the first queued chunk (the client-streaming
// terminal response) and any completion error, once completed.
func (s *streamState) result() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return nil, s.err
	}
	return s.chunks[0], s.err
}

// Streaming implements the client/server/bidirectional streaming Remote
// variant: each logical stream reuses the envelope's request_id field
// as a stream_id, and a dedicated receiver goroutine dispatches
// StreamData/StreamEnd/StreamError envelopes to the matching
// streamState, independent of engine's single-response pending table.
type Streaming struct {
	str    stream.Stream
	logger *rpclog.Logger

	nextID atomic.Uint32

	mu      sync.Mutex
	streams map[uint32]*streamState

	running   atomicBool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStreaming wraps an already-connected Stream and starts its
// receiver goroutine immediately. WithPollInterval overrides the
// receiver's recv-timeout poll, same as Async/Peer.
func NewStreaming(s stream.Stream, opts ...Option) *Streaming {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = rpclog.Nop()
	}
	logger = logger.WithSubsystem("remote")

	st := &Streaming{
		str:     s,
		logger:  logger,
		streams: make(map[uint32]*streamState),
	}
	_ = s.SetRecvTimeout(o.PollInterval)
	st.running.set(true)
	st.wg.Add(1)
	go st.receiveLoop()
	return st
}

func (st *Streaming) receiveLoop() {
	defer st.wg.Done()
	for st.running.get() {
		raw, err := st.str.Recv()
		if err != nil {
			if rpcerr.Of(err) == rpcerr.Timeout {
				continue // periodic wake to re-check running, per spec.md §5
			}
			if !st.running.get() {
				return
			}
			st.logger.Warn("streaming receiver terminated", zap.Error(err))
			st.shutdown(err)
			return
		}
		env, err := wire.DecodeAuto(raw)
		if err != nil {
			st.logger.Warn("dropping undecodable stream envelope", zap.Error(err))
			continue
		}
		st.dispatch(env)
	}
}

func (st *Streaming) dispatch(env wire.Envelope) {
	state, ok := st.lookup(env.RequestID)
	if !ok {
		st.logger.Debug("dropping stream message for unknown stream_id", zap.Uint32("stream_id", env.RequestID))
		return
	}
	switch env.Type {
	case wire.StreamData:
		state.pushData(env.Payload)
	case wire.StreamEnd:
		state.finish(nil)
	case wire.StreamError:
		state.finish(rpcerr.New(rpcerr.IoError, string(env.Payload)))
	default:
		st.logger.Debug("dropping non-stream envelope on streaming remote", zap.Stringer("type", env.Type))
	}
}

func (st *Streaming) register(cb StreamCallback) (uint32, *streamState) {
	id := st.nextID.Inc()
	state := newStreamState(cb)
	st.mu.Lock()
	st.streams[id] = state
	st.mu.Unlock()
	return id, state
}

func (st *Streaming) lookup(id uint32) (*streamState, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.streams[id]
	return s, ok
}

func (st *Streaming) forget(id uint32) {
	st.mu.Lock()
	delete(st.streams, id)
	st.mu.Unlock()
}

func deadlineFromTimeout(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// ClientStream sends each of chunks as a StreamData envelope (the last
// one additionally flagged Final), then blocks for a single terminating
// response, returning its payload. Mirrors client_stream in the
// original streaming design: many requests in, one response out.
func (st *Streaming) ClientStream(methodID uint32, chunks [][]byte, timeout time.Duration) ([]byte, error) {
	id, state := st.register(nil)
	defer st.forget(id)

	for i, chunk := range chunks {
		flags := wire.FlagStreaming
		if i == len(chunks)-1 {
			flags |= wire.FlagFinal
		}
		frame := wire.EncodeV2(id, methodID, chunk, wire.StreamData, flags)
		if err := st.str.Send(frame); err != nil {
			return nil, err
		}
	}

	if timedOut := state.waitCompleted(deadlineFromTimeout(timeout)); timedOut {
		return nil, rpcerr.New(rpcerr.Timeout, "client stream timed out waiting for a response")
	}
	return state.result()
}

// ServerStream sends a single streaming request and delivers each
// response chunk to callback as it arrives, returning once the peer
// sends StreamEnd or StreamError: one request in, many chunks out.
func (st *Streaming) ServerStream(methodID uint32, request []byte, callback StreamCallback, timeout time.Duration) error {
	id, state := st.register(callback)
	defer st.forget(id)

	frame := wire.EncodeV2(id, methodID, request, wire.Request, wire.FlagStreaming|wire.FlagRequiresAck)
	if err := st.str.Send(frame); err != nil {
		return err
	}

	if timedOut := state.waitCompleted(deadlineFromTimeout(timeout)); timedOut {
		return rpcerr.New(rpcerr.Timeout, "server stream timed out")
	}
	_, err := state.result()
	return err
}

// BidirectionalStream opens a new stream, registering callback to
// receive response chunks as they arrive, and returns the stream_id to
// pass to SendChunk and EndStream for the outbound half.
func (st *Streaming) BidirectionalStream(methodID uint32, callback StreamCallback) (uint32, error) {
	id, _ := st.register(callback)
	frame := wire.EncodeV2(id, methodID, nil, wire.Request, wire.FlagStreaming)
	if err := st.str.Send(frame); err != nil {
		st.forget(id)
		return 0, err
	}
	return id, nil
}

// SendChunk sends one outbound chunk on an open bidirectional stream.
func (st *Streaming) SendChunk(streamID uint32, chunk []byte, final bool) error {
	flags := wire.FlagStreaming
	if final {
		flags |= wire.FlagFinal
	}
	return st.str.Send(wire.EncodeV2(streamID, 0, chunk, wire.StreamData, flags))
}

// EndStream sends a StreamEnd envelope for streamID and stops tracking
// it locally.
func (st *Streaming) EndStream(streamID uint32) error {
	defer st.forget(streamID)
	return st.str.Send(wire.EncodeV2(streamID, 0, nil, wire.StreamEnd, 0))
}

// ActiveStreamCount returns the number of streams this Streaming is
// currently tracking (in flight or awaiting completion).
func (st *Streaming) ActiveStreamCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.streams)
}

func (st *Streaming) shutdown(cause error) {
	st.closeOnce.Do(func() {
		st.running.set(false)
		_ = st.str.Close()
		if cause == nil {
			cause = rpcerr.New(rpcerr.IoError, "streaming remote closed")
		}
		st.mu.Lock()
		states := make([]*streamState, 0, len(st.streams))
		for _, s := range st.streams {
			states = append(states, s)
		}
		st.streams = make(map[uint32]*streamState)
		st.mu.Unlock()
		for _, s := range states {
			s.finish(cause)
		}
	})
}

// Close stops the receiver goroutine and fails every active stream.
func (st *Streaming) Close() error {
	st.running.set(false)
	_ = st.str.Close() // unblocks a goroutine parked in Recv
	st.wg.Wait()
	st.shutdown(rpcerr.New(rpcerr.IoError, "streaming remote closed"))
	return nil
}

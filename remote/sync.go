// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package remote

import (
	"time"

	"code.hybscloud.com/netpipe/registry"
	"code.hybscloud.com/netpipe/rpcerr"
	"code.hybscloud.com/netpipe/stream"
	"code.hybscloud.com/netpipe/wire"
)

// Sync is the simplest Remote variant (spec.md §4.E.1): one request
// in flight at a time, no background goroutine, speaking the legacy V1
// envelope on both Call and Serve. Its Call/Serve pair directly mirrors
// request/reply code that predates method_id multiplexing.
type Sync struct {
	str    stream.Stream
	nextID uint32
}

// NewSync wraps an already-connected Stream for synchronous call/reply
// use. Sync takes no Options: it has no receiver task, metrics, or
// handler pool to configure.
func NewSync(s stream.Stream) *Sync {
	return &Sync{str: s}
}

// Call sends payload as a V1 request and blocks for the matching V1
// response, honoring timeout as the stream's recv timeout. It is not
// safe to call Call concurrently from multiple goroutines: spec.md
// §4.E.1 fixes Sync's concurrency model at exactly one caller.
func (s *Sync) Call(payload []byte, timeout time.Duration) ([]byte, error) {
	s.nextID++
	id := s.nextID

	if err := s.str.SetRecvTimeout(timeout); err != nil {
		return nil, err
	}
	if err := s.str.Send(wire.EncodeV1(id, payload, false)); err != nil {
		return nil, err
	}

	raw, err := s.str.Recv()
	if err != nil {
		return nil, err
	}
	env, err := wire.DecodeAuto(raw)
	if err != nil {
		return nil, err
	}
	if env.RequestID != id {
		return nil, rpcerr.New(rpcerr.InvalidArgument, "response request_id does not match the outstanding call")
	}
	if env.IsError() {
		return nil, rpcerr.New(rpcerr.IoError, string(env.Payload))
	}
	return env.Payload, nil
}

// Serve loops forever, handling one request at a time on the calling
// goroutine: recv, decode, invoke handler, encode, send. It returns
// when the stream fails, propagating that error.
func (s *Sync) Serve(handler registry.Handler) error {
	for {
		raw, err := s.str.Recv()
		if err != nil {
			return err
		}
		env, err := wire.DecodeAuto(raw)
		if err != nil {
			return err
		}

		resp, herr := handler(env.Payload)
		var out []byte
		if herr != nil {
			out = wire.EncodeV1(env.RequestID, []byte(herr.Error()), true)
		} else {
			out = wire.EncodeV1(env.RequestID, resp, false)
		}
		if err := s.str.Send(out); err != nil {
			return err
		}
	}
}

// Close releases the underlying Stream.
func (s *Sync) Close() error { return s.str.Close() }

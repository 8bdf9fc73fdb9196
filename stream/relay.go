// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stream

// Relay forwards whole messages from src to dst, preserving message
// boundaries, one message per RelayOnce call. Unlike the teacher's
// framer.Forwarder (a non-blocking two-phase state machine over raw
// io.Reader/io.Writer), Relay's src/dst are already-framed Streams, so
// RelayOnce collapses to one Recv + one Send; the blocking/timeout
// behavior of each phase is whatever the underlying Stream implements.
type Relay struct {
	src, dst Stream
}

// NewRelay constructs a Relay that moves messages from src to dst.
func NewRelay(dst, src Stream) *Relay {
	return &Relay{src: src, dst: dst}
}

// RelayOnce forwards at most one message, returning its length. A
// Timeout from src is returned unchanged so the caller can retry.
func (r *Relay) RelayOnce() (int, error) {
	msg, err := r.src.Recv()
	if err != nil {
		return 0, err
	}
	if err := r.dst.Send(msg); err != nil {
		return len(msg), err
	}
	return len(msg), nil
}

// RelayUntilClosed relays messages until RelayOnce returns an error for
// which isTimeout reports false, and returns that error. Errors for
// which isTimeout reports true are swallowed and the loop retries, so
// src's recv timeout only sets how often the loop wakes, not how long it
// runs. A nil isTimeout makes every error end the loop.
func (r *Relay) RelayUntilClosed(isTimeout func(error) bool) error {
	for {
		_, err := r.RelayOnce()
		if err == nil {
			continue
		}
		if isTimeout != nil && isTimeout(err) {
			continue
		}
		return err
	}
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmstream

import (
	"encoding/binary"
	"time"

	"code.hybscloud.com/iox"

	"code.hybscloud.com/netpipe/rpcerr"
)

const frameHeaderLen = 4 // u32 big-endian payload length, same as wire's outer frame

// ring is a single SPSC byte ring over one mmap'd region: exactly one
// producer and one consumer, their roles fixed at creation.
type ring struct {
	r            *region
	pollInterval time.Duration
}

func newRing(r *region, pollInterval time.Duration) *ring {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &ring{r: r, pollInterval: pollInterval}
}

func (rg *ring) close() error { return rg.r.close() }

// occupied returns the number of bytes currently available to the
// consumer: write_pos - read_pos, observed with sequentially consistent
// loads (see region.go doc comment on ordering).
func (rg *ring) occupied() uint64 {
	return rg.r.writePos() - rg.r.readPos()
}

func (rg *ring) free() uint64 {
	return rg.r.capacity() - rg.occupied()
}

// writeAt copies src into the ring buffer starting at logical position
// pos, splitting at the wrap-around point into two contiguous spans.
func (rg *ring) writeAt(pos uint64, src []byte) {
	buf := rg.r.buffer()
	cap64 := uint64(len(buf))
	off := pos % cap64
	n := copy(buf[off:], src)
	if n < len(src) {
		copy(buf[:], src[n:])
	}
}

// readAt copies len(dst) bytes from the ring buffer starting at
// logical position pos into dst, without advancing read_pos. Used by
// popFrame to peek the length header and payload before committing.
func (rg *ring) readAt(pos uint64, dst []byte) {
	buf := rg.r.buffer()
	cap64 := uint64(len(buf))
	off := pos % cap64
	n := copy(dst, buf[off:])
	if n < len(dst) {
		copy(dst[n:], buf[:])
	}
}

// tryPushFrame is the non-blocking primitive: it writes payload as a
// single length-prefixed frame if there is room, or returns
// iox.ErrWouldBlock immediately if there is not, following the
// teacher's own non-blocking-first framing (framer.go's WriteTo over
// iox.ErrWouldBlock) rather than parking the caller.
func (rg *ring) tryPushFrame(payload []byte) error {
	total := uint64(frameHeaderLen + len(payload))
	if total > rg.r.capacity() {
		return rpcerr.New(rpcerr.InvalidArgument, "message too large for ring capacity")
	}
	if rg.free() < total {
		return iox.ErrWouldBlock
	}

	frame := make([]byte, total)
	binary.BigEndian.PutUint32(frame[:frameHeaderLen], uint32(len(payload)))
	copy(frame[frameHeaderLen:], payload)

	pos := rg.r.writePos()
	rg.writeAt(pos, frame)
	rg.r.storeWritePos(pos + total)
	return nil
}

// pushFrame retries tryPushFrame on iox.ErrWouldBlock (busy-poll with
// sleep) until there is room, honoring deadline (zero means block
// forever). It returns rpcerr.Timeout if deadline elapses first.
func (rg *ring) pushFrame(payload []byte, deadline time.Time) error {
	for {
		err := rg.tryPushFrame(payload)
		if err == nil || err != iox.ErrWouldBlock {
			return err
		}
		if pastDeadline(deadline) {
			return rpcerr.New(rpcerr.Timeout, "send timed out waiting for ring space")
		}
		time.Sleep(rg.pollInterval)
	}
}

// tryPopFrame is the non-blocking primitive behind popFrame: it returns
// iox.ErrWouldBlock if a complete frame is not yet available, without
// advancing read_pos, mirroring tryPushFrame.
func (rg *ring) tryPopFrame() ([]byte, error) {
	if rg.occupied() < frameHeaderLen {
		return nil, iox.ErrWouldBlock
	}

	readPos := rg.r.readPos()
	var lenBuf [frameHeaderLen]byte
	rg.readAt(readPos, lenBuf[:])
	length := binary.BigEndian.Uint32(lenBuf[:])

	total := uint64(frameHeaderLen) + uint64(length)
	if total > rg.r.capacity() {
		return nil, rpcerr.New(rpcerr.InvalidArgument, "declared frame length exceeds ring capacity")
	}
	if rg.occupied() < total {
		return nil, iox.ErrWouldBlock
	}

	payload := make([]byte, length)
	rg.readAt(readPos+frameHeaderLen, payload)
	rg.r.storeReadPos(readPos + total)
	return payload, nil
}

// popFrame retries tryPopFrame on iox.ErrWouldBlock until a complete
// length-prefixed frame is available, then returns its payload. Per
// spec.md §4.C, read_pos only advances once the full frame
// (header+payload) has been staged locally — a partially arrived
// payload never leaves the ring in an inconsistent state, and a
// timeout while waiting for the payload leaves read_pos untouched so a
// later popFrame call can pick up where this one left off.
func (rg *ring) popFrame(deadline time.Time) ([]byte, error) {
	for {
		payload, err := rg.tryPopFrame()
		if err == nil {
			return payload, nil
		}
		if err != iox.ErrWouldBlock {
			return nil, err
		}
		if pastDeadline(deadline) {
			return nil, rpcerr.New(rpcerr.Timeout, "recv timed out waiting for frame")
		}
		time.Sleep(rg.pollInterval)
	}
}

func pastDeadline(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

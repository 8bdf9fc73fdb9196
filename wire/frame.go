// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"code.hybscloud.com/netpipe/rpcerr"
)

// DefaultMaxMessageSize bounds both inbound and outbound payloads. It is
// a process-wide constant in spirit; tests may override MaxMessageSize
// directly since Go has no notion of a recompiled constant.
const DefaultMaxMessageSize = 64 << 20 // 64 MiB

// MaxMessageSize is the size an implementation enforces against a
// framed payload's declared length before allocating the receive
// buffer. Overridable at process start for embedding contexts with a
// different budget; not intended to change mid-run.
var MaxMessageSize = DefaultMaxMessageSize

// outerHeaderLen is the size of the 4-byte big-endian length prefix that
// precedes every message placed on a Stream, independent of envelope
// version.
const outerHeaderLen = 4

// WriteFrame prepends a 4-byte big-endian length prefix to payload and
// writes length+payload as a single logical write. Mirrors the
// teacher's writeStream: header then payload, exact-length retried by
// the caller's io.Writer (net.Conn already retries short writes at the
// syscall layer; WriteFrame only guards against the io.Writer contract
// being violated by a pathological implementation).
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return rpcerr.New(rpcerr.InvalidArgument, "payload exceeds max message size")
	}
	buf := make([]byte, outerHeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[:outerHeaderLen], uint32(len(payload)))
	copy(buf[outerHeaderLen:], payload)
	if _, err := writeFull(w, buf); err != nil {
		return rpcerr.Wrap(rpcerr.IoError, "write frame", err)
	}
	return nil
}

// writeFull provides the exact-length write semantics WriteFrame needs,
// retrying on partial writes the same way io.ReadFull retries partial
// reads.
func writeFull(w io.Writer, buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// ReadFrame reads exactly one framed message: a 4-byte big-endian
// length prefix followed by that many payload bytes. It validates the
// declared length against MaxMessageSize before allocating, per spec.
//
// Errors: rpcerr.NotFound if the peer closed the connection cleanly at
// a message boundary (io.EOF while reading the length prefix);
// rpcerr.InvalidArgument if the declared length exceeds MaxMessageSize;
// rpcerr.IoError for any other read failure, including a partial read
// of the length prefix or payload (io.ErrUnexpectedEOF).
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [outerHeaderLen]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, rpcerr.Wrap(rpcerr.NotFound, "peer closed connection", err)
		}
		return nil, rpcerr.Wrap(rpcerr.IoError, "read frame length", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if int(length) > MaxMessageSize {
		return nil, rpcerr.New(rpcerr.InvalidArgument, "declared frame length exceeds max message size")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, rpcerr.Wrap(rpcerr.IoError, "read frame payload", err)
	}
	return payload, nil
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the V1 and V2 message envelopes and the outer
// length-prefixed stream framing layer that carries them.
//
// The codec is stateless and thread-safe: it performs no I/O and no
// allocation beyond the output buffer it returns. Integers are always
// big-endian, independent of host byte order — see the header comments
// on EncodeV1/EncodeV2 for the exact wire layout.
package wire

import (
	"encoding/binary"

	"code.hybscloud.com/netpipe/rpcerr"
)

// Type identifies the purpose of a V2 envelope.
type Type uint8

const (
	Request     Type = 1
	Response    Type = 2
	Error       Type = 3
	StreamData  Type = 4
	StreamEnd   Type = 5
	StreamError Type = 6
	Cancel      Type = 7
	Notification Type = 8
)

func (t Type) String() string {
	switch t {
	case Request:
		return "request"
	case Response:
		return "response"
	case Error:
		return "error"
	case StreamData:
		return "stream_data"
	case StreamEnd:
		return "stream_end"
	case StreamError:
		return "stream_error"
	case Cancel:
		return "cancel"
	case Notification:
		return "notification"
	default:
		return "unknown"
	}
}

// recognized reports whether t is one of the Type values a V2 decoder
// will accept when auto-detecting the envelope version.
func (t Type) recognized() bool {
	return t >= Request && t <= Notification
}

// Flag bits, independent and may co-occur.
const (
	FlagStreaming    uint16 = 0x0002
	FlagRequiresAck  uint16 = 0x0001
	FlagCompressed   uint16 = 0x0004
	FlagFinal        uint16 = 0x0008
)

// V1HeaderSize is the minimum framed size of a V1 envelope (no payload).
const V1HeaderSize = 9

// V2HeaderSize is the fixed header size of a V2 envelope.
const V2HeaderSize = 16

// v2Version is the only version byte this codec emits or accepts for V2.
const v2Version = 2

// Envelope is the decoded, version-normalized shape of a message. V1
// envelopes are mapped into this shape by DecodeAuto with MethodID=0 and
// Type=Response, or Type=Error when the V1 is_error byte is set.
type Envelope struct {
	Version   uint8
	Type      Type
	Flags     uint16
	RequestID uint32
	MethodID  uint32
	Payload   []byte
}

// IsError reports whether this envelope carries an error-type payload,
// covering the V1 is_error byte and the V2 Error and StreamError types.
func (e Envelope) IsError() bool {
	return e.Type == Error || e.Type == StreamError
}

// EncodeV1 emits the legacy envelope: request_id(4) ‖ is_error(1) ‖
// length(4) ‖ payload.
func EncodeV1(requestID uint32, payload []byte, isError bool) []byte {
	buf := make([]byte, V1HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], requestID)
	if isError {
		buf[4] = 1
	}
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(payload)))
	copy(buf[9:], payload)
	return buf
}

// EncodeV2 emits the current envelope: version(1)=2 ‖ type(1) ‖
// flags(2) ‖ request_id(4) ‖ method_id(4) ‖ length(4) ‖ payload.
func EncodeV2(requestID, methodID uint32, payload []byte, typ Type, flags uint16) []byte {
	buf := make([]byte, V2HeaderSize+len(payload))
	buf[0] = v2Version
	buf[1] = byte(typ)
	binary.BigEndian.PutUint16(buf[2:4], flags)
	binary.BigEndian.PutUint32(buf[4:8], requestID)
	binary.BigEndian.PutUint32(buf[8:12], methodID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(payload)))
	copy(buf[16:], payload)
	return buf
}

// DecodeV1 decodes the legacy envelope, returning InvalidArgument if b is
// too short to hold a header, or if the declared length does not match
// the remaining bytes.
func DecodeV1(b []byte) (Envelope, error) {
	if len(b) < V1HeaderSize {
		return Envelope{}, rpcerr.New(rpcerr.InvalidArgument, "v1 envelope shorter than header")
	}
	requestID := binary.BigEndian.Uint32(b[0:4])
	isError := b[4] != 0
	length := binary.BigEndian.Uint32(b[5:9])
	if V1HeaderSize+int(length) != len(b) {
		return Envelope{}, rpcerr.New(rpcerr.InvalidArgument, "v1 declared length mismatch")
	}
	typ := Response
	if isError {
		typ = Error
	}
	return Envelope{
		Version:   1,
		Type:      typ,
		RequestID: requestID,
		MethodID:  0,
		Payload:   b[V1HeaderSize:],
	}, nil
}

// DecodeV2 decodes the current envelope. It fails with InvalidArgument
// if b is shorter than V2HeaderSize, if the version byte is not 2, or if
// the declared length does not match the remaining bytes exactly.
func DecodeV2(b []byte) (Envelope, error) {
	if len(b) < V2HeaderSize {
		return Envelope{}, rpcerr.New(rpcerr.InvalidArgument, "v2 envelope shorter than header")
	}
	if b[0] != v2Version {
		return Envelope{}, rpcerr.New(rpcerr.InvalidArgument, "unsupported envelope version")
	}
	typ := Type(b[1])
	flags := binary.BigEndian.Uint16(b[2:4])
	requestID := binary.BigEndian.Uint32(b[4:8])
	methodID := binary.BigEndian.Uint32(b[8:12])
	length := binary.BigEndian.Uint32(b[12:16])
	if V2HeaderSize+int(length) != len(b) {
		return Envelope{}, rpcerr.New(rpcerr.InvalidArgument, "v2 declared length mismatch")
	}
	return Envelope{
		Version:   2,
		Type:      typ,
		Flags:     flags,
		RequestID: requestID,
		MethodID:  methodID,
		Payload:   b[V2HeaderSize:],
	}, nil
}

// DecodeAuto identifies V2 if the first byte is 2 and the second byte is
// a recognized Type value; otherwise it falls back to V1 and maps the
// result into V2 shape (MethodID=0; Type=Response, or Type=Error when
// the V1 is_error byte is set).
func DecodeAuto(b []byte) (Envelope, error) {
	if len(b) >= 2 && b[0] == v2Version && Type(b[1]).recognized() {
		return DecodeV2(b)
	}
	return DecodeV1(b)
}

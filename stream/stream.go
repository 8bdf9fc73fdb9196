// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stream defines the Stream contract (spec.md §4.B): a
// reliable, ordered, message-framed bidirectional byte channel between
// exactly two endpoints, plus thin TCP and Unix-domain-socket
// implementations of it (spec.md §6). The shared-memory implementation
// lives in package shmstream since it does not wrap a net.Conn.
package stream

import "time"

// Stream is the abstract bidirectional reliable byte channel every
// transport in this module implements.
//
// Connection-survives-timeout invariant: after Recv returns a Timeout
// error, the Stream MUST remain usable for both Send and Recv. Only
// I/O errors, peer close, or size-validation failure transition a
// connected Stream to disconnected.
type Stream interface {
	// Connect opens the channel to endpoint as a client.
	Connect(endpoint string) error
	// Listen binds endpoint as a server, awaiting Accept calls.
	Listen(endpoint string) error
	// Accept consumes one pending incoming peer and returns a new,
	// already-connected Stream. The listening Stream remains listening.
	Accept() (Stream, error)
	// Send frames and writes one message.
	Send(message []byte) error
	// Recv reads exactly one framed message.
	Recv() ([]byte, error)
	// SetRecvTimeout configures how long Recv waits for a message
	// before returning a Timeout error. 0 means block forever.
	SetRecvTimeout(d time.Duration) error
	// Close releases resources. Idempotent.
	Close() error
	// IsConnected reports whether the Stream is currently usable.
	IsConnected() bool
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmstream

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.hybscloud.com/netpipe/rpcerr"
	"code.hybscloud.com/netpipe/stream"
)

// longestSuffix is the longest region-name suffix this package appends
// to a base channel name: "_<uint32>_s2c" in the worst case (10-digit
// slot index).
const longestSuffix = "_4294967295_s2c"

// maxPlatformNameLen mirrors the common filesystem filename limit
// (255 bytes on Linux/most POSIX systems, which back both /dev/shm and
// the temp-dir fallback used by regionDir).
const maxPlatformNameLen = 255

// maxChannelNameLen is the largest base channel name Listen/Connect
// accept, leaving room for the longest suffix this package appends.
const maxChannelNameLen = maxPlatformNameLen - len(longestSuffix)

// Endpoint identifies a shared-memory channel and the per-ring buffer
// size used for both directions.
type Endpoint struct {
	Channel    string
	BufferSize uint64
}

// String encodes e as the endpoint string accepted by Stream's
// Connect/Listen (package stream's contract is an opaque string).
func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%d", e.Channel, e.BufferSize)
}

// ParseEndpoint decodes a "<channel>@<bufferSize>" endpoint string.
func ParseEndpoint(s string) (Endpoint, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 {
		return Endpoint{}, rpcerr.New(rpcerr.InvalidArgument, "shm endpoint must be \"channel@bufferSize\"")
	}
	size, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Endpoint{}, rpcerr.Wrap(rpcerr.InvalidArgument, "invalid shm buffer size", err)
	}
	return Endpoint{Channel: parts[0], BufferSize: size}, nil
}

func validateChannelName(name string) error {
	if name == "" {
		return rpcerr.New(rpcerr.InvalidArgument, "empty shm channel name")
	}
	if len(name) > maxChannelNameLen {
		return rpcerr.New(rpcerr.InvalidArgument, "shm channel name exceeds platform limit")
	}
	return nil
}

// Stream implements stream.Stream over two SPSC byte rings (spec.md §4.C).
type Stream struct {
	channel      string
	bufferSize   uint64
	pollInterval time.Duration

	mu          sync.Mutex
	recvTimeout time.Duration
	connected   bool

	// listening state
	listening      bool
	cq             *connq
	lastServedSlot int

	// connected state. Each ring's underlying region already remembers
	// whether this process created it, via region.creator, so closing
	// a ring unlinks its file exactly when this side was the creator —
	// no separate bookkeeping is needed here.
	recvRing *ring
	sendRing *ring
}

// New returns an unconnected Stream. pollInterval overrides the default
// ~5µs busy-poll sleep used while blocked on ring space/data; zero uses
// the default.
func New(pollInterval time.Duration) *Stream {
	return &Stream{pollInterval: pollInterval}
}

func (s *Stream) Connect(endpoint string) error {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return err
	}
	if err := validateChannelName(ep.Channel); err != nil {
		return err
	}

	cq, err := openConnQueue(ep.Channel + "_connq")
	if err != nil {
		return rpcerr.Wrap(rpcerr.IoError, "shm server not listening", err)
	}
	defer cq.close()

	slot, err := cq.claimSlot()
	if err != nil {
		return err
	}

	s2cName, c2sName := slotNames(ep.Channel, slot)
	s2cRegion, err := createRegion(s2cName, ep.BufferSize)
	if err != nil {
		return err
	}
	c2sRegion, err := createRegion(c2sName, ep.BufferSize)
	if err != nil {
		_ = s2cRegion.close()
		return err
	}

	s.mu.Lock()
	s.channel = ep.Channel
	s.bufferSize = ep.BufferSize
	s.recvRing = newRing(s2cRegion, s.pollInterval) // client consumes s2c
	s.sendRing = newRing(c2sRegion, s.pollInterval) // client produces c2s
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Stream) Listen(endpoint string) error {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return err
	}
	if err := validateChannelName(ep.Channel); err != nil {
		return err
	}

	cq, err := createConnQueue(ep.Channel + "_connq")
	if err != nil {
		return rpcerr.Wrap(rpcerr.IoError, "listen on shm channel", err)
	}

	s.mu.Lock()
	s.channel = ep.Channel
	s.bufferSize = ep.BufferSize
	s.cq = cq
	s.listening = true
	s.mu.Unlock()
	return nil
}

func (s *Stream) Accept() (stream.Stream, error) {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return nil, rpcerr.New(rpcerr.InvalidArgument, "shm stream is not listening")
	}
	cq := s.cq
	channel := s.channel
	bufferSize := s.bufferSize
	from := s.lastServedSlot
	poll := s.pollInterval
	s.mu.Unlock()

	idx, err := cq.pollForPending(from, time.Time{}, pollOr(poll))
	if err != nil {
		return nil, err
	}

	s2cName, c2sName := slotNames(channel, idx)
	s2cRegion, err := openRegion(s2cName)
	if err != nil {
		return nil, err
	}
	c2sRegion, err := openRegion(c2sName)
	if err != nil {
		_ = s2cRegion.close()
		return nil, err
	}

	accepted := &Stream{
		channel:      channel,
		bufferSize:   bufferSize,
		pollInterval: poll,
		sendRing:     newRing(s2cRegion, poll), // server produces s2c
		recvRing:     newRing(c2sRegion, poll), // server consumes c2s
		connected:    true,
	}

	cq.markAccepted(idx)
	s.mu.Lock()
	s.lastServedSlot = idx + 1
	s.mu.Unlock()

	return accepted, nil
}

func pollOr(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultPollInterval
	}
	return d
}

// maxMessageSize returns the per-message cap for this channel: half the
// configured buffer size, per spec.md §3, to let both directions make
// progress concurrently.
func (s *Stream) maxMessageSize() uint64 {
	return s.bufferSize / 2
}

func (s *Stream) Send(message []byte) error {
	s.mu.Lock()
	ring := s.sendRing
	connected := s.connected
	timeout := s.recvTimeout
	maxSize := s.maxMessageSize()
	s.mu.Unlock()

	if !connected || ring == nil {
		return rpcerr.New(rpcerr.NotFound, "shm stream is disconnected")
	}
	if uint64(len(message)) > maxSize {
		return rpcerr.New(rpcerr.InvalidArgument, "message exceeds half the shm channel buffer size")
	}

	deadline := deadlineFrom(timeout)
	if err := ring.pushFrame(message, deadline); err != nil {
		return err
	}
	return nil
}

func (s *Stream) Recv() ([]byte, error) {
	s.mu.Lock()
	ring := s.recvRing
	connected := s.connected
	timeout := s.recvTimeout
	s.mu.Unlock()

	if !connected || ring == nil {
		return nil, rpcerr.New(rpcerr.NotFound, "shm stream is disconnected")
	}

	deadline := deadlineFrom(timeout)
	payload, err := ring.popFrame(deadline)
	if err != nil {
		// A Timeout leaves the stream connected per the
		// connection-survives-timeout invariant; any other error
		// (InvalidArgument on a corrupt length) disconnects it.
		if rpcerr.Of(err) != rpcerr.Timeout {
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
		}
		return nil, err
	}
	return payload, nil
}

func deadlineFrom(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func (s *Stream) SetRecvTimeout(d time.Duration) error {
	s.mu.Lock()
	s.recvTimeout = d
	s.mu.Unlock()
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected && !s.listening {
		return nil
	}
	s.connected = false
	s.listening = false

	var firstErr error
	if s.recvRing != nil {
		if err := s.recvRing.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.recvRing = nil
	}
	if s.sendRing != nil {
		if err := s.sendRing.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.sendRing = nil
	}
	if s.cq != nil {
		if err := s.cq.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.cq = nil
	}
	return firstErr
}

func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

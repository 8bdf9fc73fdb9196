// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stream

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"code.hybscloud.com/netpipe/rpcerr"
	"code.hybscloud.com/netpipe/wire"
)

// netStream implements Stream over a net.Conn/net.Listener pair for the
// two kernel-socket transports (TCP, Unix). Framing is delegated to
// wire.ReadFrame/wire.WriteFrame; this type's job is endpoint handling,
// timeout-to-deadline mapping, and the connection-survives-timeout
// invariant spec.md §4.B requires.
type netStream struct {
	network string // "tcp" or "unix"

	mu          sync.Mutex
	conn        net.Conn
	ln          net.Listener
	recvTimeout time.Duration
	connected   bool
	unlinkPath  string // set for a Unix listener that must unlink on close
}

// NewTCP returns an unconnected Stream for IPv4 TCP.
func NewTCP() Stream { return &netStream{network: "tcp"} }

// NewUnix returns an unconnected Stream for Unix-domain sockets.
func NewUnix() Stream { return &netStream{network: "unix"} }

func wrapConn(network string, c net.Conn) *netStream {
	return &netStream{network: network, conn: c, connected: true}
}

func (s *netStream) Connect(endpoint string) error {
	if endpoint == "" {
		return rpcerr.New(rpcerr.InvalidArgument, "empty endpoint")
	}
	if s.network == "unix" && len(endpoint) > maxUnixPathLen {
		return rpcerr.New(rpcerr.InvalidArgument, "unix socket path exceeds platform limit")
	}
	c, err := net.Dial(s.network, endpoint)
	if err != nil {
		return rpcerr.Wrap(rpcerr.IoError, "dial", err)
	}
	s.mu.Lock()
	s.conn = c
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *netStream) Listen(endpoint string) error {
	if endpoint == "" {
		return rpcerr.New(rpcerr.InvalidArgument, "empty endpoint")
	}
	if s.network == "unix" {
		if len(endpoint) > maxUnixPathLen {
			return rpcerr.New(rpcerr.InvalidArgument, "unix socket path exceeds platform limit")
		}
		// Unlink any stale path before binding, and remember to unlink
		// on close.
		_ = os.Remove(endpoint)
	}
	ln, err := net.Listen(s.network, endpoint)
	if err != nil {
		return rpcerr.Wrap(rpcerr.IoError, "listen", err)
	}
	s.mu.Lock()
	s.ln = ln
	if s.network == "unix" {
		s.unlinkPath = endpoint
	}
	s.mu.Unlock()
	return nil
}

func (s *netStream) Accept() (Stream, error) {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil, rpcerr.New(rpcerr.InvalidArgument, "stream is not listening")
	}
	c, err := ln.Accept()
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.IoError, "accept", err)
	}
	return wrapConn(s.network, c), nil
}

func (s *netStream) Send(message []byte) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.mu.Unlock()
	if !connected || conn == nil {
		return rpcerr.New(rpcerr.NotFound, "stream is disconnected")
	}
	if err := wire.WriteFrame(conn, message); err != nil {
		s.markDisconnected()
		return err
	}
	return nil
}

func (s *netStream) Recv() ([]byte, error) {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	timeout := s.recvTimeout
	s.mu.Unlock()
	if !connected || conn == nil {
		return nil, rpcerr.New(rpcerr.NotFound, "stream is disconnected")
	}

	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	payload, err := wire.ReadFrame(conn)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// Timeout: the connection-survives-timeout invariant means
			// we must NOT mark the stream disconnected here.
			return nil, rpcerr.New(rpcerr.Timeout, "recv timed out")
		}
		s.markDisconnected()
		return nil, err
	}
	return payload, nil
}

func (s *netStream) SetRecvTimeout(d time.Duration) error {
	s.mu.Lock()
	s.recvTimeout = d
	s.mu.Unlock()
	return nil
}

func (s *netStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if s.ln != nil {
		if lerr := s.ln.Close(); lerr != nil && err == nil {
			err = lerr
		}
		s.ln = nil
	}
	if s.unlinkPath != "" {
		_ = os.Remove(s.unlinkPath)
		s.unlinkPath = ""
	}
	return err
}

func (s *netStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *netStream) markDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// maxUnixPathLen matches the historical sockaddr_un path budget on
// Linux (108 bytes including the NUL terminator).
const maxUnixPathLen = 107

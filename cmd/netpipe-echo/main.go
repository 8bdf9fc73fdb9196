// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command netpipe-echo is a minimal example wiring stream.NewTCP (or
// shmstream.Stream) to remote.Peer with a single echo method, serving
// spec.md §8's scenario 1 (pure request/reply over TCP) and scenario 3
// (the same Remote machinery over shared memory, no kernel sockets).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"code.hybscloud.com/netpipe/metrics"
	"code.hybscloud.com/netpipe/registry"
	"code.hybscloud.com/netpipe/remote"
	"code.hybscloud.com/netpipe/rpclog"
	"code.hybscloud.com/netpipe/shmstream"
	"code.hybscloud.com/netpipe/stream"
)

const echoMethodID uint32 = 1

func main() {
	var (
		transport  = flag.String("transport", "tcp", "transport: tcp or shm")
		mode       = flag.String("mode", "server", "mode: server or client")
		addr       = flag.String("addr", "127.0.0.1:9444", "tcp address (tcp transport)")
		channel    = flag.String("channel", "netpipe-echo", "shm channel name (shm transport)")
		bufferSize = flag.Uint64("buffer-size", 1<<20, "shm ring buffer size in bytes (shm transport)")
		message    = flag.String("message", "hello", "message to send (client mode)")
	)
	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zl.Sync()
	logger := rpclog.New(zl)

	switch *mode {
	case "server":
		runServer(*transport, *addr, *channel, *bufferSize, logger)
	case "client":
		runClient(*transport, *addr, *channel, *bufferSize, *message, logger)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

func newListener(transport, addr, channel string, bufferSize uint64) (stream.Stream, error) {
	switch transport {
	case "tcp":
		s := stream.NewTCP()
		if err := s.Listen(addr); err != nil {
			return nil, err
		}
		return s, nil
	case "shm":
		s := shmstream.New(0)
		ep := shmstream.Endpoint{Channel: channel, BufferSize: bufferSize}
		if err := s.Listen(ep.String()); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

func dial(transport, addr, channel string, bufferSize uint64) (stream.Stream, error) {
	switch transport {
	case "tcp":
		s := stream.NewTCP()
		if err := s.Connect(addr); err != nil {
			return nil, err
		}
		return s, nil
	case "shm":
		s := shmstream.New(0)
		ep := shmstream.Endpoint{Channel: channel, BufferSize: bufferSize}
		if err := s.Connect(ep.String()); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

func echoHandler(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func runServer(transport, addr, channel string, bufferSize uint64, logger *rpclog.Logger) {
	ln, err := newListener(transport, addr, channel, bufferSize)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	logger.Info("listening", zap.String("transport", transport))

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var peersMu sync.Mutex
	peers := make([]*remote.Peer, 0)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				logger.Warn("accept failed", zap.Error(err))
				return
			}
			p := remote.NewPeer(conn, remote.WithMetrics(m), remote.WithLogger(logger))
			if err := p.RegisterMethod(echoMethodID, registry.Handler(echoHandler)); err != nil {
				logger.Error("register method", zap.Error(err))
			}
			peersMu.Lock()
			peers = append(peers, p)
			peersMu.Unlock()
			logger.Info("accepted connection")
		}
	}()

	<-ctx.Done()
	peersMu.Lock()
	for _, p := range peers {
		_ = p.Close()
	}
	peersMu.Unlock()
	snap := m.Snapshot()
	fmt.Printf("served %d requests, %d successful\n", snap.TotalRequests, snap.SuccessfulRequests)
}

func runClient(transport, addr, channel string, bufferSize uint64, message string, logger *rpclog.Logger) {
	conn, err := dial(transport, addr, channel, bufferSize)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	p := remote.NewPeer(conn, remote.WithLogger(logger))
	defer p.Close()

	resp, err := p.Call(echoMethodID, []byte(message), 5*time.Second)
	if err != nil {
		log.Fatalf("call: %v", err)
	}
	fmt.Printf("echo reply: %s\n", resp)
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package remote_test

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"code.hybscloud.com/netpipe/metrics"
	"code.hybscloud.com/netpipe/remote"
	"code.hybscloud.com/netpipe/rpcerr"
	"code.hybscloud.com/netpipe/stream"
)

// pipePair returns two connected stream.Stream endpoints over a real
// loopback TCP pair rather than net.Pipe: net.Pipe's synchronous,
// unbuffered semantics deadlock under wire.WriteFrame's single Write call
// paired with Recv's blocking Read in the same test goroutine ordering
// used below, so pipePair mirrors stream/relay_test.go's tcpPair helper.
func pipePair(t *testing.T) (stream.Stream, stream.Stream) {
	t.Helper()
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := raw.Addr().String()
	_ = raw.Close()

	ln := stream.NewTCP()
	if err := ln.Listen(addr); err != nil {
		t.Fatalf("Listen(%s): %v", addr, err)
	}

	client := stream.NewTCP()
	acceptedCh := make(chan stream.Stream, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptedCh <- s
	}()

	if err := client.Connect(addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-errCh:
		t.Fatalf("Accept: %v", err)
	case server := <-acceptedCh:
		t.Cleanup(func() {
			_ = ln.Close()
			_ = client.Close()
			_ = server.Close()
		})
		return client, server
	}
	return nil, nil
}

func echoHandler(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func TestSyncCallServeRoundTrip(t *testing.T) {
	client, server := pipePair(t)

	srv := remote.NewSync(server)
	go func() { _ = srv.Serve(echoHandler) }()

	cli := remote.NewSync(client)
	resp, err := cli.Call([]byte("hello"), time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp) != "hello" {
		t.Fatalf("resp = %q", resp)
	}
}

func TestSyncCallPropagatesHandlerError(t *testing.T) {
	client, server := pipePair(t)

	srv := remote.NewSync(server)
	go func() {
		_ = srv.Serve(func([]byte) ([]byte, error) {
			return nil, rpcerr.New(rpcerr.InvalidArgument, "bad input")
		})
	}()

	cli := remote.NewSync(client)
	_, err := cli.Call([]byte("x"), time.Second)
	if err == nil {
		t.Fatalf("expected an error from the handler")
	}
}

func TestAsyncConcurrentCalls(t *testing.T) {
	client, server := pipePair(t)

	peer := remote.NewPeer(server)
	if err := peer.RegisterMethod(1, echoHandler); err != nil {
		t.Fatalf("RegisterMethod: %v", err)
	}
	defer peer.Close()

	m := metrics.New()
	async := remote.NewAsync(client, remote.WithMetrics(m))
	defer async.Close()

	const n = 8
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			resp, err := async.Call(1, []byte{byte(i)}, time.Second)
			if err != nil {
				results <- err
				return
			}
			if len(resp) != 1 || resp[0] != byte(i) {
				results <- rpcerr.New(rpcerr.InvalidArgument, "echo mismatch")
				return
			}
			results <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Fatalf("call failed: %v", err)
		}
	}

	snap := m.Snapshot()
	if snap.SuccessfulRequests != n {
		t.Fatalf("SuccessfulRequests = %d, want %d", snap.SuccessfulRequests, n)
	}
}

func TestAsyncCallTimesOutWithNoServer(t *testing.T) {
	client, _ := pipePair(t)
	async := remote.NewAsync(client)
	defer async.Close()

	_, err := async.Call(1, []byte("x"), 20*time.Millisecond)
	if rpcerr.Of(err) != rpcerr.Timeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestAsyncCancelDropsLateResponse(t *testing.T) {
	client, server := pipePair(t)

	block := make(chan struct{})
	peer := remote.NewPeer(server)
	if err := peer.RegisterMethod(1, func(payload []byte) ([]byte, error) {
		<-block
		return payload, nil
	}); err != nil {
		t.Fatalf("RegisterMethod: %v", err)
	}
	defer peer.Close()

	async := remote.NewAsync(client)
	defer async.Close()

	resultCh := make(chan error, 1)
	go func() {
		_, err := async.Call(1, []byte("x"), time.Second)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	// Cancel against an id that was never issued reports false.
	if async.Cancel(999999) {
		t.Fatalf("expected Cancel of an unknown request_id to report false")
	}
	// The first call on a fresh Async is allocated request_id 1.
	if !async.Cancel(1) {
		t.Fatalf("expected Cancel of the in-flight request to report true")
	}
	if err := <-resultCh; rpcerr.Of(err) != rpcerr.IoError {
		t.Fatalf("expected the cancelled Call to fail with IoError, got %v", err)
	}
	close(block)
	// The handler's late response to request 1 finds no pending record
	// and is dropped; the channel keeps serving the next call.
	resp, err := async.Call(1, []byte("y"), time.Second)
	if err != nil {
		t.Fatalf("Call after cancel: %v", err)
	}
	if string(resp) != "y" {
		t.Fatalf("resp = %q, want y", resp)
	}
}

func TestHandlerPoolRunsConcurrently(t *testing.T) {
	client, server := pipePair(t)

	var inFlight, maxInFlight int32
	peer := remote.NewPeer(server, remote.WithHandlerPool(4))
	if err := peer.RegisterMethod(1, func(payload []byte) ([]byte, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return payload, nil
	}); err != nil {
		t.Fatalf("RegisterMethod: %v", err)
	}
	defer peer.Close()

	async := remote.NewAsync(client)
	defer async.Close()

	const n = 4
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := async.Call(1, []byte("x"), time.Second)
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	if atomic.LoadInt32(&maxInFlight) < 2 {
		t.Fatalf("expected the handler pool to run invocations concurrently, observed max %d", maxInFlight)
	}
}

func TestPeerBidirectionalCallAndServe(t *testing.T) {
	client, server := pipePair(t)

	a := remote.NewPeer(client)
	defer a.Close()
	b := remote.NewPeer(server)
	defer b.Close()

	if err := a.RegisterMethod(10, func(p []byte) ([]byte, error) { return []byte("from-a:" + string(p)), nil }); err != nil {
		t.Fatalf("RegisterMethod a: %v", err)
	}
	if err := b.RegisterMethod(20, func(p []byte) ([]byte, error) { return []byte("from-b:" + string(p)), nil }); err != nil {
		t.Fatalf("RegisterMethod b: %v", err)
	}

	resp, err := a.Call(20, []byte("x"), time.Second)
	if err != nil {
		t.Fatalf("a.Call: %v", err)
	}
	if string(resp) != "from-b:x" {
		t.Fatalf("resp = %q", resp)
	}

	resp, err = b.Call(10, []byte("y"), time.Second)
	if err != nil {
		t.Fatalf("b.Call: %v", err)
	}
	if string(resp) != "from-a:y" {
		t.Fatalf("resp = %q", resp)
	}
}

func TestPeerUnknownMethodReturnsError(t *testing.T) {
	client, server := pipePair(t)
	a := remote.NewPeer(client)
	defer a.Close()
	b := remote.NewPeer(server)
	defer b.Close()

	_, err := a.Call(777, nil, time.Second)
	if err == nil {
		t.Fatalf("expected an error calling an unregistered method_id")
	}
}

func TestAsyncCloseFailsPendingCalls(t *testing.T) {
	client, _ := pipePair(t)
	async := remote.NewAsync(client)

	resultCh := make(chan error, 1)
	go func() {
		_, err := async.Call(1, []byte("x"), 5*time.Second)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := async.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-resultCh; err == nil {
		t.Fatalf("expected the pending Call to fail once Close runs")
	}
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmstream_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"code.hybscloud.com/netpipe/rpcerr"
	"code.hybscloud.com/netpipe/shmstream"
	"code.hybscloud.com/netpipe/stream"
)

func uniqueChannel(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("netpipe-test-%d-%d", os.Getpid(), time.Now().UnixNano())
}

func shmPair(t *testing.T) (*shmstream.Stream, *shmstream.Stream) {
	t.Helper()
	ep := shmstream.Endpoint{Channel: uniqueChannel(t), BufferSize: 1 << 16}

	ln := shmstream.New(0)
	if err := ln.Listen(ep.String()); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := shmstream.New(0)
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

	if err := client.Connect(ep.String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-errCh:
		t.Fatalf("Accept: %v", err)
	case accepted := <-acceptedCh:
		server := accepted.(*shmstream.Stream)
		t.Cleanup(func() {
			_ = client.Close()
			_ = server.Close()
			_ = ln.Close()
		})
		return client, server
	}
	return nil, nil
}

func TestShmStreamSendRecvRoundTrip(t *testing.T) {
	client, server := shmPair(t)

	if err := client.Send([]byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q", got)
	}

	if err := server.Send([]byte("pong")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err = client.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "pong" {
		t.Fatalf("got %q", got)
	}
}

func TestShmStreamRecvTimeoutSurvivesConnection(t *testing.T) {
	client, _ := shmPair(t)

	if err := client.SetRecvTimeout(20 * time.Millisecond); err != nil {
		t.Fatalf("SetRecvTimeout: %v", err)
	}
	_, err := client.Recv()
	if rpcerr.Of(err) != rpcerr.Timeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if !client.IsConnected() {
		t.Fatalf("expected stream to remain connected after a recv timeout")
	}
}

func TestShmStreamMessageExceedingHalfBufferRejected(t *testing.T) {
	client, _ := shmPair(t)

	big := make([]byte, (1<<16)) // larger than bufferSize/2
	err := client.Send(big)
	if rpcerr.Of(err) != rpcerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestParseEndpointRoundTrip(t *testing.T) {
	ep := shmstream.Endpoint{Channel: "chan-1", BufferSize: 4096}
	parsed, err := shmstream.ParseEndpoint(ep.String())
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if parsed != ep {
		t.Fatalf("parsed = %+v, want %+v", parsed, ep)
	}
}

func TestConnectWithoutListenerFails(t *testing.T) {
	ep := shmstream.Endpoint{Channel: uniqueChannel(t), BufferSize: 4096}
	client := shmstream.New(0)
	err := client.Connect(ep.String())
	if err == nil {
		t.Fatalf("expected Connect to fail with no listener present")
	}
}

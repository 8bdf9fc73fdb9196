// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pending_test

import (
	"testing"
	"time"

	"code.hybscloud.com/netpipe/pending"
	"code.hybscloud.com/netpipe/rpcerr"
)

func TestTableNextIDMonotonic(t *testing.T) {
	tbl := pending.NewTable()
	a := tbl.NextID()
	b := tbl.NextID()
	if b <= a {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", a, b)
	}
}

func TestWaitCompletesOnComplete(t *testing.T) {
	tbl := pending.NewTable()
	id := tbl.NextID()
	req := tbl.New(id)

	go func() {
		time.Sleep(5 * time.Millisecond)
		r, ok := tbl.Take(id)
		if !ok {
			t.Errorf("expected to find request %d in table", id)
			return
		}
		r.Complete([]byte("result"))
	}()

	payload, err, timedOut := req.Wait(time.Second)
	if timedOut {
		t.Fatalf("expected no timeout")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != "result" {
		t.Fatalf("payload = %q", payload)
	}
}

func TestWaitTimesOut(t *testing.T) {
	tbl := pending.NewTable()
	id := tbl.NextID()
	req := tbl.New(id)

	_, _, timedOut := req.Wait(10 * time.Millisecond)
	if !timedOut {
		t.Fatalf("expected timedOut=true")
	}
}

func TestWaitForeverWithZeroTimeout(t *testing.T) {
	tbl := pending.NewTable()
	id := tbl.NextID()
	req := tbl.New(id)

	done := make(chan struct{})
	go func() {
		_, _, timedOut := req.Wait(0)
		if timedOut {
			t.Errorf("expected no timeout when timeout<=0")
		}
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	req.Complete([]byte("ok"))
	<-done
}

func TestCancelWakesWaiterWithError(t *testing.T) {
	tbl := pending.NewTable()
	id := tbl.NextID()
	req := tbl.New(id)

	go func() {
		time.Sleep(5 * time.Millisecond)
		if !req.Cancel() {
			t.Errorf("expected Cancel to succeed on a not-yet-completed request")
		}
	}()

	_, err, timedOut := req.Wait(time.Second)
	if timedOut {
		t.Fatalf("expected no timeout")
	}
	if rpcerr.Of(err) != rpcerr.IoError {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if !req.Cancelled() {
		t.Fatalf("expected Cancelled() to be true")
	}
}

func TestCancelAfterCompleteIsNoop(t *testing.T) {
	tbl := pending.NewTable()
	id := tbl.NextID()
	req := tbl.New(id)

	req.Complete([]byte("done"))
	if req.Cancel() {
		t.Fatalf("expected Cancel to report false once already completed")
	}
}

func TestTableTakeRemovesEntry(t *testing.T) {
	tbl := pending.NewTable()
	id := tbl.NextID()
	tbl.New(id)

	if _, ok := tbl.Take(id); !ok {
		t.Fatalf("expected first Take to find the request")
	}
	if _, ok := tbl.Take(id); ok {
		t.Fatalf("expected second Take to miss: Take removes the entry")
	}
}

func TestTableDrainFailsAllWaiters(t *testing.T) {
	tbl := pending.NewTable()
	var reqs []*pending.Request
	for i := 0; i < 3; i++ {
		id := tbl.NextID()
		reqs = append(reqs, tbl.New(id))
	}
	if tbl.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", tbl.Size())
	}

	drained := tbl.Drain()
	if len(drained) != 3 {
		t.Fatalf("Drain() returned %d requests, want 3", len(drained))
	}
	if tbl.Size() != 0 {
		t.Fatalf("Size() after Drain = %d, want 0", tbl.Size())
	}
	for _, r := range drained {
		r.Fail(rpcerr.New(rpcerr.IoError, "remote closed"))
	}
	for _, r := range reqs {
		if !r.Completed() {
			t.Fatalf("expected every drained request to be completed")
		}
	}
}

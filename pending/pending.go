// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pending implements the pending-request table used by the
// asynchronous and bidirectional Remote engines: it maps an in-flight
// request_id to a waiter blocked on that request's eventual result.
//
// At most one waiter blocks on a given Request; the receiver task is
// the sole writer of Completed transitioning false->true, always under
// the Request's own mutex, signaled on the Request's own condition
// variable — exactly the lifecycle spec.md §3 describes.
package pending

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"code.hybscloud.com/netpipe/rpcerr"
)

// Request is a single outstanding outbound call awaiting a response.
type Request struct {
	ID uint32

	mu        sync.Mutex
	cv        *sync.Cond
	completed bool
	cancelled bool
	payload   []byte
	err       error
}

func newRequest(id uint32) *Request {
	r := &Request{ID: id}
	r.cv = sync.NewCond(&r.mu)
	return r
}

// Complete stores a successful result and wakes the waiter.
func (r *Request) Complete(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return
	}
	r.payload = payload
	r.completed = true
	r.cv.Signal()
}

// Fail stores an error result and wakes the waiter.
func (r *Request) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return
	}
	r.err = err
	r.completed = true
	r.cv.Signal()
}

// Cancel marks the request cancelled and completed with a cancellation
// error, unless it already completed. It returns true iff this call
// performed the transition (i.e. the request was not yet completed).
func (r *Request) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return false
	}
	r.cancelled = true
	r.err = rpcerr.New(rpcerr.IoError, "request cancelled")
	r.completed = true
	r.cv.Signal()
	return true
}

// Wait blocks until the request completes or timeout elapses, whichever
// comes first. It returns the stored payload/error, and timedOut=true
// if timeout elapsed with no completion. timeout<=0 waits forever.
func (r *Request) Wait(timeout time.Duration) (payload []byte, err error, timedOut bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timeout <= 0 {
		for !r.completed {
			r.cv.Wait()
		}
		return r.payload, r.err, false
	}

	deadline := time.Now().Add(timeout)
	// sync.Cond has no Wait-with-timeout; emulate it with a timer that
	// broadcasts the same cond once the deadline passes, waking this
	// waiter (and only this waiter, since each Request has its own cv)
	// to re-check the deadline.
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cv.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	for !r.completed {
		if time.Now().After(deadline) {
			return nil, nil, true
		}
		r.cv.Wait()
	}
	return r.payload, r.err, false
}

// Cancelled reports whether this request was cancelled locally.
func (r *Request) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Completed reports whether this request has a result yet.
func (r *Request) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Table maps request_id to *Request under a single table-level mutex.
// Individual Request state transitions happen under the Request's own
// mutex and are not protected by the table mutex.
type Table struct {
	mu      sync.Mutex
	byID    map[uint32]*Request
	counter atomic.Uint32
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{byID: make(map[uint32]*Request)}
}

// NextID allocates the next monotonic request id via fetch_add. Wrap
// around after 2^32 requests on a single channel is a deliberate
// non-goal, per spec.md §4.D.
func (t *Table) NextID() uint32 {
	return t.counter.Inc()
}

// New allocates a Request for id and inserts it into the table.
func (t *Table) New(id uint32) *Request {
	r := newRequest(id)
	t.mu.Lock()
	t.byID[id] = r
	t.mu.Unlock()
	return r
}

// Take removes and returns the Request for id, if present.
func (t *Table) Take(id uint32) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
	}
	return r, ok
}

// Peek returns the Request for id without removing it.
func (t *Table) Peek(id uint32) (*Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byID[id]
	return r, ok
}

// Remove deletes id from the table without regard to its current state.
func (t *Table) Remove(id uint32) {
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
}

// Size returns the number of currently in-flight requests.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// Drain removes and returns every pending Request, used on shutdown to
// wake every outstanding waiter with an error.
func (t *Table) Drain() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Request, 0, len(t.byID))
	for id, r := range t.byID {
		out = append(out, r)
		delete(t.byID, id)
	}
	return out
}

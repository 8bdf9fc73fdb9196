// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmstream

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"code.hybscloud.com/iox"

	"code.hybscloud.com/netpipe/rpcerr"
)

// maxConnQueueSlots bounds the number of outstanding/ever-made
// connections a single listener can track. A bounded array of atomic
// slot-state words is the "one natural choice" spec.md §9 suggests for
// the connection queue, whose exact mechanism it leaves free-form.
const maxConnQueueSlots = 1024

const (
	slotFree     uint32 = 0
	slotPending  uint32 = 1
	slotAccepted uint32 = 2
)

// connq is the small auxiliary region named "<channel>_connq" holding a
// counter of slots claimed so far (never decremented) and one state word
// per slot.
//
// Layout of the region's byte_buffer (the region header's write_pos /
// read_pos fields are unused here; only buffer_size is meaningful):
//
//	nextSlot (u64, atomic)  ‖  slot state[maxConnQueueSlots] (u32 each, atomic)
type connq struct {
	r *region
}

func connqBufSize() uint64 {
	return 8 + 4*uint64(maxConnQueueSlots)
}

func createConnQueue(name string) (*connq, error) {
	r, err := createRegion(name, regionHeaderSize+connqBufSize())
	if err != nil {
		return nil, err
	}
	return &connq{r: r}, nil
}

func openConnQueue(name string) (*connq, error) {
	r, err := openRegion(name)
	if err != nil {
		return nil, err
	}
	return &connq{r: r}, nil
}

func (c *connq) close() error { return c.r.close() }

func (c *connq) counterWord() *uint64 {
	return (*uint64)(unsafe.Pointer(&c.r.buffer()[0]))
}

func (c *connq) slotWord(i int) *uint32 {
	off := 8 + 4*i
	return (*uint32)(unsafe.Pointer(&c.r.buffer()[off]))
}

// claimSlot atomically reserves the next slot index and marks it
// pending. It fails with IoError if the queue is full.
func (c *connq) claimSlot() (int, error) {
	idx := atomic.AddUint64(c.counterWord(), 1) - 1
	if idx >= maxConnQueueSlots {
		return 0, rpcerr.New(rpcerr.IoError, "shm connection queue full")
	}
	atomic.StoreUint32(c.slotWord(int(idx)), slotPending)
	return int(idx), nil
}

// findPending scans slots in order starting at from, returning the
// first pending slot found. ok is false if none is pending yet.
func (c *connq) findPending(from int) (idx int, ok bool) {
	total := atomic.LoadUint64(c.counterWord())
	for i := from; uint64(i) < total && i < maxConnQueueSlots; i++ {
		if atomic.LoadUint32(c.slotWord(i)) == slotPending {
			return i, true
		}
	}
	return 0, false
}

func (c *connq) markAccepted(idx int) {
	atomic.StoreUint32(c.slotWord(idx), slotAccepted)
}

// slotNames returns the region names for a connection's two rings.
func slotNames(channel string, slot int) (s2c, c2s string) {
	return fmt.Sprintf("%s_%d_s2c", channel, slot), fmt.Sprintf("%s_%d_c2s", channel, slot)
}

// tryFindPending is the non-blocking primitive behind pollForPending:
// it returns iox.ErrWouldBlock rather than parking the caller when no
// slot is pending yet, the same control-flow-error convention ring.go
// uses for its buffer space checks.
func (c *connq) tryFindPending(from int) (int, error) {
	if idx, ok := c.findPending(from); ok {
		return idx, nil
	}
	return 0, iox.ErrWouldBlock
}

// pollForPending retries tryFindPending until a pending slot appears or
// deadline passes, returning rpcerr.Timeout in the latter case.
// deadline zero means block forever.
func (c *connq) pollForPending(from int, deadline time.Time, pollInterval time.Duration) (int, error) {
	for {
		idx, err := c.tryFindPending(from)
		if err == nil {
			return idx, nil
		}
		if pastDeadline(deadline) {
			return 0, rpcerr.New(rpcerr.Timeout, "accept timed out waiting for a connection")
		}
		time.Sleep(pollInterval)
	}
}

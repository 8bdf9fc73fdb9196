// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shmstream implements the shared-memory bidirectional Stream
// of spec.md §4.C: two single-producer/single-consumer byte rings in a
// named memory region, plus a small connection-queue region used to
// establish connections without a kernel listener.
//
// Region layout (spec.md §3):
//
//	write_pos (u64, atomic) ‖ read_pos (u64, atomic) ‖ buffer_size (u64) ‖ byte_buffer[buffer_size-24]
//
// The producer advances write_pos after writing bytes; the consumer
// observes write_pos before reading and advances read_pos after
// reading. Go's sync/atomic load/store operations are sequentially
// consistent, which is strictly stronger than the acquire/release
// ordering spec.md requires, so plain atomic.Load/StoreUint64 over the
// mmap'd memory (addressed via unsafe.Pointer, since these are fields
// inside a foreign, already-allocated byte buffer rather than struct
// fields we own) is used instead of a wrapper type such as
// go.uber.org/atomic, whose API assumes it owns the backing word.
package shmstream

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/netpipe/rpcerr"
)

const (
	regionHeaderSize = 24 // write_pos(8) + read_pos(8) + buffer_size(8)

	writePosOffset  = 0
	readPosOffset   = 8
	bufSizeOffset   = 16

	// defaultPollInterval is the busy-poll sleep used by blocking push/pop,
	// per spec.md §4.C strategy (i).
	defaultPollInterval = 5_000 // nanoseconds, i.e. ~5µs
)

// regionDir returns the directory region files are created in: an
// in-memory tmpfs mount if available, falling back to the OS temp
// directory. Shared-memory regions are transient and unlinked by their
// creator on close, per spec.md §6 ("Persisted state: none").
func regionDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// region is one mmap'd named byte buffer with the header layout above.
type region struct {
	name    string
	path    string
	data    []byte
	creator bool
}

// createRegion creates and maps a new region of the given total size
// (header + byte buffer), writing the buffer_size header field. It
// fails if a region with this name already exists.
func createRegion(name string, totalSize uint64) (*region, error) {
	path := filepath.Join(regionDir(), name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, rpcerr.Wrap(rpcerr.InvalidArgument, "region already exists", err)
		}
		return nil, rpcerr.Wrap(rpcerr.IoError, "create region file", err)
	}
	defer f.Close()

	if err := f.Truncate(int64(totalSize)); err != nil {
		_ = os.Remove(path)
		return nil, rpcerr.Wrap(rpcerr.IoError, "size region file", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return nil, rpcerr.Wrap(rpcerr.IoError, "mmap region", err)
	}

	r := &region{name: name, path: path, data: data, creator: true}
	atomic.StoreUint64(r.word(bufSizeOffset), totalSize)
	atomic.StoreUint64(r.word(writePosOffset), 0)
	atomic.StoreUint64(r.word(readPosOffset), 0)
	return r, nil
}

// openRegion attaches to an existing region by name. Attaching readers
// never unlink the region on Close.
func openRegion(name string) (*region, error) {
	path := filepath.Join(regionDir(), name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.NotFound, "open region file", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.IoError, "stat region file", err)
	}
	size := fi.Size()
	if size < regionHeaderSize {
		return nil, rpcerr.New(rpcerr.InvalidArgument, "region file smaller than header")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.IoError, "mmap region", err)
	}
	return &region{name: name, path: path, data: data, creator: false}, nil
}

// word returns a pointer to the 8-byte little-machine-order word at
// offset within the region's header, suitable for sync/atomic.
func (r *region) word(offset int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.data[offset]))
}

func (r *region) totalSize() uint64  { return atomic.LoadUint64(r.word(bufSizeOffset)) }
func (r *region) capacity() uint64   { return r.totalSize() - regionHeaderSize }
func (r *region) writePos() uint64   { return atomic.LoadUint64(r.word(writePosOffset)) }
func (r *region) readPos() uint64    { return atomic.LoadUint64(r.word(readPosOffset)) }
func (r *region) storeWritePos(v uint64) { atomic.StoreUint64(r.word(writePosOffset), v) }
func (r *region) storeReadPos(v uint64)  { atomic.StoreUint64(r.word(readPosOffset), v) }

// buffer returns the byte_buffer portion of the mapped region.
func (r *region) buffer() []byte { return r.data[regionHeaderSize:] }

// close unmaps the region. If this region instance created the file,
// it also unlinks it; attaching readers never unlink. Idempotent.
func (r *region) close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if r.creator {
		_ = os.Remove(r.path)
	}
	return err
}

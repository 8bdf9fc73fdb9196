// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry implements the method registry: a mapping from
// method_id to handler, with an optional default handler used when no
// specific handler is registered.
package registry

import (
	"sync"

	"code.hybscloud.com/netpipe/rpcerr"
)

// Handler processes one request payload and returns a response payload
// or an error. Handlers registered on a bidirectional peer run on the
// peer's receiver goroutine unless a handler pool is configured.
type Handler func(payload []byte) ([]byte, error)

// Registry maps method_id to Handler.
type Registry struct {
	mu      sync.RWMutex
	byID    map[uint32]Handler
	dflt    Handler
	hasDflt bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byID: make(map[uint32]Handler)}
}

// Register adds handler for methodID. It fails with InvalidArgument if
// methodID is already registered.
func (r *Registry) Register(methodID uint32, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[methodID]; exists {
		return rpcerr.New(rpcerr.InvalidArgument, "method_id already registered")
	}
	r.byID[methodID] = handler
	return nil
}

// Unregister removes methodID's handler. It fails with NotFound if
// methodID is not registered.
func (r *Registry) Unregister(methodID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[methodID]; !exists {
		return rpcerr.New(rpcerr.NotFound, "method_id not registered")
	}
	delete(r.byID, methodID)
	return nil
}

// SetDefaultHandler installs the fallback handler used when Get finds
// no specific registration for a method_id.
func (r *Registry) SetDefaultHandler(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dflt = handler
	r.hasDflt = true
}

// ClearDefaultHandler removes the fallback handler, if any.
func (r *Registry) ClearDefaultHandler() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dflt = nil
	r.hasDflt = false
}

// Get returns the handler registered for methodID, falling back to the
// default handler if set, or NotFound if neither exists.
func (r *Registry) Get(methodID uint32) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.byID[methodID]; ok {
		return h, nil
	}
	if r.hasDflt {
		return r.dflt, nil
	}
	return nil, rpcerr.New(rpcerr.NotFound, "no handler for method_id")
}

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package codec adds a thin typed layer on top of the untyped
// []byte-payload core: once request/response multiplexing works, typed
// serialization is a one-line wrapper, not a new subsystem.
package codec

import (
	"encoding/json"
	"time"

	"code.hybscloud.com/netpipe/registry"
)

// Caller is satisfied by *remote.Async and *remote.Peer.
type Caller interface {
	Call(methodID uint32, payload []byte, timeout time.Duration) ([]byte, error)
}

// Call marshals req as JSON, invokes c.Call, and unmarshals the response
// into Resp.
func Call[Req, Resp any](c Caller, methodID uint32, req Req, timeout time.Duration) (Resp, error) {
	var zero Resp
	payload, err := json.Marshal(req)
	if err != nil {
		return zero, err
	}
	raw, err := c.Call(methodID, payload, timeout)
	if err != nil {
		return zero, err
	}
	var resp Resp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return zero, err
	}
	return resp, nil
}

// HandlerFunc adapts a typed fn into a registry.Handler, unmarshaling
// the inbound payload into Req and marshaling fn's Resp back out.
func HandlerFunc[Req, Resp any](fn func(Req) (Resp, error)) registry.Handler {
	return func(payload []byte) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		resp, err := fn(req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}

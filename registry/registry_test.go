// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry_test

import (
	"testing"

	"code.hybscloud.com/netpipe/registry"
	"code.hybscloud.com/netpipe/rpcerr"
)

func echo(payload []byte) ([]byte, error) { return payload, nil }

func TestRegisterAndGet(t *testing.T) {
	r := registry.New()
	if err := r.Register(1, echo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h, err := r.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, err := h([]byte("x"))
	if err != nil || string(out) != "x" {
		t.Fatalf("handler returned (%q, %v)", out, err)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := registry.New()
	if err := r.Register(1, echo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register(1, echo)
	if rpcerr.Of(err) != rpcerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument on duplicate register, got %v", err)
	}
}

func TestUnregisterMissingFails(t *testing.T) {
	r := registry.New()
	err := r.Unregister(7)
	if rpcerr.Of(err) != rpcerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestGetFallsBackToDefaultHandler(t *testing.T) {
	r := registry.New()
	r.SetDefaultHandler(func(payload []byte) ([]byte, error) { return []byte("default"), nil })
	h, err := r.Get(123)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, _ := h(nil)
	if string(out) != "default" {
		t.Fatalf("got %q", out)
	}
}

func TestGetNoHandlerNoDefault(t *testing.T) {
	r := registry.New()
	_, err := r.Get(1)
	if rpcerr.Of(err) != rpcerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestClearDefaultHandler(t *testing.T) {
	r := registry.New()
	r.SetDefaultHandler(echo)
	r.ClearDefaultHandler()
	_, err := r.Get(1)
	if rpcerr.Of(err) != rpcerr.NotFound {
		t.Fatalf("expected NotFound after clearing default handler, got %v", err)
	}
}

func TestSpecificHandlerTakesPrecedenceOverDefault(t *testing.T) {
	r := registry.New()
	r.SetDefaultHandler(func([]byte) ([]byte, error) { return []byte("default"), nil })
	if err := r.Register(5, func([]byte) ([]byte, error) { return []byte("specific"), nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h, err := r.Get(5)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, _ := h(nil)
	if string(out) != "specific" {
		t.Fatalf("got %q, want specific", out)
	}
}

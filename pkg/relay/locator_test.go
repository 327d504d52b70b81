// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package relay

import (
	"errors"
	"net"
	"testing"

	"golang.org/x/sys/unix"

	relayerrors "github.com/erawl/giphyproxy/pkg/errors"
)

func TestNewDialLocator_ResolveFailure(t *testing.T) {
	// Reserved TLD, guaranteed not to resolve.
	if _, err := NewDialLocator("no-such-host.invalid", 80); err == nil {
		t.Error("expected resolution failure")
	}
}

func TestDialLocator_LocatePeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create target: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	locator, err := NewDialLocator("127.0.0.1", port)
	if err != nil {
		t.Fatalf("failed to create locator: %v", err)
	}

	fd, err := locator.LocatePeer(-1)
	if err != nil {
		t.Fatalf("LocatePeer failed: %v", err)
	}
	defer unix.Close(fd)

	// The peer must be connected.
	if _, err := unix.Getpeername(fd); err != nil {
		t.Errorf("peer socket is not connected: %v", err)
	}

	// And non-blocking: reading with nothing pending must not hang.
	buf := make([]byte, 1)
	if _, err := unix.Read(fd, buf); err != unix.EAGAIN {
		t.Errorf("read on idle peer returned %v, want EAGAIN", err)
	}

	conn := <-accepted
	conn.Close()
}

func TestDialLocator_ConnectionRefused(t *testing.T) {
	// Reserve a port and close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	locator, err := NewDialLocator("127.0.0.1", port)
	if err != nil {
		t.Fatalf("failed to create locator: %v", err)
	}

	_, err = locator.LocatePeer(-1)
	if err == nil {
		t.Fatal("expected connection failure")
	}
	if !errors.Is(err, relayerrors.ErrPeerUnavailable) {
		t.Errorf("error = %v, want ErrPeerUnavailable", err)
	}
}

func TestLocatorFunc_Adapter(t *testing.T) {
	called := false
	locator := LocatorFunc(func(inbound int) (int, error) {
		called = true
		if inbound != 42 {
			t.Errorf("inbound = %d, want 42", inbound)
		}
		return 43, nil
	})

	peer, err := locator.LocatePeer(42)
	if err != nil {
		t.Fatalf("LocatePeer failed: %v", err)
	}
	if !called {
		t.Error("wrapped function was not called")
	}
	if peer != 43 {
		t.Errorf("peer = %d, want 43", peer)
	}
}

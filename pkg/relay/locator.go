// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package relay

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/erawl/giphyproxy/pkg/errors"
)

// PeerLocator supplies the outbound half of a relay pair. Given a
// freshly accepted socket it returns a connected peer socket, or an
// error if no peer can be produced; in that case the engine discards
// the accepted socket alone and keeps listening.
//
// LocatePeer is called from the relay loop and may block it.
type PeerLocator interface {
	LocatePeer(inbound int) (peer int, err error)
}

// LocatorFunc adapts a function to the PeerLocator interface.
type LocatorFunc func(inbound int) (int, error)

func (f LocatorFunc) LocatePeer(inbound int) (int, error) {
	return f(inbound)
}

// DialLocator pairs every accepted connection with a fresh outbound
// connection to one fixed remote endpoint. The endpoint is resolved
// exactly once at construction; per-call DNS lookups are deliberately
// avoided. The connect itself blocks the relay loop until it
// completes, which serializes connection setup against all in-flight
// relaying. That is a known limitation of the single-loop reference
// behavior, kept rather than hidden; run independent relay instances
// if setup latency matters.
type DialLocator struct {
	addr   string
	sa     unix.Sockaddr
	family int
}

var _ PeerLocator = (*DialLocator)(nil)

// NewDialLocator eagerly resolves host:port and returns a locator that
// opens a new connection to it on every call.
func NewDialLocator(host string, port int) (*DialLocator, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	sa, family, err := sockaddrFor(tcpAddr)
	if err != nil {
		return nil, err
	}
	return &DialLocator{addr: addr, sa: sa, family: family}, nil
}

// LocatePeer opens the outbound connection for an accepted socket. The
// returned socket is connected and non-blocking.
func (l *DialLocator) LocatePeer(inbound int) (int, error) {
	fd, err := unix.Socket(l.family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(err, "failed to open outbound socket")
	}
	if err := unix.Connect(fd, l.sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("%w: connect %s: %v", errors.ErrPeerUnavailable, l.addr, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "failed to set peer non-blocking")
	}
	return fd, nil
}

// sockaddrFor converts a resolved TCP address into the matching socket
// address and address family.
func sockaddrFor(a *net.TCPAddr) (unix.Sockaddr, int, error) {
	if ip4 := a.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	if ip6 := a.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], ip6)
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("unsupported address %s", a)
}

func tcpAddrFromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), a.Addr[:]...), Port: a.Port}
	}
	return nil
}

// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package relay

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// poller is a level-triggered epoll instance with an eventfd wake
// channel, so a goroutine blocked in wait can be interrupted from
// outside the loop.
type poller struct {
	epfd   int
	wakeFd int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p := &poller{epfd: epfd, wakeFd: wakeFd}
	if err := p.add(wakeFd); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// add registers fd for read readiness.
func (p *poller) add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// remove drops fd from the interest set. Removing an fd that is
// already closed or was never registered is fine; the kernel forgets
// closed fds on its own.
func (p *poller) remove(fd int) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks until at least one registered fd is ready, filling
// events with what happened.
func (p *poller) wait(events []unix.EpollEvent) (int, error) {
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// wake interrupts a blocked wait. Safe to call from any goroutine.
func (p *poller) wake() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(p.wakeFd, buf[:])
}

// drainWake clears the pending wake counter so the eventfd stops
// reporting readiness.
func (p *poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakeFd, buf[:])
}

func (p *poller) close() {
	unix.Close(p.wakeFd)
	unix.Close(p.epfd)
}

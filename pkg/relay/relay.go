// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package relay

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/erawl/giphyproxy/pkg/errors"
	"github.com/erawl/giphyproxy/pkg/metrics"
)

const (
	// transferBufSize is the capacity of the shared transfer buffer.
	// One buffer serves every pair; its contents are meaningful only
	// between a read and the flush that immediately follows it.
	transferBufSize = 64 << 10

	// flushTimeout bounds how long one read's worth of bytes may take
	// to drain to the peer before the pair is torn down.
	flushTimeout = 5 * time.Second
)

// Config holds the relay server configuration.
type Config struct {
	// Address is the listen address (host:port). The reference
	// deployment binds loopback only.
	Address string

	// Logger for server events. Session IDs are logged; remote
	// addresses and payload bytes never are.
	Logger *slog.Logger

	// Metrics is optional Prometheus instrumentation.
	Metrics *metrics.Metrics
}

// Server relays bytes between accepted connections and the peers a
// PeerLocator produces for them. All socket I/O and all index mutation
// happen on one loop goroutine; Start, Shutdown and Wait are the only
// cross-goroutine surface.
type Server struct {
	cfg     Config
	locator PeerLocator

	// mu orders the poller handoff from Start to Shutdown; the loop
	// goroutine reads these fields without it, after the go statement.
	mu       sync.Mutex
	poller   *poller
	pairs    *pairIndex
	buf      []byte
	listenFd int
	addr     *net.TCPAddr

	closing      atomic.Bool
	shutdownOnce sync.Once
	done         chan struct{}
	runErr       error
}

// New creates a relay server. Nothing is bound until Start.
func New(cfg Config, locator PeerLocator) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		locator:  locator,
		pairs:    newPairIndex(),
		buf:      make([]byte, transferBufSize),
		listenFd: -1,
		done:     make(chan struct{}),
	}
}

// Start binds the listener, registers it with the multiplexer, and
// launches the relay loop on its own goroutine. It returns only after
// binding has succeeded or failed; a bind error means no relay
// activity has occurred. Completion of the loop is observed via Wait.
func (s *Server) Start() error {
	if s.closing.Load() {
		return errors.ErrServerClosed
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", s.cfg.Address, err)
	}
	sa, family, err := sockaddrFor(tcpAddr)
	if err != nil {
		return err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return errors.Wrap(err, "failed to open listener socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "failed to set SO_REUSEADDR")
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Address, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	if bound, err := unix.Getsockname(fd); err == nil {
		s.addr = tcpAddrFromSockaddr(bound)
	}
	if s.addr == nil {
		s.addr = tcpAddr
	}

	p, err := newPoller()
	if err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "failed to create poller")
	}
	if err := p.add(fd); err != nil {
		p.close()
		unix.Close(fd)
		return errors.Wrap(err, "failed to register listener")
	}

	s.mu.Lock()
	s.listenFd = fd
	s.poller = p
	s.mu.Unlock()

	s.cfg.Logger.Info("relay server started", slog.String("address", s.addr.String()))

	go s.loop()
	return nil
}

// Addr reports the bound listen address, or nil before Start. Useful
// when the configured port is 0.
func (s *Server) Addr() *net.TCPAddr {
	return s.addr
}

// Shutdown requests loop exit. It is idempotent and returns
// immediately; the loop honors the request at the top of its next
// iteration, never mid-relay, so an in-flight relay step always
// completes or fails cleanly first. Observe completion through Wait.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closing.Store(true)
		p := s.poller
		s.mu.Unlock()
		// Either the poller exists and the wake reaches the loop, or
		// Start has not published it yet, in which case the loop will
		// observe closing on its first iteration and exit unprompted.
		if p != nil {
			p.wake()
		}
	})
}

// Wait blocks until the relay loop has exited. It returns nil after a
// requested shutdown, or the internal failure that stopped the loop.
func (s *Server) Wait() error {
	<-s.done
	return s.runErr
}

func (s *Server) loop() {
	defer s.cleanup()

	events := make([]unix.EpollEvent, 128)

	// Sockets torn down while handling the current batch. Their
	// remaining events are stale, and their fd numbers may already
	// have been reused by accept or connect within the same batch, so
	// they must not be touched again until the next wait.
	dead := make(map[int]struct{})

	for {
		if s.closing.Load() {
			return
		}

		n, err := s.poller.wait(events)
		if err != nil {
			s.runErr = errors.Wrap(err, "multiplexer failure")
			return
		}

		clear(dead)
		for _, ev := range events[:n] {
			fd := int(ev.Fd)
			if _, ok := dead[fd]; ok {
				continue
			}
			switch {
			case fd == s.poller.wakeFd:
				s.poller.drainWake()
			case fd == s.listenFd:
				s.acceptPair()
			case ev.Events&unix.EPOLLIN == 0 && ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0:
				// Hangup with nothing left to read. When EPOLLIN is
				// also set, the read path drains pending data first
				// and reaches the same teardown through EOF.
				s.teardown(fd, "socket_error", dead)
			default:
				s.relay(fd, dead)
			}
		}
	}
}

// acceptPair accepts one inbound connection, asks the locator for its
// peer, and indexes the two together. A pairing failure closes the
// accepted socket alone; the listener and all other pairs are
// unaffected.
func (s *Server) acceptPair() {
	nfd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.ECONNABORTED {
			return
		}
		s.cfg.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
		return
	}

	session := uuid.New().String()
	s.cfg.Logger.Debug("accepted inbound connection", slog.String("session", session))

	if err := s.poller.add(nfd); err != nil {
		s.cfg.Logger.Error("failed to register accepted connection",
			slog.String("session", session),
			slog.String("error", err.Error()))
		unix.Close(nfd)
		return
	}

	// The locator may block the loop while it connects; a documented
	// limitation of the single-loop design.
	peer, err := s.locator.LocatePeer(nfd)
	if err == nil && peer < 0 {
		err = errors.ErrPeerUnavailable
	}
	if err != nil {
		s.cfg.Logger.Warn("pairing failed",
			slog.String("session", session),
			slog.String("error", err.Error()))
		s.poller.remove(nfd)
		unix.Close(nfd)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.PairingFailures.Inc()
			s.cfg.Metrics.ConnectionsTotal.WithLabelValues("failed").Inc()
		}
		return
	}

	if err := s.poller.add(peer); err != nil {
		s.cfg.Logger.Error("failed to register peer",
			slog.String("session", session),
			slog.String("error", err.Error()))
		s.poller.remove(nfd)
		unix.Close(nfd)
		unix.Close(peer)
		return
	}
	if err := s.pairs.insert(nfd, peer, session); err != nil {
		// Both fds are fresh, so this indicates fd-accounting
		// corruption somewhere. Discard the pair rather than relay
		// through a broken index.
		s.cfg.Logger.Error("failed to index pair",
			slog.String("session", session),
			slog.String("error", err.Error()))
		s.poller.remove(nfd)
		s.poller.remove(peer)
		unix.Close(nfd)
		unix.Close(peer)
		return
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectionsTotal.WithLabelValues("paired").Inc()
		s.cfg.Metrics.ActivePairs.Inc()
	}
	s.cfg.Logger.Debug("relay pair established", slog.String("session", session))
}

// relay performs one read-then-flush cycle for a read-ready socket:
// read into the shared buffer, then write everything that was read to
// the peer. EOF and any failure tear the pair down.
func (s *Server) relay(fd int, dead map[int]struct{}) {
	entry, ok := s.pairs.lookup(fd)
	if !ok {
		// A registration that outlived its index entry. Drop it.
		s.teardown(fd, "stale_registration", dead)
		return
	}

	n, err := unix.Read(fd, s.buf)
	switch {
	case err == unix.EAGAIN:
		return
	case err != nil:
		s.teardown(fd, "read_error", dead)
		return
	case n == 0:
		// Graceful end of stream.
		s.teardown(fd, "eof", dead)
		return
	}

	if err := s.flush(entry.peer, s.buf[:n]); err != nil {
		flushErr := errors.New("flush", entry.session, err)
		s.cfg.Logger.Warn("failed to flush to peer", slog.String("error", flushErr.Error()))
		s.teardown(fd, "write_error", dead)
		return
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.BytesRelayed.Add(float64(n))
	}
}

// flush writes p to fd in full. A single write may transfer fewer
// bytes than asked; flush keeps writing, waiting for writability on
// EAGAIN up to a bounded deadline. The shared buffer's contents are
// dead once flush returns, success or not; a partial flush is never
// retried with stale contents.
func (s *Server) flush(fd int, p []byte) error {
	deadline := time.Now().Add(flushTimeout)
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		if n > 0 {
			p = p[n:]
			continue
		}
		switch err {
		case unix.EAGAIN:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return errors.ErrFlushShortfall
			}
			if err := waitWritable(fd, remaining); err != nil {
				return err
			}
		case nil:
			return errors.ErrFlushShortfall
		default:
			return err
		}
	}
	return nil
}

// waitWritable blocks until fd accepts more bytes or the timeout ends.
// This stalls the loop, the same trade-off the blocking connect makes:
// the pair being flushed is the loop's only in-flight work.
func waitWritable(fd int, timeout time.Duration) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.ErrFlushShortfall
		}
		return nil
	}
}

// teardown closes fd and, if it is indexed, its peer, removing both
// index entries in the same step. Tearing down a socket that is
// already gone is a safe no-op.
func (s *Server) teardown(fd int, reason string, dead map[int]struct{}) {
	entry, had := s.pairs.remove(fd)

	s.closeSocket(fd)
	dead[fd] = struct{}{}

	if !had {
		return
	}
	s.closeSocket(entry.peer)
	dead[entry.peer] = struct{}{}

	s.cfg.Logger.Debug("relay pair closed",
		slog.String("session", entry.session),
		slog.String("reason", reason))
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActivePairs.Dec()
		s.cfg.Metrics.Teardowns.WithLabelValues(reason).Inc()
	}
}

func (s *Server) closeSocket(fd int) {
	s.poller.remove(fd)
	_ = unix.Close(fd)
}

// cleanup tears down every remaining pair, releases the listener and
// the multiplexer, and signals waiters. Runs exactly once, when the
// loop exits.
func (s *Server) cleanup() {
	for _, fd := range s.pairs.snapshot() {
		s.closeSocket(fd)
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActivePairs.Sub(float64(s.pairs.size()))
	}
	s.pairs.clear()

	if s.listenFd >= 0 {
		unix.Close(s.listenFd)
	}
	s.poller.close()

	if s.runErr != nil {
		s.cfg.Logger.Error("relay server failed", slog.String("error", s.runErr.Error()))
	} else {
		s.cfg.Logger.Info("relay server stopped")
	}
	close(s.done)
}

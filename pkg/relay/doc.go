// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

// Package relay implements a transparent bidirectional TCP relay.
//
// # Overview
//
// The relay listens for inbound connections on a local port. Once a
// connection is accepted, a PeerLocator produces its peer connection;
// the two are indexed together, forwards and backwards, so that either
// side can be found given the other in constant time. Whenever data is
// read from one socket its peer is looked up and the same bytes are
// written to it, in both directions, until either side closes. At that
// point both sockets are closed and both index entries removed, in one
// step.
//
// The relayed byte streams are never consumed or altered: no framing,
// no parsing, no transformation. Clients are responsible for whatever
// protocol (HTTP, TLS, keep-alives) rides over the relayed bytes.
//
// # Concurrency
//
//	Client ←TCP→ [accept ─ pair index ─ locator] ←TCP→ Peer
//	                        │
//	                 one epoll loop
//
// All socket I/O and all index mutation happen on a single loop
// goroutine driven by a readiness multiplexer, so the pair index and
// the shared transfer buffer need no locking. The only cross-goroutine
// surface is Start/Shutdown/Wait. This is a deliberate scaling
// ceiling: one loop, one core. Deployments needing more throughput run
// independent relay instances on separate ports.
//
// The default DialLocator blocks the loop while it establishes each
// outbound connection. That serializes connection setup against all
// in-flight relaying and is a documented limitation of the reference
// behavior, kept on purpose.
//
// # Privacy
//
// The relay logs session IDs and lifecycle events only; remote
// addresses, byte counts per peer, and payload contents are never
// logged.
package relay

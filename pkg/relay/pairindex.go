// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

package relay

import "fmt"

// pairEntry is one direction of a relay pair. Both directions of a
// pair share the same session ID.
type pairEntry struct {
	peer    int
	session string
}

// pairIndex is the bidirectional association between the two sockets
// of a relay pair. Both directions are inserted and removed together,
// so looking up either side always finds the other, or nothing. The
// index is owned by the relay loop and is not safe for concurrent use.
type pairIndex struct {
	entries map[int]pairEntry
}

func newPairIndex() *pairIndex {
	return &pairIndex{entries: make(map[int]pairEntry)}
}

// insert associates a and b in both directions under one session ID.
// Neither socket may already be paired, and a socket cannot pair with
// itself.
func (x *pairIndex) insert(a, b int, session string) error {
	if a == b {
		return fmt.Errorf("socket %d cannot pair with itself", a)
	}
	if _, ok := x.entries[a]; ok {
		return fmt.Errorf("socket %d is already paired", a)
	}
	if _, ok := x.entries[b]; ok {
		return fmt.Errorf("socket %d is already paired", b)
	}
	x.entries[a] = pairEntry{peer: b, session: session}
	x.entries[b] = pairEntry{peer: a, session: session}
	return nil
}

// lookup returns fd's entry.
func (x *pairIndex) lookup(fd int) (pairEntry, bool) {
	e, ok := x.entries[fd]
	return e, ok
}

// peer returns the counterpart of fd.
func (x *pairIndex) peer(fd int) (int, bool) {
	e, ok := x.entries[fd]
	return e.peer, ok
}

// remove deletes fd's entry and its peer's entry together, returning
// the removed entry. Removing an absent key is a no-op.
func (x *pairIndex) remove(fd int) (pairEntry, bool) {
	e, ok := x.entries[fd]
	if !ok {
		return pairEntry{}, false
	}
	delete(x.entries, fd)
	delete(x.entries, e.peer)
	return e, true
}

// size returns the number of indexed pairs.
func (x *pairIndex) size() int {
	return len(x.entries) / 2
}

// snapshot returns every indexed socket, for final teardown.
func (x *pairIndex) snapshot() []int {
	fds := make([]int, 0, len(x.entries))
	for fd := range x.entries {
		fds = append(fds, fd)
	}
	return fds
}

func (x *pairIndex) clear() {
	clear(x.entries)
}

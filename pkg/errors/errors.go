// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for the relay.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrPeerUnavailable indicates the locator could not produce a
	// usable peer for an accepted connection.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrFlushShortfall indicates bytes read from one side could not
	// be written to its peer in full within the bounded retry.
	ErrFlushShortfall = errors.New("flush shortfall")

	// ErrServerClosed indicates the relay server has been shut down.
	ErrServerClosed = errors.New("relay server closed")
)

// RelayError wraps an error with the operation and pair session it
// belongs to.
type RelayError struct {
	Op      string // Operation that failed
	Session string // Pair session identifier
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Session != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Session, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// New creates a new RelayError.
func New(op, session string, err error) error {
	if err == nil {
		return nil
	}
	return &RelayError{
		Op:      op,
		Session: session,
		Err:     err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

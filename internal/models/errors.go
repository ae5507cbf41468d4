// Kennelsync - Facility Records Client with Entity Sync and Automation
// Copyright 2026 Kennelsync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kennelsync/kennelsync

package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer:
//
//   - Transient: network/timeout failures. Retried with bounded backoff by
//     the gateway; after exhaustion the orchestrator surfaces them as a
//     stale-data indicator, never as a crash.
//   - Conflict: the open-interval invariant was violated. Rejected
//     synchronously to the caller with the conflicting session id; not retried.
//   - Decode: one malformed remote record. Skipped and logged; the rest of
//     the batch continues.
//   - Fatal: the local store is unavailable at startup. Bubbles to the host;
//     the application cannot proceed.

// ErrNotFound is returned when an entity id has no record in the local store.
var ErrNotFound = errors.New("entity not found")

// TransientError wraps a network or timeout failure after retries were
// exhausted. The orchestrator maps it to "data may be out of date".
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConflictError reports a violation of the open-interval invariant: the
// profile already has an open or overlapping session. ConflictingSessionID
// lets the caller present the existing booking to staff.
type ConflictError struct {
	ProfileID            string
	ConflictingSessionID string
	Reason               string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session conflict for profile %s: %s (existing session %s)",
		e.ProfileID, e.Reason, e.ConflictingSessionID)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// AsConflict extracts the ConflictError from err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// DecodeError marks one undecodable record inside a fetch batch.
// It is logged and skipped; it never aborts the batch.
type DecodeError struct {
	Type EntityType
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s record: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecode reports whether err is (or wraps) a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// FatalError marks an unrecoverable startup failure (local store unavailable).
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

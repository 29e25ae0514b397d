// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import "github.com/cockroachdb/errors"

// ErrNotFound means that a lookup did not find the requested key, term,
// stored document or vector. It is an expected condition, distinct from
// corruption.
var ErrNotFound = errors.New("quill: not found")

// ErrCorruption is a marker to indicate that data in a file (term
// dictionary, posting file, region, TOC) isn't in the expected format.
var ErrCorruption = errors.New("quill: corruption")

// ErrOutOfOrder is a marker for ordering violations: keys, terms or fields
// presented to a writer in non-ascending order. It indicates programmer
// error rather than an environment failure; the write that triggered it is
// rejected before any bytes for it reach the file.
var ErrOutOfOrder = errors.New("quill: out of order")

// ErrLocked is returned by a non-blocking writer-lock acquisition when
// another writer already holds the lock.
var ErrLocked = errors.New("quill: locked by another writer")

// MarkCorruptionError marks the given error as a corruption error.
func MarkCorruptionError(err error) error {
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}

// CorruptionErrorf formats an error and marks it as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// IsCorruptionError returns true if the given error indicates file
// corruption.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// OutOfOrderErrorf formats an error and marks it as an ordering violation.
func OutOfOrderErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrOutOfOrder)
}

// IsOutOfOrderError returns true if the given error indicates an ordering
// violation by the caller.
func IsOutOfOrderError(err error) bool {
	return errors.Is(err, ErrOutOfOrder)
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package base defines fundamental types and error kinds used throughout
// quill: document and segment identifiers, postings and term statistics,
// the error taxonomy (not-found, corruption, out-of-order, locked) and the
// Logger interface.
package base

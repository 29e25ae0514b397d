// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package fst builds and reads minimal acyclic deterministic finite-state
// transducers mapping byte-string keys to values. A single file holds one
// graph per field plus a trailing directory of field roots. Keys must be
// inserted in strictly ascending order; structurally identical suffixes
// are deduplicated so the result is a DAWG rather than a trie.
//
// The package is quill's term dictionary and spelling index: cursors
// iterate keys in lexicographic order, WithinDistance performs bounded
// edit-distance search, and Union/Intersection views combine graphs from
// multiple fields without materializing a merge.
package fst

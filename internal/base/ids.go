// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"fmt"

	"github.com/cockroachdb/redact"
)

// DocID identifies one document within a segment. Document ids are dense,
// assigned in insertion order starting at 0, and are local to their segment;
// a merge assigns fresh ids in the output segment.
type DocID uint32

// SegmentID is an identifier for a segment within an index. Segment ids are
// allocated from a counter persisted in the index TOC and are never reused,
// including across merges.
type SegmentID uint64

// String returns the on-disk representation of the segment id, as used in
// segment file names.
func (id SegmentID) String() string {
	return fmt.Sprintf("%06d", uint64(id))
}

// SafeFormat implements redact.SafeFormatter.
func (id SegmentID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%06d", redact.SafeUint(uint64(id)))
}

// MergeID identifies one planned merge. Ids are unique within a writer
// session and exist so that log output and merge tracking can refer to an
// in-flight merge.
type MergeID uint64

func (id MergeID) String() string {
	return fmt.Sprintf("m%d", uint64(id))
}

// SafeFormat implements redact.SafeFormatter.
func (id MergeID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("m%d", redact.SafeUint(uint64(id)))
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import "bytes"

// Features describes which per-posting attributes a posting format tracks.
// Document ids are always present; everything else is optional.
type Features uint8

const (
	// FeatureWeights tracks a float32 weight per posting.
	FeatureWeights Features = 1 << iota
	// FeaturePositions tracks a list of term positions per posting.
	FeaturePositions
	// FeatureChars tracks a list of character start/end ranges per posting.
	FeatureChars
	// FeaturePayloads tracks arbitrary byte payloads per posting.
	FeaturePayloads
)

// Has returns true if all features in mask are tracked.
func (f Features) Has(mask Features) bool {
	return f&mask == mask
}

// CharRange is a [start, end) character offset range of one term occurrence.
type CharRange struct {
	Start int
	End   int
}

// Posting records one occurrence of a term in a document. Fields beyond
// DocID are populated only when the posting format tracks the corresponding
// feature; Length is the total field length of the document's field, used
// for scoring.
type Posting struct {
	DocID     DocID
	Term      []byte
	Length    int
	Weight    float32
	Positions []int
	Chars     []CharRange
	Payloads  [][]byte
}

// ComparePostings orders postings by term bytes, then document id. This is
// the order in which a segment writer's posting buffer is sorted before it
// is handed to the field writer.
func ComparePostings(a, b Posting) int {
	if c := bytes.Compare(a.Term, b.Term); c != 0 {
		return c
	}
	switch {
	case a.DocID < b.DocID:
		return -1
	case a.DocID > b.DocID:
		return 1
	default:
		return 0
	}
}

// TermInfo aggregates statistics for one field+term pair across all of its
// posting blocks. Very short posting lists are stored inline in the term
// dictionary instead of the posting file; Inline is non-nil in that case
// and Offset/BlockCount are meaningless.
type TermInfo struct {
	DocFreq     uint64
	TotalWeight float64
	MaxWeight   float32
	MinLength   int
	MaxLength   int
	MinDocID    DocID
	MaxDocID    DocID
	// Offset is the posting-file offset of the term's first block and
	// BlockCount the number of blocks, when the postings are not inline.
	Offset     uint64
	BlockCount uint64
	// Inline holds the complete posting list for terms at or below the
	// inline limit.
	Inline []Posting
}

// IsInline reports whether the postings are stored inline in the term
// dictionary rather than in the posting file.
func (ti *TermInfo) IsInline() bool {
	return ti.Inline != nil
}

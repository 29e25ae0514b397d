// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package codec reads and writes segments: the immutable on-disk unit of
// the index. A segment is a file set sharing one id, holding a term
// dictionary, posting blocks, per-document field length columns, stored
// fields, optional term vectors, and an optional deletion bitmap.
package codec

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/vfs"
)

// SegmentReader binds the read side of one segment: its inverted index,
// its per-document data, and its deletion bitmap.
type SegmentReader struct {
	id    base.SegmentID
	terms *TermsReader
	docs  *PerDocumentReader
	del   *roaring.Bitmap
}

// OpenSegment opens every file of segment id under dir.
func OpenSegment(fs vfs.FS, dir string, id base.SegmentID, features base.Features) (*SegmentReader, error) {
	terms, err := OpenTermsReader(fs, dir, id, features)
	if err != nil {
		return nil, err
	}
	docs, err := OpenPerDocumentReader(fs, dir, id)
	if err != nil {
		_ = terms.Close()
		return nil, err
	}
	del, err := ReadDeletions(fs, dir, id)
	if err != nil {
		_ = terms.Close()
		_ = docs.Close()
		return nil, err
	}
	return &SegmentReader{id: id, terms: terms, docs: docs, del: del}, nil
}

// ID returns the segment's id.
func (s *SegmentReader) ID() base.SegmentID { return s.id }

// Terms returns the segment's inverted index.
func (s *SegmentReader) Terms() *TermsReader { return s.terms }

// Docs returns the segment's per-document data.
func (s *SegmentReader) Docs() *PerDocumentReader { return s.docs }

// DocCountAll returns the number of documents in the segment, deleted
// ones included.
func (s *SegmentReader) DocCountAll() int { return s.docs.DocCount() }

// DocCount returns the number of live documents.
func (s *SegmentReader) DocCount() int {
	if s.del == nil {
		return s.docs.DocCount()
	}
	return s.docs.DocCount() - int(s.del.GetCardinality())
}

// IsDeleted reports whether doc has been deleted.
func (s *SegmentReader) IsDeleted(doc base.DocID) bool {
	return s.del != nil && s.del.Contains(uint32(doc))
}

// DeletedDocs returns the deletion bitmap, or nil when the segment has no
// deletions. The bitmap is shared, not copied.
func (s *SegmentReader) DeletedDocs() *roaring.Bitmap { return s.del }

// SetDeletions replaces the in-memory deletion bitmap. The caller
// persists it separately with WriteDeletions.
func (s *SegmentReader) SetDeletions(bm *roaring.Bitmap) { s.del = bm }

// Close releases every file of the segment.
func (s *SegmentReader) Close() error {
	return errors.CombineErrors(s.terms.Close(), s.docs.Close())
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package codec

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/fst"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/matching"
	"github.com/quillindex/quill/postings"
	"github.com/quillindex/quill/vfs"
)

// TermsReader reads a segment's inverted index: the term dictionary FST
// and the posting file, both memory mapped. features must match the
// features the segment was written with.
type TermsReader struct {
	r        *fst.Reader
	pst      []byte
	features base.Features

	trmFile  vfs.File
	trmUnmap io.Closer
	pstFile  vfs.File
	pstUnmap io.Closer
}

// OpenTermsReader opens the inverted index of segment id.
func OpenTermsReader(fs vfs.FS, dir string, id base.SegmentID, features base.Features) (*TermsReader, error) {
	tr := &TermsReader{features: features}

	var err error
	tr.trmFile, err = fs.Open(SegmentPath(fs, dir, FileTypeTerms, id))
	if err != nil {
		return nil, err
	}
	data, unmap, err := vfs.MapReadOnly(tr.trmFile)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	tr.trmUnmap = unmap
	tr.r, err = fst.NewReader(data)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	tr.pstFile, err = fs.Open(SegmentPath(fs, dir, FileTypePostings, id))
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	// A segment whose terms are all inline leaves the posting file empty,
	// and empty files cannot be mapped.
	fi, err := tr.pstFile.Stat()
	if err != nil {
		_ = tr.Close()
		return nil, errors.WithStack(err)
	}
	if fi.Size() > 0 {
		tr.pst, tr.pstUnmap, err = vfs.MapReadOnly(tr.pstFile)
		if err != nil {
			_ = tr.Close()
			return nil, err
		}
	}
	return tr, nil
}

// Fields returns the names of the indexed fields, sorted.
func (tr *TermsReader) Fields() []string { return tr.r.Fields() }

// TermInfo returns the statistics of term in field, or an error wrapping
// base.ErrNotFound when the field or term does not exist.
func (tr *TermsReader) TermInfo(field string, term []byte) (base.TermInfo, error) {
	root, err := tr.r.Root(field)
	if err != nil {
		return base.TermInfo{}, err
	}
	c := fst.NewCursor(root, fst.BytesValues{})
	ok, err := c.FindPath(term)
	if err != nil {
		return base.TermInfo{}, err
	}
	if !ok || !c.Accept() {
		return base.TermInfo{}, errors.Wrapf(base.ErrNotFound, "codec: term %q in field %q", term, field)
	}
	return postings.DecodeTermInfo(c.Value())
}

// Matcher returns a matcher over the postings of term in field. A missing
// field or term yields the null matcher, not an error.
func (tr *TermsReader) Matcher(field string, term []byte) (matching.Matcher, error) {
	ti, err := tr.TermInfo(field, term)
	if errors.Is(err, base.ErrNotFound) {
		return matching.Null, nil
	}
	if err != nil {
		return nil, err
	}
	return postings.NewMatcher(tr.pst, ti, tr.features)
}

// TermsFrom returns a cursor positioned on the first term of field that
// is >= prefix, in lexicographic order. An empty prefix starts at the
// field's first term. Unknown fields yield an exhausted cursor.
func (tr *TermsReader) TermsFrom(field string, prefix []byte) (*TermCursor, error) {
	root, err := tr.r.Root(field)
	if errors.Is(err, base.ErrNotFound) {
		return &TermCursor{}, nil
	}
	if err != nil {
		return nil, err
	}
	c := fst.NewCursor(root, fst.BytesValues{})
	var ok bool
	if len(prefix) == 0 {
		ok, err = c.First()
	} else {
		ok, err = c.SkipTo(prefix)
	}
	if err != nil {
		return nil, err
	}
	return &TermCursor{c: c, valid: ok}, nil
}

// Close releases the reader's mappings and file handles.
func (tr *TermsReader) Close() error {
	var err error
	if tr.trmUnmap != nil {
		err = errors.CombineErrors(err, tr.trmUnmap.Close())
		tr.trmUnmap = nil
	}
	if tr.trmFile != nil {
		err = errors.CombineErrors(err, tr.trmFile.Close())
		tr.trmFile = nil
	}
	if tr.pstUnmap != nil {
		err = errors.CombineErrors(err, tr.pstUnmap.Close())
		tr.pstUnmap = nil
	}
	if tr.pstFile != nil {
		err = errors.CombineErrors(err, tr.pstFile.Close())
		tr.pstFile = nil
	}
	return err
}

// TermCursor iterates a field's terms in lexicographic order.
type TermCursor struct {
	c     *fst.Cursor
	valid bool
}

// Valid reports whether the cursor rests on a term.
func (tc *TermCursor) Valid() bool { return tc.valid }

// Term returns the current term.
func (tc *TermCursor) Term() []byte { return tc.c.Key() }

// TermInfo decodes the current term's statistics.
func (tc *TermCursor) TermInfo() (base.TermInfo, error) {
	return postings.DecodeTermInfo(tc.c.Value())
}

// Next advances to the following term.
func (tc *TermCursor) Next() (bool, error) {
	if !tc.valid {
		return false, nil
	}
	var err error
	tc.valid, err = tc.c.Next()
	return tc.valid, err
}

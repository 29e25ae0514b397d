// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package codec

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/fst"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/postings"
	"github.com/quillindex/quill/vfs"
)

// FieldWriter writes a segment's inverted index: the term dictionary FST
// and the posting file. Usage is a strict state machine: StartField,
// then per term StartTerm, AddPosting (ascending docids), FinishTerm;
// FinishField; and finally Close once every field is done. Fields and
// terms must arrive in ascending order.
type FieldWriter struct {
	trmFile vfs.File
	pstFile vfs.File
	fw      *fst.Writer

	features    base.Features
	blockSize   int
	inlineLimit int

	pstOff    uint64
	fieldOpen bool
	termOpen  bool
	lastField string
	curTerm   []byte
	lastTerm  []byte
	bw        *postings.BlockWriter

	termCount int
	closed    bool
}

// NewFieldWriter creates the term and posting files for segment id.
// blockSize bounds postings per block; terms with at most inlineLimit
// postings are stored inline in the term dictionary.
func NewFieldWriter(fs vfs.FS, dir string, id base.SegmentID, features base.Features, blockSize, inlineLimit int) (*FieldWriter, error) {
	trmFile, err := fs.Create(SegmentPath(fs, dir, FileTypeTerms, id))
	if err != nil {
		return nil, err
	}
	pstFile, err := fs.Create(SegmentPath(fs, dir, FileTypePostings, id))
	if err != nil {
		_ = trmFile.Close()
		return nil, err
	}
	return &FieldWriter{
		trmFile:     trmFile,
		pstFile:     pstFile,
		fw:          fst.NewWriter(trmFile, fst.BytesValues{}),
		features:    features,
		blockSize:   blockSize,
		inlineLimit: inlineLimit,
	}, nil
}

// StartField begins a new field. Field names must be ascending.
func (w *FieldWriter) StartField(name string) error {
	if w.closed {
		return errors.New("codec: field writer is closed")
	}
	if w.fieldOpen {
		return errors.Newf("codec: field %q still open", w.lastField)
	}
	if name <= w.lastField {
		return base.OutOfOrderErrorf("codec: field %q not above %q", name, w.lastField)
	}
	if err := w.fw.StartField(name); err != nil {
		return err
	}
	w.lastField = name
	w.lastTerm = w.lastTerm[:0]
	w.fieldOpen = true
	return nil
}

// StartTerm begins a term within the open field. Terms must be strictly
// ascending; the order is checked here, before any posting reaches the
// file.
func (w *FieldWriter) StartTerm(term []byte) error {
	if !w.fieldOpen {
		return errors.New("codec: no field open")
	}
	if w.termOpen {
		return errors.Newf("codec: term %q still open", w.curTerm)
	}
	if len(term) == 0 {
		return errors.New("codec: empty term")
	}
	if len(w.lastTerm) > 0 && bytes.Compare(term, w.lastTerm) <= 0 {
		return base.OutOfOrderErrorf("codec: term %q not above %q", term, w.lastTerm)
	}
	w.lastTerm = append(w.lastTerm[:0], term...)
	w.curTerm = append(w.curTerm[:0], term...)
	w.bw = postings.NewBlockWriter(w.pstFile, w.pstOff, w.features, w.blockSize, w.inlineLimit)
	w.termOpen = true
	return nil
}

// AddPosting adds one posting to the open term. Docids must be strictly
// ascending within the term.
func (w *FieldWriter) AddPosting(p base.Posting) error {
	if !w.termOpen {
		return errors.New("codec: no term open")
	}
	return w.bw.Add(p)
}

// FinishTerm completes the open term, writing its dictionary entry, and
// returns the term's statistics.
func (w *FieldWriter) FinishTerm() (base.TermInfo, error) {
	if !w.termOpen {
		return base.TermInfo{}, errors.New("codec: no term open")
	}
	w.termOpen = false
	ti, err := w.bw.Finish()
	if err != nil {
		return base.TermInfo{}, err
	}
	w.pstOff += w.bw.BytesWritten()
	w.bw = nil

	// The dictionary retains slices of the inserted value, so it gets a
	// fresh allocation per term.
	value, err := postings.AppendTermInfo(nil, &ti, w.features)
	if err != nil {
		return base.TermInfo{}, err
	}
	if err := w.fw.Insert(w.curTerm, value); err != nil {
		return base.TermInfo{}, err
	}
	w.termCount++
	return ti, nil
}

// CopyRawTerm writes a whole term by copying its encoded blocks verbatim
// from m, bypassing decode and re-encode. The caller must have checked
// m.CanCopyRawTo against this writer's features, and the copied docids
// must already be correct for the destination segment.
func (w *FieldWriter) CopyRawTerm(term []byte, m *postings.TermMatcher) error {
	if !w.fieldOpen {
		return errors.New("codec: no field open")
	}
	if w.termOpen {
		return errors.Newf("codec: term %q still open", w.curTerm)
	}
	if len(w.lastTerm) > 0 && bytes.Compare(term, w.lastTerm) <= 0 {
		return base.OutOfOrderErrorf("codec: term %q not above %q", term, w.lastTerm)
	}
	n, err := m.CopyRawBlocks(w.pstFile)
	if err != nil {
		return err
	}
	ti := m.TermInfo()
	ti.Offset = w.pstOff
	w.pstOff += uint64(n)

	value, err := postings.AppendTermInfo(nil, &ti, w.features)
	if err != nil {
		return err
	}
	if err := w.fw.Insert(term, value); err != nil {
		return err
	}
	w.lastTerm = append(w.lastTerm[:0], term...)
	w.termCount++
	return nil
}

// FinishField completes the open field.
func (w *FieldWriter) FinishField() error {
	if !w.fieldOpen {
		return errors.New("codec: no field open")
	}
	if w.termOpen {
		return errors.Newf("codec: term %q still open", w.curTerm)
	}
	w.fieldOpen = false
	return w.fw.FinishField()
}

// TermCount returns the number of terms written across all fields.
func (w *FieldWriter) TermCount() int { return w.termCount }

// BytesWritten returns the current size of the posting file.
func (w *FieldWriter) BytesWritten() uint64 { return w.pstOff }

// Close writes the term dictionary and syncs both files. No field may be
// open.
func (w *FieldWriter) Close() error {
	if w.closed {
		return errors.New("codec: field writer is closed")
	}
	if w.fieldOpen {
		return errors.Newf("codec: field %q still open", w.lastField)
	}
	w.closed = true
	err := w.fw.Close()
	err = errors.CombineErrors(err, w.trmFile.Sync())
	err = errors.CombineErrors(err, w.trmFile.Close())
	err = errors.CombineErrors(err, w.pstFile.Sync())
	err = errors.CombineErrors(err, w.pstFile.Close())
	return err
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package quill

import (
	"bytes"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/codec"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/invariants"
	"github.com/quillindex/quill/postings"
	"github.com/quillindex/quill/vfs"
)

const deletedDoc = math.MaxUint32

// docRemap maps each source document to its docid in the merge output,
// or deletedDoc. identity is true when every live docid keeps its number,
// which is what permits raw posting block copy.
type docRemap struct {
	tables   [][]uint32
	identity bool
	liveDocs uint64
}

func buildDocRemap(sources []*codec.SegmentReader, dels []*roaring.Bitmap) docRemap {
	rm := docRemap{identity: true}
	next := uint32(0)
	for i, src := range sources {
		n := src.DocCountAll()
		table := make([]uint32, n)
		for d := 0; d < n; d++ {
			if dels[i] != nil && dels[i].Contains(uint32(d)) {
				table[d] = deletedDoc
				rm.identity = false
				continue
			}
			if next != uint32(d) {
				rm.identity = false
			}
			table[d] = next
			next++
		}
		rm.tables = append(rm.tables, table)
	}
	rm.liveDocs = uint64(next)
	return rm
}

// mergeSegments streams the live documents and terms of sources into a
// new segment. Sources are processed in slice order, which fixes the
// output docid order. Nothing is integrated here; on error the caller
// removes the partial file set.
func mergeSegments(fs vfs.FS, dir string, opts *Options, newID base.SegmentID,
	sources []*codec.SegmentReader, dels []*roaring.Bitmap) (uint64, error) {
	rm := buildDocRemap(sources, dels)
	if err := mergePerDocument(fs, dir, newID, sources, rm); err != nil {
		return 0, err
	}
	if err := mergeTerms(fs, dir, opts, newID, sources, rm); err != nil {
		return 0, err
	}
	return rm.liveDocs, nil
}

func mergePerDocument(fs vfs.FS, dir string, newID base.SegmentID,
	sources []*codec.SegmentReader, rm docRemap) error {
	dw, err := codec.NewPerDocumentWriter(fs, dir, newID)
	if err != nil {
		return err
	}
	for i, src := range sources {
		docs := src.Docs()
		// Candidate fields for a document: every indexed field plus
		// whatever it stored.
		fields := map[string]bool{}
		for _, f := range src.Terms().Fields() {
			fields[f] = true
		}
		for _, f := range docs.LengthFields() {
			fields[f] = true
		}
		for d := 0; d < docs.DocCount(); d++ {
			nd := rm.tables[i][d]
			if nd == deletedDoc {
				continue
			}
			if err := dw.StartDoc(base.DocID(nd)); err != nil {
				return err
			}
			stored, err := docs.StoredFields(base.DocID(d))
			if err != nil {
				return err
			}
			names := make([]string, 0, len(fields)+len(stored))
			for f := range fields {
				names = append(names, f)
			}
			for f := range stored {
				if !fields[f] {
					names = append(names, f)
				}
			}
			sort.Strings(names)
			for _, f := range names {
				length := docs.FieldLength(base.DocID(d), f)
				vec, err := docs.Vector(base.DocID(d), f)
				if err != nil {
					return err
				}
				sv, hasStored := stored[f]
				if length == 0 && !hasStored && vec == nil {
					continue
				}
				if !hasStored {
					sv = nil
				}
				if err := dw.AddField(f, length, sv, vec); err != nil {
					return err
				}
			}
			if err := dw.FinishDoc(); err != nil {
				return err
			}
		}
	}
	return dw.Close()
}

func mergeTerms(fs vfs.FS, dir string, opts *Options, newID base.SegmentID,
	sources []*codec.SegmentReader, rm docRemap) error {
	fw, err := codec.NewFieldWriter(fs, dir, newID, opts.Features,
		opts.PostingBlockSize, opts.InlinePostingLimit)
	if err != nil {
		return err
	}
	fieldSet := map[string]bool{}
	for _, src := range sources {
		for _, f := range src.Terms().Fields() {
			fieldSet[f] = true
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if err := fw.StartField(field); err != nil {
			return err
		}
		if err := mergeField(fw, field, opts, sources, rm); err != nil {
			return err
		}
		if err := fw.FinishField(); err != nil {
			return err
		}
	}
	return fw.Close()
}

// mergeField interleaves one field's terms across sources in
// lexicographic order and copies each term's postings.
func mergeField(fw *codec.FieldWriter, field string, opts *Options,
	sources []*codec.SegmentReader, rm docRemap) error {
	cursors := make([]*codec.TermCursor, len(sources))
	for i, src := range sources {
		tc, err := src.Terms().TermsFrom(field, nil)
		if err != nil {
			return err
		}
		cursors[i] = tc
	}
	var holders []int
	for {
		// Find the smallest current term and every source holding it.
		var term []byte
		holders = holders[:0]
		for i, tc := range cursors {
			if !tc.Valid() {
				continue
			}
			switch c := bytes.Compare(tc.Term(), term); {
			case term == nil || c < 0:
				term = tc.Term()
				holders = append(holders[:0], i)
			case c == 0:
				holders = append(holders, i)
			}
		}
		if term == nil {
			return nil
		}
		if err := mergeTerm(fw, field, term, opts, sources, rm, holders); err != nil {
			return err
		}
		for _, i := range holders {
			if _, err := cursors[i].Next(); err != nil {
				return err
			}
		}
	}
}

func mergeTerm(fw *codec.FieldWriter, field string, term []byte, opts *Options,
	sources []*codec.SegmentReader, rm docRemap, holders []int) error {
	matchers := make([]*postings.TermMatcher, len(holders))
	for k, i := range holders {
		m, err := sources[i].Terms().Matcher(field, term)
		if err != nil {
			return err
		}
		tm, ok := m.(*postings.TermMatcher)
		if !ok {
			return base.CorruptionErrorf("quill: term %q vanished during merge", term)
		}
		matchers[k] = tm
	}

	// With identical docids and formats the encoded blocks move verbatim.
	if rm.identity && len(holders) == 1 && matchers[0].CanCopyRawTo(opts.Features) {
		return fw.CopyRawTerm(term, matchers[0])
	}

	if err := fw.StartTerm(term); err != nil {
		return err
	}
	for k, i := range holders {
		docs := sources[i].Docs()
		m := matchers[k]
		for m.IsActive() {
			d := m.ID()
			invariants.Assertf(int(d) < len(rm.tables[i]),
				"posting docid %d outside segment of %d docs", d, len(rm.tables[i]))
			nd := rm.tables[i][d]
			if nd != deletedDoc {
				p, err := m.Posting()
				if err != nil {
					return err
				}
				p.DocID = base.DocID(nd)
				p.Length = docs.FieldLength(d, field)
				if err := fw.AddPosting(p); err != nil {
					return err
				}
			}
			if _, err := m.Next(); err != nil {
				return err
			}
		}
	}
	_, err := fw.FinishTerm()
	return err
}

// segmentSize sums the sizes of a segment's files.
func segmentSize(fs vfs.FS, dir string, id base.SegmentID) (uint64, error) {
	names, err := fs.List(dir)
	if err != nil {
		return 0, err
	}
	var size uint64
	for _, name := range names {
		if _, sid, ok := codec.ParseFilename(fs, name); !ok || sid != id {
			continue
		}
		fi, err := fs.Stat(fs.PathJoin(dir, name))
		if err != nil {
			return 0, errors.WithStack(err)
		}
		size += uint64(fi.Size())
	}
	return size, nil
}

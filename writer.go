// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package quill

import (
	"io"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/codec"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/matching"
	"github.com/quillindex/quill/vfs"
	"golang.org/x/sync/errgroup"
)

// IndexedTerm is one analyzed term occurrence list within a document
// field. Positions, Chars and Payloads are recorded only when the
// index's feature set includes them.
type IndexedTerm struct {
	Term      []byte
	Weight    float32
	Positions []int
	Chars     []base.CharRange
	Payloads  [][]byte
}

// Field is the per-field content of a buffered document. Length is the
// field's token count used for scoring; when zero it defaults to the
// number of indexed terms. Stored, when non-nil, is kept verbatim and
// returned by StoredFields. Vector asks the writer to persist the
// field's (term, weight) list as a forward term vector.
type Field struct {
	Terms  []IndexedTerm
	Length int
	Stored []byte
	Vector bool
}

// Document maps field names to their analyzed content. The writer
// retains the document, including its term and stored byte slices,
// until the buffer is flushed.
type Document map[string]Field

// CommitOptions tunes a single Commit call.
type CommitOptions struct {
	// NoMerge flushes and publishes the new generation without
	// consulting the merge policy.
	NoMerge bool
	// Optimize merges down to a single segment regardless of what the
	// tiered policy would choose.
	Optimize bool
}

// writerSeg is the writer's mutable view of one segment: the committed
// metadata plus a private copy of the deletion bitmap that DeleteByTerm
// grows during the session.
type writerSeg struct {
	info     SegmentInfo
	reader   *codec.SegmentReader
	del      *roaring.Bitmap
	delDirty bool
	created  bool
}

func (ws *writerSeg) deleted() uint64 {
	if ws.del == nil {
		return 0
	}
	return ws.del.GetCardinality()
}

// Writer buffers documents and deletions against a snapshot of the
// index and publishes them as a new TOC generation on Commit. A single
// writer at a time holds the index's LOCK file; a Writer is not safe
// for concurrent use.
type Writer struct {
	idx  *Index
	fs   vfs.FS
	dir  string
	opts *Options
	lock io.Closer

	segs      []*writerSeg
	buf       []Document
	bufPosts  int
	nextMerge base.MergeID
	closed    bool
}

// NewWriter starts a write session. If wait is true the call blocks
// until any other process's writer releases the index lock; otherwise a
// held lock fails with base.ErrLocked.
func (d *Index) NewWriter(wait bool) (*Writer, error) {
	lock, err := d.fs.Lock(d.fs.PathJoin(d.dir, lockFilename), wait)
	if err != nil {
		return nil, err
	}
	w := &Writer{idx: d, fs: d.fs, dir: d.dir, opts: d.opts, lock: lock}
	for _, s := range d.snapshot() {
		ws := &writerSeg{info: s.info, reader: s.reader}
		if dd := s.reader.DeletedDocs(); dd != nil {
			ws.del = dd.Clone()
		}
		w.segs = append(w.segs, ws)
	}
	return w, nil
}

// AddDocument buffers one document. The buffer is flushed into a new
// segment when it reaches the configured document or posting limits.
// Document ids are assigned in insertion order at flush time.
func (w *Writer) AddDocument(doc Document) error {
	if w.closed {
		return errors.New("quill: writer is closed")
	}
	w.buf = append(w.buf, doc)
	for _, f := range doc {
		w.bufPosts += len(f.Terms)
	}
	if len(w.buf) >= w.opts.DocLimit || w.bufPosts >= w.opts.PostLimit {
		return w.flush()
	}
	return nil
}

// DeleteByTerm marks every document containing term in field as
// deleted, in every flushed and committed segment. Buffered documents
// are not affected. It returns the number of documents newly deleted.
// Deletions become durable at Commit and are discarded by Cancel.
func (w *Writer) DeleteByTerm(field string, term []byte) (int, error) {
	if w.closed {
		return 0, errors.New("quill: writer is closed")
	}
	var n int
	for _, ws := range w.segs {
		m, err := ws.reader.Terms().Matcher(field, term)
		if err != nil {
			return n, err
		}
		ids, err := matching.AllIDs(m)
		if err != nil {
			return n, err
		}
		for _, id := range ids {
			if ws.del == nil {
				ws.del = roaring.New()
			}
			if ws.del.CheckedAdd(uint32(id)) {
				n++
				ws.delDirty = true
			}
		}
	}
	return n, nil
}

// UpdateDocument deletes every document matching doc's terms in the
// named unique fields, then buffers doc as a new document. It returns
// the number of documents deleted.
func (w *Writer) UpdateDocument(doc Document, unique ...string) (int, error) {
	var n int
	for _, name := range unique {
		for _, t := range doc[name].Terms {
			d, err := w.DeleteByTerm(name, t.Term)
			if err != nil {
				return n, err
			}
			n += d
		}
	}
	return n, w.AddDocument(doc)
}

func fieldLength(f Field) int {
	if f.Length > 0 {
		return f.Length
	}
	return len(f.Terms)
}

// flush writes the buffered documents into a new segment and opens a
// reader over it so later deletions and merges in this session see it.
func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	id := w.idx.allocSegmentID()
	if err := w.writeSegment(id); err != nil {
		err = errors.CombineErrors(err, codec.RemoveSegment(w.fs, w.dir, id))
		return err
	}
	size, err := segmentSize(w.fs, w.dir, id)
	if err != nil {
		return err
	}
	r, err := codec.OpenSegment(w.fs, w.dir, id, w.opts.Features)
	if err != nil {
		return err
	}
	w.segs = append(w.segs, &writerSeg{
		info:    SegmentInfo{ID: id, DocCount: uint64(len(w.buf)), Size: size},
		reader:  r,
		created: true,
	})
	w.opts.Metrics.flushes.Add(1)
	w.opts.Metrics.flushedDocs.Add(uint64(len(w.buf)))
	w.buf = w.buf[:0]
	w.bufPosts = 0
	return nil
}

func (w *Writer) writeSegment(id base.SegmentID) error {
	dw, err := codec.NewPerDocumentWriter(w.fs, w.dir, id)
	if err != nil {
		return err
	}
	inverted := make(map[string][]base.Posting)
	for i, doc := range w.buf {
		docID := base.DocID(i)
		if err := dw.StartDoc(docID); err != nil {
			return err
		}
		names := make([]string, 0, len(doc))
		for name := range doc {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			f := doc[name]
			length := fieldLength(f)
			var vec []codec.VectorEntry
			if f.Vector && len(f.Terms) > 0 {
				vec = make([]codec.VectorEntry, len(f.Terms))
				for j, t := range f.Terms {
					vec[j] = codec.VectorEntry{Term: t.Term, Weight: t.Weight}
				}
				sort.Slice(vec, func(a, b int) bool {
					return string(vec[a].Term) < string(vec[b].Term)
				})
			}
			if err := dw.AddField(name, length, f.Stored, vec); err != nil {
				return err
			}
			for _, t := range f.Terms {
				inverted[name] = append(inverted[name], base.Posting{
					DocID:     docID,
					Term:      t.Term,
					Length:    length,
					Weight:    t.Weight,
					Positions: t.Positions,
					Chars:     t.Chars,
					Payloads:  t.Payloads,
				})
			}
		}
		if err := dw.FinishDoc(); err != nil {
			return err
		}
	}
	if err := dw.Close(); err != nil {
		return err
	}

	fw, err := codec.NewFieldWriter(w.fs, w.dir, id, w.opts.Features,
		w.opts.PostingBlockSize, w.opts.InlinePostingLimit)
	if err != nil {
		return err
	}
	fields := make([]string, 0, len(inverted))
	for name := range inverted {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	for _, name := range fields {
		posts := inverted[name]
		sort.SliceStable(posts, func(a, b int) bool {
			return base.ComparePostings(posts[a], posts[b]) < 0
		})
		if err := fw.StartField(name); err != nil {
			return err
		}
		termOpen := false
		var last []byte
		for _, p := range posts {
			if !termOpen || string(p.Term) != string(last) {
				if termOpen {
					if _, err := fw.FinishTerm(); err != nil {
						return err
					}
				}
				if err := fw.StartTerm(p.Term); err != nil {
					return err
				}
				termOpen = true
				last = p.Term
			}
			if err := fw.AddPosting(p); err != nil {
				return err
			}
		}
		if termOpen {
			if _, err := fw.FinishTerm(); err != nil {
				return err
			}
		}
		if err := fw.FinishField(); err != nil {
			return err
		}
	}
	return fw.Close()
}

// mergeResult is what a merge worker reports back to the committing
// goroutine, which alone integrates results into the segment list.
type mergeResult struct {
	id       base.MergeID
	newID    base.SegmentID
	sources  []int
	liveDocs uint64
	err      error
}

// Commit flushes the buffer, runs the merge policy, writes updated
// deletion bitmaps, and atomically publishes the next TOC generation.
// A merge failure is logged and its inputs are kept as they were; the
// commit itself still succeeds. The writer is closed afterwards.
func (w *Writer) Commit(copts CommitOptions) error {
	if w.closed {
		return errors.New("quill: writer is closed")
	}
	if err := w.flush(); err != nil {
		return err
	}

	var plans [][]base.SegmentID
	if !copts.NoMerge {
		infos := make([]SegmentInfo, len(w.segs))
		for i, ws := range w.segs {
			infos[i] = ws.info
			infos[i].Deleted = ws.deleted()
		}
		if copts.Optimize {
			plans = planOptimize(infos, nil, w.opts.MergePolicy, 1)
		} else {
			plans = planMerges(infos, nil, w.opts.MergePolicy)
		}
	}

	byID := make(map[base.SegmentID]int, len(w.segs))
	for i, ws := range w.segs {
		byID[ws.info.ID] = i
	}
	done := make(chan mergeResult, len(plans))
	var g errgroup.Group
	g.SetLimit(w.opts.MaxConcurrentMerges)
	for _, plan := range plans {
		mid := w.nextMerge
		w.nextMerge++
		newID := w.idx.allocSegmentID()
		srcIdx := make([]int, len(plan))
		sources := make([]*codec.SegmentReader, len(plan))
		dels := make([]*roaring.Bitmap, len(plan))
		for i, sid := range plan {
			srcIdx[i] = byID[sid]
			sources[i] = w.segs[srcIdx[i]].reader
			dels[i] = w.segs[srcIdx[i]].del
		}
		w.opts.Logger.Infof("[%s] merging %d segments into %s", mid, len(plan), newID)
		g.Go(func() error {
			w.opts.Metrics.activeMerges.Add(1)
			defer w.opts.Metrics.activeMerges.Add(-1)
			live, err := mergeSegments(w.fs, w.dir, w.opts, newID, sources, dels)
			done <- mergeResult{id: mid, newID: newID, sources: srcIdx, liveDocs: live, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(done)

	consumed := make(map[int]bool)
	var mergedSegs []*segment
	for res := range done {
		if res.err != nil {
			w.opts.Logger.Errorf("[%s] merge into %s failed: %v", res.id, res.newID, res.err)
			_ = codec.RemoveSegment(w.fs, w.dir, res.newID)
			continue
		}
		for _, si := range res.sources {
			consumed[si] = true
		}
		w.opts.Metrics.merges.Add(1)
		w.opts.Metrics.mergedSegments.Add(uint64(len(res.sources)))
		if res.liveDocs == 0 {
			// Every source document was deleted.
			if err := codec.RemoveSegment(w.fs, w.dir, res.newID); err != nil {
				return err
			}
			continue
		}
		size, err := segmentSize(w.fs, w.dir, res.newID)
		if err != nil {
			return err
		}
		w.opts.Metrics.mergeBytes.Add(size)
		r, err := codec.OpenSegment(w.fs, w.dir, res.newID, w.opts.Features)
		if err != nil {
			return err
		}
		mergedSegs = append(mergedSegs, &segment{
			info:   SegmentInfo{ID: res.newID, DocCount: res.liveDocs, Size: size},
			reader: r,
		})
	}

	var next []*segment
	for i, ws := range w.segs {
		if consumed[i] {
			if ws.created {
				// The index never owned this reader, so install
				// will not close it.
				_ = ws.reader.Close()
			}
			continue
		}
		if ws.del != nil && ws.deleted() == ws.info.DocCount {
			// Fully deleted; drop the segment rather than carry a
			// tombstone-only TOC entry. Its files are removed as
			// unreferenced after the TOC lands.
			if ws.created {
				_ = ws.reader.Close()
			}
			continue
		}
		if ws.delDirty {
			if err := codec.WriteDeletions(w.fs, w.dir, ws.info.ID, ws.del); err != nil {
				return err
			}
			ws.reader.SetDeletions(ws.del)
			ws.info.Deleted = ws.deleted()
		}
		next = append(next, &segment{info: ws.info, reader: ws.reader})
	}
	next = append(next, mergedSegs...)
	sort.Slice(next, func(a, b int) bool { return next[a].info.ID < next[b].info.ID })

	infos := make([]SegmentInfo, len(next))
	for i, s := range next {
		infos[i] = s.info
	}
	gen := w.idx.Gen() + 1
	if err := writeIndexTOC(w.fs, w.dir, gen, infos); err != nil {
		return err
	}
	w.idx.install(gen, next)
	w.idx.removeStaleFiles()
	w.closed = true
	return w.lock.Close()
}

// Cancel abandons the session: buffered documents and uncommitted
// deletions are dropped and any segments flushed during the session are
// removed. The committed index is untouched.
func (w *Writer) Cancel() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	for _, ws := range w.segs {
		if ws.created {
			err = errors.CombineErrors(err, ws.reader.Close())
			err = errors.CombineErrors(err, codec.RemoveSegment(w.fs, w.dir, ws.info.ID))
		}
	}
	w.buf = nil
	return errors.CombineErrors(err, w.lock.Close())
}

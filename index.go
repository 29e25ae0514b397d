// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package quill is an embedded full-text index. An index is a directory
// of immutable segments plus a generation-numbered table of contents;
// writers buffer documents in memory, flush them into new segments, and
// consolidate segments through a tiered merge scheduler. Readers see
// committed generations only.
package quill

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/codec"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/vfs"
)

const lockFilename = "LOCK"

// segment pairs one committed segment's TOC metadata with its open
// reader.
type segment struct {
	info   SegmentInfo
	reader *codec.SegmentReader
}

// Index is an open index directory. An Index serves reads; mutation goes
// through a Writer obtained from NewWriter.
type Index struct {
	opts *Options
	fs   vfs.FS
	dir  string

	mu struct {
		sync.Mutex
		gen     uint64
		nextSeg base.SegmentID
		segs    []*segment
		closed  bool
	}
}

// Open opens the index in dir, creating the directory if needed. An
// empty directory is a valid, empty index.
func Open(dir string, opts *Options) (*Index, error) {
	opts = opts.EnsureDefaults()
	fs := opts.FS
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	gen, infos, err := readLatestTOC(fs, dir)
	if err != nil {
		return nil, err
	}
	idx := &Index{opts: opts, fs: fs, dir: dir}
	idx.mu.gen = gen
	for _, info := range infos {
		r, err := codec.OpenSegment(fs, dir, info.ID, opts.Features)
		if err != nil {
			for _, s := range idx.mu.segs {
				_ = s.reader.Close()
			}
			return nil, err
		}
		idx.mu.segs = append(idx.mu.segs, &segment{info: info, reader: r})
		if info.ID >= idx.mu.nextSeg {
			idx.mu.nextSeg = info.ID + 1
		}
	}
	return idx, nil
}

// Gen returns the committed TOC generation.
func (d *Index) Gen() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mu.gen
}

// Segments returns the committed segments' metadata, in TOC order.
func (d *Index) Segments() []SegmentInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	infos := make([]SegmentInfo, len(d.mu.segs))
	for i, s := range d.mu.segs {
		infos[i] = s.info
	}
	return infos
}

// SegmentReaders returns the open readers of the committed segments. The
// readers are owned by the index and remain valid until the next commit
// replaces them.
func (d *Index) SegmentReaders() []*codec.SegmentReader {
	d.mu.Lock()
	defer d.mu.Unlock()
	readers := make([]*codec.SegmentReader, len(d.mu.segs))
	for i, s := range d.mu.segs {
		readers[i] = s.reader
	}
	return readers
}

// DocCount returns the number of live documents across all segments.
func (d *Index) DocCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n uint64
	for _, s := range d.mu.segs {
		n += s.info.LiveDocs()
	}
	return n
}

// DocCountAll returns the number of documents including deleted ones.
func (d *Index) DocCountAll() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n uint64
	for _, s := range d.mu.segs {
		n += s.info.DocCount
	}
	return n
}

// Metrics returns the index's activity collector.
func (d *Index) Metrics() *Metrics { return d.opts.Metrics }

// allocSegmentID hands out the next never-used segment id.
func (d *Index) allocSegmentID() base.SegmentID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.mu.nextSeg
	d.mu.nextSeg++
	return id
}

// snapshot returns the live segment list for a new writer session.
func (d *Index) snapshot() []*segment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*segment(nil), d.mu.segs...)
}

// install publishes a committed generation: the new segment list replaces
// the old, and readers of segments no longer referenced are closed.
func (d *Index) install(gen uint64, segs []*segment) {
	d.mu.Lock()
	old := d.mu.segs
	d.mu.gen = gen
	d.mu.segs = segs
	d.mu.Unlock()

	kept := make(map[base.SegmentID]bool, len(segs))
	for _, s := range segs {
		kept[s.info.ID] = true
	}
	for _, s := range old {
		if !kept[s.info.ID] {
			_ = s.reader.Close()
		}
	}
}

// removeStaleFiles deletes TOC generations below the committed one and
// segment files no committed segment references. Called only after a
// successful commit, so anything it removes is unreachable.
func (d *Index) removeStaleFiles() {
	d.mu.Lock()
	gen := d.mu.gen
	live := make(map[base.SegmentID]bool, len(d.mu.segs))
	for _, s := range d.mu.segs {
		live[s.info.ID] = true
	}
	d.mu.Unlock()

	names, err := d.fs.List(d.dir)
	if err != nil {
		d.opts.Logger.Errorf("quill: cleanup list failed: %v", err)
		return
	}
	for _, name := range names {
		if g, ok := parseTOCFilename(name); ok && g < gen {
			if err := d.fs.Remove(d.fs.PathJoin(d.dir, name)); err != nil {
				d.opts.Logger.Errorf("quill: cleanup of %s failed: %v", name, err)
			}
			continue
		}
		if _, id, ok := codec.ParseFilename(d.fs, name); ok && !live[id] {
			if err := d.fs.Remove(d.fs.PathJoin(d.dir, name)); err != nil {
				d.opts.Logger.Errorf("quill: cleanup of %s failed: %v", name, err)
			}
		}
	}
}

// Close releases every open segment. Writers must be committed or
// canceled first.
func (d *Index) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.closed {
		return errors.New("quill: index is closed")
	}
	d.mu.closed = true
	var err error
	for _, s := range d.mu.segs {
		err = errors.CombineErrors(err, s.reader.Close())
	}
	d.mu.segs = nil
	return err
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blueline

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
)

// A Table is a single-file, write-once collection of regions. Unlike a
// Store, which keeps its ref list in a sidecar for atomic rewrites, a
// Table embeds the ref index in a footer at the end of the file. Tables
// hold auxiliary per-segment key/value data that is built in one pass and
// never mutated.
//
// Layout: concatenated regions, the encoded ref index, and a uint32
// little-endian length of the ref index.

// TableWriter builds a Table by streaming regions to w. Keys must arrive
// in strictly ascending order.
type TableWriter struct {
	w          io.Writer
	regionSize int
	off        uint64
	refs       []Ref
	pending    []Pair
	lastKey    []byte
	scratch    []byte
	finished   bool
}

// NewTableWriter returns a TableWriter flushing a region every regionSize
// pairs. regionSize <= 0 selects DefaultRegionSize.
func NewTableWriter(w io.Writer, regionSize int) *TableWriter {
	if regionSize <= 0 {
		regionSize = DefaultRegionSize
	}
	return &TableWriter{w: w, regionSize: regionSize}
}

// Set appends a key/value pair. Keys must be strictly ascending.
func (tw *TableWriter) Set(key, value []byte) error {
	if tw.finished {
		return errors.New("blueline: table writer is finished")
	}
	if len(key) == 0 || len(key) > MaxKeyLength {
		return errors.Newf("blueline: invalid key length %d", len(key))
	}
	if tw.lastKey != nil && string(key) <= string(tw.lastKey) {
		return base.OutOfOrderErrorf("blueline: key %q not above %q", key, tw.lastKey)
	}
	tw.lastKey = append(tw.lastKey[:0], key...)
	tw.pending = append(tw.pending, Pair{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
	if len(tw.pending) >= tw.regionSize {
		return tw.flush()
	}
	return nil
}

func (tw *TableWriter) flush() error {
	if len(tw.pending) == 0 {
		return nil
	}
	data, ref, err := WriteRegion(tw.scratch[:0], tw.pending)
	if err != nil {
		return err
	}
	tw.scratch = data[:0]
	if _, err := tw.w.Write(data); err != nil {
		return errors.WithStack(err)
	}
	ref.Offset = tw.off
	tw.off += ref.Length
	tw.refs = append(tw.refs, ref)
	tw.pending = tw.pending[:0]
	return nil
}

// Count returns the number of pairs added so far.
func (tw *TableWriter) Count() int {
	n := len(tw.pending)
	for _, ref := range tw.refs {
		n += int(ref.Count)
	}
	return n
}

// Finish flushes the final region and writes the ref index footer. The
// writer cannot be used afterwards.
func (tw *TableWriter) Finish() error {
	if tw.finished {
		return errors.New("blueline: table writer is finished")
	}
	if err := tw.flush(); err != nil {
		return err
	}
	tw.finished = true
	idx := encodeTOC(0, tw.refs)
	idx = binary.LittleEndian.AppendUint32(idx, uint32(len(idx)))
	_, err := tw.w.Write(idx)
	return errors.WithStack(err)
}

// Table is the read side. It decodes regions lazily through a small LRU,
// so data is typically a memory mapping of the file.
type Table struct {
	data  []byte
	refs  []Ref
	cache regionCache
}

// OpenTable interprets data as a Table. The returned Table references
// data and remains valid only as long as data does.
func OpenTable(data []byte) (*Table, error) {
	if len(data) < 4 {
		return nil, base.CorruptionErrorf("blueline: table too short")
	}
	idxLen := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	if idxLen < 0 || idxLen > len(data)-4 {
		return nil, base.CorruptionErrorf("blueline: bad table index length %d", idxLen)
	}
	body := data[len(data)-4-idxLen : len(data)-4]
	_, refs, err := decodeTOC(body)
	if err != nil {
		return nil, err
	}
	dataLen := uint64(len(data) - 4 - idxLen)
	for _, ref := range refs {
		if ref.Offset+ref.Length > dataLen {
			return nil, base.CorruptionErrorf("blueline: table ref beyond data")
		}
	}
	t := &Table{data: data, refs: refs}
	t.cache.init(4)
	return t, nil
}

// Len returns the number of pairs in the table.
func (t *Table) Len() int {
	n := 0
	for _, ref := range t.refs {
		n += int(ref.Count)
	}
	return n
}

func (t *Table) region(ri int) (*Region, error) {
	ref := t.refs[ri]
	if r, ok := t.cache.get(ref.Offset); ok {
		return r, nil
	}
	r, err := DecodeRegion(t.data[ref.Offset : ref.Offset+ref.Length])
	if err != nil {
		return nil, err
	}
	t.cache.add(ref.Offset, r)
	return r, nil
}

func (t *Table) refForKey(key []byte) (int, bool) {
	i := sort.Search(len(t.refs), func(i int) bool {
		return string(t.refs[i].MaxKey) >= string(key)
	})
	return i, i < len(t.refs) && string(t.refs[i].MinKey) <= string(key)
}

// Get returns the value stored for key, or an error wrapping
// base.ErrNotFound.
func (t *Table) Get(key []byte) ([]byte, error) {
	ri, ok := t.refForKey(key)
	if !ok {
		return nil, errors.Wrapf(base.ErrNotFound, "blueline: key %q", key)
	}
	r, err := t.region(ri)
	if err != nil {
		return nil, err
	}
	return r.Get(key)
}

// Has reports whether key is present.
func (t *Table) Has(key []byte) (bool, error) {
	ri, ok := t.refForKey(key)
	if !ok {
		return false, nil
	}
	r, err := t.region(ri)
	if err != nil {
		return false, err
	}
	return r.Has(key), nil
}

// Each calls fn for every pair in key order. Returning a non-nil error
// stops the walk.
func (t *Table) Each(fn func(key, value []byte) error) error {
	for ri := range t.refs {
		r, err := t.region(ri)
		if err != nil {
			return err
		}
		if err := r.Each(fn); err != nil {
			return err
		}
	}
	return nil
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package fst

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/packed"
)

// Reader provides access to the graphs in an encoded file. The data slice
// is typically a memory-mapped file; the Reader never copies or mutates it.
type Reader struct {
	data   []byte
	fields map[string]uint64
}

// NewReader validates the file header and trailing directory and returns a
// Reader over data.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < headerSize {
		return nil, base.CorruptionErrorf("fst: file too short: %d bytes", len(data))
	}
	if string(data[:4]) != fileMagic {
		return nil, base.CorruptionErrorf("fst: bad magic %x", data[:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != formatVersion {
		return nil, base.CorruptionErrorf("fst: unsupported version %d", v)
	}
	dirOffset := binary.LittleEndian.Uint64(data[8:])
	if dirOffset < headerSize || dirOffset+8 > uint64(len(data)) {
		return nil, base.CorruptionErrorf("fst: directory offset %d out of range", dirOffset)
	}
	dir := data[dirOffset : len(data)-8]
	sum := binary.LittleEndian.Uint64(data[len(data)-8:])
	if xxhash.Sum64(dir) != sum {
		return nil, base.CorruptionErrorf("fst: directory checksum mismatch")
	}

	count, rest, err := packed.Uvarint(dir)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]uint64, count)
	for i := uint64(0); i < count; i++ {
		var name []byte
		name, rest, err = readLenPrefixed(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 8 {
			return nil, base.CorruptionErrorf("fst: truncated directory")
		}
		root := binary.LittleEndian.Uint64(rest)
		rest = rest[8:]
		if root != 0 && (root < headerSize || root >= dirOffset) {
			return nil, base.CorruptionErrorf("fst: field %q root %d out of range", name, root)
		}
		fields[string(name)] = root
	}
	return &Reader{data: data, fields: fields}, nil
}

// Fields returns the names of the fields in the file, sorted.
func (r *Reader) Fields() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Root returns the root node of the named field's graph.
func (r *Reader) Root(field string) (Node, error) {
	addr, ok := r.fields[field]
	if !ok {
		return Node{}, errors.Wrapf(base.ErrNotFound, "fst: field %q", field)
	}
	return Node{r: r, addr: addr}, nil
}

// Node identifies one node in a graph by its file address. The zero
// address is the empty node with no arcs.
type Node struct {
	r    *Reader
	addr uint64
}

// Empty reports whether the node has no outgoing arcs.
func (n Node) Empty() bool { return n.addr == 0 }

// nodeRef describes the physical layout of a node's arc list.
type nodeRef struct {
	// start is the offset of the first arc, past any fixed-size marker.
	start uint64
	// fixedSize is the byte length of every arc record when the node was
	// written with the fixed-size marker, else 0.
	fixedSize int
	// count is the arc count when fixedSize is non-zero.
	count int
}

func (r *Reader) nodeRef(addr uint64) (nodeRef, error) {
	if addr == 0 || addr >= uint64(len(r.data)) {
		return nodeRef{}, base.CorruptionErrorf("fst: node address %d out of range", addr)
	}
	if r.data[addr] != fixedSizeMarker {
		return nodeRef{start: addr}, nil
	}
	size, rest, err := packed.Uvarint(r.data[addr+1:])
	if err != nil {
		return nodeRef{}, err
	}
	count, rest, err := packed.Uvarint(rest)
	if err != nil {
		return nodeRef{}, err
	}
	start := uint64(len(r.data)) - uint64(len(rest))
	if size == 0 || count < 2 || start+size*count > uint64(len(r.data)) {
		return nodeRef{}, base.CorruptionErrorf("fst: bad fixed-size node at %d", addr)
	}
	return nodeRef{start: start, fixedSize: int(size), count: int(count)}, nil
}

// firstArc decodes the first arc of the node at addr.
func (r *Reader) firstArc(addr uint64) (Arc, uint64, error) {
	ref, err := r.nodeRef(addr)
	if err != nil {
		return Arc{}, 0, err
	}
	return decodeArc(r.data, ref.start)
}

// findArcGE searches the node at addr for the first arc whose label is
// greater than or equal to label, binary-searching when the node was
// written with fixed-size arcs. It returns the arc, the offset just past
// it, and false (with no error) when every arc's label is smaller.
func (r *Reader) findArcGE(addr uint64, label byte) (Arc, uint64, bool, error) {
	ref, err := r.nodeRef(addr)
	if err != nil {
		return Arc{}, 0, false, err
	}
	if ref.fixedSize > 0 {
		lo, hi := 0, ref.count
		for lo < hi {
			mid := (lo + hi) / 2
			a, _, err := decodeArc(r.data, ref.start+uint64(mid)*uint64(ref.fixedSize))
			if err != nil {
				return Arc{}, 0, false, err
			}
			if bytes.Compare(a.Label, []byte{label}) < 0 {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo == ref.count {
			return Arc{}, 0, false, nil
		}
		a, next, err := decodeArc(r.data, ref.start+uint64(lo)*uint64(ref.fixedSize))
		if err != nil {
			return Arc{}, 0, false, err
		}
		return a, next, true, nil
	}
	off := ref.start
	for {
		a, next, err := decodeArc(r.data, off)
		if err != nil {
			return Arc{}, 0, false, err
		}
		if len(a.Label) >= 1 && a.Label[0] >= label {
			return a, next, true, nil
		}
		if a.Last {
			return Arc{}, 0, false, nil
		}
		off = next
	}
}

// findArc searches the node at addr for an arc with exactly the given
// label.
func (r *Reader) findArc(addr uint64, label byte) (Arc, uint64, bool, error) {
	a, next, ok, err := r.findArcGE(addr, label)
	if err != nil || !ok {
		return Arc{}, 0, false, err
	}
	if len(a.Label) != 1 || a.Label[0] != label {
		return Arc{}, 0, false, nil
	}
	return a, next, true, nil
}

// arcs decodes the complete arc list of the node at addr.
func (r *Reader) arcs(addr uint64) ([]Arc, error) {
	if addr == 0 {
		return nil, nil
	}
	ref, err := r.nodeRef(addr)
	if err != nil {
		return nil, err
	}
	var out []Arc
	off := ref.start
	for {
		a, next, err := decodeArc(r.data, off)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		if a.Last {
			return out, nil
		}
		off = next
	}
}

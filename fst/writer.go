// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package fst

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
	"github.com/quillindex/quill/internal/base"
)

// MaxKeyLength bounds the byte length of an inserted key.
const MaxKeyLength = 65535

// builderArc is a transient arc hanging off an uncompiled node. Only the
// last arc of a node may point to an uncompiled child; every other target
// has already been frozen to a file address.
type builderArc struct {
	label     byte
	target    uint64
	hasTarget bool
	value     []byte
	acceptVal []byte
	accept    bool
}

// builderNode is the in-memory representation of a node still open for
// extension. It is destroyed once compiled: written to the file and
// replaced by its address in the parent arc.
type builderNode struct {
	arcs []builderArc
}

func (n *builderNode) lastArc() *builderArc {
	return &n.arcs[len(n.arcs)-1]
}

// Writer builds a minimal acyclic graph over the keys of one or more
// fields, written to a single file. Keys within a field must be inserted
// in strictly ascending byte order. Structurally identical suffixes are
// written once and shared.
type Writer struct {
	w      io.Writer
	values Values

	// buf is the complete file image. Node addresses are offsets into it;
	// the directory pointer in the header is backpatched before the final
	// write.
	buf  []byte
	seen swiss.Map[string, uint64]

	fields    map[string]uint64
	field     string
	fieldOpen bool

	frontier []*builderNode
	lastKey  []byte
	// lastValue is the full (undistributed) value of lastKey, kept for
	// duplicate-key merging.
	lastValue []byte
	// residualDepth and pushedCommon record where the previous key's
	// residual value was stored and how much of its value had been hoisted
	// onto shared prefix arcs, again for duplicate-key merging.
	residualDepth int
	pushedCommon  []byte

	nodeCount int
	arcCount  int
	keyCount  int

	closed bool
}

// NewWriter returns a Writer that accumulates the encoded graph and writes
// it to w at Close. values may be nil when keys carry no values.
func NewWriter(w io.Writer, values Values) *Writer {
	fw := &Writer{
		w:      w,
		values: values,
		fields: map[string]uint64{},
	}
	fw.seen.Init(64)
	fw.buf = append(fw.buf, fileMagic...)
	fw.buf = binary.LittleEndian.AppendUint32(fw.buf, formatVersion)
	fw.buf = binary.LittleEndian.AppendUint64(fw.buf, 0) // directory offset, backpatched
	return fw
}

// NodeCount returns the number of distinct nodes written so far.
func (w *Writer) NodeCount() int { return w.nodeCount }

// ArcCount returns the number of arcs written so far.
func (w *Writer) ArcCount() int { return w.arcCount }

// KeyCount returns the number of keys inserted so far.
func (w *Writer) KeyCount() int { return w.keyCount }

// StartField begins the graph for a new field. The previous field, if any,
// must have been finished.
func (w *Writer) StartField(name string) error {
	if w.closed {
		return errors.New("fst: writer is closed")
	}
	if w.fieldOpen {
		return errors.Newf("fst: field %q still open", w.field)
	}
	if _, ok := w.fields[name]; ok {
		return errors.Newf("fst: field %q already written", name)
	}
	w.field = name
	w.fieldOpen = true
	w.frontier = []*builderNode{{}}
	w.lastKey = nil
	w.lastValue = nil
	return nil
}

// Insert adds a key, and its value if the writer has a values policy, to
// the current field's graph. Keys must arrive in strictly ascending byte
// order; inserting the same key twice merges the two values via the
// policy's Merge.
func (w *Writer) Insert(key, value []byte) error {
	if w.closed {
		return errors.New("fst: writer is closed")
	}
	if !w.fieldOpen {
		return errors.New("fst: no field started")
	}
	if len(key) == 0 {
		return errors.New("fst: empty key")
	}
	if len(key) > MaxKeyLength {
		return errors.Newf("fst: key length %d exceeds maximum %d", len(key), MaxKeyLength)
	}
	if w.values == nil {
		if len(value) > 0 {
			return errors.New("fst: writer has no values policy")
		}
	} else if err := w.values.Validate(value); err != nil {
		return err
	}

	switch cmp := bytes.Compare(key, w.lastKey); {
	case w.lastKey != nil && cmp < 0:
		return base.OutOfOrderErrorf("fst: key %q inserted after %q in field %q", key, w.lastKey, w.field)
	case w.lastKey != nil && cmp == 0:
		return w.mergeDuplicate(value)
	}

	prefixLen := sharedPrefixLen(key, w.lastKey)
	w.freezeTo(prefixLen)

	// Hoist the shared part of the new value onto the existing prefix arcs,
	// pushing displaced residuals down one level toward the keys that own
	// them.
	rem := value
	if w.values != nil {
		var pushed []byte
		for i := 0; i < prefixLen; i++ {
			arc := w.frontier[i].lastArc()
			common := w.values.Common(rem, arc.value)
			if !bytes.Equal(common, arc.value) {
				diff := w.values.Subtract(arc.value, common)
				arc.value = common
				child := w.frontier[i+1]
				for j := range child.arcs {
					child.arcs[j].value = w.values.Add(diff, child.arcs[j].value)
				}
				if arc.accept {
					arc.acceptVal = w.values.Add(diff, arc.acceptVal)
				}
			}
			pushed = w.values.Add(pushed, arc.value)
			rem = w.values.Subtract(rem, arc.value)
		}
		w.pushedCommon = pushed
	}

	// Append uncompiled nodes for the new suffix.
	for i := prefixLen; i < len(key); i++ {
		node := w.frontier[i]
		node.arcs = append(node.arcs, builderArc{label: key[i]})
		w.frontier = append(w.frontier, &builderNode{})
	}
	if w.values != nil && len(rem) > 0 {
		w.frontier[prefixLen].lastArc().value = rem
	}
	w.frontier[len(key)-1].lastArc().accept = true

	w.residualDepth = prefixLen
	w.lastKey = append(w.lastKey[:0], key...)
	w.lastValue = value
	w.keyCount++
	return nil
}

// mergeDuplicate merges value into the previous, identical key.
func (w *Writer) mergeDuplicate(value []byte) error {
	if w.values == nil {
		return base.OutOfOrderErrorf("fst: duplicate key %q in field %q", w.lastKey, w.field)
	}
	merged, err := w.values.Merge(w.lastValue, value)
	if err != nil {
		return err
	}
	// The previous residual sits on an arc no other key shares; replace it
	// with the merged value minus whatever was hoisted onto prefix arcs.
	if !bytes.Equal(w.values.Common(merged, w.pushedCommon), w.pushedCommon) {
		return errors.Newf("fst: merged value for %q incompatible with hoisted prefix", w.lastKey)
	}
	w.frontier[w.residualDepth].lastArc().value = w.values.Subtract(merged, w.pushedCommon)
	w.lastValue = merged
	return nil
}

// freezeTo compiles every uncompiled node strictly below depth. Sorted
// insertion guarantees those suffixes can never be extended again.
func (w *Writer) freezeTo(depth int) {
	for i := len(w.frontier) - 1; i > depth; i-- {
		child := w.frontier[i]
		parentArc := w.frontier[i-1].lastArc()
		if len(child.arcs) == 0 {
			parentArc.hasTarget = false
		} else {
			parentArc.target = w.compileNode(child)
			parentArc.hasTarget = true
		}
	}
	w.frontier = w.frontier[:depth+1]
}

// compileNode encodes a node's arcs, deduplicates the encoding against
// previously written nodes, and returns the node's file address.
func (w *Writer) compileNode(n *builderNode) uint64 {
	var enc []byte
	arcStart := make([]int, len(n.arcs)+1)
	for i := range n.arcs {
		ba := &n.arcs[i]
		a := Arc{
			Label:     []byte{ba.label},
			Value:     ba.value,
			AcceptVal: ba.acceptVal,
			Accept:    ba.accept,
			Last:      i == len(n.arcs)-1,
		}
		if ba.hasTarget {
			a.Target = ba.target
		}
		arcStart[i] = len(enc)
		enc = appendArc(enc, &a)
	}
	arcStart[len(n.arcs)] = len(enc)

	// If every arc encoded to the same length, prepend the fixed-size
	// marker so readers can binary-search by label.
	if len(n.arcs) > 1 {
		size := arcStart[1] - arcStart[0]
		fixed := true
		for i := 1; i < len(n.arcs); i++ {
			if arcStart[i+1]-arcStart[i] != size {
				fixed = false
				break
			}
		}
		if fixed {
			hdr := []byte{fixedSizeMarker}
			hdr = binary.AppendUvarint(hdr, uint64(size))
			hdr = binary.AppendUvarint(hdr, uint64(len(n.arcs)))
			enc = append(hdr, enc...)
		}
	}

	if addr, ok := w.seen.Get(string(enc)); ok {
		return addr
	}
	addr := uint64(len(w.buf))
	w.buf = append(w.buf, enc...)
	w.seen.Put(string(enc), addr)
	w.nodeCount++
	w.arcCount += len(n.arcs)
	return addr
}

// FinishField freezes the current field's remaining nodes back to the root
// and records the root address for the closing directory.
func (w *Writer) FinishField() error {
	if !w.fieldOpen {
		return errors.New("fst: no field started")
	}
	w.freezeTo(0)
	root := w.frontier[0]
	var rootAddr uint64
	if len(root.arcs) > 0 {
		rootAddr = w.compileNode(root)
	}
	w.fields[w.field] = rootAddr
	w.fieldOpen = false
	w.frontier = nil
	w.lastKey = nil
	w.lastValue = nil
	return nil
}

// Close finishes any open field, writes the trailing field directory,
// backpatches the header pointer to it, and writes the file image to the
// underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return errors.New("fst: writer is closed")
	}
	if w.fieldOpen {
		if err := w.FinishField(); err != nil {
			return err
		}
	}
	w.closed = true

	dirOffset := uint64(len(w.buf))
	names := make([]string, 0, len(w.fields))
	for name := range w.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	var dir []byte
	dir = binary.AppendUvarint(dir, uint64(len(names)))
	for _, name := range names {
		dir = binary.AppendUvarint(dir, uint64(len(name)))
		dir = append(dir, name...)
		dir = binary.LittleEndian.AppendUint64(dir, w.fields[name])
	}
	w.buf = append(w.buf, dir...)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, xxhash.Sum64(dir))
	binary.LittleEndian.PutUint64(w.buf[8:], dirOffset)

	_, err := w.w.Write(w.buf)
	return errors.WithStack(err)
}

func sharedPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

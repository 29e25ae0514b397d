// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package codec

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/golang/snappy"
	"github.com/quillindex/quill/blueline"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/packed"
	"github.com/quillindex/quill/vfs"
)

// VectorEntry is one term of a document's term vector: the indexed term
// bytes and the weight the term carried in that document.
type VectorEntry struct {
	Term   []byte
	Weight float32
}

// docKey returns the big-endian docid key used by the stored field and
// vector tables. Big-endian keeps table order equal to docid order.
func docKey(doc base.DocID) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(doc))
	return k[:]
}

func vectorKey(doc base.DocID, field string) []byte {
	return append(docKey(doc), field...)
}

// encodeStoredBlob serializes one document's stored fields: uvarint entry
// count, then per entry a length-prefixed name and value. The blob is
// snappy-compressed before it reaches the stored table.
func encodeStoredBlob(entries []storedEntry) []byte {
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(len(e.name)))
		buf = append(buf, e.name...)
		buf = binary.AppendUvarint(buf, uint64(len(e.value)))
		buf = append(buf, e.value...)
	}
	return buf
}

func decodeStoredBlob(data []byte) (map[string][]byte, error) {
	n, data, err := packed.Uvarint(data)
	if err != nil {
		return nil, err
	}
	fields := make(map[string][]byte, n)
	for i := uint64(0); i < n; i++ {
		var nameLen, valLen uint64
		nameLen, data, err = packed.Uvarint(data)
		if err != nil {
			return nil, err
		}
		if uint64(len(data)) < nameLen {
			return nil, base.CorruptionErrorf("codec: truncated stored field name")
		}
		name := string(data[:nameLen])
		data = data[nameLen:]
		valLen, data, err = packed.Uvarint(data)
		if err != nil {
			return nil, err
		}
		if uint64(len(data)) < valLen {
			return nil, base.CorruptionErrorf("codec: truncated stored field %q", name)
		}
		fields[name] = append([]byte(nil), data[:valLen]...)
		data = data[valLen:]
	}
	return fields, nil
}

// encodeVectorBlob serializes a term vector: uvarint entry count, then per
// entry a length-prefixed term and a float32 weight.
func encodeVectorBlob(entries []VectorEntry) []byte {
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(len(e.Term)))
		buf = append(buf, e.Term...)
		buf = packed.AppendFloat32(buf, e.Weight)
	}
	return buf
}

func decodeVectorBlob(data []byte) ([]VectorEntry, error) {
	n, data, err := packed.Uvarint(data)
	if err != nil {
		return nil, err
	}
	entries := make([]VectorEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		var termLen uint64
		termLen, data, err = packed.Uvarint(data)
		if err != nil {
			return nil, err
		}
		if uint64(len(data)) < termLen {
			return nil, base.CorruptionErrorf("codec: truncated vector term")
		}
		var e VectorEntry
		e.Term = append([]byte(nil), data[:termLen]...)
		data = data[termLen:]
		e.Weight, data, err = packed.ReadFloat32(data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type storedEntry struct {
	name  string
	value []byte
}

// PerDocumentWriter writes a segment's per-document files: field length
// columns, snappy-compressed stored field blobs, and optional term
// vectors. Documents must be added densely, starting at docid 0. Within a
// document fields must arrive in ascending name order.
type PerDocumentWriter struct {
	fs  vfs.FS
	dir string
	id  base.SegmentID

	stoFile vfs.File
	sto     *blueline.TableWriter
	vecFile vfs.File
	vec     *blueline.TableWriter

	cols map[string][]uint64
	next base.DocID

	docOpen   bool
	cur       base.DocID
	lastField string
	stored    []storedEntry

	closed bool
}

// NewPerDocumentWriter creates the stored field table for segment id and
// returns a writer for the segment's per-document data. The vector table
// is created lazily, on the first vector added.
func NewPerDocumentWriter(fs vfs.FS, dir string, id base.SegmentID) (*PerDocumentWriter, error) {
	f, err := fs.Create(SegmentPath(fs, dir, FileTypeStored, id))
	if err != nil {
		return nil, err
	}
	return &PerDocumentWriter{
		fs:      fs,
		dir:     dir,
		id:      id,
		stoFile: f,
		sto:     blueline.NewTableWriter(f, 0),
		cols:    map[string][]uint64{},
	}, nil
}

// StartDoc begins document doc. Docids are dense: doc must be exactly one
// past the previous document.
func (w *PerDocumentWriter) StartDoc(doc base.DocID) error {
	if w.closed {
		return errors.New("codec: per-document writer is closed")
	}
	if w.docOpen {
		return errors.Newf("codec: document %d still open", w.cur)
	}
	if doc != w.next {
		return base.OutOfOrderErrorf("codec: document %d out of order, want %d", doc, w.next)
	}
	w.docOpen = true
	w.cur = doc
	w.lastField = ""
	w.stored = w.stored[:0]
	return nil
}

// AddField records one field of the open document: its indexed length (0
// when the field is not scored by length), its stored value (nil when the
// field is not stored), and its term vector (nil when none).
func (w *PerDocumentWriter) AddField(name string, length int, stored []byte, vector []VectorEntry) error {
	if !w.docOpen {
		return errors.New("codec: no document open")
	}
	if name == "" {
		return errors.New("codec: empty field name")
	}
	if w.lastField != "" && name <= w.lastField {
		return base.OutOfOrderErrorf("codec: field %q not above %q", name, w.lastField)
	}
	w.lastField = name
	if length > 0 {
		lens := w.cols[name]
		for len(lens) < int(w.cur) {
			lens = append(lens, 0)
		}
		w.cols[name] = append(lens, uint64(length))
	}
	if stored != nil {
		w.stored = append(w.stored, storedEntry{name: name, value: append([]byte(nil), stored...)})
	}
	if len(vector) > 0 {
		if w.vec == nil {
			f, err := w.fs.Create(SegmentPath(w.fs, w.dir, FileTypeVectors, w.id))
			if err != nil {
				return err
			}
			w.vecFile = f
			w.vec = blueline.NewTableWriter(f, 0)
		}
		if err := w.vec.Set(vectorKey(w.cur, name), encodeVectorBlob(vector)); err != nil {
			return err
		}
	}
	return nil
}

// FinishDoc completes the open document, flushing its stored fields.
func (w *PerDocumentWriter) FinishDoc() error {
	if !w.docOpen {
		return errors.New("codec: no document open")
	}
	if len(w.stored) > 0 {
		blob := snappy.Encode(nil, encodeStoredBlob(w.stored))
		if err := w.sto.Set(docKey(w.cur), blob); err != nil {
			return err
		}
	}
	w.docOpen = false
	w.next = w.cur + 1
	return nil
}

// DocCount returns the number of finished documents.
func (w *PerDocumentWriter) DocCount() int { return int(w.next) }

// Close finishes the stored and vector tables and writes the column file.
// The last document must have been finished.
func (w *PerDocumentWriter) Close() error {
	if w.closed {
		return errors.New("codec: per-document writer is closed")
	}
	if w.docOpen {
		return errors.Newf("codec: document %d still open", w.cur)
	}
	w.closed = true

	cols := make(map[string]*column, len(w.cols))
	for name, lens := range w.cols {
		cols[name] = buildColumn(lens, int(w.next))
	}
	err := vfs.WriteFileAtomic(w.fs, w.dir, MakeFilename(FileTypeColumns, w.id),
		encodeColumns(int(w.next), cols))

	err = errors.CombineErrors(err, w.sto.Finish())
	err = errors.CombineErrors(err, w.stoFile.Sync())
	err = errors.CombineErrors(err, w.stoFile.Close())
	if w.vec != nil {
		err = errors.CombineErrors(err, w.vec.Finish())
		err = errors.CombineErrors(err, w.vecFile.Sync())
		err = errors.CombineErrors(err, w.vecFile.Close())
	}
	return err
}

// PerDocumentReader reads a segment's per-document files. The stored and
// vector tables are memory mapped; the column file is held in memory.
type PerDocumentReader struct {
	docCount int
	cols     map[string]column

	sto      *blueline.Table
	stoUnmap io.Closer
	stoFile  vfs.File

	vec      *blueline.Table
	vecUnmap io.Closer
	vecFile  vfs.File
}

// OpenPerDocumentReader opens the per-document files of segment id.
func OpenPerDocumentReader(fs vfs.FS, dir string, id base.SegmentID) (*PerDocumentReader, error) {
	colData, err := vfs.ReadFile(fs, SegmentPath(fs, dir, FileTypeColumns, id))
	if err != nil {
		return nil, err
	}
	docCount, cols, err := decodeColumns(colData)
	if err != nil {
		return nil, err
	}
	r := &PerDocumentReader{docCount: docCount, cols: cols}

	r.stoFile, err = fs.Open(SegmentPath(fs, dir, FileTypeStored, id))
	if err != nil {
		return nil, err
	}
	data, unmap, err := vfs.MapReadOnly(r.stoFile)
	if err != nil {
		_ = r.stoFile.Close()
		return nil, err
	}
	r.stoUnmap = unmap
	r.sto, err = blueline.OpenTable(data)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	r.vecFile, err = fs.Open(SegmentPath(fs, dir, FileTypeVectors, id))
	switch {
	case oserror.IsNotExist(err):
		r.vecFile = nil
	case err != nil:
		_ = r.Close()
		return nil, err
	default:
		data, unmap, err := vfs.MapReadOnly(r.vecFile)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.vecUnmap = unmap
		r.vec, err = blueline.OpenTable(data)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

// DocCount returns the number of documents in the segment, including any
// that were later deleted.
func (r *PerDocumentReader) DocCount() int { return r.docCount }

// FieldLength returns the indexed length of field in doc. Documents
// without the field, and fields never indexed with lengths, report 0.
func (r *PerDocumentReader) FieldLength(doc base.DocID, field string) int {
	if int(doc) >= r.docCount {
		return 0
	}
	c, ok := r.cols[field]
	if !ok {
		return 0
	}
	return int(c.length(doc))
}

// TotalFieldLength returns the sum of field's length over all documents.
func (r *PerDocumentReader) TotalFieldLength(field string) uint64 {
	return r.cols[field].total
}

// LengthFields returns the names of the fields carrying length columns,
// sorted.
func (r *PerDocumentReader) LengthFields() []string {
	names := make([]string, 0, len(r.cols))
	for name := range r.cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StoredFields returns the stored fields of doc. A document that stored
// nothing yields a nil map.
func (r *PerDocumentReader) StoredFields(doc base.DocID) (map[string][]byte, error) {
	blob, err := r.sto.Get(docKey(doc))
	if errors.Is(err, base.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, base.MarkCorruptionError(err)
	}
	return decodeStoredBlob(raw)
}

// Vector returns the term vector stored for field in doc, or nil when the
// document carries none.
func (r *PerDocumentReader) Vector(doc base.DocID, field string) ([]VectorEntry, error) {
	if r.vec == nil {
		return nil, nil
	}
	blob, err := r.vec.Get(vectorKey(doc, field))
	if errors.Is(err, base.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeVectorBlob(blob)
}

// Close releases the reader's mappings and file handles.
func (r *PerDocumentReader) Close() error {
	var err error
	if r.stoUnmap != nil {
		err = errors.CombineErrors(err, r.stoUnmap.Close())
		r.stoUnmap = nil
	}
	if r.stoFile != nil {
		err = errors.CombineErrors(err, r.stoFile.Close())
		r.stoFile = nil
	}
	if r.vecUnmap != nil {
		err = errors.CombineErrors(err, r.vecUnmap.Close())
		r.vecUnmap = nil
	}
	if r.vecFile != nil {
		err = errors.CombineErrors(err, r.vecFile.Close())
		r.vecFile = nil
	}
	return err
}

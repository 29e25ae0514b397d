// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blueline

import (
	"bytes"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/vfs"
)

// Writer buffers mutations against a store. Mutations stay in memory
// until Flush merges them into rewritten regions appended to the data
// file; Commit then publishes a new table of contents atomically.
// Concurrent readers of the store see nothing until Commit. A writer
// holds the store's file lock for its whole lifetime, so at most one
// writer exists per store across processes.
type Writer struct {
	s        *Store
	lock     io.Closer
	buf      map[string]overlayEntry
	dataSize uint64
	origSize uint64
	dirty    bool
	closed   bool
}

// NewWriter locks the store for writing. If wait is false and another
// writer holds the lock, NewWriter fails with base.ErrLocked.
func (s *Store) NewWriter(wait bool) (*Writer, error) {
	lock, err := s.fs.Lock(s.lockPath(), wait)
	if err != nil {
		return nil, err
	}
	var size uint64
	if fi, err := s.fs.Stat(s.dataPath()); err == nil {
		size = uint64(fi.Size())
	} else if !oserror.IsNotExist(err) {
		lock.Close()
		return nil, err
	}
	return &Writer{
		s:        s,
		lock:     lock,
		buf:      make(map[string]overlayEntry),
		dataSize: size,
		origSize: size,
	}, nil
}

// Set buffers a write of key to value.
func (w *Writer) Set(key, value []byte) error {
	if w.closed {
		return errors.New("blueline: writer is closed")
	}
	if len(key) == 0 || len(key) > MaxKeyLength {
		return errors.Newf("blueline: invalid key length %d", len(key))
	}
	k := append([]byte(nil), key...)
	w.buf[string(k)] = overlayEntry{key: k, value: append([]byte(nil), value...)}
	return nil
}

// Delete buffers a deletion of key. Deleting an absent key is not an
// error.
func (w *Writer) Delete(key []byte) error {
	if w.closed {
		return errors.New("blueline: writer is closed")
	}
	k := append([]byte(nil), key...)
	w.buf[string(k)] = overlayEntry{key: k, deleted: true}
	return nil
}

// Get returns the value the store would hold after a commit, reading
// through the buffer to committed state.
func (w *Writer) Get(key []byte) ([]byte, error) {
	if e, ok := w.buf[string(key)]; ok {
		if e.deleted {
			return nil, errors.Wrapf(base.ErrNotFound, "blueline: key %q", key)
		}
		return append([]byte(nil), e.value...), nil
	}
	return w.s.Get(key)
}

// Has reports whether key would be present after a commit.
func (w *Writer) Has(key []byte) (bool, error) {
	_, err := w.Get(key)
	if errors.Is(err, base.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// NewCursor returns a cursor over the writer's view: committed pairs
// overlaid with buffered mutations. The cursor is invalidated by any
// subsequent mutation, flush or commit.
func (w *Writer) NewCursor() Cursor {
	return newOverlayCursor(w.s.NewCursor(), w.sortedBuf())
}

func (w *Writer) sortedBuf() []overlayEntry {
	entries := make([]overlayEntry, 0, len(w.buf))
	for _, e := range w.buf {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
	return entries
}

// Flush merges the buffered mutations into the store. Regions the
// mutations touch are rewritten; untouched regions keep their refs.
// Undersized regions adjacent to a rewrite are folded in. The new
// regions are appended to the data file and become visible through this
// store handle, but stay unreferenced by the committed table of contents
// until Commit.
func (w *Writer) Flush() error {
	if w.closed {
		return errors.New("blueline: writer is closed")
	}
	if len(w.buf) == 0 {
		return nil
	}
	entries := w.sortedBuf()

	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	refs := w.s.mu.refs

	var (
		newData []byte
		out     []Ref
		pending []Pair
	)
	emit := func() error {
		for len(pending) > 0 {
			n := min(len(pending), w.s.opts.RegionSize)
			var (
				ref Ref
				err error
			)
			newData, ref, err = WriteRegion(newData, pending[:n])
			if err != nil {
				return err
			}
			ref.Offset += w.dataSize
			out = append(out, ref)
			pending = pending[n:]
		}
		pending = nil
		return nil
	}

	bi := 0
	for ri, ref := range refs {
		start := bi
		for bi < len(entries) && bytes.Compare(entries[bi].key, ref.MaxKey) <= 0 {
			bi++
		}
		span := entries[start:bi]
		small := int(ref.Count) < w.s.opts.RegionSize/2
		if len(span) == 0 && !(small && len(pending) > 0) {
			if err := emit(); err != nil {
				return err
			}
			out = append(out, ref)
			continue
		}
		r, err := w.s.regionLocked(ri)
		if err != nil {
			return err
		}
		pending = mergeSpan(pending, r, span)
	}
	for _, e := range entries[bi:] {
		if !e.deleted {
			pending = append(pending, Pair{Key: e.key, Value: e.value})
		}
	}
	if err := emit(); err != nil {
		return err
	}

	if len(newData) > 0 {
		if err := w.append(newData); err != nil {
			return err
		}
		w.dataSize += uint64(len(newData))
		if err := w.remapLocked(); err != nil {
			return err
		}
	}
	w.s.mu.cache.clear()
	w.s.mu.refs = out
	w.buf = make(map[string]overlayEntry)
	w.dirty = true
	return nil
}

// mergeSpan appends the merge of a region's pairs and a sorted slab of
// buffered mutations to pending. Buffered values shadow region values;
// deletions drop pairs.
func mergeSpan(pending []Pair, r *Region, span []overlayEntry) []Pair {
	ei := 0
	for i := 0; i < r.Count(); i++ {
		key := r.Key(i)
		for ei < len(span) && bytes.Compare(span[ei].key, key) < 0 {
			if !span[ei].deleted {
				pending = append(pending, Pair{Key: span[ei].key, Value: span[ei].value})
			}
			ei++
		}
		if ei < len(span) && bytes.Equal(span[ei].key, key) {
			if !span[ei].deleted {
				pending = append(pending, Pair{Key: span[ei].key, Value: span[ei].value})
			}
			ei++
			continue
		}
		pending = append(pending, Pair{Key: key, Value: r.Value(i)})
	}
	for ; ei < len(span); ei++ {
		if !span[ei].deleted {
			pending = append(pending, Pair{Key: span[ei].key, Value: span[ei].value})
		}
	}
	return pending
}

func (w *Writer) append(data []byte) error {
	f, err := w.s.fs.OpenAppend(w.s.dataPath())
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// remapLocked replaces the store's mapping with one covering the grown
// data file. Callers must hold s.mu.
func (w *Writer) remapLocked() error {
	s := w.s
	if s.mu.unmap != nil {
		if err := s.mu.unmap.Close(); err != nil {
			return err
		}
		s.mu.unmap = nil
		s.mu.data = nil
	}
	f, err := s.fs.Open(s.dataPath())
	if err != nil {
		return err
	}
	data, unmap, err := vfs.MapReadOnly(f)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	s.mu.data, s.mu.unmap = data, unmap
	return nil
}

// Commit flushes the buffer, atomically publishes a new table of
// contents with a bumped generation, and releases the store lock. The
// writer is unusable afterwards.
func (w *Writer) Commit() error {
	if w.closed {
		return errors.New("blueline: writer is closed")
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if w.dirty {
		w.s.mu.Lock()
		w.s.mu.gen++
		toc := encodeTOC(w.s.mu.gen, w.s.mu.refs)
		w.s.mu.Unlock()
		if err := vfs.WriteFileAtomic(w.s.fs, w.s.dir, w.s.name+".toc", toc); err != nil {
			return err
		}
	}
	return w.release()
}

// Cancel discards buffered and flushed-but-uncommitted mutations,
// truncates the data file back to its committed size, and releases the
// store lock.
func (w *Writer) Cancel() error {
	if w.closed {
		return nil
	}
	w.buf = nil
	if w.dataSize > w.origSize {
		if err := w.s.fs.Truncate(w.s.dataPath(), int64(w.origSize)); err != nil {
			return err
		}
	}
	if err := w.s.reload(); err != nil {
		return err
	}
	return w.release()
}

func (w *Writer) release() error {
	w.closed = true
	w.buf = nil
	return w.lock.Close()
}

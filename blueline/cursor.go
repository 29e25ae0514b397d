// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blueline

import (
	"bytes"
	"sort"
)

// Cursor iterates over key/value pairs in ascending key order. A cursor
// starts unpositioned; call First or Seek before Key or Value. The byte
// slices returned by Key and Value are only valid until the cursor moves.
type Cursor interface {
	// First positions the cursor at the smallest key.
	First() (bool, error)
	// Next advances to the next key.
	Next() (bool, error)
	// Seek positions the cursor at the first key >= key.
	Seek(key []byte) (bool, error)
	// Valid reports whether the cursor is positioned at a pair.
	Valid() bool
	Key() []byte
	Value() []byte
}

// regionCursor iterates over a single decoded region.
type regionCursor struct {
	r *Region
	i int
}

// NewRegionCursor returns an unpositioned cursor over r.
func NewRegionCursor(r *Region) Cursor {
	return &regionCursor{r: r, i: -1}
}

func (c *regionCursor) First() (bool, error) {
	c.i = 0
	return c.Valid(), nil
}

func (c *regionCursor) Next() (bool, error) {
	if c.i < c.r.Count() {
		c.i++
	}
	return c.Valid(), nil
}

func (c *regionCursor) Seek(key []byte) (bool, error) {
	c.i = c.r.search(key)
	return c.Valid(), nil
}

func (c *regionCursor) Valid() bool { return c.i >= 0 && c.i < c.r.Count() }
func (c *regionCursor) Key() []byte { return c.r.Key(c.i) }
func (c *regionCursor) Value() []byte { return c.r.Value(c.i) }

// storeCursor iterates over every committed pair of a store, moving
// serially through the store's regions.
type storeCursor struct {
	s  *Store
	ri int
	rc *regionCursor
}

// NewCursor returns an unpositioned cursor over the store's committed
// pairs. The cursor is invalidated by Close and by writer commits.
func (s *Store) NewCursor() Cursor {
	return &storeCursor{s: s, ri: -1}
}

func (c *storeCursor) load(ri int) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if ri >= len(c.s.mu.refs) {
		c.ri, c.rc = len(c.s.mu.refs), nil
		return false, nil
	}
	r, err := c.s.regionLocked(ri)
	if err != nil {
		return false, err
	}
	c.ri = ri
	c.rc = &regionCursor{r: r, i: -1}
	return true, nil
}

func (c *storeCursor) First() (bool, error) {
	ok, err := c.load(0)
	if err != nil || !ok {
		return false, err
	}
	return c.rc.First()
}

func (c *storeCursor) Next() (bool, error) {
	if c.rc == nil {
		return false, nil
	}
	if ok, err := c.rc.Next(); err != nil || ok {
		return ok, err
	}
	ok, err := c.load(c.ri + 1)
	if err != nil || !ok {
		return false, err
	}
	return c.rc.First()
}

func (c *storeCursor) Seek(key []byte) (bool, error) {
	c.s.mu.Lock()
	ri, _ := refForKey(c.s.mu.refs, key)
	c.s.mu.Unlock()
	ok, err := c.load(ri)
	if err != nil || !ok {
		return false, err
	}
	if ok, err := c.rc.Seek(key); err != nil || ok {
		return ok, err
	}
	// key was above the region's max; continue into the next region.
	if ok, err := c.load(c.ri + 1); err != nil || !ok {
		return false, err
	}
	return c.rc.First()
}

func (c *storeCursor) Valid() bool { return c.rc != nil && c.rc.Valid() }
func (c *storeCursor) Key() []byte { return c.rc.Key() }
func (c *storeCursor) Value() []byte { return c.rc.Value() }

// suffixCursor restricts a cursor to the keys carrying a given prefix and
// exposes them with the prefix stripped.
type suffixCursor struct {
	c      Cursor
	prefix []byte
	valid  bool
}

// NewSuffixCursor returns a view of c restricted to keys beginning with
// prefix. Key returns the suffix after the prefix.
func NewSuffixCursor(c Cursor, prefix []byte) Cursor {
	return &suffixCursor{c: c, prefix: prefix}
}

func (c *suffixCursor) clamp(ok bool, err error) (bool, error) {
	c.valid = ok && err == nil && bytes.HasPrefix(c.c.Key(), c.prefix)
	return c.valid, err
}

func (c *suffixCursor) First() (bool, error) {
	ok, err := c.c.Seek(c.prefix)
	return c.clamp(ok, err)
}

func (c *suffixCursor) Next() (bool, error) {
	if !c.valid {
		return false, nil
	}
	ok, err := c.c.Next()
	return c.clamp(ok, err)
}

func (c *suffixCursor) Seek(key []byte) (bool, error) {
	full := make([]byte, 0, len(c.prefix)+len(key))
	full = append(append(full, c.prefix...), key...)
	ok, err := c.c.Seek(full)
	return c.clamp(ok, err)
}

func (c *suffixCursor) Valid() bool { return c.valid }
func (c *suffixCursor) Key() []byte { return c.c.Key()[len(c.prefix):] }
func (c *suffixCursor) Value() []byte { return c.c.Value() }

// overlayEntry is one buffered mutation visible through an overlayCursor.
type overlayEntry struct {
	key     []byte
	value   []byte
	deleted bool
}

// overlayCursor merges a base cursor with a sorted slice of buffered
// mutations. A buffered entry shadows a base pair with the same key;
// buffered deletions hide base pairs and are themselves skipped.
type overlayCursor struct {
	base    Cursor
	buf     []overlayEntry
	bi      int
	baseOK  bool
	started bool
	useBuf  bool
}

func newOverlayCursor(base Cursor, buf []overlayEntry) *overlayCursor {
	return &overlayCursor{base: base, buf: buf}
}

// settle resolves the current front of the two sources, consuming
// shadowed base pairs and buffered deletions.
func (c *overlayCursor) settle() (bool, error) {
	for {
		bufOK := c.bi < len(c.buf)
		if !bufOK && !c.baseOK {
			c.started = false
			return false, nil
		}
		cmp := -1
		if !bufOK {
			cmp = 1
		} else if c.baseOK {
			cmp = bytes.Compare(c.buf[c.bi].key, c.base.Key())
		}
		if cmp == 0 {
			// Buffered entry shadows the base pair.
			var err error
			if c.baseOK, err = c.base.Next(); err != nil {
				return false, err
			}
			cmp = -1
		}
		if cmp < 0 {
			if c.buf[c.bi].deleted {
				c.bi++
				continue
			}
			c.useBuf = true
		} else {
			c.useBuf = false
		}
		c.started = true
		return true, nil
	}
}

func (c *overlayCursor) First() (bool, error) {
	var err error
	c.bi = 0
	if c.baseOK, err = c.base.First(); err != nil {
		return false, err
	}
	return c.settle()
}

func (c *overlayCursor) Next() (bool, error) {
	if !c.started {
		return false, nil
	}
	if c.useBuf {
		c.bi++
	} else {
		var err error
		if c.baseOK, err = c.base.Next(); err != nil {
			return false, err
		}
	}
	return c.settle()
}

func (c *overlayCursor) Seek(key []byte) (bool, error) {
	var err error
	c.bi = sort.Search(len(c.buf), func(i int) bool {
		return bytes.Compare(c.buf[i].key, key) >= 0
	})
	if c.baseOK, err = c.base.Seek(key); err != nil {
		return false, err
	}
	return c.settle()
}

func (c *overlayCursor) Valid() bool { return c.started }

func (c *overlayCursor) Key() []byte {
	if c.useBuf {
		return c.buf[c.bi].key
	}
	return c.base.Key()
}

func (c *overlayCursor) Value() []byte {
	if c.useBuf {
		return c.buf[c.bi].value
	}
	return c.base.Value()
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package fst

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
)

// frame records one level of a cursor's position: the node the cursor is
// inside, the arc it currently rests on, and the offset of the arc's next
// sibling.
type frame struct {
	node    uint64
	arc     Arc
	nextOff uint64
}

// Cursor walks a graph arc by arc. The cursor's position is a path of arcs
// from the root; Key returns the concatenated labels of that path. First,
// Next and SkipTo move between accepted keys in lexicographic order, while
// Follow, NextArc, SwitchTo and FindPath move arc-wise. Operations that
// fail leave the position unchanged except as documented.
type Cursor struct {
	r      *Reader
	values Values
	root   uint64
	stack  []frame
}

// NewCursor returns a cursor over the graph rooted at n. values is needed
// only when Value will be called, and must match the policy the graph was
// written with.
func NewCursor(n Node, values Values) *Cursor {
	return &Cursor{r: n.r, values: values, root: n.addr}
}

// Clone returns an independent copy of the cursor at the same position.
// Iterating the clone does not move the original, which makes a flattened
// sequence restartable from any point.
func (c *Cursor) Clone() *Cursor {
	return &Cursor{r: c.r, values: c.values, root: c.root, stack: slices.Clone(c.stack)}
}

// Valid reports whether the cursor rests on an arc.
func (c *Cursor) Valid() bool { return len(c.stack) > 0 }

// Key returns the concatenated arc labels of the current path. The result
// is owned by the caller.
func (c *Cursor) Key() []byte {
	var key []byte
	for i := range c.stack {
		key = append(key, c.stack[i].arc.Label...)
	}
	return key
}

// Accept reports whether the current path ends a stored key.
func (c *Cursor) Accept() bool {
	return len(c.stack) > 0 && c.top().arc.Accept
}

// Value sums the value contributions along the current path, including the
// accept value when the path ends a stored key.
func (c *Cursor) Value() []byte {
	if c.values == nil {
		return nil
	}
	var acc []byte
	for i := range c.stack {
		acc = c.values.Add(acc, c.stack[i].arc.Value)
	}
	if c.Accept() {
		acc = c.values.Add(acc, c.top().arc.AcceptVal)
	}
	return acc
}

func (c *Cursor) top() *frame { return &c.stack[len(c.stack)-1] }

func (c *Cursor) pushFirst(node uint64) error {
	a, next, err := c.r.firstArc(node)
	if err != nil {
		return err
	}
	c.stack = append(c.stack, frame{node: node, arc: a, nextOff: next})
	return nil
}

// Follow pushes the first arc of the node the current arc points to. It
// fails with ErrNotFound on a stop arc.
func (c *Cursor) Follow() error {
	if !c.Valid() {
		return errors.New("fst: cursor is not positioned")
	}
	if c.top().arc.Target == 0 {
		return errors.Wrap(base.ErrNotFound, "fst: follow on stop arc")
	}
	return c.pushFirst(c.top().arc.Target)
}

// NextArc pops exhausted levels, then advances to the sibling arc at the
// new top. It returns false when the cursor runs off the end of the root
// node's arcs.
func (c *Cursor) NextArc() (bool, error) {
	for len(c.stack) > 0 && c.top().arc.Last {
		c.stack = c.stack[:len(c.stack)-1]
	}
	if len(c.stack) == 0 {
		return false, nil
	}
	t := c.top()
	a, next, err := decodeArc(c.r.data, t.nextOff)
	if err != nil {
		return false, err
	}
	t.arc, t.nextOff = a, next
	return true, nil
}

// SwitchTo repositions the top of the cursor on the sibling arc with the
// given label. It returns false, leaving the position unchanged, when the
// current node has no such label.
func (c *Cursor) SwitchTo(label byte) (bool, error) {
	if !c.Valid() {
		return false, errors.New("fst: cursor is not positioned")
	}
	t := c.top()
	a, next, ok, err := c.r.findArc(t.node, label)
	if err != nil || !ok {
		return false, err
	}
	t.arc, t.nextOff = a, next
	return true, nil
}

// FindPath greedily traces a sequence of labels downward, starting from
// the root when the cursor is unpositioned. It returns false when the
// graph has no such path; the cursor is left at the deepest arc reached.
func (c *Cursor) FindPath(path []byte) (bool, error) {
	if !c.Valid() {
		if c.root == 0 {
			return false, nil
		}
		if err := c.pushFirst(c.root); err != nil {
			return false, err
		}
	}
	for i, label := range path {
		if i > 0 {
			if c.top().arc.Target == 0 {
				return false, nil
			}
			if err := c.Follow(); err != nil {
				return false, err
			}
		}
		ok, err := c.SwitchTo(label)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// First positions the cursor on the smallest accepted key.
func (c *Cursor) First() (bool, error) {
	c.stack = c.stack[:0]
	if c.root == 0 {
		return false, nil
	}
	if err := c.pushFirst(c.root); err != nil {
		return false, err
	}
	return c.scanToAccept()
}

// Next advances the cursor to the next accepted key in lexicographic
// order.
func (c *Cursor) Next() (bool, error) {
	if !c.Valid() {
		return false, errors.New("fst: cursor is not positioned")
	}
	if t := c.top(); t.arc.Target != 0 {
		if err := c.pushFirst(t.arc.Target); err != nil {
			return false, err
		}
	} else if ok, err := c.NextArc(); err != nil || !ok {
		return false, err
	}
	return c.scanToAccept()
}

// scanToAccept moves the cursor forward in depth-first preorder until it
// rests on an accept arc.
func (c *Cursor) scanToAccept() (bool, error) {
	for len(c.stack) > 0 {
		t := c.top()
		if t.arc.Accept {
			return true, nil
		}
		if t.arc.Target != 0 {
			if err := c.pushFirst(t.arc.Target); err != nil {
				return false, err
			}
			continue
		}
		// A non-accept stop arc cannot occur in a minimal graph, but a
		// corrupt file could produce one; treat it as an empty subtree.
		if ok, err := c.NextArc(); err != nil || !ok {
			return false, err
		}
	}
	return false, nil
}

// SkipTo positions the cursor on the first accepted key greater than or
// equal to key.
func (c *Cursor) SkipTo(key []byte) (bool, error) {
	c.stack = c.stack[:0]
	if c.root == 0 {
		return false, nil
	}
	addr := c.root
	for i := 0; i < len(key); i++ {
		a, next, ok, err := c.r.findArcGE(addr, key[i])
		if err != nil {
			return false, err
		}
		if !ok {
			// Every arc here sorts below key[i]: the next accepted key
			// lives under a later sibling of some ancestor.
			if ok, err := c.NextArc(); err != nil || !ok {
				return false, err
			}
			return c.scanToAccept()
		}
		c.stack = append(c.stack, frame{node: addr, arc: a, nextOff: next})
		if len(a.Label) != 1 || a.Label[0] > key[i] {
			return c.scanToAccept()
		}
		if i == len(key)-1 {
			return c.scanToAccept()
		}
		if a.Target == 0 {
			// The exact prefix path ends here, so every key through this
			// arc sorts below key.
			if ok, err := c.NextArc(); err != nil || !ok {
				return false, err
			}
			return c.scanToAccept()
		}
		addr = a.Target
	}
	return c.scanToAccept()
}

// Flatten returns every accepted key reachable from the cursor's root, in
// lexicographic order.
func (c *Cursor) Flatten() ([][]byte, error) {
	var keys [][]byte
	for ok, err := c.First(); ; ok, err = c.Next() {
		if err != nil {
			return nil, err
		}
		if !ok {
			return keys, nil
		}
		keys = append(keys, c.Key())
	}
}

// FlattenValues returns every accepted (key, value) pair in lexicographic
// key order.
func (c *Cursor) FlattenValues() ([][]byte, [][]byte, error) {
	var keys, vals [][]byte
	for ok, err := c.First(); ; ok, err = c.Next() {
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return keys, vals, nil
		}
		keys = append(keys, c.Key())
		vals = append(vals, c.Value())
	}
}

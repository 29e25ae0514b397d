// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package fst

// NodeView is a read-only view of one node of a graph, or of a lazy
// combination of nodes from two graphs. Views never materialize a merged
// graph; edges are computed on demand.
type NodeView interface {
	// Edges returns the node's outgoing labels in ascending order.
	Edges() ([]byte, error)
	// Edge returns the child view reached through label and whether the
	// edge ends an accepted key. ok is false when the node has no such
	// edge.
	Edge(label byte) (child NodeView, accept bool, ok bool, err error)
}

// View returns a NodeView over a single graph node.
func View(n Node) NodeView {
	return nodeView{n: n}
}

type nodeView struct {
	n Node
}

func (v nodeView) Edges() ([]byte, error) {
	if v.n.Empty() {
		return nil, nil
	}
	arcs, err := v.n.r.arcs(v.n.addr)
	if err != nil {
		return nil, err
	}
	labels := make([]byte, 0, len(arcs))
	for _, a := range arcs {
		if len(a.Label) == 1 {
			labels = append(labels, a.Label[0])
		}
	}
	return labels, nil
}

func (v nodeView) Edge(label byte) (NodeView, bool, bool, error) {
	if v.n.Empty() {
		return nil, false, false, nil
	}
	a, _, ok, err := v.n.r.findArc(v.n.addr, label)
	if err != nil || !ok {
		return nil, false, false, err
	}
	return nodeView{n: Node{r: v.n.r, addr: a.Target}}, a.Accept, true, nil
}

// UnionNode returns a lazy view whose edge set is the union of the two
// views' edge sets. Either argument may be nil.
func UnionNode(a, b NodeView) NodeView {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return unionView{a: a, b: b}
}

type unionView struct {
	a, b NodeView
}

func (v unionView) Edges() ([]byte, error) {
	ea, err := v.a.Edges()
	if err != nil {
		return nil, err
	}
	eb, err := v.b.Edges()
	if err != nil {
		return nil, err
	}
	return mergeLabels(ea, eb, false), nil
}

func (v unionView) Edge(label byte) (NodeView, bool, bool, error) {
	ca, aca, oka, err := v.a.Edge(label)
	if err != nil {
		return nil, false, false, err
	}
	cb, acb, okb, err := v.b.Edge(label)
	if err != nil {
		return nil, false, false, err
	}
	switch {
	case oka && okb:
		return UnionNode(ca, cb), aca || acb, true, nil
	case oka:
		return ca, aca, true, nil
	case okb:
		return cb, acb, true, nil
	default:
		return nil, false, false, nil
	}
}

// IntersectionNode returns a lazy view whose edge set is the intersection
// of the two views' edge sets.
func IntersectionNode(a, b NodeView) NodeView {
	return intersectionView{a: a, b: b}
}

type intersectionView struct {
	a, b NodeView
}

func (v intersectionView) Edges() ([]byte, error) {
	ea, err := v.a.Edges()
	if err != nil {
		return nil, err
	}
	eb, err := v.b.Edges()
	if err != nil {
		return nil, err
	}
	return mergeLabels(ea, eb, true), nil
}

func (v intersectionView) Edge(label byte) (NodeView, bool, bool, error) {
	ca, aca, oka, err := v.a.Edge(label)
	if err != nil || !oka {
		return nil, false, false, err
	}
	cb, acb, okb, err := v.b.Edge(label)
	if err != nil || !okb {
		return nil, false, false, err
	}
	if ca == nil || cb == nil {
		// One side's path ends; the intersection below here is empty.
		return nil, aca && acb, true, nil
	}
	return IntersectionNode(ca, cb), aca && acb, true, nil
}

func mergeLabels(a, b []byte, intersect bool) []byte {
	var out []byte
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			if !intersect {
				out = append(out, a[i])
			}
			i++
		default:
			if !intersect {
				out = append(out, b[j])
			}
			j++
		}
	}
	if !intersect {
		out = append(out, a[i:]...)
		out = append(out, b[j:]...)
	}
	return out
}

// FlattenView returns every accepted key of a view in ascending order, by
// depth-first traversal.
func FlattenView(v NodeView) ([][]byte, error) {
	var keys [][]byte
	var walk func(v NodeView, path []byte) error
	walk = func(v NodeView, path []byte) error {
		if v == nil {
			return nil
		}
		labels, err := v.Edges()
		if err != nil {
			return err
		}
		for _, label := range labels {
			child, accept, ok, err := v.Edge(label)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			next := append(append([]byte{}, path...), label)
			if accept {
				keys = append(keys, next)
			}
			if err := walk(child, next); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(v, nil); err != nil {
		return nil, err
	}
	return keys, nil
}

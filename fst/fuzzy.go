// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package fst

import (
	"sort"
	"strconv"
)

// fuzzyState is one frontier entry of the bounded edit-distance search:
// a node address, the remaining edit budget, the index into the target
// term, and the accumulated label bytes.
type fuzzyState struct {
	addr   uint64
	budget int
	i      int
	sofar  string
}

func (s fuzzyState) seenKey() string {
	return strconv.FormatUint(s.addr, 16) + "\x00" +
		strconv.Itoa(s.budget) + "\x00" + strconv.Itoa(s.i) + "\x00" + s.sofar
}

// WithinDistance yields every accepted key in the graph rooted at n that
// is within k edits (insertion, deletion, substitution, or transposition
// of adjacent characters) of term. The first prefix bytes of a candidate
// must match term exactly. Each matching key is returned exactly once, in
// ascending byte order.
func WithinDistance(n Node, term []byte, k int, prefix int) ([][]byte, error) {
	if n.Empty() {
		return nil, nil
	}
	seen := map[string]bool{}
	found := map[string]bool{}

	stack := []fuzzyState{{addr: n.addr, budget: k, i: 0}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if key := s.seenKey(); seen[key] {
			continue
		} else {
			seen[key] = true
		}

		// Deletion: consume a term byte without moving in the graph.
		if s.budget > 0 && s.i >= prefix && s.i < len(term) {
			stack = append(stack, fuzzyState{addr: s.addr, budget: s.budget - 1, i: s.i + 1, sofar: s.sofar})
		}

		arcs, err := n.r.arcs(s.addr)
		if err != nil {
			return nil, err
		}
		for _, arc := range arcs {
			if len(arc.Label) != 1 {
				continue
			}
			label := arc.Label[0]

			step := func(a Arc, nextI, budget int, sofar string) {
				// Accepting here spends budget deleting whatever remains
				// of the term.
				if a.Accept && budget >= len(term)-nextI {
					found[sofar] = true
				}
				if a.Target != 0 {
					stack = append(stack, fuzzyState{addr: a.Target, budget: budget, i: nextI, sofar: sofar})
				}
			}

			// Exact continuation costs nothing.
			if s.i < len(term) && label == term[s.i] {
				step(arc, s.i+1, s.budget, s.sofar+string(label))
			}
			if s.budget == 0 || s.i < prefix {
				continue
			}
			// Insertion: consume the graph label without consuming term.
			step(arc, s.i, s.budget-1, s.sofar+string(label))
			// Substitution.
			if s.i < len(term) && label != term[s.i] {
				step(arc, s.i+1, s.budget-1, s.sofar+string(label))
			}
			// Transposition of adjacent term characters.
			if s.i+1 < len(term) && label == term[s.i+1] && label != term[s.i] && arc.Target != 0 {
				child, _, ok, err := n.r.findArc(arc.Target, term[s.i])
				if err != nil {
					return nil, err
				}
				if ok {
					step(child, s.i+2, s.budget-1, s.sofar+string(label)+string(term[s.i]))
				}
			}
		}
	}

	keys := make([][]byte, 0, len(found))
	for key := range found {
		keys = append(keys, []byte(key))
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i]) < string(keys[j])
	})
	return keys, nil
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package matching

import "github.com/quillindex/quill/internal/base"

// union matches documents present in either child. The dmax flag
// selects DisjunctionMax semantics, where a shared document scores the
// maximum of the children's weights instead of their sum.
type union struct {
	a, b Matcher
	dmax bool
}

// NewUnion returns a matcher over the documents of either child, with
// weights at shared ids summed.
func NewUnion(a, b Matcher) Matcher {
	return &union{a: a, b: b}
}

// NewDisjunctionMax is NewUnion with weights at shared ids taking the
// maximum child contribution instead of the sum.
func NewDisjunctionMax(a, b Matcher) Matcher {
	return &union{a: a, b: b, dmax: true}
}

func (m *union) IsActive() bool {
	return m.a.IsActive() || m.b.IsActive()
}

func (m *union) ID() base.DocID {
	aActive, bActive := m.a.IsActive(), m.b.IsActive()
	switch {
	case aActive && bActive:
		return min(m.a.ID(), m.b.ID())
	case aActive:
		return m.a.ID()
	default:
		return m.b.ID()
	}
}

func (m *union) Next() (bool, error) {
	aActive, bActive := m.a.IsActive(), m.b.IsActive()
	switch {
	case aActive && bActive:
		ai, bi := m.a.ID(), m.b.ID()
		var changed bool
		if ai <= bi {
			c, err := m.a.Next()
			if err != nil {
				return false, err
			}
			changed = changed || c
		}
		if bi <= ai {
			c, err := m.b.Next()
			if err != nil {
				return false, err
			}
			changed = changed || c
		}
		return changed, nil
	case aActive:
		return m.a.Next()
	case bActive:
		return m.b.Next()
	}
	return false, nil
}

func (m *union) SkipTo(id base.DocID) (bool, error) {
	var changed bool
	if m.a.IsActive() && m.a.ID() < id {
		c, err := m.a.SkipTo(id)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	if m.b.IsActive() && m.b.ID() < id {
		c, err := m.b.SkipTo(id)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	return changed, nil
}

func (m *union) Weight() float32 {
	id := m.ID()
	aAt := m.a.IsActive() && m.a.ID() == id
	bAt := m.b.IsActive() && m.b.ID() == id
	switch {
	case aAt && bAt:
		if m.dmax {
			return max(m.a.Weight(), m.b.Weight())
		}
		return m.a.Weight() + m.b.Weight()
	case aAt:
		return m.a.Weight()
	default:
		return m.b.Weight()
	}
}

func (m *union) combine(a, b float32) float32 {
	if m.dmax {
		return max(a, b)
	}
	return a + b
}

func (m *union) Quality() float32 {
	aActive, bActive := m.a.IsActive(), m.b.IsActive()
	switch {
	case aActive && bActive:
		return m.combine(m.a.Quality(), m.b.Quality())
	case aActive:
		return m.a.Quality()
	case bActive:
		return m.b.Quality()
	}
	return 0
}

func (m *union) MaxQuality() float32 {
	return m.combine(m.a.MaxQuality(), m.b.MaxQuality())
}

// SkipToQuality skips whichever child currently has the lower block
// quality until the combined bound exceeds minQuality or a child
// exhausts.
func (m *union) SkipToQuality(minQuality float32) (int, error) {
	var skipped int
	for {
		aActive, bActive := m.a.IsActive(), m.b.IsActive()
		switch {
		case !aActive && !bActive:
			return skipped, nil
		case !aActive:
			n, err := m.b.SkipToQuality(minQuality)
			return skipped + n, err
		case !bActive:
			n, err := m.a.SkipToQuality(minQuality)
			return skipped + n, err
		}
		aq, bq := m.a.Quality(), m.b.Quality()
		if m.combine(aq, bq) > minQuality {
			return skipped, nil
		}
		aThresh, bThresh := minQuality-bq, minQuality-aq
		if m.dmax {
			// Under max combination a block pair is skippable only when
			// each block alone is below the threshold.
			aThresh, bThresh = minQuality, minQuality
		}
		var (
			n   int
			err error
		)
		if aq <= bq {
			n, err = m.a.SkipToQuality(aThresh)
		} else {
			n, err = m.b.SkipToQuality(bThresh)
		}
		if err != nil || n == 0 {
			return skipped, err
		}
		skipped += n
	}
}

func (m *union) Replace(minQuality float32) Matcher {
	aActive, bActive := m.a.IsActive(), m.b.IsActive()
	switch {
	case !aActive && !bActive:
		return Null
	case !aActive:
		return m.b.Replace(minQuality)
	case !bActive:
		return m.a.Replace(minQuality)
	}
	if minQuality > 0 && m.MaxQuality() < minQuality {
		return Null
	}
	a, b := m.a, m.b
	if minQuality > 0 {
		// A branch that alone cannot reach the threshold still matters
		// on shared ids, so only the combined bound above may prune.
		a = a.Replace(0)
		b = b.Replace(0)
	}
	if a != m.a || b != m.b {
		switch {
		case !a.IsActive() && !b.IsActive():
			return Null
		case !a.IsActive():
			return b
		case !b.IsActive():
			return a
		}
		return &union{a: a, b: b, dmax: m.dmax}
	}
	return m
}

func (m *union) Children() []Matcher { return []Matcher{m.a, m.b} }

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package matching

import "github.com/quillindex/quill/internal/base"

// intersection matches documents present in both children. Outside of a
// method call the children are either synchronized on the same id or at
// least one is exhausted.
type intersection struct {
	a, b Matcher
	// scoreBoth is false for Require, which narrows the id set like an
	// intersection but reports only the first child's weight.
	scoreBoth bool
}

// NewIntersection returns a matcher over the documents present in both
// children, with weights summed.
func NewIntersection(a, b Matcher) (Matcher, error) {
	m := &intersection{a: a, b: b, scoreBoth: true}
	if _, err := m.sync(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewRequire narrows a to the documents also present in b while scoring
// with a's weights alone. It implements filter conditions that must not
// affect ranking.
func NewRequire(a, b Matcher) (Matcher, error) {
	m := &intersection{a: a, b: b}
	if _, err := m.sync(); err != nil {
		return nil, err
	}
	return m, nil
}

// sync skips whichever child is behind until both sit on the same id or
// one exhausts.
func (m *intersection) sync() (bool, error) {
	var changed bool
	for m.a.IsActive() && m.b.IsActive() {
		ai, bi := m.a.ID(), m.b.ID()
		if ai == bi {
			break
		}
		var (
			c   bool
			err error
		)
		if ai < bi {
			c, err = m.a.SkipTo(bi)
		} else {
			c, err = m.b.SkipTo(ai)
		}
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	return changed, nil
}

func (m *intersection) IsActive() bool {
	return m.a.IsActive() && m.b.IsActive()
}

func (m *intersection) ID() base.DocID { return m.a.ID() }

func (m *intersection) Next() (bool, error) {
	changed, err := m.a.Next()
	if err != nil {
		return false, err
	}
	c, err := m.sync()
	return changed || c, err
}

func (m *intersection) SkipTo(id base.DocID) (bool, error) {
	if !m.IsActive() {
		return false, nil
	}
	changed, err := m.a.SkipTo(id)
	if err != nil {
		return false, err
	}
	c, err := m.sync()
	return changed || c, err
}

func (m *intersection) Weight() float32 {
	if m.scoreBoth {
		return m.a.Weight() + m.b.Weight()
	}
	return m.a.Weight()
}

func (m *intersection) Quality() float32 {
	if m.scoreBoth {
		return m.a.Quality() + m.b.Quality()
	}
	return m.a.Quality()
}

func (m *intersection) MaxQuality() float32 {
	if m.scoreBoth {
		return m.a.MaxQuality() + m.b.MaxQuality()
	}
	return m.a.MaxQuality()
}

func (m *intersection) SkipToQuality(minQuality float32) (int, error) {
	if !m.scoreBoth {
		skipped, err := m.a.SkipToQuality(minQuality)
		if err != nil {
			return skipped, err
		}
		_, err = m.sync()
		return skipped, err
	}
	var skipped int
	for m.IsActive() {
		aq, bq := m.a.Quality(), m.b.Quality()
		if aq+bq > minQuality {
			break
		}
		var (
			n   int
			err error
		)
		if aq <= bq {
			n, err = m.a.SkipToQuality(minQuality - bq)
		} else {
			n, err = m.b.SkipToQuality(minQuality - aq)
		}
		if err != nil {
			return skipped, err
		}
		skipped += n
		if n == 0 {
			break
		}
		if _, err := m.sync(); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

func (m *intersection) Replace(minQuality float32) Matcher {
	if !m.IsActive() {
		return Null
	}
	if minQuality > 0 && m.MaxQuality() < minQuality {
		return Null
	}
	return m
}

func (m *intersection) Children() []Matcher { return []Matcher{m.a, m.b} }

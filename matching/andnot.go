// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package matching

import "github.com/quillindex/quill/internal/base"

// andNot matches a's documents except those also matched by b. The
// negative child is kept skipped forward to a's position so it is never
// rescanned.
type andNot struct {
	a, b Matcher
}

// NewAndNot returns a matcher over a's documents whose ids do not
// appear in b. Weights and quality come from a alone.
func NewAndNot(a, b Matcher) (Matcher, error) {
	m := &andNot{a: a, b: b}
	if err := m.fix(); err != nil {
		return nil, err
	}
	return m, nil
}

// fix advances a past any ids present in b.
func (m *andNot) fix() error {
	for m.a.IsActive() && m.b.IsActive() {
		ai := m.a.ID()
		if m.b.ID() < ai {
			if _, err := m.b.SkipTo(ai); err != nil {
				return err
			}
			continue
		}
		if !m.b.IsActive() || m.b.ID() != ai {
			return nil
		}
		if _, err := m.a.Next(); err != nil {
			return err
		}
	}
	return nil
}

func (m *andNot) IsActive() bool { return m.a.IsActive() }
func (m *andNot) ID() base.DocID { return m.a.ID() }

func (m *andNot) Next() (bool, error) {
	changed, err := m.a.Next()
	if err != nil {
		return false, err
	}
	return changed, m.fix()
}

func (m *andNot) SkipTo(id base.DocID) (bool, error) {
	changed, err := m.a.SkipTo(id)
	if err != nil {
		return false, err
	}
	return changed, m.fix()
}

func (m *andNot) Weight() float32     { return m.a.Weight() }
func (m *andNot) Quality() float32    { return m.a.Quality() }
func (m *andNot) MaxQuality() float32 { return m.a.MaxQuality() }

func (m *andNot) SkipToQuality(minQuality float32) (int, error) {
	skipped, err := m.a.SkipToQuality(minQuality)
	if err != nil {
		return skipped, err
	}
	return skipped, m.fix()
}

func (m *andNot) Replace(minQuality float32) Matcher {
	if !m.a.IsActive() {
		return Null
	}
	if !m.b.IsActive() {
		return m.a.Replace(minQuality)
	}
	if minQuality > 0 && m.a.MaxQuality() < minQuality {
		return Null
	}
	return m
}

func (m *andNot) Children() []Matcher { return []Matcher{m.a, m.b} }

// andMaybe matches exactly a's documents, adding b's weight whenever b
// holds the same id. The optional child never filters anything out.
type andMaybe struct {
	a, b Matcher
}

// NewAndMaybe returns a matcher with a's id set and b's weights folded
// in at shared ids.
func NewAndMaybe(a, b Matcher) (Matcher, error) {
	m := &andMaybe{a: a, b: b}
	if err := m.align(); err != nil {
		return nil, err
	}
	return m, nil
}

// align keeps b skipped forward to a's position.
func (m *andMaybe) align() error {
	if m.a.IsActive() && m.b.IsActive() && m.b.ID() < m.a.ID() {
		_, err := m.b.SkipTo(m.a.ID())
		return err
	}
	return nil
}

func (m *andMaybe) IsActive() bool { return m.a.IsActive() }
func (m *andMaybe) ID() base.DocID { return m.a.ID() }

func (m *andMaybe) Next() (bool, error) {
	changed, err := m.a.Next()
	if err != nil {
		return false, err
	}
	return changed, m.align()
}

func (m *andMaybe) SkipTo(id base.DocID) (bool, error) {
	changed, err := m.a.SkipTo(id)
	if err != nil {
		return false, err
	}
	return changed, m.align()
}

func (m *andMaybe) Weight() float32 {
	w := m.a.Weight()
	if m.b.IsActive() && m.b.ID() == m.a.ID() {
		w += m.b.Weight()
	}
	return w
}

func (m *andMaybe) Quality() float32 {
	q := m.a.Quality()
	if m.b.IsActive() {
		q += m.b.Quality()
	}
	return q
}

func (m *andMaybe) MaxQuality() float32 {
	return m.a.MaxQuality() + m.b.MaxQuality()
}

func (m *andMaybe) SkipToQuality(minQuality float32) (int, error) {
	if !m.b.IsActive() {
		return m.a.SkipToQuality(minQuality)
	}
	// b is optional, so only a may be skipped; discount the threshold by
	// b's possible contribution.
	skipped, err := m.a.SkipToQuality(minQuality - m.b.Quality())
	if err != nil {
		return skipped, err
	}
	return skipped, m.align()
}

func (m *andMaybe) Replace(minQuality float32) Matcher {
	if !m.a.IsActive() {
		return Null
	}
	if minQuality > 0 && m.MaxQuality() < minQuality {
		return Null
	}
	if !m.b.IsActive() {
		return m.a.Replace(minQuality)
	}
	return m
}

func (m *andMaybe) Children() []Matcher { return []Matcher{m.a, m.b} }

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package matching provides the matcher contract shared by leaf posting
// readers and the boolean combinators composing them. A matcher is a
// forward-only iterator over ascending document ids with per-document
// weights and block-level quality upper bounds that let top-k evaluation
// skip provably non-competitive stretches of postings.
package matching

import (
	"github.com/quillindex/quill/internal/base"
)

// Matcher iterates over the documents matching some condition in
// ascending id order. A matcher starts positioned on its first document;
// when IsActive returns false the matcher is exhausted and no other
// method may be called.
type Matcher interface {
	// IsActive reports whether the matcher is positioned on a document.
	IsActive() bool
	// ID returns the current document id.
	ID() base.DocID
	// Next advances to the next document. It reports whether the
	// matcher's quality bounds may have changed, for example because a
	// posting block boundary was crossed.
	Next() (bool, error)
	// SkipTo advances to the first document with id >= id. It reports
	// whether the quality bounds may have changed.
	SkipTo(id base.DocID) (bool, error)
	// Weight returns the current document's weight contribution.
	Weight() float32
	// Quality returns an upper bound on the weight of any document in
	// the matcher's current block.
	Quality() float32
	// MaxQuality returns an upper bound on the weight of any document
	// the matcher can ever produce.
	MaxQuality() float32
	// SkipToQuality advances past whole blocks whose quality is at or
	// below minQuality, returning the number of blocks skipped.
	SkipToQuality(minQuality float32) (int, error)
	// Replace returns an equivalent, possibly simpler matcher. A
	// combinator with an exhausted branch collapses to the live branch;
	// a matcher that can never reach minQuality collapses to Null.
	Replace(minQuality float32) Matcher
	// Children returns the direct sub-matchers of a combinator, or nil
	// for a leaf.
	Children() []Matcher
}

// Null is the exhausted matcher.
var Null Matcher = nullMatcher{}

type nullMatcher struct{}

func (nullMatcher) IsActive() bool { return false }
func (nullMatcher) ID() base.DocID { return 0 }
func (nullMatcher) Next() (bool, error) { return false, nil }
func (nullMatcher) SkipTo(base.DocID) (bool, error) { return false, nil }
func (nullMatcher) Weight() float32 { return 0 }
func (nullMatcher) Quality() float32 { return 0 }
func (nullMatcher) MaxQuality() float32 { return 0 }
func (nullMatcher) SkipToQuality(float32) (int, error) { return 0, nil }
func (nullMatcher) Replace(float32) Matcher { return Null }
func (nullMatcher) Children() []Matcher { return nil }

// ListMatcher matches an in-memory list of ascending document ids. It
// backs inline posting lists and tests. The whole list counts as one
// block for quality purposes.
type ListMatcher struct {
	ids     []base.DocID
	weights []float32
	max     float32
	i       int
}

// NewList returns a matcher over ids, which must be strictly ascending.
// weights may be nil, in which case every weight is 1.
func NewList(ids []base.DocID, weights []float32) *ListMatcher {
	m := &ListMatcher{ids: ids, weights: weights, max: 1}
	if weights != nil {
		m.max = 0
		for _, w := range weights {
			if w > m.max {
				m.max = w
			}
		}
	}
	return m
}

func (m *ListMatcher) IsActive() bool { return m.i < len(m.ids) }
func (m *ListMatcher) ID() base.DocID { return m.ids[m.i] }

func (m *ListMatcher) Next() (bool, error) {
	m.i++
	return false, nil
}

func (m *ListMatcher) SkipTo(id base.DocID) (bool, error) {
	for m.i < len(m.ids) && m.ids[m.i] < id {
		m.i++
	}
	return false, nil
}

func (m *ListMatcher) Weight() float32 {
	if m.weights == nil {
		return 1
	}
	return m.weights[m.i]
}

func (m *ListMatcher) Quality() float32 { return m.max }
func (m *ListMatcher) MaxQuality() float32 { return m.max }

func (m *ListMatcher) SkipToQuality(minQuality float32) (int, error) {
	if m.max <= minQuality {
		m.i = len(m.ids)
		return 1, nil
	}
	return 0, nil
}

func (m *ListMatcher) Replace(minQuality float32) Matcher {
	if !m.IsActive() || m.max < minQuality {
		return Null
	}
	return m
}

func (m *ListMatcher) Children() []Matcher { return nil }

// AllIDs drains m and returns every remaining document id.
func AllIDs(m Matcher) ([]base.DocID, error) {
	var ids []base.DocID
	for m.IsActive() {
		ids = append(ids, m.ID())
		if _, err := m.Next(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package postings

import (
	"bytes"
	"testing"

	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/matching"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func writeTerm(t *testing.T, postings []base.Posting, features base.Features, blockSize, inlineLimit int) ([]byte, base.TermInfo) {
	t.Helper()
	var pst bytes.Buffer
	bw := NewBlockWriter(&pst, 0, features, blockSize, inlineLimit)
	for _, p := range postings {
		require.NoError(t, bw.Add(p))
	}
	ti, err := bw.Finish()
	require.NoError(t, err)
	return pst.Bytes(), ti
}

func simplePostings(ids ...int) []base.Posting {
	out := make([]base.Posting, len(ids))
	for i, id := range ids {
		out[i] = base.Posting{DocID: base.DocID(id), Weight: 1, Length: 10}
	}
	return out
}

func TestBlockRoundTrip(t *testing.T) {
	postings := []base.Posting{
		{DocID: 3, Weight: 1.5, Length: 4, Positions: []int{1, 7, 9}},
		{DocID: 9, Weight: 0.5, Length: 8, Positions: []int{2}},
		{DocID: 1000, Weight: 3.25, Length: 2, Positions: nil},
	}
	features := base.FeatureWeights | base.FeaturePositions
	buf, err := appendBlock(nil, postings, features)
	require.NoError(t, err)

	info, err := decodeBlockInfo(buf)
	require.NoError(t, err)
	require.Equal(t, 3, info.Count)
	require.Equal(t, base.DocID(3), info.MinID)
	require.Equal(t, base.DocID(1000), info.MaxID)
	require.Equal(t, float32(3.25), info.MaxWeight)
	require.Equal(t, 2, info.MinLength)
	require.Equal(t, 8, info.MaxLength)
	require.Equal(t, len(buf), info.NextOffset)

	b, err := decodeBlock(buf)
	require.NoError(t, err)
	got, err := b.postings()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, p := range postings {
		require.Equal(t, p.DocID, got[i].DocID)
		require.Equal(t, p.Weight, got[i].Weight)
		require.Equal(t, p.Positions, got[i].Positions)
	}
}

func TestBlockUniformWeights(t *testing.T) {
	buf, err := appendBlock(nil, simplePostings(1, 2, 3, 4), base.FeatureWeights)
	require.NoError(t, err)
	b, err := decodeBlock(buf)
	require.NoError(t, err)
	require.NotZero(t, b.flags&flagUniformWeight)
	require.Nil(t, b.weights)
	require.Equal(t, float32(1), b.weight(2))
}

func TestBlockCharsAndPayloads(t *testing.T) {
	postings := []base.Posting{
		{
			DocID:    1,
			Weight:   2,
			Chars:    []base.CharRange{{Start: 0, End: 3}, {Start: 10, End: 14}},
			Payloads: [][]byte{[]byte("pay"), nil},
		},
		{DocID: 2, Weight: 1},
	}
	features := base.FeatureWeights | base.FeatureChars | base.FeaturePayloads
	buf, err := appendBlock(nil, postings, features)
	require.NoError(t, err)
	b, err := decodeBlock(buf)
	require.NoError(t, err)
	got, err := b.postings()
	require.NoError(t, err)
	require.Equal(t, postings[0].Chars, got[0].Chars)
	require.Equal(t, [][]byte{[]byte("pay"), {}}, got[0].Payloads)
	require.Empty(t, got[1].Chars)
}

func TestBlockCorruption(t *testing.T) {
	buf, err := appendBlock(nil, simplePostings(1, 5, 9), base.FeatureWeights)
	require.NoError(t, err)
	for _, i := range []int{2, len(buf) / 2, len(buf) - 1} {
		mutated := append([]byte(nil), buf...)
		mutated[i] ^= 0x20
		_, err := decodeBlock(mutated)
		require.Error(t, err, "flip at %d", i)
	}
}

func TestBlockWriterOutOfOrder(t *testing.T) {
	var pst bytes.Buffer
	bw := NewBlockWriter(&pst, 0, base.FeatureWeights, 4, 0)
	require.NoError(t, bw.Add(base.Posting{DocID: 5}))
	err := bw.Add(base.Posting{DocID: 5})
	require.True(t, base.IsOutOfOrderError(err))
	err = bw.Add(base.Posting{DocID: 3})
	require.True(t, base.IsOutOfOrderError(err))
	require.NoError(t, bw.Add(base.Posting{DocID: 6}))
}

func TestTermInfoRoundTrip(t *testing.T) {
	pst, ti := writeTerm(t, simplePostings(1, 2, 3, 10, 20, 30, 40), base.FeatureWeights, 3, 2)
	require.False(t, ti.IsInline())
	require.Equal(t, uint64(7), ti.DocFreq)
	require.Equal(t, uint64(3), ti.BlockCount)
	require.Equal(t, base.DocID(1), ti.MinDocID)
	require.Equal(t, base.DocID(40), ti.MaxDocID)

	buf, err := AppendTermInfo(nil, &ti, base.FeatureWeights)
	require.NoError(t, err)
	got, err := DecodeTermInfo(buf)
	require.NoError(t, err)
	require.Equal(t, ti, got)

	m, err := NewMatcher(pst, got, base.FeatureWeights)
	require.NoError(t, err)
	ids, err := matching.AllIDs(m)
	require.NoError(t, err)
	require.Equal(t, []base.DocID{1, 2, 3, 10, 20, 30, 40}, ids)
}

func TestInlineTermInfo(t *testing.T) {
	pst, ti := writeTerm(t, []base.Posting{
		{DocID: 4, Weight: 2, Positions: []int{1, 2}},
		{DocID: 7, Weight: 1, Positions: []int{5}},
	}, base.FeatureWeights|base.FeaturePositions, 128, 4)
	require.Empty(t, pst, "inline terms must not touch the posting file")
	require.True(t, ti.IsInline())
	require.Len(t, ti.Inline, 2)

	buf, err := AppendTermInfo(nil, &ti, base.FeatureWeights|base.FeaturePositions)
	require.NoError(t, err)
	got, err := DecodeTermInfo(buf)
	require.NoError(t, err)
	require.True(t, got.IsInline())
	require.Len(t, got.Inline, 2)
	require.Equal(t, []int{1, 2}, got.Inline[0].Positions)

	m, err := NewMatcher(nil, got, base.FeatureWeights|base.FeaturePositions)
	require.NoError(t, err)
	require.True(t, m.IsActive())
	require.Equal(t, base.DocID(4), m.ID())
	require.Equal(t, float32(2), m.Weight())
	require.False(t, m.CanCopyRawTo(base.FeatureWeights|base.FeaturePositions))
}

func TestMatcherSkipToEquivalence(t *testing.T) {
	// Block skipping must land exactly where a linear scan would, with
	// identical postings from there on.
	rng := rand.New(rand.NewSource(491))
	for trial := 0; trial < 20; trial++ {
		n := 50 + rng.Intn(200)
		postings := make([]base.Posting, n)
		id := 0
		for i := range postings {
			id += 1 + rng.Intn(20)
			postings[i] = base.Posting{
				DocID:  base.DocID(id),
				Weight: float32(1 + rng.Intn(10)),
				Length: 5,
			}
		}
		pst, ti := writeTerm(t, postings, base.FeatureWeights, 16, 0)

		target := base.DocID(rng.Intn(id + 30))
		skipper, err := NewMatcher(pst, ti, base.FeatureWeights)
		require.NoError(t, err)
		_, err = skipper.SkipTo(target)
		require.NoError(t, err)

		linear, err := NewMatcher(pst, ti, base.FeatureWeights)
		require.NoError(t, err)
		for linear.IsActive() && linear.ID() < target {
			_, err := linear.Next()
			require.NoError(t, err)
		}

		for linear.IsActive() {
			require.True(t, skipper.IsActive())
			require.Equal(t, linear.ID(), skipper.ID())
			require.Equal(t, linear.Weight(), skipper.Weight())
			_, err = linear.Next()
			require.NoError(t, err)
			_, err = skipper.Next()
			require.NoError(t, err)
		}
		require.False(t, skipper.IsActive())
	}
}

func TestMatcherBlockCrossing(t *testing.T) {
	pst, ti := writeTerm(t, simplePostings(1, 2, 3, 4, 5, 6), base.FeatureWeights, 3, 0)
	m, err := NewMatcher(pst, ti, base.FeatureWeights)
	require.NoError(t, err)

	crossed := 0
	for m.IsActive() {
		c, err := m.Next()
		require.NoError(t, err)
		if c {
			crossed++
		}
	}
	// One interior boundary plus the final exhaustion report.
	require.Equal(t, 2, crossed)
}

func TestMatcherSkipToQuality(t *testing.T) {
	var postings []base.Posting
	for i := 1; i <= 30; i++ {
		w := float32(1)
		if i > 20 {
			w = 9
		}
		postings = append(postings, base.Posting{DocID: base.DocID(i), Weight: w, Length: 3})
	}
	pst, ti := writeTerm(t, postings, base.FeatureWeights, 10, 0)
	m, err := NewMatcher(pst, ti, base.FeatureWeights)
	require.NoError(t, err)
	require.Equal(t, float32(1), m.Quality())
	require.Equal(t, float32(9), m.MaxQuality())

	skipped, err := m.SkipToQuality(5)
	require.NoError(t, err)
	require.Equal(t, 2, skipped)
	require.True(t, m.IsActive())
	require.Equal(t, base.DocID(21), m.ID())
	require.Equal(t, float32(9), m.Quality())

	skipped, err = m.SkipToQuality(9)
	require.NoError(t, err)
	require.Equal(t, 1, skipped)
	require.False(t, m.IsActive())
}

func TestMatcherLazyFeatures(t *testing.T) {
	postings := []base.Posting{
		{DocID: 1, Weight: 1, Positions: []int{3, 5}, Chars: []base.CharRange{{Start: 3, End: 8}}},
		{DocID: 2, Weight: 1, Positions: []int{1}, Chars: []base.CharRange{{Start: 0, End: 2}}},
	}
	pst, ti := writeTerm(t, postings, base.FeatureWeights|base.FeaturePositions|base.FeatureChars, 1, 0)
	m, err := NewMatcher(pst, ti, base.FeatureWeights|base.FeaturePositions|base.FeatureChars)
	require.NoError(t, err)

	pos, err := m.Positions()
	require.NoError(t, err)
	require.Equal(t, []int{3, 5}, pos)
	chars, err := m.Chars()
	require.NoError(t, err)
	require.Equal(t, []base.CharRange{{Start: 3, End: 8}}, chars)

	_, err = m.Next()
	require.NoError(t, err)
	pos, err = m.Positions()
	require.NoError(t, err)
	require.Equal(t, []int{1}, pos)
}

func TestCopyRawBlocks(t *testing.T) {
	pst, ti := writeTerm(t, simplePostings(1, 2, 3, 4, 5), base.FeatureWeights, 2, 0)
	m, err := NewMatcher(pst, ti, base.FeatureWeights)
	require.NoError(t, err)
	require.True(t, m.CanCopyRawTo(base.FeatureWeights))
	require.False(t, m.CanCopyRawTo(base.FeatureWeights|base.FeaturePositions))

	var out bytes.Buffer
	n, err := m.CopyRawBlocks(&out)
	require.NoError(t, err)
	require.Equal(t, int64(len(pst)), n)
	require.Equal(t, pst, out.Bytes())

	// The copied bytes decode as the same posting list.
	m2, err := NewMatcher(out.Bytes(), ti, base.FeatureWeights)
	require.NoError(t, err)
	ids, err := matching.AllIDs(m2)
	require.NoError(t, err)
	require.Equal(t, []base.DocID{1, 2, 3, 4, 5}, ids)
}

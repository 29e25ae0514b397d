// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package postings

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/matching"
)

// TermMatcher is the leaf matcher over one term's posting list. It
// decodes one block at a time and skips over blocks using their header
// metadata alone. Inline posting lists are served from a synthesized
// single block.
type TermMatcher struct {
	data       []byte
	ti         base.TermInfo
	features   base.Features
	blockCount uint64
	inline     bool

	block     *Block
	blockIdx  uint64
	off       int
	i         int
	exhausted bool

	// Per-posting feature decodes are cached for the current position.
	cachedFor int
	positions []int
	chars     []base.CharRange
	payloads  [][]byte
}

var _ matching.Matcher = (*TermMatcher)(nil)

// NewMatcher returns a matcher over ti's postings. pst is the full
// posting file contents; it is ignored for inline terms.
func NewMatcher(pst []byte, ti base.TermInfo, features base.Features) (*TermMatcher, error) {
	m := &TermMatcher{ti: ti, features: features, cachedFor: -1}
	if ti.IsInline() {
		m.inline = true
		if len(ti.Inline) == 0 {
			m.exhausted = true
			return m, nil
		}
		data, err := appendBlock(nil, ti.Inline, features)
		if err != nil {
			return nil, err
		}
		m.data = data
		m.blockCount = 1
	} else {
		if ti.Offset > uint64(len(pst)) {
			return nil, base.CorruptionErrorf("postings: term offset beyond posting file")
		}
		m.data = pst[ti.Offset:]
		m.blockCount = ti.BlockCount
	}
	if m.blockCount == 0 {
		m.exhausted = true
		return m, nil
	}
	if err := m.loadBlock(0, 0); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TermMatcher) loadBlock(off int, idx uint64) error {
	b, err := decodeBlock(m.data[off:])
	if err != nil {
		return err
	}
	m.block, m.off, m.blockIdx, m.i = b, off, idx, 0
	m.cachedFor = -1
	return nil
}

// IsActive reports whether the matcher is positioned on a posting.
func (m *TermMatcher) IsActive() bool { return !m.exhausted }

// ID returns the current document id.
func (m *TermMatcher) ID() base.DocID { return m.block.ids[m.i] }

// Next advances one posting, moving into the next block at a block
// boundary. It reports whether a block boundary was crossed.
func (m *TermMatcher) Next() (bool, error) {
	if m.exhausted {
		return false, nil
	}
	m.cachedFor = -1
	m.i++
	if m.i < len(m.block.ids) {
		return false, nil
	}
	if m.blockIdx+1 >= m.blockCount {
		m.exhausted = true
		return true, nil
	}
	return true, m.loadBlock(m.off+m.block.info.NextOffset, m.blockIdx+1)
}

// SkipTo advances to the first posting with id >= id, skipping whole
// blocks by their max-id header without decoding them.
func (m *TermMatcher) SkipTo(id base.DocID) (bool, error) {
	if m.exhausted {
		return false, nil
	}
	m.cachedFor = -1
	changed := false
	if m.block.info.MaxID < id {
		off := m.off
		idx := m.blockIdx
		info := m.block.info
		for info.MaxID < id {
			off += info.NextOffset
			idx++
			if idx >= m.blockCount {
				m.exhausted = true
				return true, nil
			}
			var err error
			if info, err = decodeBlockInfo(m.data[off:]); err != nil {
				return false, err
			}
		}
		if err := m.loadBlock(off, idx); err != nil {
			return false, err
		}
		changed = true
	}
	for m.i < len(m.block.ids) && m.block.ids[m.i] < id {
		m.i++
	}
	return changed, nil
}

// Weight returns the current posting's weight.
func (m *TermMatcher) Weight() float32 { return m.block.weight(m.i) }

// Quality returns the current block's maximum weight.
func (m *TermMatcher) Quality() float32 { return m.block.info.MaxWeight }

// MaxQuality returns the term's maximum weight across all blocks.
func (m *TermMatcher) MaxQuality() float32 { return m.ti.MaxWeight }

// SkipToQuality advances past blocks whose maximum weight is at or
// below minQuality, returning the number of blocks skipped.
func (m *TermMatcher) SkipToQuality(minQuality float32) (int, error) {
	if m.exhausted || m.block.info.MaxWeight > minQuality {
		return 0, nil
	}
	m.cachedFor = -1
	off := m.off
	idx := m.blockIdx
	info := m.block.info
	skipped := 0
	for info.MaxWeight <= minQuality {
		off += info.NextOffset
		idx++
		skipped++
		if idx >= m.blockCount {
			m.exhausted = true
			return skipped, nil
		}
		var err error
		if info, err = decodeBlockInfo(m.data[off:]); err != nil {
			return skipped, err
		}
	}
	return skipped, m.loadBlock(off, idx)
}

// Replace collapses to the null matcher when exhausted or when the term
// can never reach minQuality.
func (m *TermMatcher) Replace(minQuality float32) matching.Matcher {
	if m.exhausted || (minQuality > 0 && m.ti.MaxWeight < minQuality) {
		return matching.Null
	}
	return m
}

// Children returns nil; a term matcher is a leaf.
func (m *TermMatcher) Children() []matching.Matcher { return nil }

// TermInfo returns the term's aggregate statistics.
func (m *TermMatcher) TermInfo() base.TermInfo { return m.ti }

// BlockInfo returns the current block's header metadata.
func (m *TermMatcher) BlockInfo() BlockInfo { return m.block.info }

func (m *TermMatcher) ensureFeatures() error {
	if m.cachedFor == m.i {
		return nil
	}
	m.positions, m.chars, m.payloads = nil, nil, nil
	var err error
	if m.block.posIdx != nil {
		if m.positions, err = decodePositionsChunk(m.block.chunk(m.block.posIdx, m.block.posArea, m.i)); err != nil {
			return err
		}
	}
	if m.block.charIdx != nil {
		if m.chars, err = decodeCharsChunk(m.block.chunk(m.block.charIdx, m.block.charArea, m.i)); err != nil {
			return err
		}
	}
	if m.block.paylIdx != nil {
		if m.payloads, err = decodePayloadsChunk(m.block.chunk(m.block.paylIdx, m.block.paylArea, m.i)); err != nil {
			return err
		}
	}
	m.cachedFor = m.i
	return nil
}

// Positions returns the current posting's term positions, decoded on
// first access and cached until the matcher moves.
func (m *TermMatcher) Positions() ([]int, error) {
	if err := m.ensureFeatures(); err != nil {
		return nil, err
	}
	return m.positions, nil
}

// Chars returns the current posting's character ranges.
func (m *TermMatcher) Chars() ([]base.CharRange, error) {
	if err := m.ensureFeatures(); err != nil {
		return nil, err
	}
	return m.chars, nil
}

// Payloads returns the current posting's payloads.
func (m *TermMatcher) Payloads() ([][]byte, error) {
	if err := m.ensureFeatures(); err != nil {
		return nil, err
	}
	return m.payloads, nil
}

// Posting materializes the current posting with all features decoded.
func (m *TermMatcher) Posting() (base.Posting, error) {
	if err := m.ensureFeatures(); err != nil {
		return base.Posting{}, err
	}
	return base.Posting{
		DocID:     m.ID(),
		Weight:    m.Weight(),
		Positions: m.positions,
		Chars:     m.chars,
		Payloads:  m.payloads,
	}, nil
}

// CanCopyRawTo reports whether this term's encoded blocks can be copied
// verbatim into a destination with the given feature set. Inline terms
// are re-encoded instead.
func (m *TermMatcher) CanCopyRawTo(dst base.Features) bool {
	return !m.inline && m.features == dst
}

// CopyRawBlocks writes the term's encoded blocks to w byte for byte,
// walking block headers to find the total extent.
func (m *TermMatcher) CopyRawBlocks(w io.Writer) (int64, error) {
	if m.inline {
		return 0, errors.New("postings: inline postings have no raw blocks")
	}
	end := 0
	for idx := uint64(0); idx < m.blockCount; idx++ {
		info, err := decodeBlockInfo(m.data[end:])
		if err != nil {
			return 0, err
		}
		end += info.NextOffset
	}
	n, err := w.Write(m.data[:end])
	return int64(n), err
}

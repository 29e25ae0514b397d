// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package postings implements the on-disk posting list codec: fixed-size
// blocks of delta-packed document ids with optional weights and
// variable-length per-posting features, aggregate TermInfo records, and a
// leaf matcher that skips whole blocks using header metadata alone.
package postings

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/packed"
)

const (
	flagWeightArray   = 1 << 0
	flagUniformWeight = 1 << 1
	flagPositions     = 1 << 2
	flagChars         = 1 << 3
	flagPayloads      = 1 << 4
)

// BlockInfo is the metadata decodable from a block header without
// touching the posting arrays. It is what block skipping and quality
// estimation run on.
type BlockInfo struct {
	Count     int
	MinID     base.DocID
	MaxID     base.DocID
	MaxWeight float32
	MinLength int
	MaxLength int
	// NextOffset is the byte distance from the block's first byte to the
	// next block.
	NextOffset int
}

// appendBlock encodes postings, which must have strictly ascending doc
// ids, as one block appended to buf.
func appendBlock(buf []byte, postings []base.Posting, features base.Features) ([]byte, error) {
	if len(postings) == 0 {
		return buf, errors.New("postings: empty block")
	}
	ids := make([]uint64, len(postings))
	for i, p := range postings {
		ids[i] = uint64(p.DocID)
	}
	deltas, err := packed.DeltaEncode(ids)
	if err != nil {
		return buf, err
	}

	var flags byte
	hasWeights := features.Has(base.FeatureWeights)
	uniform := true
	maxWeight := float32(1)
	if hasWeights {
		maxWeight = postings[0].Weight
		for _, p := range postings[1:] {
			if p.Weight != postings[0].Weight {
				uniform = false
			}
			if p.Weight > maxWeight {
				maxWeight = p.Weight
			}
		}
		if uniform {
			flags |= flagUniformWeight
		} else {
			flags |= flagWeightArray
		}
	}
	if features.Has(base.FeaturePositions) {
		flags |= flagPositions
	}
	if features.Has(base.FeatureChars) {
		flags |= flagChars
	}
	if features.Has(base.FeaturePayloads) {
		flags |= flagPayloads
	}

	minLen, maxLen := postings[0].Length, postings[0].Length
	for _, p := range postings[1:] {
		minLen = min(minLen, p.Length)
		maxLen = max(maxLen, p.Length)
	}

	width := packed.Width8
	if len(deltas) > 0 {
		width = packed.MinWidth(packed.MaxUint(deltas))
	}

	body := binary.AppendUvarint(nil, uint64(len(postings)))
	body = append(body, flags)
	body = binary.LittleEndian.AppendUint32(body, uint32(postings[0].DocID))
	body = binary.LittleEndian.AppendUint32(body, uint32(postings[len(postings)-1].DocID))
	body = append(body, byte(width))
	body = binary.AppendUvarint(body, uint64(minLen))
	body = binary.AppendUvarint(body, uint64(maxLen))
	body = packed.AppendFloat32(body, maxWeight)
	body = packed.AppendUints(body, width, deltas)
	if hasWeights {
		if uniform {
			body = packed.AppendFloat32(body, postings[0].Weight)
		} else {
			for _, p := range postings {
				body = packed.AppendFloat32(body, p.Weight)
			}
		}
	}
	if features.Has(base.FeaturePositions) {
		body = appendChunks(body, postings, func(dst []byte, p *base.Posting) []byte {
			return appendPositionsChunk(dst, p.Positions)
		})
	}
	if features.Has(base.FeatureChars) {
		body = appendChunks(body, postings, func(dst []byte, p *base.Posting) []byte {
			return appendCharsChunk(dst, p.Chars)
		})
	}
	if features.Has(base.FeaturePayloads) {
		body = appendChunks(body, postings, func(dst []byte, p *base.Posting) []byte {
			return appendPayloadsChunk(dst, p.Payloads)
		})
	}

	buf = binary.AppendUvarint(buf, uint64(len(body)+8))
	buf = append(buf, body...)
	return binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(body)), nil
}

// appendChunks writes one variable-length chunk per posting preceded by
// a packed (offset, length) index so any single posting's chunk can be
// located without decoding its neighbors.
func appendChunks(buf []byte, postings []base.Posting, encode func([]byte, *base.Posting) []byte) []byte {
	chunks := make([][]byte, len(postings))
	var scratch []byte
	for i := range postings {
		scratch = encode(scratch[:0], &postings[i])
		chunks[i] = append([]byte(nil), scratch...)
	}
	var off uint64
	for _, c := range chunks {
		buf = binary.AppendUvarint(buf, off)
		buf = binary.AppendUvarint(buf, uint64(len(c)))
		off += uint64(len(c))
	}
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	return buf
}

func appendPositionsChunk(buf []byte, positions []int) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(positions)))
	prev := 0
	for _, pos := range positions {
		buf = binary.AppendUvarint(buf, uint64(pos-prev))
		prev = pos
	}
	return buf
}

func decodePositionsChunk(data []byte) ([]int, error) {
	n, rest, err := packed.Uvarint(data)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]int, n)
	prev := uint64(0)
	for i := range out {
		var d uint64
		if d, rest, err = packed.Uvarint(rest); err != nil {
			return nil, err
		}
		prev += d
		out[i] = int(prev)
	}
	return out, nil
}

func appendCharsChunk(buf []byte, chars []base.CharRange) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(chars)))
	for _, c := range chars {
		buf = binary.AppendUvarint(buf, uint64(c.Start))
		buf = binary.AppendUvarint(buf, uint64(c.End-c.Start))
	}
	return buf
}

func decodeCharsChunk(data []byte) ([]base.CharRange, error) {
	n, rest, err := packed.Uvarint(data)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]base.CharRange, n)
	for i := range out {
		var start, span uint64
		if start, rest, err = packed.Uvarint(rest); err != nil {
			return nil, err
		}
		if span, rest, err = packed.Uvarint(rest); err != nil {
			return nil, err
		}
		out[i] = base.CharRange{Start: int(start), End: int(start + span)}
	}
	return out, nil
}

func appendPayloadsChunk(buf []byte, payloads [][]byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(payloads)))
	for _, p := range payloads {
		buf = binary.AppendUvarint(buf, uint64(len(p)))
		buf = append(buf, p...)
	}
	return buf
}

func decodePayloadsChunk(data []byte) ([][]byte, error) {
	n, rest, err := packed.Uvarint(data)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([][]byte, n)
	for i := range out {
		var sz uint64
		if sz, rest, err = packed.Uvarint(rest); err != nil {
			return nil, err
		}
		if uint64(len(rest)) < sz {
			return nil, base.CorruptionErrorf("postings: truncated payload chunk")
		}
		out[i] = append([]byte(nil), rest[:sz]...)
		rest = rest[sz:]
	}
	return out, nil
}

// decodeBlockInfo reads a block's header metadata. It does not verify
// the checksum; full decoding does.
func decodeBlockInfo(data []byte) (BlockInfo, error) {
	bodyLen, rest, err := packed.Uvarint(data)
	if err != nil {
		return BlockInfo{}, err
	}
	varintLen := len(data) - len(rest)
	if uint64(len(rest)) < bodyLen || bodyLen < 8 {
		return BlockInfo{}, base.CorruptionErrorf("postings: truncated block")
	}
	count, rest, err := packed.Uvarint(rest)
	if err != nil {
		return BlockInfo{}, err
	}
	if len(rest) < 1+4+4+1 {
		return BlockInfo{}, base.CorruptionErrorf("postings: truncated block header")
	}
	rest = rest[1:] // flags
	minID := base.DocID(binary.LittleEndian.Uint32(rest))
	maxID := base.DocID(binary.LittleEndian.Uint32(rest[4:]))
	rest = rest[9:] // ids + delta typecode
	minLen, rest, err := packed.Uvarint(rest)
	if err != nil {
		return BlockInfo{}, err
	}
	maxLen, rest, err := packed.Uvarint(rest)
	if err != nil {
		return BlockInfo{}, err
	}
	maxWeight, _, err := packed.ReadFloat32(rest)
	if err != nil {
		return BlockInfo{}, err
	}
	return BlockInfo{
		Count:      int(count),
		MinID:      minID,
		MaxID:      maxID,
		MaxWeight:  maxWeight,
		MinLength:  int(minLen),
		MaxLength:  int(maxLen),
		NextOffset: varintLen + int(bodyLen),
	}, nil
}

// Block is one fully decoded posting block.
type Block struct {
	info          BlockInfo
	flags         byte
	ids           []base.DocID
	weights       []float32 // nil when absent or uniform
	uniformWeight float32
	// chunk indexes and areas per feature; nil when the feature is off.
	posIdx, charIdx, paylIdx    []chunkRef
	posArea, charArea, paylArea []byte
}

type chunkRef struct {
	off, len uint64
}

// decodeBlock decodes and checksums the block at the start of data.
func decodeBlock(data []byte) (*Block, error) {
	info, err := decodeBlockInfo(data)
	if err != nil {
		return nil, err
	}
	bodyLen, rest, err := packed.Uvarint(data)
	if err != nil {
		return nil, err
	}
	body := rest[:bodyLen-8]
	sum := binary.LittleEndian.Uint64(rest[bodyLen-8 : bodyLen])
	if xxhash.Sum64(body) != sum {
		return nil, base.CorruptionErrorf("postings: block checksum mismatch")
	}

	count, body, err := packed.Uvarint(body)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, base.CorruptionErrorf("postings: empty block")
	}
	b := &Block{info: info, flags: body[0]}
	body = body[1:]
	first := base.DocID(binary.LittleEndian.Uint32(body))
	body = body[8:] // first + last id
	width := packed.Width(body[0])
	if !packed.ValidWidth(byte(width)) {
		return nil, base.CorruptionErrorf("postings: bad delta typecode %#x", byte(width))
	}
	body = body[1:]
	if _, body, err = packed.Uvarint(body); err != nil { // min length
		return nil, err
	}
	if _, body, err = packed.Uvarint(body); err != nil { // max length
		return nil, err
	}
	if _, body, err = packed.ReadFloat32(body); err != nil {
		return nil, err
	}

	deltas, body, err := packed.ReadUints(body, width, int(count)-1)
	if err != nil {
		return nil, err
	}
	b.ids = make([]base.DocID, count)
	b.ids[0] = first
	for i, d := range deltas {
		b.ids[i+1] = b.ids[i] + base.DocID(d)
	}
	if b.ids[count-1] != info.MaxID {
		return nil, base.CorruptionErrorf("postings: block id chain mismatch")
	}

	switch {
	case b.flags&flagUniformWeight != 0:
		if b.uniformWeight, body, err = packed.ReadFloat32(body); err != nil {
			return nil, err
		}
	case b.flags&flagWeightArray != 0:
		b.weights = make([]float32, count)
		for i := range b.weights {
			if b.weights[i], body, err = packed.ReadFloat32(body); err != nil {
				return nil, err
			}
		}
	default:
		b.uniformWeight = 1
	}

	readFeature := func() ([]chunkRef, []byte, error) {
		refs := make([]chunkRef, count)
		var area uint64
		for i := range refs {
			var off, sz uint64
			if off, body, err = packed.Uvarint(body); err != nil {
				return nil, nil, err
			}
			if sz, body, err = packed.Uvarint(body); err != nil {
				return nil, nil, err
			}
			refs[i] = chunkRef{off: off, len: sz}
			area = max(area, off+sz)
		}
		if uint64(len(body)) < area {
			return nil, nil, base.CorruptionErrorf("postings: truncated chunk area")
		}
		areaBytes := body[:area]
		body = body[area:]
		return refs, areaBytes, nil
	}
	if b.flags&flagPositions != 0 {
		if b.posIdx, b.posArea, err = readFeature(); err != nil {
			return nil, err
		}
	}
	if b.flags&flagChars != 0 {
		if b.charIdx, b.charArea, err = readFeature(); err != nil {
			return nil, err
		}
	}
	if b.flags&flagPayloads != 0 {
		if b.paylIdx, b.paylArea, err = readFeature(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Block) weight(i int) float32 {
	if b.weights != nil {
		return b.weights[i]
	}
	return b.uniformWeight
}

func (b *Block) chunk(refs []chunkRef, area []byte, i int) []byte {
	r := refs[i]
	return area[r.off : r.off+r.len]
}

// postings materializes every posting in the block.
func (b *Block) postings() ([]base.Posting, error) {
	out := make([]base.Posting, len(b.ids))
	for i, id := range b.ids {
		p := base.Posting{DocID: id, Weight: b.weight(i)}
		var err error
		if b.posIdx != nil {
			if p.Positions, err = decodePositionsChunk(b.chunk(b.posIdx, b.posArea, i)); err != nil {
				return nil, err
			}
		}
		if b.charIdx != nil {
			if p.Chars, err = decodeCharsChunk(b.chunk(b.charIdx, b.charArea, i)); err != nil {
				return nil, err
			}
		}
		if b.paylIdx != nil {
			if p.Payloads, err = decodePayloadsChunk(b.chunk(b.paylIdx, b.paylArea, i)); err != nil {
				return nil, err
			}
		}
		out[i] = p
	}
	return out, nil
}

// BlockWriter accumulates one term's postings and writes them out as
// fixed-size blocks. Postings at or below the inline limit that never
// forced a block flush are returned inline in the TermInfo instead of
// touching the posting file.
type BlockWriter struct {
	w           io.Writer
	features    base.Features
	blockSize   int
	inlineLimit int
	startOffset uint64
	written     uint64

	pending []base.Posting
	blocks  uint64
	lastID  base.DocID

	docFreq     uint64
	totalWeight float64
	maxWeight   float32
	minLength   int
	maxLength   int
	minID       base.DocID
	maxID       base.DocID
}

// NewBlockWriter returns a writer encoding one term's postings to w,
// which must be positioned at startOffset in the posting file.
func NewBlockWriter(w io.Writer, startOffset uint64, features base.Features, blockSize, inlineLimit int) *BlockWriter {
	return &BlockWriter{
		w:           w,
		features:    features,
		blockSize:   blockSize,
		inlineLimit: inlineLimit,
		startOffset: startOffset,
	}
}

// Add appends one posting. Doc ids must be strictly ascending.
func (bw *BlockWriter) Add(p base.Posting) error {
	if bw.docFreq > 0 && p.DocID <= bw.lastID {
		return base.OutOfOrderErrorf(
			"postings: doc id %d not above %d", p.DocID, bw.lastID)
	}
	if !bw.features.Has(base.FeatureWeights) {
		p.Weight = 1
	}
	if bw.docFreq == 0 {
		bw.minID = p.DocID
		bw.minLength = p.Length
		bw.maxLength = p.Length
	}
	bw.lastID = p.DocID
	bw.maxID = p.DocID
	bw.docFreq++
	bw.totalWeight += float64(p.Weight)
	bw.maxWeight = max(bw.maxWeight, p.Weight)
	bw.minLength = min(bw.minLength, p.Length)
	bw.maxLength = max(bw.maxLength, p.Length)

	bw.pending = append(bw.pending, clonePosting(p))
	if len(bw.pending) >= bw.blockSize {
		return bw.flush()
	}
	return nil
}

func (bw *BlockWriter) flush() error {
	if len(bw.pending) == 0 {
		return nil
	}
	buf, err := appendBlock(nil, bw.pending, bw.features)
	if err != nil {
		return err
	}
	if _, err := bw.w.Write(buf); err != nil {
		return err
	}
	bw.written += uint64(len(buf))
	bw.blocks++
	bw.pending = bw.pending[:0]
	return nil
}

// BytesWritten returns the number of posting-file bytes produced so far.
func (bw *BlockWriter) BytesWritten() uint64 { return bw.written }

// Finish flushes any remaining postings and returns the term's TermInfo.
// Small terms come back inline with nothing written to the file.
func (bw *BlockWriter) Finish() (base.TermInfo, error) {
	ti := base.TermInfo{
		DocFreq:     bw.docFreq,
		TotalWeight: bw.totalWeight,
		MaxWeight:   bw.maxWeight,
		MinLength:   bw.minLength,
		MaxLength:   bw.maxLength,
		MinDocID:    bw.minID,
		MaxDocID:    bw.maxID,
	}
	if bw.blocks == 0 && len(bw.pending) <= bw.inlineLimit {
		ti.Inline = bw.pending
		if ti.Inline == nil {
			ti.Inline = []base.Posting{}
		}
		bw.pending = nil
		return ti, nil
	}
	if err := bw.flush(); err != nil {
		return base.TermInfo{}, err
	}
	ti.Offset = bw.startOffset
	ti.BlockCount = bw.blocks
	return ti, nil
}

func clonePosting(p base.Posting) base.Posting {
	p.Term = append([]byte(nil), p.Term...)
	p.Positions = append([]int(nil), p.Positions...)
	p.Chars = append([]base.CharRange(nil), p.Chars...)
	if p.Payloads != nil {
		payloads := make([][]byte, len(p.Payloads))
		for i, pl := range p.Payloads {
			payloads[i] = append([]byte(nil), pl...)
		}
		p.Payloads = payloads
	}
	return p
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package postings

import (
	"encoding/binary"

	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/packed"
)

const tiFlagInline = 1 << 0

// AppendTermInfo appends the encoding of ti to buf. These bytes become
// the term's value in the term dictionary. Inline postings are encoded
// with the same block format as the posting file.
func AppendTermInfo(buf []byte, ti *base.TermInfo, features base.Features) ([]byte, error) {
	var flags uint64
	if ti.IsInline() {
		flags |= tiFlagInline
	}
	buf = binary.AppendUvarint(buf, flags)
	buf = binary.AppendUvarint(buf, ti.DocFreq)
	buf = packed.AppendFloat64(buf, ti.TotalWeight)
	buf = packed.AppendFloat32(buf, ti.MaxWeight)
	buf = binary.AppendUvarint(buf, uint64(ti.MinLength))
	buf = binary.AppendUvarint(buf, uint64(ti.MaxLength))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ti.MinDocID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ti.MaxDocID))
	if ti.IsInline() {
		if len(ti.Inline) == 0 {
			buf = binary.AppendUvarint(buf, 0)
			return buf, nil
		}
		block, err := appendBlock(nil, ti.Inline, features)
		if err != nil {
			return nil, err
		}
		buf = binary.AppendUvarint(buf, uint64(len(block)))
		return append(buf, block...), nil
	}
	buf = binary.AppendUvarint(buf, ti.Offset)
	buf = binary.AppendUvarint(buf, ti.BlockCount)
	return buf, nil
}

// DecodeTermInfo decodes a term dictionary value.
func DecodeTermInfo(data []byte) (base.TermInfo, error) {
	var ti base.TermInfo
	flags, rest, err := packed.Uvarint(data)
	if err != nil {
		return ti, err
	}
	if ti.DocFreq, rest, err = packed.Uvarint(rest); err != nil {
		return ti, err
	}
	if ti.TotalWeight, rest, err = packed.ReadFloat64(rest); err != nil {
		return ti, err
	}
	if ti.MaxWeight, rest, err = packed.ReadFloat32(rest); err != nil {
		return ti, err
	}
	var v uint64
	if v, rest, err = packed.Uvarint(rest); err != nil {
		return ti, err
	}
	ti.MinLength = int(v)
	if v, rest, err = packed.Uvarint(rest); err != nil {
		return ti, err
	}
	ti.MaxLength = int(v)
	if len(rest) < 8 {
		return ti, base.CorruptionErrorf("postings: truncated term info")
	}
	ti.MinDocID = base.DocID(binary.LittleEndian.Uint32(rest))
	ti.MaxDocID = base.DocID(binary.LittleEndian.Uint32(rest[4:]))
	rest = rest[8:]

	if flags&tiFlagInline != 0 {
		var blockLen uint64
		if blockLen, rest, err = packed.Uvarint(rest); err != nil {
			return ti, err
		}
		if blockLen == 0 {
			ti.Inline = []base.Posting{}
			return ti, nil
		}
		if uint64(len(rest)) < blockLen {
			return ti, base.CorruptionErrorf("postings: truncated inline block")
		}
		b, err := decodeBlock(rest[:blockLen])
		if err != nil {
			return ti, err
		}
		if ti.Inline, err = b.postings(); err != nil {
			return ti, err
		}
		return ti, nil
	}
	if ti.Offset, rest, err = packed.Uvarint(rest); err != nil {
		return ti, err
	}
	if ti.BlockCount, _, err = packed.Uvarint(rest); err != nil {
		return ti, err
	}
	return ti, nil
}

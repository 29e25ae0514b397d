// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package codec

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/packed"
)

// The column file holds one packed array of field lengths per indexed
// field, indexed by docid. Layout: magic "QCOL", uint32 version, uvarint
// doc count, uvarint field count, then per field (in name order): uvarint
// name length + name, uvarint total length, a width typecode, and either
// a uvarint (CodeFixed, all docs share one length) or doc-count packed
// values. A uint64 xxhash64 of everything before it closes the file.

const (
	colMagic   = "QCOL"
	colVersion = 1
)

type column struct {
	total uint64
	code  byte
	// fixed is the shared length when code == packed.CodeFixed.
	fixed uint64
	// vals holds the packed array otherwise.
	vals []byte
}

func (c column) length(doc base.DocID) uint64 {
	if c.code == packed.CodeFixed {
		return c.fixed
	}
	return packed.GetUint(c.vals, packed.Width(c.code), int(doc))
}

func encodeColumns(docCount int, cols map[string]*column) []byte {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := append([]byte(nil), colMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, colVersion)
	buf = binary.AppendUvarint(buf, uint64(docCount))
	buf = binary.AppendUvarint(buf, uint64(len(names)))
	for _, name := range names {
		c := cols[name]
		buf = binary.AppendUvarint(buf, uint64(len(name)))
		buf = append(buf, name...)
		buf = binary.AppendUvarint(buf, c.total)
		buf = append(buf, c.code)
		if c.code == packed.CodeFixed {
			buf = binary.AppendUvarint(buf, c.fixed)
		} else {
			buf = append(buf, c.vals...)
		}
	}
	return binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf))
}

func decodeColumns(data []byte) (int, map[string]column, error) {
	if len(data) < len(colMagic)+4+8 {
		return 0, nil, base.CorruptionErrorf("codec: column file too short")
	}
	body, sum := data[:len(data)-8], data[len(data)-8:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(sum) {
		return 0, nil, base.CorruptionErrorf("codec: column file checksum mismatch")
	}
	if string(body[:len(colMagic)]) != colMagic {
		return 0, nil, base.CorruptionErrorf("codec: bad column file magic")
	}
	body = body[len(colMagic):]
	if v := binary.LittleEndian.Uint32(body); v != colVersion {
		return 0, nil, base.CorruptionErrorf("codec: unknown column file version %d", v)
	}
	body = body[4:]

	docCount, body, err := packed.Uvarint(body)
	if err != nil {
		return 0, nil, err
	}
	fieldCount, body, err := packed.Uvarint(body)
	if err != nil {
		return 0, nil, err
	}
	cols := make(map[string]column, fieldCount)
	for i := uint64(0); i < fieldCount; i++ {
		var nameLen uint64
		nameLen, body, err = packed.Uvarint(body)
		if err != nil {
			return 0, nil, err
		}
		if uint64(len(body)) < nameLen {
			return 0, nil, base.CorruptionErrorf("codec: truncated column name")
		}
		name := string(body[:nameLen])
		body = body[nameLen:]

		var c column
		c.total, body, err = packed.Uvarint(body)
		if err != nil {
			return 0, nil, err
		}
		if len(body) == 0 {
			return 0, nil, base.CorruptionErrorf("codec: truncated column %q", name)
		}
		c.code, body = body[0], body[1:]
		switch {
		case c.code == packed.CodeFixed:
			c.fixed, body, err = packed.Uvarint(body)
			if err != nil {
				return 0, nil, err
			}
		case packed.ValidWidth(c.code):
			n := int(docCount) * packed.Width(c.code).Bytes()
			if len(body) < n {
				return 0, nil, base.CorruptionErrorf("codec: truncated column %q", name)
			}
			c.vals, body = body[:n], body[n:]
		default:
			return 0, nil, base.CorruptionErrorf("codec: bad column typecode %#x", c.code)
		}
		cols[name] = c
	}
	return int(docCount), cols, nil
}

// buildColumn packs per-doc lengths, padding docs that never saw the field
// with zero and collapsing to a fixed value when every doc agrees.
func buildColumn(lengths []uint64, docCount int) *column {
	for len(lengths) < docCount {
		lengths = append(lengths, 0)
	}
	c := &column{}
	fixed := true
	var maxLen uint64
	for _, v := range lengths {
		c.total += v
		maxLen = max(maxLen, v)
		if v != lengths[0] {
			fixed = false
		}
	}
	if fixed && docCount > 0 {
		c.code = packed.CodeFixed
		c.fixed = lengths[0]
		return c
	}
	w := packed.MinWidth(maxLen)
	c.code = byte(w)
	c.vals = packed.AppendUints(nil, w, lengths)
	return c
}

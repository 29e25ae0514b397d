// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blueline

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/quillindex/quill/internal/base"
)

const (
	tocMagic   = "QTOC"
	tocVersion = 1
)

// Ref locates one region within the store's data file and carries enough
// metadata to route lookups without decoding the region.
type Ref struct {
	Offset uint64
	Length uint64
	Count  uint64
	MinKey []byte
	MaxKey []byte
}

// encodeTOC serializes the store's table of contents: the commit
// generation and the ordered region refs.
func encodeTOC(gen uint64, refs []Ref) []byte {
	buf := append([]byte(nil), tocMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, tocVersion)
	buf = binary.AppendUvarint(buf, gen)
	buf = binary.AppendUvarint(buf, uint64(len(refs)))
	for _, ref := range refs {
		buf = binary.AppendUvarint(buf, ref.Offset)
		buf = binary.AppendUvarint(buf, ref.Length)
		buf = binary.AppendUvarint(buf, ref.Count)
		buf = binary.AppendUvarint(buf, uint64(len(ref.MinKey)))
		buf = append(buf, ref.MinKey...)
		buf = binary.AppendUvarint(buf, uint64(len(ref.MaxKey)))
		buf = append(buf, ref.MaxKey...)
	}
	return binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf))
}

func decodeTOC(data []byte) (gen uint64, refs []Ref, err error) {
	if len(data) < len(tocMagic)+4+8 {
		return 0, nil, base.CorruptionErrorf("blueline: toc too short")
	}
	body, sum := data[:len(data)-8], data[len(data)-8:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(sum) {
		return 0, nil, base.CorruptionErrorf("blueline: toc checksum mismatch")
	}
	if string(body[:len(tocMagic)]) != tocMagic {
		return 0, nil, base.CorruptionErrorf("blueline: bad toc magic")
	}
	body = body[len(tocMagic):]
	if v := binary.LittleEndian.Uint32(body); v != tocVersion {
		return 0, nil, base.CorruptionErrorf("blueline: unsupported toc version %d", v)
	}
	body = body[4:]

	next := func() (uint64, error) {
		v, n := binary.Uvarint(body)
		if n <= 0 {
			return 0, base.CorruptionErrorf("blueline: truncated toc")
		}
		body = body[n:]
		return v, nil
	}
	nextBytes := func() ([]byte, error) {
		n, err := next()
		if err != nil {
			return nil, err
		}
		if uint64(len(body)) < n {
			return nil, base.CorruptionErrorf("blueline: truncated toc key")
		}
		b := append([]byte(nil), body[:n]...)
		body = body[n:]
		return b, nil
	}

	if gen, err = next(); err != nil {
		return 0, nil, err
	}
	count, err := next()
	if err != nil {
		return 0, nil, err
	}
	refs = make([]Ref, 0, count)
	for i := uint64(0); i < count; i++ {
		var ref Ref
		if ref.Offset, err = next(); err != nil {
			return 0, nil, err
		}
		if ref.Length, err = next(); err != nil {
			return 0, nil, err
		}
		if ref.Count, err = next(); err != nil {
			return 0, nil, err
		}
		if ref.MinKey, err = nextBytes(); err != nil {
			return 0, nil, err
		}
		if ref.MaxKey, err = nextBytes(); err != nil {
			return 0, nil, err
		}
		if bytes.Compare(ref.MinKey, ref.MaxKey) > 0 {
			return 0, nil, base.CorruptionErrorf("blueline: inverted ref span")
		}
		if n := len(refs); n > 0 && bytes.Compare(refs[n-1].MaxKey, ref.MinKey) >= 0 {
			return 0, nil, base.CorruptionErrorf("blueline: overlapping refs in toc")
		}
		refs = append(refs, ref)
	}
	return gen, refs, nil
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package fst

import (
	"encoding/binary"

	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/packed"
)

// File layout: a fixed header (magic, version, directory offset backpatched
// at Close), the node records of every field's graph, and a trailing
// directory mapping field names to root node addresses.
const (
	fileMagic     = "QFST"
	formatVersion = 1
	headerSize    = 4 + 4 + 8
)

// Arc flag bits. Bits 6-7 are reserved and always zero, which keeps a flag
// byte distinct from the 0xFF fixed-size node marker.
const (
	arcLast byte = 1 << iota
	arcAccept
	arcStop
	arcHasValue
	arcHasAcceptVal
	arcMultiLabel
)

// fixedSizeMarker precedes a node whose arcs all encode to the same byte
// length, enabling binary search by label.
const fixedSizeMarker byte = 0xFF

// Arc is one directed edge in the graph: a label, a target node address
// (0 for a stop arc), an optional value contributed along the path, and an
// optional value contributed only when the key ends here.
type Arc struct {
	Label     []byte
	Target    uint64
	Value     []byte
	AcceptVal []byte
	Accept    bool
	Last      bool
}

// appendArc encodes a into buf.
func appendArc(buf []byte, a *Arc) []byte {
	var flags byte
	if a.Last {
		flags |= arcLast
	}
	if a.Accept {
		flags |= arcAccept
	}
	if a.Target == 0 {
		flags |= arcStop
	}
	if len(a.Value) > 0 {
		flags |= arcHasValue
	}
	if len(a.AcceptVal) > 0 {
		flags |= arcHasAcceptVal
	}
	if len(a.Label) != 1 {
		flags |= arcMultiLabel
	}
	buf = append(buf, flags)
	if len(a.Label) != 1 {
		buf = binary.AppendUvarint(buf, uint64(len(a.Label)))
	}
	buf = append(buf, a.Label...)
	if a.Target != 0 {
		buf = binary.LittleEndian.AppendUint64(buf, a.Target)
	}
	if len(a.Value) > 0 {
		buf = binary.AppendUvarint(buf, uint64(len(a.Value)))
		buf = append(buf, a.Value...)
	}
	if len(a.AcceptVal) > 0 {
		buf = binary.AppendUvarint(buf, uint64(len(a.AcceptVal)))
		buf = append(buf, a.AcceptVal...)
	}
	return buf
}

// decodeArc decodes an arc from data[off:], returning the arc and the
// offset just past it.
func decodeArc(data []byte, off uint64) (Arc, uint64, error) {
	var a Arc
	if off >= uint64(len(data)) {
		return a, 0, base.CorruptionErrorf("fst: arc offset %d beyond file end %d", off, len(data))
	}
	flags := data[off]
	if flags == fixedSizeMarker || flags&^(arcLast|arcAccept|arcStop|arcHasValue|arcHasAcceptVal|arcMultiLabel) != 0 {
		return a, 0, base.CorruptionErrorf("fst: invalid arc flags %#x at offset %d", flags, off)
	}
	rest := data[off+1:]
	a.Last = flags&arcLast != 0
	a.Accept = flags&arcAccept != 0

	labelLen := uint64(1)
	var err error
	if flags&arcMultiLabel != 0 {
		labelLen, rest, err = packed.Uvarint(rest)
		if err != nil || labelLen == 0 {
			return a, 0, base.CorruptionErrorf("fst: bad arc label length at offset %d", off)
		}
	}
	if uint64(len(rest)) < labelLen {
		return a, 0, base.CorruptionErrorf("fst: truncated arc label at offset %d", off)
	}
	a.Label, rest = rest[:labelLen:labelLen], rest[labelLen:]

	if flags&arcStop == 0 {
		if len(rest) < 8 {
			return a, 0, base.CorruptionErrorf("fst: truncated arc target at offset %d", off)
		}
		a.Target = binary.LittleEndian.Uint64(rest)
		rest = rest[8:]
		if a.Target == 0 || a.Target >= uint64(len(data)) {
			return a, 0, base.CorruptionErrorf("fst: arc target %d out of range at offset %d", a.Target, off)
		}
	}
	if flags&arcHasValue != 0 {
		a.Value, rest, err = readLenPrefixed(rest)
		if err != nil {
			return a, 0, err
		}
	}
	if flags&arcHasAcceptVal != 0 {
		a.AcceptVal, rest, err = readLenPrefixed(rest)
		if err != nil {
			return a, 0, err
		}
	}
	return a, uint64(len(data)) - uint64(len(rest)), nil
}

func readLenPrefixed(data []byte) ([]byte, []byte, error) {
	n, rest, err := packed.Uvarint(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, base.CorruptionErrorf("fst: truncated value bytes")
	}
	return rest[:n:n], rest[n:], nil
}

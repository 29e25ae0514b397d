// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package packed implements the low-level integer packing primitives shared
// by the region, posting and FST codecs: variable-length integers,
// fixed-width integer arrays at the minimal width that fits their maximum
// value, and delta coding for strictly increasing sequences.
package packed

import (
	"encoding/binary"
	"math"

	"github.com/quillindex/quill/internal/base"
)

// Width selects the fixed byte width of a packed integer array. The numeric
// values are the on-disk typecodes.
type Width uint8

const (
	// Width8 packs each value into 1 byte.
	Width8 Width = iota
	// Width16 packs each value into 2 bytes, little-endian.
	Width16
	// Width32 packs each value into 4 bytes, little-endian.
	Width32
	// Width64 packs each value into 8 bytes, little-endian.
	Width64
)

const (
	// CodeFixed is the typecode sentinel meaning "no array present; every
	// item has the fixed length recorded in the header".
	CodeFixed byte = 0xFE
	// CodeAbsent is the typecode sentinel meaning "no array present; values
	// are computable from other arrays" (used for region position arrays
	// when both key and value lengths are fixed).
	CodeAbsent byte = 0xFF
)

// Bytes returns the number of bytes one packed value occupies.
func (w Width) Bytes() int {
	return 1 << w
}

// Valid reports whether the typecode byte names a real width.
func ValidWidth(code byte) bool {
	return code <= byte(Width64)
}

// MinWidth returns the narrowest width that can represent max.
func MinWidth(max uint64) Width {
	switch {
	case max <= math.MaxUint8:
		return Width8
	case max <= math.MaxUint16:
		return Width16
	case max <= math.MaxUint32:
		return Width32
	default:
		return Width64
	}
}

// AppendUint appends a single value at width w.
func AppendUint(buf []byte, w Width, v uint64) []byte {
	switch w {
	case Width8:
		return append(buf, byte(v))
	case Width16:
		return binary.LittleEndian.AppendUint16(buf, uint16(v))
	case Width32:
		return binary.LittleEndian.AppendUint32(buf, uint32(v))
	default:
		return binary.LittleEndian.AppendUint64(buf, v)
	}
}

// AppendUints appends vals at width w.
func AppendUints(buf []byte, w Width, vals []uint64) []byte {
	for _, v := range vals {
		buf = AppendUint(buf, w, v)
	}
	return buf
}

// GetUint reads the i'th value of a packed array starting at data[0].
// The caller is responsible for bounds: len(data) >= (i+1)*w.Bytes().
func GetUint(data []byte, w Width, i int) uint64 {
	switch w {
	case Width8:
		return uint64(data[i])
	case Width16:
		return uint64(binary.LittleEndian.Uint16(data[i*2:]))
	case Width32:
		return uint64(binary.LittleEndian.Uint32(data[i*4:]))
	default:
		return binary.LittleEndian.Uint64(data[i*8:])
	}
}

// ReadUints decodes n values at width w from the front of data, returning
// the values and the remaining bytes.
func ReadUints(data []byte, w Width, n int) ([]uint64, []byte, error) {
	size := n * w.Bytes()
	if len(data) < size {
		return nil, nil, base.CorruptionErrorf(
			"packed: array truncated: need %d bytes, have %d", size, len(data))
	}
	vals := make([]uint64, n)
	for i := range vals {
		vals[i] = GetUint(data, w, i)
	}
	return vals, data[size:], nil
}

// AppendUvarint appends v in varint encoding.
func AppendUvarint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

// Uvarint decodes a varint from the front of data, returning the value and
// the remaining bytes. A truncated or overlong encoding is a corruption
// error.
func Uvarint(data []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, nil, base.CorruptionErrorf("packed: invalid uvarint")
	}
	return v, data[n:], nil
}

// DeltaEncode converts a strictly increasing sequence into gaps:
// out[i] = vals[i+1] - vals[i]. It returns an error if the sequence is not
// strictly increasing.
func DeltaEncode(vals []uint64) ([]uint64, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	deltas := make([]uint64, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		if vals[i] <= vals[i-1] {
			return nil, base.OutOfOrderErrorf(
				"packed: sequence not strictly increasing: %d after %d", vals[i], vals[i-1])
		}
		deltas[i-1] = vals[i] - vals[i-1]
	}
	return deltas, nil
}

// DeltaDecode rebuilds the original sequence from its first value and gaps.
func DeltaDecode(first uint64, deltas []uint64) []uint64 {
	vals := make([]uint64, len(deltas)+1)
	vals[0] = first
	for i, d := range deltas {
		vals[i+1] = vals[i] + d
	}
	return vals
}

// MaxUint returns the maximum of vals, or 0 for an empty slice.
func MaxUint(vals []uint64) uint64 {
	var max uint64
	for _, v := range vals {
		if v > max {
			max = v
		}
	}
	return max
}

// AppendFloat32 appends the IEEE 754 bits of v, little-endian.
func AppendFloat32(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

// ReadFloat32 decodes a float32 from the front of data.
func ReadFloat32(data []byte) (float32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, base.CorruptionErrorf("packed: float32 truncated")
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data)), data[4:], nil
}

// AppendFloat64 appends the IEEE 754 bits of v, little-endian.
func AppendFloat64(buf []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
}

// ReadFloat64 decodes a float64 from the front of data.
func ReadFloat64(data []byte) (float64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, base.CorruptionErrorf("packed: float64 truncated")
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data)), data[8:], nil
}

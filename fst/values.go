// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package fst

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/packed"
)

// Values defines the semantics of the values attached to keys in a graph.
// Values are byte strings; a policy decides how a "shared prefix" of two
// values is computed so it can be hoisted toward the root, how a residual
// is recovered, and how values of duplicate keys combine.
//
// The nil slice is the policy's zero value: Common(a, nil) is nil,
// Add(a, nil) is a, Subtract(a, nil) is a.
type Values interface {
	// Validate reports whether v is a well-formed encoded value.
	Validate(v []byte) error
	// Common returns the shared part of a and b that may be stored on a
	// common ancestor arc, or nil if the two share nothing.
	Common(a, b []byte) []byte
	// Add combines a prefix part with a residual part.
	Add(a, b []byte) []byte
	// Subtract removes prefix b from a. b must be Common(a, b).
	Subtract(a, b []byte) []byte
	// Merge combines the values of two identical keys.
	Merge(a, b []byte) ([]byte, error)
}

// IntValues stores one unsigned integer per key, varint encoded. The common
// part of two values is the smaller; adding sums and subtracting takes the
// difference, so each key's value is the sum of the arc values along its
// path.
type IntValues struct{}

func intVal(v []byte) uint64 {
	if len(v) == 0 {
		return 0
	}
	x, _ := binary.Uvarint(v)
	return x
}

func intBytes(x uint64) []byte {
	if x == 0 {
		return nil
	}
	return binary.AppendUvarint(nil, x)
}

// Validate implements Values.
func (IntValues) Validate(v []byte) error {
	if len(v) == 0 {
		return nil
	}
	x, n := binary.Uvarint(v)
	if n != len(v) || (x == 0 && len(v) > 1) {
		return errors.Newf("fst: malformed int value %x", v)
	}
	return nil
}

// Common implements Values.
func (IntValues) Common(a, b []byte) []byte {
	x, y := intVal(a), intVal(b)
	if x < y {
		return intBytes(x)
	}
	return intBytes(y)
}

// Add implements Values.
func (IntValues) Add(a, b []byte) []byte {
	return intBytes(intVal(a) + intVal(b))
}

// Subtract implements Values.
func (IntValues) Subtract(a, b []byte) []byte {
	x, y := intVal(a), intVal(b)
	if y > x {
		panic("fst: int subtract underflow")
	}
	return intBytes(x - y)
}

// Merge implements Values, summing the two values.
func (IntValues) Merge(a, b []byte) ([]byte, error) {
	return IntValues{}.Add(a, b), nil
}

// BytesValues stores a raw byte string per key. The common part is the
// longest shared byte prefix and adding concatenates, so each key's value
// is the concatenation of the arc values along its path.
type BytesValues struct{}

// Validate implements Values.
func (BytesValues) Validate(v []byte) error { return nil }

// Common implements Values.
func (BytesValues) Common(a, b []byte) []byte {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	if i == 0 {
		return nil
	}
	return a[:i:i]
}

// Add implements Values.
func (BytesValues) Add(a, b []byte) []byte {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]byte, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

// Subtract implements Values.
func (BytesValues) Subtract(a, b []byte) []byte {
	if len(b) == 0 {
		return a
	}
	if !bytes.HasPrefix(a, b) {
		panic("fst: bytes subtract of non-prefix")
	}
	return a[len(b):]
}

// Merge implements Values. Duplicate keys are not combinable for raw bytes.
func (BytesValues) Merge(a, b []byte) ([]byte, error) {
	return nil, errors.New("fst: bytes values cannot merge duplicate keys")
}

// FixedArrayValues stores a fixed-width array of uint32s per key. Arrays do
// not share prefixes across arcs: the whole array is stored on the accept
// arc.
type FixedArrayValues struct{}

// Validate implements Values.
func (FixedArrayValues) Validate(v []byte) error {
	if len(v)%4 != 0 {
		return errors.Newf("fst: array value length %d not a multiple of 4", len(v))
	}
	return nil
}

// Common implements Values. Arrays are never shared.
func (FixedArrayValues) Common(a, b []byte) []byte { return nil }

// Add implements Values.
func (FixedArrayValues) Add(a, b []byte) []byte {
	if len(a) == 0 {
		return b
	}
	return a
}

// Subtract implements Values.
func (FixedArrayValues) Subtract(a, b []byte) []byte {
	if len(b) == 0 {
		return a
	}
	panic("fst: array subtract of non-empty prefix")
}

// Merge implements Values, concatenating the two arrays.
func (FixedArrayValues) Merge(a, b []byte) ([]byte, error) {
	out := make([]byte, 0, len(a)+len(b))
	return append(append(out, a...), b...), nil
}

// DecodeFixedArray decodes a FixedArrayValues value.
func DecodeFixedArray(v []byte) []uint32 {
	out := make([]uint32, len(v)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(v[i*4:])
	}
	return out
}

// EncodeFixedArray encodes a FixedArrayValues value.
func EncodeFixedArray(vals []uint32) []byte {
	var out []byte
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

// SortedIntListValues stores a strictly increasing list of unsigned
// integers per key, delta encoded as varints. The common part of two lists
// is their longest shared prefix list.
type SortedIntListValues struct{}

// DecodeSortedIntList decodes a SortedIntListValues value.
func DecodeSortedIntList(v []byte) ([]uint64, error) {
	var out []uint64
	var prev uint64
	var err error
	for len(v) > 0 {
		var d uint64
		d, v, err = packed.Uvarint(v)
		if err != nil {
			return nil, err
		}
		prev += d
		out = append(out, prev)
	}
	return out, nil
}

// EncodeSortedIntList encodes a strictly increasing list.
func EncodeSortedIntList(vals []uint64) ([]byte, error) {
	var out []byte
	var prev uint64
	for i, v := range vals {
		if i > 0 && v <= prev {
			return nil, base.OutOfOrderErrorf("fst: int list not strictly increasing: %d after %d", v, prev)
		}
		out = binary.AppendUvarint(out, v-prev)
		prev = v
	}
	return out, nil
}

// Validate implements Values.
func (SortedIntListValues) Validate(v []byte) error {
	_, err := DecodeSortedIntList(v)
	return err
}

// Common implements Values.
func (SortedIntListValues) Common(a, b []byte) []byte {
	la, erra := DecodeSortedIntList(a)
	lb, errb := DecodeSortedIntList(b)
	if erra != nil || errb != nil {
		return nil
	}
	n := min(len(la), len(lb))
	i := 0
	for i < n && la[i] == lb[i] {
		i++
	}
	if i == 0 {
		return nil
	}
	out, _ := EncodeSortedIntList(la[:i])
	return out
}

// Add implements Values, appending residual list b after prefix list a.
func (SortedIntListValues) Add(a, b []byte) []byte {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	la, _ := DecodeSortedIntList(a)
	lb, _ := DecodeSortedIntList(b)
	// The residual's deltas are relative to the end of the prefix.
	out := make([]uint64, 0, len(la)+len(lb))
	out = append(out, la...)
	last := la[len(la)-1]
	for _, v := range lb {
		out = append(out, v+last)
	}
	enc, _ := EncodeSortedIntList(out)
	return enc
}

// Subtract implements Values, removing prefix list b from a.
func (SortedIntListValues) Subtract(a, b []byte) []byte {
	if len(b) == 0 {
		return a
	}
	la, _ := DecodeSortedIntList(a)
	lb, _ := DecodeSortedIntList(b)
	if len(lb) > len(la) {
		panic("fst: int list subtract of non-prefix")
	}
	rest := la[len(lb):]
	if len(rest) == 0 {
		return nil
	}
	last := lb[len(lb)-1]
	out := make([]uint64, len(rest))
	for i, v := range rest {
		out[i] = v - last
	}
	enc, _ := EncodeSortedIntList(out)
	return enc
}

// Merge implements Values, merging the two sorted lists.
func (SortedIntListValues) Merge(a, b []byte) ([]byte, error) {
	la, err := DecodeSortedIntList(a)
	if err != nil {
		return nil, err
	}
	lb, err := DecodeSortedIntList(b)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(la)+len(lb))
	i, j := 0, 0
	for i < len(la) || j < len(lb) {
		switch {
		case j >= len(lb) || (i < len(la) && la[i] < lb[j]):
			out = append(out, la[i])
			i++
		case i >= len(la) || lb[j] < la[i]:
			out = append(out, lb[j])
			j++
		default:
			out = append(out, la[i])
			i++
			j++
		}
	}
	return EncodeSortedIntList(out)
}

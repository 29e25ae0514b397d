// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blueline

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/packed"
)

// MaxPrefixLen caps the number of common leading key bytes stripped from a
// region's stored keys.
const MaxPrefixLen = 16

// MaxKeyLength bounds the byte length of a stored key.
const MaxKeyLength = 65535

// Pair is one key/value entry.
type Pair struct {
	Key   []byte
	Value []byte
}

// WriteRegion appends the encoding of pairs, which must be sorted by
// strictly ascending key, to buf. It returns the extended buffer and a Ref
// describing the new region.
//
// Layout: item count; typecode bytes for the position, key-length and
// value-length arrays (with sentinels for "fixed" and "computable");
// common-prefix length and bytes; fixed key/value lengths when flagged;
// the arrays; the concatenated suffix-key/value bytes; a checksum.
func WriteRegion(buf []byte, pairs []Pair) ([]byte, Ref, error) {
	if len(pairs) == 0 {
		return buf, Ref{}, errors.New("blueline: empty region")
	}
	offset := uint64(len(buf))
	for i, p := range pairs {
		if len(p.Key) == 0 || len(p.Key) > MaxKeyLength {
			return buf, Ref{}, errors.Newf("blueline: invalid key length %d", len(p.Key))
		}
		if i > 0 && bytes.Compare(pairs[i-1].Key, p.Key) >= 0 {
			return buf, Ref{}, base.OutOfOrderErrorf(
				"blueline: key %q not above %q", p.Key, pairs[i-1].Key)
		}
	}

	// Common prefix across all keys, capped.
	prefix := pairs[0].Key
	for _, p := range pairs[1:] {
		n := sharedPrefixLen(prefix, p.Key)
		if n < len(prefix) {
			prefix = prefix[:n]
		}
		if len(prefix) == 0 {
			break
		}
	}
	if len(prefix) > MaxPrefixLen {
		prefix = prefix[:MaxPrefixLen]
	}

	keyLens := make([]uint64, len(pairs))
	valLens := make([]uint64, len(pairs))
	positions := make([]uint64, len(pairs))
	var pos uint64
	fixedKey, fixedVal := true, true
	for i, p := range pairs {
		keyLens[i] = uint64(len(p.Key) - len(prefix))
		valLens[i] = uint64(len(p.Value))
		positions[i] = pos
		pos += keyLens[i] + valLens[i]
		if keyLens[i] != keyLens[0] {
			fixedKey = false
		}
		if valLens[i] != valLens[0] {
			fixedVal = false
		}
	}

	start := len(buf)
	buf = binary.AppendUvarint(buf, uint64(len(pairs)))

	posCode := byte(packed.MinWidth(positions[len(positions)-1]))
	if fixedKey && fixedVal {
		posCode = packed.CodeAbsent
	}
	keyCode := byte(packed.MinWidth(packed.MaxUint(keyLens)))
	if fixedKey {
		keyCode = packed.CodeFixed
	}
	valCode := byte(packed.MinWidth(packed.MaxUint(valLens)))
	if fixedVal {
		valCode = packed.CodeFixed
	}
	buf = append(buf, posCode, keyCode, valCode, byte(len(prefix)))
	buf = append(buf, prefix...)
	if fixedKey {
		buf = binary.AppendUvarint(buf, keyLens[0])
	}
	if fixedVal {
		buf = binary.AppendUvarint(buf, valLens[0])
	}
	if posCode != packed.CodeAbsent {
		buf = packed.AppendUints(buf, packed.Width(posCode), positions)
	}
	if !fixedKey {
		buf = packed.AppendUints(buf, packed.Width(keyCode), keyLens)
	}
	if !fixedVal {
		buf = packed.AppendUints(buf, packed.Width(valCode), valLens)
	}
	for _, p := range pairs {
		buf = append(buf, p.Key[len(prefix):]...)
		buf = append(buf, p.Value...)
	}
	buf = binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf[start:]))

	ref := Ref{
		Offset: offset,
		Length: uint64(len(buf) - start),
		Count:  uint64(len(pairs)),
		MinKey: append([]byte{}, pairs[0].Key...),
		MaxKey: append([]byte{}, pairs[len(pairs)-1].Key...),
	}
	return buf, ref, nil
}

// Region is one immutable, sorted, prefix-compressed block of key/value
// pairs, decoded lazily from its on-disk bytes. The payload is referenced,
// not copied, so a Region must not outlive the mapping it was decoded
// from.
type Region struct {
	count   int
	prefix  []byte
	fixedKL int // -1 when the key-length array is present
	fixedVL int // -1 when the value-length array is present
	posW    packed.Width
	keyW    packed.Width
	valW    packed.Width
	posArr  []byte
	keyArr  []byte
	valArr  []byte
	payload []byte
	// index maps full keys to item indexes after Preread.
	index map[string]int
}

// DecodeRegion decodes and checksums the region occupying exactly data.
func DecodeRegion(data []byte) (*Region, error) {
	if len(data) < 8 {
		return nil, base.CorruptionErrorf("blueline: region too short")
	}
	body, sumBytes := data[:len(data)-8], data[len(data)-8:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(sumBytes) {
		return nil, base.CorruptionErrorf("blueline: region checksum mismatch")
	}

	count, rest, err := packed.Uvarint(body)
	if err != nil {
		return nil, err
	}
	if count == 0 || len(rest) < 4 {
		return nil, base.CorruptionErrorf("blueline: malformed region header")
	}
	posCode, keyCode, valCode, prefixLen := rest[0], rest[1], rest[2], rest[3]
	rest = rest[4:]
	if prefixLen > MaxPrefixLen || len(rest) < int(prefixLen) {
		return nil, base.CorruptionErrorf("blueline: bad region prefix length %d", prefixLen)
	}
	r := &Region{
		count:   int(count),
		prefix:  rest[:prefixLen:prefixLen],
		fixedKL: -1,
		fixedVL: -1,
	}
	rest = rest[prefixLen:]

	if keyCode == packed.CodeFixed {
		n, rem, err := packed.Uvarint(rest)
		if err != nil {
			return nil, err
		}
		r.fixedKL, rest = int(n), rem
	} else if !packed.ValidWidth(keyCode) {
		return nil, base.CorruptionErrorf("blueline: bad key-length typecode %#x", keyCode)
	} else {
		r.keyW = packed.Width(keyCode)
	}
	if valCode == packed.CodeFixed {
		n, rem, err := packed.Uvarint(rest)
		if err != nil {
			return nil, err
		}
		r.fixedVL, rest = int(n), rem
	} else if !packed.ValidWidth(valCode) {
		return nil, base.CorruptionErrorf("blueline: bad value-length typecode %#x", valCode)
	} else {
		r.valW = packed.Width(valCode)
	}

	take := func(w packed.Width) ([]byte, error) {
		n := int(count) * w.Bytes()
		if len(rest) < n {
			return nil, base.CorruptionErrorf("blueline: truncated region array")
		}
		arr := rest[:n:n]
		rest = rest[n:]
		return arr, nil
	}
	if posCode == packed.CodeAbsent {
		if r.fixedKL < 0 || r.fixedVL < 0 {
			return nil, base.CorruptionErrorf("blueline: positions absent but lengths vary")
		}
	} else if !packed.ValidWidth(posCode) {
		return nil, base.CorruptionErrorf("blueline: bad position typecode %#x", posCode)
	} else {
		r.posW = packed.Width(posCode)
		if r.posArr, err = take(r.posW); err != nil {
			return nil, err
		}
	}
	if r.fixedKL < 0 {
		if r.keyArr, err = take(r.keyW); err != nil {
			return nil, err
		}
	}
	if r.fixedVL < 0 {
		if r.valArr, err = take(r.valW); err != nil {
			return nil, err
		}
	}
	r.payload = rest
	return r, nil
}

// Count returns the number of pairs in the region.
func (r *Region) Count() int { return r.count }

func (r *Region) itemPos(i int) uint64 {
	if r.posArr == nil {
		return uint64(i) * uint64(r.fixedKL+r.fixedVL)
	}
	return packed.GetUint(r.posArr, r.posW, i)
}

func (r *Region) keyLen(i int) int {
	if r.fixedKL >= 0 {
		return r.fixedKL
	}
	return int(packed.GetUint(r.keyArr, r.keyW, i))
}

func (r *Region) valLen(i int) int {
	if r.fixedVL >= 0 {
		return r.fixedVL
	}
	return int(packed.GetUint(r.valArr, r.valW, i))
}

// suffix returns the stored (prefix-stripped) key bytes of item i.
func (r *Region) suffix(i int) []byte {
	pos := r.itemPos(i)
	return r.payload[pos : pos+uint64(r.keyLen(i))]
}

// Key returns the full key of item i. The result is freshly allocated.
func (r *Region) Key(i int) []byte {
	suffix := r.suffix(i)
	key := make([]byte, 0, len(r.prefix)+len(suffix))
	return append(append(key, r.prefix...), suffix...)
}

// Value returns the value bytes of item i, referencing the region's
// underlying data.
func (r *Region) Value(i int) []byte {
	pos := r.itemPos(i) + uint64(r.keyLen(i))
	return r.payload[pos : pos+uint64(r.valLen(i))]
}

// MinKey returns the region's smallest key.
func (r *Region) MinKey() []byte { return r.Key(0) }

// MaxKey returns the region's largest key.
func (r *Region) MaxKey() []byte { return r.Key(r.count - 1) }

// search returns the index of the first item whose key is >= key, which
// is r.count when key is above every item.
func (r *Region) search(key []byte) int {
	p := r.prefix
	head := key
	if len(head) > len(p) {
		head = head[:len(p)]
	}
	if c := bytes.Compare(head, p); c < 0 {
		return 0
	} else if c > 0 {
		return r.count
	} else if len(key) <= len(p) {
		// key is a prefix of the common prefix, so it compares at or below
		// every stored key.
		return 0
	}
	q := key[len(p):]
	return sort.Search(r.count, func(i int) bool {
		return bytes.Compare(r.suffix(i), q) >= 0
	})
}

// Find returns the index of key and whether it is present.
func (r *Region) Find(key []byte) (int, bool) {
	if r.index != nil {
		i, ok := r.index[string(key)]
		return i, ok
	}
	i := r.search(key)
	if i >= r.count {
		return i, false
	}
	if len(key) < len(r.prefix) || !bytes.HasPrefix(key, r.prefix) {
		return i, false
	}
	return i, bytes.Equal(r.suffix(i), key[len(r.prefix):])
}

// Get returns the value stored under key, or ErrNotFound.
func (r *Region) Get(key []byte) ([]byte, error) {
	i, ok := r.Find(key)
	if !ok {
		return nil, errors.Wrapf(base.ErrNotFound, "blueline: key %q", key)
	}
	return r.Value(i), nil
}

// Has reports whether key is present.
func (r *Region) Has(key []byte) bool {
	_, ok := r.Find(key)
	return ok
}

// Each calls fn for every pair in ascending key order.
func (r *Region) Each(fn func(key, value []byte) error) error {
	for i := 0; i < r.count; i++ {
		if err := fn(r.Key(i), r.Value(i)); err != nil {
			return err
		}
	}
	return nil
}

// Preread materializes a full key-to-index map, trading memory for O(1)
// lookups. Useful ahead of merge-style sequential access patterns.
func (r *Region) Preread() {
	if r.index != nil {
		return
	}
	r.index = make(map[string]int, r.count)
	for i := 0; i < r.count; i++ {
		r.index[string(r.Key(i))] = i
	}
}

func sharedPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

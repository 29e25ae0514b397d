// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package fst

import (
	"bytes"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/quillindex/quill/internal/base"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func buildGraph(t *testing.T, field string, values Values, insert func(w *Writer)) *Reader {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, values)
	require.NoError(t, w.StartField(field))
	insert(w)
	require.NoError(t, w.Close())
	r, err := NewReader(buf.Bytes())
	require.NoError(t, err)
	return r
}

func keysOf(t *testing.T, r *Reader, field string) [][]byte {
	t.Helper()
	root, err := r.Root(field)
	require.NoError(t, err)
	keys, err := NewCursor(root, nil).Flatten()
	require.NoError(t, err)
	return keys
}

func TestRoundTrip(t *testing.T) {
	words := [][]byte{
		[]byte("alfa"), []byte("alpaca"), []byte("amigo"), []byte("bravo"),
		[]byte("brave"), []byte("bravos"), []byte("charlie"), []byte("char"),
	}
	sort.Slice(words, func(i, j int) bool { return bytes.Compare(words[i], words[j]) < 0 })

	r := buildGraph(t, "terms", nil, func(w *Writer) {
		for _, word := range words {
			require.NoError(t, w.Insert(word, nil))
		}
	})
	require.Equal(t, words, keysOf(t, r, "terms"))
}

func TestRoundTripRandom(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	set := map[string]bool{}
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(12)
		word := make([]byte, n)
		for j := range word {
			word[j] = byte('a' + rng.Intn(6))
		}
		set[string(word)] = true
	}
	var words [][]byte
	for word := range set {
		words = append(words, []byte(word))
	}
	sort.Slice(words, func(i, j int) bool { return bytes.Compare(words[i], words[j]) < 0 })

	r := buildGraph(t, "terms", nil, func(w *Writer) {
		for _, word := range words {
			require.NoError(t, w.Insert(word, nil))
		}
	})
	require.Equal(t, words, keysOf(t, r, "terms"))
}

func TestIntValuesRoundTrip(t *testing.T) {
	keys := [][]byte{[]byte("app"), []byte("apple"), []byte("apply"), []byte("bat"), []byte("bath")}
	vals := []uint64{10, 25, 7, 300, 2}

	r := buildGraph(t, "terms", IntValues{}, func(w *Writer) {
		for i, key := range keys {
			require.NoError(t, w.Insert(key, intBytes(vals[i])))
		}
	})
	root, err := r.Root("terms")
	require.NoError(t, err)
	gotKeys, gotVals, err := NewCursor(root, IntValues{}).FlattenValues()
	require.NoError(t, err)
	require.Equal(t, keys, gotKeys)
	for i := range vals {
		require.Equal(t, vals[i], intVal(gotVals[i]), "key %s", keys[i])
	}
}

func TestBytesValuesRoundTrip(t *testing.T) {
	keys := [][]byte{[]byte("one"), []byte("onset"), []byte("two")}
	vals := [][]byte{[]byte("valone"), []byte("valonset"), []byte("x")}

	r := buildGraph(t, "terms", BytesValues{}, func(w *Writer) {
		for i, key := range keys {
			require.NoError(t, w.Insert(key, vals[i]))
		}
	})
	root, err := r.Root("terms")
	require.NoError(t, err)
	gotKeys, gotVals, err := NewCursor(root, BytesValues{}).FlattenValues()
	require.NoError(t, err)
	require.Equal(t, keys, gotKeys)
	for i := range vals {
		require.Equal(t, vals[i], gotVals[i], "key %s", keys[i])
	}
}

func TestSortedIntListValues(t *testing.T) {
	enc := func(vals ...uint64) []byte {
		v, err := EncodeSortedIntList(vals)
		require.NoError(t, err)
		return v
	}
	r := buildGraph(t, "terms", SortedIntListValues{}, func(w *Writer) {
		require.NoError(t, w.Insert([]byte("cap"), enc(2, 9, 40)))
		require.NoError(t, w.Insert([]byte("cat"), enc(2, 9, 41)))
		require.NoError(t, w.Insert([]byte("dog"), enc(7)))
	})
	root, err := r.Root("terms")
	require.NoError(t, err)
	keys, vals, err := NewCursor(root, SortedIntListValues{}).FlattenValues()
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("cap"), []byte("cat"), []byte("dog")}, keys)

	got, err := DecodeSortedIntList(vals[0])
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 9, 40}, got)
	got, err = DecodeSortedIntList(vals[1])
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 9, 41}, got)
	got, err = DecodeSortedIntList(vals[2])
	require.NoError(t, err)
	require.Equal(t, []uint64{7}, got)
}

func TestDuplicateKeyMerge(t *testing.T) {
	r := buildGraph(t, "terms", IntValues{}, func(w *Writer) {
		require.NoError(t, w.Insert([]byte("aa"), intBytes(3)))
		require.NoError(t, w.Insert([]byte("ab"), intBytes(5)))
		require.NoError(t, w.Insert([]byte("ab"), intBytes(4)))
	})
	root, err := r.Root("terms")
	require.NoError(t, err)
	keys, vals, err := NewCursor(root, IntValues{}).FlattenValues()
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("aa"), []byte("ab")}, keys)
	require.Equal(t, uint64(3), intVal(vals[0]))
	require.Equal(t, uint64(9), intVal(vals[1]))
}

func TestSuffixDedup(t *testing.T) {
	// bat/cat/hat share their entire suffix; the graph needs far fewer
	// nodes than the trie's.
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.StartField("terms"))
	require.NoError(t, w.Insert([]byte("bat"), nil))
	require.NoError(t, w.Insert([]byte("cat"), nil))
	require.NoError(t, w.Insert([]byte("hat"), nil))
	require.NoError(t, w.Close())

	// Trie: root + 3*("at" chain) = 7 nodes. Shared suffix: root + one
	// shared "at" chain = 3 nodes (leaf nodes are stop arcs, not nodes).
	require.Equal(t, 3, w.NodeCount())
	require.Equal(t, [][]byte{[]byte("bat"), []byte("cat"), []byte("hat")}, func() [][]byte {
		r, err := NewReader(buf.Bytes())
		require.NoError(t, err)
		return keysOf(t, r, "terms")
	}())
}

func TestOutOfOrderInsert(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.StartField("terms"))
	require.NoError(t, w.Insert([]byte("m"), nil))
	err := w.Insert([]byte("a"), nil)
	require.Error(t, err)
	require.True(t, base.IsOutOfOrderError(err))

	// The writer remains usable for in-order keys.
	require.NoError(t, w.Insert([]byte("z"), nil))
	require.NoError(t, w.Close())
	r, err := NewReader(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("m"), []byte("z")}, keysOf(t, r, "terms"))
}

func TestEmptyAndBadInserts(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.StartField("terms"))
	require.Error(t, w.Insert(nil, nil))
	require.Error(t, w.Insert(bytes.Repeat([]byte("x"), MaxKeyLength+1), nil))
	require.Error(t, w.Insert([]byte("k"), []byte("v"))) // no values policy
}

func TestMultipleFields(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.StartField("body"))
	require.NoError(t, w.Insert([]byte("foo"), nil))
	require.NoError(t, w.FinishField())
	require.NoError(t, w.StartField("title"))
	require.NoError(t, w.Insert([]byte("bar"), nil))
	require.NoError(t, w.FinishField())
	require.NoError(t, w.StartField("empty"))
	require.NoError(t, w.FinishField())
	require.NoError(t, w.Close())

	r, err := NewReader(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, []string{"body", "empty", "title"}, r.Fields())
	require.Equal(t, [][]byte{[]byte("foo")}, keysOf(t, r, "body"))
	require.Equal(t, [][]byte{[]byte("bar")}, keysOf(t, r, "title"))
	require.Empty(t, keysOf(t, r, "empty"))

	_, err = r.Root("missing")
	require.ErrorIs(t, err, base.ErrNotFound)
}

func TestCursorSkipTo(t *testing.T) {
	words := [][]byte{
		[]byte("cat"), []byte("catalog"), []byte("cats"), []byte("dog"),
		[]byte("dot"), []byte("egg"),
	}
	r := buildGraph(t, "terms", nil, func(w *Writer) {
		for _, word := range words {
			require.NoError(t, w.Insert(word, nil))
		}
	})
	root, err := r.Root("terms")
	require.NoError(t, err)
	c := NewCursor(root, nil)

	for _, tc := range []struct {
		seek string
		want string
		ok   bool
	}{
		{"a", "cat", true},
		{"cat", "cat", true},
		{"cata", "catalog", true},
		{"catz", "dog", true},
		{"dog", "dog", true},
		{"doh", "dot", true},
		{"egg", "egg", true},
		{"eggs", "", false},
		{"zzz", "", false},
	} {
		ok, err := c.SkipTo([]byte(tc.seek))
		require.NoError(t, err)
		require.Equal(t, tc.ok, ok, "seek %q", tc.seek)
		if ok {
			require.Equal(t, tc.want, string(c.Key()), "seek %q", tc.seek)
		}
	}
}

func TestCursorSkipToThenNext(t *testing.T) {
	words := [][]byte{[]byte("ant"), []byte("bee"), []byte("cow"), []byte("doe")}
	r := buildGraph(t, "terms", nil, func(w *Writer) {
		for _, word := range words {
			require.NoError(t, w.Insert(word, nil))
		}
	})
	root, err := r.Root("terms")
	require.NoError(t, err)
	c := NewCursor(root, nil)

	ok, err := c.SkipTo([]byte("bee"))
	require.NoError(t, err)
	require.True(t, ok)

	var got []string
	got = append(got, string(c.Key()))
	for {
		ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(c.Key()))
	}
	require.Equal(t, []string{"bee", "cow", "doe"}, got)
}

func TestCursorFindPathAndClone(t *testing.T) {
	words := [][]byte{[]byte("car"), []byte("card"), []byte("care"), []byte("cart")}
	r := buildGraph(t, "terms", nil, func(w *Writer) {
		for _, word := range words {
			require.NoError(t, w.Insert(word, nil))
		}
	})
	root, err := r.Root("terms")
	require.NoError(t, err)

	c := NewCursor(root, nil)
	ok, err := c.First()
	require.NoError(t, err)
	require.True(t, ok)

	clone := c.Clone()
	ok, err = c.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "card", string(c.Key()))
	// The clone still rests on the original position.
	require.Equal(t, "car", string(clone.Key()))

	c2 := NewCursor(root, nil)
	ok, err = c2.FindPath([]byte("care"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "care", string(c2.Key()))
	require.True(t, c2.Accept())

	c3 := NewCursor(root, nil)
	ok, err = c3.FindPath([]byte("cab"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithinDistance(t *testing.T) {
	r := buildGraph(t, "terms", nil, func(w *Writer) {
		require.NoError(t, w.Insert([]byte("cat"), nil))
		require.NoError(t, w.Insert([]byte("catalog"), nil))
		require.NoError(t, w.Insert([]byte("cats"), nil))
	})
	root, err := r.Root("terms")
	require.NoError(t, err)

	// One substitution away from "cet"; "cats" and "catalog" are further.
	got, err := WithinDistance(root, []byte("cet"), 1, 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("cat")}, got)

	got, err = WithinDistance(root, []byte("cat"), 1, 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("cat"), []byte("cats")}, got)

	got, err = WithinDistance(root, []byte("catalog"), 0, 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("catalog")}, got)

	// Transposition.
	got, err = WithinDistance(root, []byte("cta"), 1, 0)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("cat")}, got)

	// Required exact prefix rules out edits in the first bytes.
	got, err = WithinDistance(root, []byte("bat"), 1, 1)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWithinDistanceAgainstBruteForce(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	set := map[string]bool{}
	for i := 0; i < 120; i++ {
		n := 2 + rng.Intn(5)
		word := make([]byte, n)
		for j := range word {
			word[j] = byte('a' + rng.Intn(3))
		}
		set[string(word)] = true
	}
	var words []string
	for word := range set {
		words = append(words, word)
	}
	sort.Strings(words)

	r := buildGraph(t, "terms", nil, func(w *Writer) {
		for _, word := range words {
			require.NoError(t, w.Insert([]byte(word), nil))
		}
	})
	root, err := r.Root("terms")
	require.NoError(t, err)

	for trial := 0; trial < 20; trial++ {
		n := 2 + rng.Intn(5)
		term := make([]byte, n)
		for j := range term {
			term[j] = byte('a' + rng.Intn(3))
		}
		for k := 0; k <= 2; k++ {
			got, err := WithinDistance(root, term, k, 0)
			require.NoError(t, err)
			var want []string
			for _, word := range words {
				if editDistance(string(term), word) <= k {
					want = append(want, word)
				}
			}
			var gotStr []string
			for _, key := range got {
				gotStr = append(gotStr, string(key))
			}
			require.Equal(t, want, gotStr, "term %q k=%d", term, k)
		}
	}
}

// editDistance computes Damerau-Levenshtein distance (with adjacent
// transpositions) for the brute-force oracle.
func editDistance(a, b string) int {
	la, lb := len(a), len(b)
	d := make([][]int, la+1)
	for i := range d {
		d[i] = make([]int, lb+1)
		d[i][0] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j] = j
	}
	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] && a[i-1] != a[i-2] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+1)
			}
		}
	}
	return d[la][lb]
}

func TestUnionIntersectionViews(t *testing.T) {
	ra := buildGraph(t, "f", nil, func(w *Writer) {
		for _, word := range []string{"alfa", "bravo", "common"} {
			require.NoError(t, w.Insert([]byte(word), nil))
		}
	})
	rb := buildGraph(t, "f", nil, func(w *Writer) {
		for _, word := range []string{"bravo", "common", "delta"} {
			require.NoError(t, w.Insert([]byte(word), nil))
		}
	})
	na, err := ra.Root("f")
	require.NoError(t, err)
	nb, err := rb.Root("f")
	require.NoError(t, err)

	keys, err := FlattenView(UnionNode(View(na), View(nb)))
	require.NoError(t, err)
	require.Equal(t, [][]byte{
		[]byte("alfa"), []byte("bravo"), []byte("common"), []byte("delta"),
	}, keys)

	keys, err = FlattenView(IntersectionNode(View(na), View(nb)))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("bravo"), []byte("common")}, keys)
}

func TestReaderRejectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.StartField("terms"))
	require.NoError(t, w.Insert([]byte("ok"), nil))
	require.NoError(t, w.Close())
	data := buf.Bytes()

	_, err := NewReader(data[:8])
	require.True(t, base.IsCorruptionError(err))

	bad := append([]byte{}, data...)
	copy(bad, "XXXX")
	_, err = NewReader(bad)
	require.True(t, base.IsCorruptionError(err))

	bad = append([]byte{}, data...)
	bad[4] = 99 // version
	_, err = NewReader(bad)
	require.True(t, base.IsCorruptionError(err))

	bad = append([]byte{}, data...)
	bad[len(bad)-1] ^= 0xFF // directory checksum
	_, err = NewReader(bad)
	require.True(t, base.IsCorruptionError(err))
}

func TestFixedSizeNodeBinarySearch(t *testing.T) {
	// 26 one-letter keys produce a root whose arcs all encode to the same
	// size, triggering the fixed-size marker and binary search.
	var words [][]byte
	for ch := byte('a'); ch <= 'z'; ch++ {
		words = append(words, []byte{ch})
	}
	r := buildGraph(t, "terms", nil, func(w *Writer) {
		for _, word := range words {
			require.NoError(t, w.Insert(word, nil))
		}
	})
	root, err := r.Root("terms")
	require.NoError(t, err)
	require.Equal(t, fixedSizeMarker, r.data[root.addr])

	for _, word := range words {
		a, _, ok, err := r.findArc(root.addr, word[0])
		require.NoError(t, err)
		require.True(t, ok, "label %q", word)
		require.True(t, a.Accept)
	}
	_, _, ok, err := r.findArc(root.addr, '0')
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, words, keysOf(t, r, "terms"))
}

func TestValuesPoliciesAlgebra(t *testing.T) {
	for _, tc := range []struct {
		name   string
		values Values
		a, b   []byte
	}{
		{"int", IntValues{}, intBytes(17), intBytes(5)},
		{"bytes", BytesValues{}, []byte("abcde"), []byte("abxyz")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			common := tc.values.Common(tc.a, tc.b)
			// Subtracting the common part then re-adding it recovers the
			// original value.
			require.Equal(t, tc.a, tc.values.Add(common, tc.values.Subtract(tc.a, common)),
				"a=%x b=%x common=%x", tc.a, tc.b, common)
			require.Equal(t, tc.b, tc.values.Add(common, tc.values.Subtract(tc.b, common)))
		})
	}
}

func TestWriterStateErrors(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.Error(t, w.Insert([]byte("k"), nil)) // no field started
	require.NoError(t, w.StartField("a"))
	require.Error(t, w.StartField("b")) // previous still open
	require.NoError(t, w.FinishField())
	require.Error(t, w.StartField("a")) // already written
	require.NoError(t, w.Close())
	require.Error(t, w.Close())
	require.Error(t, w.Insert([]byte("k"), nil))
}

func TestLargeGraphRandomAccess(t *testing.T) {
	var words [][]byte
	for i := 0; i < 2000; i++ {
		words = append(words, []byte(fmt.Sprintf("term%05d", i*3)))
	}
	r := buildGraph(t, "terms", IntValues{}, func(w *Writer) {
		for i, word := range words {
			require.NoError(t, w.Insert(word, intBytes(uint64(i+1))))
		}
	})
	root, err := r.Root("terms")
	require.NoError(t, err)
	c := NewCursor(root, IntValues{})

	for _, i := range []int{0, 1, 17, 999, 1998, 1999} {
		ok, err := c.SkipTo(words[i])
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, string(words[i]), string(c.Key()))
		require.Equal(t, uint64(i+1), intVal(c.Value()))
	}
}

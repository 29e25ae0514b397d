// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blueline

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/vfs"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestRegionRoundTrip(t *testing.T) {
	pairs := []Pair{
		{Key: []byte("term/alpha"), Value: []byte("1")},
		{Key: []byte("term/beta"), Value: []byte("22")},
		{Key: []byte("term/gamma"), Value: nil},
		{Key: []byte("term/zeta"), Value: []byte("4444")},
	}
	buf, ref, err := WriteRegion(nil, pairs)
	require.NoError(t, err)
	require.Equal(t, uint64(4), ref.Count)
	require.Equal(t, []byte("term/alpha"), ref.MinKey)
	require.Equal(t, []byte("term/zeta"), ref.MaxKey)

	r, err := DecodeRegion(buf)
	require.NoError(t, err)
	require.Equal(t, 4, r.Count())
	for i, p := range pairs {
		require.Equal(t, p.Key, r.Key(i))
		require.Equal(t, len(p.Value), len(r.Value(i)))
	}

	v, err := r.Get([]byte("term/beta"))
	require.NoError(t, err)
	require.Equal(t, []byte("22"), v)

	_, err = r.Get([]byte("term/delta"))
	require.True(t, errors.Is(err, base.ErrNotFound))
	_, err = r.Get([]byte("aardvark"))
	require.True(t, errors.Is(err, base.ErrNotFound))
	_, err = r.Get([]byte("zzz"))
	require.True(t, errors.Is(err, base.ErrNotFound))
	_, err = r.Get([]byte("term/"))
	require.True(t, errors.Is(err, base.ErrNotFound))
}

func TestRegionFixedLengths(t *testing.T) {
	// Equal key and value lengths omit the position array entirely.
	var pairs []Pair
	for i := 0; i < 10; i++ {
		pairs = append(pairs, Pair{
			Key:   []byte(fmt.Sprintf("k%03d", i)),
			Value: []byte(fmt.Sprintf("v%03d", i)),
		})
	}
	buf, _, err := WriteRegion(nil, pairs)
	require.NoError(t, err)
	r, err := DecodeRegion(buf)
	require.NoError(t, err)
	require.Nil(t, r.posArr)
	require.Equal(t, []byte("k00"), r.prefix)
	require.Equal(t, 1, r.fixedKL)
	require.Equal(t, 4, r.fixedVL)
	for _, p := range pairs {
		v, err := r.Get(p.Key)
		require.NoError(t, err)
		require.Equal(t, p.Value, v)
	}
}

func TestRegionSingleKey(t *testing.T) {
	buf, _, err := WriteRegion(nil, []Pair{{Key: []byte("only"), Value: []byte("x")}})
	require.NoError(t, err)
	r, err := DecodeRegion(buf)
	require.NoError(t, err)
	require.Equal(t, []byte("only"), r.Key(0))
	v, err := r.Get([]byte("only"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), v)
	_, err = r.Get([]byte("onl"))
	require.True(t, errors.Is(err, base.ErrNotFound))
	_, err = r.Get([]byte("onlyx"))
	require.True(t, errors.Is(err, base.ErrNotFound))
}

func TestRegionOutOfOrder(t *testing.T) {
	_, _, err := WriteRegion(nil, []Pair{
		{Key: []byte("b")}, {Key: []byte("a")},
	})
	require.True(t, base.IsOutOfOrderError(err))
	_, _, err = WriteRegion(nil, []Pair{
		{Key: []byte("a")}, {Key: []byte("a")},
	})
	require.True(t, base.IsOutOfOrderError(err))
}

func TestRegionCorruption(t *testing.T) {
	buf, _, err := WriteRegion(nil, []Pair{
		{Key: []byte("aa"), Value: []byte("1")},
		{Key: []byte("ab"), Value: []byte("2")},
	})
	require.NoError(t, err)

	for _, i := range []int{0, 3, len(buf) / 2, len(buf) - 1} {
		mutated := append([]byte(nil), buf...)
		mutated[i] ^= 0x40
		_, err := DecodeRegion(mutated)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err), "flip at %d: %v", i, err)
	}
	_, err = DecodeRegion(buf[:len(buf)-3])
	require.True(t, base.IsCorruptionError(err))
}

func TestRegionPreread(t *testing.T) {
	var pairs []Pair
	for i := 0; i < 50; i++ {
		pairs = append(pairs, Pair{
			Key:   []byte(fmt.Sprintf("key%04d", i)),
			Value: []byte{byte(i)},
		})
	}
	buf, _, err := WriteRegion(nil, pairs)
	require.NoError(t, err)
	r, err := DecodeRegion(buf)
	require.NoError(t, err)
	r.Preread()
	for _, p := range pairs {
		v, err := r.Get(p.Key)
		require.NoError(t, err)
		require.Equal(t, p.Value, v)
	}
	require.False(t, r.Has([]byte("key9999")))
}

func TestTOCRoundTrip(t *testing.T) {
	refs := []Ref{
		{Offset: 0, Length: 100, Count: 4, MinKey: []byte("a"), MaxKey: []byte("f")},
		{Offset: 100, Length: 80, Count: 3, MinKey: []byte("g"), MaxKey: []byte("m")},
	}
	data := encodeTOC(7, refs)
	gen, got, err := decodeTOC(data)
	require.NoError(t, err)
	require.Equal(t, uint64(7), gen)
	require.Equal(t, refs, got)

	data[5] ^= 0x01
	_, _, err = decodeTOC(data)
	require.True(t, base.IsCorruptionError(err))
}

func TestTOCRejectsOverlap(t *testing.T) {
	data := encodeTOC(1, []Ref{
		{MinKey: []byte("a"), MaxKey: []byte("m")},
		{MinKey: []byte("f"), MaxKey: []byte("z")},
	})
	_, _, err := decodeTOC(data)
	require.True(t, base.IsCorruptionError(err))
}

func openTestStore(t *testing.T, fs vfs.FS, opts StoreOptions) *Store {
	t.Helper()
	s, err := Open(fs, "", "terms", opts)
	require.NoError(t, err)
	return s
}

func TestStoreEmptyOpen(t *testing.T) {
	s := openTestStore(t, vfs.NewMem(), StoreOptions{})
	require.Equal(t, 0, s.Len())
	_, err := s.Get([]byte("missing"))
	require.True(t, errors.Is(err, base.ErrNotFound))
	c := s.NewCursor()
	ok, err := c.First()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.Close())
}

func TestWriterCommitAndReopen(t *testing.T) {
	fs := vfs.NewMem()
	s := openTestStore(t, fs, StoreOptions{RegionSize: 4})

	w, err := s.NewWriter(false)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Set(
			[]byte(fmt.Sprintf("doc%02d", i)),
			[]byte(fmt.Sprintf("value-%d", i))))
	}
	require.NoError(t, w.Commit())
	require.Equal(t, uint64(1), s.Gen())
	require.Equal(t, 10, s.Len())

	// The committing handle and a fresh handle agree.
	for _, st := range []*Store{s, openTestStore(t, fs, StoreOptions{RegionSize: 4})} {
		for i := 0; i < 10; i++ {
			v, err := st.Get([]byte(fmt.Sprintf("doc%02d", i)))
			require.NoError(t, err)
			require.Equal(t, []byte(fmt.Sprintf("value-%d", i)), v)
		}
		_, err = st.Get([]byte("doc99"))
		require.True(t, errors.Is(err, base.ErrNotFound))
	}
}

func TestWriterBufferVisibility(t *testing.T) {
	fs := vfs.NewMem()
	s := openTestStore(t, fs, StoreOptions{})
	w, err := s.NewWriter(false)
	require.NoError(t, err)
	require.NoError(t, w.Set([]byte("pending"), []byte("1")))

	// Visible through the writer, invisible to readers until commit.
	v, err := w.Get([]byte("pending"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	_, err = s.Get([]byte("pending"))
	require.True(t, errors.Is(err, base.ErrNotFound))

	require.NoError(t, w.Commit())
	v, err = s.Get([]byte("pending"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestWriterDeleteAndOverwrite(t *testing.T) {
	fs := vfs.NewMem()
	s := openTestStore(t, fs, StoreOptions{RegionSize: 4})
	w, err := s.NewWriter(false)
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, w.Set([]byte(k), []byte("old")))
	}
	require.NoError(t, w.Commit())

	w, err = s.NewWriter(false)
	require.NoError(t, err)
	require.NoError(t, w.Delete([]byte("b")))
	require.NoError(t, w.Set([]byte("d"), []byte("new")))
	require.NoError(t, w.Delete([]byte("nonexistent")))

	ok, err := w.Has([]byte("b"))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, w.Commit())

	require.Equal(t, 4, s.Len())
	_, err = s.Get([]byte("b"))
	require.True(t, errors.Is(err, base.ErrNotFound))
	v, err := s.Get([]byte("d"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), v)
	v, err = s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("old"), v)
}

func TestWriterLockConflict(t *testing.T) {
	s := openTestStore(t, vfs.NewMem(), StoreOptions{})
	w, err := s.NewWriter(false)
	require.NoError(t, err)
	_, err = s.NewWriter(false)
	require.True(t, errors.Is(err, base.ErrLocked))
	require.NoError(t, w.Cancel())
	w, err = s.NewWriter(false)
	require.NoError(t, err)
	require.NoError(t, w.Cancel())
}

func TestWriterCancel(t *testing.T) {
	fs := vfs.NewMem()
	s := openTestStore(t, fs, StoreOptions{})
	w, err := s.NewWriter(false)
	require.NoError(t, err)
	require.NoError(t, w.Set([]byte("keep"), []byte("1")))
	require.NoError(t, w.Commit())

	w, err = s.NewWriter(false)
	require.NoError(t, err)
	require.NoError(t, w.Set([]byte("discard"), []byte("2")))
	require.NoError(t, w.Delete([]byte("keep")))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Cancel())

	require.Equal(t, 1, s.Len())
	v, err := s.Get([]byte("keep"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	_, err = s.Get([]byte("discard"))
	require.True(t, errors.Is(err, base.ErrNotFound))

	// The writer is unusable after cancel.
	require.Error(t, w.Set([]byte("x"), nil))
}

func TestWriterFlushKeepsCleanRegions(t *testing.T) {
	fs := vfs.NewMem()
	s := openTestStore(t, fs, StoreOptions{RegionSize: 4})
	w, err := s.NewWriter(false)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, w.Set([]byte(fmt.Sprintf("k%d", i)), []byte{byte(i)}))
	}
	require.NoError(t, w.Commit())
	require.Len(t, s.mu.refs, 2)
	first := s.mu.refs[0]

	// A write above every existing key rewrites nothing.
	w, err = s.NewWriter(false)
	require.NoError(t, err)
	require.NoError(t, w.Set([]byte("zz"), []byte("tail")))
	require.NoError(t, w.Commit())
	require.Len(t, s.mu.refs, 3)
	require.Equal(t, first, s.mu.refs[0])
	require.Equal(t, 9, s.Len())
}

func TestStoreCursor(t *testing.T) {
	fs := vfs.NewMem()
	s := openTestStore(t, fs, StoreOptions{RegionSize: 3})
	w, err := s.NewWriter(false)
	require.NoError(t, err)
	keys := []string{"ant", "bee", "cow", "dog", "eel", "fox", "gnu"}
	for _, k := range keys {
		require.NoError(t, w.Set([]byte(k), []byte(k)))
	}
	require.NoError(t, w.Commit())

	c := s.NewCursor()
	var got []string
	for ok, err := c.First(); ok; ok, err = c.Next() {
		require.NoError(t, err)
		got = append(got, string(c.Key()))
	}
	require.Equal(t, keys, got)

	// Seek lands on equal or following keys, crossing region boundaries.
	for _, tc := range []struct {
		seek, want string
	}{
		{"bee", "bee"},
		{"boa", "cow"},
		{"dog", "dog"},
		{"dzz", "eel"},
		{"a", "ant"},
	} {
		ok, err := c.Seek([]byte(tc.seek))
		require.NoError(t, err)
		require.True(t, ok, "seek %q", tc.seek)
		require.Equal(t, tc.want, string(c.Key()))
	}
	ok, err := c.Seek([]byte("zzz"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSuffixCursor(t *testing.T) {
	fs := vfs.NewMem()
	s := openTestStore(t, fs, StoreOptions{})
	w, err := s.NewWriter(false)
	require.NoError(t, err)
	for _, k := range []string{"app/1", "app/2", "app/3", "bee/1", "zoo/9"} {
		require.NoError(t, w.Set([]byte(k), []byte(k)))
	}
	require.NoError(t, w.Commit())

	c := NewSuffixCursor(s.NewCursor(), []byte("app/"))
	var got []string
	for ok, err := c.First(); ok; ok, err = c.Next() {
		require.NoError(t, err)
		got = append(got, string(c.Key()))
	}
	require.Equal(t, []string{"1", "2", "3"}, got)

	ok, err := c.Seek([]byte("2"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), c.Key())
	require.Equal(t, []byte("app/2"), c.Value())

	c = NewSuffixCursor(s.NewCursor(), []byte("cat/"))
	ok, err = c.First()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriterCursorOverlay(t *testing.T) {
	fs := vfs.NewMem()
	s := openTestStore(t, fs, StoreOptions{})
	w, err := s.NewWriter(false)
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, w.Set([]byte(k), []byte("disk")))
	}
	require.NoError(t, w.Commit())

	w, err = s.NewWriter(false)
	require.NoError(t, err)
	require.NoError(t, w.Delete([]byte("b")))
	require.NoError(t, w.Set([]byte("c"), []byte("buffered")))
	require.NoError(t, w.Set([]byte("d"), []byte("buffered")))

	c := w.NewCursor()
	var keys, values []string
	for ok, err := c.First(); ok; ok, err = c.Next() {
		require.NoError(t, err)
		keys = append(keys, string(c.Key()))
		values = append(values, string(c.Value()))
	}
	require.Equal(t, []string{"a", "c", "d"}, keys)
	require.Equal(t, []string{"disk", "buffered", "buffered"}, values)

	ok, err := c.Seek([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("c"), c.Key())
	require.NoError(t, w.Cancel())
}

func TestStoreRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1548))
	fs := vfs.NewMem()
	s := openTestStore(t, fs, StoreOptions{RegionSize: 8, CacheSize: 2})

	model := map[string]string{}
	for round := 0; round < 5; round++ {
		w, err := s.NewWriter(false)
		require.NoError(t, err)
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("key%03d", rng.Intn(200))
			if rng.Intn(4) == 0 {
				require.NoError(t, w.Delete([]byte(key)))
				delete(model, key)
			} else {
				val := fmt.Sprintf("r%d-%d", round, i)
				require.NoError(t, w.Set([]byte(key), []byte(val)))
				model[key] = val
			}
		}
		require.NoError(t, w.Commit())

		require.Equal(t, len(model), s.Len())
		for k, want := range model {
			v, err := s.Get([]byte(k))
			require.NoError(t, err, "key %s", k)
			require.Equal(t, want, string(v))
		}
	}

	// A fresh handle decodes the committed state identically.
	s2 := openTestStore(t, fs, StoreOptions{Preread: true})
	require.Equal(t, len(model), s2.Len())
	for k, want := range model {
		v, err := s2.Get([]byte(k))
		require.NoError(t, err)
		require.Equal(t, want, string(v))
	}
	require.NoError(t, s2.Close())
	require.NoError(t, s.Close())
}

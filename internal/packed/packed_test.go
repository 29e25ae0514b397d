// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package packed

import (
	"testing"
	"time"

	"github.com/quillindex/quill/internal/base"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestMinWidth(t *testing.T) {
	require.Equal(t, Width8, MinWidth(0))
	require.Equal(t, Width8, MinWidth(255))
	require.Equal(t, Width16, MinWidth(256))
	require.Equal(t, Width16, MinWidth(65535))
	require.Equal(t, Width32, MinWidth(65536))
	require.Equal(t, Width32, MinWidth(1<<32-1))
	require.Equal(t, Width64, MinWidth(1<<32))
}

func TestUintsRoundTrip(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	for _, w := range []Width{Width8, Width16, Width32, Width64} {
		n := 1 + rng.Intn(200)
		vals := make([]uint64, n)
		bound := uint64(1)<<(8*uint(w.Bytes())-1) - 1
		for i := range vals {
			vals[i] = rng.Uint64() & bound
		}
		buf := AppendUints(nil, w, vals)
		require.Len(t, buf, n*w.Bytes())

		got, rest, err := ReadUints(buf, w, n)
		require.NoError(t, err)
		require.Empty(t, rest)
		require.Equal(t, vals, got)

		for i, v := range vals {
			require.Equal(t, v, GetUint(buf, w, i))
		}
	}
}

func TestReadUintsTruncated(t *testing.T) {
	buf := AppendUints(nil, Width32, []uint64{1, 2, 3})
	_, _, err := ReadUints(buf[:10], Width32, 3)
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
}

func TestDeltaRoundTrip(t *testing.T) {
	vals := []uint64{3, 7, 8, 100, 101, 4000}
	deltas, err := DeltaEncode(vals)
	require.NoError(t, err)
	require.Equal(t, []uint64{4, 1, 92, 1, 3899}, deltas)
	require.Equal(t, vals, DeltaDecode(vals[0], deltas))
}

func TestDeltaEncodeOutOfOrder(t *testing.T) {
	_, err := DeltaEncode([]uint64{1, 5, 5})
	require.Error(t, err)
	require.True(t, base.IsOutOfOrderError(err))

	_, err = DeltaEncode([]uint64{9, 2})
	require.Error(t, err)
	require.True(t, base.IsOutOfOrderError(err))
}

func TestUvarint(t *testing.T) {
	buf := AppendUvarint(nil, 300)
	v, rest, err := Uvarint(buf)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, uint64(300), v)

	_, _, err = Uvarint(buf[:1])
	require.True(t, base.IsCorruptionError(err))
}

func TestFloatRoundTrip(t *testing.T) {
	buf := AppendFloat32(nil, 1.5)
	buf = AppendFloat64(buf, -2.25)
	f32, rest, err := ReadFloat32(buf)
	require.NoError(t, err)
	require.Equal(t, float32(1.5), f32)
	f64, rest, err := ReadFloat64(rest)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, -2.25, f64)
}

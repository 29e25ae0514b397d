// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package codec

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/matching"
	"github.com/quillindex/quill/vfs"
	"github.com/stretchr/testify/require"
)

const testFeatures = base.FeatureWeights | base.FeaturePositions

// buildTestSegment writes a three-document segment with two indexed
// fields, stored fields, and one term vector.
func buildTestSegment(t *testing.T, fs vfs.FS, id base.SegmentID) {
	t.Helper()

	dw, err := NewPerDocumentWriter(fs, "", id)
	require.NoError(t, err)

	require.NoError(t, dw.StartDoc(0))
	require.NoError(t, dw.AddField("body", 3, []byte("alpha beta beta"), []VectorEntry{
		{Term: []byte("alpha"), Weight: 1},
		{Term: []byte("beta"), Weight: 2},
	}))
	require.NoError(t, dw.AddField("title", 2, []byte("Doc One"), nil))
	require.NoError(t, dw.FinishDoc())

	require.NoError(t, dw.StartDoc(1))
	require.NoError(t, dw.AddField("body", 2, nil, nil))
	require.NoError(t, dw.FinishDoc())

	require.NoError(t, dw.StartDoc(2))
	require.NoError(t, dw.AddField("body", 5, []byte("beta alpha and others"), nil))
	require.NoError(t, dw.AddField("title", 2, []byte("Doc Three"), nil))
	require.NoError(t, dw.FinishDoc())

	require.Equal(t, 3, dw.DocCount())
	require.NoError(t, dw.Close())

	fw, err := NewFieldWriter(fs, "", id, testFeatures, 2, 1)
	require.NoError(t, err)

	post := func(doc base.DocID, weight float32, positions ...int) base.Posting {
		return base.Posting{DocID: doc, Weight: weight, Length: 3, Positions: positions}
	}

	require.NoError(t, fw.StartField("body"))
	require.NoError(t, fw.StartTerm([]byte("alpha")))
	require.NoError(t, fw.AddPosting(post(0, 1, 0)))
	require.NoError(t, fw.AddPosting(post(2, 1, 1)))
	_, err = fw.FinishTerm()
	require.NoError(t, err)
	require.NoError(t, fw.StartTerm([]byte("beta")))
	require.NoError(t, fw.AddPosting(post(0, 2, 1, 2)))
	require.NoError(t, fw.AddPosting(post(1, 1, 0)))
	require.NoError(t, fw.AddPosting(post(2, 1, 0)))
	_, err = fw.FinishTerm()
	require.NoError(t, err)
	require.NoError(t, fw.StartTerm([]byte("gamma")))
	require.NoError(t, fw.AddPosting(post(1, 1, 1)))
	_, err = fw.FinishTerm()
	require.NoError(t, err)
	require.NoError(t, fw.FinishField())

	require.NoError(t, fw.StartField("title"))
	require.NoError(t, fw.StartTerm([]byte("one")))
	require.NoError(t, fw.AddPosting(post(0, 1, 1)))
	_, err = fw.FinishTerm()
	require.NoError(t, err)
	require.NoError(t, fw.StartTerm([]byte("three")))
	require.NoError(t, fw.AddPosting(post(2, 1, 1)))
	_, err = fw.FinishTerm()
	require.NoError(t, err)
	require.NoError(t, fw.FinishField())

	require.Equal(t, 5, fw.TermCount())
	require.NoError(t, fw.Close())
}

func TestSegmentRoundTrip(t *testing.T) {
	fs := vfs.NewMem()
	buildTestSegment(t, fs, 7)

	seg, err := OpenSegment(fs, "", 7, testFeatures)
	require.NoError(t, err)
	defer seg.Close()

	require.Equal(t, base.SegmentID(7), seg.ID())
	require.Equal(t, 3, seg.DocCountAll())
	require.Equal(t, 3, seg.DocCount())
	require.False(t, seg.IsDeleted(1))

	tr := seg.Terms()
	require.Equal(t, []string{"body", "title"}, tr.Fields())

	ti, err := tr.TermInfo("body", []byte("beta"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), ti.DocFreq)
	require.Equal(t, float32(2), ti.MaxWeight)
	require.Equal(t, base.DocID(0), ti.MinDocID)
	require.Equal(t, base.DocID(2), ti.MaxDocID)
	require.False(t, ti.IsInline())

	// gamma has a single posting and stays inline in the dictionary.
	ti, err = tr.TermInfo("body", []byte("gamma"))
	require.NoError(t, err)
	require.True(t, ti.IsInline())
	require.Equal(t, uint64(1), ti.DocFreq)

	_, err = tr.TermInfo("body", []byte("delta"))
	require.True(t, errors.Is(err, base.ErrNotFound))
	_, err = tr.TermInfo("nope", []byte("beta"))
	require.True(t, errors.Is(err, base.ErrNotFound))

	m, err := tr.Matcher("body", []byte("beta"))
	require.NoError(t, err)
	ids, err := matching.AllIDs(m)
	require.NoError(t, err)
	require.Equal(t, []base.DocID{0, 1, 2}, ids)

	m, err = tr.Matcher("body", []byte("delta"))
	require.NoError(t, err)
	require.Equal(t, matching.Null, m)

	docs := seg.Docs()
	require.Equal(t, 3, docs.FieldLength(0, "body"))
	require.Equal(t, 2, docs.FieldLength(1, "body"))
	require.Equal(t, 5, docs.FieldLength(2, "body"))
	require.Equal(t, 0, docs.FieldLength(1, "title"))
	require.Equal(t, 0, docs.FieldLength(0, "unknown"))
	require.Equal(t, uint64(10), docs.TotalFieldLength("body"))
	require.Equal(t, uint64(4), docs.TotalFieldLength("title"))
	require.Equal(t, []string{"body", "title"}, docs.LengthFields())

	stored, err := docs.StoredFields(0)
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{
		"body":  []byte("alpha beta beta"),
		"title": []byte("Doc One"),
	}, stored)
	stored, err = docs.StoredFields(1)
	require.NoError(t, err)
	require.Nil(t, stored)

	vec, err := docs.Vector(0, "body")
	require.NoError(t, err)
	require.Equal(t, []VectorEntry{
		{Term: []byte("alpha"), Weight: 1},
		{Term: []byte("beta"), Weight: 2},
	}, vec)
	vec, err = docs.Vector(1, "body")
	require.NoError(t, err)
	require.Nil(t, vec)
}

func TestTermsFrom(t *testing.T) {
	fs := vfs.NewMem()
	buildTestSegment(t, fs, 1)

	tr, err := OpenTermsReader(fs, "", 1, testFeatures)
	require.NoError(t, err)
	defer tr.Close()

	tc, err := tr.TermsFrom("body", []byte("b"))
	require.NoError(t, err)
	var terms []string
	for tc.Valid() {
		terms = append(terms, string(tc.Term()))
		_, err = tc.Next()
		require.NoError(t, err)
	}
	require.Equal(t, []string{"beta", "gamma"}, terms)

	tc, err = tr.TermsFrom("body", nil)
	require.NoError(t, err)
	require.True(t, tc.Valid())
	require.Equal(t, []byte("alpha"), tc.Term())
	ti, err := tc.TermInfo()
	require.NoError(t, err)
	require.Equal(t, uint64(2), ti.DocFreq)

	tc, err = tr.TermsFrom("body", []byte("zzz"))
	require.NoError(t, err)
	require.False(t, tc.Valid())

	tc, err = tr.TermsFrom("nope", nil)
	require.NoError(t, err)
	require.False(t, tc.Valid())
}

func TestFieldWriterStateMachine(t *testing.T) {
	fs := vfs.NewMem()
	fw, err := NewFieldWriter(fs, "", 1, base.FeatureWeights, 8, 0)
	require.NoError(t, err)

	require.Error(t, fw.StartTerm([]byte("x")))
	require.Error(t, fw.FinishField())

	require.NoError(t, fw.StartField("body"))
	require.Error(t, fw.StartField("title"))

	require.NoError(t, fw.StartTerm([]byte("beta")))
	require.NoError(t, fw.AddPosting(base.Posting{DocID: 4, Weight: 1}))
	err = fw.AddPosting(base.Posting{DocID: 4, Weight: 1})
	require.True(t, base.IsOutOfOrderError(err))
	_, err = fw.FinishTerm()
	require.NoError(t, err)

	// Terms must ascend within the field.
	err = fw.StartTerm([]byte("alpha"))
	require.True(t, base.IsOutOfOrderError(err))
	err = fw.StartTerm([]byte("beta"))
	require.True(t, base.IsOutOfOrderError(err))

	require.NoError(t, fw.FinishField())

	// Fields must ascend too.
	err = fw.StartField("aaa")
	require.True(t, base.IsOutOfOrderError(err))

	require.NoError(t, fw.Close())
	require.Error(t, fw.Close())
}

func TestPerDocumentWriterOrder(t *testing.T) {
	fs := vfs.NewMem()
	dw, err := NewPerDocumentWriter(fs, "", 1)
	require.NoError(t, err)

	err = dw.StartDoc(1)
	require.True(t, base.IsOutOfOrderError(err))

	require.NoError(t, dw.StartDoc(0))
	require.Error(t, dw.StartDoc(1))
	require.NoError(t, dw.AddField("body", 1, nil, nil))
	err = dw.AddField("body", 1, nil, nil)
	require.True(t, base.IsOutOfOrderError(err))
	err = dw.AddField("aaa", 1, nil, nil)
	require.True(t, base.IsOutOfOrderError(err))
	require.Error(t, dw.Close())
	require.NoError(t, dw.FinishDoc())
	require.Error(t, dw.FinishDoc())

	require.NoError(t, dw.Close())
}

func TestDeletions(t *testing.T) {
	fs := vfs.NewMem()
	buildTestSegment(t, fs, 3)

	bm, err := ReadDeletions(fs, "", 3)
	require.NoError(t, err)
	require.Nil(t, bm)

	bm = roaring.New()
	bm.Add(1)
	require.NoError(t, WriteDeletions(fs, "", 3, bm))

	seg, err := OpenSegment(fs, "", 3, testFeatures)
	require.NoError(t, err)
	require.Equal(t, 3, seg.DocCountAll())
	require.Equal(t, 2, seg.DocCount())
	require.True(t, seg.IsDeleted(1))
	require.False(t, seg.IsDeleted(0))
	require.Equal(t, uint64(1), seg.DeletedDocs().GetCardinality())
	require.NoError(t, seg.Close())

	// An empty bitmap removes the file again.
	require.NoError(t, WriteDeletions(fs, "", 3, roaring.New()))
	bm, err = ReadDeletions(fs, "", 3)
	require.NoError(t, err)
	require.Nil(t, bm)
}

func TestFilenames(t *testing.T) {
	fs := vfs.NewMem()
	require.Equal(t, "000042.trm", MakeFilename(FileTypeTerms, 42))
	require.Equal(t, "000007.del", MakeFilename(FileTypeDeletions, 7))

	ft, id, ok := ParseFilename(fs, "000042.pst")
	require.True(t, ok)
	require.Equal(t, FileTypePostings, ft)
	require.Equal(t, base.SegmentID(42), id)

	_, _, ok = ParseFilename(fs, "TOC.5")
	require.False(t, ok)
	_, _, ok = ParseFilename(fs, "000042.xyz")
	require.False(t, ok)
	_, _, ok = ParseFilename(fs, "noext")
	require.False(t, ok)
}

func TestRemoveSegment(t *testing.T) {
	fs := vfs.NewMem()
	buildTestSegment(t, fs, 9)

	names, err := fs.List("")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	require.NoError(t, RemoveSegment(fs, "", 9))
	names, err = fs.List("")
	require.NoError(t, err)
	for _, name := range names {
		_, _, ok := ParseFilename(fs, name)
		require.False(t, ok, "segment file %s survived removal", name)
	}

	// Removing an absent segment is not an error.
	require.NoError(t, RemoveSegment(fs, "", 9))
}

func TestColumnsRoundTrip(t *testing.T) {
	cols := map[string]*column{
		"body":  buildColumn([]uint64{9, 300, 70001}, 3),
		"title": buildColumn([]uint64{2, 2, 2}, 3),
		"tags":  buildColumn([]uint64{4}, 3),
	}
	require.Equal(t, byte(0xFE), cols["title"].code)

	data := encodeColumns(3, cols)
	docCount, got, err := decodeColumns(data)
	require.NoError(t, err)
	require.Equal(t, 3, docCount)

	require.Equal(t, uint64(9), got["body"].length(0))
	require.Equal(t, uint64(300), got["body"].length(1))
	require.Equal(t, uint64(70001), got["body"].length(2))
	require.Equal(t, uint64(70310), got["body"].total)
	require.Equal(t, uint64(2), got["title"].length(2))
	require.Equal(t, uint64(4), got["tags"].length(0))
	require.Equal(t, uint64(0), got["tags"].length(1))

	data[8] ^= 1
	_, _, err = decodeColumns(data)
	require.True(t, base.IsCorruptionError(err))
}

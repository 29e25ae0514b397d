// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package codec

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors/oserror"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/vfs"
)

// WriteDeletions atomically replaces the segment's deletion bitmap. An
// empty bitmap removes the file instead: a complete segment carries a
// deletion file only when deletions exist.
func WriteDeletions(fs vfs.FS, dir string, id base.SegmentID, bm *roaring.Bitmap) error {
	if bm == nil || bm.IsEmpty() {
		err := fs.Remove(SegmentPath(fs, dir, FileTypeDeletions, id))
		if err != nil && !oserror.IsNotExist(err) {
			return err
		}
		return nil
	}
	data, err := bm.ToBytes()
	if err != nil {
		return err
	}
	return vfs.WriteFileAtomic(fs, dir, MakeFilename(FileTypeDeletions, id), data)
}

// ReadDeletions returns the segment's deletion bitmap, or nil when the
// segment has no deletions.
func ReadDeletions(fs vfs.FS, dir string, id base.SegmentID) (*roaring.Bitmap, error) {
	data, err := vfs.ReadFile(fs, SegmentPath(fs, dir, FileTypeDeletions, id))
	if oserror.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, base.MarkCorruptionError(err)
	}
	return bm, nil
}

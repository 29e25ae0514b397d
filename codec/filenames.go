// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors/oserror"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/vfs"
)

// FileType enumerates the files making up a segment.
type FileType int

const (
	// FileTypeTerms is the term dictionary FST.
	FileTypeTerms FileType = iota
	// FileTypePostings is the posting block file.
	FileTypePostings
	// FileTypeColumns is the per-document field length columns.
	FileTypeColumns
	// FileTypeStored is the stored field table.
	FileTypeStored
	// FileTypeVectors is the optional term vector table.
	FileTypeVectors
	// FileTypeDeletions is the deletion bitmap.
	FileTypeDeletions
)

var fileTypeExts = [...]string{
	FileTypeTerms:     "trm",
	FileTypePostings:  "pst",
	FileTypeColumns:   "col",
	FileTypeStored:    "sto",
	FileTypeVectors:   "vec",
	FileTypeDeletions: "del",
}

// optionalFileTypes are absent from complete segments when unused.
var optionalFileTypes = map[FileType]bool{
	FileTypeVectors:   true,
	FileTypeDeletions: true,
}

func (t FileType) String() string { return fileTypeExts[t] }

// MakeFilename produces the name of a segment file.
func MakeFilename(t FileType, id base.SegmentID) string {
	return fmt.Sprintf("%s.%s", id, fileTypeExts[t])
}

// ParseFilename is the inverse of MakeFilename. It returns ok=false for
// names that are not segment files.
func ParseFilename(fs vfs.FS, filename string) (t FileType, id base.SegmentID, ok bool) {
	filename = fs.PathBase(filename)
	i := strings.IndexByte(filename, '.')
	if i < 0 {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(filename[:i], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	for ft, ext := range fileTypeExts {
		if filename[i+1:] == ext {
			return FileType(ft), base.SegmentID(n), true
		}
	}
	return 0, 0, false
}

// SegmentPath returns the path of one segment file under dir.
func SegmentPath(fs vfs.FS, dir string, t FileType, id base.SegmentID) string {
	return fs.PathJoin(dir, MakeFilename(t, id))
}

// RemoveSegment removes every file of the segment's file set. Files that
// do not exist are skipped.
func RemoveSegment(fs vfs.FS, dir string, id base.SegmentID) error {
	for ft := range fileTypeExts {
		err := fs.Remove(SegmentPath(fs, dir, FileType(ft), id))
		if err != nil && !oserror.IsNotExist(err) {
			return err
		}
	}
	return nil
}

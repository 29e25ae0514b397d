// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package vfs

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/edsrzf/mmap-go"
)

// MapReadOnly returns the complete contents of f as a read-only byte slice.
// When f is backed by an operating-system file the bytes are memory-mapped;
// otherwise the file is read into memory. The returned Closer must be
// closed to release the mapping, and the byte slice must not be used after.
func MapReadOnly(f File) ([]byte, io.Closer, error) {
	if osf, ok := f.(interface{ OSFile() *os.File }); ok {
		m, err := mmap.Map(osf.OSFile(), mmap.RDONLY, 0)
		if err == nil {
			return m, mmapCloser{m}, nil
		}
		// Zero-length files cannot be mapped; fall through to a plain read.
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	data := make([]byte, fi.Size())
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, fi.Size()), data); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return data, nopCloser{}, nil
}

type mmapCloser struct {
	m mmap.MMap
}

func (c mmapCloser) Close() error {
	return c.m.Unmap()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

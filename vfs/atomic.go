// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package vfs

import "github.com/cockroachdb/errors"

// WriteFileAtomic writes data to dir/name with atomic replacement
// semantics: the bytes are written to a temporary file in the same
// directory, synced, and renamed over the destination. A crash at any point
// leaves either the previous file contents or the new ones, never a mix.
func WriteFileAtomic(fs FS, dir, name string, data []byte) error {
	tmpName := fs.PathJoin(dir, "temp-"+name)
	f, err := fs.Create(tmpName)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		fs.Remove(tmpName)
		return errors.WithStack(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fs.Remove(tmpName)
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmpName)
		return errors.WithStack(err)
	}
	if err := fs.Rename(tmpName, fs.PathJoin(dir, name)); err != nil {
		fs.Remove(tmpName)
		return err
	}
	// Sync the directory so the rename itself is durable.
	d, err := fs.OpenDir(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return errors.WithStack(err)
	}
	return d.Close()
}

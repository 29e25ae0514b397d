// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package vfs provides the filesystem abstraction used by quill. The
// Default implementation is backed by the operating system; NewMem returns
// a memory-backed implementation for tests.
package vfs

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
)

// File is a readable, writable sequence of bytes.
//
// Typically it will be an *os.File, but test code may choose to substitute
// memory-backed implementations.
type File interface {
	io.Closer
	io.Reader
	io.ReaderAt
	io.Writer
	Stat() (os.FileInfo, error)
	Sync() error
}

// FS is a namespace for files.
type FS interface {
	// Create creates the named file for writing, truncating it if it
	// already exists.
	Create(name string) (File, error)

	// Open opens the named file for reading.
	Open(name string) (File, error)

	// OpenAppend opens the named file for appending, creating it if
	// necessary.
	OpenAppend(name string) (File, error)

	// OpenDir opens the named directory for syncing.
	OpenDir(name string) (File, error)

	// Remove removes the named file.
	Remove(name string) error

	// Rename renames a file, overwriting the file at newname if one exists,
	// the same as os.Rename.
	Rename(oldname, newname string) error

	// Truncate changes the size of the named file.
	Truncate(name string, size int64) error

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(dir string, perm os.FileMode) error

	// List returns a listing of the given directory. The names returned are
	// relative to dir.
	List(dir string) ([]string, error)

	// Stat returns an os.FileInfo describing the named file.
	Stat(name string) (os.FileInfo, error)

	// Lock acquires an exclusive advisory lock on the named file, creating
	// the file if necessary. Locked files should neither be read from nor
	// written to; they exist only to coordinate ownership across processes.
	//
	// If wait is false and another process (or this one) holds the lock,
	// Lock fails with base.ErrLocked instead of blocking.
	//
	// Close the returned Closer to release the lock.
	Lock(name string, wait bool) (io.Closer, error)

	// PathBase returns the last element of path.
	PathBase(path string) string

	// PathJoin joins any number of path elements into a single path,
	// adding a separator if necessary.
	PathJoin(elem ...string) string
}

// Default is a FS implementation backed by the underlying operating
// system's file system.
var Default FS = defaultFS{}

type defaultFS struct{}

// osFile wraps *os.File so that readers can recover the underlying file
// for memory mapping.
type osFile struct {
	*os.File
}

// OSFile returns the underlying *os.File.
func (f osFile) OSFile() *os.File { return f.File }

func (defaultFS) Create(name string) (File, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return osFile{f}, nil
}

func (defaultFS) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return osFile{f}, nil
}

func (defaultFS) OpenAppend(name string) (File, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return osFile{f}, nil
}

func (defaultFS) OpenDir(name string) (File, error) {
	f, err := os.OpenFile(name, syscall.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return osFile{f}, nil
}

func (defaultFS) Remove(name string) error {
	return errors.WithStack(os.Remove(name))
}

func (defaultFS) Rename(oldname, newname string) error {
	return errors.WithStack(os.Rename(oldname, newname))
}

func (defaultFS) Truncate(name string, size int64) error {
	return errors.WithStack(os.Truncate(name, size))
}

func (defaultFS) MkdirAll(dir string, perm os.FileMode) error {
	return errors.WithStack(os.MkdirAll(dir, perm))
}

func (defaultFS) List(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	return names, errors.WithStack(err)
}

func (defaultFS) Stat(name string) (os.FileInfo, error) {
	fi, err := os.Stat(name)
	return fi, errors.WithStack(err)
}

func (defaultFS) Lock(name string, wait bool) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	how := syscall.LOCK_EX
	if !wait {
		how |= syscall.LOCK_NB
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, errors.Wrapf(base.ErrLocked, "lock %s", name)
		}
		return nil, errors.WithStack(err)
	}
	return lockCloser{f}, nil
}

type lockCloser struct {
	f *os.File
}

func (l lockCloser) Close() error {
	// Closing the descriptor releases the flock.
	return l.f.Close()
}

// ReadFile reads the named file in its entirety.
func ReadFile(fs FS, name string) ([]byte, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	return data, errors.WithStack(err)
}

func (defaultFS) PathBase(path string) string {
	return filepath.Base(path)
}

func (defaultFS) PathJoin(elem ...string) string {
	return filepath.Join(elem...)
}

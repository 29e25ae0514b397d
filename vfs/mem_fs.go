// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package vfs

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quillindex/quill/internal/base"
)

// NewMem returns a new memory-backed FS implementation. All files live in
// one flat namespace keyed by their cleaned slash-joined path; directories
// exist implicitly.
func NewMem() *MemFS {
	return &MemFS{
		files: map[string]*memFileData{},
		locks: map[string]bool{},
	}
}

// MemFS implements FS in memory, for tests.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFileData
	locks map[string]bool
}

var _ FS = (*MemFS)(nil)

type memFileData struct {
	name    string
	mu      sync.Mutex
	data    []byte
	modTime time.Time
}

// Create implements FS.Create.
func (fs *MemFS) Create(name string) (File, error) {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fd := &memFileData{name: name, modTime: time.Now()}
	fs.files[name] = fd
	return &memFile{fd: fd, write: true}, nil
}

// Open implements FS.Open.
func (fs *MemFS) Open(name string) (File, error) {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fd, ok := fs.files[name]
	if !ok {
		return nil, errors.WithStack(&os.PathError{Op: "open", Path: name, Err: os.ErrNotExist})
	}
	return &memFile{fd: fd}, nil
}

// OpenAppend implements FS.OpenAppend.
func (fs *MemFS) OpenAppend(name string) (File, error) {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fd, ok := fs.files[name]
	if !ok {
		fd = &memFileData{name: name, modTime: time.Now()}
		fs.files[name] = fd
	}
	return &memFile{fd: fd, write: true, append: true}, nil
}

// OpenDir implements FS.OpenDir. Directories exist implicitly, so the
// returned file supports only Close and Sync.
func (fs *MemFS) OpenDir(name string) (File, error) {
	return &memFile{fd: &memFileData{name: path.Clean(name)}}, nil
}

// Remove implements FS.Remove.
func (fs *MemFS) Remove(name string) error {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return errors.WithStack(&os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist})
	}
	delete(fs.files, name)
	return nil
}

// Rename implements FS.Rename.
func (fs *MemFS) Rename(oldname, newname string) error {
	oldname, newname = path.Clean(oldname), path.Clean(newname)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fd, ok := fs.files[oldname]
	if !ok {
		return errors.WithStack(&os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist})
	}
	delete(fs.files, oldname)
	fd.name = newname
	fs.files[newname] = fd
	return nil
}

// Truncate implements FS.Truncate.
func (fs *MemFS) Truncate(name string, size int64) error {
	name = path.Clean(name)
	fs.mu.Lock()
	fd, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return errors.WithStack(&os.PathError{Op: "truncate", Path: name, Err: os.ErrNotExist})
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if int64(len(fd.data)) > size {
		fd.data = fd.data[:size]
	}
	return nil
}

// MkdirAll implements FS.MkdirAll. Directories exist implicitly, so this is
// a no-op.
func (fs *MemFS) MkdirAll(dir string, perm os.FileMode) error {
	return nil
}

// List implements FS.List.
func (fs *MemFS) List(dir string) ([]string, error) {
	dir = path.Clean(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	seen := map[string]bool{}
	var names []string
	for name := range fs.files {
		rel, ok := strings.CutPrefix(name, dir+"/")
		if dir == "." {
			rel, ok = name, true
		}
		if !ok {
			continue
		}
		first, _, _ := strings.Cut(rel, "/")
		if !seen[first] {
			seen[first] = true
			names = append(names, first)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stat implements FS.Stat.
func (fs *MemFS) Stat(name string) (os.FileInfo, error) {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fd, ok := fs.files[name]
	if !ok {
		return nil, errors.WithStack(&os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist})
	}
	return memFileInfo{fd: fd, size: int64(len(fd.data))}, nil
}

// Lock implements FS.Lock. MemFS locks are process-local; a held lock
// always fails a second acquisition since there is no other process to
// wait for.
func (fs *MemFS) Lock(name string, wait bool) (io.Closer, error) {
	name = path.Clean(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.locks[name] {
		return nil, errors.Wrapf(base.ErrLocked, "lock %s", name)
	}
	fs.locks[name] = true
	return &memLock{fs: fs, name: name}, nil
}

// PathBase implements FS.PathBase.
func (fs *MemFS) PathBase(p string) string {
	return path.Base(p)
}

// PathJoin implements FS.PathJoin.
func (fs *MemFS) PathJoin(elem ...string) string {
	return path.Join(elem...)
}

type memLock struct {
	fs   *MemFS
	name string
	once sync.Once
}

func (l *memLock) Close() error {
	l.once.Do(func() {
		l.fs.mu.Lock()
		defer l.fs.mu.Unlock()
		delete(l.fs.locks, l.name)
	})
	return nil
}

type memFile struct {
	fd     *memFileData
	offset int64
	write  bool
	append bool
	closed bool
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

func (f *memFile) Read(p []byte) (int, error) {
	f.fd.mu.Lock()
	defer f.fd.mu.Unlock()
	if f.offset >= int64(len(f.fd.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.fd.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.fd.mu.Lock()
	defer f.fd.mu.Unlock()
	if off >= int64(len(f.fd.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.fd.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if !f.write {
		return 0, errors.New("vfs: file not opened for writing")
	}
	f.fd.mu.Lock()
	defer f.fd.mu.Unlock()
	f.fd.data = append(f.fd.data, p...)
	f.fd.modTime = time.Now()
	return len(p), nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	f.fd.mu.Lock()
	defer f.fd.mu.Unlock()
	return memFileInfo{fd: f.fd, size: int64(len(f.fd.data))}, nil
}

func (f *memFile) Sync() error {
	return nil
}

type memFileInfo struct {
	fd   *memFileData
	size int64
}

func (fi memFileInfo) Name() string       { return path.Base(fi.fd.name) }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() os.FileMode  { return 0666 }
func (fi memFileInfo) ModTime() time.Time { return fi.fd.modTime }
func (fi memFileInfo) IsDir() bool        { return false }
func (fi memFileInfo) Sys() interface{}   { return nil }

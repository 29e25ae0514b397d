// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package blueline implements an on-disk sorted key/value store built from
// immutable, prefix-compressed regions. A store is a data file of appended
// regions plus a small table-of-contents sidecar naming the live regions.
// Readers see only committed state; a single locked writer buffers
// mutations in memory and merges them into rewritten regions on flush.
package blueline

import (
	"bytes"
	"container/list"
	"io"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/vfs"
	"github.com/cockroachdb/errors/oserror"
)

// StoreOptions configure an open store.
type StoreOptions struct {
	// CacheSize bounds the number of decoded regions kept in memory.
	// Zero means DefaultCacheSize.
	CacheSize int
	// Preread materializes a key index for every decoded region, trading
	// memory for constant-time lookups.
	Preread bool
	// RegionSize is the writer's target number of pairs per region. Zero
	// means DefaultRegionSize.
	RegionSize int
}

const (
	// DefaultCacheSize is the default region cache capacity.
	DefaultCacheSize = 32
	// DefaultRegionSize is the default target pairs per region.
	DefaultRegionSize = 128
)

func (o StoreOptions) ensureDefaults() StoreOptions {
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.RegionSize <= 0 {
		o.RegionSize = DefaultRegionSize
	}
	return o
}

// Store is a read handle on a blueline store. It is safe for concurrent
// use. A store with no committed table of contents is empty.
type Store struct {
	fs   vfs.FS
	dir  string
	name string
	opts StoreOptions

	mu struct {
		sync.Mutex
		gen   uint64
		refs  []Ref
		data  []byte
		unmap io.Closer
		cache regionCache
	}
}

// Open opens the store called name inside dir. Missing files yield an
// empty store; a writer creates them on first commit.
func Open(fs vfs.FS, dir, name string, opts StoreOptions) (*Store, error) {
	s := &Store{fs: fs, dir: dir, name: name, opts: opts.ensureDefaults()}
	s.mu.cache.init(s.opts.CacheSize)
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) dataPath() string { return s.fs.PathJoin(s.dir, s.name+".data") }
func (s *Store) tocPath() string  { return s.fs.PathJoin(s.dir, s.name+".toc") }
func (s *Store) lockPath() string { return s.fs.PathJoin(s.dir, s.name+".lock") }

// reload discards any mapped state and re-reads the committed table of
// contents. Callers must not hold s.mu.
func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

func (s *Store) reloadLocked() error {
	if s.mu.unmap != nil {
		if err := s.mu.unmap.Close(); err != nil {
			return err
		}
		s.mu.unmap = nil
		s.mu.data = nil
	}
	s.mu.cache.clear()
	s.mu.gen = 0
	s.mu.refs = nil

	toc, err := vfs.ReadFile(s.fs, s.tocPath())
	if err != nil {
		if oserror.IsNotExist(err) {
			return nil
		}
		return err
	}
	gen, refs, err := decodeTOC(toc)
	if err != nil {
		return err
	}
	s.mu.gen, s.mu.refs = gen, refs

	if len(refs) > 0 {
		f, err := s.fs.Open(s.dataPath())
		if err != nil {
			return err
		}
		data, unmap, err := vfs.MapReadOnly(f)
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
		s.mu.data, s.mu.unmap = data, unmap
	}
	return nil
}

// Gen returns the committed generation number.
func (s *Store) Gen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.gen
}

// Len returns the total number of committed pairs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n uint64
	for _, ref := range s.mu.refs {
		n += ref.Count
	}
	return int(n)
}

// refForKey returns the index of the ref whose span may contain key, or
// false when key falls outside every region.
func refForKey(refs []Ref, key []byte) (int, bool) {
	i := sort.Search(len(refs), func(i int) bool {
		return bytes.Compare(refs[i].MaxKey, key) >= 0
	})
	if i >= len(refs) || bytes.Compare(key, refs[i].MinKey) < 0 {
		return i, false
	}
	return i, true
}

// region returns the decoded region for refs[i], consulting the cache.
// Callers must hold s.mu.
func (s *Store) regionLocked(i int) (*Region, error) {
	ref := s.mu.refs[i]
	if r, ok := s.mu.cache.get(ref.Offset); ok {
		return r, nil
	}
	if ref.Offset+ref.Length > uint64(len(s.mu.data)) {
		return nil, base.CorruptionErrorf("blueline: ref beyond data file")
	}
	r, err := DecodeRegion(s.mu.data[ref.Offset : ref.Offset+ref.Length])
	if err != nil {
		return nil, err
	}
	if uint64(r.Count()) != ref.Count {
		return nil, base.CorruptionErrorf("blueline: ref count mismatch")
	}
	if s.opts.Preread {
		r.Preread()
	}
	s.mu.cache.add(ref.Offset, r)
	return r, nil
}

// Get returns the committed value stored under key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := refForKey(s.mu.refs, key)
	if !ok {
		return nil, errors.Wrapf(base.ErrNotFound, "blueline: key %q", key)
	}
	r, err := s.regionLocked(i)
	if err != nil {
		return nil, err
	}
	v, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	// Copy out so the caller is independent of cache eviction and close.
	return append([]byte(nil), v...), nil
}

// Has reports whether key is committed.
func (s *Store) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, base.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Close releases the store's file mapping. Cursors and regions obtained
// from the store are invalid afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.cache.clear()
	s.mu.refs = nil
	if s.mu.unmap != nil {
		err := s.mu.unmap.Close()
		s.mu.unmap = nil
		s.mu.data = nil
		return err
	}
	return nil
}

// regionCache is a small LRU over decoded regions keyed by file offset.
type regionCache struct {
	capacity int
	order    *list.List
	entries  swiss.Map[uint64, *list.Element]
}

type cacheEntry struct {
	offset uint64
	region *Region
}

func (c *regionCache) init(capacity int) {
	c.capacity = capacity
	c.order = list.New()
	c.entries.Init(capacity)
}

func (c *regionCache) get(offset uint64) (*Region, bool) {
	e, ok := c.entries.Get(offset)
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e)
	return e.Value.(*cacheEntry).region, true
}

func (c *regionCache) add(offset uint64, r *Region) {
	if e, ok := c.entries.Get(offset); ok {
		c.order.MoveToFront(e)
		e.Value.(*cacheEntry).region = r
		return
	}
	c.entries.Put(offset, c.order.PushFront(&cacheEntry{offset: offset, region: r}))
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.entries.Delete(oldest.Value.(*cacheEntry).offset)
		c.order.Remove(oldest)
	}
}

func (c *regionCache) clear() {
	c.order.Init()
	c.entries.Init(c.capacity)
}

// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package quill

import (
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/vfs"
)

// MergePolicy tunes the tiered merge scheduler. The defaults are
// empirically reasonable starting points, not a correctness contract;
// only the qualitative behavior matters: prefer merging similarly sized
// segments, prefer reclaiming deletions, and never double-select a
// segment that is already merging.
type MergePolicy struct {
	// MaxAtOnce bounds how many segments one merge may combine.
	MaxAtOnce int

	// PerTier is the number of segments allowed per size tier before the
	// tier becomes eligible for merging.
	PerTier int

	// DeletionBoost is the exponent applied to a candidate's live-document
	// ratio when scoring; larger values favor merges that reclaim deleted
	// documents.
	DeletionBoost float64

	// SegmentSizeFloor rounds small segment sizes up when assigning
	// tiers, so that a burst of tiny flushes does not trigger runaway
	// merging.
	SegmentSizeFloor int64

	// MaxMergedSize caps the estimated size of a merge output. Candidate
	// windows above the cap are not scheduled.
	MaxMergedSize int64
}

// EnsureDefaults fills unset policy fields.
func (p *MergePolicy) EnsureDefaults() {
	if p.MaxAtOnce <= 0 {
		p.MaxAtOnce = 10
	}
	if p.PerTier <= 0 {
		p.PerTier = 4
	}
	if p.DeletionBoost <= 0 {
		p.DeletionBoost = 2.0
	}
	if p.SegmentSizeFloor <= 0 {
		p.SegmentSizeFloor = 2 << 20
	}
	if p.MaxMergedSize <= 0 {
		p.MaxMergedSize = 5 << 30
	}
}

// Options configures an Index.
type Options struct {
	// FS is the filesystem the index lives on. Defaults to vfs.Default.
	FS vfs.FS

	// Logger receives informational and error messages. Defaults to
	// base.DefaultLogger.
	Logger base.Logger

	// Features selects what each posting carries beyond its docid. Every
	// segment of an index is written and read with the same features.
	Features base.Features

	// DocLimit is the number of buffered documents that triggers an
	// automatic flush to a new segment.
	DocLimit int

	// PostLimit is the number of buffered postings that triggers an
	// automatic flush, whichever of the two limits is hit first.
	PostLimit int

	// PostingBlockSize bounds the postings per block in the posting file.
	PostingBlockSize int

	// InlinePostingLimit is the largest posting count stored inline in
	// the term dictionary instead of the posting file.
	InlinePostingLimit int

	// MaxConcurrentMerges bounds how many planned merges run in parallel
	// during a commit. 1 runs merges serially in the committing
	// goroutine's flow of control.
	MaxConcurrentMerges int

	// MergePolicy tunes merge scheduling.
	MergePolicy MergePolicy

	// Metrics collects flush and merge activity. Defaults to a fresh
	// collector; supply one to register the index with prometheus.
	Metrics *Metrics
}

// EnsureDefaults fills unset options and returns the receiver, or a fully
// defaulted Options when the receiver is nil.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.DocLimit <= 0 {
		o.DocLimit = 10000
	}
	if o.PostLimit <= 0 {
		o.PostLimit = 1 << 20
	}
	if o.PostingBlockSize <= 0 {
		o.PostingBlockSize = 128
	}
	if o.InlinePostingLimit <= 0 {
		o.InlinePostingLimit = 1
	}
	if o.MaxConcurrentMerges <= 0 {
		o.MaxConcurrentMerges = 1
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}
	o.MergePolicy.EnsureDefaults()
	return o
}

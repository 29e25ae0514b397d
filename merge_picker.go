// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package quill

import (
	"math"
	"sort"

	"github.com/quillindex/quill/internal/base"
)

// A mergeCandidate is one segment as the picker sees it: its TOC info
// plus the deletion-adjusted, floored size used for tiering.
type mergeCandidate struct {
	info SegmentInfo
	// liveSize estimates the bytes a merge would carry forward, scaling
	// the file size by the live-document ratio.
	liveSize int64
	// adjSize is liveSize rounded up to the policy floor for tier math.
	adjSize int64
	// liveRatio is live docs over total docs, 1 for a clean segment.
	liveRatio float64
}

func newMergeCandidate(info SegmentInfo, pol MergePolicy) mergeCandidate {
	c := mergeCandidate{info: info, liveRatio: 1}
	if info.DocCount > 0 {
		c.liveRatio = float64(info.LiveDocs()) / float64(info.DocCount)
	}
	c.liveSize = int64(float64(info.Size) * c.liveRatio)
	c.adjSize = max(c.liveSize, pol.SegmentSizeFloor)
	return c
}

// allowedSegmentCount computes how many segments the tiered policy
// tolerates for the given total adjusted size: PerTier segments per
// tier, with tier sizes growing geometrically by MaxAtOnce.
func allowedSegmentCount(totSize int64, pol MergePolicy) int {
	allowed := 0
	levelSize := pol.SegmentSizeFloor
	for {
		perLevel := float64(totSize) / float64(levelSize)
		if perLevel < float64(pol.PerTier) {
			allowed += int(math.Ceil(perLevel))
			return allowed
		}
		allowed += pol.PerTier
		totSize -= int64(pol.PerTier) * levelSize
		levelSize *= int64(pol.MaxAtOnce)
	}
}

// scoreWindow scores a candidate merge of cands[i:j]. Lower is better.
// The skew factor rewards merging similarly sized segments (a window
// dominated by one large segment scores poorly), the size factor mildly
// prefers cheaper merges, and the live-ratio factor, raised to
// DeletionBoost, rewards reclaiming deletions.
func scoreWindow(cands []mergeCandidate, pol MergePolicy) float64 {
	var totAfter, biggest int64
	var live, total uint64
	for _, c := range cands {
		totAfter += c.adjSize
		biggest = max(biggest, c.adjSize)
		live += c.info.LiveDocs()
		total += c.info.DocCount
	}
	skew := float64(biggest) / float64(totAfter)
	liveRatio := 1.0
	if total > 0 {
		liveRatio = float64(live) / float64(total)
	}
	return skew * math.Pow(float64(totAfter), 0.05) * math.Pow(liveRatio, pol.DeletionBoost)
}

// planMerges selects merges from segs under the tiered policy. Segments
// in merging are mid-merge and are never selected. Each returned plan
// lists the segment ids to combine into one new segment.
func planMerges(segs []SegmentInfo, merging map[base.SegmentID]bool, pol MergePolicy) [][]base.SegmentID {
	var cands []mergeCandidate
	var totSize int64
	for _, si := range segs {
		if merging[si.ID] {
			continue
		}
		c := newMergeCandidate(si, pol)
		cands = append(cands, c)
		totSize += c.adjSize
	}
	// Largest first, so windows group size neighbors.
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].adjSize != cands[j].adjSize {
			return cands[i].adjSize > cands[j].adjSize
		}
		return cands[i].info.ID < cands[j].info.ID
	})

	allowed := allowedSegmentCount(totSize, pol)
	var plans [][]base.SegmentID
	remaining := len(cands)
	for remaining > allowed {
		bestScore := math.Inf(1)
		bestLo, bestHi := -1, -1
		for lo := 0; lo < len(cands); lo++ {
			var winSize int64
			for hi := lo + 1; hi <= len(cands) && hi-lo <= pol.MaxAtOnce; hi++ {
				winSize += cands[hi-1].liveSize
				if hi-lo < 2 {
					continue
				}
				if winSize > pol.MaxMergedSize {
					break
				}
				if s := scoreWindow(cands[lo:hi], pol); s < bestScore {
					bestScore, bestLo, bestHi = s, lo, hi
				}
			}
		}
		if bestLo < 0 {
			break
		}
		plan := make([]base.SegmentID, 0, bestHi-bestLo)
		for _, c := range cands[bestLo:bestHi] {
			plan = append(plan, c.info.ID)
		}
		plans = append(plans, plan)
		remaining -= (bestHi - bestLo) - 1
		cands = append(cands[:bestLo], cands[bestHi:]...)
	}
	return plans
}

// planOptimize greedily packs segments into merges of up to MaxAtOnce,
// smallest first, until at most target segments would remain. It ignores
// the scoring heuristics; optimize is an explicit request to pay for a
// compact index now.
func planOptimize(segs []SegmentInfo, merging map[base.SegmentID]bool, pol MergePolicy, target int) [][]base.SegmentID {
	if target < 1 {
		target = 1
	}
	var cands []mergeCandidate
	for _, si := range segs {
		if merging[si.ID] {
			continue
		}
		cands = append(cands, newMergeCandidate(si, pol))
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].liveSize != cands[j].liveSize {
			return cands[i].liveSize < cands[j].liveSize
		}
		return cands[i].info.ID < cands[j].info.ID
	})

	var plans [][]base.SegmentID
	count := len(cands)
	pos := 0
	for count > target && len(cands)-pos >= 2 {
		n := min(pol.MaxAtOnce, len(cands)-pos)
		// Do not merge further below the target.
		n = min(n, count-target+1)
		if n < 2 {
			break
		}
		plan := make([]base.SegmentID, 0, n)
		for _, c := range cands[pos : pos+n] {
			plan = append(plan, c.info.ID)
		}
		plans = append(plans, plan)
		pos += n
		count -= n - 1
	}
	return plans
}

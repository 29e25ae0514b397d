// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package quill

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/quillindex/quill/internal/base"
	"github.com/quillindex/quill/internal/packed"
	"github.com/quillindex/quill/vfs"
)

const (
	tocMagic   = "QIDX"
	tocVersion = 1
)

// SegmentInfo is the metadata one TOC generation records per segment.
type SegmentInfo struct {
	ID base.SegmentID
	// DocCount includes deleted documents.
	DocCount uint64
	// Deleted is the number of deleted documents.
	Deleted uint64
	// Size is the combined byte size of the segment's files.
	Size uint64
}

// LiveDocs returns the number of live documents.
func (si SegmentInfo) LiveDocs() uint64 { return si.DocCount - si.Deleted }

func tocFilename(gen uint64) string {
	return fmt.Sprintf("TOC.%d", gen)
}

func parseTOCFilename(name string) (gen uint64, ok bool) {
	if !strings.HasPrefix(name, "TOC.") {
		return 0, false
	}
	gen, err := strconv.ParseUint(name[len("TOC."):], 10, 64)
	return gen, err == nil
}

func encodeIndexTOC(gen uint64, segs []SegmentInfo) []byte {
	buf := append([]byte(nil), tocMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, tocVersion)
	buf = binary.AppendUvarint(buf, gen)
	buf = binary.AppendUvarint(buf, uint64(len(segs)))
	for _, si := range segs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(si.ID))
		buf = binary.AppendUvarint(buf, si.DocCount)
		buf = binary.AppendUvarint(buf, si.Deleted)
		buf = binary.AppendUvarint(buf, si.Size)
	}
	return binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf))
}

func decodeIndexTOC(data []byte) (gen uint64, segs []SegmentInfo, err error) {
	if len(data) < len(tocMagic)+4+8 {
		return 0, nil, base.CorruptionErrorf("quill: toc too short")
	}
	body, sum := data[:len(data)-8], data[len(data)-8:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(sum) {
		return 0, nil, base.CorruptionErrorf("quill: toc checksum mismatch")
	}
	if string(body[:len(tocMagic)]) != tocMagic {
		return 0, nil, base.CorruptionErrorf("quill: bad toc magic")
	}
	body = body[len(tocMagic):]
	if v := binary.LittleEndian.Uint32(body); v != tocVersion {
		return 0, nil, base.CorruptionErrorf("quill: unknown toc version %d", v)
	}
	body = body[4:]

	gen, body, err = packed.Uvarint(body)
	if err != nil {
		return 0, nil, err
	}
	var count uint64
	count, body, err = packed.Uvarint(body)
	if err != nil {
		return 0, nil, err
	}
	segs = make([]SegmentInfo, 0, count)
	for i := uint64(0); i < count; i++ {
		var si SegmentInfo
		if len(body) < 8 {
			return 0, nil, base.CorruptionErrorf("quill: truncated toc segment")
		}
		si.ID = base.SegmentID(binary.LittleEndian.Uint64(body))
		body = body[8:]
		si.DocCount, body, err = packed.Uvarint(body)
		if err != nil {
			return 0, nil, err
		}
		si.Deleted, body, err = packed.Uvarint(body)
		if err != nil {
			return 0, nil, err
		}
		si.Size, body, err = packed.Uvarint(body)
		if err != nil {
			return 0, nil, err
		}
		if si.Deleted > si.DocCount {
			return 0, nil, base.CorruptionErrorf("quill: toc segment %s deleted %d > docs %d",
				si.ID, si.Deleted, si.DocCount)
		}
		segs = append(segs, si)
	}
	return gen, segs, nil
}

// writeIndexTOC persists one TOC generation via temp file + rename.
func writeIndexTOC(fs vfs.FS, dir string, gen uint64, segs []SegmentInfo) error {
	return vfs.WriteFileAtomic(fs, dir, tocFilename(gen), encodeIndexTOC(gen, segs))
}

// readLatestTOC finds the highest parseable TOC generation in dir. A
// corrupt or torn generation is skipped in favor of the next lower one,
// so a reader arriving mid-commit sees the previous consistent state. A
// directory with no TOC at all yields generation 0 and no segments.
func readLatestTOC(fs vfs.FS, dir string) (gen uint64, segs []SegmentInfo, err error) {
	names, err := fs.List(dir)
	if err != nil {
		return 0, nil, err
	}
	var gens []uint64
	for _, name := range names {
		if g, ok := parseTOCFilename(name); ok {
			gens = append(gens, g)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] > gens[j] })

	var firstErr error
	for _, g := range gens {
		data, err := vfs.ReadFile(fs, fs.PathJoin(dir, tocFilename(g)))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fileGen, segs, err := decodeIndexTOC(data)
		if err != nil || fileGen != g {
			if firstErr == nil {
				if err == nil {
					err = base.CorruptionErrorf("quill: toc %d claims generation %d", g, fileGen)
				}
				firstErr = err
			}
			continue
		}
		return g, segs, nil
	}
	if len(gens) > 0 && firstErr != nil {
		return 0, nil, firstErr
	}
	return 0, nil, nil
}

// ReadTOC returns the latest committed generation and its segment list
// without opening the segments. It is intended for introspection tools;
// use Open to read the index.
func ReadTOC(fs vfs.FS, dir string) (gen uint64, segs []SegmentInfo, err error) {
	return readLatestTOC(fs, dir)
}

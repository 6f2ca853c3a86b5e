// Package bps implements the BPS container format, spec.md §4.3.3.
package bps

import (
	"github.com/scigolib/romdiff/internal/core"
)

const magic = "BPS1"

type actionKind int

const (
	actionSourceRead actionKind = iota
	actionTargetRead
	actionSourceCopy
	actionTargetCopy
)

type action struct {
	kind   actionKind
	length int
	delta  int64  // SourceCopy/TargetCopy only
	data   []byte // TargetRead only
}

// Patch is the BPS patch representation.
type Patch struct {
	sourceSize uint64
	targetSize uint64
	metadata   string
	actions    []action

	sourceCRC32 uint32
	targetCRC32 uint32
	patchCRC32  uint32
}

// Codec implements core.Codec for BPS.
type Codec struct{}

func (Codec) Tag() core.FormatTag { return core.BPS }

func (Codec) Identify(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

func decodeSignedVLV(v uint64) int64 {
	magnitude := int64(v >> 1)
	if v&1 != 0 {
		return -magnitude
	}
	return magnitude
}

func encodeSignedVLV(delta int64) uint64 {
	if delta < 0 {
		return uint64(-delta)<<1 | 1
	}
	return uint64(delta) << 1
}

// Parse decodes a BPS patch buffer.
func (Codec) Parse(buf *core.ByteBuffer) (core.Patch, error) {
	buf.SetLittleEndian(true)
	buf.Seek(0)

	if got := buf.ReadString(len(magic), "ascii"); got != magic {
		return nil, core.NewPatchError(core.InvalidPatchFile, "BPS", "bad magic")
	}

	p := &Patch{}
	p.sourceSize = buf.ReadVLVUPS()
	p.targetSize = buf.ReadVLVUPS()

	metaLen := buf.ReadVLVUPS()
	p.metadata = buf.ReadString(int(metaLen), "utf-8")

	for buf.Tell() < buf.Size()-12 {
		word := buf.ReadVLVUPS()
		kind := actionKind(word & 0x3)
		length := int(word>>2) + 1

		switch kind {
		case actionSourceRead:
			p.actions = append(p.actions, action{kind: kind, length: length})
		case actionTargetRead:
			data := buf.ReadBytes(length)
			p.actions = append(p.actions, action{kind: kind, length: length, data: data})
		case actionSourceCopy, actionTargetCopy:
			delta := decodeSignedVLV(buf.ReadVLVUPS())
			p.actions = append(p.actions, action{kind: kind, length: length, delta: delta})
		}
	}

	if buf.Size()-buf.Tell() != 12 {
		return nil, core.NewPatchError(core.InvalidPatchFile, "BPS", "action stream misaligned with trailing checksums")
	}
	p.sourceCRC32 = buf.ReadU32()
	p.targetCRC32 = buf.ReadU32()
	p.patchCRC32 = buf.ReadU32()

	if got := core.CRC32(buf.Bytes(), 0, buf.Size()-4); got != p.patchCRC32 {
		return nil, core.NewPatchError(core.InvalidPatchFile, "BPS", "patch_crc32 mismatch")
	}

	return p, nil
}

// minMatch is the shortest run worth encoding as a SourceCopy/TargetCopy
// instead of literal TargetRead bytes (spec.md §4.3.3's linear heuristic,
// lowered from the format's historical 4-byte threshold so short
// shifted-offset matches, like a 2-byte overlap after reordering a small
// ROM's regions, still get encoded rather than falling through to a
// literal run).
const minMatch = 2

// Build implements the linear heuristic of spec.md §4.3.3: at each target
// position, prefer an RLE TargetCopy when a run of repeating bytes is
// available, else the longest SourceCopy match found anywhere in source
// (not only at the identity offset — source regions commonly get moved
// around, not just edited in place), else accumulate into a pending
// TargetRead.
func (Codec) Build(source, target *core.ByteBuffer, metadata map[string]string) (core.Patch, error) {
	src := source.Bytes()
	dst := target.Bytes()

	p := &Patch{
		sourceSize: uint64(len(src)),
		targetSize: uint64(len(dst)),
	}
	if metadata != nil {
		p.metadata = metadata["description"]
	}

	n := len(dst)
	// sourceOffset/targetOffset are the BPS action cursors: they only move
	// when a SourceCopy/TargetCopy action is emitted, independent of the
	// absolute position i the builder is currently examining.
	sourceOffset := 0
	targetOffset := 0

	matchLen := func(a, b []byte, ai, bi int) int {
		m := 0
		for ai+m < len(a) && bi+m < len(b) && a[ai+m] == b[bi+m] {
			m++
		}
		return m
	}

	// srcIndex maps every 2-byte window of source to every offset it occurs
	// at, so the best SourceCopy candidate for a target position can be
	// found anywhere in source rather than only at the identity offset.
	srcIndex := make(map[uint16][]int)
	for k := 0; k+1 < len(src); k++ {
		srcIndex[uint16(src[k])<<8|uint16(src[k+1])] = append(srcIndex[uint16(src[k])<<8|uint16(src[k+1])], k)
	}

	bestSourceMatch := func(i int) (offset, length int) {
		if i+1 >= n {
			return -1, 0
		}
		key := uint16(dst[i])<<8 | uint16(dst[i+1])
		bestLen, bestOff := 0, -1
		for _, off := range srcIndex[key] {
			if l := matchLen(src, dst, off, i); l > bestLen {
				bestLen, bestOff = l, off
			}
		}
		if bestLen < minMatch {
			return -1, 0
		}
		return bestOff, bestLen
	}

	var pending []byte
	flushPending := func() {
		if len(pending) == 0 {
			return
		}
		data := make([]byte, len(pending))
		copy(data, pending)
		p.actions = append(p.actions, action{kind: actionTargetRead, length: len(data), data: data})
		pending = nil
	}

	i := 0
	for i < n {
		// RLE: a run of the same byte repeated. Seed one literal copy of it,
		// then TargetCopy from that seed position, overlapping byte-at-a-time
		// so the run self-propagates.
		rleLen := 1
		for i+rleLen < n && dst[i+rleLen] == dst[i] {
			rleLen++
		}
		if rleLen >= minMatch {
			flushPending()
			p.actions = append(p.actions, action{kind: actionTargetRead, length: 1, data: []byte{dst[i]}})
			delta := int64(i) - int64(targetOffset)
			p.actions = append(p.actions, action{kind: actionTargetCopy, length: rleLen - 1, delta: delta})
			targetOffset = i + rleLen - 1
			i += rleLen
			continue
		}

		if off, m := bestSourceMatch(i); off >= 0 {
			flushPending()
			delta := int64(off) - int64(sourceOffset)
			p.actions = append(p.actions, action{kind: actionSourceCopy, length: m, delta: delta})
			sourceOffset = off + m
			i += m
			continue
		}

		pending = append(pending, dst[i])
		i++
	}
	flushPending()

	p.sourceCRC32 = core.CRC32(src, 0, len(src))
	p.targetCRC32 = core.CRC32(dst, 0, len(dst))

	return p, nil
}

func (p *Patch) Format() core.FormatTag { return core.BPS }
func (p *Patch) SourceSize() uint64     { return p.sourceSize }
func (p *Patch) TargetSize() uint64     { return p.targetSize }

// ValidateSource verifies source_crc32 over the declared source range.
func (p *Patch) ValidateSource(source *core.ByteBuffer, skipHeaderSize int) (bool, error) {
	data := source.Bytes()
	if skipHeaderSize > len(data) {
		skipHeaderSize = len(data)
	}
	data = data[skipHeaderSize:]
	end := len(data)
	if uint64(end) > p.sourceSize {
		end = int(p.sourceSize)
	}
	return core.CRC32(data, 0, end) == p.sourceCRC32, nil
}

// Apply builds the target to exactly target_size, executing each action in
// turn. TargetCopy is byte-at-a-time so self-overlapping RLE runs are
// correct (the source data for later bytes of the run is the output this
// same action already produced).
func (p *Patch) Apply(source *core.ByteBuffer, _ core.ApplyOptions) (*core.ByteBuffer, error) {
	src := source.Bytes()
	out := make([]byte, 0, p.targetSize)

	sourceCursor := 0
	targetCursor := 0

	for _, a := range p.actions {
		switch a.kind {
		case actionSourceRead:
			start := len(out)
			for k := 0; k < a.length; k++ {
				pos := start + k
				var b byte
				if pos < len(src) {
					b = src[pos]
				}
				out = append(out, b)
			}
		case actionTargetRead:
			out = append(out, a.data...)
		case actionSourceCopy:
			sourceCursor += int(a.delta)
			for k := 0; k < a.length; k++ {
				pos := sourceCursor + k
				var b byte
				if pos >= 0 && pos < len(src) {
					b = src[pos]
				}
				out = append(out, b)
			}
			sourceCursor += a.length
		case actionTargetCopy:
			targetCursor += int(a.delta)
			for k := 0; k < a.length; k++ {
				pos := targetCursor + k
				var b byte
				if pos >= 0 && pos < len(out) {
					b = out[pos]
				}
				out = append(out, b)
			}
			targetCursor += a.length
		}
	}

	if uint64(len(out)) != p.targetSize {
		return nil, core.NewPatchError(core.InvalidPatchFile, "BPS", "action stream produced a different length than declared target_size")
	}

	target := core.NewByteBuffer(out)
	if got := core.CRC32(out, 0, len(out)); got != p.targetCRC32 {
		return nil, core.NewPatchError(core.TargetChecksumMismatch, "BPS", "target_crc32 mismatch")
	}

	return target, nil
}

// Export re-serializes the patch to its container bytes.
func (p *Patch) Export(_ string) ([]byte, error) {
	out := core.NewByteBufferSize(0)
	out.SetLittleEndian(true)
	out.WriteString(magic)
	out.WriteVLVUPS(p.sourceSize)
	out.WriteVLVUPS(p.targetSize)
	out.WriteVLVUPS(uint64(len(p.metadata)))
	out.WriteString(p.metadata)

	for _, a := range p.actions {
		word := uint64(a.length-1)<<2 | uint64(a.kind)
		out.WriteVLVUPS(word)
		switch a.kind {
		case actionTargetRead:
			out.WriteBytes(a.data)
		case actionSourceCopy, actionTargetCopy:
			out.WriteVLVUPS(encodeSignedVLV(a.delta))
		}
	}

	out.WriteU32(p.sourceCRC32)
	out.WriteU32(p.targetCRC32)
	patchCRC := core.CRC32(out.Bytes(), 0, out.Size())
	out.WriteU32(patchCRC)
	p.patchCRC32 = patchCRC

	return out.Bytes(), nil
}

func (p *Patch) Metadata() map[string]string {
	if p.metadata == "" {
		return nil
	}
	return map[string]string{"description": p.metadata}
}

// Package ups implements the UPS container format, spec.md §4.3.2.
package ups

import (
	"github.com/scigolib/romdiff/internal/core"
)

const magic = "UPS1"

type record struct {
	delta uint64 // distance from the end of the previous record
	xor   []byte
}

// Patch is the UPS patch representation.
type Patch struct {
	sourceSize uint64
	targetSize uint64
	records    []record

	sourceCRC32 uint32
	targetCRC32 uint32
	patchCRC32  uint32
}

// Codec implements core.Codec for UPS.
type Codec struct{}

func (Codec) Tag() core.FormatTag { return core.UPS }

func (Codec) Identify(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

// Parse decodes a UPS patch buffer.
func (Codec) Parse(buf *core.ByteBuffer) (core.Patch, error) {
	buf.SetLittleEndian(true)
	buf.Seek(0)

	if got := buf.ReadString(len(magic), "ascii"); got != magic {
		return nil, core.NewPatchError(core.InvalidPatchFile, "UPS", "bad magic")
	}

	p := &Patch{}
	p.sourceSize = buf.ReadVLVUPS()
	p.targetSize = buf.ReadVLVUPS()

	for buf.Tell() < buf.Size()-12 {
		delta := buf.ReadVLVUPS()
		var xor []byte
		for {
			b := buf.ReadU8()
			if b == 0x00 {
				break
			}
			xor = append(xor, b)
		}
		p.records = append(p.records, record{delta: delta, xor: xor})
	}

	if buf.Size()-buf.Tell() != 12 {
		return nil, core.NewPatchError(core.InvalidPatchFile, "UPS", "record stream misaligned with trailing checksums")
	}
	p.sourceCRC32 = buf.ReadU32()
	p.targetCRC32 = buf.ReadU32()
	p.patchCRC32 = buf.ReadU32()

	wantPatchCRC := core.CRC32(buf.Bytes(), 0, buf.Size()-4)
	if wantPatchCRC != p.patchCRC32 {
		return nil, core.NewPatchError(core.InvalidPatchFile, "UPS", "patch_crc32 mismatch")
	}

	return p, nil
}

// Build scans source against target in lock-step, emitting an XOR record
// wherever they differ, per spec.md §4.3.2's Build algorithm.
func (Codec) Build(source, target *core.ByteBuffer, _ map[string]string) (core.Patch, error) {
	src := source.Bytes()
	dst := target.Bytes()

	srcByte := func(i int) byte {
		if i < len(src) {
			return src[i]
		}
		return 0
	}

	p := &Patch{
		sourceSize: uint64(len(src)),
		targetSize: uint64(len(dst)),
	}

	n := len(dst)
	i := 0
	lastEnd := 0
	for i < n {
		if dst[i] == srcByte(i) {
			i++
			continue
		}
		start := i
		var xor []byte
		for i < n && dst[i] != srcByte(i) {
			xor = append(xor, dst[i]^srcByte(i))
			i++
		}
		p.records = append(p.records, record{delta: uint64(start - lastEnd), xor: xor})
		// Decode advances one extra position past the 0x00 terminator before
		// the next record's delta is added; mirror that here so deltas round-trip.
		lastEnd = i + 1
	}

	p.sourceCRC32 = core.CRC32(src, 0, len(src))
	p.targetCRC32 = core.CRC32(dst, 0, len(dst))

	return p, nil
}

func (p *Patch) Format() core.FormatTag { return core.UPS }
func (p *Patch) SourceSize() uint64     { return p.sourceSize }
func (p *Patch) TargetSize() uint64     { return p.targetSize }

// ValidateSource verifies source_crc32 over the declared source range,
// treating extra source bytes beyond source_size as passthrough.
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
	got := core.CRC32(data, 0, end)
	return got == p.sourceCRC32, nil
}

// Apply copies source into a zero-filled buffer of max(source_size,
// target_size, len(source)) bytes, then XORs every record's bytes in at the
// running offset, so out-of-range source bytes read as zero.
func (p *Patch) Apply(source *core.ByteBuffer, _ core.ApplyOptions) (*core.ByteBuffer, error) {
	src := source.Bytes()

	initLen := len(src)
	if int(p.sourceSize) > initLen {
		initLen = int(p.sourceSize)
	}
	if int(p.targetSize) > initLen {
		initLen = int(p.targetSize)
	}
	out := make([]byte, initLen)
	copy(out, src)

	offset := 0
	for _, rec := range p.records {
		offset += int(rec.delta)
		for _, b := range rec.xor {
			if offset < len(out) {
				out[offset] ^= b
			}
			offset++
		}
		offset++ // skip the terminator position, matching the encoder's delta base
	}

	// The output is target_size bytes; when the real source is longer than
	// both the declared source_size and target_size, the extra bytes pass
	// through untouched rather than being truncated away.
	finalLen := int(p.targetSize)
	if len(src) > int(p.sourceSize) && len(src) > finalLen {
		finalLen = len(src)
	}
	out = out[:finalLen]

	target := core.NewByteBuffer(out)

	// target_crc32 covers only the declared target_size; passthrough bytes
	// beyond it (from a source longer than declared) are not part of the check.
	checkLen := int(p.targetSize)
	if checkLen > target.Size() {
		checkLen = target.Size()
	}
	gotCRC := core.CRC32(target.Bytes(), 0, checkLen)
	if gotCRC != p.targetCRC32 {
		return nil, core.NewPatchError(core.TargetChecksumMismatch, "UPS", "target_crc32 mismatch")
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

	for _, rec := range p.records {
		out.WriteVLVUPS(rec.delta)
		out.WriteBytes(rec.xor)
		out.WriteU8(0x00)
	}

	out.WriteU32(p.sourceCRC32)
	out.WriteU32(p.targetCRC32)

	patchCRC := core.CRC32(out.Bytes(), 0, out.Size())
	out.WriteU32(patchCRC)
	p.patchCRC32 = patchCRC

	return out.Bytes(), nil
}

func (p *Patch) Metadata() map[string]string { return nil }

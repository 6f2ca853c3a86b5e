// Package apsgba implements the APS-GBA container format, spec.md §4.3.5.
//
// APS-GBA shares the "APS" name prefix with APS-N64 but a distinct, shorter
// magic ("APS1" vs. "APS10"); Identify rejects "APS1" followed by '0', so an
// APS-N64 file is never taken for APS-GBA whichever codec is probed first.
package apsgba

import (
	"github.com/scigolib/romdiff/internal/core"
)

const (
	magic     = "APS1"
	blockSize = 65536
)

type block struct {
	offset      uint32
	sourceCRC16 uint16
	targetCRC16 uint16
	xor         []byte // blockSize bytes
}

// Patch is the APS-GBA patch representation.
type Patch struct {
	sourceSize uint32
	targetSize uint32
	blocks     []block
}

// Codec implements core.Codec for APS-GBA.
type Codec struct{}

func (Codec) Tag() core.FormatTag { return core.APSGBA }

// Identify requires an exact "APS1" match that is NOT followed by "0"
// (which would make it the APS-N64 magic "APS10").
func (Codec) Identify(data []byte) bool {
	if len(data) < len(magic) || string(data[:len(magic)]) != magic {
		return false
	}
	return len(data) == len(magic) || data[len(magic)] != '0'
}

// Parse decodes an APS-GBA patch buffer.
func (Codec) Parse(buf *core.ByteBuffer) (core.Patch, error) {
	buf.SetLittleEndian(true)
	buf.Seek(0)

	if got := buf.ReadString(len(magic), "ascii"); got != magic {
		return nil, core.NewPatchError(core.InvalidPatchFile, "APS_GBA", "bad magic")
	}

	p := &Patch{}
	p.sourceSize = buf.ReadU32()
	p.targetSize = buf.ReadU32()

	for buf.Tell() < buf.Size() {
		if buf.Tell()+4+2+2+blockSize > buf.Size() {
			return nil, core.NewPatchError(core.InvalidPatchFile, "APS_GBA", "truncated block")
		}
		offset := buf.ReadU32()
		srcCRC := buf.ReadU16()
		dstCRC := buf.ReadU16()
		xor := buf.ReadBytes(blockSize)
		p.blocks = append(p.blocks, block{offset: offset, sourceCRC16: srcCRC, targetCRC16: dstCRC, xor: xor})
	}

	return p, nil
}

// Build splits target into fixed blockSize-byte blocks aligned from offset
// 0, XORing each block against the corresponding source block.
func (Codec) Build(source, target *core.ByteBuffer, _ map[string]string) (core.Patch, error) {
	src := source.Bytes()
	dst := target.Bytes()

	p := &Patch{sourceSize: uint32(len(src)), targetSize: uint32(len(dst))}

	for offset := 0; offset < len(dst); offset += blockSize {
		end := offset + blockSize
		if end > len(dst) {
			end = len(dst)
		}
		dstBlock := make([]byte, blockSize)
		copy(dstBlock, dst[offset:end])

		srcBlock := make([]byte, blockSize)
		if offset < len(src) {
			srcEnd := offset + blockSize
			if srcEnd > len(src) {
				srcEnd = len(src)
			}
			copy(srcBlock, src[offset:srcEnd])
		}

		xor := make([]byte, blockSize)
		for i := range xor {
			xor[i] = srcBlock[i] ^ dstBlock[i]
		}

		p.blocks = append(p.blocks, block{
			offset:      uint32(offset),
			sourceCRC16: core.CRC16(srcBlock, 0, blockSize),
			targetCRC16: core.CRC16(dstBlock, 0, blockSize),
			xor:         xor,
		})
	}

	return p, nil
}

func (p *Patch) Format() core.FormatTag { return core.APSGBA }
func (p *Patch) SourceSize() uint64     { return uint64(p.sourceSize) }
func (p *Patch) TargetSize() uint64     { return uint64(p.targetSize) }

// ValidateSource requires an exact source_size match and every block's
// declared source_crc16 to match the corresponding source block.
func (p *Patch) ValidateSource(source *core.ByteBuffer, skipHeaderSize int) (bool, error) {
	data := source.Bytes()
	if skipHeaderSize > len(data) {
		skipHeaderSize = len(data)
	}
	data = data[skipHeaderSize:]

	if uint32(len(data)) != p.sourceSize {
		return false, nil
	}

	for _, blk := range p.blocks {
		srcBlock := make([]byte, blockSize)
		offset := int(blk.offset)
		if offset < len(data) {
			end := offset + blockSize
			if end > len(data) {
				end = len(data)
			}
			copy(srcBlock, data[offset:end])
		}
		if core.CRC16(srcBlock, 0, blockSize) != blk.sourceCRC16 {
			return false, nil
		}
	}
	return true, nil
}

// Apply XORs every block into a clone of source and verifies each block's
// target_crc16 after XORing.
func (p *Patch) Apply(source *core.ByteBuffer, _ core.ApplyOptions) (*core.ByteBuffer, error) {
	target := source.Clone()
	target.SetLittleEndian(true)
	target.Expand(int(p.targetSize))

	for _, blk := range p.blocks {
		target.Seek(int(blk.offset))
		current := target.ReadBytes(blockSize)

		out := make([]byte, blockSize)
		for i := range out {
			out[i] = current[i] ^ blk.xor[i]
		}

		if core.CRC16(out, 0, blockSize) != blk.targetCRC16 {
			return nil, core.NewPatchError(core.TargetChecksumMismatch, "APS_GBA", "target_crc16 mismatch")
		}

		target.Seek(int(blk.offset))
		target.WriteBytes(out)
	}

	target.Truncate(int(p.targetSize))

	return target, nil
}

// Export re-serializes the patch to its container bytes.
func (p *Patch) Export(_ string) ([]byte, error) {
	out := core.NewByteBufferSize(0)
	out.SetLittleEndian(true)
	out.WriteString(magic)
	out.WriteU32(p.sourceSize)
	out.WriteU32(p.targetSize)

	for _, blk := range p.blocks {
		out.WriteU32(blk.offset)
		out.WriteU16(blk.sourceCRC16)
		out.WriteU16(blk.targetCRC16)
		out.WriteBytes(blk.xor)
	}

	return out.Bytes(), nil
}

func (p *Patch) Metadata() map[string]string { return nil }

// Package apsn64 implements the APS-N64 container format, spec.md §4.3.4.
package apsn64

import (
	"bytes"

	"github.com/scigolib/romdiff/internal/core"
	"github.com/scigolib/romdiff/internal/utils"
)

const magic = "APS10"

const (
	headerRaw = 0
	headerN64 = 1
)

type record struct {
	offset uint32
	data   []byte // simple
	rleLen uint8  // RLE
	rleVal byte   // RLE
	isRLE  bool
}

// Patch is the APS-N64 patch representation.
type Patch struct {
	headerType     uint8
	encodingMethod uint8
	description    string
	originalFormat uint8
	cartID         [3]byte
	crc            [8]byte
	outputSize     uint32
	records        []record
}

// Codec implements core.Codec for APS-N64.
type Codec struct{}

func (Codec) Tag() core.FormatTag { return core.APSN64 }

func (Codec) Identify(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

// Parse decodes an APS-N64 patch buffer.
func (Codec) Parse(buf *core.ByteBuffer) (core.Patch, error) {
	buf.SetLittleEndian(true)
	buf.Seek(0)

	if got := buf.ReadString(len(magic), "ascii"); got != magic {
		return nil, core.NewPatchError(core.InvalidPatchFile, "APS_N64", "bad magic")
	}

	p := &Patch{}
	p.headerType = buf.ReadU8()
	p.encodingMethod = buf.ReadU8()
	p.description = buf.ReadString(50, "ascii")

	if p.headerType == headerN64 {
		p.originalFormat = buf.ReadU8()
		cart := buf.ReadBytes(3)
		copy(p.cartID[:], cart)
		crc := buf.ReadBytes(8)
		copy(p.crc[:], crc)
		buf.Skip(5) // pad
	}

	p.outputSize = buf.ReadU32()

	for buf.Tell() < buf.Size() {
		offset := buf.ReadU32()
		length := buf.ReadU8()
		if length == 0 {
			rleVal := buf.ReadU8()
			rleLen := buf.ReadU8()
			p.records = append(p.records, record{offset: offset, isRLE: true, rleVal: rleVal, rleLen: rleLen})
			continue
		}
		if err := utils.ValidateRecordBounds(uint64(buf.Tell()), uint64(length), uint64(buf.Size())); err != nil {
			return nil, core.NewPatchError(core.InvalidPatchFile, "APS_N64", "record data runs past end of file")
		}
		data := buf.ReadBytes(int(length))
		p.records = append(p.records, record{offset: offset, data: data})
	}

	return p, nil
}

// Build emits RLE records for runs of >=3 identical differing bytes,
// literal records (capped at 255 bytes) otherwise, per spec.md §4.3.4.
func (Codec) Build(source, target *core.ByteBuffer, metadata map[string]string) (core.Patch, error) {
	src := source.Bytes()
	dst := target.Bytes()
	srcByte := func(i int) byte {
		if i < len(src) {
			return src[i]
		}
		return 0
	}

	p := &Patch{outputSize: uint32(len(dst))}
	if metadata != nil {
		p.description = metadata["description"]
	}

	n := len(dst)
	i := 0
	for i < n {
		if dst[i] == srcByte(i) {
			i++
			continue
		}
		start := i
		runByte := dst[start]
		runLen := 1
		for start+runLen < n && dst[start+runLen] == runByte {
			runLen++
		}
		if runLen >= 3 {
			for runLen > 0xFF {
				p.records = append(p.records, record{offset: uint32(start), isRLE: true, rleVal: runByte, rleLen: 0xFF})
				start += 0xFF
				runLen -= 0xFF
			}
			p.records = append(p.records, record{offset: uint32(start), isRLE: true, rleVal: runByte, rleLen: uint8(runLen)})
			i = start + runLen
			continue
		}

		j := start
		for j < n && j-start < 0xFF {
			if dst[j] == srcByte(j) {
				match := 0
				for j+match < n && dst[j+match] == srcByte(j+match) {
					match++
				}
				if match >= 4 || j-start+match > 0xFF {
					break
				}
				j += match
				continue
			}
			j++
		}
		data := make([]byte, j-start)
		copy(data, dst[start:j])
		p.records = append(p.records, record{offset: uint32(start), data: data})
		i = j
	}

	return p, nil
}

func (p *Patch) Format() core.FormatTag { return core.APSN64 }
func (p *Patch) SourceSize() uint64     { return 0 }
func (p *Patch) TargetSize() uint64     { return uint64(p.outputSize) }

// ValidateSource is trivially true: APS-N64 has no source checksum.
func (p *Patch) ValidateSource(_ *core.ByteBuffer, _ int) (bool, error) { return true, nil }

// Apply clones source, applies every record, and truncates/expands to
// the declared output size.
func (p *Patch) Apply(source *core.ByteBuffer, _ core.ApplyOptions) (*core.ByteBuffer, error) {
	target := source.Clone()
	target.SetLittleEndian(true)

	for _, rec := range p.records {
		if int(rec.offset) > target.Size() {
			target.Expand(int(rec.offset))
		}
		target.Seek(int(rec.offset))
		if rec.isRLE {
			target.WriteBytes(bytes.Repeat([]byte{rec.rleVal}, int(rec.rleLen)))
			continue
		}
		target.WriteBytes(rec.data)
	}

	if int(p.outputSize) < target.Size() {
		target.Truncate(int(p.outputSize))
	} else if int(p.outputSize) > target.Size() {
		target.Expand(int(p.outputSize))
	}

	return target, nil
}

// Export re-serializes the patch to its container bytes.
func (p *Patch) Export(_ string) ([]byte, error) {
	out := core.NewByteBufferSize(0)
	out.SetLittleEndian(true)
	out.WriteString(magic)
	out.WriteU8(p.headerType)
	out.WriteU8(p.encodingMethod)

	desc := make([]byte, 50)
	copy(desc, p.description)
	out.WriteBytes(desc)

	if p.headerType == headerN64 {
		out.WriteU8(p.originalFormat)
		out.WriteBytes(p.cartID[:])
		out.WriteBytes(p.crc[:])
		out.WriteBytes(make([]byte, 5))
	}

	out.WriteU32(p.outputSize)

	for _, rec := range p.records {
		out.WriteU32(rec.offset)
		if rec.isRLE {
			out.WriteU8(0)
			out.WriteU8(rec.rleVal)
			out.WriteU8(rec.rleLen)
			continue
		}
		out.WriteU8(uint8(len(rec.data)))
		out.WriteBytes(rec.data)
	}

	return out.Bytes(), nil
}

func (p *Patch) Metadata() map[string]string {
	if p.description == "" {
		return nil
	}
	return map[string]string{"description": p.description}
}

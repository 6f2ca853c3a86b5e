// Package ips implements the IPS container format and its EBP variant
// (IPS with an optional JSON metadata trailer), spec.md §4.3.1.
package ips

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/scigolib/romdiff/internal/core"
	"github.com/scigolib/romdiff/internal/utils"
)

const (
	magic      = "PATCH"
	terminator = "EOF"
	// reservedOffset is the 24-bit value of the ASCII bytes "EOF", reserved
	// as the terminator and forbidden as a literal record offset.
	reservedOffset = 0x454F46
)

type recordKind int

const (
	kindSimple recordKind = iota
	kindRLE
)

type record struct {
	offset uint32
	kind   recordKind
	data   []byte // kindSimple
	rleLen uint16 // kindRLE
	rleVal byte   // kindRLE
}

// Patch is the IPS (and EBP) patch representation.
type Patch struct {
	format      core.FormatTag // IPS or EBP
	records     []record
	truncation  *uint32
	jsonTrailer string // EBP's JSON trailer, verbatim
}

// Codec implements core.Codec for IPS/EBP.
type Codec struct{}

// Tag returns core.IPS; EBP is produced by Build/Parse when a JSON trailer
// is requested or found, per spec.md §5's supplemented-features note.
func (Codec) Tag() core.FormatTag { return core.IPS }

// Identify reports whether data begins with the IPS magic "PATCH".
func (Codec) Identify(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

// Parse decodes an IPS (or EBP) patch buffer.
func (Codec) Parse(buf *core.ByteBuffer) (core.Patch, error) {
	buf.SetLittleEndian(false)
	buf.Seek(0)

	if got := buf.ReadString(len(magic), "ascii"); got != magic {
		return nil, core.NewPatchError(core.InvalidPatchFile, "IPS", fmt.Sprintf("bad magic %q", got))
	}

	p := &Patch{format: core.IPS}
	for {
		if buf.Tell()+3 > buf.Size() {
			return nil, core.NewPatchError(core.InvalidPatchFile, "IPS", "truncated record stream (missing EOF terminator)")
		}
		peek := buf.ReadBytes(3)
		if string(peek) == terminator {
			break
		}
		offset := uint32(peek[0])<<16 | uint32(peek[1])<<8 | uint32(peek[2])
		if offset == reservedOffset {
			return nil, core.NewPatchError(core.InvalidPatchFile, "IPS", "record offset collides with EOF terminator")
		}
		length := buf.ReadU16()
		if length == 0 {
			rleLen := buf.ReadU16()
			rleVal := buf.ReadU8()
			p.records = append(p.records, record{offset: offset, kind: kindRLE, rleLen: rleLen, rleVal: rleVal})
			continue
		}
		if err := utils.ValidateRecordBounds(uint64(buf.Tell()), uint64(length), uint64(buf.Size())); err != nil {
			return nil, core.NewPatchError(core.InvalidPatchFile, "IPS", "record data runs past end of file")
		}
		data := buf.ReadBytes(int(length))
		p.records = append(p.records, record{offset: offset, kind: kindSimple, data: data})
	}

	remaining := buf.Size() - buf.Tell()
	switch {
	case remaining == 0:
		// no truncation, no trailer
	case remaining == 3:
		trunc := buf.ReadU24()
		p.truncation = &trunc
	default:
		// Anything else is an EBP JSON trailer, optionally preceded by a
		// 3-byte truncation value. Try the whole trailer as JSON first
		// (Build/Export may emit a JSON-only trailer with no truncation);
		// only peel off a leading truncation value when the unstripped
		// trailer is not itself valid JSON.
		whole := buf.ReadBytes(remaining)
		if json.Valid(whole) {
			p.format = core.EBP
			p.jsonTrailer = string(whole)
			break
		}
		if remaining <= 3 || !json.Valid(whole[3:]) {
			return nil, core.NewPatchError(core.InvalidPatchFile, "IPS", "trailing data after EOF is neither a truncation value nor valid JSON")
		}
		trunc := uint32(whole[0])<<16 | uint32(whole[1])<<8 | uint32(whole[2])
		p.truncation = &trunc
		p.format = core.EBP
		p.jsonTrailer = string(whole[3:])
	}

	return p, nil
}

// simpleRecordAvoidingReserved builds a literal record at offset, shifting
// one byte earlier when offset lands exactly on the forbidden "EOF" offset
// (spec.md §3): the prefixed byte is the target's own byte at offset-1, so
// writing it again is inert whatever an earlier record left there.
func simpleRecordAvoidingReserved(offset int, data []byte, dstByte func(int) byte) record {
	if uint32(offset) != reservedOffset {
		return record{offset: uint32(offset), kind: kindSimple, data: data}
	}
	shifted := make([]byte, 0, len(data)+1)
	shifted = append(shifted, dstByte(offset-1))
	shifted = append(shifted, data...)
	return record{offset: uint32(offset - 1), kind: kindSimple, data: shifted}
}

// rleRecordAvoidingReserved is simpleRecordAvoidingReserved's RLE analogue:
// it turns the run into a literal record one byte longer that starts with
// the target's own byte at offset-1.
func rleRecordAvoidingReserved(offset, length int, val byte, dstByte func(int) byte) record {
	if uint32(offset) != reservedOffset {
		return record{offset: uint32(offset), kind: kindRLE, rleLen: uint16(length), rleVal: val}
	}
	return record{
		offset: uint32(offset - 1),
		kind:   kindSimple,
		data:   append([]byte{dstByte(offset - 1)}, bytes.Repeat([]byte{val}, length)...),
	}
}

// Build diffs source against target and emits IPS records. Coalesces runs
// of >=3 identical differing bytes into RLE records; everything else
// becomes literal runs, per the per-byte diff IPS has always used. metadata
// with a non-empty "json" key produces an EBP patch instead of plain IPS.
func (Codec) Build(source, target *core.ByteBuffer, metadata map[string]string) (core.Patch, error) {
	src := source.Bytes()
	dst := target.Bytes()
	srcByte := func(i int) byte {
		if i < len(src) {
			return src[i]
		}
		return 0
	}
	dstByte := func(i int) byte { return dst[i] }

	p := &Patch{format: core.IPS}
	n := len(dst)
	i := 0
	for i < n {
		if dst[i] == srcByte(i) {
			i++
			continue
		}
		start := i

		// Try RLE: a run of >=3 identical bytes starting at a byte that
		// differs from source.
		runByte := dst[start]
		runLen := 1
		for start+runLen < n && dst[start+runLen] == runByte {
			runLen++
		}
		if runLen >= 3 {
			for runLen > 0xFFFF {
				// Cap this chunk one byte short of the uint16 limit when it
				// starts exactly on the reserved offset: shifting it (below)
				// would otherwise widen the record to 0x10000 bytes, which
				// silently wraps to 0 in a uint16 length field on Export.
				chunk := 0xFFFF
				if uint32(start) == reservedOffset {
					chunk--
				}
				p.records = append(p.records, rleRecordAvoidingReserved(start, chunk, runByte, dstByte))
				start += chunk
				runLen -= chunk
			}
			p.records = append(p.records, rleRecordAvoidingReserved(start, runLen, runByte, dstByte))
			i = start + runLen
			continue
		}

		// Literal run: accumulate until >=4 consecutive bytes match source.
		j := start
		for j < n && j-start < 0xFFFF {
			if dst[j] == srcByte(j) {
				match := 0
				for j+match < n && dst[j+match] == srcByte(j+match) {
					match++
				}
				if match >= 4 {
					break
				}
				j += match
				continue
			}
			j++
		}
		data := make([]byte, j-start)
		copy(data, dst[start:j])
		p.records = append(p.records, simpleRecordAvoidingReserved(start, data, dstByte))
		i = j
	}

	if jsonTrailer, ok := metadata["json"]; ok && jsonTrailer != "" {
		p.format = core.EBP
		p.jsonTrailer = jsonTrailer
	}

	if len(dst) < len(src) {
		trunc := uint32(len(dst))
		p.truncation = &trunc
	}

	return p, nil
}

// Format returns core.IPS or core.EBP.
func (p *Patch) Format() core.FormatTag { return p.format }

// SourceSize is always 0: IPS never declares a source size.
func (p *Patch) SourceSize() uint64 { return 0 }

// TargetSize returns the declared truncation size, or 0 when absent.
func (p *Patch) TargetSize() uint64 {
	if p.truncation != nil {
		return uint64(*p.truncation)
	}
	return 0
}

// ValidateSource is trivially true: IPS has no source checksum.
func (p *Patch) ValidateSource(_ *core.ByteBuffer, _ int) (bool, error) { return true, nil }

// Apply clones source, applies every record in file order (growing the
// target when a record starts past its end), then truncates if a truncation
// value is present.
func (p *Patch) Apply(source *core.ByteBuffer, _ core.ApplyOptions) (*core.ByteBuffer, error) {
	target := source.Clone()
	target.SetLittleEndian(false)

	for _, rec := range p.records {
		if int(rec.offset) > target.Size() {
			target.Expand(int(rec.offset))
		}
		target.Seek(int(rec.offset))
		switch rec.kind {
		case kindSimple:
			target.WriteBytes(rec.data)
		case kindRLE:
			fill := bytes.Repeat([]byte{rec.rleVal}, int(rec.rleLen))
			target.WriteBytes(fill)
		}
	}

	if p.truncation != nil {
		target.Truncate(int(*p.truncation))
	}

	return target, nil
}

// Export re-serializes the patch to its container bytes.
func (p *Patch) Export(_ string) ([]byte, error) {
	out := core.NewByteBufferSize(0)
	out.SetLittleEndian(false)
	out.WriteString(magic)

	for _, rec := range p.records {
		out.WriteU24(rec.offset)
		switch rec.kind {
		case kindSimple:
			out.WriteU16(uint16(len(rec.data)))
			out.WriteBytes(rec.data)
		case kindRLE:
			out.WriteU16(0)
			out.WriteU16(rec.rleLen)
			out.WriteU8(rec.rleVal)
		}
	}

	out.WriteString(terminator)
	if p.truncation != nil {
		out.WriteU24(*p.truncation)
	}
	if p.format == core.EBP && p.jsonTrailer != "" {
		out.WriteString(p.jsonTrailer)
	}

	return out.Bytes(), nil
}

// Metadata exposes the EBP JSON trailer, if any, under the "json" key.
func (p *Patch) Metadata() map[string]string {
	if p.jsonTrailer == "" {
		return nil
	}
	return map[string]string{"json": p.jsonTrailer}
}

// Package rup implements the RUP (NINJA2) container format, spec.md §4.3.7.
package rup

import (
	"github.com/scigolib/romdiff/internal/core"
)

const (
	magic        = "NINJA2"
	headerSize   = 2048
	commandsBase = 0x800

	cmdOpenFile = 0x01
	cmdRecord   = 0x02
	cmdEnd      = 0x00

	overflowAppend = 'A'
	overflowMinify = 'M'
)

const (
	fieldAuthor      = 84
	fieldVersion     = 11
	fieldTitle       = 256
	fieldGenre       = 48
	fieldLanguage    = 48
	fieldDate        = 8
	fieldWeb         = 512
	fieldDescription = 1074
)

type xorRecord struct {
	offset uint64
	xor    []byte
}

// Patch is the RUP (NINJA2) patch representation.
type Patch struct {
	textEncoding uint8
	author       string
	version      string
	title        string
	genre        string
	language     string
	date         string
	web          string
	description  string

	name       string
	romType    uint8
	sourceSize uint64
	targetSize uint64
	sourceMD5  [16]byte
	targetMD5  [16]byte

	hasOverflow  bool
	overflowMode byte // 'A' or 'M'
	overflow     []byte

	records []xorRecord
}

// Codec implements core.Codec for RUP.
type Codec struct{}

func (Codec) Tag() core.FormatTag { return core.RUP }

func (Codec) Identify(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

func readPadded(buf *core.ByteBuffer, n int) string {
	return buf.ReadString(n, "ascii")
}

func writePadded(buf *core.ByteBuffer, s string, n int) {
	field := make([]byte, n)
	copy(field, s)
	buf.WriteBytes(field)
}

// Parse decodes a RUP patch buffer.
func (Codec) Parse(buf *core.ByteBuffer) (core.Patch, error) {
	buf.SetLittleEndian(true)
	buf.Seek(0)

	if got := buf.ReadString(len(magic), "ascii"); got != magic {
		return nil, core.NewPatchError(core.InvalidPatchFile, "RUP", "bad magic")
	}

	p := &Patch{}
	p.textEncoding = buf.ReadU8()
	p.author = readPadded(buf, fieldAuthor)
	p.version = readPadded(buf, fieldVersion)
	p.title = readPadded(buf, fieldTitle)
	p.genre = readPadded(buf, fieldGenre)
	p.language = readPadded(buf, fieldLanguage)
	p.date = readPadded(buf, fieldDate)
	p.web = readPadded(buf, fieldWeb)
	p.description = readPadded(buf, fieldDescription)

	buf.Seek(commandsBase)

	for {
		if buf.Tell() >= buf.Size() {
			return nil, core.NewPatchError(core.InvalidPatchFile, "RUP", "command stream ended without an end marker")
		}
		cmd := buf.ReadU8()
		switch cmd {
		case cmdEnd:
			return p, nil
		case cmdOpenFile:
			nameLen := buf.ReadVLVRUP()
			p.name = buf.ReadString(int(nameLen), "ascii")
			p.romType = buf.ReadU8()
			p.sourceSize = buf.ReadVLVRUP()
			p.targetSize = buf.ReadVLVRUP()
			copy(p.sourceMD5[:], buf.ReadBytes(16))
			copy(p.targetMD5[:], buf.ReadBytes(16))
			if p.sourceSize != p.targetSize {
				mode := buf.ReadU8()
				if mode != overflowAppend && mode != overflowMinify {
					return nil, core.NewPatchError(core.UnsupportedFeature, "RUP", "unrecognized overflow mode byte")
				}
				p.hasOverflow = true
				p.overflowMode = mode
				overflowLen := buf.ReadVLVRUP()
				raw := buf.ReadBytes(int(overflowLen))
				overflow := make([]byte, len(raw))
				for i, b := range raw {
					overflow[i] = b ^ 0xFF
				}
				p.overflow = overflow
			}
		case cmdRecord:
			offset := buf.ReadVLVRUP()
			xorLen := buf.ReadVLVRUP()
			xor := buf.ReadBytes(int(xorLen))
			p.records = append(p.records, xorRecord{offset: offset, xor: xor})
		default:
			return nil, core.NewPatchError(core.InvalidPatchFile, "RUP", "unknown command byte in command stream")
		}
	}
}

// Build emits a single open-file command covering the whole source/target
// pair, XOR records for every differing run, and an overflow block when the
// sizes differ.
func (Codec) Build(source, target *core.ByteBuffer, metadata map[string]string) (core.Patch, error) {
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
		sourceMD5:  core.MD5Sum(src, 0, len(src)),
		targetMD5:  core.MD5Sum(dst, 0, len(dst)),
	}
	if metadata != nil {
		p.title = metadata["title"]
		p.author = metadata["author"]
		p.date = metadata["date"]
	}

	common := len(src)
	if len(dst) < common {
		common = len(dst)
	}

	i := 0
	for i < common {
		if dst[i] == srcByte(i) {
			i++
			continue
		}
		start := i
		var xor []byte
		for i < common && dst[i] != srcByte(i) {
			xor = append(xor, dst[i]^srcByte(i))
			i++
		}
		p.records = append(p.records, xorRecord{offset: uint64(start), xor: xor})
	}

	if len(dst) != len(src) {
		p.hasOverflow = true
		if len(dst) > len(src) {
			p.overflowMode = overflowAppend
			p.overflow = append([]byte(nil), dst[len(src):]...)
		} else {
			p.overflowMode = overflowMinify
			p.overflow = append([]byte(nil), src[len(dst):]...)
		}
	}

	return p, nil
}

func (p *Patch) Format() core.FormatTag { return core.RUP }
func (p *Patch) SourceSize() uint64     { return p.sourceSize }
func (p *Patch) TargetSize() uint64     { return p.targetSize }

// ValidateSource matches source's MD5 against either declared MD5, since a
// RUP patch may be applied forward (matches source_md5) or in reverse
// (matches target_md5).
func (p *Patch) ValidateSource(source *core.ByteBuffer, skipHeaderSize int) (bool, error) {
	data := source.Bytes()
	if skipHeaderSize > len(data) {
		skipHeaderSize = len(data)
	}
	data = data[skipHeaderSize:]

	sum := core.MD5Sum(data, 0, len(data))
	return sum == p.sourceMD5 || sum == p.targetMD5, nil
}

// Apply identifies the direction by matching source's MD5, XORs every
// record, then applies the append/minify overflow, verifying the resulting
// MD5 matches the opposite side.
func (p *Patch) Apply(source *core.ByteBuffer, _ core.ApplyOptions) (*core.ByteBuffer, error) {
	data := source.Bytes()
	sum := core.MD5Sum(data, 0, len(data))

	var forward bool
	switch sum {
	case p.sourceMD5:
		forward = true
	case p.targetMD5:
		forward = false
	default:
		return nil, core.NewPatchError(core.InvalidSourceFile, "RUP", "source matches neither source_md5 nor target_md5")
	}

	out := make([]byte, len(data))
	copy(out, data)

	for _, rec := range p.records {
		off := int(rec.offset)
		for k, b := range rec.xor {
			if off+k < len(out) {
				out[off+k] ^= b
			}
		}
	}

	wantMD5 := p.targetMD5
	wantSize := p.targetSize
	if !forward {
		wantMD5 = p.sourceMD5
		wantSize = p.sourceSize
	}

	if p.hasOverflow {
		switch {
		case forward && p.overflowMode == overflowAppend:
			out = append(out, p.overflow...)
		case forward && p.overflowMode == overflowMinify:
			if len(out) >= len(p.overflow) {
				out = out[:len(out)-len(p.overflow)]
			}
		case !forward && p.overflowMode == overflowAppend:
			if len(out) >= len(p.overflow) {
				out = out[:len(out)-len(p.overflow)]
			}
		case !forward && p.overflowMode == overflowMinify:
			out = append(out, p.overflow...)
		}
	}

	if uint64(len(out)) != wantSize {
		return nil, core.NewPatchError(core.InvalidPatchFile, "RUP", "applied length does not match declared size")
	}

	if core.MD5Sum(out, 0, len(out)) != wantMD5 {
		return nil, core.NewPatchError(core.TargetChecksumMismatch, "RUP", "resulting MD5 does not match the opposite declared hash")
	}

	return core.NewByteBuffer(out), nil
}

// Export re-serializes the patch to its container bytes, using name as the
// RUP open-file entry's file name when non-empty.
func (p *Patch) Export(name string) ([]byte, error) {
	if name == "" {
		name = p.name
	}

	out := core.NewByteBufferSize(0)
	out.SetLittleEndian(true)
	out.WriteString(magic)
	out.WriteU8(p.textEncoding)
	writePadded(out, p.author, fieldAuthor)
	writePadded(out, p.version, fieldVersion)
	writePadded(out, p.title, fieldTitle)
	writePadded(out, p.genre, fieldGenre)
	writePadded(out, p.language, fieldLanguage)
	writePadded(out, p.date, fieldDate)
	writePadded(out, p.web, fieldWeb)
	writePadded(out, p.description, fieldDescription)

	out.Expand(commandsBase)
	out.Seek(commandsBase)

	out.WriteU8(cmdOpenFile)
	out.WriteVLVRUP(uint64(len(name)))
	out.WriteString(name)
	out.WriteU8(p.romType)
	out.WriteVLVRUP(p.sourceSize)
	out.WriteVLVRUP(p.targetSize)
	out.WriteBytes(p.sourceMD5[:])
	out.WriteBytes(p.targetMD5[:])

	if p.sourceSize != p.targetSize {
		out.WriteU8(p.overflowMode)
		out.WriteVLVRUP(uint64(len(p.overflow)))
		masked := make([]byte, len(p.overflow))
		for i, b := range p.overflow {
			masked[i] = b ^ 0xFF
		}
		out.WriteBytes(masked)
	}

	for _, rec := range p.records {
		out.WriteU8(cmdRecord)
		out.WriteVLVRUP(rec.offset)
		out.WriteVLVRUP(uint64(len(rec.xor)))
		out.WriteBytes(rec.xor)
	}

	out.WriteU8(cmdEnd)

	return out.Bytes(), nil
}

func (p *Patch) Metadata() map[string]string {
	return map[string]string{
		"title":       p.title,
		"author":      p.author,
		"version":     p.version,
		"genre":       p.genre,
		"language":    p.language,
		"date":        p.date,
		"web":         p.web,
		"description": p.description,
	}
}

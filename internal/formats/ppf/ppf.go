// Package ppf implements the PPF container format (versions 1-3),
// spec.md §4.3.6.
package ppf

import (
	"bytes"

	"github.com/scigolib/romdiff/internal/core"
	"github.com/scigolib/romdiff/internal/utils"
)

const (
	magicPrefix    = "PPF"
	dizMagic       = "@BEGIN_FILE_ID.DIZ"
	blockCheckSize = 1024
)

type ppfRecord struct {
	offset uint64
	data   []byte
	undo   []byte
}

// Patch is the PPF patch representation.
type Patch struct {
	version     int // 1, 2, or 3
	description string

	// v2 only
	inputFileSize uint32

	// v3 only
	imageType  uint8
	blockCheck bool
	undoData   bool

	blockCheckData []byte // present iff blockCheck
	records        []ppfRecord
	dizText        string
}

// Codec implements core.Codec for PPF.
type Codec struct{}

func (Codec) Tag() core.FormatTag { return core.PPF }

func (Codec) Identify(data []byte) bool {
	if len(data) < 5 || string(data[:3]) != magicPrefix {
		return false
	}
	switch string(data[3:5]) {
	case "10", "20", "30":
		return true
	}
	return false
}

// Parse decodes a PPF patch buffer.
func (Codec) Parse(buf *core.ByteBuffer) (core.Patch, error) {
	buf.SetLittleEndian(true)
	buf.Seek(0)

	if got := buf.ReadString(3, "ascii"); got != magicPrefix {
		return nil, core.NewPatchError(core.InvalidPatchFile, "PPF", "bad magic")
	}
	verTag := buf.ReadString(2, "ascii")

	p := &Patch{}
	switch verTag {
	case "10":
		p.version = 1
	case "20":
		p.version = 2
	case "30":
		p.version = 3
	default:
		return nil, core.NewPatchError(core.InvalidPatchFile, "PPF", "unrecognized version tag")
	}

	p.description = buf.ReadString(50, "ascii")

	switch p.version {
	case 2:
		p.inputFileSize = buf.ReadU32()
	case 3:
		p.imageType = buf.ReadU8()
		p.blockCheck = buf.ReadU8() != 0
		p.undoData = buf.ReadU8() != 0
		if p.blockCheck {
			if err := utils.ValidateRecordBounds(uint64(buf.Tell()), blockCheckSize, uint64(buf.Size())); err != nil {
				return nil, core.NewPatchError(core.InvalidPatchFile, "PPF", "truncated block-check data")
			}
			p.blockCheckData = buf.ReadBytes(blockCheckSize)
		}
	}

	for buf.Tell() < buf.Size() {
		if buf.Tell()+len(dizMagic) <= buf.Size() {
			buf.Save()
			tag := buf.ReadString(len(dizMagic), "ascii")
			if tag == dizMagic {
				remaining := buf.Size() - buf.Tell()
				p.dizText = buf.ReadString(remaining, "utf-8")
				break
			}
			if err := buf.Restore(); err != nil {
				return nil, core.NewPatchError(core.InvalidPatchFile, "PPF", err.Error())
			}
		}

		var offset uint64
		if p.version == 3 {
			offset = buf.ReadU64()
		} else {
			offset = uint64(buf.ReadU32())
		}
		length := buf.ReadU8()
		data := buf.ReadBytes(int(length))

		var undo []byte
		if p.version == 3 && p.undoData {
			undo = buf.ReadBytes(int(length))
		}

		p.records = append(p.records, ppfRecord{offset: offset, data: data, undo: undo})
	}

	return p, nil
}

// Build emits one record per maximal run of differing bytes (capped at 255
// bytes per record, PPF's u8 length field), using 64-bit offsets so large
// ROMs are never silently truncated to 32 bits.
func (Codec) Build(source, target *core.ByteBuffer, metadata map[string]string) (core.Patch, error) {
	src := source.Bytes()
	dst := target.Bytes()
	srcByte := func(i int) byte {
		if i < len(src) {
			return src[i]
		}
		return 0
	}

	p := &Patch{version: 3, undoData: true}
	if metadata != nil {
		p.description = metadata["description"]
	}
	p.inputFileSize = uint32(len(src))

	n := len(dst)
	i := 0
	for i < n {
		if dst[i] == srcByte(i) {
			i++
			continue
		}
		start := i
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
		undo := make([]byte, j-start)
		for k := range undo {
			undo[k] = srcByte(start + k)
		}

		p.records = append(p.records, ppfRecord{offset: uint64(start), data: data, undo: undo})
		i = j
	}

	return p, nil
}

func (p *Patch) Format() core.FormatTag { return core.PPF }
func (p *Patch) SourceSize() uint64 {
	if p.version == 2 {
		return uint64(p.inputFileSize)
	}
	return 0
}
func (p *Patch) TargetSize() uint64 { return 0 }

// ValidateSource compares the optional block-check data against the first
// 1024 bytes of source; with no block-check present, validation is trivially
// true (PPF1/PPF2 have no source precondition).
func (p *Patch) ValidateSource(source *core.ByteBuffer, skipHeaderSize int) (bool, error) {
	if !p.blockCheck {
		return true, nil
	}
	data := source.Bytes()
	if skipHeaderSize > len(data) {
		skipHeaderSize = len(data)
	}
	data = data[skipHeaderSize:]

	check := make([]byte, blockCheckSize)
	n := len(data)
	if n > blockCheckSize {
		n = blockCheckSize
	}
	copy(check, data[:n])

	return bytes.Equal(check, p.blockCheckData), nil
}

// Apply clones source, seeks to each record's offset, and writes its data.
func (p *Patch) Apply(source *core.ByteBuffer, _ core.ApplyOptions) (*core.ByteBuffer, error) {
	target := source.Clone()
	target.SetLittleEndian(true)

	for _, rec := range p.records {
		if int(rec.offset) > target.Size() {
			target.Expand(int(rec.offset))
		}
		target.Seek(int(rec.offset))
		target.WriteBytes(rec.data)
	}

	return target, nil
}

// Export re-serializes the patch to its container bytes.
func (p *Patch) Export(_ string) ([]byte, error) {
	out := core.NewByteBufferSize(0)
	out.SetLittleEndian(true)
	out.WriteString(magicPrefix)

	switch p.version {
	case 1:
		out.WriteString("10")
	case 2:
		out.WriteString("20")
	case 3:
		out.WriteString("30")
	}

	desc := make([]byte, 50)
	copy(desc, p.description)
	out.WriteBytes(desc)

	switch p.version {
	case 2:
		out.WriteU32(p.inputFileSize)
	case 3:
		out.WriteU8(p.imageType)
		if p.blockCheck {
			out.WriteU8(1)
		} else {
			out.WriteU8(0)
		}
		if p.undoData {
			out.WriteU8(1)
		} else {
			out.WriteU8(0)
		}
		if p.blockCheck {
			out.WriteBytes(p.blockCheckData)
		}
	}

	for _, rec := range p.records {
		if p.version == 3 {
			out.WriteU64(rec.offset)
		} else {
			out.WriteU32(uint32(rec.offset))
		}
		out.WriteU8(uint8(len(rec.data)))
		out.WriteBytes(rec.data)
		if p.version == 3 && p.undoData {
			out.WriteBytes(rec.undo)
		}
	}

	if p.dizText != "" {
		out.WriteString(dizMagic)
		out.WriteString(p.dizText)
	}

	return out.Bytes(), nil
}

func (p *Patch) Metadata() map[string]string {
	m := map[string]string{}
	if p.description != "" {
		m["description"] = p.description
	}
	if p.dizText != "" {
		m["diz"] = p.dizText
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

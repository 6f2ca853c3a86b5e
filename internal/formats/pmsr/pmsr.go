// Package pmsr implements the PMSR (Star Rod) container format,
// spec.md §4.3.8.
package pmsr

import (
	"github.com/scigolib/romdiff/internal/core"
	"github.com/scigolib/romdiff/internal/utils"
)

const magic = "PMSR"

// Paper Mario (USA) 1.0 is the only target this format patches.
const (
	targetSize  uint64 = 41943040
	targetCRC32 uint32 = 0xA7F5CD7E
)

type record struct {
	offset uint32
	data   []byte
}

// Patch is the PMSR patch representation.
type Patch struct {
	records []record
}

// Codec implements core.Codec for PMSR.
type Codec struct{}

func (Codec) Tag() core.FormatTag { return core.PMSR }

func (Codec) Identify(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

// Parse decodes a PMSR patch buffer.
func (Codec) Parse(buf *core.ByteBuffer) (core.Patch, error) {
	buf.SetLittleEndian(true)
	buf.Seek(0)

	if got := buf.ReadString(len(magic), "ascii"); got != magic {
		return nil, core.NewPatchError(core.InvalidPatchFile, "PMSR", "bad magic")
	}

	count := buf.ReadU32()
	p := &Patch{}
	for k := uint32(0); k < count; k++ {
		if buf.Tell()+8 > buf.Size() {
			return nil, core.NewPatchError(core.InvalidPatchFile, "PMSR", "record count exceeds file length")
		}
		offset := buf.ReadU32()
		length := buf.ReadU32()
		if err := utils.ValidateRecordBounds(uint64(buf.Tell()), uint64(length), uint64(buf.Size())); err != nil {
			return nil, core.NewPatchError(core.InvalidPatchFile, "PMSR", "record data runs past end of file")
		}
		data := buf.ReadBytes(int(length))
		p.records = append(p.records, record{offset: offset, data: data})
	}

	return p, nil
}

// Build emits one record per maximal run of differing bytes.
func (Codec) Build(source, target *core.ByteBuffer, _ map[string]string) (core.Patch, error) {
	src := source.Bytes()
	dst := target.Bytes()
	srcByte := func(i int) byte {
		if i < len(src) {
			return src[i]
		}
		return 0
	}

	p := &Patch{}
	n := len(dst)
	i := 0
	for i < n {
		if dst[i] == srcByte(i) {
			i++
			continue
		}
		start := i
		j := start
		for j < n {
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
		p.records = append(p.records, record{offset: uint32(start), data: data})
		i = j
	}

	return p, nil
}

func (p *Patch) Format() core.FormatTag { return core.PMSR }
func (p *Patch) SourceSize() uint64     { return targetSize }
func (p *Patch) TargetSize() uint64     { return targetSize }

// ValidateSource requires the exact Paper Mario (USA) 1.0 ROM: a fixed
// size and CRC32.
func (p *Patch) ValidateSource(source *core.ByteBuffer, skipHeaderSize int) (bool, error) {
	data := source.Bytes()
	if skipHeaderSize > len(data) {
		skipHeaderSize = len(data)
	}
	data = data[skipHeaderSize:]

	if uint64(len(data)) != targetSize {
		return false, nil
	}
	return core.CRC32(data, 0, len(data)) == targetCRC32, nil
}

// Apply clones source and overwrites each record's byte range, expanding
// the buffer when a record extends beyond its current end.
func (p *Patch) Apply(source *core.ByteBuffer, _ core.ApplyOptions) (*core.ByteBuffer, error) {
	target := source.Clone()
	target.SetLittleEndian(true)

	for _, rec := range p.records {
		end, err := utils.SafeAdd(uint64(rec.offset), uint64(len(rec.data)))
		if err != nil {
			return nil, core.NewPatchError(core.InvalidPatchFile, "PMSR", "record offset overflows")
		}
		if end > uint64(target.Size()) {
			target.Expand(int(end))
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
	out.WriteString(magic)
	out.WriteU32(uint32(len(p.records)))

	for _, rec := range p.records {
		out.WriteU32(rec.offset)
		out.WriteU32(uint32(len(rec.data)))
		out.WriteBytes(rec.data)
	}

	return out.Bytes(), nil
}

func (p *Patch) Metadata() map[string]string { return nil }

// Package vcdiff implements a decoder for the VCDIFF delta format
// (RFC 3284), spec.md §4.3.9. Only the default code table and the two
// standard secondary compressors' absence are supported: a custom code
// table or a secondary decompressor both fail with UnsupportedFeature.
// Encoding (Build/Export) is out of scope; spec.md marks VCDIFF
// decode-only.
package vcdiff

import (
	"github.com/scigolib/romdiff/internal/core"
	"github.com/scigolib/romdiff/internal/utils"
)

const format = "VCDIFF"

var magic = [3]byte{0xD6, 0xC3, 0xC4}

const (
	hdrIndicatorDecompress = 0x01
	hdrIndicatorCodeTable  = 0x02
	hdrIndicatorAppHeader  = 0x04

	winIndicatorSource  = 0x01
	winIndicatorTarget  = 0x02
	winIndicatorAdler32 = 0x04
)

// addressCache implements the VCDIFF address cache (spec.md §4.3.9): a
// near cache updated round-robin and a same cache indexed by
// addr mod (sameSize*256).
type addressCache struct {
	near     [defaultNearSize]uint64
	nextSlot int
	same     [defaultSameSize * 256]uint64
}

func newAddressCache() *addressCache {
	return &addressCache{}
}

func (c *addressCache) update(addr uint64) {
	c.near[c.nextSlot] = addr
	c.nextSlot = (c.nextSlot + 1) % defaultNearSize
	c.same[addr%uint64(defaultSameSize*256)] = addr
}

// decodeAddress reads one COPY address for the given mode. here is the
// current absolute position in the combined source+target address space.
func (c *addressCache) decodeAddress(mode int, here uint64, addresses *core.ByteBuffer) uint64 {
	var addr uint64
	switch {
	case mode == 0: // self: absolute address, encoded directly
		addr = readVCDInt(addresses)
	case mode == 1: // here: relative to the current position
		addr = here - readVCDInt(addresses)
	case mode >= 2 && mode < 2+defaultNearSize: // near cache + delta
		idx := mode - 2
		addr = c.near[idx] + readVCDInt(addresses)
	default: // same cache, indexed by one immediate byte
		idx := mode - (2 + defaultNearSize)
		b := addresses.ReadU8()
		addr = c.same[idx*256+int(b)]
	}
	c.update(addr)
	return addr
}

// readVCDInt decodes RFC 3284's variable-length integer: big-endian
// base-128 digits, continuation bit (0x80) set on every byte but the last.
// This is distinct from both byte-cursor VLV schemes (spec.md §4.1); it is
// specific to VCDIFF's wire format and has no other user in this module.
func readVCDInt(buf *core.ByteBuffer) uint64 {
	var v uint64
	for {
		b := buf.ReadU8()
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	return v
}

type window struct {
	hasSource      bool
	sourceIsTarget bool
	sourceLength   uint64
	sourcePos      uint64
	targetLength   uint64
	hasAdler32     bool
	adler32        uint32
	data           []byte
	instructions   []byte
	addresses      []byte
}

// Patch is a parsed VCDIFF delta file.
type Patch struct {
	sourceSize uint64
	targetSize uint64
	windows    []window
}

// Codec implements core.Codec for VCDIFF.
type Codec struct{}

func (Codec) Tag() core.FormatTag { return core.VCDIFF }

func (Codec) Identify(data []byte) bool {
	return len(data) >= 4 && data[0] == magic[0] && data[1] == magic[1] && data[2] == magic[2]
}

// Parse decodes a VCDIFF delta file into a sequence of windows.
func (Codec) Parse(buf *core.ByteBuffer) (core.Patch, error) {
	buf.SetLittleEndian(false)
	buf.Seek(0)

	if buf.Size() < 5 {
		return nil, core.NewPatchError(core.InvalidPatchFile, format, "file too short for header")
	}
	got := buf.ReadBytes(3)
	if got[0] != magic[0] || got[1] != magic[1] || got[2] != magic[2] {
		return nil, core.NewPatchError(core.InvalidPatchFile, format, "bad magic")
	}
	_ = buf.ReadU8() // version

	hdrIndicator := buf.ReadU8()
	if hdrIndicator&hdrIndicatorDecompress != 0 {
		return nil, core.NewPatchError(core.UnsupportedFeature, format, "secondary decompressor is not supported")
	}
	if hdrIndicator&hdrIndicatorCodeTable != 0 {
		return nil, core.NewPatchError(core.UnsupportedFeature, format, "custom code table is not supported")
	}
	if hdrIndicator&hdrIndicatorAppHeader != 0 {
		n := readVCDInt(buf)
		buf.Skip(int(n))
	}

	p := &Patch{}
	for buf.Tell() < buf.Size() {
		w, err := parseWindow(buf)
		if err != nil {
			return nil, err
		}
		p.windows = append(p.windows, w)
		p.targetSize += w.targetLength
	}
	if len(p.windows) > 0 && p.windows[0].hasSource {
		p.sourceSize = p.windows[0].sourceLength
	}

	return p, nil
}

func parseWindow(buf *core.ByteBuffer) (window, error) {
	var w window

	winIndicator := buf.ReadU8()
	w.hasSource = winIndicator&(winIndicatorSource|winIndicatorTarget) != 0
	w.sourceIsTarget = winIndicator&winIndicatorTarget != 0
	if w.hasSource {
		w.sourceLength = readVCDInt(buf)
		w.sourcePos = readVCDInt(buf)
	}

	_ = readVCDInt(buf) // length of the delta encoding (redundant framing)
	w.targetLength = readVCDInt(buf)

	deltaIndicator := buf.ReadU8()
	if deltaIndicator != 0 {
		return w, core.NewPatchError(core.UnsupportedFeature, format, "secondary-compressed delta sections are not supported")
	}

	dataLen := readVCDInt(buf)
	instLen := readVCDInt(buf)
	addrLen := readVCDInt(buf)
	for _, n := range []uint64{dataLen, instLen, addrLen} {
		if n > utils.MaxRecordLength {
			return w, core.NewPatchError(core.InvalidPatchFile, format, "window sub-stream length exceeds the resource ceiling")
		}
	}

	if winIndicator&winIndicatorAdler32 != 0 {
		w.hasAdler32 = true
		w.adler32 = buf.ReadU32()
	}

	w.data = buf.ReadBytes(int(dataLen))
	w.instructions = buf.ReadBytes(int(instLen))
	w.addresses = buf.ReadBytes(int(addrLen))

	return w, nil
}

func (p *Patch) Format() core.FormatTag { return core.VCDIFF }
func (p *Patch) SourceSize() uint64     { return p.sourceSize }
func (p *Patch) TargetSize() uint64     { return p.targetSize }

// ValidateSource is trivially true: VCDIFF windows carry their own source
// segment bounds and are checked individually during Apply.
func (p *Patch) ValidateSource(_ *core.ByteBuffer, _ int) (bool, error) {
	return true, nil
}

// Apply decodes every window in order, growing a single target buffer
// that COPY addresses past the current window's source segment index
// into directly (VCDIFF windows may reference target bytes produced by
// earlier windows).
func (p *Patch) Apply(source *core.ByteBuffer, _ core.ApplyOptions) (*core.ByteBuffer, error) {
	src := source.Bytes()
	var target []byte

	for _, w := range p.windows {
		var sourceData []byte
		switch {
		case w.sourceIsTarget:
			end := w.sourcePos + w.sourceLength
			if end > uint64(len(target)) {
				return nil, core.NewPatchError(core.InvalidPatchFile, format, "target-window source segment runs past decoded target")
			}
			sourceData = target[w.sourcePos:end]
		case w.hasSource:
			end := w.sourcePos + w.sourceLength
			if end > uint64(len(src)) {
				return nil, core.NewPatchError(core.InvalidSourceFile, format, "source segment runs past end of source file")
			}
			sourceData = src[w.sourcePos:end]
		}

		out, err := decodeWindow(w, sourceData, target)
		if err != nil {
			return nil, err
		}
		target = append(target, out...)

		if w.hasAdler32 {
			got := core.Adler32(out, 0, len(out))
			if got != w.adler32 {
				return nil, core.NewPatchError(core.TargetChecksumMismatch, format, "window adler32 mismatch")
			}
		}
	}

	result := core.NewByteBufferSize(len(target))
	result.WriteBytes(target)
	result.Seek(0)
	return result, nil
}

// decodeWindow executes one window's instruction stream, producing its
// target bytes. priorTarget is every target byte produced by earlier
// windows, needed because COPY addresses index a single growing address
// space across the whole file.
func decodeWindow(w window, sourceData, priorTarget []byte) ([]byte, error) {
	insts := core.NewByteBuffer(w.instructions)
	insts.SetLittleEndian(false)
	addrs := core.NewByteBuffer(w.addresses)
	addrs.SetLittleEndian(false)
	data := core.NewByteBuffer(w.data)
	data.SetLittleEndian(false)

	cache := newAddressCache()
	out := make([]byte, 0, w.targetLength)

	emit := func(from []byte) {
		out = append(out, from...)
	}

	copyBytes := func(addr uint64, size int) error {
		for k := 0; k < size; k++ {
			pos := addr + uint64(k)
			var b byte
			switch {
			case pos < uint64(len(sourceData)):
				b = sourceData[pos]
			default:
				idx := pos - uint64(len(sourceData))
				if idx < uint64(len(priorTarget)) {
					b = priorTarget[idx]
				} else {
					tgtIdx := idx - uint64(len(priorTarget))
					if tgtIdx >= uint64(len(out)) {
						return core.NewPatchError(core.InvalidPatchFile, format, "COPY address runs past decoded data")
					}
					b = out[tgtIdx]
				}
			}
			out = append(out, b)
		}
		return nil
	}

	runHalf := func(h halfInstruction) error {
		switch h.typ {
		case instNoop:
			return nil
		case instAdd:
			size := h.size
			if size == 0 {
				size = int(readVCDInt(insts))
			}
			emit(data.ReadBytes(size))
			return nil
		case instRun:
			size := h.size
			if size == 0 {
				size = int(readVCDInt(insts))
			}
			b := data.ReadU8()
			for k := 0; k < size; k++ {
				out = append(out, b)
			}
			return nil
		case instCopy:
			size := h.size
			if size == 0 {
				size = int(readVCDInt(insts))
			}
			here := uint64(len(sourceData)) + uint64(len(priorTarget)) + uint64(len(out))
			addr := cache.decodeAddress(h.mode, here, addrs)
			return copyBytes(addr, size)
		}
		return nil
	}

	for insts.Tell() < insts.Size() {
		code := insts.ReadU8()
		entry := defaultCodeTable[code]
		if err := runHalf(entry.first); err != nil {
			return nil, err
		}
		if err := runHalf(entry.second); err != nil {
			return nil, err
		}
	}

	if uint64(len(out)) != w.targetLength {
		return nil, core.NewPatchError(core.InvalidPatchFile, format, "window produced a different length than declared")
	}
	return out, nil
}

// Build is unsupported: spec.md marks VCDIFF decode-only.
func (Codec) Build(_, _ *core.ByteBuffer, _ map[string]string) (core.Patch, error) {
	return nil, core.NewPatchError(core.UnsupportedFeature, format, "encoding VCDIFF patches is not supported")
}

// Export is unsupported for the same reason as Build.
func (p *Patch) Export(_ string) ([]byte, error) {
	return nil, core.NewPatchError(core.UnsupportedFeature, format, "re-encoding VCDIFF patches is not supported")
}

func (p *Patch) Metadata() map[string]string { return nil }

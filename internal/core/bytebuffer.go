// Package core provides the low-level primitives shared by every patch
// format codec: the byte cursor, the checksum algorithms, and the codec
// contract they all implement.
package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/scigolib/romdiff/internal/utils"
)

// ErrEmptyCursorStack is returned by Restore when no matching Save exists.
var ErrEmptyCursorStack = errors.New("cursor save stack is empty")

// ByteBuffer is a resizable byte array with a movable cursor, the "binary
// file" value type of spec.md §4.1. It is owned by a single holder at a
// time; the dispatcher borrows it during apply and returns a freshly owned
// buffer rather than aliasing it.
type ByteBuffer struct {
	data         []byte
	size         int
	offset       int
	littleEndian bool
	name         string
	cursorStack  []int
}

// NewByteBuffer wraps a copy of raw bytes. The cursor starts at 0.
func NewByteBuffer(data []byte) *ByteBuffer {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ByteBuffer{data: buf, size: len(data), littleEndian: true}
}

// NewByteBufferSize allocates a zero-filled buffer of the requested size.
func NewByteBufferSize(n int) *ByteBuffer {
	if n < 0 {
		n = 0
	}
	return &ByteBuffer{data: make([]byte, n), size: n, littleEndian: true}
}

// NewByteBufferFromReader loads size bytes from r starting at offset 0.
func NewByteBufferFromReader(r utils.ReaderAt, size int64) (*ByteBuffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative buffer size: %d", size)
	}
	data := make([]byte, size)
	if size > 0 {
		if _, err := r.ReadAt(data, 0); err != nil {
			return nil, utils.WrapError("byte buffer load failed", err)
		}
	}
	return &ByteBuffer{data: data, size: int(size), littleEndian: true}, nil
}

// Name returns the buffer's optional free-text label.
func (b *ByteBuffer) Name() string { return b.name }

// SetName sets the buffer's optional free-text label.
func (b *ByteBuffer) SetName(name string) { b.name = name }

// SetLittleEndian sets the endianness used by multi-byte typed reads/writes.
func (b *ByteBuffer) SetLittleEndian(v bool) { b.littleEndian = v }

// LittleEndian reports the buffer's current endianness flag.
func (b *ByteBuffer) LittleEndian() bool { return b.littleEndian }

func (b *ByteBuffer) order() binary.ByteOrder {
	if b.littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Size returns the logical length of the buffer.
func (b *ByteBuffer) Size() int { return b.size }

// Tell returns the current cursor position.
func (b *ByteBuffer) Tell() int { return b.offset }

// Seek clamps o to [0, size] and moves the cursor there.
func (b *ByteBuffer) Seek(o int) {
	if o < 0 {
		o = 0
	}
	if o > b.size {
		o = b.size
	}
	b.offset = o
}

// Skip advances the cursor by n bytes (n may be negative), clamped to [0, size].
func (b *ByteBuffer) Skip(n int) { b.Seek(b.offset + n) }

// Save pushes the current cursor position onto a stack for nested parsing.
func (b *ByteBuffer) Save() { b.cursorStack = append(b.cursorStack, b.offset) }

// Restore pops the most recently saved cursor position and seeks to it.
func (b *ByteBuffer) Restore() error {
	n := len(b.cursorStack)
	if n == 0 {
		return ErrEmptyCursorStack
	}
	pos := b.cursorStack[n-1]
	b.cursorStack = b.cursorStack[:n-1]
	b.offset = pos
	return nil
}

// Clone returns a deep copy of the byte range [0, size).
func (b *ByteBuffer) Clone() *ByteBuffer {
	out := NewByteBuffer(b.data[:b.size])
	out.littleEndian = b.littleEndian
	out.name = b.name
	return out
}

// Bytes returns the logical byte range [0, size). Callers must not mutate
// the returned slice; it aliases the buffer's backing store.
func (b *ByteBuffer) Bytes() []byte { return b.data[:b.size] }

// ensureCapacity grows the backing store so it can hold at least n bytes.
func (b *ByteBuffer) ensureCapacity(n int) {
	if n <= len(b.data) {
		return
	}
	grown := make([]byte, n)
	copy(grown, b.data)
	b.data = grown
}

// Expand grows the backing store to at least n bytes, zero-filling the new
// region. It is idempotent when the buffer is already large enough.
func (b *ByteBuffer) Expand(n int) {
	if n <= b.size {
		return
	}
	b.ensureCapacity(n)
	b.size = n
}

// Truncate shrinks the logical size to n, clamping the cursor if it now
// falls past the new end.
func (b *ByteBuffer) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < b.size {
		b.size = n
	}
	if b.offset > b.size {
		b.offset = b.size
	}
}

// readRaw returns n bytes from the cursor, zero-padding any portion past
// size, and advances the cursor by the number of bytes actually available
// (clamped to size) — reads past size never move the cursor past size.
func (b *ByteBuffer) readRaw(n int) []byte {
	out := make([]byte, n)
	avail := b.size - b.offset
	if avail < 0 {
		avail = 0
	}
	if avail > n {
		avail = n
	}
	if avail > 0 {
		copy(out, b.data[b.offset:b.offset+avail])
	}
	b.offset += avail
	if b.offset > b.size {
		b.offset = b.size
	}
	return out
}

// writeRaw writes buf at the cursor, extending the backing store and size
// as needed, and advances the cursor by len(buf).
func (b *ByteBuffer) writeRaw(buf []byte) {
	end := b.offset + len(buf)
	b.ensureCapacity(end)
	copy(b.data[b.offset:end], buf)
	b.offset = end
	if b.offset > b.size {
		b.size = b.offset
	}
}

// ReadU8 reads one byte, or 0 past size.
func (b *ByteBuffer) ReadU8() uint8 {
	out := b.readRaw(1)
	return out[0]
}

// readScratch fills a pooled n-byte buffer from the cursor for a read that
// is decoded and discarded before returning, never retained by the caller.
func (b *ByteBuffer) readScratch(n int) []byte {
	scratch := utils.GetBuffer(n)
	avail := b.size - b.offset
	if avail < 0 {
		avail = 0
	}
	if avail > n {
		avail = n
	}
	if avail > 0 {
		copy(scratch, b.data[b.offset:b.offset+avail])
	}
	for i := avail; i < n; i++ {
		scratch[i] = 0
	}
	b.offset += avail
	if b.offset > b.size {
		b.offset = b.size
	}
	return scratch
}

// ReadU16 reads a 16-bit value honoring the buffer's endianness.
func (b *ByteBuffer) ReadU16() uint16 {
	scratch := b.readScratch(2)
	defer utils.ReleaseBuffer(scratch)
	return b.order().Uint16(scratch)
}

// ReadU24 reads a 24-bit value honoring the buffer's endianness.
func (b *ByteBuffer) ReadU24() uint32 {
	raw := b.readScratch(3)
	defer utils.ReleaseBuffer(raw)
	if b.littleEndian {
		return uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16
	}
	return uint32(raw[2]) | uint32(raw[1])<<8 | uint32(raw[0])<<16
}

// ReadU32 reads a 32-bit value honoring the buffer's endianness.
func (b *ByteBuffer) ReadU32() uint32 {
	scratch := b.readScratch(4)
	defer utils.ReleaseBuffer(scratch)
	return b.order().Uint32(scratch)
}

// ReadU64 reads a 64-bit value honoring the buffer's endianness. PPF v3
// needs the full 64 bits: offsets must never be silently truncated to 32.
func (b *ByteBuffer) ReadU64() uint64 {
	scratch := b.readScratch(8)
	defer utils.ReleaseBuffer(scratch)
	return b.order().Uint64(scratch)
}

// ReadBytes reads n raw bytes (zero-padded past size).
func (b *ByteBuffer) ReadBytes(n int) []byte { return b.readRaw(n) }

// WriteU8 writes one byte, extending the buffer if needed.
func (b *ByteBuffer) WriteU8(v uint8) { b.writeRaw([]byte{v}) }

// WriteU16 writes a 16-bit value honoring the buffer's endianness.
func (b *ByteBuffer) WriteU16(v uint16) {
	buf := utils.GetBuffer(2)
	defer utils.ReleaseBuffer(buf)
	b.order().PutUint16(buf, v)
	b.writeRaw(buf)
}

// WriteU24 writes a 24-bit value honoring the buffer's endianness.
func (b *ByteBuffer) WriteU24(v uint32) {
	buf := utils.GetBuffer(3)
	defer utils.ReleaseBuffer(buf)
	if b.littleEndian {
		buf[0], buf[1], buf[2] = byte(v), byte(v>>8), byte(v>>16)
	} else {
		buf[0], buf[1], buf[2] = byte(v>>16), byte(v>>8), byte(v)
	}
	b.writeRaw(buf)
}

// WriteU32 writes a 32-bit value honoring the buffer's endianness.
func (b *ByteBuffer) WriteU32(v uint32) {
	buf := utils.GetBuffer(4)
	defer utils.ReleaseBuffer(buf)
	b.order().PutUint32(buf, v)
	b.writeRaw(buf)
}

// WriteU64 writes a 64-bit value honoring the buffer's endianness.
func (b *ByteBuffer) WriteU64(v uint64) {
	buf := utils.GetBuffer(8)
	defer utils.ReleaseBuffer(buf)
	b.order().PutUint64(buf, v)
	b.writeRaw(buf)
}

// WriteBytes writes raw bytes, extending the buffer if needed.
func (b *ByteBuffer) WriteBytes(data []byte) { b.writeRaw(data) }

// ReadString reads n bytes and decodes them per enc ("ascii" or "utf-8").
// ASCII decoding truncates at the first NUL byte.
func (b *ByteBuffer) ReadString(n int, enc string) string {
	raw := b.readRaw(n)
	if enc == "ascii" {
		if idx := bytes.IndexByte(raw, 0); idx >= 0 {
			raw = raw[:idx]
		}
	}
	return string(raw)
}

// WriteString writes s as raw bytes (no length prefix, no NUL terminator).
func (b *ByteBuffer) WriteString(s string) { b.writeRaw([]byte(s)) }

// ReadVLVUPS decodes a UPS/BPS-style base-128 variable-length integer with
// continuation bias (spec.md §4.1): after each non-terminal digit, the
// running shift is multiplied by 128 and then added to the total before the
// next digit is read. This is the canonical BPS/UPS integer encoding. A
// number cut off by the end of the buffer stops at the buffer's last byte.
func (b *ByteBuffer) ReadVLVUPS() uint64 {
	var data, shift uint64 = 0, 1
	for {
		x := b.ReadU8()
		data += uint64(x&0x7f) * shift
		if x&0x80 != 0 || b.offset >= b.size {
			break
		}
		shift <<= 7
		data += shift
	}
	return data
}

// WriteVLVUPS encodes v using the UPS/BPS variable-length integer scheme,
// the exact inverse of ReadVLVUPS.
func (b *ByteBuffer) WriteVLVUPS(v uint64) {
	for {
		x := v & 0x7f
		v >>= 7
		if v == 0 {
			b.WriteU8(byte(0x80 | x))
			return
		}
		b.WriteU8(byte(x))
		v--
	}
}

// ReadVLVRUP decodes a RUP-style length-prefixed integer: one length byte
// (L-1), then L little-endian bytes forming the magnitude.
func (b *ByteBuffer) ReadVLVRUP() uint64 {
	l := int(b.ReadU8()) + 1
	raw := b.readRaw(l)
	var v uint64
	for i := 0; i < l && i < 8; i++ {
		v |= uint64(raw[i]) << (8 * uint(i))
	}
	return v
}

// WriteVLVRUP encodes v using the RUP length-prefixed integer scheme, the
// exact inverse of ReadVLVRUP, using the minimal number of magnitude bytes.
func (b *ByteBuffer) WriteVLVRUP(v uint64) {
	n := 1
	for x := v >> 8; x > 0; x >>= 8 {
		n++
	}
	b.WriteU8(byte(n - 1))
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	b.writeRaw(buf)
}

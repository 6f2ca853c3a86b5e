package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVLVUPS_RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 129, 16383, 16384, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range values {
		buf := NewByteBufferSize(0)
		buf.WriteVLVUPS(v)
		buf.Seek(0)
		require.Equal(t, v, buf.ReadVLVUPS(), "value %d", v)
	}
}

func TestVLVRUP_RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 255, 256, 65535, 65536, 1 << 24, 1 << 40, ^uint64(0)}
	for _, v := range values {
		buf := NewByteBufferSize(0)
		buf.WriteVLVRUP(v)
		buf.Seek(0)
		require.Equal(t, v, buf.ReadVLVRUP(), "value %d", v)
	}
}

func TestByteBuffer_TypedReadWrite(t *testing.T) {
	buf := NewByteBufferSize(0)
	buf.SetLittleEndian(true)
	buf.WriteU8(0xAB)
	buf.WriteU16(0x1234)
	buf.WriteU24(0x010203)
	buf.WriteU32(0xDEADBEEF)
	buf.WriteU64(0x0102030405060708)

	buf.Seek(0)
	require.Equal(t, uint8(0xAB), buf.ReadU8())
	require.Equal(t, uint16(0x1234), buf.ReadU16())
	require.Equal(t, uint32(0x010203), buf.ReadU24())
	require.Equal(t, uint32(0xDEADBEEF), buf.ReadU32())
	require.Equal(t, uint64(0x0102030405060708), buf.ReadU64())
}

func TestByteBuffer_U64NotTruncated(t *testing.T) {
	buf := NewByteBufferSize(0)
	buf.SetLittleEndian(false)
	v := uint64(0x1_0000_0005)
	buf.WriteU64(v)
	buf.Seek(0)
	require.Equal(t, v, buf.ReadU64())
}

func TestByteBuffer_SaveRestore(t *testing.T) {
	buf := NewByteBuffer([]byte("0123456789"))
	buf.Seek(3)
	buf.Save()
	buf.Seek(8)
	require.NoError(t, buf.Restore())
	require.Equal(t, 3, buf.Tell())

	require.ErrorIs(t, buf.Restore(), ErrEmptyCursorStack)
}

func TestByteBuffer_ExpandTruncate(t *testing.T) {
	buf := NewByteBuffer([]byte("abc"))
	buf.Expand(6)
	require.Equal(t, 6, buf.Size())
	require.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0}, buf.Bytes())

	buf.Truncate(2)
	require.Equal(t, []byte{'a', 'b'}, buf.Bytes())
}

func TestByteBuffer_ReadPastEndZeroPads(t *testing.T) {
	buf := NewByteBuffer([]byte{1, 2})
	buf.Seek(0)
	got := buf.ReadBytes(5)
	require.Equal(t, []byte{1, 2, 0, 0, 0}, got)
	require.Equal(t, 2, buf.Tell())
}

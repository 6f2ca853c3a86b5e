package ppf

import (
	"testing"

	"github.com/scigolib/romdiff/internal/core"
	"github.com/stretchr/testify/require"
)

func TestCodec_Identify(t *testing.T) {
	c := Codec{}
	require.True(t, c.Identify([]byte("PPF30xxxx")))
	require.True(t, c.Identify([]byte("PPF10xxxx")))
	require.False(t, c.Identify([]byte("PPF99xxxx")))
	require.False(t, c.Identify([]byte("PATCH")))
}

func TestBuildApply_V3RoundTrip(t *testing.T) {
	source := core.NewByteBuffer([]byte("the quick brown fox jumps over"))
	target := core.NewByteBuffer([]byte("the quick RED fox jumps over!!"))

	c := Codec{}
	patch, err := c.Build(source, target, map[string]string{"description": "test"})
	require.NoError(t, err)
	require.Equal(t, 3, patch.(*Patch).version)

	applied, err := patch.Apply(source, core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, target.Bytes(), applied.Bytes())
}

func TestExportParse_RoundTrip(t *testing.T) {
	source := core.NewByteBuffer([]byte("0123456789"))
	target := core.NewByteBuffer([]byte("01ZZZ56789"))

	c := Codec{}
	patch, err := c.Build(source, target, nil)
	require.NoError(t, err)

	raw, err := patch.Export("")
	require.NoError(t, err)

	reparsed, err := c.Parse(core.NewByteBuffer(raw))
	require.NoError(t, err)

	applied, err := reparsed.Apply(source, core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, target.Bytes(), applied.Bytes())
}

func TestValidateSource_BlockCheck(t *testing.T) {
	sourceBytes := make([]byte, 2048)
	for i := range sourceBytes {
		sourceBytes[i] = byte(i)
	}
	source := core.NewByteBuffer(sourceBytes)

	p := &Patch{version: 3, blockCheck: true}
	p.blockCheckData = make([]byte, blockCheckSize)
	copy(p.blockCheckData, sourceBytes[:blockCheckSize])

	ok, err := p.ValidateSource(source, 0)
	require.NoError(t, err)
	require.True(t, ok)

	p.blockCheckData[0] ^= 0xFF
	ok, err = p.ValidateSource(source, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParse_DIZTrailer(t *testing.T) {
	out := core.NewByteBufferSize(0)
	out.SetLittleEndian(true)
	out.WriteString(magicPrefix)
	out.WriteString("30")
	out.WriteBytes(make([]byte, 50))
	out.WriteU8(0) // imageType
	out.WriteU8(0) // blockCheck
	out.WriteU8(0) // undoData
	out.WriteString(dizMagic)
	out.WriteString("A fine ROM patch.")

	c := Codec{}
	patch, err := c.Parse(out)
	require.NoError(t, err)
	require.Equal(t, "A fine ROM patch.", patch.Metadata()["diz"])
}

func TestParse_64BitOffsetNotTruncated(t *testing.T) {
	bigOffset := uint64(0x1_0000_0005) // exceeds 32 bits

	out := core.NewByteBufferSize(0)
	out.SetLittleEndian(true)
	out.WriteString(magicPrefix)
	out.WriteString("30")
	out.WriteBytes(make([]byte, 50))
	out.WriteU8(0)
	out.WriteU8(0)
	out.WriteU8(0)
	out.WriteU64(bigOffset)
	out.WriteU8(1)
	out.WriteBytes([]byte{0xAB})

	c := Codec{}
	patch, err := c.Parse(out)
	require.NoError(t, err)
	require.Equal(t, bigOffset, patch.(*Patch).records[0].offset)
}

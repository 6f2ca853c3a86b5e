package apsgba

import (
	"testing"

	"github.com/scigolib/romdiff/internal/core"
	"github.com/stretchr/testify/require"
)

func TestCodec_Identify(t *testing.T) {
	c := Codec{}
	require.True(t, c.Identify([]byte("APS1\x00\x00")))
	require.False(t, c.Identify([]byte("APS10")), "APS10 is the APS-N64 magic, not APS-GBA")
	require.False(t, c.Identify([]byte("PATCH")))
}

func TestBuildApply_SingleBlock(t *testing.T) {
	srcBytes := make([]byte, 100)
	for i := range srcBytes {
		srcBytes[i] = byte(i)
	}
	dstBytes := make([]byte, 100)
	copy(dstBytes, srcBytes)
	dstBytes[10] = 0xFF
	dstBytes[50] = 0xEE

	source := core.NewByteBuffer(srcBytes)
	target := core.NewByteBuffer(dstBytes)

	c := Codec{}
	patch, err := c.Build(source, target, nil)
	require.NoError(t, err)
	require.Len(t, patch.(*Patch).blocks, 1)

	ok, err := patch.ValidateSource(source, 0)
	require.NoError(t, err)
	require.True(t, ok)

	applied, err := patch.Apply(source, core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, target.Bytes(), applied.Bytes())
}

func TestValidateSource_WrongSize(t *testing.T) {
	source := core.NewByteBuffer(make([]byte, 100))
	target := core.NewByteBuffer(make([]byte, 100))

	c := Codec{}
	patch, err := c.Build(source, target, nil)
	require.NoError(t, err)

	wrongSource := core.NewByteBuffer(make([]byte, 50))
	ok, err := patch.ValidateSource(wrongSource, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApply_TargetCRCMismatch(t *testing.T) {
	source := core.NewByteBuffer(make([]byte, 10))
	target := core.NewByteBuffer([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	c := Codec{}
	patch, err := c.Build(source, target, nil)
	require.NoError(t, err)

	p := patch.(*Patch)
	p.blocks[0].targetCRC16 ^= 0xFFFF

	_, err = patch.Apply(source, core.ApplyOptions{})
	require.Error(t, err)
	var patchErr *core.PatchError
	require.ErrorAs(t, err, &patchErr)
	require.Equal(t, core.TargetChecksumMismatch, patchErr.Kind)
}

func TestExportParse_RoundTrip(t *testing.T) {
	source := core.NewByteBuffer(make([]byte, 20))
	target := core.NewByteBuffer([]byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})

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

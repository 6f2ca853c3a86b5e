package ips

import (
	"testing"

	"github.com/scigolib/romdiff/internal/core"
	"github.com/stretchr/testify/require"
)

func TestCodec_Identify(t *testing.T) {
	c := Codec{}
	require.True(t, c.Identify([]byte("PATCH\x00\x00\x01EOF")))
	require.False(t, c.Identify([]byte("UPS1")))
	require.False(t, c.Identify([]byte("PA")))
}

func TestParseApply_SimpleRecord(t *testing.T) {
	source := core.NewByteBuffer([]byte{0x00, 0x00, 0x00, 0x00, 0x00})

	var raw []byte
	raw = append(raw, []byte(magic)...)
	raw = append(raw, 0x00, 0x00, 0x02) // offset 2
	raw = append(raw, 0x00, 0x03)       // length 3
	raw = append(raw, 0xAA, 0xBB, 0xCC)
	raw = append(raw, []byte(terminator)...)

	buf := core.NewByteBuffer(raw)
	c := Codec{}
	patch, err := c.Parse(buf)
	require.NoError(t, err)
	require.Equal(t, core.IPS, patch.Format())

	target, err := patch.Apply(source, core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0xAA, 0xBB, 0xCC}, target.Bytes())
}

func TestParseApply_RLERecord(t *testing.T) {
	source := core.NewByteBuffer(make([]byte, 5))

	var raw []byte
	raw = append(raw, []byte(magic)...)
	raw = append(raw, 0x00, 0x00, 0x00) // offset 0
	raw = append(raw, 0x00, 0x00)       // length 0 => RLE
	raw = append(raw, 0x00, 0x05)       // RLE length 5
	raw = append(raw, 0xFF)             // fill byte
	raw = append(raw, []byte(terminator)...)

	buf := core.NewByteBuffer(raw)
	c := Codec{}
	patch, err := c.Parse(buf)
	require.NoError(t, err)

	target, err := patch.Apply(source, core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, target.Bytes())
}

func TestParse_Truncation(t *testing.T) {
	var raw []byte
	raw = append(raw, []byte(magic)...)
	raw = append(raw, []byte(terminator)...)
	raw = append(raw, 0x00, 0x00, 0x03) // truncate to 3 bytes

	buf := core.NewByteBuffer(raw)
	c := Codec{}
	patch, err := c.Parse(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(3), patch.TargetSize())

	source := core.NewByteBuffer(make([]byte, 10))
	target, err := patch.Apply(source, core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, target.Size())
}

func TestParse_EOFBytesAreTerminator(t *testing.T) {
	var raw []byte
	raw = append(raw, []byte(magic)...)
	raw = append(raw, 'E', 'O', 'F') // looks like terminator; treated as such

	buf := core.NewByteBuffer(raw)
	c := Codec{}
	_, err := c.Parse(buf)
	require.NoError(t, err) // this is in fact the terminator, not a record
}

func TestParse_BadMagic(t *testing.T) {
	buf := core.NewByteBuffer([]byte("NOPE!extra"))
	c := Codec{}
	_, err := c.Parse(buf)
	require.Error(t, err)
	var patchErr *core.PatchError
	require.ErrorAs(t, err, &patchErr)
	require.Equal(t, core.InvalidPatchFile, patchErr.Kind)
}

func TestBuild_DiffsSourceAgainstTarget(t *testing.T) {
	source := core.NewByteBuffer([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	target := core.NewByteBuffer([]byte{0x01, 0xFF, 0xFF, 0xFF, 0x05})

	c := Codec{}
	patch, err := c.Build(source, target, nil)
	require.NoError(t, err)

	applied, err := patch.Apply(source, core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, target.Bytes(), applied.Bytes())
}

func TestBuild_RLERun(t *testing.T) {
	source := core.NewByteBuffer(make([]byte, 10))
	targetBytes := make([]byte, 10)
	for i := 2; i < 8; i++ {
		targetBytes[i] = 0x77
	}
	target := core.NewByteBuffer(targetBytes)

	c := Codec{}
	patch, err := c.Build(source, target, nil)
	require.NoError(t, err)
	require.Len(t, patch.(*Patch).records, 1)
	require.Equal(t, kindRLE, patch.(*Patch).records[0].kind)

	applied, err := patch.Apply(source, core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, target.Bytes(), applied.Bytes())
}

// TestBuild_LiteralRunAtReservedOffset exercises simpleRecordAvoidingReserved:
// a differing run that would otherwise start exactly at the reserved "EOF"
// offset must shift one byte earlier instead of producing an unrepresentable
// record.
func TestBuild_LiteralRunAtReservedOffset(t *testing.T) {
	size := reservedOffset + 8
	source := make([]byte, size)
	target := append([]byte{}, source...)
	target[reservedOffset] = 0xAA
	target[reservedOffset+1] = 0xBB

	c := Codec{}
	patch, err := c.Build(core.NewByteBuffer(source), core.NewByteBuffer(target), nil)
	require.NoError(t, err)
	for _, rec := range patch.(*Patch).records {
		require.NotEqual(t, uint32(reservedOffset), rec.offset)
	}

	raw, err := patch.Export("")
	require.NoError(t, err)
	reparsed, err := c.Parse(core.NewByteBuffer(raw))
	require.NoError(t, err)
	applied, err := reparsed.Apply(core.NewByteBuffer(source), core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, target, applied.Bytes())
}

// TestBuild_MaxLengthRLEAtReservedOffset exercises the RLE chunking loop's
// one-byte-short cap: a run of 0x10000 identical differing bytes starting
// exactly at the reserved offset would, without the cap, widen its first
// chunk past what a uint16 length field can hold on Export.
func TestBuild_MaxLengthRLEAtReservedOffset(t *testing.T) {
	runLen := 0x10000
	size := reservedOffset + runLen + 4
	source := make([]byte, size)
	target := append([]byte{}, source...)
	for i := 0; i < runLen; i++ {
		target[reservedOffset+i] = 0x42
	}

	c := Codec{}
	patch, err := c.Build(core.NewByteBuffer(source), core.NewByteBuffer(target), nil)
	require.NoError(t, err)
	for _, rec := range patch.(*Patch).records {
		if rec.kind == kindRLE {
			require.LessOrEqual(t, int(rec.rleLen), 0xFFFF)
		} else {
			require.LessOrEqual(t, len(rec.data), 0xFFFF)
		}
	}

	raw, err := patch.Export("")
	require.NoError(t, err)
	reparsed, err := c.Parse(core.NewByteBuffer(raw))
	require.NoError(t, err)
	applied, err := reparsed.Apply(core.NewByteBuffer(source), core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, target, applied.Bytes())
}

func TestBuild_Truncation(t *testing.T) {
	source := core.NewByteBuffer(make([]byte, 10))
	target := core.NewByteBuffer(make([]byte, 4))

	c := Codec{}
	patch, err := c.Build(source, target, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(4), patch.TargetSize())
}

func TestExport_RoundTrip(t *testing.T) {
	source := core.NewByteBuffer([]byte{0x01, 0x02, 0x03})
	target := core.NewByteBuffer([]byte{0x01, 0xEE, 0x03})

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

func TestBuild_EBPMetadata(t *testing.T) {
	source := core.NewByteBuffer([]byte{0x00})
	target := core.NewByteBuffer([]byte{0x01})

	c := Codec{}
	patch, err := c.Build(source, target, map[string]string{"json": `{"note":"test"}`})
	require.NoError(t, err)
	require.Equal(t, core.EBP, patch.Format())
	require.Equal(t, `{"note":"test"}`, patch.Metadata()["json"])
}

func TestExportParse_EBPMetadataRoundTrip(t *testing.T) {
	source := core.NewByteBuffer([]byte{0x00})
	target := core.NewByteBuffer([]byte{0x01})

	c := Codec{}
	patch, err := c.Build(source, target, map[string]string{"json": `{"note":"test"}`})
	require.NoError(t, err)
	require.Nil(t, patch.(*Patch).truncation, "target is not shorter than source, so no truncation value is expected")

	raw, err := patch.Export("")
	require.NoError(t, err)

	reparsed, err := c.Parse(core.NewByteBuffer(raw))
	require.NoError(t, err)
	require.Equal(t, core.EBP, reparsed.Format())
	require.Equal(t, `{"note":"test"}`, reparsed.Metadata()["json"])

	applied, err := reparsed.Apply(source, core.ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, target.Bytes(), applied.Bytes())
}

func TestValidateSource_AlwaysTrue(t *testing.T) {
	c := Codec{}
	patch, err := c.Build(core.NewByteBuffer(nil), core.NewByteBuffer(nil), nil)
	require.NoError(t, err)
	ok, err := patch.ValidateSource(core.NewByteBuffer([]byte{1, 2, 3}), 0)
	require.NoError(t, err)
	require.True(t, ok)
}

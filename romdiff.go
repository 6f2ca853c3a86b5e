// Package romdiff identifies, parses, validates, and applies/creates
// binary ROM patch containers (spec.md §4.4, §6): IPS, UPS, BPS, APS-N64,
// APS-GBA, PPF, RUP, PMSR, and a VCDIFF decoder, plus EBP (IPS with a JSON
// metadata trailer).
package romdiff

import (
	"github.com/scigolib/romdiff/internal/core"
	"github.com/scigolib/romdiff/internal/formats/apsgba"
	"github.com/scigolib/romdiff/internal/formats/apsn64"
	"github.com/scigolib/romdiff/internal/formats/bps"
	"github.com/scigolib/romdiff/internal/formats/ips"
	"github.com/scigolib/romdiff/internal/formats/pmsr"
	"github.com/scigolib/romdiff/internal/formats/ppf"
	"github.com/scigolib/romdiff/internal/formats/rup"
	"github.com/scigolib/romdiff/internal/formats/ups"
	"github.com/scigolib/romdiff/internal/formats/vcdiff"
	"github.com/scigolib/romdiff/internal/utils"
)

// IsLargeFile reports whether size exceeds the dispatcher's informational
// "too large" hint (spec.md §5, ~64 MiB). It is advisory only: callers may
// surface it as a UI warning, but Apply never refuses on this basis alone.
func IsLargeFile(size int) bool {
	return size > utils.LargeFileHint
}

// registry lists every codec in identify-probe order. APS-N64 is probed
// before APS-GBA, and APS-GBA's own Identify also rejects the "APS10"
// collision (spec.md §4.3.5), so either order identifies both. EBP has no
// codec of its own: it shares IPS's "PATCH" magic and the IPS codec parses
// both.
var registry = []core.Codec{
	ips.Codec{},
	ups.Codec{},
	bps.Codec{},
	apsn64.Codec{},
	apsgba.Codec{},
	ppf.Codec{},
	rup.Codec{},
	pmsr.Codec{},
	vcdiff.Codec{},
}

// SupportedFormats enumerates every registered codec's format tag
// (SPEC_FULL.md §5's dispatcher enumeration helper).
func SupportedFormats() []FormatTag {
	tags := make([]FormatTag, 0, len(registry))
	for _, c := range registry {
		tags = append(tags, c.Tag())
	}
	return tags
}

// Identify returns the format tag of the first registered codec whose
// Identify matches data, or (Unknown, false) if none does.
func Identify(data []byte) (FormatTag, bool) {
	for _, c := range registry {
		if c.Identify(data) {
			return c.Tag(), true
		}
	}
	return core.Unknown, false
}

func findCodec(data []byte) core.Codec {
	for _, c := range registry {
		if c.Identify(data) {
			return c
		}
	}
	return nil
}

// Parse reads the first bytes of raw, selects the matching codec, and
// delegates to its Parse (spec.md §4.4).
func Parse(raw []byte) (Patch, error) {
	c := findCodec(raw)
	if c == nil {
		return nil, core.NewPatchError(core.UnsupportedFormat, "unknown", "no registered codec's magic matched")
	}
	return c.Parse(core.NewByteBuffer(raw))
}

// ValidateSource checks patch's source precondition against source,
// skipping skipHeaderSize bytes (console-header aware callers pass the
// stripped header length; 0 otherwise).
func ValidateSource(patch Patch, source []byte, skipHeaderSize int) (bool, error) {
	return patch.ValidateSource(core.NewByteBuffer(source), skipHeaderSize)
}

// Apply produces the target bytes for patch against source, honoring
// options.RequireValidation and the console-header remove/add hooks
// (spec.md §4.4).
func Apply(patch Patch, source []byte, opts ApplyOptions) ([]byte, error) {
	return ApplyNamed(patch, source, "", opts)
}

// ApplyNamed is Apply with an explicit source file name/extension, used to
// look up the console-header table for remove_header/add_header.
func ApplyNamed(patch Patch, source []byte, sourceName string, opts ApplyOptions) ([]byte, error) {
	body, strippedHeader, addedHeaderSize, err := splitConsoleHeader(source, sourceName, opts)
	if err != nil {
		return nil, err
	}

	ceiling := opts.MaxSize
	if ceiling == 0 {
		ceiling = utils.MaxPatchSize
	}
	if sz := patch.SourceSize(); sz != 0 && sz > ceiling {
		return nil, core.NewPatchError(core.InvalidPatchFile, patch.Format().String(), "declared source_size exceeds the resource ceiling")
	}
	if sz := patch.TargetSize(); sz != 0 && sz > ceiling {
		return nil, core.NewPatchError(core.InvalidPatchFile, patch.Format().String(), "declared target_size exceeds the resource ceiling")
	}

	if opts.RequireValidation {
		ok, err := patch.ValidateSource(core.NewByteBuffer(body), 0)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, core.NewPatchError(core.ValidationFailed, patch.Format().String(), "source does not satisfy the patch's declared precondition")
		}
	}

	result, err := patch.Apply(core.NewByteBuffer(body), opts)
	if err != nil {
		return nil, err
	}
	out := result.Bytes()

	if addedHeaderSize > 0 {
		// The synthetic header was prepended before applying; strip it back off.
		if len(out) >= addedHeaderSize {
			out = out[addedHeaderSize:]
		}
		return out, nil
	}
	if len(strippedHeader) > 0 {
		reassembled := make([]byte, 0, len(strippedHeader)+len(out))
		reassembled = append(reassembled, strippedHeader...)
		reassembled = append(reassembled, out...)
		return reassembled, nil
	}
	return out, nil
}

// Create builds a Patch describing the edits from source to modified in
// the given format (spec.md §4.4's create).
func Create(source, modified []byte, format FormatTag, metadata map[string]string) (Patch, error) {
	c := codecForTag(format)
	if c == nil {
		return nil, core.NewPatchError(core.UnsupportedFormat, format.String(), "no codec registered for this format tag")
	}
	return c.Build(core.NewByteBuffer(source), core.NewByteBuffer(modified), metadata)
}

// Export serializes patch back to its container bytes (spec.md §4.4/§6).
func Export(patch Patch, name string) ([]byte, error) {
	return patch.Export(name)
}

func codecForTag(tag FormatTag) core.Codec {
	for _, c := range registry {
		if c.Tag() == tag {
			return c
		}
		// EBP shares the IPS codec.
		if tag == core.EBP && c.Tag() == core.IPS {
			return c
		}
	}
	return nil
}

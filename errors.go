package romdiff

import "github.com/scigolib/romdiff/internal/core"

// Public aliases of the core package's contract types (spec.md §6, §7), so
// callers of this module never need to import internal/core directly.
type (
	// FormatTag identifies one of the supported container formats.
	FormatTag = core.FormatTag
	// Patch is the parsed/buildable representation of any supported format.
	Patch = core.Patch
	// ApplyOptions controls dispatcher and codec behavior during Apply.
	ApplyOptions = core.ApplyOptions
	// PatchError is the typed error every codec and the dispatcher surface.
	PatchError = core.PatchError
	// ErrorKind classifies a PatchError.
	ErrorKind = core.ErrorKind
)

// Supported format tags, spec.md §6.
const (
	// Unknown is returned when no registered codec's magic matches.
	Unknown = core.Unknown
	IPS     = core.IPS
	UPS     = core.UPS
	BPS     = core.BPS
	APSN64  = core.APSN64
	APSGBA  = core.APSGBA
	PPF     = core.PPF
	RUP     = core.RUP
	PMSR    = core.PMSR
	VCDIFF  = core.VCDIFF
	EBP     = core.EBP
)

// The error taxonomy, spec.md §7: each is a distinct kind, never a bare
// string, so callers can branch on PatchError.Kind.
const (
	// InvalidPatchFile: magic matched but the body violates the format.
	InvalidPatchFile = core.InvalidPatchFile
	// UnsupportedFormat: no codec's magic matched.
	UnsupportedFormat = core.UnsupportedFormat
	// UnsupportedFeature: a declared feature isn't implemented.
	UnsupportedFeature = core.UnsupportedFeature
	// ValidationFailed: a source precondition didn't match.
	ValidationFailed = core.ValidationFailed
	// TargetChecksumMismatch: the post-apply target checksum diverged.
	TargetChecksumMismatch = core.TargetChecksumMismatch
	// InvalidSourceFile: the source doesn't meet the codec's structural needs.
	InvalidSourceFile = core.InvalidSourceFile
)

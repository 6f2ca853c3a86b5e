package utils

import (
	"fmt"
	"math"
)

// CheckMultiplyOverflow checks if multiplying two uint64 values would overflow.
// Returns an error if overflow would occur.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil // No overflow when either is zero
	}

	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}

	return nil
}

// SafeMultiply multiplies two uint64 values and returns the result if no overflow occurs.
// Returns 0 and an error if overflow would occur.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// SafeAdd adds two uint64 values, failing rather than wrapping on overflow.
// Patch offsets are attacker-controlled VLVs; a wrapped offset+length sum
// would let a crafted record pass a bounds check it should fail.
func SafeAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("addition overflow: %d + %d exceeds uint64 max", a, b)
	}
	return a + b, nil
}

// ValidateBufferSize validates that a buffer size is within reasonable limits.
// maxSize parameter allows different limits for different use cases.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}
	return nil
}

// Resource limits bounding memory use against a hostile patch container (§5).
const (
	// MaxPatchSize is the default resource ceiling for declared source/target
	// sizes. Callers may raise it explicitly; codecs never raise it for them.
	MaxPatchSize = 256 * 1024 * 1024 // 256 MiB

	// LargeFileHint is the informational "too large" threshold the dispatcher
	// exposes for UI hints; it is advisory only and never rejects by itself.
	LargeFileHint = 64 * 1024 * 1024 // 64 MiB

	// MaxRecordLength bounds a single record/window's declared byte count,
	// independent of the overall patch size ceiling.
	MaxRecordLength = 64 * 1024 * 1024 // 64 MiB
)

// ValidateRecordBounds checks that a record's offset+length does not overflow
// and, when bufSize is non-zero, does not run past the declared buffer size.
// A bufSize of 0 skips the buffer-end check and leaves only the overflow
// check; the IPS, APS-N64, PPF and PMSR parsers all pass the patch size.
func ValidateRecordBounds(offset, length, bufSize uint64) error {
	end, err := SafeAdd(offset, length)
	if err != nil {
		return fmt.Errorf("record bounds overflow at offset %d: %w", offset, err)
	}
	if bufSize != 0 && end > bufSize {
		return fmt.Errorf("record at offset %d length %d overruns buffer of size %d", offset, length, bufSize)
	}
	return nil
}

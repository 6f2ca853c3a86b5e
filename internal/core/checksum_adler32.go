package core

import "hash/adler32"

// Adler32 computes the RFC 1950 Adler-32 checksum of data[start:end],
// used by VCDIFF's optional per-window integrity check.
func Adler32(data []byte, start, end int) uint32 {
	return adler32.Checksum(data[start:end])
}

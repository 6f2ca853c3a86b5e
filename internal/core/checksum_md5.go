package core

import "crypto/md5" //nolint:gosec // MD5 is mandated by the RUP/NINJA2 container format, not used for security.

// MD5Sum computes the MD5 digest of data[start:end], used by RUP to match a
// source buffer against a patch's declared source/target hash and to verify
// the result after apply.
func MD5Sum(data []byte, start, end int) [16]byte {
	return md5.Sum(data[start:end]) //nolint:gosec // see import comment
}

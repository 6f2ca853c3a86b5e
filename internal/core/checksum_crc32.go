package core

import "hash/crc32"

// CRC32 computes the reflected CRC-32 (poly 0xEDB88320, init 0xFFFFFFFF,
// final XOR 0xFFFFFFFF) of data[start:end]. This is the IEEE/"CRC-32"
// variant used by UPS, BPS, and PMSR — the stdlib's hash/crc32.ChecksumIEEE
// implements exactly these parameters, the same package hdf5's superblock
// v4 checksum path uses.
func CRC32(data []byte, start, end int) uint32 {
	return crc32.ChecksumIEEE(data[start:end])
}

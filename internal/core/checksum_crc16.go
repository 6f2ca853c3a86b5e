package core

// CRC16 computes the CCITT-FALSE variant (init 0xFFFF, poly 0x1021,
// MSB-first, no input/output reflection) used by APS-GBA's per-block
// integrity check. No stdlib package covers this variant (hash/crc32 is the
// only CRC package in the standard library), so it is hand-rolled — the same
// justification hdf5 gives for hand-rolling Fletcher-32 in superblock.go
// rather than reaching outside the stdlib for an uncommon checksum.
func CRC16(data []byte, start, end int) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data[start:end] {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

package frame

import "hash/crc32"

// checksum computes the PD wire CRC: IEEE 802.3 polynomial, register
// initialised to 0xFFFFFFFF, no final inversion. This differs from the
// "standard" CRC-32 exposed by crc32.ChecksumIEEE, which inverts both
// ends of the computation; the wire contract here does neither, so the
// loop is written out against the stdlib's reflected IEEE table instead
// of going through crc32.Update (whose Update/Checksum helpers always
// apply the standard init/final inversion pair).
func checksum(data []byte) uint32 {
	tab := crc32.IEEETable
	reg := uint32(0xFFFFFFFF)
	for _, b := range data {
		reg = tab[byte(reg)^b] ^ (reg >> 8)
	}
	return reg
}

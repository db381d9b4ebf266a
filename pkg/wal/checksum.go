package wal

import "hash/crc32"

// castagnoliTable uses the Castagnoli polynomial, which modern CPUs
// compute with a dedicated instruction rather than a software table walk.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CalculateCRC32 computes data's checksum.
func CalculateCRC32(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// ValidateCRC32 reports whether data matches the expected checksum.
func ValidateCRC32(data []byte, expected uint32) bool {
	return CalculateCRC32(data) == expected
}

package chunkformat

import "hash/crc32"

// ieeeTable is CRC-32 with the Intel reflected polynomial 0xEDB88320
// (spec.md §4.1). This is the standard library's crc32.IEEE table; Go's
// crc32 package already dispatches to a hardware-accelerated path on
// amd64/arm64 when available, satisfying the "SSE 4.2 may be substituted
// when it computes the identical value" clause without a separate
// implementation.
var ieeeTable = crc32.MakeTable(crc32.IEEE)

// BlockCRC computes the CRC-32 of a single block's bytes.
func BlockCRC(block []byte) uint32 {
	return crc32.Checksum(block, ieeeTable)
}

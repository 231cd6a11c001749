package chunkformat

// Sizing constants, spec.md §3.
const (
	BlockSize        = 64 * 1024   // 64 KiB
	BlocksPerChunk   = 1024        // 64 MiB logical payload
	ChunkLogicalSize = BlockSize * BlocksPerChunk

	SignatureSize = 8
	CRCEntrySize  = 4 // u32 big-endian

	// headerReserved is the fixed 0..1023 header region common to both
	// signatures: signature(8) + chunk_id(8) + version(4) + part_type_id(1)
	// + zero-padded reserved.
	headerReserved = 1024

	crcTableOffset = headerReserved

	// standardDataOffset is where block data begins for a Standard part:
	// the CRC table for 1024 blocks needs exactly 4096 bytes (1024*4),
	// which does not fit in the 3072-byte window before offset 4096, so
	// both signatures place Standard block data at 1024+4096.
	standardDataOffset = crcTableOffset + BlocksPerChunk*CRCEntrySize // 5120

	// nonStandardDataOffset is where block data begins for XOR/EC parts.
	// Those parts store at most ceil(1024/2)=512 blocks (§4.3 numeric
	// limits), needing at most 2048 bytes of CRC table, which fits inside
	// the fixed 3072-byte window reserved between the header and 4096.
	nonStandardDataOffset = 4096
)

// Signature identifies which on-disk header variant a chunk file uses.
type Signature string

const (
	// SignatureCurrent is the 'LIZC 1.0' header used by new chunk files.
	SignatureCurrent Signature = "LIZC 1.0"
	// SignatureLegacy is the 'MFSC 1.0' header preserved for files
	// written by older chunkservers (spec.md §9 open question: both
	// layouts must be probed and accepted).
	SignatureLegacy Signature = "MFSC 1.0"
)

// DataOffset returns the byte offset where block data begins for the
// given part type, per the layout resolved in DESIGN.md (Open Questions).
func DataOffset(pt PartType) int64 {
	if pt.Family == FamilyStandard {
		return standardDataOffset
	}
	return nonStandardDataOffset
}

// CRCTableOffset is the offset of the first CRC table entry; identical
// for both signatures and all part types.
func CRCTableOffset() int64 { return crcTableOffset }

// BlockOffset returns the absolute file offset of block `index` for the
// given part type.
func BlockOffset(pt PartType, index int) int64 {
	return DataOffset(pt) + int64(index)*BlockSize
}

// CRCOffset returns the absolute file offset of the CRC table entry for
// block `index`.
func CRCOffset(index int) int64 {
	return crcTableOffset + int64(index)*CRCEntrySize
}

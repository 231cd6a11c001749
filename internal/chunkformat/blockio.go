package chunkformat

import (
	"encoding/binary"
	"fmt"
	"os"
)

// ReadCRC reads the stored CRC table entry for a block.
func ReadCRC(f *os.File, blockIndex int) (uint32, error) {
	buf := make([]byte, CRCEntrySize)
	if _, err := f.ReadAt(buf, CRCOffset(blockIndex)); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// UpdateCRCTable overwrites the stored CRC table entry for a block.
func UpdateCRCTable(f *os.File, blockIndex int, crc uint32) error {
	buf := make([]byte, CRCEntrySize)
	binary.BigEndian.PutUint32(buf, crc)
	_, err := f.WriteAt(buf, CRCOffset(blockIndex))
	return err
}

// ReadBlock reads exactly one BlockSize block and returns its bytes. It
// neither reads nor verifies the CRC table entry; use VerifyBlock for
// that.
func ReadBlock(f *os.File, pt PartType, blockIndex int) ([]byte, error) {
	buf := make([]byte, BlockSize)
	n, err := f.ReadAt(buf, BlockOffset(pt, blockIndex))
	if err != nil && n < BlockSize {
		return nil, err
	}
	return buf, nil
}

// VerifyBlock reads block `blockIndex` and compares its CRC against the
// stored table entry (or, if expectedCRC is non-zero, against the
// caller-supplied value). Returns ErrCRCMismatch on mismatch.
func VerifyBlock(f *os.File, pt PartType, blockIndex int, expectedCRC uint32) ([]byte, error) {
	block, err := ReadBlock(f, pt, blockIndex)
	if err != nil {
		return nil, err
	}
	if expectedCRC == 0 {
		expectedCRC, err = ReadCRC(f, blockIndex)
		if err != nil {
			return nil, err
		}
	}
	got := BlockCRC(block)
	if got != expectedCRC {
		return nil, fmt.Errorf("%w: block %d: got %08x want %08x", ErrCRCMismatch, blockIndex, got, expectedCRC)
	}
	return block, nil
}

// WriteBlock overwrites the region [offsetInBlock, offsetInBlock+size) of
// block `blockIndex` with data, recomputes the CRC over the full
// resulting block, and updates the CRC table. If (offsetInBlock, size)
// is not (0, BlockSize), the bytes outside the written range are
// preserved by reading the existing block first (spec.md §4.1/§8
// boundary behaviour: a partial-block write must not disturb the rest
// of the block).
func WriteBlock(f *os.File, pt PartType, blockIndex, offsetInBlock, size int, data []byte) (crc uint32, err error) {
	if offsetInBlock < 0 || size < 0 || offsetInBlock+size > BlockSize {
		return 0, fmt.Errorf("%w: block %d write range [%d,%d) exceeds block size", ErrBlockOutOfRange, blockIndex, offsetInBlock, offsetInBlock+size)
	}
	if len(data) != size {
		return 0, fmt.Errorf("%w: block %d: data length %d != size %d", ErrBlockOutOfRange, blockIndex, len(data), size)
	}

	var full []byte
	if offsetInBlock == 0 && size == BlockSize {
		full = data
	} else {
		full, err = ReadBlock(f, pt, blockIndex)
		if err != nil {
			// A brand-new chunk has no existing bytes for this block yet;
			// treat it as a zero-filled block so partial writes to a
			// not-yet-materialized block still succeed.
			full = make([]byte, BlockSize)
		}
		copy(full[offsetInBlock:offsetInBlock+size], data)
	}

	if _, err := f.WriteAt(full, BlockOffset(pt, blockIndex)); err != nil {
		return 0, err
	}

	crc = BlockCRC(full)
	if err := UpdateCRCTable(f, blockIndex, crc); err != nil {
		return 0, err
	}
	return crc, nil
}

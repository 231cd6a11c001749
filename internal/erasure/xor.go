package erasure

// XORBlocks XORs every block in sources into dst, byte by byte. All
// slices must share the same length (one 64 KiB block); the executor
// running a plan's XorOps is expected to pass same-sized block slices
// sliced out of its assembled buffer.
func XORBlocks(dst []byte, sources ...[]byte) error {
	for _, s := range sources {
		if len(s) != len(dst) {
			return ErrShardSizeMismatch
		}
	}
	for i := range dst {
		dst[i] = 0
	}
	for _, s := range sources {
		for i, b := range s {
			dst[i] ^= b
		}
	}
	return nil
}

// ExecuteXorOps applies every XorOp in a ReadPlan against a buffer
// already populated by its ReadOps, using blockSize-wide slices at the
// block indexes the ops reference.
func ExecuteXorOps(buffer []byte, ops []XorOp) error {
	for _, op := range ops {
		sources := make([][]byte, len(op.Sources))
		for i, b := range op.Sources {
			sources[i] = blockSlice(buffer, b)
		}
		if err := XORBlocks(blockSlice(buffer, op.DstBlock), sources...); err != nil {
			return err
		}
	}
	return nil
}

func blockSlice(buffer []byte, block int) []byte {
	start := int64(block) * blockSize
	return buffer[start : start+blockSize]
}

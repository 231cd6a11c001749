package erasure

import (
	"sort"

	"chunkserver/internal/chunkformat"
)

// planEC builds a ReadPlan for Reed-Solomon (k,m) parts. Each data
// shard idx (0..k-1) owns the global blocks where b%k==idx, exactly
// like an XOR data stripe with level k; parity shards (k..k+m-1) carry
// one row-wise RS-encoded block per local row instead of a plain XOR.
//
// When all k data shards are live, this degenerates
// to a set of plain reads. When one or more data shards are missing, a
// single ECRecoverOp is emitted covering every local row touched by the
// window, fed by a fixed set of k live shards (chosen once, not
// per-row) so the executor can reuse one Reconstruct call per row with
// a stable shard ordering.
func planEC(avail Available, startBlock, visibleBlocks int) (ReadPlan, error) {
	k, m := avail.ECK, avail.ECM
	endBlock := startBlock + visibleBlocks - 1

	var liveIdx []int
	for i := 0; i < k+m; i++ {
		if avail.ECPartsPresent[i] {
			liveIdx = append(liveIdx, i)
		}
	}
	if len(liveIdx) < k {
		return ReadPlan{}, ErrTooFewShards
	}
	sort.Ints(liveIdx)

	var missingData []int
	for i := 0; i < k; i++ {
		if !avail.ECPartsPresent[i] {
			missingData = append(missingData, i)
		}
	}

	if len(missingData) == 0 {
		return planECDirect(k, m, startBlock, visibleBlocks), nil
	}

	recoverySet := liveIdx[:k]
	rowStart := startBlock / k
	rowEnd := endBlock / k
	rowCount := rowEnd - rowStart + 1

	scratchBase := visibleBlocks
	nextScratch := scratchBase
	shardBlocks := make([][]int, rowCount)
	dataDst := make([][]int, rowCount)

	var ops []ReadOp
	perShardLocal := make(map[int][]int)
	perShardDst := make(map[int][]int)

	for r := 0; r < rowCount; r++ {
		row := rowStart + r
		shardBlocks[r] = make([]int, len(recoverySet))
		for j, idx := range recoverySet {
			var dst int
			if idx < k {
				b := row*k + idx
				if b >= startBlock && b <= endBlock {
					dst = b - startBlock
				} else {
					dst = nextScratch
					nextScratch++
				}
			} else {
				dst = nextScratch
				nextScratch++
			}
			shardBlocks[r][j] = dst
			perShardLocal[idx] = append(perShardLocal[idx], row)
			perShardDst[idx] = append(perShardDst[idx], dst)
		}
		dataDst[r] = make([]int, k)
		for d := 0; d < k; d++ {
			if avail.ECPartsPresent[d] {
				dataDst[r][d] = -1 // already live, direct read below
			} else {
				b := row*k + d
				// b can fall outside the window in the first or last
				// row: before it, dst is negative; past it, dst is a
				// buffer slot after the visible blocks. Only blocks
				// inside the window are part of the result.
				dataDst[r][d] = b - startBlock
			}
		}
	}

	for idx, rows := range perShardLocal {
		localBlocks := append([]int{}, rows...)
		dstBlocks := append([]int{}, perShardDst[idx]...)
		ops = append(ops, contiguousReadOp(partTypeForEC(k, m, idx), localBlocks, dstBlocks))
	}

	// Live data shards outside the recovery set still need their own
	// window-owned blocks read directly (recovery only fills the gaps).
	for d := 0; d < k; d++ {
		if !avail.ECPartsPresent[d] || containsInt(recoverySet, d) {
			continue
		}
		localBlocks, dstBlocks := ownedLocalBlocks(d+1, k, startBlock, visibleBlocks, 0)
		if len(localBlocks) == 0 {
			continue
		}
		ops = append(ops, contiguousReadOp(partTypeForEC(k, m, d), localBlocks, dstBlocks))
	}

	sortReadOps(ops)

	return ReadPlan{
		RequiredBufferSize: int64(nextScratch) * blockSize,
		VisibleBlocks:      visibleBlocks,
		ReadOps:            ops,
		ECRecover: &ECRecoverOp{
			K:           k,
			M:           m,
			LiveIndexes: recoverySet,
			ShardBlocks: shardBlocks,
			DstBlocks:   flattenRows(dataDst),
		},
	}, nil
}

func planECDirect(k, m, startBlock, visibleBlocks int) ReadPlan {
	var ops []ReadOp
	for d := 0; d < k; d++ {
		localBlocks, dstBlocks := ownedLocalBlocks(d+1, k, startBlock, visibleBlocks, 0)
		if len(localBlocks) == 0 {
			continue
		}
		ops = append(ops, contiguousReadOp(partTypeForEC(k, m, d), localBlocks, dstBlocks))
	}
	sortReadOps(ops)
	return ReadPlan{RequiredBufferSize: int64(visibleBlocks) * blockSize, VisibleBlocks: visibleBlocks, ReadOps: ops}
}

func partTypeForEC(k, m, index int) chunkformat.PartType {
	return chunkformat.ECPart(k, m, index)
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// flattenRows concatenates per-row DstBlocks into the single slice
// ECRecoverOp carries; row r's k entries occupy [r*k, r*k+k).
func flattenRows(rows [][]int) []int {
	if len(rows) == 0 {
		return nil
	}
	k := len(rows[0])
	out := make([]int, 0, len(rows)*k)
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

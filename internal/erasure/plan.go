// Package erasure is the XOR/Reed-Solomon planner (C3): given the set
// of parts available for a chunk, it decides which ones to fetch for a
// read and how to recombine them, and performs the byte-level XOR
// combine and Reed-Solomon encode/recover.
package erasure

import (
	"fmt"
	"sort"

	"chunkserver/internal/chunkformat"
)

// ReadOp is one part-level fetch the executor (C7/C8) must perform.
// RequestOffset/RequestSize are in bytes within the part's own file;
// DstBlocks lists, in fetch order, which buffer-relative block index
// each fetched 64 KiB block lands at.
type ReadOp struct {
	Part          chunkformat.PartType
	RequestOffset int64
	RequestSize   int64
	DstBlocks     []int
}

// XorOp reconstructs one missing block by XORing a set of already
// buffered source blocks in place (spec.md §4.3 rule 3).
type XorOp struct {
	DstBlock int
	Sources  []int
}

// ECRecoverOp replaces the XorOps list for Reed-Solomon parts: a
// single op recovering every missing data block from the live
// fragments (spec.md §4.3 rule 4).
type ECRecoverOp struct {
	K, M        int
	LiveIndexes []int // indexes (0..k+m-1) of the parts that were read
	// ShardBlocks[r][j] is the buffer-relative block index holding
	// LiveIndexes[j]'s data for row r (r is 0-based within the plan's
	// row range).
	ShardBlocks [][]int
	// DstBlocks[r*K+d] is the buffer-relative block index recovered
	// data shard d should be written to for row r, or -1 if shard d was
	// already live at that row (no recovery needed, already in place).
	DstBlocks []int
}

// ReadPlan is the planner's output: RequiredBufferSize covers both the
// caller-visible window (block indexes 0..visibleBlocks-1) and any
// trailing scratch blocks fetched only to serve as XOR/EC sources.
type ReadPlan struct {
	RequiredBufferSize int64
	VisibleBlocks      int
	ReadOps            []ReadOp
	XorOps             []XorOp
	ECRecover          *ECRecoverOp
}

// Available describes the parts observed present for a chunk, along
// with the XOR level or EC (k,m) the chunk was encoded with (both
// zero-valued if not applicable to that family).
type Available struct {
	Standard bool
	// XOR: XORParts maps data-part index (1..Level) to availability;
	// XORParity reports whether the parity part is present.
	XORLevel        int
	XORParts        map[int]bool
	XORParity       bool
	ECK, ECM        int
	ECPartsPresent  map[int]bool // index 0..k+m-1
}

const blockSize = chunkformat.BlockSize

// Plan selects a strategy per spec.md §4.3's preference order and
// builds the ReadPlan for the logical byte range [offset, offset+size).
func Plan(avail Available, offset, size int64) (ReadPlan, error) {
	if size <= 0 {
		return ReadPlan{}, fmt.Errorf("%w: non-positive size %d", ErrNoViablePlan, size)
	}
	startBlock := int(offset / blockSize)
	endBlock := int((offset + size - 1) / blockSize)
	visibleBlocks := endBlock - startBlock + 1

	switch {
	case avail.Standard:
		return planStandard(startBlock, visibleBlocks), nil
	case avail.XORLevel >= 2:
		if plan, ok := planXORFull(avail, startBlock, visibleBlocks); ok {
			return plan, nil
		}
		if plan, ok := planXORDegraded(avail, startBlock, visibleBlocks); ok {
			return plan, nil
		}
		return ReadPlan{}, fmt.Errorf("%w: xor level %d has too few live parts", ErrNoViablePlan, avail.XORLevel)
	case avail.ECK >= 2:
		return planEC(avail, startBlock, visibleBlocks)
	default:
		return ReadPlan{}, ErrNoViablePlan
	}
}

func planStandard(startBlock, visibleBlocks int) ReadPlan {
	dst := make([]int, visibleBlocks)
	for i := range dst {
		dst[i] = i
	}
	return ReadPlan{
		RequiredBufferSize: int64(visibleBlocks) * blockSize,
		VisibleBlocks:      visibleBlocks,
		ReadOps: []ReadOp{{
			Part:          chunkformat.Standard(),
			RequestOffset: int64(startBlock) * blockSize,
			RequestSize:   int64(visibleBlocks) * blockSize,
			DstBlocks:     dst,
		}},
	}
}

// planXORFull handles the case where all L data parts are present: no
// reconstruction needed, blocks are simply interleaved (spec.md §4.3
// rule 2).
func planXORFull(avail Available, startBlock, visibleBlocks int) (ReadPlan, bool) {
	L := avail.XORLevel
	for p := 1; p <= L; p++ {
		if !avail.XORParts[p] {
			return ReadPlan{}, false
		}
	}

	ops := make([]ReadOp, 0, L)
	for p := 1; p <= L; p++ {
		localBlocks, dstBlocks := ownedLocalBlocks(p, L, startBlock, visibleBlocks, 0)
		if len(localBlocks) == 0 {
			continue
		}
		ops = append(ops, contiguousReadOp(chunkformat.XORData(L, p), localBlocks, dstBlocks))
	}
	sortReadOps(ops)
	return ReadPlan{
		RequiredBufferSize: int64(visibleBlocks) * blockSize,
		VisibleBlocks:      visibleBlocks,
		ReadOps:            ops,
	}, true
}

// planXORDegraded handles exactly one missing data part, reconstructed
// from the other L-1 data parts plus parity (spec.md §4.3 rule 3).
func planXORDegraded(avail Available, startBlock, visibleBlocks int) (ReadPlan, bool) {
	L := avail.XORLevel
	if !avail.XORParity {
		return ReadPlan{}, false
	}
	missing := -1
	present := 0
	for p := 1; p <= L; p++ {
		if avail.XORParts[p] {
			present++
		} else if missing == -1 {
			missing = p
		} else {
			return ReadPlan{}, false // more than one missing data part
		}
	}
	if missing == -1 || present != L-1 {
		return ReadPlan{}, false
	}

	// Local block indexes needed for the missing part's blocks inside
	// the window.
	missingLocal, missingDst := ownedLocalBlocks(missing, L, startBlock, visibleBlocks, 0)
	if len(missingLocal) == 0 {
		// Nothing in the window actually belongs to the missing part;
		// serve it as a full read of the present parts.
		return planXORFullSubset(avail, L, missing, startBlock, visibleBlocks)
	}

	scratchBase := visibleBlocks
	scratchByLocal := make(map[int]int, len(missingLocal)) // local block -> scratch slot
	for i, lb := range missingLocal {
		scratchByLocal[lb] = scratchBase + i
	}
	totalBlocks := scratchBase + len(missingLocal)

	var ops []ReadOp
	var xorOps []XorOp

	for p := 1; p <= L; p++ {
		if p == missing {
			continue
		}
		ownedLocal, ownedDst := ownedLocalBlocks(p, L, startBlock, visibleBlocks, 0)
		extra := extraLocalBlocks(ownedLocal, missingLocal)
		localBlocks := append(append([]int{}, ownedLocal...), extra...)
		dstBlocks := append(append([]int{}, ownedDst...), scratchSlotsFor(extra, scratchByLocal)...)
		sortPaired(localBlocks, dstBlocks)
		ops = append(ops, contiguousReadOp(partTypeFor(L, p), localBlocks, dstBlocks))
	}
	// Parity: needed at every missingLocal index.
	parityDst := scratchSlotsFor(missingLocal, scratchByLocal)
	ops = append(ops, contiguousReadOp(chunkformat.XORParity(L), missingLocal, parityDst))
	sortReadOps(ops)

	for i, lb := range missingLocal {
		sources := make([]int, 0, L)
		for p := 1; p <= L; p++ {
			if p == missing {
				continue
			}
			ownedLocal, ownedDst := ownedLocalBlocks(p, L, startBlock, visibleBlocks, 0)
			if idx := indexOf(ownedLocal, lb); idx >= 0 {
				sources = append(sources, ownedDst[idx])
			} else {
				sources = append(sources, scratchByLocal[lb])
			}
		}
		sources = append(sources, parityDst[i])
		xorOps = append(xorOps, XorOp{DstBlock: missingDst[i], Sources: sources})
	}

	return ReadPlan{
		RequiredBufferSize: int64(totalBlocks) * blockSize,
		VisibleBlocks:      visibleBlocks,
		ReadOps:            ops,
		XorOps:             xorOps,
	}, true
}

// planXORFullSubset serves a window that doesn't touch the missing
// part at all: a plain read of whichever present parts own blocks in
// the window, no reconstruction required.
func planXORFullSubset(avail Available, L, missing, startBlock, visibleBlocks int) (ReadPlan, bool) {
	var ops []ReadOp
	for p := 1; p <= L; p++ {
		if p == missing {
			continue
		}
		localBlocks, dstBlocks := ownedLocalBlocks(p, L, startBlock, visibleBlocks, 0)
		if len(localBlocks) == 0 {
			continue
		}
		ops = append(ops, contiguousReadOp(partTypeFor(L, p), localBlocks, dstBlocks))
	}
	sortReadOps(ops)
	return ReadPlan{RequiredBufferSize: int64(visibleBlocks) * blockSize, VisibleBlocks: visibleBlocks, ReadOps: ops}, true
}

func partTypeFor(level, part int) chunkformat.PartType {
	if part == chunkformat.ParityIndex {
		return chunkformat.XORParity(level)
	}
	return chunkformat.XORData(level, part)
}

// ownedLocalBlocks returns, for XOR data part `part` of level L, the
// local block indexes it owns within the logical window
// [startBlock, startBlock+visibleBlocks), and the buffer-relative
// destination block for each (offset by dstBase).
func ownedLocalBlocks(part, level, startBlock, visibleBlocks, dstBase int) (local, dst []int) {
	for b := startBlock; b < startBlock+visibleBlocks; b++ {
		if b%level == part-1 {
			local = append(local, b/level)
			dst = append(dst, dstBase+(b-startBlock))
		}
	}
	return local, dst
}

func extraLocalBlocks(owned, wanted []int) []int {
	ownedSet := make(map[int]bool, len(owned))
	for _, lb := range owned {
		ownedSet[lb] = true
	}
	var extra []int
	for _, lb := range wanted {
		if !ownedSet[lb] {
			extra = append(extra, lb)
		}
	}
	return extra
}

func scratchSlotsFor(local []int, byLocal map[int]int) []int {
	out := make([]int, len(local))
	for i, lb := range local {
		out[i] = byLocal[lb]
	}
	return out
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func sortPaired(local, dst []int) {
	idx := make([]int, len(local))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return local[idx[a]] < local[idx[b]] })
	sortedLocal := make([]int, len(local))
	sortedDst := make([]int, len(dst))
	for i, j := range idx {
		sortedLocal[i] = local[j]
		sortedDst[i] = dst[j]
	}
	copy(local, sortedLocal)
	copy(dst, sortedDst)
}

func sortReadOps(ops []ReadOp) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].RequestOffset < ops[j].RequestOffset })
}

// contiguousReadOp builds one ReadOp from a (already-contiguous,
// ascending) list of local block indexes and their destination blocks.
func contiguousReadOp(pt chunkformat.PartType, localBlocks, dstBlocks []int) ReadOp {
	first := localBlocks[0]
	return ReadOp{
		Part:          pt,
		RequestOffset: int64(first) * blockSize,
		RequestSize:   int64(len(localBlocks)) * blockSize,
		DstBlocks:     dstBlocks,
	}
}

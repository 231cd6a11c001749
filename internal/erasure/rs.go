package erasure

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// RSCoder wraps klauspost/reedsolomon for one (k,m) Reed-Solomon group.
// Construction picks the matrix kind the same way the library's own
// benchmarks recommend: Vandermonde (the default, and the one
// ISA-L-compatible deployments expect for small fragment counts) below
// the crossover, Cauchy above it where Vandermonde submatrices become
// more likely to be singular.
type RSCoder struct {
	enc  reedsolomon.Encoder
	K, M int
}

const cauchyCrossoverM = 5
const cauchyCrossoverK = 20

// NewRSCoder builds the encoder for a (k,m) group. k and m must already
// satisfy spec.md §4.3's limits (k in [2,32], m in [1,32], k+m<=40);
// callers validate via PartType.Validate before reaching here.
func NewRSCoder(k, m int) (*RSCoder, error) {
	var opts []reedsolomon.Option
	if m >= cauchyCrossoverM || k > cauchyCrossoverK {
		opts = append(opts, reedsolomon.WithCauchyMatrix())
	}
	enc, err := reedsolomon.New(k, m, opts...)
	if err != nil {
		return nil, fmt.Errorf("erasure: building reed-solomon(%d,%d): %w", k, m, err)
	}
	return &RSCoder{enc: enc, K: k, M: m}, nil
}

// Encode computes the m parity shards from the k data shards in place.
// shards must have length k+m; shards[0:k] are the caller's data, each
// the same length, and shards[k:k+m] are overwritten with parity.
func (c *RSCoder) Encode(shards [][]byte) error {
	return c.enc.Encode(shards)
}

// Reconstruct fills every nil entry of shards (length k+m) it can
// recover from the present ones. Returns ErrTooFewShards if fewer than
// k entries are non-nil.
func (c *RSCoder) Reconstruct(shards [][]byte) error {
	present := 0
	for _, s := range shards {
		if s != nil {
			present++
		}
	}
	if present < c.K {
		return ErrTooFewShards
	}
	if err := c.enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("erasure: reed-solomon reconstruct: %w", err)
	}
	return nil
}

// ExecuteECRecover runs the recovery pass for every row an ECRecoverOp
// covers against a buffer already populated by the plan's ReadOps.
func ExecuteECRecover(buffer []byte, op *ECRecoverOp) error {
	if op == nil {
		return nil
	}
	coder, err := NewRSCoder(op.K, op.M)
	if err != nil {
		return err
	}
	rows := len(op.ShardBlocks)
	for r := 0; r < rows; r++ {
		liveBlocks := make([][]byte, len(op.LiveIndexes))
		for j, block := range op.ShardBlocks[r] {
			liveBlocks[j] = blockSlice(buffer, block)
		}
		recovered, err := coder.ReconstructRow(op.LiveIndexes, liveBlocks)
		if err != nil {
			return err
		}
		for d := 0; d < op.K; d++ {
			dst := op.DstBlocks[r*op.K+d]
			if dst < 0 {
				continue
			}
			copy(blockSlice(buffer, dst), recovered[d])
		}
	}
	return nil
}

// ReconstructRow runs one RS recovery over a single row's k+m blocks
// (liveBlocks[i] is the bytes for shard index liveIndexes[i]; indexes
// not listed are treated as missing), per the LiveIndexes/ShardBlocks layout an
// ECRecoverOp describes, and returns the recovered data shards 0..k-1.
func (c *RSCoder) ReconstructRow(liveIndexes []int, liveBlocks [][]byte) ([][]byte, error) {
	shards := make([][]byte, c.K+c.M)
	for i, idx := range liveIndexes {
		if idx < 0 || idx >= len(shards) {
			return nil, fmt.Errorf("%w: live index %d out of range for k=%d m=%d", ErrShardSizeMismatch, idx, c.K, c.M)
		}
		shards[idx] = liveBlocks[i]
	}
	if err := c.Reconstruct(shards); err != nil {
		return nil, err
	}
	return shards[:c.K], nil
}

package erasure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"chunkserver/internal/chunkformat"
)

func TestPlanPrefersStandardWhenAvailable(t *testing.T) {
	plan, err := Plan(Available{Standard: true, XORLevel: 3, XORParts: map[int]bool{1: true, 2: true, 3: true}}, 0, chunkformat.BlockSize)
	require.NoError(t, err)
	require.Len(t, plan.ReadOps, 1)
	require.Equal(t, chunkformat.Standard(), plan.ReadOps[0].Part)
}

func TestPlanXORFullInterleavesAcrossParts(t *testing.T) {
	avail := Available{XORLevel: 2, XORParts: map[int]bool{1: true, 2: true}}
	plan, err := Plan(avail, 0, 4*chunkformat.BlockSize)
	require.NoError(t, err)
	require.Empty(t, plan.XorOps)
	require.Len(t, plan.ReadOps, 2)
	for _, op := range plan.ReadOps {
		require.Len(t, op.DstBlocks, 2) // blocks 0,2 go to part1; 1,3 to part2
	}
}

func TestPlanXORDegradedReconstructsMissingPart(t *testing.T) {
	avail := Available{
		XORLevel:  3,
		XORParts:  map[int]bool{1: true, 3: true}, // part 2 missing
		XORParity: true,
	}
	plan, err := Plan(avail, 0, 6*chunkformat.BlockSize) // blocks 0..5
	require.NoError(t, err)
	require.NotEmpty(t, plan.XorOps)
	// Blocks 1 and 4 belong to part 2 (b%3==1), both need reconstruction.
	require.Len(t, plan.XorOps, 2)
	for _, op := range plan.XorOps {
		require.Len(t, op.Sources, 3) // part1 + part3 + parity
	}
}

func TestPlanXORDegradedRejectsTwoMissingDataParts(t *testing.T) {
	avail := Available{XORLevel: 3, XORParts: map[int]bool{1: true}, XORParity: true}
	_, err := Plan(avail, 0, chunkformat.BlockSize)
	require.ErrorIs(t, err, ErrNoViablePlan)
}

func TestExecuteXorOpsRecoversOriginalBlock(t *testing.T) {
	a := bytes.Repeat([]byte{0b10101010}, chunkformat.BlockSize)
	b := bytes.Repeat([]byte{0b01100110}, chunkformat.BlockSize)
	parity := make([]byte, chunkformat.BlockSize)
	require.NoError(t, XORBlocks(parity, a, b))

	buffer := make([]byte, 3*chunkformat.BlockSize)
	copy(buffer[0:chunkformat.BlockSize], a)
	copy(buffer[2*chunkformat.BlockSize:], parity)
	// buffer[1] is the "missing" block, recovered from a and parity.
	require.NoError(t, ExecuteXorOps(buffer, []XorOp{{DstBlock: 1, Sources: []int{0, 2}}}))
	require.Equal(t, b, buffer[chunkformat.BlockSize:2*chunkformat.BlockSize])
}

func TestPlanECDirectReadWhenAllDataShardsLive(t *testing.T) {
	avail := Available{ECK: 3, ECM: 2, ECPartsPresent: map[int]bool{0: true, 1: true, 2: true}}
	plan, err := Plan(avail, 0, 3*chunkformat.BlockSize)
	require.NoError(t, err)
	require.Nil(t, plan.ECRecover)
	require.Len(t, plan.ReadOps, 3)
}

func TestPlanECRecoversMissingDataShard(t *testing.T) {
	avail := Available{
		ECK:            3,
		ECM:            2,
		ECPartsPresent: map[int]bool{1: true, 2: true, 3: true, 4: true}, // shard 0 missing
	}
	plan, err := Plan(avail, 0, 3*chunkformat.BlockSize)
	require.NoError(t, err)
	require.NotNil(t, plan.ECRecover)
	require.Len(t, plan.ECRecover.LiveIndexes, 3)
}

func TestPlanRejectsWhenTooFewECShardsLive(t *testing.T) {
	avail := Available{ECK: 4, ECM: 2, ECPartsPresent: map[int]bool{0: true, 1: true}}
	_, err := Plan(avail, 0, chunkformat.BlockSize)
	require.ErrorIs(t, err, ErrTooFewShards)
}

func TestRSCoderEncodeReconstructRoundTrip(t *testing.T) {
	coder, err := NewRSCoder(4, 2)
	require.NoError(t, err)

	shards := make([][]byte, 6)
	for i := 0; i < 4; i++ {
		shards[i] = bytes.Repeat([]byte{byte(i + 1)}, 1024)
	}
	shards[4] = make([]byte, 1024)
	shards[5] = make([]byte, 1024)
	require.NoError(t, coder.Encode(shards))

	original := make([][]byte, 4)
	for i := range original {
		original[i] = append([]byte{}, shards[i]...)
	}

	// Lose two data shards; still k=4 live (shards 2,3,4,5).
	damaged := append([][]byte{}, shards...)
	damaged[0] = nil
	damaged[1] = nil
	require.NoError(t, coder.Reconstruct(damaged))
	require.Equal(t, original[0], damaged[0])
	require.Equal(t, original[1], damaged[1])
}

func TestRSCoderReconstructFailsWithTooFewShards(t *testing.T) {
	coder, err := NewRSCoder(4, 2)
	require.NoError(t, err)
	shards := make([][]byte, 6)
	shards[0] = make([]byte, 1024)
	shards[1] = make([]byte, 1024)
	err = coder.Reconstruct(shards)
	require.ErrorIs(t, err, ErrTooFewShards)
}

func TestRSCoderPicksCauchyAboveCrossover(t *testing.T) {
	_, err := NewRSCoder(21, 1)
	require.NoError(t, err)
	_, err = NewRSCoder(4, 6)
	require.NoError(t, err)
}

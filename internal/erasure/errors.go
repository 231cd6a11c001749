package erasure

import "errors"

var (
	// ErrNoViablePlan is returned when the available parts cannot
	// satisfy any of the four selection rules in spec.md §4.3.
	ErrNoViablePlan = errors.New("erasure: no viable read plan for available parts")

	// ErrTooFewShards is returned by Plan (for EC parts) and by
	// RSCoder.Reconstruct when fewer than k live EC shards were
	// supplied.
	ErrTooFewShards = errors.New("erasure: fewer than k live shards supplied")

	// ErrShardSizeMismatch is returned when XOR or EC source blocks
	// don't all carry the same 64 KiB block size.
	ErrShardSizeMismatch = errors.New("erasure: source blocks have mismatched sizes")
)

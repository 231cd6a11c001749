// Package readservice implements the read path (C7): given a READ
// request, it builds a ReadPlan via C3, gathers every part the plan
// needs (locally through C2/C4, or from a peer chunkserver), runs the
// plan's XOR/EC recombination, and streams the result back as
// LIZ_CSTOCL_READ_DATA frames.
package readservice

import (
	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/erasure"
)

// PartLocator resolves chunk/replica metadata the read service itself
// has no authority over — which parts of a chunk currently exist and
// where. In the real system this is master-supplied; spec.md's
// overview already treats "a MasterConnection delivering job
// instructions" as an external collaborator the core merely consumes,
// and this is the read-path facet of that same contract.
type PartLocator interface {
	// Availability reports which parts of (chunk_id, version) exist,
	// for erasure.Plan.
	Availability(chunkID uint64, version uint32) (erasure.Available, error)
	// Locate resolves where one specific part lives: on this server
	// (local=true) or on a remote chunkserver (local=false, peer set).
	Locate(chunkID uint64, version uint32, pt chunkformat.PartType) (local bool, peer chunkconn.NetworkAddress, err error)
}

// withPartUnavailable returns a copy of avail with pt marked absent,
// for the degraded-retry path after a local CRC failure (spec.md
// §4.7's "attempt degraded reconstruction from the remaining parts").
// ok is false when the family has no redundancy to fall back on
// (Standard) — erasure.Plan is the authority on whether what's left is
// actually sufficient.
func withPartUnavailable(avail erasure.Available, pt chunkformat.PartType) (erasure.Available, bool) {
	switch pt.Family {
	case chunkformat.FamilyStandard:
		return avail, false
	case chunkformat.FamilyXOR:
		out := avail
		out.XORParts = cloneBoolMap(avail.XORParts)
		out.XORParity = avail.XORParity
		if pt.IsParity() {
			out.XORParity = false
		} else {
			delete(out.XORParts, pt.Part)
		}
		return out, true
	case chunkformat.FamilyEC:
		out := avail
		out.ECPartsPresent = cloneBoolMap(avail.ECPartsPresent)
		delete(out.ECPartsPresent, pt.Index)
		return out, true
	default:
		return avail, false
	}
}

func cloneBoolMap(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		if v {
			out[k] = true
		}
	}
	return out
}

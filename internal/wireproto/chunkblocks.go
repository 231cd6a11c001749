package wireproto

import (
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/status"
)

// GetChunkBlocks is CLTOCS_GET_CHUNK_BLOCKS's body — the replicator's
// (C8) query for a source's authoritative block count, spec.md §4.8
// step 1: "query block count to choose the authoritative length."
type GetChunkBlocks struct {
	ChunkID  uint64
	Version  uint32
	PartType chunkformat.PartType
}

func (m GetChunkBlocks) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	w.u32(m.Version)
	if err := encodePartType(w, m.PartType); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func DecodeGetChunkBlocks(body []byte) (GetChunkBlocks, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return GetChunkBlocks{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return GetChunkBlocks{}, err
	}
	version, err := r.u32()
	if err != nil {
		return GetChunkBlocks{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return GetChunkBlocks{}, err
	}
	if !r.done() {
		return GetChunkBlocks{}, ErrMalformed
	}
	return GetChunkBlocks{ChunkID: chunkID, Version: version, PartType: pt}, nil
}

// ChunkBlocks is CSTOCL_CHUNK_BLOCKS's body: the reply to
// GetChunkBlocks, either the source's block count or a failure status
// (e.g. ENOENT if it doesn't hold this chunk at all).
type ChunkBlocks struct {
	ChunkID  uint64
	PartType chunkformat.PartType
	Blocks   uint32
	Status   status.Code
}

func (m ChunkBlocks) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	if err := encodePartType(w, m.PartType); err != nil {
		return nil, err
	}
	w.u32(m.Blocks)
	w.u8(uint8(m.Status))
	return w.buf, nil
}

func DecodeChunkBlocks(body []byte) (ChunkBlocks, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return ChunkBlocks{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return ChunkBlocks{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return ChunkBlocks{}, err
	}
	blocks, err := r.u32()
	if err != nil {
		return ChunkBlocks{}, err
	}
	st, err := r.u8()
	if err != nil {
		return ChunkBlocks{}, err
	}
	if !r.done() {
		return ChunkBlocks{}, ErrMalformed
	}
	return ChunkBlocks{ChunkID: chunkID, PartType: pt, Blocks: blocks, Status: status.Code(st)}, nil
}

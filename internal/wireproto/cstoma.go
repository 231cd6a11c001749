package wireproto

import (
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/status"
)

// ChunkWithVersionAndType is the (chunk_id, version, part_type) triple
// repeated throughout the CSTOMA registration family (spec.md §4.6),
// grounded on original_source/src/common/cstoma_communication.h's
// registerChunks/chunkNew serializers.
type ChunkWithVersionAndType struct {
	ChunkID  uint64
	Version  uint32
	PartType chunkformat.PartType
}

func (c ChunkWithVersionAndType) encode(w *writer) error {
	w.u64(c.ChunkID)
	w.u32(c.Version)
	return encodePartType(w, c.PartType)
}

func decodeChunkWithVersionAndType(r *reader) (ChunkWithVersionAndType, error) {
	chunkID, err := r.u64()
	if err != nil {
		return ChunkWithVersionAndType{}, err
	}
	version, err := r.u32()
	if err != nil {
		return ChunkWithVersionAndType{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return ChunkWithVersionAndType{}, err
	}
	return ChunkWithVersionAndType{ChunkID: chunkID, Version: version, PartType: pt}, nil
}

func encodeChunkList(w *writer, chunks []ChunkWithVersionAndType) error {
	w.u32(uint32(len(chunks)))
	for _, c := range chunks {
		if err := c.encode(w); err != nil {
			return err
		}
	}
	return nil
}

func decodeChunkList(r *reader) ([]ChunkWithVersionAndType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	chunks := make([]ChunkWithVersionAndType, n)
	for i := range chunks {
		chunks[i], err = decodeChunkWithVersionAndType(r)
		if err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// RegisterHost is LIZ_CSTOMA_REGISTER_HOST's body: the chunkserver's
// own advertised address plus client-connection timeout and running
// version, sent once at startup.
type RegisterHost struct {
	IP        uint32
	Port      uint16
	Timeout   uint16
	CSVersion uint32
}

func (m RegisterHost) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u32(m.IP)
	w.u16(m.Port)
	w.u16(m.Timeout)
	w.u32(m.CSVersion)
	return w.buf, nil
}

func DecodeRegisterHost(body []byte) (RegisterHost, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return RegisterHost{}, err
	}
	ip, err := r.u32()
	if err != nil {
		return RegisterHost{}, err
	}
	port, err := r.u16()
	if err != nil {
		return RegisterHost{}, err
	}
	timeout, err := r.u16()
	if err != nil {
		return RegisterHost{}, err
	}
	csVersion, err := r.u32()
	if err != nil {
		return RegisterHost{}, err
	}
	if !r.done() {
		return RegisterHost{}, ErrMalformed
	}
	return RegisterHost{IP: ip, Port: port, Timeout: timeout, CSVersion: csVersion}, nil
}

// RegisterChunks is LIZ_CSTOMA_REGISTER_CHUNKS's body: the full chunk
// inventory sent once after a disk scan completes.
type RegisterChunks struct {
	Chunks []ChunkWithVersionAndType
}

func (m RegisterChunks) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	if err := encodeChunkList(w, m.Chunks); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func DecodeRegisterChunks(body []byte) (RegisterChunks, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return RegisterChunks{}, err
	}
	chunks, err := decodeChunkList(r)
	if err != nil {
		return RegisterChunks{}, err
	}
	if !r.done() {
		return RegisterChunks{}, ErrMalformed
	}
	return RegisterChunks{Chunks: chunks}, nil
}

// RegisterSpace is LIZ_CSTOMA_REGISTER_SPACE's body: the periodic
// disk-usage report every chunkserver sends the master.
type RegisterSpace struct {
	UsedSpace            uint64
	TotalSpace           uint64
	ChunkCount           uint32
	ToDeleteUsedSpace    uint64
	ToDeleteTotalSpace   uint64
	ToDeleteChunksNumber uint32
}

func (m RegisterSpace) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.UsedSpace)
	w.u64(m.TotalSpace)
	w.u32(m.ChunkCount)
	w.u64(m.ToDeleteUsedSpace)
	w.u64(m.ToDeleteTotalSpace)
	w.u32(m.ToDeleteChunksNumber)
	return w.buf, nil
}

func DecodeRegisterSpace(body []byte) (RegisterSpace, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return RegisterSpace{}, err
	}
	used, err := r.u64()
	if err != nil {
		return RegisterSpace{}, err
	}
	total, err := r.u64()
	if err != nil {
		return RegisterSpace{}, err
	}
	count, err := r.u32()
	if err != nil {
		return RegisterSpace{}, err
	}
	tdUsed, err := r.u64()
	if err != nil {
		return RegisterSpace{}, err
	}
	tdTotal, err := r.u64()
	if err != nil {
		return RegisterSpace{}, err
	}
	tdCount, err := r.u32()
	if err != nil {
		return RegisterSpace{}, err
	}
	if !r.done() {
		return RegisterSpace{}, ErrMalformed
	}
	return RegisterSpace{
		UsedSpace: used, TotalSpace: total, ChunkCount: count,
		ToDeleteUsedSpace: tdUsed, ToDeleteTotalSpace: tdTotal, ToDeleteChunksNumber: tdCount,
	}, nil
}

// ChunkNew is LIZ_CSTOMA_CHUNK_NEW's body: newly created chunks
// reported incrementally, same shape as RegisterChunks.
type ChunkNew struct {
	Chunks []ChunkWithVersionAndType
}

func (m ChunkNew) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	if err := encodeChunkList(w, m.Chunks); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func DecodeChunkNew(body []byte) (ChunkNew, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return ChunkNew{}, err
	}
	chunks, err := decodeChunkList(r)
	if err != nil {
		return ChunkNew{}, err
	}
	if !r.done() {
		return ChunkNew{}, ErrMalformed
	}
	return ChunkNew{Chunks: chunks}, nil
}

// ChunkStatus is the common (chunk_id, part_type, status) shape shared
// by LIZ_CSTOMA_SET_VERSION, LIZ_CSTOMA_DELETE_CHUNK,
// LIZ_CSTOMA_CREATE_CHUNK, LIZ_CSTOMA_TRUNCATE and LIZ_CSTOMA_REPLICATE
// — original_source/src/common/cstoma_communication.h builds all five
// from the same serializeStatus(chunkId, chunkType, status) helper.
type ChunkStatus struct {
	ChunkID  uint64
	PartType chunkformat.PartType
	Status   status.Code
}

func (m ChunkStatus) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	if err := encodePartType(w, m.PartType); err != nil {
		return nil, err
	}
	w.u8(uint8(m.Status))
	return w.buf, nil
}

func DecodeChunkStatus(body []byte) (ChunkStatus, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return ChunkStatus{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return ChunkStatus{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return ChunkStatus{}, err
	}
	code, err := r.u8()
	if err != nil {
		return ChunkStatus{}, err
	}
	if !r.done() {
		return ChunkStatus{}, ErrMalformed
	}
	return ChunkStatus{ChunkID: chunkID, PartType: pt, Status: status.Code(code)}, nil
}

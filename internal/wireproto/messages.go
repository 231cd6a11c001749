package wireproto

import (
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/status"
)

// protocolVersionV0 is the per-type packet version every message this
// package encodes declares (spec.md §4.6 annotates each with "(v=0)").
const protocolVersionV0 = 0

func verifyVersion(r *reader) error {
	v, err := r.u32()
	if err != nil {
		return err
	}
	if v != protocolVersionV0 {
		return ErrMalformed
	}
	return nil
}

// NetworkAddress is ip:u32, port:u16, the wire shape spec.md §4.6's
// WRITE_INIT chain uses.
type NetworkAddress struct {
	IP   uint32
	Port uint16
}

func (a NetworkAddress) encode(w *writer) {
	w.u32(a.IP)
	w.u16(a.Port)
}

func decodeNetworkAddress(r *reader) (NetworkAddress, error) {
	ip, err := r.u32()
	if err != nil {
		return NetworkAddress{}, err
	}
	port, err := r.u16()
	if err != nil {
		return NetworkAddress{}, err
	}
	return NetworkAddress{IP: ip, Port: port}, nil
}

func encodePartType(w *writer, pt chunkformat.PartType) error {
	id, err := pt.WireID()
	if err != nil {
		return err
	}
	w.u32(id)
	return nil
}

func decodePartType(r *reader) (chunkformat.PartType, error) {
	id, err := r.u32()
	if err != nil {
		return chunkformat.PartType{}, err
	}
	return chunkformat.PartTypeFromWireID(id)
}

// ReadRequest is LIZ_CLTOCS_READ's body.
type ReadRequest struct {
	ChunkID  uint64
	Version  uint32
	PartType chunkformat.PartType
	Offset   uint32
	Size     uint32
}

func (m ReadRequest) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	w.u32(m.Version)
	if err := encodePartType(w, m.PartType); err != nil {
		return nil, err
	}
	w.u32(m.Offset)
	w.u32(m.Size)
	return w.buf, nil
}

func DecodeReadRequest(body []byte) (ReadRequest, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return ReadRequest{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return ReadRequest{}, err
	}
	version, err := r.u32()
	if err != nil {
		return ReadRequest{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return ReadRequest{}, err
	}
	offset, err := r.u32()
	if err != nil {
		return ReadRequest{}, err
	}
	size, err := r.u32()
	if err != nil {
		return ReadRequest{}, err
	}
	if !r.done() {
		return ReadRequest{}, ErrMalformed
	}
	return ReadRequest{ChunkID: chunkID, Version: version, PartType: pt, Offset: offset, Size: size}, nil
}

// WriteInit is LIZ_CLTOCS_WRITE_INIT's body: chunk identity plus the
// remaining hop chain (the head of the chain, this server, is already
// stripped by the caller per spec.md §4.6's forwarding rule).
type WriteInit struct {
	ChunkID  uint64
	Version  uint32
	PartType chunkformat.PartType
	Chain    []NetworkAddress
}

func (m WriteInit) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	w.u32(m.Version)
	if err := encodePartType(w, m.PartType); err != nil {
		return nil, err
	}
	w.u32(uint32(len(m.Chain)))
	for _, a := range m.Chain {
		a.encode(w)
	}
	return w.buf, nil
}

func DecodeWriteInit(body []byte) (WriteInit, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return WriteInit{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return WriteInit{}, err
	}
	version, err := r.u32()
	if err != nil {
		return WriteInit{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return WriteInit{}, err
	}
	n, err := r.u32()
	if err != nil {
		return WriteInit{}, err
	}
	chain := make([]NetworkAddress, n)
	for i := range chain {
		chain[i], err = decodeNetworkAddress(r)
		if err != nil {
			return WriteInit{}, err
		}
	}
	if !r.done() {
		return WriteInit{}, ErrMalformed
	}
	return WriteInit{ChunkID: chunkID, Version: version, PartType: pt, Chain: chain}, nil
}

// WriteDataPrefixSize is the 30-byte fixed prefix preceding a
// WRITE_DATA frame's payload (spec.md §4.6).
const WriteDataPrefixSize = 4 + 8 + 4 + 2 + 4 + 4 + 4

// WriteData is LIZ_CLTOCS_WRITE_DATA's body: a fixed prefix plus the
// block payload.
type WriteData struct {
	ChunkID uint64
	WriteID uint32
	Block   uint16
	Offset  uint32
	Size    uint32
	CRC     uint32
	Payload []byte
}

func (m WriteData) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	w.u32(m.WriteID)
	w.u16(m.Block)
	w.u32(m.Offset)
	w.u32(m.Size)
	w.u32(m.CRC)
	w.raw(m.Payload)
	return w.buf, nil
}

func DecodeWriteData(body []byte) (WriteData, error) {
	if len(body) < WriteDataPrefixSize {
		return WriteData{}, ErrMalformed
	}
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return WriteData{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return WriteData{}, err
	}
	writeID, err := r.u32()
	if err != nil {
		return WriteData{}, err
	}
	block, err := r.u16()
	if err != nil {
		return WriteData{}, err
	}
	offset, err := r.u32()
	if err != nil {
		return WriteData{}, err
	}
	size, err := r.u32()
	if err != nil {
		return WriteData{}, err
	}
	crc, err := r.u32()
	if err != nil {
		return WriteData{}, err
	}
	payload, err := r.raw(int(size))
	if err != nil {
		return WriteData{}, err
	}
	if !r.done() {
		return WriteData{}, ErrMalformed
	}
	return WriteData{
		ChunkID: chunkID, WriteID: writeID, Block: block,
		Offset: offset, Size: size, CRC: crc, Payload: payload,
	}, nil
}

// WriteEnd is LIZ_CLTOCS_WRITE_END's body.
type WriteEnd struct {
	ChunkID uint64
}

func (m WriteEnd) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	return w.buf, nil
}

func DecodeWriteEnd(body []byte) (WriteEnd, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return WriteEnd{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return WriteEnd{}, err
	}
	if !r.done() {
		return WriteEnd{}, ErrMalformed
	}
	return WriteEnd{ChunkID: chunkID}, nil
}

// TestChunk is LIZ_CLTOCS_TEST_CHUNK's body: the (chunk_id, version,
// part_type) tuple C9's wrong-CRC notifier reports.
type TestChunk struct {
	ChunkID  uint64
	Version  uint32
	PartType chunkformat.PartType
}

func (m TestChunk) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	w.u32(m.Version)
	if err := encodePartType(w, m.PartType); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func DecodeTestChunk(body []byte) (TestChunk, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return TestChunk{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return TestChunk{}, err
	}
	version, err := r.u32()
	if err != nil {
		return TestChunk{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return TestChunk{}, err
	}
	if !r.done() {
		return TestChunk{}, ErrMalformed
	}
	return TestChunk{ChunkID: chunkID, Version: version, PartType: pt}, nil
}

// ReadStatus is LIZ_CSTOCL_READ_STATUS's body: the terminal status for
// a READ request (spec.md §4.6/§4.7 — either this, or the full
// streamed READ_DATA frames precede it on success).
type ReadStatus struct {
	ChunkID  uint64
	PartType chunkformat.PartType
	Status   status.Code
}

func (m ReadStatus) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	if err := encodePartType(w, m.PartType); err != nil {
		return nil, err
	}
	w.u8(uint8(m.Status))
	return w.buf, nil
}

func DecodeReadStatus(body []byte) (ReadStatus, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return ReadStatus{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return ReadStatus{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return ReadStatus{}, err
	}
	code, err := r.u8()
	if err != nil {
		return ReadStatus{}, err
	}
	if !r.done() {
		return ReadStatus{}, ErrMalformed
	}
	return ReadStatus{ChunkID: chunkID, PartType: pt, Status: status.Code(code)}, nil
}

// ReadData is one LIZ_CSTOCL_READ_DATA frame: a single block of a read
// response, streamed one per block with its own CRC (spec.md §4.7).
type ReadData struct {
	ChunkID    uint64
	PartType   chunkformat.PartType
	BlockIndex uint32
	Offset     uint32
	Size       uint32
	CRC        uint32
	Payload    []byte
}

func (m ReadData) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	if err := encodePartType(w, m.PartType); err != nil {
		return nil, err
	}
	w.u32(m.BlockIndex)
	w.u32(m.Offset)
	w.u32(m.Size)
	w.u32(m.CRC)
	w.raw(m.Payload)
	return w.buf, nil
}

func DecodeReadData(body []byte) (ReadData, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return ReadData{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return ReadData{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return ReadData{}, err
	}
	blockIndex, err := r.u32()
	if err != nil {
		return ReadData{}, err
	}
	offset, err := r.u32()
	if err != nil {
		return ReadData{}, err
	}
	size, err := r.u32()
	if err != nil {
		return ReadData{}, err
	}
	crc, err := r.u32()
	if err != nil {
		return ReadData{}, err
	}
	payload, err := r.raw(int(size))
	if err != nil {
		return ReadData{}, err
	}
	if !r.done() {
		return ReadData{}, ErrMalformed
	}
	return ReadData{
		ChunkID: chunkID, PartType: pt, BlockIndex: blockIndex,
		Offset: offset, Size: size, CRC: crc, Payload: payload,
	}, nil
}

// WriteStatus is LIZ_CSTOCL_WRITE_STATUS's body: the write chain
// surfaces the first failing hop's identity via WriteID correlation
// (the hop's address is known to the caller out-of-band, via the
// connection it arrived on).
type WriteStatus struct {
	ChunkID  uint64
	WriteID  uint32
	PartType chunkformat.PartType
	Status   status.Code
}

func (m WriteStatus) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(protocolVersionV0)
	w.u64(m.ChunkID)
	w.u32(m.WriteID)
	if err := encodePartType(w, m.PartType); err != nil {
		return nil, err
	}
	w.u8(uint8(m.Status))
	return w.buf, nil
}

func DecodeWriteStatus(body []byte) (WriteStatus, error) {
	r := newReader(body)
	if err := verifyVersion(r); err != nil {
		return WriteStatus{}, err
	}
	chunkID, err := r.u64()
	if err != nil {
		return WriteStatus{}, err
	}
	writeID, err := r.u32()
	if err != nil {
		return WriteStatus{}, err
	}
	pt, err := decodePartType(r)
	if err != nil {
		return WriteStatus{}, err
	}
	code, err := r.u8()
	if err != nil {
		return WriteStatus{}, err
	}
	if !r.done() {
		return WriteStatus{}, ErrMalformed
	}
	return WriteStatus{ChunkID: chunkID, WriteID: writeID, PartType: pt, Status: status.Code(code)}, nil
}

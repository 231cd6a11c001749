package readservice

import (
	"context"
	"fmt"
	"time"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/status"
	"chunkserver/internal/wireproto"
)

// DefaultPeerDialTimeout bounds connecting to the peer a non-local
// ReadOp must be pulled from.
const DefaultPeerDialTimeout = 1 * time.Second

// fetchFromPeer pulls exactly [offset, offset+size) of one part from a
// remote chunkserver: it dials, sends a CLTOCS_READ frame, and
// reassembles the streamed CSTOCL_READ_DATA frames (matching this
// server's own HandleRead framing) into one contiguous buffer.
func fetchFromPeer(ctx context.Context, connector chunkconn.ChunkConnector, peer chunkconn.NetworkAddress,
	chunkID uint64, version uint32, pt chunkformat.PartType, offset, size int64) ([]byte, error) {

	conn, err := connector.Dial(ctx, peer, DefaultPeerDialTimeout)
	if err != nil {
		return nil, status.ErrConnectionTimeout
	}
	defer conn.Close()

	req := wireproto.ReadRequest{ChunkID: chunkID, Version: version, PartType: pt, Offset: uint32(offset), Size: uint32(size)}
	body, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if err := wireproto.WriteFrame(conn, wireproto.OpCltocsRead, body); err != nil {
		return nil, status.ErrDisconnected
	}

	out := make([]byte, size)
	for {
		opType, body, err := wireproto.ReadFrame(conn)
		if err != nil {
			return nil, status.ErrDisconnected
		}
		switch opType {
		case wireproto.OpCstoclReadData:
			blk, err := wireproto.DecodeReadData(body)
			if err != nil {
				return nil, err
			}
			if chunkformat.BlockCRC(blk.Payload) != blk.CRC {
				return nil, status.ErrCRCMismatch
			}
			start := int64(blk.Offset) - offset
			if start < 0 || start+int64(len(blk.Payload)) > size {
				return nil, fmt.Errorf("%w: peer block outside requested range", status.ErrMalformed)
			}
			copy(out[start:], blk.Payload)
		case wireproto.OpCstoclReadStatus:
			st, err := wireproto.DecodeReadStatus(body)
			if err != nil {
				return nil, err
			}
			if st.Status != status.OK {
				return nil, st.Status
			}
			return out, nil
		default:
			return nil, status.ErrMalformed
		}
	}
}

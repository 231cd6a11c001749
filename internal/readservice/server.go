package readservice

import (
	"context"
	"log/slog"
	"net"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/erasure"
	"chunkserver/internal/jobpool"
	"chunkserver/internal/logging"
	"chunkserver/internal/status"
	"chunkserver/internal/wireproto"
)

// Server serves READ requests arriving over a connection.
type Server struct {
	logger    *slog.Logger
	store     *diskstore.Store
	pool      *jobpool.Pool
	connector chunkconn.ChunkConnector
	locator   PartLocator
}

type Config struct {
	Store     *diskstore.Store
	Pool      *jobpool.Pool
	Connector chunkconn.ChunkConnector
	Locator   PartLocator
	Logger    *slog.Logger
}

func NewServer(cfg Config) *Server {
	return &Server{
		logger:    logging.Default(cfg.Logger).With("component", "readservice"),
		store:     cfg.Store,
		pool:      cfg.Pool,
		connector: cfg.Connector,
		locator:   cfg.Locator,
	}
}

// Serve reads one request frame from conn and answers it; callers loop
// if a connection carries more than one request. Besides CLTOCS_READ
// this also answers CLTOCS_GET_CHUNK_BLOCKS, the replicator's (C8)
// query for this server's local block count — both are "what can you
// tell me about this part" queries served by the same local open.
func Serve(ctx context.Context, conn net.Conn, s *Server) {
	opType, body, err := wireproto.ReadFrame(conn)
	if err != nil {
		return
	}
	s.Dispatch(ctx, conn, opType, body)
}

// Dispatch answers one already-read frame. Serve is the common case (one
// frame read straight off conn); a caller multiplexing several opcode
// families over one accepted connection may instead read the frame
// itself and call Dispatch directly so it can route non-read opcodes
// elsewhere without them being silently swallowed.
func (s *Server) Dispatch(ctx context.Context, conn net.Conn, opType wireproto.OpType, body []byte) {
	switch opType {
	case wireproto.OpCltocsRead:
		req, err := wireproto.DecodeReadRequest(body)
		if err != nil {
			return
		}
		s.HandleRead(ctx, conn, req)
	case wireproto.OpCltocsGetChunkBlocks:
		req, err := wireproto.DecodeGetChunkBlocks(body)
		if err != nil {
			return
		}
		s.HandleGetChunkBlocks(conn, req)
	case wireproto.OpCltocsTestChunk:
		req, err := wireproto.DecodeTestChunk(body)
		if err != nil {
			return
		}
		s.HandleTestChunk(req)
	}
}

// HandleTestChunk answers a C9 advisory by forcing every block of the
// named local part through the ordinary CRC-verified read path, so
// diskstore's CRCFailureFunc hook reports any block that mismatches
// (cmd/chunkserver installs a hook that logs it; no crcnotify.Notifier
// is fed from it). There is no reply frame — advisories are fire-and-forget
// (spec.md §4.9).
func (s *Server) HandleTestChunk(req wireproto.TestChunk) {
	entry, err := s.store.Open(req.ChunkID, req.Version, req.PartType)
	if err != nil {
		return
	}
	defer s.store.Close(entry)

	blocks, err := s.store.GetBlocks(entry)
	if err != nil || blocks == 0 {
		return
	}
	_, _ = s.store.Read(entry, 0, blocks*chunkformat.BlockSize, 0, 0)
}

// HandleGetChunkBlocks answers a replicator's block-count query for a
// part held locally.
func (s *Server) HandleGetChunkBlocks(conn net.Conn, req wireproto.GetChunkBlocks) {
	reply := wireproto.ChunkBlocks{ChunkID: req.ChunkID, PartType: req.PartType}
	entry, err := s.store.Open(req.ChunkID, req.Version, req.PartType)
	if err != nil {
		reply.Status = status.FromError(err)
		s.writeChunkBlocks(conn, reply)
		return
	}
	defer s.store.Close(entry)

	blocks, err := s.store.GetBlocks(entry)
	if err != nil {
		reply.Status = status.FromError(err)
		s.writeChunkBlocks(conn, reply)
		return
	}
	reply.Blocks = uint32(blocks)
	reply.Status = status.OK
	s.writeChunkBlocks(conn, reply)
}

func (s *Server) writeChunkBlocks(conn net.Conn, reply wireproto.ChunkBlocks) {
	body, err := reply.Encode()
	if err != nil {
		return
	}
	_ = wireproto.WriteFrame(conn, wireproto.OpCstoclChunkBlocks, body)
}

// HandleRead implements spec.md §4.7's four steps: plan, gather,
// recombine, stream.
func (s *Server) HandleRead(ctx context.Context, conn net.Conn, req wireproto.ReadRequest) {
	avail, err := s.locator.Availability(req.ChunkID, req.Version)
	if err != nil {
		s.replyStatus(conn, req, status.FromError(err))
		return
	}

	buf, plan, err := s.planAndGather(ctx, req, avail)
	if err != nil {
		s.replyStatus(conn, req, status.FromError(err))
		return
	}

	if err := erasure.ExecuteXorOps(buf, plan.XorOps); err != nil {
		s.replyStatus(conn, req, status.FromError(err))
		return
	}
	if plan.ECRecover != nil {
		if err := erasure.ExecuteECRecover(buf, plan.ECRecover); err != nil {
			s.replyStatus(conn, req, status.FromError(err))
			return
		}
	}

	s.streamBlocks(conn, req, plan, buf)
}

// planAndGather builds a ReadPlan and fetches every source block it
// names, retrying once with the offending part marked unavailable if a
// local read surfaces a CRC mismatch (spec.md §4.7 point 4).
func (s *Server) planAndGather(ctx context.Context, req wireproto.ReadRequest, avail erasure.Available) ([]byte, erasure.ReadPlan, error) {
	for attempt := 0; attempt < 2; attempt++ {
		plan, err := erasure.Plan(avail, int64(req.Offset), int64(req.Size))
		if err != nil {
			return nil, erasure.ReadPlan{}, status.ErrNotFound
		}

		buf := make([]byte, plan.RequiredBufferSize)
		badPart, err := s.gather(ctx, req.ChunkID, req.Version, plan, buf)
		if err == nil {
			return buf, plan, nil
		}
		if attempt == 0 && status.FromError(err) == status.CRCError {
			if narrowed, ok := withPartUnavailable(avail, badPart); ok {
				avail = narrowed
				continue
			}
		}
		return nil, erasure.ReadPlan{}, err
	}
	return nil, erasure.ReadPlan{}, status.ErrIOError
}

// gather executes every ReadOp in plan, local ones through C4's OpRead
// job, remote ones by pulling from the peer the PartLocator's Locate
// resolves.
// On error it also returns which part was being read, so the caller
// can retry with that part excluded.
func (s *Server) gather(ctx context.Context, chunkID uint64, version uint32, plan erasure.ReadPlan, buf []byte) (chunkformat.PartType, error) {
	for _, op := range plan.ReadOps {
		local, peer, err := s.locator.Locate(chunkID, version, op.Part)
		if err != nil {
			return op.Part, err
		}

		var data []byte
		if local {
			data, err = s.readLocal(ctx, chunkID, version, op)
		} else {
			data, err = fetchFromPeer(ctx, s.connector, peer, chunkID, version, op.Part, op.RequestOffset, op.RequestSize)
		}
		if err != nil {
			return op.Part, err
		}

		// DstBlocks need not be contiguous (XOR full-stripe reads
		// interleave across parts), so scatter block-by-block rather
		// than copying the fetch as one contiguous span.
		for i, dstBlock := range op.DstBlocks {
			lo := i * chunkformat.BlockSize
			hi := lo + chunkformat.BlockSize
			if hi > len(data) {
				hi = len(data)
			}
			if lo >= hi {
				break
			}
			dstLo := dstBlock * chunkformat.BlockSize
			copy(buf[dstLo:dstLo+(hi-lo)], data[lo:hi])
		}
	}
	return chunkformat.PartType{}, nil
}

func (s *Server) readLocal(ctx context.Context, chunkID uint64, version uint32, op erasure.ReadOp) ([]byte, error) {
	var result []byte
	done := make(chan error, 1)
	_, err := s.pool.Submit(jobpool.OpRead, readJobArgs{
		store: s.store, chunkID: chunkID, version: version, pt: op.Part,
		offset: op.RequestOffset, size: op.RequestSize, result: &result,
	}, func(st error, extra any) { done <- st }, nil)
	if err != nil {
		return nil, err
	}
	select {
	case st := <-done:
		if st != nil {
			return nil, st
		}
		return result, nil
	case <-ctx.Done():
		return nil, status.ErrDisconnected
	}
}

// streamBlocks sends plan's recombined buffer to the client one block
// at a time, each carrying its own CRC, then a terminal ReadStatus.
func (s *Server) streamBlocks(conn net.Conn, req wireproto.ReadRequest, plan erasure.ReadPlan, buf []byte) {
	startBlock := int(req.Offset) / chunkformat.BlockSize
	for i := 0; i < plan.VisibleBlocks; i++ {
		lo := i * chunkformat.BlockSize
		hi := lo + chunkformat.BlockSize
		if hi > len(buf) {
			hi = len(buf)
		}
		block := buf[lo:hi]
		msg := wireproto.ReadData{
			ChunkID:    req.ChunkID,
			PartType:   req.PartType,
			BlockIndex: uint32(startBlock + i),
			Offset:     uint32((startBlock + i) * chunkformat.BlockSize),
			Size:       uint32(len(block)),
			CRC:        chunkformat.BlockCRC(block),
			Payload:    block,
		}
		body, err := msg.Encode()
		if err != nil {
			s.replyStatus(conn, req, status.ErrInvalid)
			return
		}
		if err := wireproto.WriteFrame(conn, wireproto.OpCstoclReadData, body); err != nil {
			return
		}
	}
	s.replyStatus(conn, req, status.OK)
}

func (s *Server) replyStatus(conn net.Conn, req wireproto.ReadRequest, code status.Code) {
	msg := wireproto.ReadStatus{ChunkID: req.ChunkID, PartType: req.PartType, Status: code}
	body, err := msg.Encode()
	if err != nil {
		return
	}
	_ = wireproto.WriteFrame(conn, wireproto.OpCstoclReadStatus, body)
}

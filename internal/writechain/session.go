// Package writechain implements the server-side half of the C6 write
// chain (spec.md §4.6): a client opens one connection to the first
// chunkserver in a chain the master picked, and each hop relays
// WRITE_DATA downstream while enqueuing the same bytes as a local
// write job, so a chunk's replicas all receive identical data in the
// same order.
package writechain

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/jobpool"
	"chunkserver/internal/logging"
	"chunkserver/internal/peerstats"
	"chunkserver/internal/status"
	"chunkserver/internal/wireproto"
)

// DefaultConnectTimeout is spec.md §4.6's "if the downstream peer never
// connects within 1s, the write fails CONNECTION_TIMEOUT".
const DefaultConnectTimeout = 1 * time.Second

type phase int

const (
	phaseIdle phase = iota
	phaseActive
	phaseDraining
	phaseDone
)

// Session drives one write chain hop for the lifetime of a single
// (chunk_id, part_type) write. A new Session is created per WRITE_INIT.
type Session struct {
	logger    *slog.Logger
	store     *diskstore.Store
	pool      *jobpool.Pool
	connector chunkconn.ChunkConnector
	stats     *peerstats.Table
	statsProxy *peerstats.Proxy

	connectTimeout time.Duration

	mu       sync.Mutex
	phase    phase
	chunkID  uint64
	partType chunkformat.PartType
	version  uint32
	creator  *diskstore.ChunkFileCreator

	downstream     net.Conn
	downstreamAddr chunkconn.NetworkAddress
	hasDownstream  bool

	pendingWrites sync.WaitGroup
	firstErr      status.Code
	firstErrPeer  string
	hasFirstErr   bool
}

// Config supplies a Session's collaborators.
type Config struct {
	Store     *diskstore.Store
	Pool      *jobpool.Pool
	Connector chunkconn.ChunkConnector
	Stats     *peerstats.Table
	Logger    *slog.Logger
}

func NewSession(cfg Config) *Session {
	s := &Session{
		logger:         logging.Default(cfg.Logger).With("component", "writechain"),
		store:          cfg.Store,
		pool:           cfg.Pool,
		connector:      cfg.Connector,
		stats:          cfg.Stats,
		connectTimeout: DefaultConnectTimeout,
		phase:          phaseIdle,
	}
	if s.stats != nil {
		s.statsProxy = peerstats.NewProxy(s.stats)
	}
	return s
}

// recordFailure remembers the first hop failure (local or downstream),
// per spec.md §4.6's "the write chain surfaces the first status
// encountered" (spec.md §4.8 applies the same rule to replication).
func (s *Session) recordFailure(code status.Code, peer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasFirstErr {
		return
	}
	s.hasFirstErr = true
	s.firstErr = code
	s.firstErrPeer = peer
	s.phase = phaseDraining
	s.logger.Warn("write chain hop failed, draining",
		"chunk_id", s.chunkID, "part_type", s.partType, "status", code, "peer", peer)
}

func (s *Session) failed() (status.Code, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr, s.firstErrPeer, s.hasFirstErr
}

// HandleInit creates the chunk locally with Store.CreateChunk, then, if
// the chain is non-empty, connects to the next hop and forwards
// WRITE_INIT with the head stripped, awaiting its WriteStatus
// acknowledgement. A chunk part that is already stored is not opened
// for writing: CreateChunk refuses it and the init fails.
func (s *Session) HandleInit(ctx context.Context, msg wireproto.WriteInit) status.Code {
	s.mu.Lock()
	s.chunkID = msg.ChunkID
	s.partType = msg.PartType
	s.version = msg.Version
	s.mu.Unlock()

	creator, err := s.store.CreateChunk(msg.ChunkID, msg.Version, msg.PartType)
	if err != nil {
		code := status.FromError(err)
		s.recordFailure(code, "")
		return code
	}

	s.mu.Lock()
	s.creator = creator
	s.phase = phaseActive
	s.mu.Unlock()

	if len(msg.Chain) == 0 {
		return status.OK
	}

	next := msg.Chain[0]
	rest := msg.Chain[1:]

	addr := chunkconn.NetworkAddress{IP: next.IP, Port: next.Port}
	conn, err := s.connector.Dial(ctx, addr, s.connectTimeout)
	if err != nil {
		code := status.ErrConnectionTimeout
		s.recordFailure(code, addr.String())
		_ = creator.Close()
		return code
	}

	forward := wireproto.WriteInit{
		ChunkID:  msg.ChunkID,
		Version:  msg.Version,
		PartType: msg.PartType,
		Chain:    rest,
	}
	body, err := forward.Encode()
	if err != nil {
		s.recordFailure(status.ErrInvalid, addr.String())
		conn.Close()
		_ = creator.Close()
		return status.ErrInvalid
	}
	if err := wireproto.WriteFrame(conn, wireproto.OpCltocsWriteInit, body); err != nil {
		s.recordFailure(status.ErrDisconnected, addr.String())
		conn.Close()
		_ = creator.Close()
		return status.ErrDisconnected
	}

	opType, ackBody, err := wireproto.ReadFrame(conn)
	if err != nil || opType != wireproto.OpCstoclWriteStatus {
		s.recordFailure(status.ErrDisconnected, addr.String())
		conn.Close()
		_ = creator.Close()
		return status.ErrDisconnected
	}
	ack, err := wireproto.DecodeWriteStatus(ackBody)
	if err != nil {
		s.recordFailure(status.ErrMalformed, addr.String())
		conn.Close()
		_ = creator.Close()
		return status.ErrMalformed
	}
	if ack.Status != status.OK {
		s.recordFailure(ack.Status, addr.String())
		conn.Close()
		_ = creator.Close()
		return ack.Status
	}

	s.mu.Lock()
	s.downstream = conn
	s.downstreamAddr = addr
	s.hasDownstream = true
	s.mu.Unlock()
	if s.statsProxy != nil {
		s.statsProxy.RegisterWriteOp(addr.String())
	}

	return status.OK
}

// writeJobArgs is the argument type writechain's OpWrite handler
// expects (registered by RegisterHandlers). The chunk is still under
// construction at this point (WRITE_INIT hasn't been followed by
// WRITE_END/Commit yet), so the write goes through the creator, not
// Store.Write.
type writeJobArgs struct {
	creator       *diskstore.ChunkFileCreator
	blockIndex    int
	offsetInBlock int
	size          int
	data          []byte
}

// RegisterHandlers binds writechain's job kinds to pool, so every
// local WRITE_DATA becomes a genuine asynchronous job-pool job rather
// than a synchronous call, per spec.md §4.6's "enqueue a local WRITE
// job". CRC verification already happened in HandleData before
// submission; chunkformat.WriteBlock computes and stores its own CRC
// for the block from the data it's given.
func RegisterHandlers(pool *jobpool.Pool) {
	pool.RegisterHandler(jobpool.OpWrite, func(jctx *jobpool.Context, args any) error {
		a := args.(writeJobArgs)
		if jctx.Disabled() {
			return status.ErrNotDone
		}
		return a.creator.Write(a.blockIndex, a.offsetInBlock, a.size, a.data)
	})
}

// HandleData verifies the supplied CRC, forwards the frame downstream
// unchanged, and enqueues a local WRITE job — all three per spec.md
// §4.6. It blocks until the local job completes (or ctx is done) and,
// with a downstream hop, until that hop's WriteStatus for the frame
// arrives, since chain hops must apply writes in order before
// acknowledging upstream; a non-OK downstream status is returned as is.
func (s *Session) HandleData(ctx context.Context, msg wireproto.WriteData, raw []byte) status.Code {
	if code, _, failed := s.failed(); failed {
		return code
	}

	if chunkformat.BlockCRC(msg.Payload) != msg.CRC {
		s.recordFailure(status.ErrCRCMismatch, "")
		return status.ErrCRCMismatch
	}

	s.mu.Lock()
	downstream := s.downstream
	hasDownstream := s.hasDownstream
	downstreamAddr := s.downstreamAddr
	s.mu.Unlock()

	if hasDownstream {
		if err := wireproto.WriteFrame(downstream, wireproto.OpCltocsWriteData, raw); err != nil {
			s.recordFailure(status.ErrDisconnected, downstreamAddr.String())
			return status.ErrDisconnected
		}
	}

	s.mu.Lock()
	creator := s.creator
	s.mu.Unlock()

	done := make(chan error, 1)
	s.pendingWrites.Add(1)
	_, err := s.pool.Submit(jobpool.OpWrite, writeJobArgs{
		creator:       creator,
		blockIndex:    int(msg.Block),
		offsetInBlock: int(msg.Offset),
		size:          int(msg.Size),
		data:          msg.Payload,
	}, func(st error, extra any) {
		defer s.pendingWrites.Done()
		done <- st
	}, nil)
	if err != nil {
		s.pendingWrites.Done()
		s.recordFailure(status.ErrDisconnected, "")
		return status.ErrDisconnected
	}

	select {
	case st := <-done:
		if st != nil {
			code := status.FromError(st)
			s.recordFailure(code, "")
			return code
		}
	case <-ctx.Done():
		return status.ErrDisconnected
	}

	if hasDownstream {
		opType, ackBody, err := wireproto.ReadFrame(downstream)
		ack, decErr := wireproto.DecodeWriteStatus(ackBody)
		if err != nil || decErr != nil || opType != wireproto.OpCstoclWriteStatus {
			s.recordFailure(status.ErrDisconnected, downstreamAddr.String())
			return status.ErrDisconnected
		}
		if ack.Status != status.OK {
			s.recordFailure(ack.Status, downstreamAddr.String())
			return ack.Status
		}
	}

	return status.OK
}

// HandleEnd waits for all in-flight local writes to finish, closes the
// local chunk, and forwards END downstream.
func (s *Session) HandleEnd(ctx context.Context, msg wireproto.WriteEnd) status.Code {
	s.pendingWrites.Wait()

	if code, _, failed := s.failed(); failed {
		s.revertAndClose()
		return code
	}

	s.mu.Lock()
	creator := s.creator
	downstream := s.downstream
	hasDownstream := s.hasDownstream
	s.phase = phaseDone
	s.mu.Unlock()

	if creator != nil {
		if err := creator.Commit(); err != nil {
			code := status.FromError(err)
			s.recordFailure(code, "")
			return code
		}
	}

	if hasDownstream {
		body, _ := msg.Encode()
		if err := wireproto.WriteFrame(downstream, wireproto.OpCltocsWriteEnd, body); err != nil {
			s.recordFailure(status.ErrDisconnected, "")
			return status.ErrDisconnected
		}
		opType, ackBody, err := wireproto.ReadFrame(downstream)
		if err == nil && opType == wireproto.OpCstoclWriteStatus {
			if ack, decErr := wireproto.DecodeWriteStatus(ackBody); decErr == nil && ack.Status != status.OK {
				s.recordFailure(ack.Status, "")
				return ack.Status
			}
		}
	}

	return status.OK
}

// revertAndClose reverts the local chunk to its state before this
// write and tears down the downstream connection, the "draining"
// substate's cleanup (spec.md §4.6).
func (s *Session) revertAndClose() {
	s.mu.Lock()
	creator := s.creator
	downstream := s.downstream
	hasDownstream := s.hasDownstream
	s.mu.Unlock()

	if creator != nil {
		_ = creator.Close()
	}
	if hasDownstream {
		downstream.Close()
	}
}

// Close tears down any still-open downstream connection and releases
// registered peer stats, the RAII-style cleanup spec.md §4.5 expects
// from every exit path of a chain hop.
func (s *Session) Close() {
	s.mu.Lock()
	downstream := s.downstream
	hasDownstream := s.hasDownstream
	s.hasDownstream = false
	s.mu.Unlock()
	if hasDownstream {
		downstream.Close()
	}
	if s.statsProxy != nil {
		s.statsProxy.Close()
	}
}

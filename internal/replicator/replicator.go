// Package replicator implements the replication/repair driver (C8):
// given a target (chunk_id, version, part_type) and a set of candidate
// sources, it pulls the chunk's blocks from those sources, verifies
// each one's CRC, and builds the target chunk through a
// diskstore.ChunkFileCreator.
package replicator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/logging"
	"chunkserver/internal/status"
	"chunkserver/internal/wireproto"
)

// Defaults per spec.md §4.8: "Timeouts are configurable per-wave
// (500 ms default), per-connection (1 s), total (60 s)."
const (
	DefaultWaveTimeout    = 500 * time.Millisecond
	DefaultConnectTimeout = 1 * time.Second
	DefaultTotalTimeout   = 60 * time.Second
)

// maxParallelFetches bounds how many block fetches run concurrently
// per Replicate call, so one repair can't monopolize every worker.
const maxParallelFetches = 8

// ChunkTypeWithAddress names one candidate replication source: a peer
// chunkserver believed to hold this (chunk_id, version, part_type).
type ChunkTypeWithAddress struct {
	PartType chunkformat.PartType
	Peer     chunkconn.NetworkAddress
}

type Config struct {
	Connector      chunkconn.ChunkConnector
	WaveTimeout    time.Duration
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	Logger         *slog.Logger
}

// Replicator drives ChunkReplicator.replicate (spec.md §4.8).
type Replicator struct {
	logger         *slog.Logger
	connector      chunkconn.ChunkConnector
	waveTimeout    time.Duration
	connectTimeout time.Duration
	totalTimeout   time.Duration
}

func New(cfg Config) *Replicator {
	r := &Replicator{
		logger:         logging.Default(cfg.Logger).With("component", "replicator"),
		connector:      cfg.Connector,
		waveTimeout:    cfg.WaveTimeout,
		connectTimeout: cfg.ConnectTimeout,
		totalTimeout:   cfg.TotalTimeout,
	}
	if r.waveTimeout <= 0 {
		r.waveTimeout = DefaultWaveTimeout
	}
	if r.connectTimeout <= 0 {
		r.connectTimeout = DefaultConnectTimeout
	}
	if r.totalTimeout <= 0 {
		r.totalTimeout = DefaultTotalTimeout
	}
	return r
}

// Replicate builds (chunk_id, version, part_type) locally through
// store by pulling every block from sources, in parallel, then writing
// them to the target creator in block order (spec.md §4.8: "must
// preserve byte order when writing" even though fetches may race).
func (r *Replicator) Replicate(ctx context.Context, store *diskstore.Store, chunkID uint64, version uint32, pt chunkformat.PartType, sources []ChunkTypeWithAddress) error {
	if len(sources) == 0 {
		return fmt.Errorf("%w: replicate %d/%s: no sources", status.ErrInvalid, chunkID, pt)
	}

	waveID := uuid.NewString()
	log := r.logger.With("wave_id", waveID, "chunk_id", chunkID, "part_type", pt)

	ctx, cancel := context.WithTimeout(ctx, r.totalTimeout)
	defer cancel()

	blocks, err := r.authoritativeBlockCount(ctx, chunkID, version, sources)
	if err != nil {
		log.Warn("replicate: no source answered block count", "error", err)
		return err
	}

	creator, err := store.CreateChunk(chunkID, version, pt)
	if err != nil {
		return err
	}

	fetched := make([][]byte, blocks)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i := 0; i < blocks; i++ {
		i := i
		g.Go(func() error {
			source := sources[i%len(sources)]
			block, err := r.fetchBlock(gctx, source, chunkID, version, i)
			if err != nil {
				return err
			}
			fetched[i] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = creator.Close()
		log.Warn("replicate: fetch failed, aborting", "error", err)
		return err
	}

	for i, block := range fetched {
		if err := creator.Write(i, 0, len(block), block); err != nil {
			_ = creator.Close()
			return err
		}
	}
	if err := creator.Commit(); err != nil {
		return err
	}
	log.Info("replicate: committed", "blocks", blocks)
	return nil
}

// authoritativeBlockCount queries every source's GET_CHUNK_BLOCKS in
// parallel and returns the largest reported count, on the theory that
// a source reporting fewer blocks is more likely stale or mid-write
// than one reporting more (spec.md §4.8 step 1 names no tie-break
// rule explicitly).
func (r *Replicator) authoritativeBlockCount(ctx context.Context, chunkID uint64, version uint32, sources []ChunkTypeWithAddress) (int, error) {
	type result struct {
		blocks int
		err    error
	}
	results := make([]result, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			n, err := r.queryBlockCount(ctx, src, chunkID, version)
			results[i] = result{blocks: n, err: err}
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	var lastErr error
	for _, res := range results {
		if res.err != nil {
			lastErr = res.err
			continue
		}
		if res.blocks > best {
			best = res.blocks
		}
	}
	if best < 0 {
		if lastErr == nil {
			lastErr = status.ErrDisconnected
		}
		return 0, lastErr
	}
	return best, nil
}

func (r *Replicator) queryBlockCount(ctx context.Context, src ChunkTypeWithAddress, chunkID uint64, version uint32) (int, error) {
	conn, err := r.connector.Dial(ctx, src.Peer, r.connectTimeout)
	if err != nil {
		return 0, status.ErrConnectionTimeout
	}
	defer conn.Close()

	req := wireproto.GetChunkBlocks{ChunkID: chunkID, Version: version, PartType: src.PartType}
	body, err := req.Encode()
	if err != nil {
		return 0, err
	}
	if err := wireproto.WriteFrame(conn, wireproto.OpCltocsGetChunkBlocks, body); err != nil {
		return 0, status.ErrDisconnected
	}

	opType, body, err := wireproto.ReadFrame(conn)
	if err != nil {
		return 0, status.ErrDisconnected
	}
	if opType != wireproto.OpCstoclChunkBlocks {
		return 0, status.ErrMalformed
	}
	reply, err := wireproto.DecodeChunkBlocks(body)
	if err != nil {
		return 0, err
	}
	if reply.Status != status.OK {
		return 0, reply.Status
	}
	return int(reply.Blocks), nil
}

// fetchBlock pulls exactly one 64 KiB block from source, bounding the
// round trip to the per-wave timeout.
func (r *Replicator) fetchBlock(ctx context.Context, source ChunkTypeWithAddress, chunkID uint64, version uint32, blockIndex int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.waveTimeout)
	defer cancel()

	conn, err := r.connector.Dial(ctx, source.Peer, r.connectTimeout)
	if err != nil {
		return nil, status.ErrConnectionTimeout
	}
	defer conn.Close()

	req := wireproto.ReadRequest{
		ChunkID: chunkID, Version: version, PartType: source.PartType,
		Offset: uint32(blockIndex * chunkformat.BlockSize), Size: uint32(chunkformat.BlockSize),
	}
	body, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if err := wireproto.WriteFrame(conn, wireproto.OpCltocsRead, body); err != nil {
		return nil, status.ErrDisconnected
	}

	out := make([]byte, 0, chunkformat.BlockSize)
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
			out = append(out, blk.Payload...)
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

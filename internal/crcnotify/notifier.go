// Package crcnotify implements the wrong-CRC notifier (C9): a
// singleton collecting (peer, chunk_id, version, part_type) reports of
// blocks that failed CRC verification, and a dedicated background
// goroutine that drains the set and advises each peer with a
// LIZ_CLTOCS_TEST_CHUNK frame so it can re-check its own copy.
package crcnotify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/logging"
	"chunkserver/internal/notify"
	"chunkserver/internal/wireproto"
)

// DefaultConnectTimeout bounds dialing a peer to deliver one advisory.
const DefaultConnectTimeout = 1 * time.Second

// Entry is one reported bad-CRC observation.
type Entry struct {
	Peer     chunkconn.NetworkAddress
	ChunkID  uint64
	Version  uint32
	PartType chunkformat.PartType
}

type Config struct {
	Connector      chunkconn.ChunkConnector
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Notifier is the C9 singleton: callers report bad CRCs from any
// goroutine (typically diskstore's CRCFailureFunc hook), and one
// background goroutine drains and advises.
type Notifier struct {
	logger         *slog.Logger
	connector      chunkconn.ChunkConnector
	connectTimeout time.Duration

	mu      sync.Mutex
	pending map[Entry]struct{}
	signal  *notify.Signal

	terminate chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config) *Notifier {
	n := &Notifier{
		logger:         logging.Default(cfg.Logger).With("component", "crcnotify"),
		connector:      cfg.Connector,
		connectTimeout: cfg.ConnectTimeout,
		pending:        make(map[Entry]struct{}),
		signal:         notify.NewSignal(),
		terminate:      make(chan struct{}),
	}
	if n.connectTimeout <= 0 {
		n.connectTimeout = DefaultConnectTimeout
	}
	return n
}

// ReportBadCRC inserts an entry and wakes the draining goroutine
// (spec.md §4.9: "inserts an entry and notifies a condvar").
func (n *Notifier) ReportBadCRC(peer chunkconn.NetworkAddress, chunkID uint64, version uint32, pt chunkformat.PartType) {
	e := Entry{Peer: peer, ChunkID: chunkID, Version: version, PartType: pt}
	n.mu.Lock()
	n.pending[e] = struct{}{}
	n.mu.Unlock()
	n.signal.Notify()
}

// Start launches the dedicated draining goroutine. The goroutine
// returns once Close is called or ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go n.run(ctx)
}

func (n *Notifier) run(ctx context.Context) {
	defer n.wg.Done()
	for {
		// Subscribe before draining: any ReportBadCRC that lands after
		// this point closes the channel captured here, so a report that
		// arrives between drain() finding nothing and the select below
		// still wakes it (no lost-wakeup window).
		woken := n.signal.C()
		entries := n.drain()
		for _, e := range entries {
			n.advise(ctx, e)
		}
		if len(entries) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-n.terminate:
			return
		case <-woken:
		}
	}
}

func (n *Notifier) drain() []Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(n.pending))
	for e := range n.pending {
		out = append(out, e)
	}
	n.pending = make(map[Entry]struct{})
	return out
}

// advise sends one best-effort LIZ_CLTOCS_TEST_CHUNK frame. Delivery
// failure is logged, not retried — the entry is gone from the pending
// set the moment it was drained, matching the original's fire-and-forget
// advisory (a future CRC mismatch, if the peer's copy is also bad, will
// simply be reported again by whoever next reads it).
func (n *Notifier) advise(ctx context.Context, e Entry) {
	conn, err := n.connector.Dial(ctx, e.Peer, n.connectTimeout)
	if err != nil {
		n.logger.Warn("crc advisory: dial failed", "peer", e.Peer, "chunk_id", e.ChunkID, "error", err)
		return
	}
	defer conn.Close()

	msg := wireproto.TestChunk{ChunkID: e.ChunkID, Version: e.Version, PartType: e.PartType}
	body, err := msg.Encode()
	if err != nil {
		n.logger.Warn("crc advisory: encode failed", "error", err)
		return
	}
	if err := wireproto.WriteFrame(conn, wireproto.OpCltocsTestChunk, body); err != nil {
		n.logger.Warn("crc advisory: send failed", "peer", e.Peer, "chunk_id", e.ChunkID, "error", err)
	}
}

// Close sets the terminate flag and joins the background goroutine
// (spec.md §4.9: "Destruction sets a terminate flag and joins the
// thread"). Safe to call multiple times.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() { close(n.terminate) })
	n.wg.Wait()
}

package replicator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/erasure"
	"chunkserver/internal/jobpool"
	"chunkserver/internal/readservice"
	"chunkserver/internal/status"
)

// standardLocalLocator is the simplest PartLocator a single-node source
// server needs for these tests: everything is a local Standard part.
type standardLocalLocator struct{}

func (standardLocalLocator) Availability(chunkID uint64, version uint32) (erasure.Available, error) {
	return erasure.Available{Standard: true}, nil
}

func (standardLocalLocator) Locate(chunkID uint64, version uint32, pt chunkformat.PartType) (bool, chunkconn.NetworkAddress, error) {
	return true, chunkconn.NetworkAddress{}, nil
}

func newSourceServer(t *testing.T, blocks [][]byte, chunkID uint64, version uint32, pt chunkformat.PartType) *readservice.Server {
	t.Helper()
	store := diskstore.New(diskstore.Config{DiskRoots: []string{t.TempDir()}, Now: time.Now})
	pool, err := jobpool.New(jobpool.Config{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	readservice.RegisterHandlers(pool)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pool.Run(ctx)

	creator, err := store.CreateChunk(chunkID, version, pt)
	require.NoError(t, err)
	for i, block := range blocks {
		require.NoError(t, creator.Write(i, 0, len(block), block))
	}
	require.NoError(t, creator.Commit())

	return readservice.NewServer(readservice.Config{Store: store, Pool: pool, Locator: standardLocalLocator{}})
}

type pipeConnector struct {
	serve func(conn net.Conn)
}

func (c *pipeConnector) Dial(ctx context.Context, addr chunkconn.NetworkAddress, timeout time.Duration) (net.Conn, error) {
	client, server := net.Pipe()
	go c.serve(server)
	return client, nil
}

func TestReplicateSingleSourceRoundTrip(t *testing.T) {
	chunkID, version := uint64(100), uint32(1)
	pt := chunkformat.Standard()

	block0 := make([]byte, chunkformat.BlockSize)
	block1 := make([]byte, chunkformat.BlockSize)
	for i := range block0 {
		block0[i] = byte(i)
		block1[i] = byte(255 - i)
	}
	source := newSourceServer(t, [][]byte{block0, block1}, chunkID, version, pt)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	connector := &pipeConnector{serve: func(conn net.Conn) { readservice.Serve(ctx, conn, source) }}

	r := New(Config{Connector: connector, WaveTimeout: time.Second, ConnectTimeout: time.Second, TotalTimeout: 5 * time.Second})
	target := diskstore.New(diskstore.Config{DiskRoots: []string{t.TempDir()}, Now: time.Now})

	err := r.Replicate(context.Background(), target, chunkID, version, pt,
		[]ChunkTypeWithAddress{{PartType: pt, Peer: chunkconn.NetworkAddress{IP: 0x7F000001, Port: 9422}}})
	require.NoError(t, err)

	entry, err := target.Open(chunkID, version, pt)
	require.NoError(t, err)
	got, err := target.Read(entry, 0, 2*chunkformat.BlockSize, 0, 0)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, block0...), block1...), got)
}

func TestReplicateNoSourcesIsInvalid(t *testing.T) {
	r := New(Config{Connector: &pipeConnector{}})
	target := diskstore.New(diskstore.Config{DiskRoots: []string{t.TempDir()}, Now: time.Now})
	err := r.Replicate(context.Background(), target, 1, 1, chunkformat.Standard(), nil)
	require.ErrorIs(t, err, status.ErrInvalid)
}

func TestReplicateAllSourcesUnreachableFails(t *testing.T) {
	connector := &pipeConnector{serve: func(conn net.Conn) { conn.Close() }}
	r := New(Config{Connector: connector, ConnectTimeout: 50 * time.Millisecond, WaveTimeout: 50 * time.Millisecond, TotalTimeout: time.Second})
	target := diskstore.New(diskstore.Config{DiskRoots: []string{t.TempDir()}, Now: time.Now})

	err := r.Replicate(context.Background(), target, 2, 1, chunkformat.Standard(),
		[]ChunkTypeWithAddress{{PartType: chunkformat.Standard(), Peer: chunkconn.NetworkAddress{IP: 0x7F000001, Port: 9422}}})
	require.Error(t, err)
}

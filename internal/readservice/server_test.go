package readservice

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/erasure"
	"chunkserver/internal/jobpool"
	"chunkserver/internal/status"
	"chunkserver/internal/wireproto"
)

func writeCommittedPart(t *testing.T, store *diskstore.Store, chunkID uint64, version uint32, pt chunkformat.PartType, block []byte) {
	t.Helper()
	creator, err := store.CreateChunk(chunkID, version, pt)
	require.NoError(t, err)
	require.NoError(t, creator.Write(0, 0, len(block), block))
	require.NoError(t, creator.Commit())
}

func newTestServer(t *testing.T, locator PartLocator, connector chunkconn.ChunkConnector) (*Server, *diskstore.Store) {
	t.Helper()
	store := diskstore.New(diskstore.Config{DiskRoots: []string{t.TempDir()}, Now: time.Now})
	pool, err := jobpool.New(jobpool.Config{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	RegisterHandlers(pool)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pool.Run(ctx)

	return NewServer(Config{Store: store, Pool: pool, Connector: connector, Locator: locator}), store
}

// localOnlyLocator answers every Locate as local, regardless of part.
type localOnlyLocator struct {
	avail erasure.Available
}

func (l *localOnlyLocator) Availability(chunkID uint64, version uint32) (erasure.Available, error) {
	return l.avail, nil
}

func (l *localOnlyLocator) Locate(chunkID uint64, version uint32, pt chunkformat.PartType) (bool, chunkconn.NetworkAddress, error) {
	return true, chunkconn.NetworkAddress{}, nil
}

func readAllBlocks(t *testing.T, conn net.Conn) ([]byte, status.Code) {
	t.Helper()
	var out []byte
	for {
		opType, body, err := wireproto.ReadFrame(conn)
		require.NoError(t, err)
		switch opType {
		case wireproto.OpCstoclReadData:
			blk, err := wireproto.DecodeReadData(body)
			require.NoError(t, err)
			require.Equal(t, chunkformat.BlockCRC(blk.Payload), blk.CRC)
			out = append(out, blk.Payload...)
		case wireproto.OpCstoclReadStatus:
			st, err := wireproto.DecodeReadStatus(body)
			require.NoError(t, err)
			return out, st.Status
		default:
			t.Fatalf("unexpected frame %v", opType)
		}
	}
}

func TestHandleReadLocalStandardChunk(t *testing.T) {
	locator := &localOnlyLocator{avail: erasure.Available{Standard: true}}
	s, store := newTestServer(t, locator, nil)

	payload := make([]byte, chunkformat.BlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	writeCommittedPart(t, store, 10, 1, chunkformat.Standard(), payload)

	client, server := net.Pipe()
	defer client.Close()
	go s.HandleRead(context.Background(), server, wireproto.ReadRequest{
		ChunkID: 10, Version: 1, PartType: chunkformat.Standard(),
		Offset: 0, Size: uint32(len(payload)),
	})

	got, code := readAllBlocks(t, client)
	require.Equal(t, status.OK, code)
	require.Equal(t, payload, got)
}

func TestHandleReadNoViablePlanReturnsNotFound(t *testing.T) {
	locator := &localOnlyLocator{avail: erasure.Available{}}
	s, _ := newTestServer(t, locator, nil)

	client, server := net.Pipe()
	defer client.Close()
	go s.HandleRead(context.Background(), server, wireproto.ReadRequest{
		ChunkID: 11, Version: 1, PartType: chunkformat.Standard(),
		Offset: 0, Size: chunkformat.BlockSize,
	})

	_, code := readAllBlocks(t, client)
	require.Equal(t, status.ErrNotFound, code)
}

func TestHandleReadXORFullStripeReconstructsInterleavedData(t *testing.T) {
	locator := &localOnlyLocator{avail: erasure.Available{
		XORLevel: 2,
		XORParts: map[int]bool{1: true, 2: true},
	}}
	s, store := newTestServer(t, locator, nil)

	block0 := make([]byte, chunkformat.BlockSize)
	block1 := make([]byte, chunkformat.BlockSize)
	for i := range block0 {
		block0[i] = byte(i)
		block1[i] = byte(255 - i)
	}
	writeCommittedPart(t, store, 20, 1, chunkformat.XORData(2, 1), block0)
	writeCommittedPart(t, store, 20, 1, chunkformat.XORData(2, 2), block1)

	client, server := net.Pipe()
	defer client.Close()
	go s.HandleRead(context.Background(), server, wireproto.ReadRequest{
		ChunkID: 20, Version: 1, PartType: chunkformat.XORData(2, 1),
		Offset: 0, Size: uint32(2 * chunkformat.BlockSize),
	})

	got, code := readAllBlocks(t, client)
	require.Equal(t, status.OK, code)
	require.Equal(t, append(append([]byte{}, block0...), block1...), got)
}

func TestHandleReadXORDegradedReconstructsFromParity(t *testing.T) {
	block0 := make([]byte, chunkformat.BlockSize)
	block1 := make([]byte, chunkformat.BlockSize)
	parity := make([]byte, chunkformat.BlockSize)
	for i := range block0 {
		block0[i] = byte(i)
		block1[i] = byte(255 - i)
		parity[i] = block0[i] ^ block1[i]
	}

	locator := &localOnlyLocator{avail: erasure.Available{
		XORLevel:  2,
		XORParts:  map[int]bool{2: true},
		XORParity: true,
	}}
	s, store := newTestServer(t, locator, nil)
	writeCommittedPart(t, store, 30, 1, chunkformat.XORData(2, 2), block1)
	writeCommittedPart(t, store, 30, 1, chunkformat.XORParity(2), parity)

	client, server := net.Pipe()
	defer client.Close()
	go s.HandleRead(context.Background(), server, wireproto.ReadRequest{
		ChunkID: 30, Version: 1, PartType: chunkformat.XORData(2, 1),
		Offset: 0, Size: uint32(2 * chunkformat.BlockSize),
	})

	got, code := readAllBlocks(t, client)
	require.Equal(t, status.OK, code)
	require.Equal(t, append(append([]byte{}, block0...), block1...), got)
}

func TestHandleReadLocalCRCFailureDegradesToParity(t *testing.T) {
	block0 := make([]byte, chunkformat.BlockSize)
	block1 := make([]byte, chunkformat.BlockSize)
	parity := make([]byte, chunkformat.BlockSize)
	for i := range block0 {
		block0[i] = byte(i)
		block1[i] = byte(255 - i)
		parity[i] = block0[i] ^ block1[i]
	}

	// Both data parts and parity are reported available, so the first
	// plan attempt reads part 1 directly rather than reconstructing it.
	locator := &localOnlyLocator{avail: erasure.Available{
		XORLevel:  2,
		XORParts:  map[int]bool{1: true, 2: true},
		XORParity: true,
	}}
	s, store := newTestServer(t, locator, nil)
	writeCommittedPart(t, store, 40, 1, chunkformat.XORData(2, 1), block0)
	writeCommittedPart(t, store, 40, 1, chunkformat.XORData(2, 2), block1)
	writeCommittedPart(t, store, 40, 1, chunkformat.XORParity(2), parity)

	entry, err := store.Open(40, 1, chunkformat.XORData(2, 1))
	require.NoError(t, err)
	path := entry.Path
	store.Close(entry)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, int64(chunkformat.DataOffset(chunkformat.XORData(2, 1))))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	client, server := net.Pipe()
	defer client.Close()
	go s.HandleRead(context.Background(), server, wireproto.ReadRequest{
		ChunkID: 40, Version: 1, PartType: chunkformat.XORData(2, 1),
		Offset: 0, Size: uint32(2 * chunkformat.BlockSize),
	})

	got, code := readAllBlocks(t, client)
	require.Equal(t, status.OK, code)
	require.Equal(t, append(append([]byte{}, block0...), block1...), got)
}

func TestHandleGetChunkBlocksReportsLocalBlockCount(t *testing.T) {
	locator := &localOnlyLocator{avail: erasure.Available{Standard: true}}
	s, store := newTestServer(t, locator, nil)

	block0 := make([]byte, chunkformat.BlockSize)
	block1 := make([]byte, chunkformat.BlockSize)
	writeCommittedPart(t, store, 50, 1, chunkformat.Standard(), block0)
	creator, err := store.Open(50, 1, chunkformat.Standard())
	require.NoError(t, err)
	_, err = store.Write(creator, 1, 0, len(block1), block1)
	require.NoError(t, err)
	store.Close(creator)

	client, server := net.Pipe()
	defer client.Close()
	go s.HandleGetChunkBlocks(server, wireproto.GetChunkBlocks{ChunkID: 50, Version: 1, PartType: chunkformat.Standard()})

	opType, body, err := wireproto.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wireproto.OpCstoclChunkBlocks, opType)
	reply, err := wireproto.DecodeChunkBlocks(body)
	require.NoError(t, err)
	require.Equal(t, status.OK, reply.Status)
	require.Equal(t, uint32(2), reply.Blocks)
}

func TestHandleTestChunkReportsCRCMismatchToFailureHook(t *testing.T) {
	locator := &localOnlyLocator{avail: erasure.Available{Standard: true}}
	s, store := newTestServer(t, locator, nil)

	var reported []int
	store.SetCRCFailureReporter(func(key diskstore.ChunkKey, version uint32, blockIndex int) {
		reported = append(reported, blockIndex)
	})

	block := make([]byte, chunkformat.BlockSize)
	writeCommittedPart(t, store, 60, 1, chunkformat.Standard(), block)

	entry, err := store.Open(60, 1, chunkformat.Standard())
	require.NoError(t, err)
	path := entry.Path
	store.Close(entry)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, int64(chunkformat.DataOffset(chunkformat.Standard())))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s.HandleTestChunk(wireproto.TestChunk{ChunkID: 60, Version: 1, PartType: chunkformat.Standard()})
	require.Equal(t, []int{0}, reported)
}

// remoteLocator answers Locate for one designated part as remote,
// everything else as local.
type remoteLocator struct {
	avail      erasure.Available
	remotePart chunkformat.PartType
	peer       chunkconn.NetworkAddress
}

func (l *remoteLocator) Availability(chunkID uint64, version uint32) (erasure.Available, error) {
	return l.avail, nil
}

func (l *remoteLocator) Locate(chunkID uint64, version uint32, pt chunkformat.PartType) (bool, chunkconn.NetworkAddress, error) {
	if pt == l.remotePart {
		return false, l.peer, nil
	}
	return true, chunkconn.NetworkAddress{}, nil
}

type pipeConnector struct {
	serve func(conn net.Conn)
}

func (c *pipeConnector) Dial(ctx context.Context, addr chunkconn.NetworkAddress, timeout time.Duration) (net.Conn, error) {
	client, server := net.Pipe()
	go c.serve(server)
	return client, nil
}

func servePeerRead(t *testing.T, conn net.Conn, block []byte) {
	t.Helper()
	opType, body, err := wireproto.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, wireproto.OpCltocsRead, opType)
	req, err := wireproto.DecodeReadRequest(body)
	require.NoError(t, err)

	data := wireproto.ReadData{
		ChunkID: req.ChunkID, PartType: req.PartType,
		BlockIndex: 0, Offset: req.Offset, Size: uint32(len(block)),
		CRC: chunkformat.BlockCRC(block), Payload: block,
	}
	body, err = data.Encode()
	require.NoError(t, err)
	require.NoError(t, wireproto.WriteFrame(conn, wireproto.OpCstoclReadData, body))

	okStatus := wireproto.ReadStatus{ChunkID: req.ChunkID, PartType: req.PartType, Status: 0}
	sb, err := okStatus.Encode()
	require.NoError(t, err)
	require.NoError(t, wireproto.WriteFrame(conn, wireproto.OpCstoclReadStatus, sb))
}

func TestHandleReadFetchesMissingPartFromPeer(t *testing.T) {
	remotePart := chunkformat.XORData(2, 2)
	block0 := make([]byte, chunkformat.BlockSize)
	block1 := make([]byte, chunkformat.BlockSize)
	for i := range block0 {
		block0[i] = byte(i)
		block1[i] = byte(255 - i)
	}

	connector := &pipeConnector{serve: func(conn net.Conn) { servePeerRead(t, conn, block1) }}
	locator := &remoteLocator{
		avail:      erasure.Available{XORLevel: 2, XORParts: map[int]bool{1: true, 2: true}},
		remotePart: remotePart,
		peer:       chunkconn.NetworkAddress{IP: 0x7F000001, Port: 9422},
	}
	s, store := newTestServer(t, locator, connector)
	writeCommittedPart(t, store, 40, 1, chunkformat.XORData(2, 1), block0)

	client, server := net.Pipe()
	defer client.Close()
	go s.HandleRead(context.Background(), server, wireproto.ReadRequest{
		ChunkID: 40, Version: 1, PartType: chunkformat.XORData(2, 1),
		Offset: 0, Size: uint32(2 * chunkformat.BlockSize),
	})

	got, code := readAllBlocks(t, client)
	require.Equal(t, status.OK, code)
	require.Equal(t, append(append([]byte{}, block0...), block1...), got)
}

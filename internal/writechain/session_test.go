package writechain

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/chunkformat"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/jobpool"
	"chunkserver/internal/status"
	"chunkserver/internal/wireproto"
)

// pipeConnector is a ChunkConnector that hands back one end of a
// net.Pipe and runs downstream on the other end, so chain tests never
// touch a real socket.
type pipeConnector struct {
	downstream func(conn net.Conn)
	failDial   bool
}

func (c *pipeConnector) Dial(ctx context.Context, addr chunkconn.NetworkAddress, timeout time.Duration) (net.Conn, error) {
	if c.failDial {
		return nil, context.DeadlineExceeded
	}
	client, server := net.Pipe()
	go c.downstream(server)
	return client, nil
}

func newTestSession(t *testing.T, connector chunkconn.ChunkConnector) (*Session, *diskstore.Store, *jobpool.Pool) {
	t.Helper()
	store := diskstore.New(diskstore.Config{DiskRoots: []string{t.TempDir()}, Now: time.Now})
	pool, err := jobpool.New(jobpool.Config{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	RegisterHandlers(pool)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pool.Run(ctx)

	sess := NewSession(Config{Store: store, Pool: pool, Connector: connector})
	return sess, store, pool
}

func acceptOneDownstreamHop(t *testing.T, conn net.Conn) {
	t.Helper()
	opType, body, err := wireproto.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, wireproto.OpCltocsWriteInit, opType)
	init, err := wireproto.DecodeWriteInit(body)
	require.NoError(t, err)

	ack := wireproto.WriteStatus{ChunkID: init.ChunkID, PartType: init.PartType, Status: status.OK}
	ackBody, err := ack.Encode()
	require.NoError(t, err)
	require.NoError(t, wireproto.WriteFrame(conn, wireproto.OpCstoclWriteStatus, ackBody))

	for {
		opType, body, err := wireproto.ReadFrame(conn)
		if err != nil {
			return
		}
		switch opType {
		case wireproto.OpCltocsWriteData:
			msg, err := wireproto.DecodeWriteData(body)
			require.NoError(t, err)
			reply := wireproto.WriteStatus{ChunkID: msg.ChunkID, WriteID: msg.WriteID, PartType: init.PartType, Status: status.OK}
			rb, _ := reply.Encode()
			require.NoError(t, wireproto.WriteFrame(conn, wireproto.OpCstoclWriteStatus, rb))
		case wireproto.OpCltocsWriteEnd:
			reply := wireproto.WriteStatus{ChunkID: init.ChunkID, PartType: init.PartType, Status: status.OK}
			rb, _ := reply.Encode()
			require.NoError(t, wireproto.WriteFrame(conn, wireproto.OpCstoclWriteStatus, rb))
			return
		}
	}
}

func TestWriteChainSingleHopRoundTrip(t *testing.T) {
	sess, store, _ := newTestSession(t, nil)

	init := wireproto.WriteInit{ChunkID: 1, Version: 1, PartType: chunkformat.Standard()}
	code := sess.HandleInit(context.Background(), init)
	require.Equal(t, status.OK, code)

	payload := make([]byte, chunkformat.BlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	data := wireproto.WriteData{
		ChunkID: 1, WriteID: 1, Block: 0, Offset: 0,
		Size: uint32(len(payload)), CRC: chunkformat.BlockCRC(payload), Payload: payload,
	}
	raw, err := data.Encode()
	require.NoError(t, err)

	code = sess.HandleData(context.Background(), data, raw)
	require.Equal(t, status.OK, code)

	code = sess.HandleEnd(context.Background(), wireproto.WriteEnd{ChunkID: 1})
	require.Equal(t, status.OK, code)

	entry, err := store.Open(1, 1, chunkformat.Standard())
	require.NoError(t, err)
	got, err := store.Read(entry, 0, len(payload), 0, 0)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWriteChainForwardsToDownstreamHop(t *testing.T) {
	connector := &pipeConnector{downstream: func(conn net.Conn) { acceptOneDownstreamHop(t, conn) }}
	sess, _, _ := newTestSession(t, connector)

	init := wireproto.WriteInit{
		ChunkID: 2, Version: 1, PartType: chunkformat.Standard(),
		Chain: []wireproto.NetworkAddress{{IP: 0x7F000001, Port: 9422}},
	}
	code := sess.HandleInit(context.Background(), init)
	require.Equal(t, status.OK, code)

	payload := make([]byte, chunkformat.BlockSize)
	data := wireproto.WriteData{
		ChunkID: 2, WriteID: 1, Block: 0, Offset: 0,
		Size: uint32(len(payload)), CRC: chunkformat.BlockCRC(payload), Payload: payload,
	}
	raw, err := data.Encode()
	require.NoError(t, err)

	code = sess.HandleData(context.Background(), data, raw)
	require.Equal(t, status.OK, code)

	code = sess.HandleEnd(context.Background(), wireproto.WriteEnd{ChunkID: 2})
	require.Equal(t, status.OK, code)
}

func TestWriteChainCRCMismatchAbortsWrite(t *testing.T) {
	sess, _, _ := newTestSession(t, nil)

	init := wireproto.WriteInit{ChunkID: 3, Version: 1, PartType: chunkformat.Standard()}
	require.Equal(t, status.OK, sess.HandleInit(context.Background(), init))

	payload := make([]byte, chunkformat.BlockSize)
	data := wireproto.WriteData{
		ChunkID: 3, WriteID: 1, Block: 0, Offset: 0,
		Size: uint32(len(payload)), CRC: 0xBADC0DE, Payload: payload,
	}
	raw, _ := data.Encode()

	code := sess.HandleData(context.Background(), data, raw)
	require.Equal(t, status.ErrCRCMismatch, code)

	code = sess.HandleEnd(context.Background(), wireproto.WriteEnd{ChunkID: 3})
	require.Equal(t, status.ErrCRCMismatch, code)
}

func TestWriteChainDownstreamDialTimeoutFails(t *testing.T) {
	connector := &pipeConnector{failDial: true}
	sess, _, _ := newTestSession(t, connector)

	init := wireproto.WriteInit{
		ChunkID: 4, Version: 1, PartType: chunkformat.Standard(),
		Chain: []wireproto.NetworkAddress{{IP: 0x7F000001, Port: 9422}},
	}
	code := sess.HandleInit(context.Background(), init)
	require.Equal(t, status.ErrConnectionTimeout, code)
}

func TestWriteChainDownstreamRejectionPropagatesUpstream(t *testing.T) {
	connector := &pipeConnector{downstream: func(conn net.Conn) {
		opType, body, err := wireproto.ReadFrame(conn)
		require.NoError(t, err)
		require.Equal(t, wireproto.OpCltocsWriteInit, opType)
		init, err := wireproto.DecodeWriteInit(body)
		require.NoError(t, err)

		reply := wireproto.WriteStatus{ChunkID: init.ChunkID, PartType: init.PartType, Status: status.ErrNoSpace}
		rb, _ := reply.Encode()
		require.NoError(t, wireproto.WriteFrame(conn, wireproto.OpCstoclWriteStatus, rb))
	}}
	sess, _, _ := newTestSession(t, connector)

	init := wireproto.WriteInit{
		ChunkID: 5, Version: 1, PartType: chunkformat.Standard(),
		Chain: []wireproto.NetworkAddress{{IP: 0x7F000001, Port: 9422}},
	}
	code := sess.HandleInit(context.Background(), init)
	require.Equal(t, status.ErrNoSpace, code)
}

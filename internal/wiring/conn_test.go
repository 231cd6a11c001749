package wiring

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
	"chunkserver/internal/peerstats"
	"chunkserver/internal/readservice"
	"chunkserver/internal/status"
	"chunkserver/internal/wireproto"
)

func newTestHandler(t *testing.T) (*ConnHandler, *diskstore.Store) {
	t.Helper()
	store := diskstore.New(diskstore.Config{DiskRoots: []string{t.TempDir()}, Now: time.Now})
	pool, err := jobpool.New(jobpool.Config{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	readservice.RegisterHandlers(pool)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pool.Run(ctx)

	connector := chunkconn.NewTCPConnector()
	readServer := readservice.NewServer(readservice.Config{
		Store: store, Pool: pool, Connector: connector,
		Locator: &StandaloneLocator{Store: store},
	})
	writeCfg := WriteConfigFor(store, connector, pool, peerstats.New(nil), nil)
	return NewConnHandler(nil, readServer, writeCfg), store
}

func TestConnHandlerRoutesReadFamilyOpcodeToReadService(t *testing.T) {
	handler, store := newTestHandler(t)

	pt := chunkformat.Standard()
	creator, err := store.CreateChunk(99, 1, pt)
	require.NoError(t, err)
	require.NoError(t, creator.Write(0, 0, 5, []byte("hello")))
	require.NoError(t, creator.Commit())

	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handler.Handle(ctx, server)

	body, err := wireproto.GetChunkBlocks{ChunkID: 99, Version: 1, PartType: pt}.Encode()
	require.NoError(t, err)
	require.NoError(t, wireproto.WriteFrame(client, wireproto.OpCltocsGetChunkBlocks, body))

	opType, replyBody, err := wireproto.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wireproto.OpCstoclChunkBlocks, opType)

	reply, err := wireproto.DecodeChunkBlocks(replyBody)
	require.NoError(t, err)
	require.Equal(t, status.OK, reply.Status)
	require.Equal(t, uint32(1), reply.Blocks)
}

func TestConnHandlerRoutesWriteInitToWriteChain(t *testing.T) {
	handler, _ := newTestHandler(t)

	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handler.Handle(ctx, server)

	body, err := wireproto.WriteInit{ChunkID: 5, Version: 1, PartType: chunkformat.Standard()}.Encode()
	require.NoError(t, err)
	require.NoError(t, wireproto.WriteFrame(client, wireproto.OpCltocsWriteInit, body))

	opType, replyBody, err := wireproto.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, wireproto.OpCstoclWriteStatus, opType)

	reply, err := wireproto.DecodeWriteStatus(replyBody)
	require.NoError(t, err)
	require.Equal(t, status.OK, reply.Status)
}

package wiring

import (
	"context"
	"log/slog"
	"net"

	"chunkserver/internal/chunkconn"
	"chunkserver/internal/diskstore"
	"chunkserver/internal/jobpool"
	"chunkserver/internal/peerstats"
	"chunkserver/internal/readservice"
	"chunkserver/internal/wireproto"
	"chunkserver/internal/writechain"
)

// ConnHandler multiplexes a single accepted connection across the read
// service (C7), the write chain (C6) and the wrong-CRC advisory
// receiver (C9): the first frame's opcode decides which family owns
// the rest of the connection. A connection carrying several
// LIZ_CLTOCS_READ/GET_CHUNK_BLOCKS/TEST_CHUNK requests is served frame
// by frame; a LIZ_CLTOCS_WRITE_INIT instead starts the one-shot
// WRITE_INIT..WRITE_END state machine that owns the connection for the
// rest of its life.
type ConnHandler struct {
	logger      *slog.Logger
	readServer  *readservice.Server
	writeConfig writechain.Config
}

func NewConnHandler(logger *slog.Logger, readServer *readservice.Server, writeConfig writechain.Config) *ConnHandler {
	return &ConnHandler{logger: logger, readServer: readServer, writeConfig: writeConfig}
}

func (h *ConnHandler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		opType, body, err := wireproto.ReadFrame(conn)
		if err != nil {
			return
		}

		switch opType {
		case wireproto.OpCltocsWriteInit:
			sess := writechain.NewSession(h.writeConfig)
			writechain.ServeFromFrame(ctx, conn, sess, opType, body)
			return
		default:
			h.readServer.Dispatch(ctx, conn, opType, body)
		}
	}
}

// WriteConfigFor builds the per-connection writechain.Config a new
// Session needs. A fresh Session is created per WRITE_INIT, matching
// spec.md §4.6's "a new Session is created per write".
func WriteConfigFor(store *diskstore.Store, connector chunkconn.ChunkConnector, pool *jobpool.Pool, stats *peerstats.Table, logger *slog.Logger) writechain.Config {
	return writechain.Config{Store: store, Pool: pool, Connector: connector, Stats: stats, Logger: logger}
}

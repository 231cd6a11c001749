package writechain

import (
	"context"
	"errors"
	"io"
	"net"

	"chunkserver/internal/chunkformat"
	"chunkserver/internal/status"
	"chunkserver/internal/wireproto"
)

// Serve drives one upstream connection (from a client or from the
// previous hop in the chain) through a single WRITE_INIT..WRITE_END
// cycle, replying with WriteStatus frames as each step completes.
// Exactly one chunk write happens per call. The process's connection
// handler (wiring.ConnHandler, run by chunkconn.Listen) reads the first
// frame itself and calls ServeFromFrame instead.
func Serve(ctx context.Context, conn net.Conn, sess *Session) {
	opType, body, err := wireproto.ReadFrame(conn)
	if err != nil {
		sess.Close()
		return
	}
	ServeFromFrame(ctx, conn, sess, opType, body)
}

// ServeFromFrame drives the same single WRITE_INIT..WRITE_END cycle as
// Serve, starting from a frame a caller already read off conn — for a
// top-level multiplexer routing several opcode families over one
// accepted connection, which must consume the first frame itself to
// learn which family it belongs to before handing off.
func ServeFromFrame(ctx context.Context, conn net.Conn, sess *Session, opType wireproto.OpType, body []byte) {
	defer sess.Close()

	if opType != wireproto.OpCltocsWriteInit {
		writeStatus(conn, 0, chunkformat.Standard(), status.ErrInvalid, 0)
		return
	}
	init, err := wireproto.DecodeWriteInit(body)
	if err != nil {
		writeStatus(conn, 0, chunkformat.Standard(), status.ErrMalformed, 0)
		return
	}

	code := sess.HandleInit(ctx, init)
	writeStatus(conn, init.ChunkID, init.PartType, code, 0)
	if code != status.OK {
		return
	}

	for {
		opType, body, err := wireproto.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			return
		}

		switch opType {
		case wireproto.OpCltocsWriteData:
			msg, err := wireproto.DecodeWriteData(body)
			if err != nil {
				writeStatus(conn, init.ChunkID, init.PartType, status.ErrMalformed, 0)
				return
			}
			code := sess.HandleData(ctx, msg, body)
			writeStatus(conn, init.ChunkID, init.PartType, code, msg.WriteID)
			if code != status.OK {
				return
			}
		case wireproto.OpCltocsWriteEnd:
			msg, err := wireproto.DecodeWriteEnd(body)
			if err != nil {
				writeStatus(conn, init.ChunkID, init.PartType, status.ErrMalformed, 0)
				return
			}
			code := sess.HandleEnd(ctx, msg)
			writeStatus(conn, init.ChunkID, init.PartType, code, 0)
			return
		default:
			writeStatus(conn, init.ChunkID, init.PartType, status.ErrInvalid, 0)
			return
		}
	}
}

func writeStatus(conn net.Conn, chunkID uint64, pt chunkformat.PartType, code status.Code, writeID uint32) {
	msg := wireproto.WriteStatus{ChunkID: chunkID, WriteID: writeID, PartType: pt, Status: code}
	body, err := msg.Encode()
	if err != nil {
		return
	}
	_ = wireproto.WriteFrame(conn, wireproto.OpCstoclWriteStatus, body)
}

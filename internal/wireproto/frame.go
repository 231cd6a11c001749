// Package wireproto implements the §6 wire framing: a fixed
// type:u32/length:u32 frame header wrapping a big-endian body, plus
// encode/decode for the LIZ_CLTOCS_*/LIZ_CSTOCL_*/LIZ_CSTOMA_* message
// bodies the core touches. Every typed body leads with its own
// per-type protocol version:u32 (spec.md §6: "an optional version:u32
// for typed packets"), separate from any chunk version field the body
// itself carries.
//
// Part-type ids on the wire use chunkformat.PartType's full u32
// WireID, not literally the single byte spec.md §4.6 mentions in
// passing — see the Open Question resolution in DESIGN.md: a u8 cannot
// carry the EC id space (which spec.md §6 itself says starts at 256),
// so the wider encoding is the one actually load-bearing here.
package wireproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameHeaderSize is the fixed type+length prefix of every frame.
const FrameHeaderSize = 8

// maxFrameLength bounds a single frame body, guarding against a
// corrupt/hostile length field causing an unbounded allocation.
const maxFrameLength = 64*1024*1024 + 4096

var ErrFrameTooLarge = errors.New("wireproto: frame length exceeds maximum")

// WriteFrame writes a complete frame: type, length, then body.
func WriteFrame(w io.Writer, opType OpType, body []byte) error {
	var hdr [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(opType))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wireproto: writing frame header: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wireproto: writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one complete frame and returns its type and raw body.
func ReadFrame(r io.Reader) (OpType, []byte, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, fmt.Errorf("wireproto: reading frame header: %w", err)
	}
	opType := OpType(binary.BigEndian.Uint32(hdr[0:4]))
	length := binary.BigEndian.Uint32(hdr[4:8])
	if length > maxFrameLength {
		return 0, nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, length)
	}
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, fmt.Errorf("wireproto: reading frame body: %w", err)
		}
	}
	return opType, body, nil
}

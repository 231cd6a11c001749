package chunkformat

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// Header is the decoded fixed 0..1023 region of a chunk file.
type Header struct {
	Signature Signature
	ChunkID   uint64
	Version   uint32
	PartType  PartType
}

// ReadHeader opens path and decodes its signature, chunk id, version and
// part type, probing both the current and legacy signature as required
// by spec.md §9. Fails with ErrSignatureMismatch if neither probe
// matches, or ErrHeaderTruncated if the file is shorter than the fixed
// header region. The filename is parsed to supply the (k,m,index) an
// EC part's on-disk id byte cannot carry on its own (see
// PartTypeFromDiskID), and to enforce the "header disagrees with
// filename means corrupted" invariant (spec.md §3).
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	buf := make([]byte, headerReserved)
	n, err := f.ReadAt(buf, 0)
	if n < headerReserved {
		if err != nil {
			return Header{}, fmt.Errorf("%w: %v", ErrHeaderTruncated, err)
		}
		return Header{}, ErrHeaderTruncated
	}

	fileID, fileVersion, filePT, ferr := ParseFilename(filepath.Base(path))

	h, err := decodeHeader(buf, filePT, ferr == nil)
	if err != nil {
		return Header{}, err
	}

	if ferr == nil {
		if h.ChunkID != fileID || h.Version != fileVersion {
			return Header{}, fmt.Errorf("%w: header (id=%x version=%x) vs filename (id=%x version=%x)",
				ErrFilenameMismatch, h.ChunkID, h.Version, fileID, fileVersion)
		}
	}

	return h, nil
}

func decodeHeader(buf []byte, ecHint PartType, haveHint bool) (Header, error) {
	if len(buf) < headerReserved {
		return Header{}, ErrHeaderTruncated
	}

	sig := Signature(buf[:SignatureSize])
	switch sig {
	case SignatureCurrent, SignatureLegacy:
	default:
		return Header{}, fmt.Errorf("%w: %q", ErrSignatureMismatch, buf[:SignatureSize])
	}

	cursor := SignatureSize
	chunkID := binary.BigEndian.Uint64(buf[cursor : cursor+8])
	cursor += 8
	version := binary.BigEndian.Uint32(buf[cursor : cursor+4])
	cursor += 4
	partTypeID := buf[cursor]

	var hint *PartType
	if haveHint {
		hint = &ecHint
	}
	pt, err := PartTypeFromDiskID(partTypeID, hint)
	if err != nil {
		return Header{}, err
	}

	return Header{
		Signature: sig,
		ChunkID:   chunkID,
		Version:   version,
		PartType:  pt,
	}, nil
}

// EncodeHeader serializes h into a fresh headerReserved-byte buffer,
// zero-padding the reserved region.
func EncodeHeader(h Header) ([]byte, error) {
	if h.Signature != SignatureCurrent && h.Signature != SignatureLegacy {
		return nil, fmt.Errorf("%w: %q", ErrSignatureMismatch, h.Signature)
	}
	id, err := h.PartType.DiskID()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerReserved)
	copy(buf[:SignatureSize], h.Signature)
	cursor := SignatureSize
	binary.BigEndian.PutUint64(buf[cursor:cursor+8], h.ChunkID)
	cursor += 8
	binary.BigEndian.PutUint32(buf[cursor:cursor+4], h.Version)
	cursor += 4
	buf[cursor] = id
	return buf, nil
}

// WriteHeader writes (or rewrites) the fixed header region of an
// already-open file, without touching the CRC table or block data.
func WriteHeader(f *os.File, h Header) error {
	buf, err := EncodeHeader(h)
	if err != nil {
		return err
	}
	_, err = f.WriteAt(buf, 0)
	return err
}

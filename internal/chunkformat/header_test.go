package chunkformat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func createChunkFile(t *testing.T, sig Signature, id uint64, version uint32, pt PartType) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, Filename(id, version, pt))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Truncate(DataOffset(pt)))
	h := Header{Signature: sig, ChunkID: id, Version: version, PartType: pt}
	require.NoError(t, WriteHeader(f, h))
	return path
}

func TestReadHeaderCurrentSignature(t *testing.T) {
	path := createChunkFile(t, SignatureCurrent, 7, 3, Standard())
	h, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, SignatureCurrent, h.Signature)
	require.Equal(t, uint64(7), h.ChunkID)
	require.Equal(t, uint32(3), h.Version)
	require.Equal(t, Standard(), h.PartType)
}

func TestReadHeaderLegacySignature(t *testing.T) {
	path := createChunkFile(t, SignatureLegacy, 9, 1, Standard())
	h, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, SignatureLegacy, h.Signature)
}

func TestReadHeaderECUsesFilenameForIdentity(t *testing.T) {
	pt := ECPart(4, 2, 3)
	path := createChunkFile(t, SignatureCurrent, 11, 2, pt)
	h, err := ReadHeader(path)
	require.NoError(t, err)
	require.Equal(t, pt, h.PartType)
}

func TestReadHeaderRejectsBadSignature(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk_0000000000000001_00000001.lzc")
	f, err := os.Create(path)
	require.NoError(t, err)
	buf := make([]byte, headerReserved)
	copy(buf, "GARBAGE0")
	_, err = f.WriteAt(buf, 0)
	require.NoError(t, err)
	f.Close()

	_, err = ReadHeader(path)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestReadHeaderRejectsFilenameMismatch(t *testing.T) {
	path := createChunkFile(t, SignatureCurrent, 7, 3, Standard())
	// Rename so the filename disagrees with the header's chunk id.
	dir := filepath.Dir(path)
	newPath := filepath.Join(dir, Filename(8, 3, Standard()))
	require.NoError(t, os.Rename(path, newPath))

	_, err := ReadHeader(newPath)
	require.ErrorIs(t, err, ErrFilenameMismatch)
}

func TestReadHeaderTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk_0000000000000001_00000001.lzc")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))
	_, err := ReadHeader(path)
	require.ErrorIs(t, err, ErrHeaderTruncated)
}

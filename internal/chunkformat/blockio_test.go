package chunkformat

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newOpenChunkFile(t *testing.T, pt PartType) (*os.File, string) {
	t.Helper()
	path := createChunkFile(t, SignatureCurrent, 1, 1, pt)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, path
}

func TestWriteBlockFullThenVerify(t *testing.T) {
	f, _ := newOpenChunkFile(t, Standard())
	data := bytes.Repeat([]byte{'A'}, BlockSize)

	crc, err := WriteBlock(f, Standard(), 0, 0, BlockSize, data)
	require.NoError(t, err)
	require.Equal(t, BlockCRC(data), crc)

	got, err := VerifyBlock(f, Standard(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestWriteBlockPartialPreservesSurroundingBytes(t *testing.T) {
	f, _ := newOpenChunkFile(t, Standard())
	full := bytes.Repeat([]byte{'Z'}, BlockSize)
	_, err := WriteBlock(f, Standard(), 0, 0, BlockSize, full)
	require.NoError(t, err)

	patch := bytes.Repeat([]byte{'P'}, 100)
	crc, err := WriteBlock(f, Standard(), 0, 4096, 100, patch)
	require.NoError(t, err)

	want := append([]byte{}, full...)
	copy(want[4096:4196], patch)
	require.Equal(t, BlockCRC(want), crc)

	got, err := ReadBlock(f, Standard(), 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestVerifyBlockDetectsCRCMismatch(t *testing.T) {
	f, path := newOpenChunkFile(t, Standard())
	data := bytes.Repeat([]byte{'A'}, BlockSize)
	_, err := WriteBlock(f, Standard(), 0, 0, BlockSize, data)
	require.NoError(t, err)

	// Corrupt the stored CRC directly.
	require.NoError(t, UpdateCRCTable(f, 0, 0xBADC0DE))

	_, err = VerifyBlock(f, Standard(), 0, 0)
	require.ErrorIs(t, err, ErrCRCMismatch)
	_ = path
}

func TestWriteBlockRejectsOutOfRangeOffset(t *testing.T) {
	f, _ := newOpenChunkFile(t, Standard())
	_, err := WriteBlock(f, Standard(), 0, BlockSize-10, 100, make([]byte, 100))
	require.ErrorIs(t, err, ErrBlockOutOfRange)
}

func TestXORPartDataOffsetDiffersFromStandard(t *testing.T) {
	require.Equal(t, int64(5120), DataOffset(Standard()))
	require.Equal(t, int64(4096), DataOffset(XORData(2, 1)))
}

func TestBlockOffsetMonotonic(t *testing.T) {
	pt := Standard()
	require.Equal(t, DataOffset(pt), BlockOffset(pt, 0))
	require.Equal(t, DataOffset(pt)+BlockSize, BlockOffset(pt, 1))
	_ = filepath.Separator
}

package chunkformat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilenameRoundTrip(t *testing.T) {
	cases := []struct {
		id      uint64
		version uint32
		pt      PartType
	}{
		{1, 1, Standard()},
		{0xDEADBEEF, 7, Standard()},
		{7, 3, XORData(2, 1)},
		{7, 3, XORData(2, 2)},
		{7, 3, XORParity(2)},
		{42, 5, ECPart(4, 2, 0)},
		{42, 5, ECPart(4, 2, 5)},
	}
	for _, c := range cases {
		name := Filename(c.id, c.version, c.pt)
		require.NotEmpty(t, name)
		gotID, gotVer, gotPT, err := ParseFilename(name)
		require.NoError(t, err)
		require.Equal(t, c.id, gotID)
		require.Equal(t, c.version, gotVer)
		require.Equal(t, c.pt, gotPT)
	}
}

func TestParseFilenameRejectsGarbage(t *testing.T) {
	_, _, _, err := ParseFilename("not_a_chunk_file.lzc")
	require.ErrorIs(t, err, ErrFilenameMismatch)

	_, _, _, err = ParseFilename("chunk_zz_1.lzc")
	require.Error(t, err)
}

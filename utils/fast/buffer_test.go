package fast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	require := require.New(t)
	const N = 100
	extra := []byte{0, 0, 0xff, 9, 0}

	w := NewWriter(make([]byte, 0, N/2))
	for i := byte(0); i < N; i++ {
		w.WriteByte(i)
	}
	require.Len(w.Bytes(), N)
	w.Write(extra)
	require.Len(w.Bytes(), N+len(extra))

	r := NewReader(w.Bytes())
	for i := byte(0); i < N; i++ {
		require.Equal(i, r.ReadByte())
	}
	require.Equal(int(N), r.Position())
	require.False(r.Empty())
	require.Equal(extra, r.Read(len(extra)))
	require.True(r.Empty())
}

func TestReadAliases(t *testing.T) {
	require := require.New(t)

	buf := []byte{1, 2, 3, 4}
	r := NewReader(buf)
	got := r.Read(2)
	got[0] = 9
	require.Equal(byte(9), buf[0])
}

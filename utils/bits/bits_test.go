package bits

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type testWord struct {
	bits int
	v    uint
}

func genTestWords(r *rand.Rand, maxCount int, maxBits int) []testWord {
	count := r.Intn(maxCount)
	words := make([]testWord, count)
	for i := range words {
		if maxBits == 1 {
			words[i].bits = 1
		} else {
			words[i].bits = 1 + r.Intn(maxBits-1)
		}
		words[i].v = uint(r.Intn(1 << words[i].bits))
	}
	return words
}

func TestWriteRead(t *testing.T) {
	require := require.New(t)
	r := rand.New(rand.NewSource(0))

	for try := 0; try < 100; try++ {
		words := genTestWords(r, 200, 16)

		arr := &Array{Bytes: make([]byte, 0, 8)}
		w := NewWriter(arr)
		totalBits := 0
		for _, word := range words {
			w.Write(word.bits, word.v)
			totalBits += word.bits
		}
		require.Equal((totalBits+7)/8, len(arr.Bytes))

		reader := NewReader(arr)
		for _, word := range words {
			require.Equal(word.v, reader.View(word.bits))
			require.Equal(word.v, reader.Read(word.bits))
		}
		require.LessOrEqual(reader.NonReadBits(), 7)
	}
}

func TestViewDoesNotAdvance(t *testing.T) {
	require := require.New(t)

	arr := &Array{}
	w := NewWriter(arr)
	w.Write(5, 0x15)
	w.Write(11, 0x5a5)

	r := NewReader(arr)
	require.Equal(uint(0x15), r.View(5))
	require.Equal(uint(0x15), r.View(5))
	require.Equal(uint(0x15), r.Read(5))
	require.Equal(uint(0x5a5), r.Read(11))
	require.Equal(0, r.NonReadBits())
}

func TestZeroBitsRead(t *testing.T) {
	arr := &Array{Bytes: []byte{0xff}}
	r := NewReader(arr)
	require.Equal(t, uint(0), r.Read(0))
	require.Equal(t, 8, r.NonReadBits())
}

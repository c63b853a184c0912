package cser

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veridian-network/go-veridian/utils/bits"
	"github.com/veridian-network/go-veridian/utils/fast"
)

func newReaderFromWriter(w *Writer) *Reader {
	return &Reader{
		BitsR:  bits.NewReader(w.BitsW.Array),
		BytesR: fast.NewReader(w.BytesW.Bytes()),
	}
}

func TestEmptyRoundTrip(t *testing.T) {
	require := require.New(t)

	buf, err := MarshalBinaryAdapter(func(w *Writer) error {
		return nil
	})
	require.NoError(err)

	err = UnmarshalBinaryAdapter(buf, func(r *Reader) error {
		return nil
	})
	require.NoError(err)
}

func TestIntegersRoundTrip(t *testing.T) {
	require := require.New(t)

	u8Vals := []uint8{0, 1, 0xff}
	u16Vals := []uint16{0, 1, 0xff, 0xffff}
	u32Vals := []uint32{0, 1, 0xffff, 0xffffffff}
	u64Vals := []uint64{0, 1, 0xffffffff, math.MaxUint64}
	i64Vals := []int64{0, 1, -1, math.MinInt64, math.MaxInt64}
	u56Vals := []uint64{0, 1, (1 << 56) - 1}

	w := NewWriter()
	for _, v := range u8Vals {
		w.U8(v)
	}
	for _, v := range u16Vals {
		w.U16(v)
	}
	for _, v := range u32Vals {
		w.U32(v)
	}
	for _, v := range u64Vals {
		w.U64(v)
	}
	for _, v := range i64Vals {
		w.I64(v)
	}
	for _, v := range u56Vals {
		w.U56(v)
	}

	r := newReaderFromWriter(w)
	for _, v := range u8Vals {
		require.Equal(v, r.U8())
	}
	for _, v := range u16Vals {
		require.Equal(v, r.U16())
	}
	for _, v := range u32Vals {
		require.Equal(v, r.U32())
	}
	for _, v := range u64Vals {
		require.Equal(v, r.U64())
	}
	for _, v := range i64Vals {
		require.Equal(v, r.I64())
	}
	for _, v := range u56Vals {
		require.Equal(v, r.U56())
	}
}

func TestMixedRoundTrip(t *testing.T) {
	require := require.New(t)

	payload := []byte{9, 8, 7, 6, 5}
	fixed := []byte{1, 2, 3}
	bigVal := new(big.Int).SetUint64(math.MaxUint64)

	buf, err := MarshalBinaryAdapter(func(w *Writer) error {
		w.Bool(true)
		w.U32(12345)
		w.SliceBytes(payload)
		w.Bool(false)
		w.FixedBytes(fixed)
		w.BigInt(bigVal)
		w.BigInt(new(big.Int))
		return nil
	})
	require.NoError(err)

	err = UnmarshalBinaryAdapter(buf, func(r *Reader) error {
		require.True(r.Bool())
		require.Equal(uint32(12345), r.U32())
		require.Equal(payload, r.SliceBytes(MaxAlloc))
		require.False(r.Bool())
		got := make([]byte, len(fixed))
		r.FixedBytes(got)
		require.Equal(fixed, got)
		require.Equal(bigVal, r.BigInt())
		require.Equal(0, r.BigInt().Sign())
		return nil
	})
	require.NoError(err)
}

func TestNonCanonicalRejected(t *testing.T) {
	require := require.New(t)

	// 2 bytes for a value that fits into 1
	w := NewWriter()
	writeUint64BitCompact(w.BytesW, 5, 2)
	w.BitsW.Write(3, 1)
	r := newReaderFromWriter(w)
	require.PanicsWithValue(ErrNonCanonicalEncoding, func() {
		r.U64()
	})

	// negative zero
	w = NewWriter()
	w.Bool(true)
	w.U64(0)
	r = newReaderFromWriter(w)
	require.PanicsWithValue(ErrNonCanonicalEncoding, func() {
		r.I64()
	})
}

func TestMalformedRejected(t *testing.T) {
	require := require.New(t)

	// truncated blob
	buf, err := MarshalBinaryAdapter(func(w *Writer) error {
		w.U64(math.MaxUint64)
		return nil
	})
	require.NoError(err)
	err = UnmarshalBinaryAdapter(buf[:2], func(r *Reader) error {
		r.U64()
		return nil
	})
	require.Error(err)

	// unconsumed body bytes are non-canonical
	buf, err = MarshalBinaryAdapter(func(w *Writer) error {
		w.U32(7)
		w.U32(8)
		return nil
	})
	require.NoError(err)
	err = UnmarshalBinaryAdapter(buf, func(r *Reader) error {
		r.U32()
		return nil
	})
	require.Equal(ErrNonCanonicalEncoding, err)
}

func TestTooLargeAlloc(t *testing.T) {
	require := require.New(t)

	buf, err := MarshalBinaryAdapter(func(w *Writer) error {
		w.SliceBytes(make([]byte, 100))
		return nil
	})
	require.NoError(err)
	err = UnmarshalBinaryAdapter(buf, func(r *Reader) error {
		r.SliceBytes(10)
		return nil
	})
	require.Error(err)
}

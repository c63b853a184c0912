package inter

import (
	"testing"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func fakeObject(id byte, v Version) *Object {
	return &Object{
		ID:      BytesToObjectID([]byte{id}),
		Version: v,
		Owner: Owner{
			Kind:    OwnerAddress,
			Address: common.BytesToAddress([]byte{id}),
		},
		Payload: []byte{0x01, id},
	}
}

func TestObjectDigestDeterminism(t *testing.T) {
	require := require.New(t)

	a := fakeObject(1, 3)
	b := fakeObject(1, 3)
	require.Equal(a.Digest(), b.Digest())
	require.Equal(a.Ref(), b.Ref())

	// any field change must change the digest
	c := fakeObject(1, 4)
	require.NotEqual(a.Digest(), c.Digest())
	d := fakeObject(2, 3)
	require.NotEqual(a.Digest(), d.Digest())
	e := fakeObject(1, 3)
	e.Payload = []byte{0xff}
	require.NotEqual(a.Digest(), e.Digest())
}

func TestObjectCopy(t *testing.T) {
	require := require.New(t)

	a := fakeObject(1, 1)
	cp := a.Copy()
	cp.Payload[0] = 0xee
	require.NotEqual(a.Payload[0], cp.Payload[0])
}

func TestTransactionDigest(t *testing.T) {
	require := require.New(t)

	tx := &CertifiedTransaction{
		Sender: common.BytesToAddress([]byte{7}),
		Kind:   TxRegular,
		Inputs: []InputRef{
			{ID: BytesToObjectID([]byte{1}), Version: 3, Mode: InputOwned},
		},
		Payload: []byte("transfer"),
	}

	d1 := tx.Digest()

	// the consensus position is not part of the content digest
	cp := tx.Copy()
	cp.ConsensusSeq = 42
	require.Equal(d1, cp.Digest())

	// the payload is
	cp2 := tx.Copy()
	cp2.Payload = []byte("other")
	require.NotEqual(d1, cp2.Digest())
}

func TestHasShared(t *testing.T) {
	require := require.New(t)

	owned := &CertifiedTransaction{
		Inputs: []InputRef{{Mode: InputOwned}},
	}
	require.False(owned.HasShared())

	mixed := &CertifiedTransaction{
		Inputs: []InputRef{{Mode: InputOwned}, {Mode: InputShared}},
	}
	require.True(mixed.HasShared())
}

func TestEffectsDigestDeterminism(t *testing.T) {
	require := require.New(t)

	mk := func() *TransactionEffects {
		return &TransactionEffects{
			TxDigest:     hash.HexToHash("0x01"),
			Epoch:        2,
			ConsensusSeq: 10,
			Status:       ExecStatus{Code: StatusSuccess},
			Mutated: []ObjectRef{
				{ID: BytesToObjectID([]byte{1}), Version: 4, Digest: hash.HexToHash("0x02")},
			},
		}
	}
	require.Equal(mk().Digest(), mk().Digest())

	changed := mk()
	changed.Status = ExecStatus{Code: StatusAborted, AbortCode: AbortVersionMismatch}
	require.NotEqual(mk().Digest(), changed.Digest())
}

func TestAbortEffects(t *testing.T) {
	require := require.New(t)

	tx := &CertifiedTransaction{
		Sender:       common.BytesToAddress([]byte{7}),
		ConsensusSeq: 5,
		Inputs:       []InputRef{{ID: BytesToObjectID([]byte{1}), Version: 3, Mode: InputOwned}},
	}
	fx := AbortEffects(tx, 3, AbortVersionMismatch)
	require.Equal(tx.Digest(), fx.TxDigest)
	require.Equal(uint64(5), fx.ConsensusSeq)
	require.False(fx.Status.IsSuccess())
	require.Equal(AbortVersionMismatch, fx.Status.AbortCode)
	require.Empty(fx.Created)
	require.Empty(fx.Mutated)
	require.Empty(fx.Deleted)
}

func TestCheckpointSummaryLinkage(t *testing.T) {
	require := require.New(t)

	contents := &CheckpointContents{
		Digests:        []hash.Hash{hash.HexToHash("0x0a")},
		EffectsDigests: []hash.Hash{hash.HexToHash("0x0b")},
	}

	s0 := &CheckpointSummary{
		Epoch:         1,
		Seq:           0,
		ContentDigest: contents.ContentDigest(),
		TxCount:       1,
	}
	s1 := &CheckpointSummary{
		Epoch:          1,
		Seq:            1,
		ContentDigest:  contents.ContentDigest(),
		PreviousDigest: s0.Digest(),
		TxCount:        1,
	}
	require.Equal(s0.Digest(), s1.PreviousDigest)
	require.NotEqual(s0.Digest(), s1.Digest())
}

func TestContentDigestOrderSensitive(t *testing.T) {
	require := require.New(t)

	a := &CheckpointContents{
		Digests:        []hash.Hash{hash.HexToHash("0x01"), hash.HexToHash("0x02")},
		EffectsDigests: []hash.Hash{hash.HexToHash("0x0a"), hash.HexToHash("0x0b")},
	}
	b := &CheckpointContents{
		Digests:        []hash.Hash{hash.HexToHash("0x02"), hash.HexToHash("0x01")},
		EffectsDigests: []hash.Hash{hash.HexToHash("0x0b"), hash.HexToHash("0x0a")},
	}
	require.NotEqual(a.ContentDigest(), b.ContentDigest())
}

package inter

import (
	"testing"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/veridian-network/go-veridian/utils/cser"
)

func TestTransactionSerialization(t *testing.T) {
	require := require.New(t)

	txs := []*CertifiedTransaction{
		{
			Sender:       common.HexToAddress("0x01"),
			Kind:         TxRegular,
			ConsensusSeq: 7,
			Time:         1600000000000000000,
			Inputs: []InputRef{
				{ID: BytesToObjectID([]byte{1}), Version: 3, Mode: InputOwned},
				{ID: BytesToObjectID([]byte{2}), Version: 1, Mode: InputShared},
			},
			Payload: []byte("transfer"),
		},
		{
			Sender:       common.HexToAddress("0x02"),
			Kind:         TxEndOfEpoch,
			ConsensusSeq: 8,
			Payload:      []byte{},
		},
	}

	for _, tx := range txs {
		buf, err := cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
			return TransactionMarshalCSER(w, tx)
		})
		require.NoError(err)

		var got *CertifiedTransaction
		err = cser.UnmarshalBinaryAdapter(buf, func(r *cser.Reader) error {
			var err error
			got, err = TransactionUnmarshalCSER(r)
			return err
		})
		require.NoError(err)
		require.Equal(tx.Kind, got.Kind)
		require.Equal(tx.Sender, got.Sender)
		require.Equal(tx.ConsensusSeq, got.ConsensusSeq)
		require.Equal(tx.Time, got.Time)
		require.Equal(tx.Digest(), got.Digest())
	}
}

func TestUnknownKindRejected(t *testing.T) {
	tx := &CertifiedTransaction{Kind: TxKind(99)}
	_, err := cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		return TransactionMarshalCSER(w, tx)
	})
	require.ErrorIs(t, err, ErrUnknownTxKind)
}

func TestEffectsSerialization(t *testing.T) {
	require := require.New(t)

	fx := &TransactionEffects{
		TxDigest:     hash.HexToHash("0x01"),
		Epoch:        4,
		ConsensusSeq: 11,
		Status:       ExecStatus{Code: StatusSuccess},
		Mutated: []ObjectRef{
			{ID: BytesToObjectID([]byte{1}), Version: 5, Digest: hash.HexToHash("0x02")},
		},
		Deleted: []ObjectRef{
			{ID: BytesToObjectID([]byte{2}), Version: 6},
		},
		Dependencies: []hash.Hash{hash.HexToHash("0x03")},
	}

	buf, err := cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		return EffectsMarshalCSER(w, fx)
	})
	require.NoError(err)

	var got *TransactionEffects
	err = cser.UnmarshalBinaryAdapter(buf, func(r *cser.Reader) error {
		var err error
		got, err = EffectsUnmarshalCSER(r)
		return err
	})
	require.NoError(err)
	require.Equal(fx.Digest(), got.Digest())

	aborted := AbortEffects(&CertifiedTransaction{ConsensusSeq: 12}, 4, AbortVersionMismatch)
	buf, err = cser.MarshalBinaryAdapter(func(w *cser.Writer) error {
		return EffectsMarshalCSER(w, aborted)
	})
	require.NoError(err)
	err = cser.UnmarshalBinaryAdapter(buf, func(r *cser.Reader) error {
		var err error
		got, err = EffectsUnmarshalCSER(r)
		return err
	})
	require.NoError(err)
	require.Equal(aborted.Digest(), got.Digest())
	require.Equal(AbortVersionMismatch, got.Status.AbortCode)
}

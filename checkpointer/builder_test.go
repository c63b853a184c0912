package checkpointer

import (
	"testing"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/kvdb/memorydb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/inter"
	"github.com/veridian-network/go-veridian/veridian"
)

// stubEpochs is a scriptable epoch source.
type stubEpochs struct {
	ctx      epochs.Context
	eoe      bool
	nextHash hash.Hash
	sealed   []*inter.CheckpointSummary
}

func newStubEpochs(maxTxs uint32) *stubEpochs {
	rules := veridian.FakeNetRules()
	rules.Checkpoints.MaxCheckpointTxs = maxTxs
	return &stubEpochs{
		ctx: epochs.Context{
			Epoch:           1,
			Rules:           rules,
			FirstCheckpoint: 0,
		},
	}
}

func (s *stubEpochs) Current() epochs.Context      { return s.ctx }
func (s *stubEpochs) EndOfEpochPending() bool      { return s.eoe }
func (s *stubEpochs) NextCommitteeHash() hash.Hash { return s.nextHash }

func (s *stubEpochs) OnSealed(summary *inter.CheckpointSummary) error {
	s.sealed = append(s.sealed, summary.Copy())
	if summary.EndOfEpoch {
		s.eoe = false
		s.ctx.Epoch++
		s.ctx.FirstCheckpoint = summary.Seq + 1
	}
	return nil
}

func executedTx(seq uint64) (*inter.CertifiedTransaction, *inter.TransactionEffects) {
	tx := &inter.CertifiedTransaction{
		Sender:       common.BytesToAddress([]byte{byte(seq)}),
		ConsensusSeq: seq,
		Time:         inter.Timestamp(seq) * 1e9,
		Payload:      []byte{byte(seq)},
	}
	return tx, &inter.TransactionEffects{
		TxDigest:     tx.Digest(),
		Epoch:        1,
		ConsensusSeq: seq,
		Status:       inter.ExecStatus{Code: inter.StatusSuccess},
	}
}

func push(t *testing.T, b *Builder, seqs ...uint64) {
	t.Helper()
	for _, seq := range seqs {
		require.NoError(t, b.Push(executedTx(seq)))
	}
}

func TestSealsAtMaxTxs(t *testing.T) {
	require := require.New(t)
	es := newStubEpochs(3)
	b := NewBuilder(memorydb.New(), es)

	push(t, b, 1, 2)
	require.Empty(es.sealed)

	push(t, b, 3)
	require.Len(es.sealed, 1)
	first := es.sealed[0]
	require.Equal(inter.CheckpointSeq(0), first.Seq)
	require.Equal(uint32(3), first.TxCount)
	require.Equal(hash.Zero, first.PreviousDigest)
	require.False(first.EndOfEpoch)

	push(t, b, 4, 5, 6)
	require.Len(es.sealed, 2)
	second := es.sealed[1]
	require.Equal(inter.CheckpointSeq(1), second.Seq)
	require.Equal(first.Digest(), second.PreviousDigest)

	// sealed checkpoints are durable and re-readable
	got, err := b.Summary(1)
	require.NoError(err)
	require.Equal(second.Digest(), got.Digest())
	cc, err := b.Contents(1)
	require.NoError(err)
	require.Equal(3, cc.Len())
	require.Equal(second.ContentDigest, cc.ContentDigest())
}

func TestSummaryAgreesAcrossValidators(t *testing.T) {
	require := require.New(t)

	// two validators executing the same consensus stream, with the owned
	// lane finishing in different orders
	v1 := NewBuilder(memorydb.New(), newStubEpochs(3))
	v2 := NewBuilder(memorydb.New(), newStubEpochs(3))
	push(t, v1, 1, 2, 3, 4, 5, 6)
	push(t, v2, 4, 5, 6, 1, 2, 3)

	for seq := inter.CheckpointSeq(0); seq <= 1; seq++ {
		s1, err := v1.Summary(seq)
		require.NoError(err)
		s2, err := v2.Summary(seq)
		require.NoError(err)
		require.NotNil(s1)
		require.NotNil(s2)
		require.Equal(s1.Digest(), s2.Digest())
	}

	// the timestamp comes from the consensus stream, not a local clock
	last, err := v1.LastSealed()
	require.NoError(err)
	require.Equal(inter.Timestamp(6)*1e9, last.Time)
	require.NoError(v1.Verify(last))
	require.NoError(v2.Verify(last))
}

func TestRoundBoundarySeals(t *testing.T) {
	require := require.New(t)
	es := newStubEpochs(100)
	b := NewBuilder(memorydb.New(), es)

	push(t, b, 1, 2)
	require.Empty(es.sealed)

	require.NoError(b.SealRound())
	require.Len(es.sealed, 1)
	require.Equal(uint32(2), es.sealed[0].TxCount)
	require.Equal(inter.Timestamp(2)*1e9, es.sealed[0].Time)

	// a boundary with a gap at the front seals nothing
	push(t, b, 4)
	require.NoError(b.SealRound())
	require.Len(es.sealed, 1)

	push(t, b, 3)
	require.NoError(b.SealRound())
	require.Len(es.sealed, 2)
	require.Equal(uint32(2), es.sealed[1].TxCount)
	require.Equal(es.sealed[0].Digest(), es.sealed[1].PreviousDigest)

	next, err := b.NextConsensusSeq()
	require.NoError(err)
	require.Equal(uint64(5), next)
}

func TestOutOfOrderResequenced(t *testing.T) {
	require := require.New(t)
	es := newStubEpochs(3)
	b := NewBuilder(memorydb.New(), es)

	// the owned lane finished 3 and 2 before 1
	push(t, b, 3, 2)
	require.Empty(es.sealed)

	push(t, b, 1)
	require.Len(es.sealed, 1)

	cc, err := b.Contents(0)
	require.NoError(err)
	_, fx1 := executedTx(1)
	_, fx2 := executedTx(2)
	_, fx3 := executedTx(3)
	require.Equal([]hash.Hash{fx1.TxDigest, fx2.TxDigest, fx3.TxDigest}, cc.Digests)
	require.Equal([]hash.Hash{fx1.Digest(), fx2.Digest(), fx3.Digest()}, cc.EffectsDigests)
}

func TestReplaysIgnored(t *testing.T) {
	require := require.New(t)
	es := newStubEpochs(2)
	b := NewBuilder(memorydb.New(), es)

	push(t, b, 1, 1, 1)
	require.Empty(es.sealed)

	push(t, b, 2)
	require.Len(es.sealed, 1)
	require.Equal(uint32(2), es.sealed[0].TxCount)

	// replays of sealed transactions are dropped
	push(t, b, 1, 2)
	require.Len(es.sealed, 1)
	next, err := b.NextConsensusSeq()
	require.NoError(err)
	require.Equal(uint64(3), next)
}

func TestEndOfEpochSealsEarly(t *testing.T) {
	require := require.New(t)
	es := newStubEpochs(100)
	b := NewBuilder(memorydb.New(), es)

	push(t, b, 1, 2)
	require.Empty(es.sealed)

	es.eoe = true
	es.nextHash = hash.HexToHash("0x1234")
	push(t, b, 3)

	require.Len(es.sealed, 1)
	boundary := es.sealed[0]
	require.True(boundary.EndOfEpoch)
	require.Equal(uint32(3), boundary.TxCount)
	require.Equal(es.nextHash, boundary.NextCommitteeHash)

	// the next checkpoint opens the next epoch with no sequence gap
	push(t, b, 4, 5)
	es2 := es.ctx
	require.Equal(boundary.Seq+1, es2.FirstCheckpoint)
	push(t, b, 6, 7, 8) // not enough for maxTxs 100, nothing seals
	require.Len(es.sealed, 1)
}

func TestRecoveryResumesFromHead(t *testing.T) {
	require := require.New(t)
	db := memorydb.New()
	es := newStubEpochs(3)
	b1 := NewBuilder(db, es)
	push(t, b1, 1, 2, 3)
	require.Len(es.sealed, 1)

	// a fresh builder over the same database resumes after the sealed head
	b2 := NewBuilder(db, es)
	next, err := b2.NextConsensusSeq()
	require.NoError(err)
	require.Equal(uint64(4), next)

	last, err := b2.LastSealed()
	require.NoError(err)
	require.Equal(es.sealed[0].Digest(), last.Digest())

	// replayed sealed transactions are ignored, new ones continue the chain
	push(t, b2, 1, 2, 3, 4, 5, 6)
	require.Len(es.sealed, 2)
	require.Equal(es.sealed[0].Digest(), es.sealed[1].PreviousDigest)
}

func TestVerifyDivergenceHalts(t *testing.T) {
	require := require.New(t)
	es := newStubEpochs(2)
	b := NewBuilder(memorydb.New(), es)
	push(t, b, 1, 2)
	require.Len(es.sealed, 1)

	// matching canonical summary passes
	require.NoError(b.Verify(es.sealed[0]))

	// a conflicting summary at the same sequence is fatal
	tampered := es.sealed[0].Copy()
	tampered.ContentDigest = hash.HexToHash("0x0bad")
	err := b.Verify(tampered)
	require.ErrorIs(err, ErrDivergence)
	require.ErrorIs(b.Halted(), ErrDivergence)

	// the builder refuses further work
	err = b.Push(executedTx(3))
	require.ErrorIs(err, ErrDivergence)
}

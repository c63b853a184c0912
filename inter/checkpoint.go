package inter

import (
	"crypto/sha256"

	"github.com/Fantom-foundation/lachesis-base/common/bigendian"
	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/rlp"
)

// CheckpointSeq is a checkpoint sequence number. Sequence numbers are
// strictly increasing with no gaps for the chain's lifetime.
type CheckpointSeq uint64

// Bytes returns the big-endian representation, used for ordered DB keys.
func (s CheckpointSeq) Bytes() []byte {
	return bigendian.Uint64ToBytes(uint64(s))
}

// BytesToCheckpointSeq decodes a big-endian encoded sequence number.
func BytesToCheckpointSeq(b []byte) CheckpointSeq {
	return CheckpointSeq(bigendian.BytesToUint64(b))
}

// CheckpointContents lists the transactions included in a checkpoint, in
// consensus commit order, together with their effects digests.
type CheckpointContents struct {
	Digests        []hash.Hash
	EffectsDigests []hash.Hash
}

// ContentDigest is the accumulator digest over the concatenated effects
// digests. It commits to both membership and order.
func (cc *CheckpointContents) ContentDigest() hash.Hash {
	bb := make([][]byte, 0, len(cc.EffectsDigests)*2)
	for i := range cc.Digests {
		bb = append(bb, cc.Digests[i].Bytes())
	}
	for i := range cc.EffectsDigests {
		bb = append(bb, cc.EffectsDigests[i].Bytes())
	}
	return hash.Of(bb...)
}

// Len returns the number of included transactions.
func (cc *CheckpointContents) Len() int {
	return len(cc.Digests)
}

// CheckpointSummary is the sequenced, digest-linked header of a checkpoint.
// It is terminal once produced and never mutated. PreviousDigest of
// checkpoint N must equal Digest() of checkpoint N-1; a mismatch indicates
// execution divergence and is fatal.
type CheckpointSummary struct {
	Epoch idx.Epoch
	Seq   CheckpointSeq
	// ContentDigest commits to the checkpoint's transaction set and order.
	ContentDigest hash.Hash
	// PreviousDigest links to the summary digest of checkpoint Seq-1.
	// Zero for checkpoint 0.
	PreviousDigest hash.Hash
	TxCount uint32
	// Time is the consensus timestamp of the last included transaction.
	// Validators never stamp local time here; the digest must agree across
	// the whole validator set.
	Time Timestamp

	// EndOfEpoch marks the last checkpoint of an epoch. The next checkpoint
	// opens the next epoch, with no gap between them.
	EndOfEpoch bool
	// NextCommitteeHash commits to the incoming committee. Zero unless
	// EndOfEpoch.
	NextCommitteeHash hash.Hash
}

// Digest returns the summary hash that checkpoint Seq+1 links to.
func (cs *CheckpointSummary) Digest() hash.Hash {
	hasher := sha256.New()
	err := rlp.Encode(hasher, cs)
	if err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}

// Copy creates a deep copy of the summary.
func (cs *CheckpointSummary) Copy() *CheckpointSummary {
	cp := *cs
	return &cp
}

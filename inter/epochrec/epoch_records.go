// Package epochrec defines the durable record written at every epoch
// boundary. The record pins the checkpoint range the epoch owns and the
// committee/rules it ran under, so historical epochs can be verified and
// pruned without replaying them.
package epochrec

import (
	"crypto/sha256"

	"github.com/Fantom-foundation/lachesis-base/hash"
	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/veridian-network/go-veridian/inter"
)

// Record captures an epoch's boundaries once it is sealed. Every checkpoint
// belongs to exactly one epoch: LastCheckpoint of epoch E and
// FirstCheckpoint of epoch E+1 are adjacent sequence numbers.
type Record struct {
	FirstCheckpoint inter.CheckpointSeq
	LastCheckpoint  inter.CheckpointSeq
	// LastCheckpointDigest is the summary digest of the epoch's closing
	// checkpoint, linking the epoch chain to the checkpoint chain.
	LastCheckpointDigest hash.Hash
	// CommitteeHash commits to the validator set that ran the epoch.
	CommitteeHash hash.Hash
	// RulesHash commits to the protocol rules snapshot of the epoch.
	RulesHash hash.Hash
}

// IdxRecord wraps Record with the epoch number it belongs to.
type IdxRecord struct {
	Record
	Idx idx.Epoch
}

// Hash returns a deterministic fingerprint of the record.
func (r Record) Hash() hash.Hash {
	hasher := sha256.New()
	err := rlp.Encode(hasher, &r)
	if err != nil {
		panic("can't hash: " + err.Error())
	}
	return hash.BytesToHash(hasher.Sum(nil))
}
